package relay

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	"aclrelay/acllog"
	"aclrelay/config"
	"aclrelay/resolver"
	"aclrelay/types"
)

const coordinatorListenerID = "relay-coordinator"

// Coordinator owns the set of peer link states and the global relay
// bookkeeping: which records were recently seen (dedup for cyclic
// topologies), which records every peer has acknowledged (log GC), and how
// far the peer set has converged on the local log.
//
// Per-peer send routines and reactor callbacks mutate only their own link
// state; the coordinator never serializes sends across links, so one failing
// link cannot block the others.
type Coordinator struct {
	cfg *config.RelayConfig

	log   *acllog.Log
	links *cmap.CMap // string(p2p.ID) -> *linkState

	// recent is the bounded recent-record cache. The relay log itself dedups
	// records it still holds; this cache additionally covers records that
	// were already pruned, so a late duplicate cannot re-enter the log and
	// storm a cyclic topology.
	recent *lru.Cache

	metric *relayMetric
	logger log.Logger
}

func NewCoordinator(cfg *config.RelayConfig, l *acllog.Log, evsw events.EventSwitch, logger log.Logger) *Coordinator {
	recent, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		panic(err) // only fails on non-positive size, caught by config validation
	}

	co := &Coordinator{
		cfg:    cfg,
		log:    l,
		links:  cmap.NewCMap(),
		recent: recent,
		metric: newRelayMetric(),
		logger: logger,
	}

	if evsw != nil {
		evsw.AddListenerForEvent(coordinatorListenerID, resolver.EventMutationApplied,
			func(data events.EventData) {
				co.metric.MarkReceived()
			})
	}
	return co
}

func (co *Coordinator) SetLogger(l log.Logger) {
	co.logger = l
}

// InitLink registers a fresh link state for peer, replacing any degraded
// leftover from a previous session.
func (co *Coordinator) InitLink(peerID p2p.ID, sendID uint16) *linkState {
	ls := newLinkState(peerID, sendID)
	co.links.Set(string(peerID), ls)
	co.markPeerGauge()
	return ls
}

// Link returns the link state for peer, nil when unknown.
func (co *Coordinator) Link(peerID p2p.ID) *linkState {
	v := co.links.Get(string(peerID))
	if v == nil {
		return nil
	}
	return v.(*linkState)
}

// MarkDegraded flips the link to Degraded but keeps it visible; the
// membership layer decides whether to reconnect or drop it.
func (co *Coordinator) MarkDegraded(peerID p2p.ID) {
	if ls := co.Link(peerID); ls != nil {
		ls.setStatus(Degraded)
		co.markPeerGauge()
	}
}

// CloseLink marks the link Closed and forgets it after drain.
func (co *Coordinator) CloseLink(peerID p2p.ID) {
	if ls := co.Link(peerID); ls != nil {
		ls.setStatus(Closed)
	}
	co.links.Delete(string(peerID))
	co.markPeerGauge()
}

// SeenRecently reports whether the record was handled within the dedup
// window.
func (co *Coordinator) SeenRecently(id types.RecordID) bool {
	seen := co.recent.Contains(id)
	if seen {
		co.metric.MarkDedupHit()
	}
	return seen
}

// MarkSeen records the id in the dedup cache. Only handled records are
// marked: a record that failed to resolve must stay eligible for redelivery.
func (co *Coordinator) MarkSeen(id types.RecordID) {
	co.recent.Add(id, struct{}{})
}

// Statuses returns a snapshot of every tracked link.
func (co *Coordinator) Statuses() []LinkStatus {
	out := make([]LinkStatus, 0, co.links.Size())
	for _, v := range co.links.Values() {
		out = append(out, v.(*linkState).snapshot())
	}
	return out
}

// ConvergenceStatus returns the fraction of tracked peers whose acknowledged
// watermark covers the local log tails. Observability only.
func (co *Coordinator) ConvergenceStatus() float64 {
	links := co.links.Values()
	if len(links) == 0 {
		return 1.0
	}

	tails := co.log.Tails()
	converged := 0
	for _, v := range links {
		if v.(*linkState).Acked().CoversAll(tails) {
			converged++
		}
	}
	f := float64(converged) / float64(len(links))
	co.metric.MarkConvergence(f)
	return f
}

// AckedByAll returns the pointwise minimum of every tracked peer's
// acknowledged watermark: what is safe to stop relaying. Empty when there
// are no peers, so a lone node prunes by retention only.
func (co *Coordinator) AckedByAll() types.Watermark {
	links := co.links.Values()
	if len(links) == 0 {
		return types.NewWatermark()
	}

	min := links[0].(*linkState).Acked()
	for _, v := range links[1:] {
		acked := v.(*linkState).Acked()
		for origin, counter := range min {
			if acked.Get(origin) < counter {
				min[origin] = acked.Get(origin)
			}
		}
		// origins missing from min are implicitly 0 already
	}
	return min
}

// Metric returns the relay metric item for registration.
func (co *Coordinator) Metric() *relayMetric {
	return co.metric
}

func (co *Coordinator) markPeerGauge() {
	total := 0
	synced := 0
	for _, v := range co.links.Values() {
		total++
		if v.(*linkState).Status() == Synced {
			synced++
		}
	}
	co.metric.MarkPeers(total, synced)
}
