package membership

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"

	"aclrelay/config"
	"aclrelay/libs/utils"
	"aclrelay/relay"
)

// Tracker maintains the known peer set and link liveness. It is the only
// component that decides to dial, redial or give up on a peer: the relay
// reactor reports link trouble by degrading the link, the tracker turns that
// into reconnect attempts bounded by the configured backoff and budget.
type Tracker struct {
	service.BaseService

	cfg *config.RelayConfig

	sw    *p2p.Switch
	coord *relay.Coordinator

	mtx   sync.Mutex
	peers map[p2p.ID]*trackedPeer
}

type trackedPeer struct {
	addr     *p2p.NetAddress
	attempts int
	nextDial time.Time
	dialing  bool
}

func NewTracker(cfg *config.RelayConfig, sw *p2p.Switch, coord *relay.Coordinator) *Tracker {
	t := &Tracker{
		cfg:   cfg,
		sw:    sw,
		coord: coord,
		peers: make(map[p2p.ID]*trackedPeer),
	}
	t.BaseService = *service.NewBaseService(nil, "Membership", t)
	return t
}

func (t *Tracker) SetLogger(l log.Logger) {
	t.Logger = l
}

func (t *Tracker) OnStart() error {
	go t.monitorRoutine()
	return nil
}

func (t *Tracker) OnStop() {}

// AddPeer registers a relay endpoint ("id@host:port") and dials it. The
// link starts in Connecting and moves through the protocol states as the
// session comes up.
func (t *Tracker) AddPeer(addrString string) error {
	addr, err := p2p.NewNetAddressString(addrString)
	if err != nil {
		return errors.Wrapf(err, "bad peer address %q", addrString)
	}
	if addr.ID == t.sw.NodeInfo().ID() {
		return fmt.Errorf("refusing to track self (%s)", addr.ID)
	}

	t.mtx.Lock()
	if _, exists := t.peers[addr.ID]; exists {
		t.mtx.Unlock()
		return fmt.Errorf("peer %s already tracked", addr.ID)
	}
	t.peers[addr.ID] = &trackedPeer{addr: addr}
	t.mtx.Unlock()

	t.Logger.Info("tracking peer", "peer", addr.ID, "addr", addr)
	go t.dial(addr.ID)
	return nil
}

// RemovePeer forgets the peer and closes its link. This is the only way to
// stop retrying a permanently unreachable peer.
func (t *Tracker) RemovePeer(id p2p.ID) error {
	t.mtx.Lock()
	_, exists := t.peers[id]
	delete(t.peers, id)
	t.mtx.Unlock()

	if !exists {
		return fmt.Errorf("peer %s not tracked", id)
	}

	t.coord.CloseLink(id)
	if peer := t.sw.Peers().Get(id); peer != nil {
		t.sw.StopPeerGracefully(peer)
	}
	t.Logger.Info("removed peer", "peer", id)
	return nil
}

// Peers returns the tracked peer ids.
func (t *Tracker) Peers() []p2p.ID {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	out := make([]p2p.ID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

func (t *Tracker) dial(id p2p.ID) {
	t.mtx.Lock()
	tp, ok := t.peers[id]
	if !ok || tp.dialing {
		t.mtx.Unlock()
		return
	}
	tp.dialing = true
	addr := tp.addr
	t.mtx.Unlock()

	err := t.sw.DialPeerWithAddress(addr)

	t.mtx.Lock()
	defer t.mtx.Unlock()
	tp, ok = t.peers[id]
	if !ok {
		return // removed while dialing
	}
	tp.dialing = false

	if err != nil {
		tp.attempts++
		tp.nextDial = time.Now().Add(t.backoff(tp.attempts))
		t.Logger.Info("dial failed", "peer", id, "attempt", tp.attempts, "err", err)
		return
	}
	tp.attempts = 0
	tp.nextDial = time.Time{}
}

// backoff returns the jittered exponential delay before attempt n+1.
func (t *Tracker) backoff(attempts int) time.Duration {
	base := float64(t.cfg.BackoffBase)
	capped := utils.Min(float64(t.cfg.BackoffMax), base*math.Pow(2, float64(attempts-1)))
	// up to 20% jitter so a partitioned clique does not redial in lockstep
	jitter := capped * 0.2 * rand.Float64()
	return time.Duration(capped + jitter)
}

// monitorRoutine drives liveness pings, timeout detection and reconnects.
func (t *Tracker) monitorRoutine() {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.checkLiveness()
			t.reconnectDue()
		case <-t.Quit():
			return
		}
	}
}

// checkLiveness pings idle links and degrades links that exceeded the ack or
// liveness timeout. Only connected peers are inspected; disconnected ones
// are the reconnect pass's business.
func (t *Tracker) checkLiveness() {
	for _, peer := range t.sw.Peers().List() {
		ls := t.coord.Link(peer.ID())
		if ls == nil {
			continue
		}

		switch {
		case ls.AckOverdue(t.cfg.AckTimeout):
			t.Logger.Error("ack timeout", "peer", peer.ID())
			t.coord.MarkDegraded(peer.ID())
			t.sw.StopPeerForError(peer, relay.ErrAckTimeout)

		case ls.IdleFor() > t.cfg.LivenessTimeout:
			t.Logger.Error("liveness timeout", "peer", peer.ID())
			t.coord.MarkDegraded(peer.ID())
			t.sw.StopPeerForError(peer, relay.ErrLivenessTimeout)

		case ls.IdleFor() > t.cfg.HeartbeatInterval:
			peer.TrySend(relay.RelayStateChannel, relay.EncodePing())
		}
	}
}

// reconnectDue redials tracked peers whose backoff elapsed, dropping peers
// that exhausted a bounded retry budget.
func (t *Tracker) reconnectDue() {
	now := time.Now()

	t.mtx.Lock()
	var due []p2p.ID
	var exhausted []p2p.ID
	for id, tp := range t.peers {
		if tp.dialing || t.sw.Peers().Has(id) {
			continue
		}
		if t.cfg.MaxReconnectAttempts > 0 && tp.attempts >= t.cfg.MaxReconnectAttempts {
			exhausted = append(exhausted, id)
			continue
		}
		if tp.nextDial.Before(now) {
			due = append(due, id)
		}
	}
	for _, id := range exhausted {
		delete(t.peers, id)
	}
	t.mtx.Unlock()

	for _, id := range exhausted {
		t.Logger.Error("retry budget exhausted, closing peer", "peer", id,
			"attempts", t.cfg.MaxReconnectAttempts)
		t.coord.CloseLink(id)
	}
	for _, id := range due {
		go t.dial(id)
	}
}
