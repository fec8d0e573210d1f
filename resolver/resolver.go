package resolver

import (
	"fmt"

	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"aclrelay/acllog"
	"aclrelay/store"
	"aclrelay/types"
)

// UnknownPeerID marks candidates that did not arrive over a peer link
// (local RPC mutations).
const UnknownPeerID uint16 = 0

// EventMutationApplied fires on the event switch whenever the gate applies a
// record to the store. Data is an AppliedEvent.
const EventMutationApplied = "MutationApplied"

type AppliedEvent struct {
	Record   types.MutationRecord
	SenderID uint16
}

// Outcome of resolving one candidate record against the store.
type Outcome int

const (
	// Applied: the store was updated; the record should relay onward.
	Applied Outcome = iota
	// Superseded: a strictly newer version already exists locally.
	Superseded
	// Stale: exactly this version was already applied (duplicate delivery).
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case Superseded:
		return "Superseded"
	case Stale:
		return "Stale"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type candidate struct {
	record   types.MutationRecord
	senderID uint16
	resultCh chan result
}

type result struct {
	outcome Outcome
	err     error
}

// Resolver is the single serialization gate for all entry mutations. Peer
// link routines and the RPC layer submit candidate records here and never
// touch the store directly; one goroutine owns the store handle, so the
// last-writer-wins merge needs no locking and applies are deterministic
// regardless of arrival order.
type Resolver struct {
	service.BaseService

	store store.Store
	log   *acllog.Log
	evsw  events.EventSwitch

	queue  chan candidate
	metric *resolverMetric
}

func NewResolver(st store.Store, l *acllog.Log, evsw events.EventSwitch) *Resolver {
	r := &Resolver{
		store:  st,
		log:    l,
		evsw:   evsw,
		queue:  make(chan candidate, 256),
		metric: newResolverMetric(),
	}
	r.BaseService = *service.NewBaseService(nil, "Resolver", r)
	return r
}

func (r *Resolver) SetLogger(l log.Logger) {
	r.Logger = l
}

func (r *Resolver) OnStart() error {
	go r.gateRoutine()
	return nil
}

func (r *Resolver) OnStop() {}

// Submit hands a candidate record to the gate and waits for the outcome. On
// Applied the record is written to the store and, for remote candidates,
// inserted into the relay log with senderID marked so it is never echoed
// back. senderID is UnknownPeerID for local mutations.
func (r *Resolver) Submit(record types.MutationRecord, senderID uint16) (Outcome, error) {
	if err := record.ValidateBasic(); err != nil {
		return Stale, err
	}

	resultCh := make(chan result, 1)
	select {
	case r.queue <- candidate{record: record, senderID: senderID, resultCh: resultCh}:
	case <-r.Quit():
		return Stale, service.ErrNotStarted
	}

	select {
	case res := <-resultCh:
		return res.outcome, res.err
	case <-r.Quit():
		return Stale, service.ErrNotStarted
	}
}

// Metric returns the gate's metric item for registration.
func (r *Resolver) Metric() *resolverMetric {
	return r.metric
}

func (r *Resolver) gateRoutine() {
	for {
		select {
		case cand := <-r.queue:
			outcome := r.apply(cand)
			cand.resultCh <- result{outcome: outcome}
		case <-r.Quit():
			return
		}
	}
}

// apply performs the merge for one candidate. The store is only reachable
// from the gate goroutine. Store failures are fatal: correctness cannot be
// guaranteed on top of an unreliable store.
func (r *Resolver) apply(cand candidate) Outcome {
	record := cand.record

	existing, err := r.store.Get(record.Key)
	if err != nil {
		r.Logger.Error("store read failed, cannot continue", "record", record, "err", err)
		panic(fmt.Sprintf("acl store read failed for %v: %v", record.Key, err))
	}

	if existing != nil {
		if existing.Version.Equal(record.Version) {
			r.markRejectedSender(cand)
			r.metric.MarkStale()
			return Stale
		}
		if existing.Version.Dominates(record.Version) {
			r.markRejectedSender(cand)
			r.metric.MarkSuperseded()
			return Superseded
		}
		if !record.Version.Dominates(existing.Version) {
			// the merge is total over well-formed versions; reaching here is
			// an invariant violation
			r.Logger.Error("conflict resolution is not total",
				"record", record, "existing", existing)
			panic(fmt.Sprintf("unresolvable conflict: record %v vs existing %v", record, existing))
		}
	}

	if err := r.store.Put(record.Entry()); err != nil {
		r.Logger.Error("store write failed, cannot continue", "record", record, "err", err)
		panic(fmt.Sprintf("acl store write failed for %v: %v", record.Key, err))
	}

	if cand.senderID != UnknownPeerID {
		if _, err := r.log.AddRemote(record, cand.senderID); err != nil {
			r.Logger.Error("relay log write failed, cannot continue", "record", record, "err", err)
			panic(fmt.Sprintf("relay log write failed for %v: %v", record.Key, err))
		}
	}

	r.metric.MarkApplied()
	r.Logger.Debug("applied mutation", "record", record, "sender", cand.senderID)

	if r.evsw != nil {
		r.evsw.FireEvent(EventMutationApplied, AppliedEvent{
			Record:   record,
			SenderID: cand.senderID,
		})
	}
	return Applied
}

// markRejectedSender records the sender on the log record of a rejected
// candidate. The peer holds the record either way, so without the mark the
// send routine would push it straight back.
func (r *Resolver) markRejectedSender(cand candidate) {
	if cand.senderID != UnknownPeerID {
		r.log.MarkSender(cand.record.ID(), cand.senderID)
	}
}
