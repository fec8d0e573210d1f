package relay

import (
	"sync"
	"time"

	"github.com/tendermint/tendermint/p2p"

	"aclrelay/types"
)

// Status is the per-peer-link protocol state.
type Status int

const (
	// Connecting: the peer is known but the transport session is not up yet.
	Connecting Status = iota
	// Handshaking: transport up, our handshake sent, waiting for theirs.
	Handshaking
	// Syncing: backlog transfer in progress.
	Syncing
	// Synced: backlog drained; new mutations are pushed as they appear.
	Synced
	// Degraded: transport or protocol failure; reconnect pending.
	Degraded
	// Closed: torn down for good.
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Syncing:
		return "Syncing"
	case Synced:
		return "Synced"
	case Degraded:
		return "Degraded"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// linkState is the engine's view of one peer link. It is created by the
// coordinator and mutated only by that peer's reactor callbacks and send
// routine.
type linkState struct {
	peerID p2p.ID
	sendID uint16 // send-routine id, used in relay-log sender marks

	mtx       sync.Mutex
	status    Status
	nodeID    types.NodeID    // peer's origin id, learned at handshake
	acked     types.Watermark // highest acknowledged version per origin; monotone
	syncGoal  types.Watermark // local log tails at handshake; Synced once acked covers it
	handshake chan struct{}   // closed when the peer's handshake arrives

	// outstanding pushes, for the ack timeout
	unacked      map[types.NodeID]int64 // highest pushed but unacked counter per origin
	firstUnacked time.Time

	lastRecv time.Time // any inbound traffic; liveness reference

	strikes int // consecutive malformed messages
}

func newLinkState(peerID p2p.ID, sendID uint16) *linkState {
	return &linkState{
		peerID:    peerID,
		sendID:    sendID,
		status:    Connecting,
		acked:     types.NewWatermark(),
		unacked:   make(map[types.NodeID]int64),
		handshake: make(chan struct{}),
		lastRecv:  time.Now(),
	}
}

func (ls *linkState) Status() Status {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	return ls.status
}

func (ls *linkState) setStatus(s Status) {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	if ls.status == Closed {
		return
	}
	ls.status = s
}

// beginHandshake moves the link out of Connecting once the transport session
// is up and our handshake has been sent.
func (ls *linkState) beginHandshake() {
	ls.setStatus(Handshaking)
}

// peerHandshake records the peer's identity and watermark and releases the
// send routine. Safe against duplicate handshakes.
func (ls *linkState) peerHandshake(nodeID types.NodeID, w types.Watermark, syncGoal types.Watermark) {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	ls.nodeID = nodeID
	ls.acked.Merge(w)
	if ls.syncGoal == nil {
		ls.syncGoal = syncGoal
	}
	if ls.status == Handshaking || ls.status == Connecting {
		ls.status = Syncing
		if ls.acked.CoversAll(ls.syncGoal) {
			ls.status = Synced
		}
	}

	select {
	case <-ls.handshake:
	default:
		close(ls.handshake)
	}
}

// HandshakeDone returns a channel closed once the peer's handshake arrived.
func (ls *linkState) HandshakeDone() <-chan struct{} {
	return ls.handshake
}

// observeAck raises the acked watermark and clears covered outstanding
// pushes. Flips Syncing to Synced when the sync goal is covered.
func (ls *linkState) observeAck(origin types.NodeID, counter int64) {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	ls.acked.Observe(origin, counter)

	if c, ok := ls.unacked[origin]; ok && counter >= c {
		delete(ls.unacked, origin)
		if len(ls.unacked) == 0 {
			ls.firstUnacked = time.Time{}
		}
	}

	if ls.status == Syncing && ls.acked.CoversAll(ls.syncGoal) {
		ls.status = Synced
	}
}

// observeWatermark merges a cumulative ack.
func (ls *linkState) observeWatermark(w types.Watermark) {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	ls.acked.Merge(w)
	for origin, counter := range ls.unacked {
		if w[origin] >= counter {
			delete(ls.unacked, origin)
		}
	}
	if len(ls.unacked) == 0 {
		ls.firstUnacked = time.Time{}
	}
	if ls.status == Syncing && ls.acked.CoversAll(ls.syncGoal) {
		ls.status = Synced
	}
}

// covers reports whether the peer already acknowledged v.
func (ls *linkState) covers(v types.Version) bool {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	if ls.acked.Covers(v) {
		return true
	}
	// pushed but not yet acked: do not push again
	return ls.unacked[v.Origin] >= v.Counter
}

// notePush records an outstanding push of v.
func (ls *linkState) notePush(v types.Version) {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	if ls.unacked[v.Origin] < v.Counter {
		ls.unacked[v.Origin] = v.Counter
	}
	if ls.firstUnacked.IsZero() {
		ls.firstUnacked = time.Now()
	}
}

// AckOverdue reports whether an outstanding push has gone unacknowledged
// beyond the timeout.
func (ls *linkState) AckOverdue(timeout time.Duration) bool {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	return !ls.firstUnacked.IsZero() && time.Since(ls.firstUnacked) > timeout
}

// noteRecv refreshes the liveness clock and clears serialization strikes.
func (ls *linkState) noteRecv() {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	ls.lastRecv = time.Now()
	ls.strikes = 0
}

// IdleFor reports how long the link has seen no inbound traffic.
func (ls *linkState) IdleFor() time.Duration {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	return time.Since(ls.lastRecv)
}

// strike counts a malformed message; returns true when the strike limit is
// reached and the link should degrade.
func (ls *linkState) strike(limit int) bool {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	ls.strikes++
	return ls.strikes >= limit
}

// Acked returns a copy of the peer's acknowledged watermark.
func (ls *linkState) Acked() types.Watermark {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	return ls.acked.Copy()
}

// LinkStatus is the externally visible snapshot of a peer link, exposed over
// the status RPC.
type LinkStatus struct {
	PeerID  p2p.ID          `json:"peer_id"`
	NodeID  types.NodeID    `json:"node_id"`
	Status  string          `json:"status"`
	Acked   types.Watermark `json:"acked"`
	Synced  bool            `json:"synced"`
	IdleFor time.Duration   `json:"idle_for"`
	Unacked int             `json:"unacked_origins"`
}

func (ls *linkState) snapshot() LinkStatus {
	ls.mtx.Lock()
	defer ls.mtx.Unlock()
	return LinkStatus{
		PeerID:  ls.peerID,
		NodeID:  ls.nodeID,
		Status:  ls.status.String(),
		Acked:   ls.acked.Copy(),
		Synced:  ls.status == Synced,
		IdleFor: time.Since(ls.lastRecv),
		Unacked: len(ls.unacked),
	}
}
