package relay

import (
	"time"

	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	"aclrelay/acllog"
	"aclrelay/config"
	"aclrelay/resolver"
	"aclrelay/types"
)

const (
	// RelayStateChannel carries handshake, watermark, ack and ping traffic.
	RelayStateChannel = byte(0x40)
	// MutationChannel carries mutation pushes.
	MutationChannel = byte(0x41)

	maxMsgSize = 1048576 // 1MB

	peerCatchupSleepIntervalMS = 100 // if a peer's send queue is full, sleep this amount
)

// Reactor runs the relay protocol over every peer link: handshake and
// watermark exchange on the state channel, one send routine per peer walking
// the relay log, and the receive path feeding the resolver gate.
type Reactor struct {
	p2p.BaseReactor

	cfg *config.RelayConfig

	log      *acllog.Log
	resolver *resolver.Resolver
	coord    *Coordinator
	ids      *peerIDs
}

type ReactorOption func(*Reactor)

func NewReactor(cfg *config.RelayConfig, l *acllog.Log, res *resolver.Resolver, coord *Coordinator, options ...ReactorOption) *Reactor {
	relR := &Reactor{
		cfg:      cfg,
		log:      l,
		resolver: res,
		coord:    coord,
		ids:      newPeerIDs(),
	}
	relR.BaseReactor = *p2p.NewBaseReactor("Relay", relR)

	for _, option := range options {
		option(relR)
	}
	return relR
}

// SetLogger sets the logger on the reactor and the coordinator.
func (relR *Reactor) SetLogger(l log.Logger) {
	relR.Logger = l
	relR.coord.SetLogger(l)
}

// OnStart implements p2p.BaseReactor.
func (relR *Reactor) OnStart() error {
	relR.Logger.Info("Relay Reactor started.")
	go relR.pruneRoutine()
	return nil
}

// GetChannels implements Reactor.
func (relR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  RelayStateChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  MutationChannel,
			Priority:            5,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

// InitPeer implements Reactor: reserves a send id and creates the link
// state in Connecting.
func (relR *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	sendID := relR.ids.ReserveForPeer(peer)
	relR.coord.InitLink(peer.ID(), sendID)
	return peer
}

// AddPeer implements Reactor: the transport session is up, so open the
// protocol with our handshake and start the send routine for this link.
func (relR *Reactor) AddPeer(peer p2p.Peer) {
	ls := relR.coord.Link(peer.ID())
	if ls == nil {
		// InitPeer always runs first; reaching here is a switch bug
		relR.Logger.Error("no link state for added peer", "peer", peer.ID())
		return
	}

	handshake := mustEncode(&HandshakeMessage{
		NodeID:    relR.log.NodeID(),
		Watermark: relR.log.Tails(),
	})
	if !peer.Send(RelayStateChannel, handshake) {
		relR.Logger.Error("failed to queue handshake", "peer", peer.ID())
		relR.Switch.StopPeerForError(peer, ErrLivenessTimeout)
		return
	}
	ls.beginHandshake()

	go relR.gossipRoutine(peer, ls)
}

// RemovePeer implements Reactor. The transport session ended; the link
// degrades unless it was closed on purpose. Reconnecting is the membership
// tracker's call.
func (relR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	relR.ids.Reclaim(peer)
	if ls := relR.coord.Link(peer.ID()); ls != nil && ls.Status() != Closed {
		relR.coord.MarkDegraded(peer.ID())
		relR.Logger.Info("peer link degraded", "peer", peer.ID(), "reason", reason)
	}
	// the send routine checks peer.Quit() and returns on its own
}

// Receive implements Reactor.
func (relR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	ls := relR.coord.Link(src.ID())
	if ls == nil {
		relR.Logger.Error("message from peer without link state", "peer", src.ID())
		return
	}

	msg, err := decodeMsg(msgBytes)
	if err != nil {
		// malformed message: log and drop, degrade only on repeat offense
		relR.Logger.Error("failed to decode relay message",
			"peer", src.ID(), "chId", chID, "err", err)
		if ls.strike(relR.cfg.SerializationStrikeLimit) {
			relR.coord.MarkDegraded(src.ID())
			relR.Switch.StopPeerForError(src, ErrTooManyStrikes)
		}
		return
	}
	ls.noteRecv()

	switch m := msg.(type) {
	case *HandshakeMessage:
		relR.Logger.Info("peer handshake", "peer", src.ID(), "node", m.NodeID, "watermark", m.Watermark)
		ls.peerHandshake(m.NodeID, m.Watermark, relR.log.Tails())

	case *WatermarkMessage:
		ls.observeWatermark(m.Watermark)

	case *AckMessage:
		ls.observeAck(m.Origin, m.Counter)
		relR.coord.metric.MarkAck()

	case *PingMessage:
		// answer with our applied watermark; doubles as the pong
		src.TrySend(RelayStateChannel, mustEncode(&WatermarkMessage{Watermark: relR.log.Tails()}))

	case *MutationMessage:
		relR.receiveMutation(src, ls, m.Record)

	default:
		relR.Logger.Error("unknown relay message", "peer", src.ID(), "msg", msg)
	}
}

// receiveMutation hands a pushed record to the resolver gate and
// acknowledges it. Any outcome acks: Stale and Superseded mean the record is
// covered here too.
func (relR *Reactor) receiveMutation(src p2p.Peer, ls *linkState, record types.MutationRecord) {
	senderID := relR.ids.GetForPeer(src)
	if seen := relR.coord.SeenRecently(record.ID()); seen {
		// duplicate within the dedup window: mark the extra sender so the
		// send routine never echoes it back, ack, do not re-resolve
		relR.log.MarkSender(record.ID(), senderID)
		relR.ack(src, record)
		return
	}
	outcome, err := relR.resolver.Submit(record, senderID)
	if err != nil {
		relR.Logger.Error("rejected pushed record", "peer", src.ID(), "record", record, "err", err)
		if ls.strike(relR.cfg.SerializationStrikeLimit) {
			relR.coord.MarkDegraded(src.ID())
			relR.Switch.StopPeerForError(src, ErrTooManyStrikes)
		}
		return
	}

	relR.coord.MarkSeen(record.ID())
	relR.Logger.Debug("resolved pushed record",
		"peer", src.ID(), "record", record, "outcome", outcome)
	relR.ack(src, record)
}

func (relR *Reactor) ack(peer p2p.Peer, record types.MutationRecord) {
	peer.TrySend(RelayStateChannel, mustEncode(&AckMessage{
		Origin:  record.Origin(),
		Counter: record.Version.Counter,
	}))
}

// SubmitLocal is the administrative entry point: append the mutation to the
// log (durable, assigns the version) and apply it through the resolver gate.
// The per-peer send routines pick it up from the log on their own.
func (relR *Reactor) SubmitLocal(key types.EntryKey, permission types.Permission) (types.MutationRecord, error) {
	record, err := relR.log.Append(key, permission)
	if err != nil {
		return types.MutationRecord{}, err
	}
	relR.coord.MarkSeen(record.ID())

	if _, err := relR.resolver.Submit(record, resolver.UnknownPeerID); err != nil {
		return types.MutationRecord{}, err
	}
	return record, nil
}

// Coordinator exposes the link bookkeeping to the membership and RPC layers.
func (relR *Reactor) Coordinator() *Coordinator {
	return relR.coord
}

// --------------------------------

// gossipRoutine walks the relay log for one peer. It waits for the peer's
// handshake (the acked watermark tells us what to skip), then pushes every
// record the peer neither sent us nor acknowledged. Backlog and steady state
// are the same walk: once the routine drains past the sync goal the link
// reports Synced and new appends wake it through the log's wait channel.
func (relR *Reactor) gossipRoutine(peer p2p.Peer, ls *linkState) {
	select {
	case <-ls.HandshakeDone():
	case <-peer.Quit():
		return
	case <-relR.Quit():
		return
	}

	var next *clist.CElement
	for {
		if !relR.IsRunning() || !peer.IsRunning() {
			return
		}

		if next == nil {
			select {
			case <-relR.log.WaitChan():
				if next = relR.log.Front(); next == nil {
					continue
				}
			case <-peer.Quit():
				return
			case <-relR.Quit():
				return
			}
		}

		lr := next.Value.(*acllog.LogRecord)
		record := lr.Record()

		// anti-echo: never push a record back over the link it arrived on
		if !lr.HasSender(ls.sendID) && !ls.covers(record.Version) {
			if success := peer.Send(MutationChannel, mustEncode(&MutationMessage{Record: record})); !success {
				time.Sleep(peerCatchupSleepIntervalMS * time.Millisecond)
				continue
			}
			ls.notePush(record.Version)
			relR.coord.metric.MarkPushed()
		}

		select {
		case <-next.NextWaitChan():
			next = next.Next()
		case <-peer.Quit():
			return
		case <-relR.Quit():
			return
		}
	}
}

// pruneRoutine periodically drops fully acknowledged or expired records from
// the relay log and refreshes the convergence gauge.
func (relR *Reactor) pruneRoutine() {
	ticker := time.NewTicker(relR.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			relR.log.PruneCovered(relR.coord.AckedByAll(), relR.cfg.LogRetention)
			relR.coord.ConvergenceStatus()
		case <-relR.Quit():
			return
		}
	}
}
