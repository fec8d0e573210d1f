package relay

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/mock"

	"aclrelay/acllog"
	"aclrelay/config"
	"aclrelay/resolver"
	"aclrelay/store"
	"aclrelay/types"
)

const convergeTimeout = 20 * time.Second

type testNode struct {
	reactor *Reactor
	store   store.Store
	log     *acllog.Log
	res     *resolver.Resolver
	evsw    events.EventSwitch
}

func newTestNode(t *testing.T, i int) *testNode {
	t.Helper()

	st := store.NewMemStore()
	l := acllog.NewMemLog(types.NodeID(fmt.Sprintf("node%d", i)), log.TestingLogger())
	evsw := events.NewEventSwitch()
	require.NoError(t, evsw.Start())

	res := resolver.NewResolver(st, l, evsw)
	res.SetLogger(log.TestingLogger())
	require.NoError(t, res.Start())

	cfg := config.TestRelayConfig()
	coord := NewCoordinator(cfg, l, evsw, log.TestingLogger())
	reactor := NewReactor(cfg, l, res, coord)
	reactor.SetLogger(log.TestingLogger().With("node", i))

	return &testNode{reactor: reactor, store: st, log: l, res: res, evsw: evsw}
}

func (tn *testNode) stop(t *testing.T) {
	if tn.reactor.IsRunning() {
		assert.NoError(t, tn.reactor.Stop())
	}
	assert.NoError(t, tn.res.Stop())
	assert.NoError(t, tn.evsw.Stop())
	assert.NoError(t, tn.store.Close())
}

// makeAndConnectNodes wires n relay reactors through fully connected
// switches.
func makeAndConnectNodes(t *testing.T, n int) ([]*testNode, []*p2p.Switch) {
	t.Helper()

	cfg := config.TestConfig()
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		nodes[i] = newTestNode(t, i)
	}

	switches := p2p.MakeConnectedSwitches(cfg.P2P, n, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("RELAY", nodes[i].reactor)
		return s
	}, p2p.Connect2Switches)

	return nodes, switches
}

// makeLineNodes connects n reactors in a line: 0-1, 1-2, ... with no other
// links.
func makeLineNodes(t *testing.T, n int) ([]*testNode, []*p2p.Switch) {
	t.Helper()

	cfg := config.TestConfig()
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		nodes[i] = newTestNode(t, i)
	}

	switches := p2p.MakeConnectedSwitches(cfg.P2P, n, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("RELAY", nodes[i].reactor)
		return s
	}, func(switches []*p2p.Switch, i, j int) {
		if j == i+1 {
			p2p.Connect2Switches(switches, i, j)
		}
	})

	return nodes, switches
}

func stopAll(t *testing.T, nodes []*testNode, switches []*p2p.Switch) {
	for _, s := range switches {
		assert.NoError(t, s.Stop())
	}
	for _, tn := range nodes {
		tn.stop(t)
	}
}

func waitForEntry(t *testing.T, tn *testNode, key types.EntryKey, perm types.Permission) {
	t.Helper()

	deadline := time.After(convergeTimeout)
	for {
		entry, err := tn.store.Get(key)
		require.NoError(t, err)
		if entry != nil && entry.Permission == perm {
			return
		}

		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %v=%s (have %v)", key, perm, entry)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func waitForConvergence(t *testing.T, tn *testNode) {
	t.Helper()

	deadline := time.After(convergeTimeout)
	for {
		if tn.reactor.Coordinator().ConvergenceStatus() >= 1.0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for convergence, statuses: %v",
				tn.reactor.Coordinator().Statuses())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestReactorRelaysLocalMutation(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 2)
	defer stopAll(t, nodes, switches)

	key := types.NewEntryKey("alice", "file1")
	_, err := nodes[0].reactor.SubmitLocal(key, "READ")
	require.NoError(t, err)

	waitForEntry(t, nodes[1], key, "READ")

	// acks flow back until node 0 sees full coverage of its log
	waitForConvergence(t, nodes[0])
}

// a record pushed over a link is never pushed back over that link
func TestReactorNoEchoToSender(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 2)
	defer stopAll(t, nodes, switches)

	key := types.NewEntryKey("alice", "file1")
	_, err := nodes[0].reactor.SubmitLocal(key, "READ")
	require.NoError(t, err)

	waitForEntry(t, nodes[1], key, "READ")
	waitForConvergence(t, nodes[0])

	// node 1's only peer is the record's sender, so its send routine must
	// push nothing at all
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, nodes[1].reactor.Coordinator().Metric().Pushed(),
		"record was echoed back to its sender")
}

// a mutation at one end of a line topology reaches the far end through the
// middle node despite no direct link
func TestReactorMultiHopRelay(t *testing.T) {
	nodes, switches := makeLineNodes(t, 3)
	defer stopAll(t, nodes, switches)

	key := types.NewEntryKey("alice", "file1")
	_, err := nodes[0].reactor.SubmitLocal(key, "READ")
	require.NoError(t, err)

	// switches are connected 0-1 and 1-2 only
	waitForEntry(t, nodes[2], key, "READ")

	entry, err := nodes[2].store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, types.Version{Origin: "node0", Counter: 1}, entry.Version,
		"version must survive the extra hop unchanged")
}

// mutations appended before any link exists are delivered as backlog after
// the handshake
func TestReactorBacklogSync(t *testing.T) {
	cfg := config.TestConfig()
	nodes := []*testNode{newTestNode(t, 0), newTestNode(t, 1)}

	var keys []types.EntryKey
	for i := 0; i < 10; i++ {
		key := types.NewEntryKey("alice", fmt.Sprintf("file%d", i))
		keys = append(keys, key)
		_, err := nodes[0].reactor.SubmitLocal(key, "READ")
		require.NoError(t, err)
	}

	switches := p2p.MakeConnectedSwitches(cfg.P2P, 2, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("RELAY", nodes[i].reactor)
		return s
	}, p2p.Connect2Switches)
	defer stopAll(t, nodes, switches)

	for _, key := range keys {
		waitForEntry(t, nodes[1], key, "READ")
	}
	waitForConvergence(t, nodes[0])
}

// concurrent writes to the same key from both ends converge on the
// tie-break winner regardless of relay order
func TestReactorConcurrentWritesConverge(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 2)
	defer stopAll(t, nodes, switches)

	key := types.NewEntryKey("alice", "file1")
	_, err := nodes[0].reactor.SubmitLocal(key, "READ")
	require.NoError(t, err)
	_, err = nodes[1].reactor.SubmitLocal(key, "WRITE")
	require.NoError(t, err)

	// both used counter 1; node1 > node0 lexicographically
	waitForEntry(t, nodes[0], key, "WRITE")
	waitForEntry(t, nodes[1], key, "WRITE")
}

// duplicate delivery of an already applied record never double-applies
func TestReactorDuplicateDeliveryIdempotent(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 1)
	defer stopAll(t, nodes, switches)
	tn := nodes[0]

	peer := mock.NewPeer(net.IP{127, 0, 0, 1})
	tn.reactor.InitPeer(peer)
	tn.reactor.Receive(RelayStateChannel, peer, mustEncode(&HandshakeMessage{
		NodeID:    "remote",
		Watermark: types.NewWatermark(),
	}))

	record := types.MutationRecord{
		Key:        types.NewEntryKey("alice", "file1"),
		Permission: "READ",
		Version:    types.Version{Origin: "remote", Counter: 1},
	}
	push := mustEncode(&MutationMessage{Record: record})

	tn.reactor.Receive(MutationChannel, peer, push)
	tn.reactor.Receive(MutationChannel, peer, push)
	tn.reactor.Receive(MutationChannel, peer, push)

	entry, err := tn.store.Get(record.Key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.Permission("READ"), entry.Permission)

	// one resolve, the rest swallowed by the dedup cache
	assert.EqualValues(t, 2, tn.reactor.Coordinator().Metric().Dedups())
	assert.Equal(t, 1, tn.log.Size())
}

// a record already applied from one peer must not be pushed back to a second
// peer that delivers the same record later
func TestReactorDuplicateFromSecondPeerNotEchoed(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 1)
	defer stopAll(t, nodes, switches)
	tn := nodes[0]

	peer1 := mock.NewPeer(net.IP{127, 0, 0, 1})
	peer2 := mock.NewPeer(net.IP{127, 0, 0, 2})
	for i, peer := range []p2p.Peer{peer1, peer2} {
		tn.reactor.InitPeer(peer)
		tn.reactor.Receive(RelayStateChannel, peer, mustEncode(&HandshakeMessage{
			NodeID:    types.NodeID(fmt.Sprintf("remote%d", i)),
			Watermark: types.NewWatermark(),
		}))
	}

	record := types.MutationRecord{
		Key:        types.NewEntryKey("alice", "file1"),
		Permission: "READ",
		Version:    types.Version{Origin: "remote0", Counter: 1},
	}
	push := mustEncode(&MutationMessage{Record: record})

	tn.reactor.Receive(MutationChannel, peer1, push)
	tn.reactor.Receive(MutationChannel, peer2, push)

	// both links are recorded as senders, so neither send routine echoes
	lr := tn.log.Front().Value.(*acllog.LogRecord)
	assert.True(t, lr.HasSender(tn.reactor.ids.GetForPeer(peer1)))
	assert.True(t, lr.HasSender(tn.reactor.ids.GetForPeer(peer2)))

	ls2 := tn.reactor.Coordinator().Link(peer2.ID())
	require.NotNil(t, ls2)
	assert.False(t, ls2.covers(record.Version), "nothing acked yet, only the sender mark protects link 2")
}

// malformed messages are dropped without closing the link until the strike
// limit is reached
func TestReactorSerializationStrikes(t *testing.T) {
	nodes, switches := makeAndConnectNodes(t, 1)
	defer stopAll(t, nodes, switches)
	tn := nodes[0]

	peer := mock.NewPeer(net.IP{127, 0, 0, 1})
	tn.reactor.InitPeer(peer)

	limit := config.TestRelayConfig().SerializationStrikeLimit
	for i := 0; i < limit-1; i++ {
		tn.reactor.Receive(MutationChannel, peer, []byte("garbage"))
	}
	ls := tn.reactor.Coordinator().Link(peer.ID())
	require.NotNil(t, ls)
	assert.NotEqual(t, Degraded, ls.Status(), "below the limit the link stays up")

	tn.reactor.Receive(MutationChannel, peer, []byte("garbage"))
	assert.Equal(t, Degraded, ls.Status())
}

func TestGossipRoutineStopsWhenPeerStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	nodes, switches := makeAndConnectNodes(t, 2)

	sw := switches[1]
	sw.StopPeerForError(sw.Peers().List()[0], errors.New("some reason"))

	stopAll(t, nodes, switches)
	leaktest.CheckTimeout(t, 10*time.Second)()
}

func TestGossipRoutineStopsWhenReactorStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	nodes, switches := makeAndConnectNodes(t, 2)
	stopAll(t, nodes, switches)

	leaktest.CheckTimeout(t, 10*time.Second)()
}
