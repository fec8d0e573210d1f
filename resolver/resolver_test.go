package resolver

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"

	"aclrelay/acllog"
	"aclrelay/store"
	"aclrelay/types"
)

type cleanupFunc func()

func newTestResolver(t *testing.T) (*Resolver, store.Store, *acllog.Log, cleanupFunc) {
	t.Helper()

	st := store.NewMemStore()
	l := acllog.NewMemLog("self", log.TestingLogger())
	evsw := events.NewEventSwitch()
	require.NoError(t, evsw.Start())

	r := NewResolver(st, l, evsw)
	r.SetLogger(log.TestingLogger())
	require.NoError(t, r.Start())

	return r, st, l, func() {
		_ = r.Stop()
		_ = evsw.Stop()
		_ = st.Close()
	}
}

func record(subject, resource, perm string, origin types.NodeID, counter int64) types.MutationRecord {
	return types.MutationRecord{
		Key:        types.NewEntryKey(subject, resource),
		Permission: types.Permission(perm),
		Version:    types.Version{Origin: origin, Counter: counter},
	}
}

func TestApplyOutcomes(t *testing.T) {
	r, st, _, cleanup := newTestResolver(t)
	defer cleanup()

	first := record("alice", "file1", "READ", "A", 1)

	outcome, err := r.Submit(first, UnknownPeerID)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	// duplicate delivery
	outcome, err = r.Submit(first, 1)
	require.NoError(t, err)
	assert.Equal(t, Stale, outcome)

	// newer version wins
	outcome, err = r.Submit(record("alice", "file1", "WRITE", "B", 2), 1)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	// older version loses
	outcome, err = r.Submit(record("alice", "file1", "NONE", "C", 1), 2)
	require.NoError(t, err)
	assert.Equal(t, Superseded, outcome)

	entry, err := st.Get(types.NewEntryKey("alice", "file1"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.Permission("WRITE"), entry.Permission)
}

// equal counters resolve by origin id, regardless of delivery order
func TestConcurrentTieBreak(t *testing.T) {
	a := record("alice", "file1", "READ", "A", 1)
	b := record("alice", "file1", "WRITE", "B", 1)

	for _, order := range [][]types.MutationRecord{{a, b}, {b, a}} {
		r, st, _, cleanup := newTestResolver(t)

		for _, rec := range order {
			_, err := r.Submit(rec, 1)
			require.NoError(t, err)
		}

		entry, err := st.Get(types.NewEntryKey("alice", "file1"))
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, types.Permission("WRITE"), entry.Permission,
			"B dominates A on equal counters")

		cleanup()
	}
}

// applying the same unordered set of records in any order yields the same
// final stored permission per key
func TestDeterminismUnderPermutation(t *testing.T) {
	records := []types.MutationRecord{
		record("alice", "file1", "READ", "A", 1),
		record("alice", "file1", "WRITE", "B", 1),
		record("alice", "file1", "NONE", "A", 2),
		record("bob", "file1", "READ", "C", 1),
		record("bob", "file1", "WRITE", "A", 3),
		record("bob", "file2", "ADMIN", "B", 2),
	}

	rng := rand.New(rand.NewSource(42))
	var want []types.Entry

	for trial := 0; trial < 10; trial++ {
		shuffled := make([]types.MutationRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		r, st, _, cleanup := newTestResolver(t)
		for _, rec := range shuffled {
			_, err := r.Submit(rec, 1)
			require.NoError(t, err)
		}

		got, err := st.List()
		require.NoError(t, err)

		if want == nil {
			want = got
		} else {
			assert.ElementsMatch(t, want, got, "order of delivery changed the result")
		}
		cleanup()
	}
}

// remote applies enter the relay log with their sender marked; local and
// duplicate submissions do not grow the log
func TestAppliedRemoteEntersRelayLog(t *testing.T) {
	r, _, l, cleanup := newTestResolver(t)
	defer cleanup()

	rec := record("alice", "file1", "READ", "A", 1)

	const senderID = uint16(3)
	outcome, err := r.Submit(rec, senderID)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
	require.Equal(t, 1, l.Size())
	assert.True(t, l.Front().Value.(*acllog.LogRecord).HasSender(senderID))

	// stale duplicate adds nothing
	_, err = r.Submit(rec, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Size())

	// local mutations are already in the log via Append; the gate must not
	// insert them again
	local, err := l.Append(types.NewEntryKey("bob", "file2"), "WRITE")
	require.NoError(t, err)
	_, err = r.Submit(local, UnknownPeerID)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Size())
}

// rejected deliveries still mark their sender on the held log record so the
// record is not relayed back over the link it came from
func TestRejectedDeliveryMarksSender(t *testing.T) {
	r, _, l, cleanup := newTestResolver(t)
	defer cleanup()

	rec := record("alice", "file1", "READ", "A", 1)

	outcome, err := r.Submit(rec, 1)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)

	// same record again over a second link
	outcome, err = r.Submit(rec, 2)
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)

	lr := l.Front().Value.(*acllog.LogRecord)
	assert.True(t, lr.HasSender(1))
	assert.True(t, lr.HasSender(2))

	// after a dominating write the old record is superseded but may still sit
	// in the relay buffer; late deliveries of it mark their sender too
	outcome, err = r.Submit(record("alice", "file1", "WRITE", "B", 2), 3)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)

	outcome, err = r.Submit(rec, 4)
	require.NoError(t, err)
	require.Equal(t, Superseded, outcome)
	assert.True(t, lr.HasSender(4))
}

func TestSubmitRejectsMalformedRecord(t *testing.T) {
	r, _, _, cleanup := newTestResolver(t)
	defer cleanup()

	bad := record("", "file1", "READ", "A", 1)
	_, err := r.Submit(bad, 1)
	require.Error(t, err)

	noOrigin := record("alice", "file1", "READ", "", 1)
	_, err = r.Submit(noOrigin, 1)
	require.Error(t, err)
}

func TestAppliedEventFires(t *testing.T) {
	st := store.NewMemStore()
	l := acllog.NewMemLog("self", log.TestingLogger())
	evsw := events.NewEventSwitch()
	require.NoError(t, evsw.Start())
	defer evsw.Stop()

	applied := make(chan AppliedEvent, 1)
	err := evsw.AddListenerForEvent("test", EventMutationApplied, func(data events.EventData) {
		applied <- data.(AppliedEvent)
	})
	require.NoError(t, err)

	r := NewResolver(st, l, evsw)
	r.SetLogger(log.TestingLogger())
	require.NoError(t, r.Start())
	defer r.Stop()

	rec := record("alice", "file1", "READ", "A", 1)
	_, err = r.Submit(rec, 2)
	require.NoError(t, err)

	ev := <-applied
	assert.Equal(t, rec, ev.Record)
	assert.EqualValues(t, 2, ev.SenderID)
}
