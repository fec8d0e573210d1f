package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aclrelay/types"
)

func TestLinkStateTransitions(t *testing.T) {
	ls := newLinkState("peer1", 1)
	assert.Equal(t, Connecting, ls.Status())

	ls.beginHandshake()
	assert.Equal(t, Handshaking, ls.Status())

	// peer announces an empty watermark; our log tail is the sync goal
	goal := types.Watermark{"self": 3}
	ls.peerHandshake("them", types.NewWatermark(), goal)
	assert.Equal(t, Syncing, ls.Status())

	ls.observeAck("self", 2)
	assert.Equal(t, Syncing, ls.Status(), "goal not yet covered")

	ls.observeAck("self", 3)
	assert.Equal(t, Synced, ls.Status())
}

func TestLinkSyncedImmediatelyWhenCaughtUp(t *testing.T) {
	ls := newLinkState("peer1", 1)
	ls.beginHandshake()

	// the peer already covers everything we hold
	ls.peerHandshake("them", types.Watermark{"self": 3}, types.Watermark{"self": 3})
	assert.Equal(t, Synced, ls.Status())
}

func TestLinkClosedIsTerminal(t *testing.T) {
	ls := newLinkState("peer1", 1)
	ls.setStatus(Closed)

	ls.beginHandshake()
	assert.Equal(t, Closed, ls.Status())

	ls.setStatus(Degraded)
	assert.Equal(t, Closed, ls.Status())
}

func TestLinkAckedWatermarkMonotonic(t *testing.T) {
	ls := newLinkState("peer1", 1)
	ls.peerHandshake("them", types.Watermark{"A": 5}, nil)

	// a stale cumulative ack cannot lower the mark
	ls.observeWatermark(types.Watermark{"A": 2})
	assert.EqualValues(t, 5, ls.Acked().Get("A"))

	ls.observeAck("A", 3)
	assert.EqualValues(t, 5, ls.Acked().Get("A"))

	ls.observeAck("A", 9)
	assert.EqualValues(t, 9, ls.Acked().Get("A"))
}

func TestLinkCoversIncludesOutstandingPushes(t *testing.T) {
	ls := newLinkState("peer1", 1)
	ls.peerHandshake("them", types.NewWatermark(), nil)

	v := types.Version{Origin: "A", Counter: 1}
	assert.False(t, ls.covers(v))

	// pushed but unacked: no re-push, but not acked either
	ls.notePush(v)
	assert.True(t, ls.covers(v))
	assert.EqualValues(t, 0, ls.Acked().Get("A"))

	ls.observeAck("A", 1)
	assert.EqualValues(t, 1, ls.Acked().Get("A"))
}

func TestLinkAckOverdue(t *testing.T) {
	ls := newLinkState("peer1", 1)

	assert.False(t, ls.AckOverdue(time.Millisecond), "nothing outstanding")

	ls.notePush(types.Version{Origin: "A", Counter: 1})
	assert.False(t, ls.AckOverdue(time.Minute))

	time.Sleep(2 * time.Millisecond)
	assert.True(t, ls.AckOverdue(time.Millisecond))

	ls.observeAck("A", 1)
	assert.False(t, ls.AckOverdue(time.Millisecond), "ack clears the clock")
}

func TestLinkStrikesResetOnGoodTraffic(t *testing.T) {
	ls := newLinkState("peer1", 1)

	assert.False(t, ls.strike(3))
	assert.False(t, ls.strike(3))
	ls.noteRecv()
	assert.False(t, ls.strike(3), "good message resets the count")
	assert.False(t, ls.strike(3))
	assert.True(t, ls.strike(3))
}
