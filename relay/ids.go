package relay

import (
	"fmt"
	"math"
	"sync"

	"github.com/tendermint/tendermint/p2p"

	"aclrelay/resolver"
)

const maxActiveIDs = math.MaxUint16

// peerIDs hands out compact per-link ids. The relay log marks record senders
// with these 2-byte ids instead of full p2p ids. 0 is reserved for
// resolver.UnknownPeerID (local mutations).
type peerIDs struct {
	mtx       sync.RWMutex
	peerMap   map[p2p.ID]uint16
	nextID    uint16 // next candidate id; not necessarily free
	activeIDs map[uint16]struct{}
}

func newPeerIDs() *peerIDs {
	return &peerIDs{
		peerMap:   make(map[p2p.ID]uint16),
		activeIDs: map[uint16]struct{}{resolver.UnknownPeerID: {}},
		nextID:    resolver.UnknownPeerID + 1,
	}
}

// ReserveForPeer assigns a free id to the peer.
func (ids *peerIDs) ReserveForPeer(peer p2p.Peer) uint16 {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	curID := ids.nextPeerID()
	ids.peerMap[peer.ID()] = curID
	ids.activeIDs[curID] = struct{}{}
	return curID
}

// nextPeerID returns the next free id. Caller holds the lock.
func (ids *peerIDs) nextPeerID() uint16 {
	if len(ids.activeIDs) == maxActiveIDs {
		panic(fmt.Sprintf("node has maximum %d active IDs and wanted to get one more", maxActiveIDs))
	}

	_, idExists := ids.activeIDs[ids.nextID]
	for idExists {
		ids.nextID++
		_, idExists = ids.activeIDs[ids.nextID]
	}
	curID := ids.nextID
	ids.nextID++
	return curID
}

// Reclaim frees the peer's id.
func (ids *peerIDs) Reclaim(peer p2p.Peer) {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	removedID, ok := ids.peerMap[peer.ID()]
	if ok {
		delete(ids.activeIDs, removedID)
		delete(ids.peerMap, peer.ID())
	}
}

// GetForPeer returns the peer's id, UnknownPeerID if none is reserved.
func (ids *peerIDs) GetForPeer(peer p2p.Peer) uint16 {
	ids.mtx.RLock()
	defer ids.mtx.RUnlock()
	return ids.peerMap[peer.ID()]
}
