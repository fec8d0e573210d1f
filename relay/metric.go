package relay

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newRelayMetric() *relayMetric {
	return &relayMetric{}
}

type relayMetric struct {
	mtx             sync.RWMutex
	Peers           int     `json:"peers"`
	SyncedPeers     int     `json:"synced_peers"`
	RecordsPushed   int64   `json:"records_pushed"`
	RecordsReceived int64   `json:"records_received"`
	AcksReceived    int64   `json:"acks_received"`
	DedupHits       int64   `json:"dedup_hits"`
	Convergence     float64 `json:"convergence"`
}

func (rm *relayMetric) JSONString() string {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(rm)
	return s
}

func (rm *relayMetric) MarkPeers(total, synced int) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Peers = total
	rm.SyncedPeers = synced
}

func (rm *relayMetric) MarkPushed() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.RecordsPushed++
}

func (rm *relayMetric) MarkReceived() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.RecordsReceived++
}

func (rm *relayMetric) MarkAck() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.AcksReceived++
}

func (rm *relayMetric) MarkDedupHit() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.DedupHits++
}

func (rm *relayMetric) Pushed() int64 {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	return rm.RecordsPushed
}

func (rm *relayMetric) Dedups() int64 {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	return rm.DedupHits
}

func (rm *relayMetric) MarkConvergence(f float64) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Convergence = f
}
