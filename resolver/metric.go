package resolver

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newResolverMetric() *resolverMetric {
	return &resolverMetric{}
}

type resolverMetric struct {
	mtx        sync.RWMutex
	Applied    int64 `json:"applied"`    // records that updated the store
	Superseded int64 `json:"superseded"` // dropped, newer version held
	Stale      int64 `json:"stale"`      // dropped, duplicate delivery
}

func (rm *resolverMetric) JSONString() string {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(rm)
	return s
}

func (rm *resolverMetric) MarkApplied() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Applied++
}

func (rm *resolverMetric) MarkSuperseded() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Superseded++
}

func (rm *resolverMetric) MarkStale() {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Stale++
}
