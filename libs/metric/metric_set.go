package metric

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

// MetricSet is the node-wide metric registry. Components register their
// metric item under a label at startup; the metrics RPC renders the set.
type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// SetMetrics registers item under label. Labels are registered once.
func (ms *MetricSet) SetMetrics(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()

	if _, existed := ms.metrics[label]; existed {
		return ErrMetricLabelExist
	}
	ms.metrics[label] = item
	return nil
}

func (ms *MetricSet) HasMetrics(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

func (ms *MetricSet) GetMetrics(label string) MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()
	return ms.metrics[label]
}

func (ms *MetricSet) GetAllLabels() []string {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	keys := make([]string, 0, len(ms.metrics))
	for k := range ms.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSONString renders every registered item keyed by label.
func (ms *MetricSet) JSONString() string {
	labels := ms.GetAllLabels()

	ms.mtx.RLock()
	defer ms.mtx.RUnlock()

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, `"`+label+`":`+ms.metrics[label].JSONString())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
