package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMetric() *MetricSet {
	m := NewMetricSet()
	m.metrics["RELAY"] = &mockMetricItem{name: "RELAY"}
	return m
}

func TestMetricSet_HasMetrics(t *testing.T) {
	metric := newTestMetric()

	assert.True(t, metric.HasMetrics("RELAY"))
	assert.False(t, metric.HasMetrics("RESOLVER"))
}

func TestMetricSet_SetMetrics(t *testing.T) {
	metric := newTestMetric()

	mockItem := &mockMetricItem{name: "RESOLVER"}
	assert.Equal(t, ErrMetricLabelExist, metric.SetMetrics("RELAY", mockItem))
	assert.Nil(t, metric.SetMetrics("RESOLVER", mockItem))

	assert.True(t, metric.HasMetrics("RELAY"))
	assert.True(t, metric.HasMetrics("RESOLVER"))
}

func TestMetricSet_GetAllLabels(t *testing.T) {
	metric := newTestMetric()
	metric.metrics["ACLLOG"] = &mockMetricItem{name: "ACLLOG"}

	assert.Equal(t, []string{"ACLLOG", "RELAY"}, metric.GetAllLabels())
}

func TestMetricSet_JSONString(t *testing.T) {
	metric := newTestMetric()

	assert.Equal(t, `{"RELAY":{"name":"RELAY"}}`, metric.JSONString())
}
