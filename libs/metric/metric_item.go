package metric

// MetricItem is one component's metric block. Implementations render their
// counters as a JSON object; the set never inspects the contents.
type MetricItem interface {
	JSONString() string
}

type mockMetricItem struct {
	name string
}

func (mock *mockMetricItem) JSONString() string {
	return `{"name":"` + mock.name + `"}`
}
