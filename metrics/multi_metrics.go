package metrics

import (
	"sync"

	"github.com/honeycombio/beacon/config"
)

var _ Metrics = (*MultiMetrics)(nil)

// MultiMetrics is a metrics provider that sends metrics to zero or more other
// metrics providers.
//
// It implements and intercepts the Store method since the children don't need
// to know about it, and also records the values that Get returns. Even if there
// are no metrics providers configured, this allows us to use the metrics
// package to store values that can be retrieved later.
type MultiMetrics struct {
	Config      config.Config  `inject:""`
	PromMetrics MetricsBackend `inject:"promMetrics"`
	OTelMetrics MetricsBackend `inject:"otelMetrics"`

	children []MetricsBackend
	// values keeps a map of all the non-histogram metrics and their current
	// value so that we can retrieve them with Get()
	values map[string]float64
	lock   sync.RWMutex
}

func NewMultiMetrics() *MultiMetrics {
	return &MultiMetrics{
		values: make(map[string]float64),
	}
}

func (m *MultiMetrics) Start() error {
	if m.Config == nil {
		return nil
	}
	if m.Config.GetPrometheusMetricsConfig().Enabled && m.PromMetrics != nil {
		m.AddChild(m.PromMetrics)
	}
	if m.Config.GetOTelMetricsConfig().Enabled && m.OTelMetrics != nil {
		m.AddChild(m.OTelMetrics)
	}
	return nil
}

// AddChild adds a metrics backend; it is not safe to call once metrics are
// flowing.
func (m *MultiMetrics) AddChild(met MetricsBackend) {
	m.children = append(m.children, met)
}

func (m *MultiMetrics) Register(metadata Metadata) {
	for _, ch := range m.children {
		ch.Register(metadata)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.values[metadata.Name]; !ok {
		m.values[metadata.Name] = 0
	}
}

func (m *MultiMetrics) Increment(name string) { // for counters
	for _, ch := range m.children {
		ch.Increment(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Gauge(name string, val float64) { // for gauges
	for _, ch := range m.children {
		ch.Gauge(name, val)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = val
}

func (m *MultiMetrics) Count(name string, n int64) { // for counters
	for _, ch := range m.children {
		ch.Count(name, n)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] += float64(n)
}

func (m *MultiMetrics) Histogram(name string, obs float64) { // for histogram
	for _, ch := range m.children {
		ch.Histogram(name, obs)
	}
}

func (m *MultiMetrics) Up(name string) { // for updown
	for _, ch := range m.children {
		ch.Up(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]++
}

func (m *MultiMetrics) Down(name string) { // for updown
	for _, ch := range m.children {
		ch.Down(name)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name]--
}

func (m *MultiMetrics) Get(name string) (float64, bool) { // for reading back a counter or a gauge
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MultiMetrics) Store(name string, val float64) { // for storing a rarely-changing value not sent as a metric
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[name] = val
}
