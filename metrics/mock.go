package metrics

import "sync"

var _ Metrics = (*MockMetrics)(nil)

// MockMetrics collects metrics that were registered and changed to allow tests to
// verify expected behavior
type MockMetrics struct {
	Registrations     map[string]MetricType
	CounterIncrements map[string]int64
	GaugeRecords      map[string]float64
	Histograms        map[string][]float64
	UpdownRecords     map[string]int64

	lock sync.Mutex
}

// Start initializes all metrics or resets all metrics to zero
func (m *MockMetrics) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Registrations = make(map[string]MetricType)
	m.CounterIncrements = make(map[string]int64)
	m.GaugeRecords = make(map[string]float64)
	m.Histograms = make(map[string][]float64)
	m.UpdownRecords = make(map[string]int64)
}

func (m *MockMetrics) Register(metadata Metadata) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Registrations[metadata.Name] = metadata.Type
}

func (m *MockMetrics) Increment(name string) {
	m.Count(name, 1)
}

func (m *MockMetrics) Gauge(name string, val float64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.GaugeRecords[name] = val
}

func (m *MockMetrics) Count(name string, val int64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.CounterIncrements[name] += val
}

func (m *MockMetrics) Histogram(name string, obs float64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.Histograms[name] = append(m.Histograms[name], obs)
}

func (m *MockMetrics) Up(name string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.UpdownRecords[name]++
}

func (m *MockMetrics) Down(name string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.UpdownRecords[name]--
}

func (m *MockMetrics) Store(name string, val float64) {
	m.Gauge(name, val)
}

func (m *MockMetrics) Get(name string) (float64, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if v, ok := m.CounterIncrements[name]; ok {
		return float64(v), true
	}
	if v, ok := m.GaugeRecords[name]; ok {
		return v, true
	}
	if v, ok := m.UpdownRecords[name]; ok {
		return float64(v), true
	}
	return 0, false
}

// GetHistogram returns a copy of every observation recorded for name.
func (m *MockMetrics) GetHistogram(name string) []float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]float64(nil), m.Histograms[name]...)
}
