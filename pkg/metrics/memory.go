package metrics

import "sync"

// Memory accumulates observations in plain maps. Intended for tests.
type Memory struct {
	mu       sync.Mutex
	Counters map[string]float64
	Gauges   map[string]float64
}

func NewMemory() *Memory {
	return &Memory{
		Counters: make(map[string]float64),
		Gauges:   make(map[string]float64),
	}
}

func (m *Memory) IncCounter(name string, labels map[string]string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[seriesKey(name, labels)] += delta
}

func (m *Memory) SetGauge(name string, labels map[string]string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[seriesKey(name, labels)] = value
}

func (m *Memory) ObserveHistogram(name string, labels map[string]string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[seriesKey(name, labels)] += value
}

// Counter returns the accumulated value for an unlabeled counter.
func (m *Memory) Counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}
