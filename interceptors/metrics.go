package interceptors

import (
	"sort"
	"sync"
	"time"
)

// AgentStats aggregates request handling for one agent
type AgentStats struct {
	Agent         string           `json:"agent"`
	Requests      int64            `json:"requests"`
	Errors        map[string]int64 `json:"errors"`
	TotalDuration time.Duration    `json:"total_duration"`
	MaxDuration   time.Duration    `json:"max_duration"`
}

// InMemoryMetrics is a MetricsCollector keeping counters per agent
type InMemoryMetrics struct {
	mu    sync.Mutex
	stats map[string]*AgentStats
}

// NewInMemoryMetrics creates an empty collector
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{stats: make(map[string]*AgentStats)}
}

func (m *InMemoryMetrics) entry(agent string) *AgentStats {
	s, ok := m.stats[agent]
	if !ok {
		s = &AgentStats{Agent: agent, Errors: make(map[string]int64)}
		m.stats[agent] = s
	}
	return s
}

// IncrementRequestCount implements MetricsCollector
func (m *InMemoryMetrics) IncrementRequestCount(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(agent).Requests++
}

// RecordProcessingTime implements MetricsCollector
func (m *InMemoryMetrics) RecordProcessingTime(agent string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(agent)
	s.TotalDuration += duration
	if duration > s.MaxDuration {
		s.MaxDuration = duration
	}
}

// IncrementErrorCount implements MetricsCollector
func (m *InMemoryMetrics) IncrementErrorCount(agent string, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(agent).Errors[code]++
}

// Snapshot returns a copy of the counters sorted by agent
func (m *InMemoryMetrics) Snapshot() []AgentStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AgentStats, 0, len(m.stats))
	for _, s := range m.stats {
		c := *s
		c.Errors = make(map[string]int64, len(s.Errors))
		for k, v := range s.Errors {
			c.Errors[k] = v
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}
