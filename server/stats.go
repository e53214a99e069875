package server

import (
	"sync"
	"time"
)

// Stats counts serve cycles since the server was created.
type Stats struct {
	Accepted     uint64        `json:"accepted"`
	Responded    uint64        `json:"responded"`
	Failed       uint64        `json:"failed"`
	Malformed    uint64        `json:"malformed"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

type stats struct {
	mu sync.Mutex
	s  Stats
}

func (m *stats) accept() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Accepted++
}

func (m *stats) end(latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.s.Failed++
	} else {
		m.s.Responded++
	}
	m.s.TotalLatency += latency
}

func (m *stats) malformed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Malformed++
}

func (m *stats) snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}
