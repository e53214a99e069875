package main

import (
	"sync"
	"time"
)

type RouteMetrics struct {
	Count        uint64        `json:"count"`
	Errors       uint64        `json:"errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// Metrics tracks front end requests per path.
type Metrics struct {
	mu            sync.Mutex
	TotalRequests uint64                   `json:"total_requests"`
	TotalErrors   uint64                   `json:"total_errors"`
	InFlight      uint64                   `json:"in_flight"`
	ByStatus      map[int]uint64           `json:"by_status"`
	ByRoute       map[string]*RouteMetrics `json:"by_route"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		ByStatus: make(map[int]uint64),
		ByRoute:  make(map[string]*RouteMetrics),
	}
}

func (m *Metrics) StartRequest(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InFlight++
	m.TotalRequests++
	if _, ok := m.ByRoute[route]; !ok {
		m.ByRoute[route] = &RouteMetrics{}
	}
}

// EndRequest records a finished request. A status of 500 or more counts as
// an error.
func (m *Metrics) EndRequest(route string, status int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InFlight > 0 {
		m.InFlight--
	}

	rm := m.ByRoute[route]
	if rm == nil {
		rm = &RouteMetrics{}
		m.ByRoute[route] = rm
	}
	rm.Count++
	rm.TotalLatency += latency

	if status >= 500 {
		m.TotalErrors++
		rm.Errors++
	}
	m.ByStatus[status]++
}

func (m *Metrics) Snapshot() *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Metrics{
		TotalRequests: m.TotalRequests,
		TotalErrors:   m.TotalErrors,
		InFlight:      m.InFlight,
		ByStatus:      make(map[int]uint64, len(m.ByStatus)),
		ByRoute:       make(map[string]*RouteMetrics, len(m.ByRoute)),
	}
	for status, n := range m.ByStatus {
		snap.ByStatus[status] = n
	}
	for route, rm := range m.ByRoute {
		rmCopy := *rm
		snap.ByRoute[route] = &rmCopy
	}
	return snap
}
