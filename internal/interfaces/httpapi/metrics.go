package httpapi

import (
	"sync"
	"time"
)

// Metrics counts lookup outcomes. It implements application.Observer and
// feeds the /metrics exposition.
type Metrics struct {
	mu             sync.RWMutex
	startTime      time.Time
	cacheHits      uint64
	cacheMisses    uint64
	invalidInputs  uint64
	upstreamErrors uint64
	internalErrors uint64
	fetches        uint64
	lastRPCLatency time.Duration
	maxRPCLatency  time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnCacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

func (m *Metrics) OnCacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheMisses++
}

func (m *Metrics) OnInvalidInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidInputs++
}

func (m *Metrics) OnUpstreamError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstreamErrors++
}

func (m *Metrics) OnInternalError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.internalErrors++
}

func (m *Metrics) OnFetch(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	m.lastRPCLatency = latency
	if latency > m.maxRPCLatency {
		m.maxRPCLatency = latency
	}
}

type Snapshot struct {
	StartTime      time.Time
	CacheHits      uint64
	CacheMisses    uint64
	InvalidInputs  uint64
	UpstreamErrors uint64
	InternalErrors uint64
	Fetches        uint64
	LastRPCLatency time.Duration
	MaxRPCLatency  time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:      m.startTime,
		CacheHits:      m.cacheHits,
		CacheMisses:    m.cacheMisses,
		InvalidInputs:  m.invalidInputs,
		UpstreamErrors: m.upstreamErrors,
		InternalErrors: m.internalErrors,
		Fetches:        m.fetches,
		LastRPCLatency: m.lastRPCLatency,
		MaxRPCLatency:  m.maxRPCLatency,
	}
}
