package resolver

import "sync/atomic"

// Metrics holds the resolver's atomic counters. They back the admin
// surface's /stats endpoint and have no bearing on resolution behavior.
type Metrics struct {
	QueriesReceived atomic.Uint64
	CacheHits       atomic.Uint64
	ProbesSent      atomic.Uint64
	ProbeFailures   atomic.Uint64
	GiveUps         atomic.Uint64
}

// Snapshot is a point-in-time copy of Metrics suitable for serialization.
type Snapshot struct {
	QueriesReceived uint64 `json:"queries_received"`
	CacheHits       uint64 `json:"cache_hits"`
	ProbesSent      uint64 `json:"probes_sent"`
	ProbeFailures   uint64 `json:"probe_failures"`
	GiveUps         uint64 `json:"give_ups"`
}

// Snapshot reads all counters into a plain struct.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		QueriesReceived: m.QueriesReceived.Load(),
		CacheHits:       m.CacheHits.Load(),
		ProbesSent:      m.ProbesSent.Load(),
		ProbeFailures:   m.ProbeFailures.Load(),
		GiveUps:         m.GiveUps.Load(),
	}
}
