package ws

import "sync/atomic"

// Metrics holds the relay's process-wide counters.
type Metrics struct {
	framesRelayed       atomic.Uint64
	framesDropped       atomic.Uint64
	interactionsRouted  atomic.Uint64
	interactionsDropped atomic.Uint64
	noRoute             atomic.Uint64
	malformed           atomic.Uint64
	roleViolations      atomic.Uint64
	authFailures        atomic.Uint64
}

// NoRoute returns how many interactions found no capture connection.
func (m *Metrics) NoRoute() uint64 { return m.noRoute.Load() }

// Stats is a JSON-friendly snapshot of the hub's counters and gauges.
type Stats struct {
	FramesRelayed       uint64 `json:"framesRelayed"`
	FramesDropped       uint64 `json:"framesDropped"`
	InteractionsRouted  uint64 `json:"interactionsRouted"`
	InteractionsDropped uint64 `json:"interactionsDropped"`
	NoRoute             uint64 `json:"noRoute"`
	MalformedMessages   uint64 `json:"malformedMessages"`
	RoleViolations      uint64 `json:"roleViolations"`
	AuthFailures        uint64 `json:"authFailures"`
	Evictions           uint64 `json:"evictions"`
	ActiveConnections   int64  `json:"activeConnections"`
	Sessions            int64  `json:"sessions"`
}

func (m *Metrics) snapshot(r *Registry) Stats {
	return Stats{
		FramesRelayed:       m.framesRelayed.Load(),
		FramesDropped:       m.framesDropped.Load(),
		InteractionsRouted:  m.interactionsRouted.Load(),
		InteractionsDropped: m.interactionsDropped.Load(),
		NoRoute:             m.noRoute.Load(),
		MalformedMessages:   m.malformed.Load(),
		RoleViolations:      m.roleViolations.Load(),
		AuthFailures:        m.authFailures.Load(),
		Evictions:           r.Evictions(),
		ActiveConnections:   r.Active(),
		Sessions:            r.Sessions(),
	}
}
