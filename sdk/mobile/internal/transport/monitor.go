package transport

import "sync/atomic"

// Monitor tracks network reachability as reported by the native wrapper.
// The zero value reports connected.
type Monitor struct {
	offline atomic.Bool
}

// SetConnected records the latest reachability.
func (m *Monitor) SetConnected(connected bool) {
	m.offline.Store(!connected)
}

// IsConnected reports the latest reachability.
func (m *Monitor) IsConnected() bool {
	return !m.offline.Load()
}
