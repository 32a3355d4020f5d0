// Package metrics provides lock-free counters and a latency histogram for
// engine observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. Export (Prometheus, OTel) lives in metrics/export/ and reads
// [Snapshot] values; this package performs no I/O and imports no sibling
// package.
package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter slot.
type MetricID int

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterConflict
	MetricRegisterInvalid
	MetricLoginSuccess
	MetricLoginFailure
	MetricLockoutTriggered
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricCodeIssued
	MetricCodeValidated
	MetricCodeRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricLogout
	MetricEmailVerified
	MetricPhoneVerified
	MetricPasswordChanged
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricAccountLocked
	MetricAccountUnlocked
	MetricAccountSuspended
	MetricEventsDispatched
	MetricEventDispatchFailure

	MetricIDCount
)

// ValidateLatencyBuckets are the upper bounds, in microseconds, of the
// access-token validation latency histogram; the final bucket is +Inf.
var ValidateLatencyBuckets = [8]uint64{100, 250, 500, 1000, 2500, 5000, 10000, ^uint64(0)}

// Config controls metric collection.
type Config struct {
	Enabled       bool
	EnableLatency bool
}

type paddedCounter struct {
	value atomic.Uint64
	_     [7]uint64 // pad to a cache line to avoid false sharing
}

// Metrics holds the counter slots and the validation latency histogram.
// All write-path operations are allocation-free.
type Metrics struct {
	enabled       bool
	latencyOn     bool
	counters      [MetricIDCount]paddedCounter
	latencyBucket [8]paddedCounter
	latencyCount  paddedCounter
}

// New creates a metrics instance. When cfg.Enabled is false every
// operation is a no-op and Snapshot returns empty maps.
func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:   cfg.Enabled,
		latencyOn: cfg.Enabled && cfg.EnableLatency,
	}
}

// Inc adds one to the counter slot.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

// ObserveValidateLatency records one access-token validation duration.
func (m *Metrics) ObserveValidateLatency(d time.Duration) {
	if m == nil || !m.latencyOn {
		return
	}
	us := uint64(d.Microseconds())
	for i, bound := range ValidateLatencyBuckets {
		if us <= bound {
			m.latencyBucket[i].value.Add(1)
			break
		}
	}
	m.latencyCount.value.Add(1)
}

// Snapshot is a point-in-time deep copy of all metrics.
type Snapshot struct {
	Counters             map[MetricID]uint64
	ValidateLatency      [8]uint64
	ValidateLatencyCount uint64
}

// Snapshot copies every counter and histogram bucket.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		if v := m.counters[id].value.Load(); v > 0 {
			snap.Counters[id] = v
		}
	}
	if m.latencyOn {
		for i := range m.latencyBucket {
			snap.ValidateLatency[i] = m.latencyBucket[i].value.Load()
		}
		snap.ValidateLatencyCount = m.latencyCount.value.Load()
	}
	return snap
}
