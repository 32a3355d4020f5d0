// Package otel bridges engine metrics into an OpenTelemetry meter via
// observable counters, read from snapshots on collection.
package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"

	identitymetrics "github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/metrics/export/internaldefs"
)

var (
	// ErrNilMeter reports a missing meter.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource reports a missing metrics source.
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is the read side an exporter needs.
type MetricsSource interface {
	MetricsSnapshot() identitymetrics.Snapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         identitymetrics.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers observable counters on a meter and feeds them from
// snapshots of the source on every collection.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers one observable counter per exported metric.
func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(internaldefs.CounterDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+1)
	for _, def := range internaldefs.CounterDefs {
		inst, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, err
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: inst})
		observables = append(observables, inst)
	}

	dropped, err := meter.Int64ObservableCounter(
		"identity_audit_dropped_total",
		metric.WithDescription("Audit events dropped under backpressure."),
	)
	if err != nil {
		return nil, err
	}
	exporter.auditDropped = dropped
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(exporter.collect, observables...)
	if err != nil {
		return nil, err
	}
	exporter.registration = registration

	return exporter, nil
}

func (e *Exporter) collect(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
