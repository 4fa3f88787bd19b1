// Package otel implements dux.Observability using OpenTelemetry traces and
// metrics.
package otel

import (
	"context"
	"time"

	dux "github.com/duxlab/dux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/duxlab/dux"
)

// Observability implements dux.Observability using OpenTelemetry
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	dispatchCounter     metric.Int64Counter
	dispatchDuration    metric.Float64Histogram
	notifyCounter       metric.Int64Counter
	notifyDuration      metric.Float64Histogram
	activeSubscriptions metric.Int64UpDownCounter
	unsubscribeErrors   metric.Int64Counter
	journalCounter      metric.Int64Counter
	journalDuration     metric.Float64Histogram
	journalErrors       metric.Int64Counter
	snapshotCounter     metric.Int64Counter
	snapshotDuration    metric.Float64Histogram
	snapshotErrors      metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	// Apply options
	for _, opt := range opts {
		opt(obs)
	}

	// Initialize metrics
	var err error

	obs.dispatchCounter, err = obs.meter.Int64Counter(
		"dux.dispatch.count",
		metric.WithDescription("Number of dispatched actions"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	obs.dispatchDuration, err = obs.meter.Float64Histogram(
		"dux.dispatch.duration",
		metric.WithDescription("Dispatch duration including notification"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.notifyCounter, err = obs.meter.Int64Counter(
		"dux.notify.count",
		metric.WithDescription("Number of subscriber notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	obs.notifyDuration, err = obs.meter.Float64Histogram(
		"dux.notify.duration",
		metric.WithDescription("Subscriber execution duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.activeSubscriptions, err = obs.meter.Int64UpDownCounter(
		"dux.subscriptions.active",
		metric.WithDescription("Number of registered subscribers"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return nil, err
	}

	obs.unsubscribeErrors, err = obs.meter.Int64Counter(
		"dux.unsubscribe.errors",
		metric.WithDescription("Number of unsubscribe attempts with an unknown token"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.journalCounter, err = obs.meter.Int64Counter(
		"dux.journal.append.count",
		metric.WithDescription("Number of journal append attempts"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	obs.journalDuration, err = obs.meter.Float64Histogram(
		"dux.journal.append.duration",
		metric.WithDescription("Journal append duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.journalErrors, err = obs.meter.Int64Counter(
		"dux.journal.append.errors",
		metric.WithDescription("Number of journal append failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.snapshotCounter, err = obs.meter.Int64Counter(
		"dux.snapshot.save.count",
		metric.WithDescription("Number of snapshot save attempts"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	obs.snapshotDuration, err = obs.meter.Float64Histogram(
		"dux.snapshot.save.duration",
		metric.WithDescription("Snapshot save duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.snapshotErrors, err = obs.meter.Int64Counter(
		"dux.snapshot.save.errors",
		metric.WithDescription("Number of snapshot save failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

// OnDispatchStart is called before the reducer runs
func (o *Observability) OnDispatchStart(ctx context.Context, actionType string) context.Context {
	// Start a span for the dispatch
	ctx, _ = o.tracer.Start(ctx, "dux.dispatch: "+actionType,
		trace.WithAttributes(
			attribute.String("action.type", actionType),
		),
	)

	// Increment dispatch counter
	o.dispatchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action.type", actionType),
		),
	)

	return ctx
}

// OnDispatchComplete is called after all subscribers have been notified
func (o *Observability) OnDispatchComplete(ctx context.Context, actionType string, duration time.Duration) {
	o.dispatchDuration.Record(ctx, durationMs(duration),
		metric.WithAttributes(
			attribute.String("action.type", actionType),
		),
	)

	// End the dispatch span
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// OnNotifyStart is called before a subscriber is invoked
func (o *Observability) OnNotifyStart(ctx context.Context, token dux.Token) context.Context {
	ctx, _ = o.tracer.Start(ctx, "dux.notify",
		trace.WithAttributes(
			attribute.Int64("subscription.token", int64(token)),
		),
	)

	o.notifyCounter.Add(ctx, 1)

	return ctx
}

// OnNotifyComplete is called after the subscriber returns
func (o *Observability) OnNotifyComplete(ctx context.Context, duration time.Duration) {
	o.notifyDuration.Record(ctx, durationMs(duration))

	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// OnSubscribe is called after a subscriber is registered
func (o *Observability) OnSubscribe(token dux.Token, active int) {
	o.activeSubscriptions.Add(context.Background(), 1)
}

// OnUnsubscribe is called after an unsubscribe attempt
func (o *Observability) OnUnsubscribe(token dux.Token, active int, err error) {
	ctx := context.Background()
	if err != nil {
		o.unsubscribeErrors.Add(ctx, 1)
		return
	}
	o.activeSubscriptions.Add(ctx, -1)
}

// OnJournalAppend is called after each journal append attempt
func (o *Observability) OnJournalAppend(duration time.Duration, err error) {
	ctx := context.Background()

	o.journalCounter.Add(ctx, 1)
	o.journalDuration.Record(ctx, durationMs(duration))
	if err != nil {
		o.journalErrors.Add(ctx, 1)
	}
}

// OnSnapshotSave is called after each snapshot save attempt
func (o *Observability) OnSnapshotSave(duration time.Duration, err error) {
	ctx := context.Background()

	o.snapshotCounter.Add(ctx, 1)
	o.snapshotDuration.Record(ctx, durationMs(duration))
	if err != nil {
		o.snapshotErrors.Add(ctx, 1)
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Ensure Observability implements dux.Observability
var _ dux.Observability = (*Observability)(nil)
