package dux

import (
	"context"
	"time"
)

// Observability receives hooks around store operations. Implementations can
// record traces, metrics or logs; every hook is called synchronously from
// the store's owning goroutine, so implementations should be cheap or hand
// work off themselves.
type Observability interface {
	// OnDispatchStart is called before the reducer runs. The returned
	// context is threaded through the remaining hooks of the same dispatch,
	// allowing tracing spans to nest.
	OnDispatchStart(ctx context.Context, actionType string) context.Context

	// OnDispatchComplete is called after all subscribers have been notified.
	OnDispatchComplete(ctx context.Context, actionType string, duration time.Duration)

	// OnNotifyStart is called before each subscriber is invoked.
	OnNotifyStart(ctx context.Context, token Token) context.Context

	// OnNotifyComplete is called after the subscriber returns.
	OnNotifyComplete(ctx context.Context, duration time.Duration)

	// OnSubscribe is called after a subscriber is registered. active is the
	// registry size including the new subscriber.
	OnSubscribe(token Token, active int)

	// OnUnsubscribe is called after an unsubscribe attempt. err is the
	// *UnknownTokenError for failed attempts, nil otherwise.
	OnUnsubscribe(token Token, active int, err error)

	// OnJournalAppend is called after each journal append attempt.
	OnJournalAppend(duration time.Duration, err error)

	// OnSnapshotSave is called after each snapshot save attempt.
	OnSnapshotSave(duration time.Duration, err error)
}

// NoopObservability discards all hooks.
type NoopObservability struct{}

var _ Observability = NoopObservability{}

func (NoopObservability) OnDispatchStart(ctx context.Context, actionType string) context.Context {
	return ctx
}

func (NoopObservability) OnDispatchComplete(context.Context, string, time.Duration) {}

func (NoopObservability) OnNotifyStart(ctx context.Context, token Token) context.Context {
	return ctx
}

func (NoopObservability) OnNotifyComplete(context.Context, time.Duration) {}

func (NoopObservability) OnSubscribe(Token, int) {}

func (NoopObservability) OnUnsubscribe(Token, int, error) {}

func (NoopObservability) OnJournalAppend(time.Duration, error) {}

func (NoopObservability) OnSnapshotSave(time.Duration, error) {}

// MultiObservability fans hooks out to multiple implementations, in order.
type MultiObservability struct {
	targets []Observability
}

var _ Observability = (*MultiObservability)(nil)

// NewMultiObservability returns an Observability forwarding every hook to
// all non-nil targets.
func NewMultiObservability(targets ...Observability) *MultiObservability {
	filtered := make([]Observability, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return &MultiObservability{targets: filtered}
}

func (m *MultiObservability) OnDispatchStart(ctx context.Context, actionType string) context.Context {
	for _, t := range m.targets {
		ctx = t.OnDispatchStart(ctx, actionType)
	}
	return ctx
}

func (m *MultiObservability) OnDispatchComplete(ctx context.Context, actionType string, duration time.Duration) {
	for _, t := range m.targets {
		t.OnDispatchComplete(ctx, actionType, duration)
	}
}

func (m *MultiObservability) OnNotifyStart(ctx context.Context, token Token) context.Context {
	for _, t := range m.targets {
		ctx = t.OnNotifyStart(ctx, token)
	}
	return ctx
}

func (m *MultiObservability) OnNotifyComplete(ctx context.Context, duration time.Duration) {
	for _, t := range m.targets {
		t.OnNotifyComplete(ctx, duration)
	}
}

func (m *MultiObservability) OnSubscribe(token Token, active int) {
	for _, t := range m.targets {
		t.OnSubscribe(token, active)
	}
}

func (m *MultiObservability) OnUnsubscribe(token Token, active int, err error) {
	for _, t := range m.targets {
		t.OnUnsubscribe(token, active, err)
	}
}

func (m *MultiObservability) OnJournalAppend(duration time.Duration, err error) {
	for _, t := range m.targets {
		t.OnJournalAppend(duration, err)
	}
}

func (m *MultiObservability) OnSnapshotSave(duration time.Duration, err error) {
	for _, t := range m.targets {
		t.OnSnapshotSave(duration, err)
	}
}
