package dux

import (
	"context"
	"testing"
	"time"
)

// recordingObservability records every hook invocation in order.
type recordingObservability struct {
	calls          []string
	subscribeCount int
	activeAtLast   int
	lastUnsubErr   error
	journalErrs    []error
	snapshotErrs   []error
}

func (r *recordingObservability) OnDispatchStart(ctx context.Context, actionType string) context.Context {
	r.calls = append(r.calls, "dispatch-start:"+actionType)
	return ctx
}

func (r *recordingObservability) OnDispatchComplete(ctx context.Context, actionType string, duration time.Duration) {
	r.calls = append(r.calls, "dispatch-complete:"+actionType)
}

func (r *recordingObservability) OnNotifyStart(ctx context.Context, token Token) context.Context {
	r.calls = append(r.calls, "notify-start")
	return ctx
}

func (r *recordingObservability) OnNotifyComplete(ctx context.Context, duration time.Duration) {
	r.calls = append(r.calls, "notify-complete")
}

func (r *recordingObservability) OnSubscribe(token Token, active int) {
	r.calls = append(r.calls, "subscribe")
	r.subscribeCount++
	r.activeAtLast = active
}

func (r *recordingObservability) OnUnsubscribe(token Token, active int, err error) {
	r.calls = append(r.calls, "unsubscribe")
	r.activeAtLast = active
	r.lastUnsubErr = err
}

func (r *recordingObservability) OnJournalAppend(duration time.Duration, err error) {
	r.calls = append(r.calls, "journal-append")
	r.journalErrs = append(r.journalErrs, err)
}

func (r *recordingObservability) OnSnapshotSave(duration time.Duration, err error) {
	r.calls = append(r.calls, "snapshot-save")
	r.snapshotErrs = append(r.snapshotErrs, err)
}

func TestObservabilityDispatchHooks(t *testing.T) {
	obs := &recordingObservability{}
	store := New(counterReducer, 0, WithObservability(obs))

	store.Subscribe(func(state int) {})
	store.Dispatch(increment)

	want := []string{
		"subscribe",
		"dispatch-start:dux.counterAction",
		"notify-start",
		"notify-complete",
		"dispatch-complete:dux.counterAction",
	}
	if len(obs.calls) != len(want) {
		t.Fatalf("hook calls = %v, want %v", obs.calls, want)
	}
	for i := range want {
		if obs.calls[i] != want[i] {
			t.Fatalf("hook calls = %v, want %v", obs.calls, want)
		}
	}
}

func TestObservabilitySubscriptionHooks(t *testing.T) {
	obs := &recordingObservability{}
	store := New(counterReducer, 0, WithObservability(obs))

	token := store.Subscribe(func(state int) {})
	if obs.activeAtLast != 1 {
		t.Errorf("active after subscribe = %d, want 1", obs.activeAtLast)
	}

	if err := store.Unsubscribe(token); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if obs.activeAtLast != 0 {
		t.Errorf("active after unsubscribe = %d, want 0", obs.activeAtLast)
	}
	if obs.lastUnsubErr != nil {
		t.Errorf("unsubscribe hook err = %v, want nil", obs.lastUnsubErr)
	}

	store.Unsubscribe(Token(99))
	if obs.lastUnsubErr == nil {
		t.Error("unsubscribe hook did not receive the unknown-token error")
	}
}

func TestObservabilityPersistenceHooks(t *testing.T) {
	obs := &recordingObservability{}
	store := New(counterReducer, 0,
		WithObservability(obs),
		WithJournal(NewMemoryJournal()),
		WithSnapshots(NewMemorySnapshotStore(), EveryNDispatches(1)),
	)

	store.Dispatch(increment)

	if len(obs.journalErrs) != 1 || obs.journalErrs[0] != nil {
		t.Errorf("journal hook errs = %v, want [nil]", obs.journalErrs)
	}
	if len(obs.snapshotErrs) != 1 || obs.snapshotErrs[0] != nil {
		t.Errorf("snapshot hook errs = %v, want [nil]", obs.snapshotErrs)
	}
}

func TestNoopObservability(t *testing.T) {
	store := New(counterReducer, 0, WithObservability(NoopObservability{}))

	token := store.Subscribe(func(state int) {})
	store.Dispatch(increment)
	if err := store.Unsubscribe(token); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if got := store.State(); got != 1 {
		t.Errorf("State() = %d, want 1", got)
	}
}

func TestMultiObservability(t *testing.T) {
	first := &recordingObservability{}
	second := &recordingObservability{}
	multi := NewMultiObservability(first, nil, second)

	store := New(counterReducer, 0, WithObservability(multi))
	store.Subscribe(func(state int) {})
	store.Dispatch(increment)

	if len(first.calls) == 0 || len(second.calls) == 0 {
		t.Fatal("multi did not fan out to all targets")
	}
	if len(first.calls) != len(second.calls) {
		t.Errorf("targets saw %d and %d calls", len(first.calls), len(second.calls))
	}
}
