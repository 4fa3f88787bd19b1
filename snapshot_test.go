package dux

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSnapshotPolicies(t *testing.T) {
	t.Run("every n dispatches", func(t *testing.T) {
		policy := EveryNDispatches(10)

		if policy.ShouldSnapshot(5, 0, time.Now()) {
			t.Error("snapshot at version 5 with last 0")
		}
		if !policy.ShouldSnapshot(10, 0, time.Now()) {
			t.Error("no snapshot at version 10 with last 0")
		}
		if policy.ShouldSnapshot(15, 10, time.Now()) {
			t.Error("snapshot at version 15 with last 10")
		}
		if !policy.ShouldSnapshot(20, 10, time.Now()) {
			t.Error("no snapshot at version 20 with last 10")
		}
	})

	t.Run("every n clamps to one", func(t *testing.T) {
		policy := EveryNDispatches(0)
		if !policy.ShouldSnapshot(1, 0, time.Now()) {
			t.Error("EveryNDispatches(0) did not clamp to 1")
		}
	})

	t.Run("time interval", func(t *testing.T) {
		policy := TimeInterval(time.Hour)

		if policy.ShouldSnapshot(1, 0, time.Now()) {
			t.Error("snapshot immediately after the last one")
		}
		if !policy.ShouldSnapshot(1, 0, time.Now().Add(-2*time.Hour)) {
			t.Error("no snapshot two hours after the last one")
		}
	})

	t.Run("never", func(t *testing.T) {
		policy := Never()
		if policy.ShouldSnapshot(1000, 0, time.Time{}) {
			t.Error("Never() produced a snapshot")
		}
	})

	t.Run("combined", func(t *testing.T) {
		policy := Combined(EveryNDispatches(100), TimeInterval(time.Hour))

		if policy.ShouldSnapshot(5, 0, time.Now()) {
			t.Error("combined triggered with neither condition met")
		}
		if !policy.ShouldSnapshot(100, 0, time.Now()) {
			t.Error("combined did not trigger on dispatch count")
		}
		if !policy.ShouldSnapshot(5, 0, time.Now().Add(-2*time.Hour)) {
			t.Error("combined did not trigger on time")
		}
	})
}

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	t.Run("latest on empty store", func(t *testing.T) {
		_, err := store.Latest(ctx, "missing")
		if !errors.Is(err, ErrNoSnapshot) {
			t.Errorf("err = %v, want ErrNoSnapshot", err)
		}
	})

	t.Run("save validation", func(t *testing.T) {
		if err := store.Save(ctx, nil); err == nil {
			t.Error("Save(nil) did not fail")
		}
		if err := store.Save(ctx, &Snapshot{}); err == nil {
			t.Error("Save without store ID did not fail")
		}
	})

	t.Run("save and latest", func(t *testing.T) {
		snap := &Snapshot{
			StoreID:   "s1",
			Version:   3,
			State:     json.RawMessage(`42`),
			Timestamp: time.Now(),
		}
		if err := store.Save(ctx, snap); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := store.Latest(ctx, "s1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got.Version != 3 || string(got.State) != "42" {
			t.Errorf("Latest = %+v", got)
		}
	})

	t.Run("save replaces", func(t *testing.T) {
		newer := &Snapshot{StoreID: "s1", Version: 7, State: json.RawMessage(`99`)}
		if err := store.Save(ctx, newer); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := store.Latest(ctx, "s1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got.Version != 7 {
			t.Errorf("Latest version = %d, want 7", got.Version)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, "s1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Latest(ctx, "s1"); !errors.Is(err, ErrNoSnapshot) {
			t.Errorf("err after delete = %v, want ErrNoSnapshot", err)
		}
	})
}

func TestDispatchTakesPolicySnapshots(t *testing.T) {
	ctx := context.Background()
	snaps := NewMemorySnapshotStore()

	store := New(counterReducer, 0,
		WithStoreID("counter"),
		WithSnapshots(snaps, EveryNDispatches(3)),
	)

	store.Dispatch(increment).Dispatch(increment)
	if _, err := snaps.Latest(ctx, "counter"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("snapshot exists before the policy fired: %v", err)
	}

	store.Dispatch(increment)

	snap, err := snaps.Latest(ctx, "counter")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if snap.Version != 3 {
		t.Errorf("snapshot version = %d, want 3", snap.Version)
	}
	if string(snap.State) != "3" {
		t.Errorf("snapshot state = %s, want 3", snap.State)
	}

	// The next snapshot only comes after three more dispatches.
	store.Dispatch(increment).Dispatch(increment)
	snap, _ = snaps.Latest(ctx, "counter")
	if snap.Version != 3 {
		t.Errorf("snapshot version = %d after 5 dispatches, want 3", snap.Version)
	}

	store.Dispatch(increment)
	snap, _ = snaps.Latest(ctx, "counter")
	if snap.Version != 6 {
		t.Errorf("snapshot version = %d after 6 dispatches, want 6", snap.Version)
	}
}

// failingSnapshotStore fails every save.
type failingSnapshotStore struct {
	err error
}

func (s *failingSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error { return s.err }
func (s *failingSnapshotStore) Latest(ctx context.Context, storeID string) (*Snapshot, error) {
	return nil, s.err
}
func (s *failingSnapshotStore) Delete(ctx context.Context, storeID string) error { return s.err }

func TestSnapshotFailureReportedNotFatal(t *testing.T) {
	cause := errors.New("disk full")
	var reported error

	store := New(counterReducer, 0,
		WithSnapshots(&failingSnapshotStore{err: cause}, EveryNDispatches(1)),
		WithErrorHandler(func(err error) { reported = err }),
	)

	store.Dispatch(increment)

	if got := store.State(); got != 1 {
		t.Errorf("State() = %d, want 1 (snapshot failure must not fail dispatch)", got)
	}
	if !errors.Is(reported, cause) {
		t.Errorf("reported error %v does not wrap the cause", reported)
	}
}

func TestRestoreFromJournalOnly(t *testing.T) {
	ctx := context.Background()
	journal := NewMemoryJournal()

	original := New(deltaReducer, 0, WithJournal(journal))
	original.Dispatch(deltaAction{Delta: 5}).Dispatch(deltaAction{Delta: 3})

	restored := New(deltaReducer, 0, WithJournal(journal))
	if err := Restore(ctx, restored); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if got := restored.State(); got != 8 {
		t.Errorf("restored state = %d, want 8", got)
	}
}

func TestRestoreFromSnapshotAndJournal(t *testing.T) {
	ctx := context.Background()
	journal := NewMemoryJournal()
	snaps := NewMemorySnapshotStore()

	original := New(deltaReducer, 0,
		WithStoreID("acc"),
		WithJournal(journal),
		WithSnapshots(snaps, EveryNDispatches(2)),
	)
	original.
		Dispatch(deltaAction{Delta: 10}).
		Dispatch(deltaAction{Delta: 20}). // snapshot at version 2, state 30
		Dispatch(deltaAction{Delta: 5})

	restored := New(deltaReducer, 0,
		WithStoreID("acc"),
		WithJournal(journal),
		WithSnapshots(snaps, EveryNDispatches(2)),
	)
	if err := Restore(ctx, restored); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if got := restored.State(); got != 35 {
		t.Errorf("restored state = %d, want 35", got)
	}
	if restored.Version() != 3 {
		t.Errorf("restored version = %d, want 3", restored.Version())
	}
}

func TestRestoreReplaysOnlyPostSnapshotActions(t *testing.T) {
	ctx := context.Background()
	journal := NewMemoryJournal()
	snaps := NewMemorySnapshotStore()

	original := New(deltaReducer, 0,
		WithStoreID("acc"),
		WithJournal(journal),
		WithSnapshots(snaps, EveryNDispatches(2)),
	)
	original.Dispatch(deltaAction{Delta: 1}).Dispatch(deltaAction{Delta: 2}).Dispatch(deltaAction{Delta: 4})

	restored := New(deltaReducer, 0,
		WithStoreID("acc"),
		WithJournal(journal),
		WithSnapshots(snaps, EveryNDispatches(2)),
	)

	replayed := 0
	restored.Subscribe(func(state int) { replayed++ })

	if err := Restore(ctx, restored); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	// Versions 1 and 2 came from the snapshot; only version 3 was replayed.
	if replayed != 1 {
		t.Errorf("%d actions replayed, want 1", replayed)
	}
	if got := restored.State(); got != 7 {
		t.Errorf("restored state = %d, want 7", got)
	}
}

func TestRestoreOnBareStore(t *testing.T) {
	store := New(counterReducer, 5)
	if err := Restore(context.Background(), store); err != nil {
		t.Fatalf("Restore on a store without persistence failed: %v", err)
	}
	if got := store.State(); got != 5 {
		t.Errorf("State() = %d, want 5", got)
	}
}
