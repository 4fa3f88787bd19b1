package dux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a store's state.
type Snapshot struct {
	StoreID   string          `json:"store_id"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

// SnapshotStore persists snapshots keyed by store ID. Only the latest
// snapshot per store is retained.
type SnapshotStore interface {
	// Save stores a snapshot, replacing any previous one for the same store.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Latest retrieves the most recent snapshot for a store. It returns an
	// error wrapping ErrNoSnapshot when none exists.
	Latest(ctx context.Context, storeID string) (*Snapshot, error)

	// Delete removes the snapshot for a store.
	Delete(ctx context.Context, storeID string) error
}

// SnapshotPolicy decides when a snapshot should be taken.
type SnapshotPolicy interface {
	// ShouldSnapshot returns true if a snapshot should be created.
	ShouldSnapshot(version, lastSnapshotVersion int64, lastSnapshotTime time.Time) bool
}

// PolicyFunc is a function that implements SnapshotPolicy.
type PolicyFunc func(version, lastSnapshotVersion int64, lastSnapshotTime time.Time) bool

func (f PolicyFunc) ShouldSnapshot(version, lastSnapshotVersion int64, lastSnapshotTime time.Time) bool {
	return f(version, lastSnapshotVersion, lastSnapshotTime)
}

// EveryNDispatches creates a policy that snapshots after every n committed
// dispatches.
func EveryNDispatches(n int64) SnapshotPolicy {
	if n <= 0 {
		n = 1
	}
	return PolicyFunc(func(version, lastVersion int64, lastTime time.Time) bool {
		return version-lastVersion >= n
	})
}

// TimeInterval creates a policy that snapshots when at least interval has
// passed since the last snapshot.
func TimeInterval(interval time.Duration) SnapshotPolicy {
	return PolicyFunc(func(version, lastVersion int64, lastTime time.Time) bool {
		return time.Since(lastTime) >= interval
	})
}

// Never creates a policy that never takes snapshots.
func Never() SnapshotPolicy {
	return PolicyFunc(func(version, lastVersion int64, lastTime time.Time) bool {
		return false
	})
}

// Combined creates a policy that triggers when ANY of the given policies
// does.
func Combined(policies ...SnapshotPolicy) SnapshotPolicy {
	return PolicyFunc(func(version, lastVersion int64, lastTime time.Time) bool {
		for _, policy := range policies {
			if policy.ShouldSnapshot(version, lastVersion, lastTime) {
				return true
			}
		}
		return false
	})
}

// snapshotTracker pairs a snapshot store with its policy and remembers the
// last snapshot taken for this store.
type snapshotTracker struct {
	store       SnapshotStore
	policy      SnapshotPolicy
	lastVersion int64
	lastTime    time.Time
}

func newSnapshotTracker(store SnapshotStore, policy SnapshotPolicy) *snapshotTracker {
	if policy == nil {
		policy = Never()
	}
	return &snapshotTracker{store: store, policy: policy}
}

func (t *snapshotTracker) due(version int64) bool {
	return t.policy.ShouldSnapshot(version, t.lastVersion, t.lastTime)
}

func (t *snapshotTracker) mark(version int64, at time.Time) {
	t.lastVersion = version
	t.lastTime = at
}

// maybeSnapshot persists the current state if the policy says so. Snapshot
// failures never fail the dispatch; they are reported through the configured
// error handler.
func (s *Store[S, A]) maybeSnapshot(ctx context.Context) {
	if !s.snapshots.due(s.version) {
		return
	}

	start := time.Now()

	data, err := json.Marshal(s.state)
	if err == nil {
		snap := &Snapshot{
			StoreID:   s.id,
			Version:   s.version,
			State:     data,
			Timestamp: time.Now(),
		}
		if err = s.snapshots.store.Save(ctx, snap); err == nil {
			s.snapshots.mark(snap.Version, snap.Timestamp)
		}
	}

	if s.obs != nil {
		s.obs.OnSnapshotSave(time.Since(start), err)
	}
	if err != nil && s.onError != nil {
		s.onError(fmt.Errorf("dux: snapshot at version %d: %w", s.version, err))
	}
}

// Restore rebuilds a store's state from its configured persistence: the
// latest snapshot, if a snapshot store is configured and holds one, then
// every journaled action recorded after it. Restore is meant to run on a
// freshly constructed store carrying the same store ID, before any dispatch.
func Restore[S, A any](ctx context.Context, store *Store[S, A]) error {
	from := int64(1)

	if store.snapshots != nil {
		snap, err := store.snapshots.store.Latest(ctx, store.id)
		switch {
		case errors.Is(err, ErrNoSnapshot):
			// No snapshot yet; replay the whole journal.
		case err != nil:
			return fmt.Errorf("dux: load snapshot: %w", err)
		default:
			var state S
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return fmt.Errorf("dux: decode snapshot state: %w", err)
			}
			store.state = state
			store.version = snap.Version
			store.snapshots.mark(snap.Version, snap.Timestamp)
			from = snap.Version + 1
		}
	}

	if store.journal == nil {
		return nil
	}
	return Replay(ctx, store, from)
}

// MemorySnapshotStore is an in-memory implementation of SnapshotStore. It is
// safe for concurrent use.
type MemorySnapshotStore struct {
	snapshots map[string]*Snapshot
	mu        sync.RWMutex
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

// NewMemorySnapshotStore creates a new in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		snapshots: make(map[string]*Snapshot),
	}
}

// Save implements SnapshotStore.
func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return errors.New("dux: snapshot cannot be nil")
	}
	if snapshot.StoreID == "" {
		return errors.New("dux: snapshot store ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.StoreID] = snapshot
	return nil
}

// Latest implements SnapshotStore.
func (s *MemorySnapshotStore) Latest(ctx context.Context, storeID string) (*Snapshot, error) {
	if storeID == "" {
		return nil, errors.New("dux: store ID is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, exists := s.snapshots[storeID]
	if !exists {
		return nil, fmt.Errorf("store %s: %w", storeID, ErrNoSnapshot)
	}

	// Copy so callers cannot mutate the stored snapshot.
	snapshotCopy := *snapshot
	return &snapshotCopy, nil
}

// Delete implements SnapshotStore.
func (s *MemorySnapshotStore) Delete(ctx context.Context, storeID string) error {
	if storeID == "" {
		return errors.New("dux: store ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, storeID)
	return nil
}
