package dux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry is one dispatched action as recorded by a Journal. Seq is the
// store's dispatch count at the time the action was committed, starting
// at 1.
type Entry struct {
	Seq        int64           `json:"seq"`
	ActionType string          `json:"action_type"`
	Action     json.RawMessage `json:"action"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Journal persists dispatched actions in order. Implementations may be
// shared between stores and should be safe for concurrent use.
type Journal interface {
	// Append stores one entry.
	Append(ctx context.Context, entry *Entry) error

	// Load returns entries with from <= Seq <= to, in order. A to of -1
	// means no upper bound.
	Load(ctx context.Context, from, to int64) ([]*Entry, error)

	// Seq returns the highest recorded sequence number, 0 when empty.
	Seq(ctx context.Context) (int64, error)
}

// Replay loads journaled actions with sequence numbers >= from and
// dispatches them through the store's reducer, rebuilding state in order.
// Journaling and snapshotting are suspended for the duration so replayed
// actions are not recorded again; subscribers are notified for every
// replayed transition.
func Replay[S, A any](ctx context.Context, store *Store[S, A], from int64) error {
	if store.journal == nil {
		return fmt.Errorf("dux: replay requires a journal (use WithJournal)")
	}

	to, err := store.journal.Seq(ctx)
	if err != nil {
		return fmt.Errorf("dux: journal seq: %w", err)
	}

	entries, err := store.journal.Load(ctx, from, to)
	if err != nil {
		return fmt.Errorf("dux: load journal: %w", err)
	}

	store.replaying = true
	defer func() { store.replaying = false }()

	for _, entry := range entries {
		var action A
		if err := json.Unmarshal(entry.Action, &action); err != nil {
			return fmt.Errorf("dux: decode action at seq %d: %w", entry.Seq, err)
		}
		store.Dispatch(action)
	}

	return nil
}

// MemoryJournal is a simple in-memory implementation of Journal. It is safe
// for concurrent use.
type MemoryJournal struct {
	entries []*Entry
	mu      sync.RWMutex
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries: make([]*Entry, 0),
	}
}

// Append implements Journal. Entries without a sequence number are assigned
// the next one.
func (j *MemoryJournal) Append(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Seq == 0 {
		entry.Seq = int64(len(j.entries)) + 1
	}
	j.entries = append(j.entries, entry)
	return nil
}

// Load implements Journal.
func (j *MemoryJournal) Load(ctx context.Context, from, to int64) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*Entry
	for _, entry := range j.entries {
		if entry.Seq >= from && (to == -1 || entry.Seq <= to) {
			result = append(result, entry)
		}
	}
	return result, nil
}

// Seq implements Journal.
func (j *MemoryJournal) Seq(ctx context.Context) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if len(j.entries) == 0 {
		return 0, nil
	}
	return j.entries[len(j.entries)-1].Seq, nil
}

// Len returns the number of recorded entries.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
