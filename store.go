package dux

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Reducer computes the next state from the current state and a dispatched
// action. Reducers must be pure: no side effects and no dependence on mutable
// external state. Given the same (state, action) pair a reducer must always
// produce the same result; the store does not enforce this.
type Reducer[S, A any] func(state S, action A) S

// Subscriber receives the new state after each committed dispatch.
type Subscriber[S any] func(state S)

// PanicHandler is called when a subscriber panics during notification.
type PanicHandler func(token Token, panicValue any)

// Store holds exactly one current state value and mediates all transitions
// and notifications.
//
// A Store is single-owner: it performs no internal locking and must not be
// used from multiple goroutines without external synchronization. Every
// operation is synchronous and bounded by the cost of the user-supplied
// reducer and subscribers.
type Store[S, A any] struct {
	reducer Reducer[S, A]
	state   S
	version int64

	registry registry[S]

	id           string
	obs          Observability
	journal      Journal
	snapshots    *snapshotTracker
	panicHandler PanicHandler
	onError      func(error)

	notifying bool
	replaying bool
}

// New creates a Store whose current state equals initial and whose
// subscription registry is empty. The reducer is owned by the store for its
// whole lifetime and is only ever invoked from Dispatch.
func New[S, A any](reducer Reducer[S, A], initial S, opts ...Option) *Store[S, A] {
	if reducer == nil {
		panic("dux: nil reducer")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	s := &Store[S, A]{
		reducer:      reducer,
		state:        initial,
		id:           cfg.id,
		obs:          cfg.obs,
		journal:      cfg.journal,
		panicHandler: cfg.panicHandler,
		onError:      cfg.onError,
	}
	if cfg.snapshots != nil {
		s.snapshots = newSnapshotTracker(cfg.snapshots, cfg.policy)
	}
	return s
}

// State returns the current state: the value produced by the last committed
// dispatch, or the initial value if no dispatch has occurred.
func (s *Store[S, A]) State() S {
	return s.state
}

// Version returns the number of committed dispatches.
func (s *Store[S, A]) Version() int64 {
	return s.version
}

// ID returns the store's identifier. Snapshots are keyed by it.
func (s *Store[S, A]) ID() string {
	return s.id
}

// Dispatch applies one action through the reducer, commits the result as the
// new state and then notifies every subscriber that was registered when
// notification began, each exactly once, with the new state. It returns the
// receiver so calls can be chained.
//
// The reducer runs to completion and the state is committed before any
// subscriber runs; subscribers never observe the pre-transition state. A
// panicking reducer is not recovered and the state keeps its pre-dispatch
// value.
//
// Calling Dispatch from inside a subscriber panics: notification never
// nests. Subscribe and Unsubscribe are permitted during notification and
// take effect on the next dispatch.
func (s *Store[S, A]) Dispatch(action A) *Store[S, A] {
	if s.notifying {
		panic("dux: re-entrant Dispatch from a subscriber")
	}

	actionType := ActionType(action)
	ctx := context.Background()
	start := time.Now()
	if s.obs != nil {
		ctx = s.obs.OnDispatchStart(ctx, actionType)
	}

	s.state = s.reducer(s.state, action)
	s.version++

	if !s.replaying {
		if s.journal != nil {
			s.appendJournal(ctx, actionType, action)
		}
		if s.snapshots != nil {
			s.maybeSnapshot(ctx)
		}
	}

	s.notify(ctx)

	if s.obs != nil {
		s.obs.OnDispatchComplete(ctx, actionType, time.Since(start))
	}
	return s
}

// Subscribe registers fn to be invoked with the new state after every
// subsequent committed dispatch. The subscriber is not invoked at
// subscription time. It returns a token unique among all tokens ever issued
// by this store.
func (s *Store[S, A]) Subscribe(fn Subscriber[S]) Token {
	token := s.registry.add(fn)
	if s.obs != nil {
		s.obs.OnSubscribe(token, s.registry.len())
	}
	return token
}

// Unsubscribe removes the subscriber identified by token; no future dispatch
// will invoke it. If the token does not identify a currently registered
// subscriber the registry is left unchanged and an *UnknownTokenError
// carrying the token is returned. Failed unsubscription is idempotent: the
// same stale token always fails the same way.
func (s *Store[S, A]) Unsubscribe(token Token) error {
	if s.registry.remove(token) {
		if s.obs != nil {
			s.obs.OnUnsubscribe(token, s.registry.len(), nil)
		}
		return nil
	}

	err := &UnknownTokenError{Token: token}
	if s.obs != nil {
		s.obs.OnUnsubscribe(token, s.registry.len(), err)
	}
	return err
}

// notify invokes the subscribers registered at the moment notification
// begins. The registry is copied first so subscribers can subscribe or
// unsubscribe without affecting the current round.
func (s *Store[S, A]) notify(ctx context.Context) {
	subs := s.registry.all()

	s.notifying = true
	defer func() { s.notifying = false }()

	for _, sub := range subs {
		s.invoke(ctx, sub)
	}
}

// invoke runs one subscriber. A panicking subscriber is handed to the
// configured PanicHandler; without one the panic resumes after the
// dispatch-in-progress guard is cleared.
func (s *Store[S, A]) invoke(ctx context.Context, sub subscription[S]) {
	defer func() {
		if r := recover(); r != nil {
			if s.panicHandler != nil {
				s.panicHandler(sub.token, r)
				return
			}
			panic(r)
		}
	}()

	start := time.Now()
	nctx := ctx
	if s.obs != nil {
		nctx = s.obs.OnNotifyStart(ctx, sub.token)
	}

	sub.fn(s.state)

	if s.obs != nil {
		s.obs.OnNotifyComplete(nctx, time.Since(start))
	}
}

// appendJournal records a committed action. Journal failures never fail the
// dispatch; they are reported through the configured error handler.
func (s *Store[S, A]) appendJournal(ctx context.Context, actionType string, action A) {
	start := time.Now()

	data, err := json.Marshal(action)
	if err == nil {
		err = s.journal.Append(ctx, &Entry{
			Seq:        s.version,
			ActionType: actionType,
			Action:     data,
			Timestamp:  time.Now(),
		})
	}

	if s.obs != nil {
		s.obs.OnJournalAppend(time.Since(start), err)
	}
	if err != nil && s.onError != nil {
		s.onError(fmt.Errorf("dux: journal append at seq %d: %w", s.version, err))
	}
}

// ActionType returns the name used to label an action in journals, traces
// and metrics.
func ActionType(action any) string {
	t := reflect.TypeOf(action)
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
