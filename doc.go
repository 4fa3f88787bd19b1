// Package dux implements a synchronous, single-owner state container.
//
// A Store holds one immutable state value that can only be replaced by
// dispatching actions through a pure reducer. After every committed
// transition the store notifies its subscribers with the new state, in
// subscription order, before Dispatch returns.
//
// # Basic Usage
//
//	type Action int
//
//	const (
//	    Increment Action = iota
//	    Decrement
//	)
//
//	store := dux.New(func(state int, action Action) int {
//	    switch action {
//	    case Increment:
//	        return state + 1
//	    case Decrement:
//	        return state - 1
//	    }
//	    return state
//	}, 0)
//
//	token := store.Subscribe(func(state int) {
//	    fmt.Println("state is now", state)
//	})
//
//	store.Dispatch(Increment).Dispatch(Increment).Dispatch(Decrement)
//	// store.State() == 1
//
//	if err := store.Unsubscribe(token); err != nil {
//	    // *dux.UnknownTokenError: the token was never issued or already removed
//	}
//
// # Ownership Model
//
// A Store is exclusively owned by one logical caller. It performs no internal
// locking and must not be used from multiple goroutines without external
// synchronization. Every operation is a finite, synchronous computation;
// nothing blocks, suspends or retries.
//
// Dispatching from inside a subscriber panics: notification never nests.
// Subscribing or unsubscribing from inside a subscriber is allowed and takes
// effect on the next dispatch.
//
// # Persistence
//
// Persistence is an injected collaborator, never a core behavior. A Journal
// records every dispatched action, a SnapshotStore keeps point-in-time copies
// of the state, and a SnapshotPolicy decides when those are taken:
//
//	journal := dux.NewMemoryJournal()
//	snaps := dux.NewMemorySnapshotStore()
//
//	store := dux.New(reducer, initial,
//	    dux.WithJournal(journal),
//	    dux.WithSnapshots(snaps, dux.EveryNDispatches(100)),
//	)
//
//	// After a restart, rebuild state from the latest snapshot plus the
//	// journaled actions recorded after it:
//	if err := dux.Restore(ctx, store); err != nil {
//	    // ...
//	}
//
// The stores/sqlite package provides a durable implementation of both
// interfaces backed by a single SQLite database.
//
// # Observability
//
// The Observability interface receives hooks around dispatch, notification,
// subscription and persistence. The otel package implements it with
// OpenTelemetry traces and metrics:
//
//	obs, _ := otel.New()
//	store := dux.New(reducer, initial, dux.WithObservability(obs))
package dux
