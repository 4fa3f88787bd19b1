package dux

// Option configures a Store at construction time.
type Option func(*config)

// config holds all construction options.
type config struct {
	id           string
	obs          Observability
	journal      Journal
	snapshots    SnapshotStore
	policy       SnapshotPolicy
	panicHandler PanicHandler
	onError      func(error)
}

func defaultConfig() *config {
	return &config{}
}

// WithStoreID sets the store's identifier. Snapshots are keyed by it, so a
// store that should restore an earlier store's snapshots must carry the same
// ID. Defaults to a random UUID.
func WithStoreID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// WithObservability sets the hooks implementation notified around store
// operations. See the otel package for an OpenTelemetry implementation.
func WithObservability(obs Observability) Option {
	return func(c *config) {
		c.obs = obs
	}
}

// WithJournal enables action journaling: every committed dispatch appends
// the JSON-encoded action to j. Journal failures never fail a dispatch; they
// are reported through the error handler.
func WithJournal(j Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// WithSnapshots enables state snapshots. After each committed dispatch the
// policy decides whether the JSON-encoded state is saved to store. A nil
// policy never snapshots.
func WithSnapshots(store SnapshotStore, policy SnapshotPolicy) Option {
	return func(c *config) {
		c.snapshots = store
		c.policy = policy
	}
}

// WithPanicHandler sets a function called when a subscriber panics during
// notification. With a handler installed the panic is contained and the
// remaining subscribers are still notified; without one it propagates to the
// Dispatch caller.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *config) {
		c.panicHandler = h
	}
}

// WithErrorHandler sets a function that receives journal and snapshot
// failures. These are reported, never retried, and never fail a dispatch.
func WithErrorHandler(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}
