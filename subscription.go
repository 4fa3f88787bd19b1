package dux

// Token identifies one registered subscriber of a Store. Tokens are
// allocated from a monotonic uint64 counter and never reused within a
// store's lifetime; the counter is wide enough that wrap-around is not a
// practical concern.
type Token uint64

// subscription pairs a token with its callback.
type subscription[S any] struct {
	token Token
	fn    Subscriber[S]
}

// registry owns subscriber lifetime and token allocation. It keeps
// subscriptions in an order-preserving slice keyed by token so notification
// order is deterministic: subscribers are notified in subscription order.
type registry[S any] struct {
	subs []subscription[S]
	next Token
}

func (r *registry[S]) add(fn Subscriber[S]) Token {
	token := r.next
	r.next++
	r.subs = append(r.subs, subscription[S]{token: token, fn: fn})
	return token
}

func (r *registry[S]) remove(token Token) bool {
	for i, sub := range r.subs {
		if sub.token == token {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// all returns a copy of the current subscriptions so callers can iterate
// while the registry is mutated underneath.
func (r *registry[S]) all() []subscription[S] {
	if len(r.subs) == 0 {
		return nil
	}
	out := make([]subscription[S], len(r.subs))
	copy(out, r.subs)
	return out
}

func (r *registry[S]) len() int {
	return len(r.subs)
}
