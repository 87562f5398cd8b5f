package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Verdict is the outcome of one decision.
type Verdict int

const (
	Deny Verdict = iota
	Allow
)

func (v Verdict) String() string {
	if v == Allow {
		return "allow"
	}
	return "deny"
}

// State is everything persisted for one identifier: the timestamp of
// the last admitted request in milliseconds since epoch, and the
// bucket. Last advances only on admitted requests.
type State struct {
	Last   int64
	Bucket Bucket
}

// Store persists per-identifier state. Load returns (nil, nil) for an
// identifier that has never been seen. Implementations must be safe
// for concurrent use across identifiers; the Counter guarantees at
// most one in-flight call per identifier.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, id string, st *State) error
	Close() error
}

// Counter is the per-identifier decision engine. Its mutex serializes
// every decision for the identifier; the state is loaded from the
// store once, on the first decision after a cold start, and written
// back after every processed request before the verdict is returned.
type Counter struct {
	id    string
	store Store

	mu     sync.Mutex
	loaded bool
	state  State
}

func newCounter(id string, store Store) *Counter {
	return &Counter{id: id, store: store}
}

// Decision is the outcome of one request: the verdict plus the token
// accounting surfaced as response headers. Limit and Remaining are
// zero when no limit is configured.
type Decision struct {
	Verdict   Verdict
	Limit     int64
	Remaining int64
}

// Decide runs the admission algorithm for one request at the given
// time. The updated state is persisted before the decision is
// returned; a store failure fails the whole cycle and leaves the
// in-memory state untouched.
func (c *Counter) Decide(ctx context.Context, cfg Config, now time.Time) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		st, err := c.store.Load(ctx, c.id)
		if err != nil {
			return Decision{}, fmt.Errorf("load state for %q: %w", c.id, err)
		}
		if st != nil {
			c.state = *st
		}
		c.loaded = true
	}

	st := c.state
	v := decide(&st, cfg, now.UnixMilli())
	if err := c.store.Save(ctx, c.id, &st); err != nil {
		return Decision{}, fmt.Errorf("save state for %q: %w", c.id, err)
	}
	c.state = st

	dec := Decision{Verdict: v}
	if cfg.Requests != nil {
		dec.Limit = *cfg.Requests
		dec.Remaining = st.Bucket.Tokens
	}
	return dec, nil
}

// decide applies one request against the state and reports the
// verdict. All timestamps are milliseconds since epoch.
func decide(st *State, cfg Config, now int64) Verdict {
	// No configured limit: admit unconditionally, bypassing the bucket.
	if cfg.Requests == nil {
		st.Last = now
		return Allow
	}

	// Capacity is re-applied on every request so a changed quota takes
	// effect immediately.
	st.Bucket.SetCapacity(*cfg.Requests)

	var fill int64
	switch {
	case !st.Bucket.Active:
		// A bucket that has never been drawn from starts full.
		fill = *cfg.Requests
	case cfg.PerSeconds == nil:
		// Fixed allowance, no time-based replenishment.
		fill = 0
	default:
		rate := float64(*cfg.Requests) / float64(*cfg.PerSeconds)
		elapsed := (now - st.Last) / 1000
		if elapsed < 0 {
			// Clock regression contributes no tokens.
			elapsed = 0
		}
		// A fill is capped at capacity anyway; saturating here keeps
		// huge quotas from overflowing the float conversion.
		if refill := rate * float64(elapsed); refill >= float64(*cfg.Requests) {
			fill = *cfg.Requests
		} else {
			fill = int64(refill)
		}
	}

	// A blocked request receives no refill: the hold lasts until a
	// full window has passed since the last admitted request.
	if !shouldBlock(st, cfg, now) {
		st.Bucket.Fill(fill)
	}

	if st.Bucket.Take(false) {
		st.Last = now
		return Allow
	}
	return Deny
}

// shouldBlock reports whether a Blocking bucket is exhausted with the
// current window still open. Throttling never pre-blocks, and without
// a window there is nothing to hold.
func shouldBlock(st *State, cfg Config, now int64) bool {
	if cfg.Behavior != Blocking || cfg.PerSeconds == nil {
		return false
	}
	if st.Bucket.Take(true) {
		return false
	}
	return (now-st.Last)/1000 < *cfg.PerSeconds
}
