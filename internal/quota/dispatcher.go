package quota

import (
	"context"
	"sync"
	"time"
)

// Dispatcher routes each decision to the Counter owning the
// identifier, creating counters lazily. A single identifier's
// decisions are serialized by its counter; distinct identifiers run
// fully independently.
type Dispatcher struct {
	store Store

	mu       sync.RWMutex
	counters map[string]*Counter
}

func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store:    store,
		counters: make(map[string]*Counter),
	}
}

// Decide admits or rejects one request for the identifier under cfg.
// A store failure is returned as an error, never as a verdict.
func (d *Dispatcher) Decide(ctx context.Context, id string, cfg Config, now time.Time) (Decision, error) {
	return d.counter(id).Decide(ctx, cfg, now)
}

// Size returns the number of counters currently held.
func (d *Dispatcher) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.counters)
}

func (d *Dispatcher) Close() error {
	return d.store.Close()
}

func (d *Dispatcher) counter(id string) *Counter {
	d.mu.RLock()
	c, ok := d.counters[id]
	d.mu.RUnlock()
	if ok {
		return c
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if c, ok := d.counters[id]; ok {
		return c
	}
	c = newCounter(id, d.store)
	d.counters[id] = c
	return c
}
