package coordinator

import "time"

const (
	// DefaultSourceInterval is how often the source list is re-fetched
	// while sync work is outstanding
	DefaultSourceInterval = 3 * time.Second

	// DefaultQueueInterval is how often the queue snapshot is re-fetched
	// while the coordinator is running
	DefaultQueueInterval = 10 * time.Second
)

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSourceInterval overrides the fast source poll interval
func WithSourceInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sourceInterval = d
		}
	}
}

// WithQueueInterval overrides the queue snapshot poll interval
func WithQueueInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.queueInterval = d
		}
	}
}

// WithOnUpdate registers a callback invoked after every applied
// snapshot refresh and every in-flight flag change. Presentation
// layers use it to redraw; the callback must be cheap and must not
// call back into the coordinator's mutating methods.
func WithOnUpdate(fn func()) Option {
	return func(c *Coordinator) {
		c.onUpdate = fn
	}
}
