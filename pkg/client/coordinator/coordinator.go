// Package coordinator keeps a local view of the source registry close
// to backend truth while a panel is visible.
//
// It owns two named timers: a fast source-list poll that runs only
// while sync work is outstanding, and a slower queue-snapshot poll
// that runs for the whole visible lifetime. Both feed a single
// event loop, so refreshes of one stream are applied strictly in
// request order and never overlap. Manual actions proxy the registry
// client and trigger an immediate out-of-band refresh of the affected
// snapshots.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codelens/sourcereg/pkg/client"
	"github.com/codelens/sourcereg/pkg/models"
)

// Registry is the client surface the coordinator drives. *client.Client
// satisfies it.
type Registry interface {
	List(ctx context.Context) ([]*models.Source, error)
	Create(ctx context.Context, spec client.CreateSpec) (*models.Source, error)
	Update(ctx context.Context, id string, patch client.UpdatePatch) (*models.Source, error)
	Delete(ctx context.Context, id string) error
	RequestSync(ctx context.Context, id string) error
	CancelQueued(ctx context.Context, sourceID string) error
	QueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
	UpdateAccess(ctx context.Context, id string, access models.Access, userIDs string) (*models.Source, error)
}

var _ Registry = (*client.Client)(nil)

// Coordinator polls the registry and caches the latest snapshots.
// Create one per visible panel; Stop must be called on teardown so no
// timers leak across open/close cycles.
type Coordinator struct {
	registry Registry

	sourceInterval time.Duration
	queueInterval  time.Duration
	onUpdate       func()

	mu       sync.Mutex
	sources  []*models.Source
	queue    *models.QueueSnapshot
	inFlight map[string]struct{}
	fastOn   bool

	kickSources chan struct{}
	kickQueue   chan struct{}

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a coordinator over the given registry client
func New(registry Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:       registry,
		sourceInterval: DefaultSourceInterval,
		queueInterval:  DefaultQueueInterval,
		inFlight:       make(map[string]struct{}),
		kickSources:    make(chan struct{}, 1),
		kickQueue:      make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins polling: both snapshots are fetched immediately (cold
// start), then the timers take over. Start returns once the loop is
// running.
func (c *Coordinator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	go c.run(loopCtx)
}

// Stop cancels both timers and waits for the event loop to exit. An
// in-flight request is allowed to complete; its result is discarded or
// harmlessly applied, since snapshots are full replacements.
func (c *Coordinator) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
		<-c.done
	}
}

// Sources returns a copy of the cached source list
func (c *Coordinator) Sources() []*models.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Source, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, s.Clone())
	}
	return out
}

// Queue returns a copy of the cached queue snapshot, or nil before the
// first successful fetch
func (c *Coordinator) Queue() *models.QueueSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return nil
	}
	return c.queue.Clone()
}

// Pending reports whether a manual action for the source is still in
// flight. Presentation layers use this for per-item busy indicators.
func (c *Coordinator) Pending(sourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[sourceID]
	return ok
}

// FastPollActive reports whether the fast source-list timer is running
func (c *Coordinator) FastPollActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fastOn
}

// CreateSource registers a new source and refreshes the source list
func (c *Coordinator) CreateSource(ctx context.Context, spec client.CreateSpec) (*models.Source, error) {
	src, err := c.registry.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	c.kick(c.kickSources)
	return src, nil
}

// UpdateSource patches a source and refreshes the source list
func (c *Coordinator) UpdateSource(ctx context.Context, id string, patch client.UpdatePatch) (*models.Source, error) {
	src, err := c.registry.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	c.kick(c.kickSources)
	return src, nil
}

// SyncNow requests a sync for the source. The source is flagged
// in-flight until the backend acknowledges, and both snapshots are
// refreshed immediately afterwards.
func (c *Coordinator) SyncNow(ctx context.Context, sourceID string) error {
	c.setInFlight(sourceID, true)
	defer c.setInFlight(sourceID, false)

	if err := c.registry.RequestSync(ctx, sourceID); err != nil {
		return err
	}
	c.kick(c.kickSources)
	c.kick(c.kickQueue)
	return nil
}

// CancelQueued cancels a queued-but-not-started sync. A conflict or
// not-found outcome means cancellation lost the race with the worker;
// the error is surfaced and the local snapshot is left untouched until
// the follow-up refresh reports backend truth.
func (c *Coordinator) CancelQueued(ctx context.Context, sourceID string) error {
	c.setInFlight(sourceID, true)
	defer c.setInFlight(sourceID, false)

	err := c.registry.CancelQueued(ctx, sourceID)
	c.kick(c.kickQueue)
	c.kick(c.kickSources)
	return err
}

// DeleteSource removes a source and refreshes both snapshots
func (c *Coordinator) DeleteSource(ctx context.Context, sourceID string) error {
	c.setInFlight(sourceID, true)
	defer c.setInFlight(sourceID, false)

	if err := c.registry.Delete(ctx, sourceID); err != nil {
		return err
	}
	c.kick(c.kickSources)
	c.kick(c.kickQueue)
	return nil
}

// SaveAccess updates a source's sharing settings. userIDs is free-form
// delimited text; parsing happens in the client.
func (c *Coordinator) SaveAccess(ctx context.Context, sourceID string, access models.Access, userIDs string) (*models.Source, error) {
	c.setInFlight(sourceID, true)
	defer c.setInFlight(sourceID, false)

	src, err := c.registry.UpdateAccess(ctx, sourceID, access, userIDs)
	if err != nil {
		return nil, err
	}
	c.kick(c.kickSources)
	return src, nil
}

// run is the single-threaded event loop that owns both timers
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	defer c.setFastActive(false)

	// Cold start: never render a previous session's data without at
	// least one refresh attempt.
	c.refreshSources(ctx)
	c.refreshQueue(ctx)

	queueTicker := time.NewTicker(c.queueInterval)
	defer queueTicker.Stop()

	var (
		fastTicker *time.Ticker
		fastC      <-chan time.Time
	)
	stopFast := func() {
		if fastTicker != nil {
			fastTicker.Stop()
			fastTicker = nil
			fastC = nil
			c.setFastActive(false)
			slog.Debug("Fast source poll stopped")
		}
	}
	defer stopFast()

	adjustFast := func() {
		if c.wantFastPoll() {
			if fastTicker == nil {
				fastTicker = time.NewTicker(c.sourceInterval)
				fastC = fastTicker.C
				c.setFastActive(true)
				slog.Debug("Fast source poll started", "interval", c.sourceInterval)
			}
		} else {
			stopFast()
		}
	}
	adjustFast()

	for {
		select {
		case <-fastC:
			c.refreshSources(ctx)
			adjustFast()
		case <-queueTicker.C:
			c.refreshQueue(ctx)
			adjustFast()
		case <-c.kickSources:
			c.refreshSources(ctx)
			adjustFast()
		case <-c.kickQueue:
			c.refreshQueue(ctx)
			adjustFast()
		case <-ctx.Done():
			return
		}
	}
}

// refreshSources replaces the cached source list. A failed refresh
// keeps the previous snapshot and does not stop the timers; the next
// tick retries unconditionally.
func (c *Coordinator) refreshSources(ctx context.Context) {
	sources, err := c.registry.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Source list refresh failed, keeping cached snapshot", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.sources = sources
	c.mu.Unlock()
	c.notify()
}

// refreshQueue replaces the cached queue snapshot, with the same
// failure policy as refreshSources.
func (c *Coordinator) refreshQueue(ctx context.Context) {
	snap, err := c.registry.QueueSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Queue snapshot refresh failed, keeping cached snapshot", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.queue = snap
	c.mu.Unlock()
	c.notify()
}

// wantFastPoll decides whether the fast source poll should run: either
// a cached source is still syncing, or the queue reports outstanding
// work the source list does not reflect yet. The two views are
// eventually consistent, so neither is trusted to imply the other.
func (c *Coordinator) wantFastPoll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.sources {
		if s.Status == models.StatusSyncing {
			return true
		}
	}
	if c.queue != nil && (c.queue.Length > 0 || c.queue.Running != nil) {
		return true
	}
	return false
}

// kick requests an immediate out-of-band refresh. The channel holds at
// most one pending request; collapsing bursts is fine because every
// refresh is a full replacement.
func (*Coordinator) kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (c *Coordinator) setInFlight(sourceID string, on bool) {
	c.mu.Lock()
	if on {
		c.inFlight[sourceID] = struct{}{}
	} else {
		delete(c.inFlight, sourceID)
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) setFastActive(on bool) {
	c.mu.Lock()
	c.fastOn = on
	c.mu.Unlock()
}

func (c *Coordinator) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
