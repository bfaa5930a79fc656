package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens/sourcereg/pkg/client"
	"github.com/codelens/sourcereg/pkg/models"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeRegistry struct {
	mu          sync.Mutex
	sources     []*models.Source
	queue       models.QueueSnapshot
	listErr     error
	cancelErr   error
	listCalls   int
	queueCalls  int
	syncCalls   []string
	cancelCalls []string
	deleteCalls []string

	// when non-nil, RequestSync blocks until the channel is closed
	blockSync chan struct{}
}

func (f *fakeRegistry) List(_ context.Context) ([]*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*models.Source, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeRegistry) QueueSnapshot(_ context.Context) (*models.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueCalls++
	return f.queue.Clone(), nil
}

func (f *fakeRegistry) RequestSync(_ context.Context, id string) error {
	f.mu.Lock()
	block := f.blockSync
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, id)
	f.queue.Length++
	return nil
}

func (f *fakeRegistry) CancelQueued(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, sourceID)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if f.queue.Length > 0 {
		f.queue.Length--
	}
	return nil
}

func (f *fakeRegistry) Create(_ context.Context, spec client.CreateSpec) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := &models.Source{ID: "created", Origin: spec.Origin, Status: models.StatusConfigured, Access: models.AccessPrivate}
	f.sources = append(f.sources, src)
	return src.Clone(), nil
}

func (f *fakeRegistry) Update(_ context.Context, id string, patch client.UpdatePatch) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sources {
		if s.ID == id {
			if patch.Origin != nil {
				s.Origin = *patch.Origin
			}
			return s.Clone(), nil
		}
	}
	return nil, client.ErrNotFound
}

func (f *fakeRegistry) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, id)
	for i, s := range f.sources {
		if s.ID == id {
			f.sources = append(f.sources[:i], f.sources[i+1:]...)
			return nil
		}
	}
	return client.ErrNotFound
}

func (f *fakeRegistry) UpdateAccess(_ context.Context, id string, access models.Access, _ string) (*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sources {
		if s.ID == id {
			s.Access = access
			return s.Clone(), nil
		}
	}
	return nil, client.ErrNotFound
}

func (f *fakeRegistry) setSources(sources ...*models.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = sources
}

func (f *fakeRegistry) setQueue(q models.QueueSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = q
}

func (f *fakeRegistry) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeRegistry) counts() (list, queue int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.queueCalls
}

func githubSource(id string, status models.Status) *models.Source {
	return &models.Source{
		ID: id,
		Origin: models.Origin{
			Type:   models.OriginTypeGitHub,
			GitHub: &models.GitHubOrigin{Repository: "acme/" + id},
		},
		Status: status,
		Access: models.AccessPrivate,
	}
}

func startCoordinator(t *testing.T, reg *fakeRegistry, opts ...Option) *Coordinator {
	t.Helper()
	base := []Option{
		WithSourceInterval(10 * time.Millisecond),
		WithQueueInterval(20 * time.Millisecond),
	}
	c := New(reg, append(base, opts...)...)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func TestColdStartFetchesBothSnapshots(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusReady))
	reg.setQueue(models.QueueSnapshot{Length: 2})

	c := startCoordinator(t, reg)

	require.Eventually(t, func() bool {
		return len(c.Sources()) == 1 && c.Queue() != nil
	}, waitFor, tick)
	assert.Equal(t, "s1", c.Sources()[0].ID)
	assert.Equal(t, 2, c.Queue().Length)
}

func TestFastPollIdleWhenNoWorkOutstanding(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusReady))

	c := startCoordinator(t, reg)

	require.Eventually(t, func() bool { return len(c.Sources()) == 1 }, waitFor, tick)
	assert.False(t, c.FastPollActive())

	// The source list must not be polled on the fast timer while idle.
	list1, _ := reg.counts()
	time.Sleep(60 * time.Millisecond)
	list2, _ := reg.counts()
	assert.Equal(t, list1, list2)
}

func TestFastPollFollowsSyncingSources(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusSyncing))

	c := startCoordinator(t, reg)

	require.Eventually(t, c.FastPollActive, waitFor, tick)

	// Once the backend reports Ready the next fetch observes it and the
	// timer stops on the following adjustment.
	reg.setSources(githubSource("s1", models.StatusReady))
	require.Eventually(t, func() bool { return !c.FastPollActive() }, waitFor, tick)

	sources := c.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, models.StatusReady, sources[0].Status)
}

func TestFastPollFollowsQueueBacklog(t *testing.T) {
	t.Parallel()

	// Queued work can exist before any cached source shows Syncing; the
	// queue view must drive the fast poll independently.
	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusConfigured))
	reg.setQueue(models.QueueSnapshot{Length: 1})

	c := startCoordinator(t, reg)

	require.Eventually(t, c.FastPollActive, waitFor, tick)

	reg.setQueue(models.QueueSnapshot{})
	require.Eventually(t, func() bool { return !c.FastPollActive() }, waitFor, tick)
}

func TestFailedRefreshKeepsCachedSnapshot(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusSyncing))

	c := startCoordinator(t, reg)
	require.Eventually(t, func() bool { return len(c.Sources()) == 1 }, waitFor, tick)

	reg.setListErr(errors.New("boom"))
	list1, _ := reg.counts()

	// Polling keeps retrying and the cached list survives the outage.
	require.Eventually(t, func() bool {
		list2, _ := reg.counts()
		return list2 > list1+2
	}, waitFor, tick)
	require.Len(t, c.Sources(), 1)
	assert.Equal(t, "s1", c.Sources()[0].ID)

	reg.setListErr(nil)
	reg.setSources(githubSource("s1", models.StatusReady))
	require.Eventually(t, func() bool {
		s := c.Sources()
		return len(s) == 1 && s[0].Status == models.StatusReady
	}, waitFor, tick)
}

func TestSyncNowRefreshesAndTracksInFlight(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{blockSync: make(chan struct{})}
	reg.setSources(githubSource("s1", models.StatusConfigured))

	// Long intervals so only the out-of-band refresh can explain the
	// post-action fetches.
	c := startCoordinator(t, reg,
		WithSourceInterval(time.Hour), WithQueueInterval(time.Hour))
	require.Eventually(t, func() bool { return len(c.Sources()) == 1 }, waitFor, tick)

	list1, queue1 := reg.counts()

	errCh := make(chan error, 1)
	go func() { errCh <- c.SyncNow(context.Background(), "s1") }()

	require.Eventually(t, func() bool { return c.Pending("s1") }, waitFor, tick)
	close(reg.blockSync)

	require.NoError(t, <-errCh)
	require.Eventually(t, func() bool { return !c.Pending("s1") }, waitFor, tick)

	require.Eventually(t, func() bool {
		list2, queue2 := reg.counts()
		return list2 > list1 && queue2 > queue1
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		q := c.Queue()
		return q != nil && q.Length == 1
	}, waitFor, tick)
}

func TestCancelQueuedConflictLeavesSnapshotAlone(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{cancelErr: client.ErrConflict}
	reg.setSources(githubSource("s1", models.StatusSyncing))
	reg.setQueue(models.QueueSnapshot{
		Running: &models.RunningJob{JobID: "j1", SourceID: "s1", StartedAt: time.Now()},
	})

	c := startCoordinator(t, reg)
	require.Eventually(t, func() bool { return c.Queue() != nil }, waitFor, tick)

	err := c.CancelQueued(context.Background(), "s1")
	require.ErrorIs(t, err, client.ErrConflict)

	// Cancellation lost the race: the running job stays visible and the
	// source stays Syncing until the backend says otherwise.
	require.Eventually(t, func() bool {
		q := c.Queue()
		return q != nil && q.Running != nil && q.Running.SourceID == "s1"
	}, waitFor, tick)
	assert.Equal(t, models.StatusSyncing, c.Sources()[0].Status)
	assert.False(t, c.Pending("s1"))
}

func TestDeleteSourceRefreshesList(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusReady), githubSource("s2", models.StatusReady))

	c := startCoordinator(t, reg,
		WithSourceInterval(time.Hour), WithQueueInterval(time.Hour))
	require.Eventually(t, func() bool { return len(c.Sources()) == 2 }, waitFor, tick)

	require.NoError(t, c.DeleteSource(context.Background(), "s1"))

	require.Eventually(t, func() bool {
		s := c.Sources()
		return len(s) == 1 && s[0].ID == "s2"
	}, waitFor, tick)
}

func TestSaveAccessRefreshesList(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusReady))

	c := startCoordinator(t, reg,
		WithSourceInterval(time.Hour), WithQueueInterval(time.Hour))
	require.Eventually(t, func() bool { return len(c.Sources()) == 1 }, waitFor, tick)

	src, err := c.SaveAccess(context.Background(), "s1", models.AccessPublic, "")
	require.NoError(t, err)
	assert.Equal(t, models.AccessPublic, src.Access)

	require.Eventually(t, func() bool {
		s := c.Sources()
		return len(s) == 1 && s[0].Access == models.AccessPublic
	}, waitFor, tick)
}

func TestOnUpdateFires(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusReady))

	c := startCoordinator(t, reg, WithOnUpdate(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2 // sources + queue cold start
	}, waitFor, tick)
	_ = c
}

func TestSyncLifecycleObservedEndToEnd(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusConfigured))

	c := startCoordinator(t, reg)
	require.Eventually(t, func() bool { return len(c.Sources()) == 1 }, waitFor, tick)
	assert.False(t, c.FastPollActive())

	// Request a sync: the queue reports the pending entry and the fast
	// poll wakes up.
	require.NoError(t, c.SyncNow(context.Background(), "s1"))
	require.Eventually(t, func() bool {
		q := c.Queue()
		return q != nil && q.Length == 1
	}, waitFor, tick)
	require.Eventually(t, c.FastPollActive, waitFor, tick)

	// Worker picks the job up.
	reg.setQueue(models.QueueSnapshot{
		Running: &models.RunningJob{JobID: "j1", SourceID: "s1", StartedAt: time.Now()},
	})
	reg.setSources(githubSource("s1", models.StatusSyncing))
	require.Eventually(t, func() bool {
		s := c.Sources()
		return len(s) == 1 && s[0].Status == models.StatusSyncing
	}, waitFor, tick)

	// Job finishes: source goes Ready with a sync timestamp and the
	// fast poll winds down.
	done := githubSource("s1", models.StatusReady)
	now := time.Now()
	done.LastSyncedAt = &now
	reg.setQueue(models.QueueSnapshot{})
	reg.setSources(done)

	require.Eventually(t, func() bool {
		s := c.Sources()
		return len(s) == 1 && s[0].Status == models.StatusReady && s[0].LastSyncedAt != nil
	}, waitFor, tick)
	require.Eventually(t, func() bool { return !c.FastPollActive() }, waitFor, tick)
}

func TestStopHaltsPolling(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	reg.setSources(githubSource("s1", models.StatusSyncing))

	c := New(reg,
		WithSourceInterval(10*time.Millisecond),
		WithQueueInterval(10*time.Millisecond))
	c.Start(context.Background())

	require.Eventually(t, c.FastPollActive, waitFor, tick)
	c.Stop()

	assert.False(t, c.FastPollActive())
	list1, queue1 := reg.counts()
	time.Sleep(50 * time.Millisecond)
	list2, queue2 := reg.counts()
	assert.Equal(t, list1, list2)
	assert.Equal(t, queue1, queue2)
}
