package forced

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentAcquireReleaseFoldsOnce(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	const n = 8
	tickets := make([]*Ticket, n)
	offThread(n, func(i int) {
		tk, err := m.Acquire(w, 0, 0)
		if err == nil {
			tickets[i] = tk
		}
	})
	for _, tk := range tickets {
		require.NotNil(t, tk)
		assert.Same(t, tickets[0], tk)
	}

	marks, _, async, _ := w.counts()
	assert.Zero(t, marks, "nothing reaches the engine before the fold")
	assert.Zero(t, async)

	loop.Tick()
	tk := tickets[0]
	assert.Equal(t, int32(n), tk.mainCount())
	assert.True(t, tk.IsForced())
	assert.True(t, m.IsForced(w, 0, 0))
	assert.Equal(t, 1, m.CountForced())
	marks, _, async, _ = w.counts()
	assert.Equal(t, 1, marks)
	assert.Equal(t, 1, async)

	w.finishLoads(nil)
	loop.Tick()
	c, err := tk.GetAsync().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), c.X())

	offThread(n, func(int) { tk.Release() })
	loop.Tick()

	_, unmarks, _, unloads := w.counts()
	assert.Equal(t, 1, unmarks)
	assert.Equal(t, 1, unloads)
	assert.False(t, m.IsForced(w, 0, 0))
	assert.Zero(t, m.CountForced())
	assert.False(t, w.marked(0, 0))
}

func TestAcquireOnMainIsImmediate(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	tk, err := m.Acquire(w, 3, -4)
	require.NoError(t, err)
	assert.True(t, tk.IsForced())
	assert.True(t, w.marked(3, -4))
	assert.Equal(t, "overworld", tk.WorldName())
	assert.Equal(t, int32(3), tk.X())
	assert.Equal(t, int32(-4), tk.Z())

	again, err := m.Acquire(w, 3, -4)
	require.NoError(t, err)
	assert.Same(t, tk, again)
	assert.Equal(t, int32(2), tk.mainCount())

	tk.Release()
	assert.True(t, tk.IsForced())
	tk.Release()
	assert.False(t, tk.IsForced())
	assert.False(t, w.marked(3, -4))

	_, err = tk.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrTicketReleased)
}

func TestOffThreadNetZeroNeverReachesEngine(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	var tk *Ticket
	offThread(1, func(int) {
		var err error
		tk, err = m.Acquire(w, 1, 1)
		if err == nil {
			tk.Release()
		}
	})
	require.NotNil(t, tk)

	loop.Tick()
	marks, unmarks, async, unloads := w.counts()
	assert.Zero(t, marks)
	assert.Zero(t, unmarks)
	assert.Zero(t, async)
	assert.Zero(t, unloads)
	assert.Zero(t, m.CountForced())

	_, err := tk.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrTicketReleased)
}

func TestSilentWorldUnloadFailsFutures(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("nether")

	held, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	pending := held.GetAsync()

	w.loaded.Store(false)
	offThread(1, func(int) {
		_, _ = m.Acquire(w, 5, 5)
	})
	loop.Tick()

	_, err = pending.Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	_, err = held.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	assert.False(t, held.IsForced())
	assert.Zero(t, m.CountForced())

	_, ok := m.table.get(w)
	assert.False(t, ok)

	_, err = m.Acquire(w, 0, 0)
	assert.ErrorIs(t, err, ErrWorldUnloaded)

	_, err = held.GetSync(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
}

func TestLoadTimeout(t *testing.T) {
	m, loop := newTestManager(t, Options{LoadTimeoutTicks: 3})
	w := newFakeWorld("overworld")

	slow, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	released, err := m.Acquire(w, 1, 0)
	require.NoError(t, err)

	loop.Tick()
	assert.Equal(t, 2, m.PendingLoads())
	loop.Tick()
	released.Release()
	assert.False(t, slow.GetAsync().IsDone())

	loop.Tick()
	assert.Zero(t, m.PendingLoads())
	_, err = slow.GetAsync().Wait(context.Background())
	require.ErrorIs(t, err, ErrLoadTimeout)
	var te *LoadTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Ticks)
	assert.Equal(t, "overworld", te.World)
	assert.True(t, slow.IsForced(), "a timeout does not release the chunk")

	_, err = released.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrTicketReleased)

	// A late completion does not override the timeout.
	w.finishLoads(nil)
	loop.Tick()
	_, err = slow.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrLoadTimeout)
}

func TestAlreadyLoadedChunkResolvesAtOnce(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")
	want, err := w.LoadChunk(context.Background(), 2, 2)
	require.NoError(t, err)

	tk, err := m.Acquire(w, 2, 2)
	require.NoError(t, err)
	c, ok, err := tk.GetAsync().Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, want, c)
	_, _, async, _ := w.counts()
	assert.Zero(t, async)
}

func TestFailedLoadRetriesWhileForced(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)

	w.finishLoads(errors.New("disk on fire"))
	loop.Tick()
	_, _, async, _ := w.counts()
	assert.Equal(t, 1, async, "failed load is requested again")
	assert.False(t, tk.GetAsync().IsDone())

	w.finishLoads(nil)
	loop.Tick()
	_, err = tk.GetAsync().Wait(context.Background())
	assert.NoError(t, err)
}

func TestFailedLoadAfterWorldGoneUnloadsRegistry(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	w.loaded.Store(false)
	w.finishLoads(errors.New("gone"))
	loop.Tick()

	_, err = tk.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	_, ok := m.table.get(w)
	assert.False(t, ok)
}

func TestGetSyncLoadsAndCaches(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	tk, err := m.Acquire(w, 7, 7)
	require.NoError(t, err)

	c, err := tk.GetSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(7), c.X())

	cached, ok, err := tk.GetAsync().Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, c, cached)

	_, err = tk.GetSync(context.Background())
	require.NoError(t, err)
	w.mu.Lock()
	assert.Equal(t, 1, w.syncLoads)
	w.mu.Unlock()
}

func TestGetSyncPropagatesEngineErrors(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")
	boom := errors.New("corrupt region file")
	w.syncErr = boom

	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	_, err = tk.GetSync(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, tk.GetAsync().IsDone())
}

func TestUnloadNotificationIsIdempotent(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("end")

	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	f := tk.GetAsync()

	w.loaded.Store(false)
	m.HandleWorldUnload(w)
	m.HandleWorldUnload(w)
	loop.Tick()

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	_, unmarks, _, unloads := w.counts()
	assert.Zero(t, unmarks, "markers die with the world")
	assert.Zero(t, unloads)

	// Releasing a stale ticket is harmless.
	tk.Release()
	loop.Tick()
	assert.Zero(t, m.CountForced())
}

func TestConcurrentFirstAcquireCreatesOneRegistry(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	const n = 16
	offThread(n, func(i int) {
		_, _ = m.Acquire(w, int32(i), 0)
	})
	assert.Len(t, m.table.snapshot(), 1)

	loop.Tick()
	assert.Equal(t, n, m.CountForced())
	marks, _, _, _ := w.counts()
	assert.Equal(t, n, marks)
}

func TestAcquireOnUnloadedWorld(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")
	w.loaded.Store(false)

	_, err := m.Acquire(w, 0, 0)
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	assert.Empty(t, m.table.snapshot())
}

func TestDisableReleasesMarkers(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	a, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	_, err = m.Acquire(w, 1, 1)
	require.NoError(t, err)
	loop.Tick()

	m.Disable()
	assert.False(t, m.Enabled())
	assert.False(t, w.marked(0, 0))
	assert.False(t, w.marked(1, 1))
	_, err = a.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)

	_, err = m.Acquire(w, 0, 0)
	assert.ErrorIs(t, err, ErrManagerDisabled)

	// Completions arriving after shutdown are dropped.
	w.finishLoads(nil)
	assert.Zero(t, m.completions.len())
}

func TestLegacyEngineUsesUnloadVeto(t *testing.T) {
	m, _ := newManagerWith(t, Options{})
	w := newFakeWorld("overworld")

	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)
	marks, _, async, _ := w.counts()
	assert.Zero(t, marks)
	assert.Equal(t, 1, async)
	assert.True(t, m.HandleChunkUnload(w, 0, 0))
	assert.False(t, m.HandleChunkUnload(w, 0, 1))

	tk.Release()
	assert.False(t, m.HandleChunkUnload(w, 0, 0))
	_, _, _, unloads := w.counts()
	assert.Equal(t, 1, unloads)
}

func TestFutureWaitHonoursContext(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	w := newFakeWorld("overworld")
	tk, err := m.Acquire(w, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tk.GetAsync().Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeltasRacingFoldsAreNeverLost(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")

	base, err := m.Acquire(w, 2, 2)
	require.NoError(t, err)
	require.Equal(t, int32(1), base.mainCount())

	const (
		workers = 8
		pairs   = 200
	)
	// tickWhile keeps folding on the test goroutine until every worker is done.
	tickWhile := func(fn func(i int)) {
		done := make(chan struct{})
		go func() {
			offThread(workers, fn)
			close(done)
		}()
		for {
			select {
			case <-done:
				loop.Tick()
				loop.Tick()
				return
			default:
				loop.Tick()
			}
		}
	}

	var mu sync.Mutex
	var extra []*Ticket
	tickWhile(func(int) {
		for j := 0; j < pairs; j++ {
			tk, err := m.Acquire(w, 2, 2)
			if err != nil {
				return
			}
			tk.Release()
		}
		tk, err := m.Acquire(w, 2, 2)
		if err != nil {
			return
		}
		mu.Lock()
		extra = append(extra, tk)
		mu.Unlock()
	})

	require.Len(t, extra, workers)
	assert.Equal(t, int32(1+workers), base.mainCount())
	assert.True(t, base.IsForced())
	assert.True(t, m.IsForced(w, 2, 2))
	marks, unmarks, _, unloads := w.counts()
	assert.Equal(t, 1, marks, "the count never dropped to zero")
	assert.Zero(t, unmarks)
	assert.Zero(t, unloads)

	tickWhile(func(i int) { extra[i].Release() })
	assert.Equal(t, int32(1), base.mainCount())
	assert.True(t, m.IsForced(w, 2, 2))

	base.Release()
	assert.False(t, m.IsForced(w, 2, 2))
	_, unmarks, _, _ = w.counts()
	assert.Equal(t, 1, unmarks)
}

func TestNoRegistryCreatedAfterDisable(t *testing.T) {
	m, loop := newTestManager(t, Options{})
	w := newFakeWorld("overworld")
	m.Disable()

	// An Acquire that passed the enabled check just before Disable ends up here.
	_, err := m.forcedWorld(w)
	assert.ErrorIs(t, err, ErrManagerDisabled)
	assert.Empty(t, m.table.snapshot())

	loop.Tick()
	marks, _, async, _ := w.counts()
	assert.Zero(t, marks)
	assert.Zero(t, async)
}
