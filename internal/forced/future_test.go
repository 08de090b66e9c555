package forced

import (
	"context"
	"errors"
	"testing"

	"github.com/l1jgo/chunkkeep/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureFirstResolutionWins(t *testing.T) {
	f := newFuture()
	_, ok, _ := f.Result()
	assert.False(t, ok)
	assert.False(t, f.IsDone())

	c := &world.Chunk{Pos: world.ChunkPos{X: 1, Z: 2}}
	assert.True(t, f.complete(c))
	assert.False(t, f.fail(errors.New("late")))
	assert.False(t, f.complete(&world.Chunk{}))

	got, ok, err := f.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, c, got)

	select {
	case <-f.Done():
	default:
		t.Fatal("Done must be closed after resolution")
	}
}

func TestFailedFuture(t *testing.T) {
	f := failedFuture(ErrTicketReleased)
	assert.True(t, f.IsDone())
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTicketReleased)
}

func TestTerminateSwapsInFailedFuture(t *testing.T) {
	tk := &Ticket{}
	first := newFuture()
	tk.future.Store(first)

	cause := worldUnloadedError("nether")
	tk.terminate(cause)
	assert.NotSame(t, first, tk.GetAsync())

	_, err := first.Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	_, err = tk.GetAsync().Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorldUnloaded)
	assert.Contains(t, err.Error(), "nether")
}

func TestLoadTimeoutErrorMatches(t *testing.T) {
	err := error(&LoadTimeoutError{World: "overworld", X: -1, Z: 4, Ticks: 6000})
	assert.ErrorIs(t, err, ErrLoadTimeout)
	assert.NotErrorIs(t, err, ErrWorldUnloaded)
	assert.Equal(t, "chunk [-1, 4] on world overworld did not load within 6000 ticks", err.Error())
}
