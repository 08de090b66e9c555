package forced

import (
	"errors"
	"fmt"

	"github.com/l1jgo/chunkkeep/internal/world"
)

var (
	// ErrWorldUnloaded is shared with the engine so callers can match either source.
	ErrWorldUnloaded   = world.ErrWorldUnloaded
	ErrLoadTimeout     = errors.New("forced chunk load timed out")
	ErrTicketReleased  = errors.New("ticket was released")
	ErrManagerDisabled = errors.New("forced chunk manager is disabled")
)

// LoadTimeoutError is delivered through a ticket future when its chunk did not
// load within the timeout window while still forced.
type LoadTimeoutError struct {
	World string
	X, Z  int32
	Ticks int
}

func (e *LoadTimeoutError) Error() string {
	return fmt.Sprintf("chunk [%d, %d] on world %s did not load within %d ticks", e.X, e.Z, e.World, e.Ticks)
}

func (e *LoadTimeoutError) Is(target error) bool {
	return target == ErrLoadTimeout
}

func worldUnloadedError(name string) error {
	return fmt.Errorf("world %s has unloaded, chunks cannot be kept loaded: %w", name, ErrWorldUnloaded)
}
