package forced

import "github.com/l1jgo/chunkkeep/internal/world"

// markerStrategy decides how the engine is told a chunk must stay loaded.
type markerStrategy interface {
	setMarker(w World, t *Ticket, owner string, forced bool)
}

// ticketMarkers uses the engine's keep-loaded markers.
type ticketMarkers struct{}

func (ticketMarkers) setMarker(w World, t *Ticket, owner string, forced bool) {
	w.SetForceLoaded(t.pos.X, t.pos.Z, owner, forced)
}

// unloadVeto is used on engines without markers. Nothing is registered; the
// manager instead cancels ChunkUnloadEvent for forced chunks.
type unloadVeto struct{}

func (unloadVeto) setMarker(World, *Ticket, string, bool) {}

func strategyFor(caps world.Capabilities) markerStrategy {
	if caps.TicketAPI {
		return ticketMarkers{}
	}
	return unloadVeto{}
}
