package data

import (
	"fmt"
	"os"

	"github.com/l1jgo/chunkkeep/internal/world"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// WorldEntry describes a world created at boot and the area kept loaded
// around its spawn point.
type WorldEntry struct {
	Name       string     `yaml:"name"`
	Seed       int64      `yaml:"seed"`
	SpawnX     int32      `yaml:"spawn_x"` // block coordinates
	SpawnZ     int32      `yaml:"spawn_z"`
	KeepRadius int32      `yaml:"keep_radius"` // in chunks; negative disables
	Pins       []ChunkPin `yaml:"pins"`
	Note       string     `yaml:"note"`
}

// ChunkPin keeps one extra chunk loaded, in chunk coordinates.
type ChunkPin struct {
	X int32 `yaml:"x"`
	Z int32 `yaml:"z"`
}

// SpawnChunk returns the chunk holding the spawn point.
func (e *WorldEntry) SpawnChunk() world.ChunkPos {
	return world.ChunkPos{X: world.BlockToChunk(e.SpawnX), Z: world.BlockToChunk(e.SpawnZ)}
}

// KeptChunks returns the spawn square followed by the pins, without duplicates.
func (e *WorldEntry) KeptChunks() []world.ChunkPos {
	out := world.Square(e.SpawnChunk(), e.KeepRadius)
	seen := make(map[int64]struct{}, len(out)+len(e.Pins))
	for _, p := range out {
		seen[p.Key()] = struct{}{}
	}
	for _, pin := range e.Pins {
		p := world.ChunkPos{X: pin.X, Z: pin.Z}
		if _, dup := seen[p.Key()]; dup {
			continue
		}
		seen[p.Key()] = struct{}{}
		out = append(out, p)
	}
	return out
}

// WorldTable holds the world list in file order. Names are matched the way
// the server matches them, ignoring case.
type WorldTable struct {
	worlds []*WorldEntry
	byName map[string]*WorldEntry
}

func nameKey(name string) string {
	return cases.Fold().String(name)
}

// LoadWorldTable loads worlds.yaml.
func LoadWorldTable(path string) (*WorldTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world list: %w", err)
	}
	var entries []WorldEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse world list: %w", err)
	}
	t := &WorldTable{
		worlds: make([]*WorldEntry, 0, len(entries)),
		byName: make(map[string]*WorldEntry, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		if e.Name == "" {
			return nil, fmt.Errorf("parse world list: entry %d has no name", i)
		}
		key := nameKey(e.Name)
		if prev, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("parse world list: duplicate world %q (already listed as %q)", e.Name, prev.Name)
		}
		t.byName[key] = e
		t.worlds = append(t.worlds, e)
	}
	return t, nil
}

// Get returns the entry for name, or nil.
func (t *WorldTable) Get(name string) *WorldEntry {
	return t.byName[nameKey(name)]
}

// All returns the entries in file order.
func (t *WorldTable) All() []*WorldEntry {
	return t.worlds
}

// Count returns the total number of worlds loaded.
func (t *WorldTable) Count() int {
	return len(t.worlds)
}

// KeptChunks returns the number of chunks all entries keep loaded.
func (t *WorldTable) KeptChunks() int {
	n := 0
	for _, e := range t.worlds {
		n += len(e.KeptChunks())
	}
	return n
}
