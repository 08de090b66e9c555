package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/l1jgo/chunkkeep/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worlds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWorldTable(t *testing.T) {
	tbl, err := LoadWorldTable(filepath.Join("..", "..", "data", "worlds.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Count())
	assert.Equal(t, "overworld", tbl.All()[0].Name)

	ow := tbl.Get("overworld")
	require.NotNil(t, ow)
	assert.Equal(t, world.ChunkPos{X: 7, Z: -3}, ow.SpawnChunk())
	assert.Len(t, ow.KeptChunks(), 25)

	nether := tbl.Get("nether")
	require.NotNil(t, nether)
	assert.Equal(t, []world.ChunkPos{{X: 0, Z: 0}, {X: 8, Z: 8}}, nether.KeptChunks())

	assert.Empty(t, tbl.Get("end").KeptChunks())
	assert.Nil(t, tbl.Get("missing"))
	assert.Same(t, nether, tbl.Get("NETHER"))
	assert.Equal(t, 27, tbl.KeptChunks())
}

func TestPinsInsideSpawnAreaAreNotDuplicated(t *testing.T) {
	path := writeYAML(t, `
- name: w
  keep_radius: 1
  pins:
    - {x: 1, z: 1}
    - {x: 5, z: 5}
`)
	tbl, err := LoadWorldTable(path)
	require.NoError(t, err)
	assert.Len(t, tbl.Get("w").KeptChunks(), 10)
}

func TestLoadWorldTableRejects(t *testing.T) {
	_, err := LoadWorldTable(writeYAML(t, "- seed: 1\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = LoadWorldTable(writeYAML(t, "- name: a\n- name: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadWorldTable(writeYAML(t, "- name: Nether\n- name: nether\n"))
	assert.ErrorContains(t, err, `duplicate world "nether" (already listed as "Nether")`)

	_, err = LoadWorldTable(writeYAML(t, "name: [\n"))
	assert.ErrorContains(t, err, "parse world list")

	_, err = LoadWorldTable(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read world list")
}
