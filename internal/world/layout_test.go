package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

const sampleLayout = `
bodies:
  - id: 1
    center: [0, 1, 0]
    size: [1, 2, 1]
    layer: character
    entity: {id: 100, kind: character, team: 1, peer: 1}
  - id: 2
    center: [3, 1, 0]
    size: [1, 2, 1]
    layer: character
    entity: {id: 200, kind: character, team: 2}
  - id: 3
    center: [1.5, 1, 4]
    size: [0.5, 3, 4]
    blocking: true
`

func TestLayoutPopulate(t *testing.T) {
	l, err := ParseLayout([]byte(sampleLayout))
	require.NoError(t, err)
	require.Len(t, l.Bodies, 3)

	s := NewSpace(4)
	require.NoError(t, l.Populate(s))
	assert.Equal(t, 3, s.Stats().Bodies)
	assert.Equal(t, 2, s.Stats().EntityCount)

	info, ok := s.Entity(200)
	require.True(t, ok)
	assert.Equal(t, targeting.TeamID(2), info.Team)
	assert.Equal(t, vec.Vec3{3, 1, 0}, info.Position)

	wall, ok := s.Body(3)
	require.True(t, ok)
	assert.True(t, wall.Blocking)
	assert.Equal(t, targeting.LayerStatic, wall.Layer)

	assert.Equal(t, map[uint32]targeting.EntityID{1: 100}, l.Controllers())
}

func TestLayoutErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"zero size", "bodies: [{id: 1, center: [0,0,0], size: [0,1,1]}]"},
		{"bad layer", "bodies: [{id: 1, size: [1,1,1], layer: water}]"},
		{"bad kind", "bodies: [{id: 1, size: [1,1,1], entity: {id: 5, kind: ghost}}]"},
		{"duplicate", "bodies: [{id: 1, size: [1,1,1]}, {id: 1, size: [1,1,1]}]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := ParseLayout([]byte(tc.yaml))
			require.NoError(t, err)
			assert.Error(t, l.Populate(NewSpace(4)))
		})
	}

	_, err := ParseLayout([]byte("bodies: {"))
	assert.Error(t, err)
}

func TestLoadLayoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleLayout), 0o644))

	l, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Len(t, l.Bodies, 3)

	_, err = LoadLayout(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
