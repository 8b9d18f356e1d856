package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-hitfx/internal/physics"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

var unit = vec.Vec3{1, 2, 1}

func character(body targeting.BodyID, id targeting.EntityID, team targeting.TeamID, at vec.Vec3) Body {
	return Body{
		ID:     body,
		Bounds: physics.NewAABB(at, unit),
		Layer:  targeting.LayerCharacter,
		Entity: &targeting.EntityInfo{ID: id, Kind: targeting.KindCharacter, Team: team},
	}
}

func wall(body targeting.BodyID, at, size vec.Vec3) Body {
	return Body{
		ID:       body,
		Bounds:   physics.NewAABB(at, size),
		Layer:    targeting.LayerStatic,
		Blocking: true,
	}
}

func TestSpaceInsertAndResolve(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 100, 1, vec.Vec3{2, 1, 2})))

	info, ok := s.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, targeting.EntityID(100), info.ID)
	assert.Equal(t, vec.Vec3{2, 1, 2}, info.Position)

	byEntity, ok := s.Entity(100)
	require.True(t, ok)
	assert.Equal(t, info, byEntity)

	err := s.Insert(character(1, 101, 1, vec.Zero))
	assert.ErrorIs(t, err, ErrBodyExists)
}

func TestSpaceStaticGeometryIsNotEntity(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(wall(9, vec.Vec3{0, 1, 5}, vec.Vec3{10, 2, 1})))

	_, ok := s.Resolve(9)
	assert.False(t, ok, "стена не является сетевой сущностью")
}

func TestSpaceOverlapSphere(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 100, 1, vec.Vec3{0, 1, 0})))
	require.NoError(t, s.Insert(character(2, 200, 2, vec.Vec3{3, 1, 0})))
	require.NoError(t, s.Insert(character(3, 300, 2, vec.Vec3{-20, 1, -20})))

	got := s.OverlapSphere(vec.Vec3{0, 1, 0}, 5)
	assert.Equal(t, []targeting.BodyID{1, 2}, got)

	assert.Empty(t, s.OverlapSphere(vec.Vec3{0, 1, 0}, 0))
}

func TestSpaceRaycastNearestAndMask(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 100, 1, vec.Vec3{0, 1, 0}))) // стрелок
	require.NoError(t, s.Insert(character(2, 200, 2, vec.Vec3{0, 1, 8})))
	require.NoError(t, s.Insert(wall(3, vec.Vec3{0, 1, 5}, vec.Vec3{4, 2, 1})))

	origin := vec.Vec3{0, 1, 0}
	forward := vec.Vec3{0, 0, 1}

	contact, ok := s.Raycast(origin, forward, 20, targeting.LayerAll)
	require.True(t, ok)
	assert.Equal(t, targeting.BodyID(3), contact.Body, "стена ближе цели")
	assert.InDelta(t, 4.5, contact.Distance, 1e-9)
	assert.Equal(t, vec.Vec3{0, 0, -1}, contact.Normal)

	contact, ok = s.Raycast(origin, forward, 20, targeting.LayerCharacter)
	require.True(t, ok)
	assert.Equal(t, targeting.BodyID(2), contact.Body, "маска пропускает статику, стрелок не мешает")
	assert.InDelta(t, 7.5, contact.Distance, 1e-9)

	_, ok = s.Raycast(origin, forward, 6, targeting.LayerCharacter)
	assert.False(t, ok, "цель за пределами дальности")
}

func TestSpaceLineTrace(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(wall(3, vec.Vec3{0, 1, 5}, vec.Vec3{4, 2, 1})))
	crate := Body{
		ID:       4,
		Bounds:   physics.NewAABB(vec.Vec3{6, 1, 0}, vec.Vec3{1, 1, 1}),
		Layer:    targeting.LayerProp,
		Blocking: true,
		Entity:   &targeting.EntityInfo{ID: 400, Kind: targeting.KindProp},
	}
	require.NoError(t, s.Insert(crate))

	assert.True(t, s.LineTrace(vec.Vec3{0, 1, 0}, vec.Vec3{0, 1, 10}))
	assert.False(t, s.LineTrace(vec.Vec3{0, 1, 0}, vec.Vec3{-5, 1, 0}))
	assert.False(t, s.LineTrace(vec.Vec3{0, 1, 0}, vec.Vec3{6, 1, 0}), "собственный объём цели не перекрывает")
	assert.False(t, s.LineTrace(vec.Vec3{6, 1, 0}, vec.Vec3{0, 1, 0}), "собственный объём источника не перекрывает")
	assert.True(t, s.LineTrace(vec.Vec3{6, 1, 0}, vec.Vec3{-6, 1, 10}), "стена между точками по-прежнему перекрывает")
}

func TestSpaceAreaWithBlockingBodies(t *testing.T) {
	s := NewSpace(4)
	owner := character(1, 1, 1, vec.Vec3{0, 1, 0})
	owner.Blocking = true
	enemy := character(2, 2, 2, vec.Vec3{3, 1, 0})
	enemy.Blocking = true
	require.NoError(t, s.Insert(owner))
	require.NoError(t, s.Insert(enemy))

	info, ok := s.Entity(1)
	require.True(t, ok)
	assert.False(t, s.LineTrace(info.Position, vec.Vec3{3, 1, 0}))

	hits, err := targeting.NewResolver(s, s, nil).Resolve(context.Background(), targeting.Request{
		Kind:     targeting.TargetingArea,
		Owner:    targeting.Owner{ID: info.ID, Team: info.Team, Position: info.Position},
		Origin:   info.Position,
		Radius:   5,
		Obstruct: true,
		Allowed:  targeting.NewCategorySet(targeting.CategoryEnemy),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1, "тело заклинателя не закрывает цели")
	assert.Equal(t, targeting.EntityID(2), hits[0].Target)
}

func TestSpaceMoveAndRemove(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 100, 1, vec.Vec3{0, 1, 0})))

	require.NoError(t, s.Move(1, vec.Vec3{40, 1, 40}))
	assert.Empty(t, s.OverlapSphere(vec.Vec3{0, 1, 0}, 3))
	assert.Equal(t, []targeting.BodyID{1}, s.OverlapSphere(vec.Vec3{40, 1, 40}, 1))

	assert.ErrorIs(t, s.Move(99, vec.Zero), ErrBodyNotFound)

	assert.True(t, s.Remove(1))
	assert.False(t, s.Remove(1))
	_, ok := s.Entity(100)
	assert.False(t, ok)
	assert.Zero(t, s.Stats().Cells, "пустые ячейки удаляются")
}

func TestSpaceNegativeCoordinates(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 100, 1, vec.Vec3{-0.5, 1, -0.5})))

	assert.Equal(t, []targeting.BodyID{1}, s.OverlapSphere(vec.Vec3{-1, 1, -1}, 1))
}

// O(команда 1), X враг в 3м, Y союзник в 2м,
// Z объект в 4м, W враг в 7м. Радиус 5, только враги.
func TestSpaceAreaScenario(t *testing.T) {
	s := NewSpace(4)
	require.NoError(t, s.Insert(character(1, 1, 1, vec.Vec3{0, 1, 0})))
	require.NoError(t, s.Insert(character(2, 2, 2, vec.Vec3{3, 1, 0})))
	require.NoError(t, s.Insert(character(3, 3, 1, vec.Vec3{0, 1, 2})))
	require.NoError(t, s.Insert(Body{
		ID:     4,
		Bounds: physics.NewAABB(vec.Vec3{-4, 0.5, 0}, vec.Vec3{0.5, 0.5, 0.5}),
		Layer:  targeting.LayerProp,
		Entity: &targeting.EntityInfo{ID: 4, Kind: targeting.KindProp},
	}))
	require.NoError(t, s.Insert(character(5, 5, 2, vec.Vec3{0, 1, 7})))

	r := targeting.NewResolver(s, s, nil)
	owner, ok := s.Entity(1)
	require.True(t, ok)

	hits, err := r.Resolve(context.Background(), targeting.Request{
		Kind:    targeting.TargetingArea,
		Owner:   targeting.Owner{ID: owner.ID, Team: owner.Team, Position: owner.Position},
		Origin:  owner.Position,
		Radius:  5,
		Allowed: targeting.NewCategorySet(targeting.CategoryEnemy),
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, targeting.EntityID(2), hits[0].Target)
}
