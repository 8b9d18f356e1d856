package world

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/annel0/mmo-hitfx/internal/physics"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

var (
	// ErrBodyExists тело с таким ID уже в мире
	ErrBodyExists = errors.New("world: body already exists")
	// ErrBodyNotFound тело не найдено
	ErrBodyNotFound = errors.New("world: body not found")
)

// Body физический объект пространства
type Body struct {
	ID       targeting.BodyID
	Bounds   physics.AABB
	Layer    targeting.LayerMask
	Blocking bool                  // перекрывает линию воздействия
	Entity   *targeting.EntityInfo // nil для статической геометрии
}

// Space пространственный индекс тел на сетке x/z.
// Реализует targeting.SpatialQuery и targeting.EntityResolver.
type Space struct {
	mu       sync.RWMutex
	cellSize float64
	cells    map[cellKey]map[targeting.BodyID]struct{}
	bodies   map[targeting.BodyID]*indexedBody
	entities map[targeting.EntityID]targeting.BodyID
}

// cellKey ключ ячейки сетки
type cellKey struct {
	x, z int
}

type indexedBody struct {
	body  Body
	cells []cellKey
}

// Stats статистика индекса
type Stats struct {
	Bodies      int
	Cells       int
	MaxPerCell  int
	AvgPerCell  float64
	EntityCount int
}

func (s Stats) String() string {
	return fmt.Sprintf("Space: %d bodies (%d entities), %d cells, avg %.2f bodies/cell, max %d bodies/cell",
		s.Bodies, s.EntityCount, s.Cells, s.AvgPerCell, s.MaxPerCell)
}

// NewSpace создаёт пустое пространство
func NewSpace(cellSize float64) *Space {
	if cellSize <= 0 {
		cellSize = 16.0
	}
	return &Space{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[targeting.BodyID]struct{}),
		bodies:   make(map[targeting.BodyID]*indexedBody),
		entities: make(map[targeting.EntityID]targeting.BodyID),
	}
}

// Insert добавляет тело
func (s *Space) Insert(b Body) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bodies[b.ID]; exists {
		return fmt.Errorf("%w: %d", ErrBodyExists, b.ID)
	}
	if b.Entity != nil {
		info := *b.Entity
		b.Entity = &info
		s.entities[info.ID] = b.ID
	}

	indexed := &indexedBody{body: b}
	s.link(indexed)
	s.bodies[b.ID] = indexed
	return nil
}

// Move переносит центр тела в новую точку
func (s *Space) Move(id targeting.BodyID, center vec.Vec3) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexed, ok := s.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBodyNotFound, id)
	}

	s.unlink(indexed)
	indexed.body.Bounds = indexed.body.Bounds.Translate(center)
	s.link(indexed)
	return nil
}

// Remove удаляет тело; false если его не было
func (s *Space) Remove(id targeting.BodyID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexed, ok := s.bodies[id]
	if !ok {
		return false
	}
	s.unlink(indexed)
	delete(s.bodies, id)
	if indexed.body.Entity != nil {
		delete(s.entities, indexed.body.Entity.ID)
	}
	return true
}

// Body возвращает копию тела
func (s *Space) Body(id targeting.BodyID) (Body, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexed, ok := s.bodies[id]
	if !ok {
		return Body{}, false
	}
	return indexed.body, true
}

// Entity возвращает сведения о сущности по её ID
func (s *Space) Entity(id targeting.EntityID) (targeting.EntityInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bodyID, ok := s.entities[id]
	if !ok {
		return targeting.EntityInfo{}, false
	}
	return s.resolveLocked(bodyID)
}

// Resolve сопоставляет тело с сетевой сущностью.
// Позиция сущности - центр её объёма.
func (s *Space) Resolve(body targeting.BodyID) (targeting.EntityInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(body)
}

func (s *Space) resolveLocked(body targeting.BodyID) (targeting.EntityInfo, bool) {
	indexed, ok := s.bodies[body]
	if !ok || indexed.body.Entity == nil {
		return targeting.EntityInfo{}, false
	}
	info := *indexed.body.Entity
	info.Position = indexed.body.Bounds.Center()
	return info, true
}

// OverlapSphere возвращает тела, пересекающие сферу, по возрастанию ID
func (s *Space) OverlapSphere(origin vec.Vec3, radius float64) []targeting.BodyID {
	if radius <= 0 {
		return nil
	}
	r := vec.Vec3{radius, radius, radius}
	query := physics.AABB{Min: origin.Sub(r), Max: origin.Add(r)}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]targeting.BodyID, 0)
	for _, indexed := range s.candidatesLocked(query) {
		if indexed.body.Bounds.IntersectsSphere(origin, radius) {
			result = append(result, indexed.body.ID)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Raycast возвращает ближайшее тело вдоль луча в пределах маски.
// Тела, внутри которых начинается луч, не учитываются.
// При равном расстоянии побеждает меньший ID.
func (s *Space) Raycast(origin, direction vec.Vec3, maxDistance float64, mask targeting.LayerMask) (targeting.Contact, bool) {
	dir, ok := vec.Normalized(direction)
	if !ok || maxDistance <= 0 {
		return targeting.Contact{}, false
	}
	end := origin.Add(dir.Mul(maxDistance))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  targeting.Contact
		found bool
	)
	for _, indexed := range s.candidatesLocked(segmentBounds(origin, end)) {
		if !mask.Contains(indexed.body.Layer) || indexed.body.Bounds.ContainsPoint(origin) {
			continue
		}
		dist, normal, hit := indexed.body.Bounds.IntersectRay(origin, dir, maxDistance)
		if !hit {
			continue
		}
		if found && (dist > best.Distance || (dist == best.Distance && indexed.body.ID > best.Body)) {
			continue
		}
		best = targeting.Contact{
			Body:     indexed.body.ID,
			Point:    origin.Add(dir.Mul(dist)),
			Normal:   normal,
			Distance: dist,
		}
		found = true
	}
	return best, found
}

// LineTrace сообщает, перекрыт ли отрезок a-b блокирующим телом.
// Тела, содержащие начальную или конечную точку, преградой не считаются:
// это сам источник и сама цель.
func (s *Space) LineTrace(a, b vec.Vec3) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, indexed := range s.candidatesLocked(segmentBounds(a, b)) {
		if !indexed.body.Blocking {
			continue
		}
		if indexed.body.Bounds.ContainsPoint(a) || indexed.body.Bounds.ContainsPoint(b) {
			continue
		}
		if indexed.body.Bounds.IntersectsSegment(a, b) {
			return true
		}
	}
	return false
}

// Stats возвращает статистику индекса
func (s *Space) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Bodies:      len(s.bodies),
		Cells:       len(s.cells),
		EntityCount: len(s.entities),
	}
	total := 0
	for _, members := range s.cells {
		total += len(members)
		if len(members) > st.MaxPerCell {
			st.MaxPerCell = len(members)
		}
	}
	if st.Cells > 0 {
		st.AvgPerCell = float64(total) / float64(st.Cells)
	}
	return st
}

// Вспомогательные методы

func (s *Space) link(indexed *indexedBody) {
	indexed.cells = s.cellsForBounds(indexed.body.Bounds)
	for _, key := range indexed.cells {
		members, ok := s.cells[key]
		if !ok {
			members = make(map[targeting.BodyID]struct{})
			s.cells[key] = members
		}
		members[indexed.body.ID] = struct{}{}
	}
}

func (s *Space) unlink(indexed *indexedBody) {
	for _, key := range indexed.cells {
		members, ok := s.cells[key]
		if !ok {
			continue
		}
		delete(members, indexed.body.ID)
		if len(members) == 0 {
			delete(s.cells, key)
		}
	}
	indexed.cells = nil
}

// candidatesLocked собирает уникальные тела, чьи ячейки пересекают область.
// Если область покрывает больше ячеек, чем занято, перебираются все тела.
func (s *Space) candidatesLocked(area physics.AABB) []*indexedBody {
	minX, minZ, maxX, maxZ := s.cellRange(area)
	span := float64(maxX-minX+1) * float64(maxZ-minZ+1)

	result := make([]*indexedBody, 0)
	if span > float64(len(s.cells)) {
		for _, indexed := range s.bodies {
			if indexed.body.Bounds.Overlaps(area) {
				result = append(result, indexed)
			}
		}
		return result
	}

	seen := make(map[targeting.BodyID]struct{})
	for x := minX; x <= maxX; x++ {
		for z := minZ; z <= maxZ; z++ {
			for id := range s.cells[cellKey{x: x, z: z}] {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				result = append(result, s.bodies[id])
			}
		}
	}
	return result
}

// cellsForBounds возвращает ключи ячеек, которые пересекаются с границами
func (s *Space) cellsForBounds(b physics.AABB) []cellKey {
	minX, minZ, maxX, maxZ := s.cellRange(b)
	cells := make([]cellKey, 0, (maxX-minX+1)*(maxZ-minZ+1))
	for x := minX; x <= maxX; x++ {
		for z := minZ; z <= maxZ; z++ {
			cells = append(cells, cellKey{x: x, z: z})
		}
	}
	return cells
}

func (s *Space) cellRange(b physics.AABB) (minX, minZ, maxX, maxZ int) {
	minX = int(math.Floor(b.Min[0] / s.cellSize))
	minZ = int(math.Floor(b.Min[2] / s.cellSize))
	maxX = int(math.Floor(b.Max[0] / s.cellSize))
	maxZ = int(math.Floor(b.Max[2] / s.cellSize))
	return
}

func segmentBounds(a, b vec.Vec3) physics.AABB {
	var box physics.AABB
	for i := 0; i < 3; i++ {
		box.Min[i] = math.Min(a[i], b[i])
		box.Max[i] = math.Max(a[i], b[i])
	}
	return box
}

var (
	_ targeting.SpatialQuery   = (*Space)(nil)
	_ targeting.EntityResolver = (*Space)(nil)
)
