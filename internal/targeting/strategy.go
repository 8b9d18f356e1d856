package targeting

import (
	"fmt"
	"strings"

	"github.com/annel0/mmo-hitfx/internal/vec"
)

// TargetingKind определяет стратегию поиска целей
type TargetingKind uint8

const (
	TargetingSelf TargetingKind = iota + 1
	TargetingRanged
	TargetingArea
)

func (k TargetingKind) String() string {
	switch k {
	case TargetingSelf:
		return "self"
	case TargetingRanged:
		return "ranged"
	case TargetingArea:
		return "area"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseTargetingKind разбирает вид стратегии из данных действия
func ParseTargetingKind(s string) (TargetingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "self":
		return TargetingSelf, nil
	case "ranged", "melee", "raycast":
		return TargetingRanged, nil
	case "area", "aoe", "area_of_effect":
		return TargetingArea, nil
	default:
		return 0, fmt.Errorf("неизвестный вид наведения %q", s)
	}
}

// Request входные данные одного разрешения целей
type Request struct {
	Kind      TargetingKind
	Owner     Owner
	Origin    vec.Vec3
	Direction vec.Vec3    // Ranged
	MaxRange  float64     // Ranged
	Mask      LayerMask   // Ranged
	Radius    float64     // Area
	Obstruct  bool        // Area: отбрасывать цели без линии воздействия
	Allowed   CategorySet // Ranged, Area
}

// Strategy превращает запрос в набор HitRecord. Выполняется синхронно до конца.
type Strategy interface {
	Kind() TargetingKind
	Resolve(req Request) []HitRecord
}

// SelfStrategy всегда возвращает ровно одну запись о владельце
type SelfStrategy struct{}

func (SelfStrategy) Kind() TargetingKind { return TargetingSelf }

func (SelfStrategy) Resolve(req Request) []HitRecord {
	return []HitRecord{{
		Target:        req.Owner.ID,
		ContactPoint:  req.Owner.Position,
		ContactNormal: vec.Up,
	}}
}

// RangedStrategy ищет первую поверхность вдоль направления.
// Попадание в не-сущность или в запрещённую цель неотличимо от промаха.
type RangedStrategy struct {
	query    SpatialQuery
	entities EntityResolver
}

// NewRangedStrategy создаёт стратегию луча
func NewRangedStrategy(query SpatialQuery, entities EntityResolver) *RangedStrategy {
	return &RangedStrategy{query: query, entities: entities}
}

func (s *RangedStrategy) Kind() TargetingKind { return TargetingRanged }

func (s *RangedStrategy) Resolve(req Request) []HitRecord {
	dir, ok := vec.Normalized(req.Direction)
	if !ok || req.MaxRange <= 0 {
		return nil
	}

	contact, hit := s.query.Raycast(req.Origin, dir, req.MaxRange, req.Mask)
	if !hit {
		return nil
	}

	info, ok := s.entities.Resolve(contact.Body)
	if !ok {
		return nil
	}
	if !IsValidTarget(req.Owner, info, req.Allowed) {
		return nil
	}

	return []HitRecord{{
		Target:        info.ID,
		ContactPoint:  contact.Point,
		ContactNormal: contact.Normal,
	}}
}

// AreaStrategy собирает все сущности в сфере.
// Линия воздействия проверяется до опорной позиции кандидата, а не до
// ближайшей точки поверхности: тонкое укрытие у края может ложно блокировать,
// крупный объём может ложно пропускать.
type AreaStrategy struct {
	query    SpatialQuery
	entities EntityResolver
}

// NewAreaStrategy создаёт стратегию области
func NewAreaStrategy(query SpatialQuery, entities EntityResolver) *AreaStrategy {
	return &AreaStrategy{query: query, entities: entities}
}

func (s *AreaStrategy) Kind() TargetingKind { return TargetingArea }

func (s *AreaStrategy) Resolve(req Request) []HitRecord {
	if req.Radius <= 0 {
		return nil
	}

	bodies := s.query.OverlapSphere(req.Origin, req.Radius)
	if len(bodies) == 0 {
		return nil
	}

	seen := make(map[EntityID]struct{}, len(bodies))
	hits := make([]HitRecord, 0, len(bodies))
	for _, body := range bodies {
		info, ok := s.entities.Resolve(body)
		if !ok {
			continue
		}
		if _, dup := seen[info.ID]; dup {
			continue
		}
		if req.Obstruct && s.query.LineTrace(req.Origin, info.Position) {
			continue
		}
		if !IsValidTarget(req.Owner, info, req.Allowed) {
			continue
		}
		seen[info.ID] = struct{}{}
		hits = append(hits, HitRecord{
			Target:        info.ID,
			ContactPoint:  info.Position,
			ContactNormal: vec.Zero,
		})
	}
	return hits
}
