package physics

import (
	"math"

	"github.com/annel0/mmo-hitfx/internal/vec"
)

const parallelEpsilon = 1e-12

// AABB представляет выровненный по осям ограничивающий объём
type AABB struct {
	Min vec.Vec3
	Max vec.Vec3
}

// NewAABB создаёт объём по центру и полному размеру
func NewAABB(center, size vec.Vec3) AABB {
	half := size.Mul(0.5)
	return AABB{Min: center.Sub(half), Max: center.Add(half)}
}

// Center возвращает центр объёма (опорная точка сущности)
func (b AABB) Center() vec.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size возвращает размеры объёма
func (b AABB) Size() vec.Vec3 {
	return b.Max.Sub(b.Min)
}

// Translate возвращает объём, сдвинутый так, чтобы центр оказался в center
func (b AABB) Translate(center vec.Vec3) AABB {
	return NewAABB(center, b.Size())
}

// ContainsPoint проверяет, находится ли точка внутри объёма (границы включительно)
func (b AABB) ContainsPoint(p vec.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// ClosestPoint возвращает ближайшую к p точку объёма
func (b AABB) ClosestPoint(p vec.Vec3) vec.Vec3 {
	var out vec.Vec3
	for i := 0; i < 3; i++ {
		out[i] = math.Max(b.Min[i], math.Min(p[i], b.Max[i]))
	}
	return out
}

// IntersectsSphere проверяет пересечение объёма со сферой
func (b AABB) IntersectsSphere(center vec.Vec3, radius float64) bool {
	d := b.ClosestPoint(center).Sub(center)
	return d.Dot(d) <= radius*radius
}

// IntersectRay пересекает луч с объёмом методом плит.
// dir должен быть единичным. Возвращает расстояние до точки входа и нормаль
// поверхности в ней. Если начало луча внутри объёма, расстояние 0, нормаль -dir.
func (b AABB) IntersectRay(origin, dir vec.Vec3, maxDist float64) (float64, vec.Vec3, bool) {
	tEnter := math.Inf(-1)
	tExit := math.Inf(1)
	var normal vec.Vec3

	for i := 0; i < 3; i++ {
		if math.Abs(dir[i]) < parallelEpsilon {
			if origin[i] < b.Min[i] || origin[i] > b.Max[i] {
				return 0, vec.Zero, false
			}
			continue
		}

		inv := 1 / dir[i]
		t1 := (b.Min[i] - origin[i]) * inv
		t2 := (b.Max[i] - origin[i]) * inv

		// Ближняя грань: Min при движении в +, Max при движении в -
		faceSign := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			faceSign = 1.0
		}

		if t1 > tEnter {
			tEnter = t1
			normal = vec.Zero
			normal[i] = faceSign
		}
		if t2 < tExit {
			tExit = t2
		}
		if tEnter > tExit {
			return 0, vec.Zero, false
		}
	}

	if tExit < 0 {
		return 0, vec.Zero, false
	}
	if tEnter < 0 {
		return 0, dir.Mul(-1), true
	}
	if tEnter > maxDist {
		return 0, vec.Zero, false
	}
	return tEnter, normal, true
}

// IntersectsSegment проверяет, пересекает ли отрезок a-b объём
func (b AABB) IntersectsSegment(a, bp vec.Vec3) bool {
	delta := bp.Sub(a)
	length := delta.Len()
	if length == 0 {
		return b.ContainsPoint(a)
	}
	_, _, hit := b.IntersectRay(a, delta.Mul(1/length), length)
	return hit
}

// Overlaps проверяет пересечение двух объёмов
func (b AABB) Overlaps(other AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < other.Min[i] || b.Min[i] > other.Max[i] {
			return false
		}
	}
	return true
}

// Union возвращает объём, охватывающий оба
func (b AABB) Union(other AABB) AABB {
	var out AABB
	for i := 0; i < 3; i++ {
		out.Min[i] = math.Min(b.Min[i], other.Min[i])
		out.Max[i] = math.Max(b.Max[i], other.Max[i])
	}
	return out
}
