package vec

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 представляет трёхмерный вектор мировых координат
type Vec3 = mgl64.Vec3

var (
	// Zero нулевой вектор (нормаль "не определена")
	Zero = Vec3{0, 0, 0}
	// Up мировая вертикаль, ориентация по умолчанию
	Up = Vec3{0, 1, 0}
)

// DistanceTo вычисляет расстояние между точками
func DistanceTo(a, b Vec3) float64 {
	return b.Sub(a).Len()
}

// Normalized возвращает единичный вектор; false для нулевой длины
func Normalized(v Vec3) (Vec3, bool) {
	length := v.Len()
	if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return Zero, false
	}
	return v.Mul(1 / length), true
}

// IsFinite проверяет, что все компоненты конечны
func IsFinite(v Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual сравнивает векторы с допуском eps
func ApproxEqual(a, b Vec3, eps float64) bool {
	return a.ApproxEqualThreshold(b, eps)
}
