package targeting

import "github.com/annel0/mmo-hitfx/internal/vec"

// BodyID дескриптор физического объекта в пространственном запросе
type BodyID uint64

// LayerMask маска слоёв физических поверхностей
type LayerMask uint32

const (
	LayerStatic    LayerMask = 1 << iota // статическая геометрия
	LayerCharacter                       // персонажи
	LayerProp                            // разрушаемые объекты
	LayerTrigger                         // триггеры, не блокируют лучи

	LayerAll LayerMask = ^LayerMask(0)
)

// Contains проверяет, входит ли слой в маску
func (m LayerMask) Contains(layer LayerMask) bool {
	return m&layer != 0
}

// Contact результат направленного запроса
type Contact struct {
	Body     BodyID
	Point    vec.Vec3
	Normal   vec.Vec3
	Distance float64
}

// SpatialQuery внешний сервис пространственных запросов
type SpatialQuery interface {
	// OverlapSphere возвращает объекты, чей объём пересекает сферу. Порядок не определён.
	OverlapSphere(origin vec.Vec3, radius float64) []BodyID
	// Raycast возвращает первую поверхность вдоль луча в пределах maxDistance и маски
	Raycast(origin, direction vec.Vec3, maxDistance float64, mask LayerMask) (Contact, bool)
	// LineTrace сообщает, перекрыт ли отрезок a-b геометрией
	LineTrace(a, b vec.Vec3) bool
}

// EntityKind различает персонажей и прочие объекты
type EntityKind uint8

const (
	KindUnknown EntityKind = iota
	KindCharacter
	KindProp
)

// EntityInfo сведения о сетевой сущности за физическим объектом
type EntityInfo struct {
	ID       EntityID
	Kind     EntityKind
	Team     TeamID
	Position vec.Vec3 // опорная позиция (transform)
}

// HasTeam сообщает, принадлежит ли сущность команде
func (e EntityInfo) HasTeam() bool {
	return e.Team != NoTeam
}

// EntityResolver сопоставляет физический объект с сетевой сущностью
type EntityResolver interface {
	Resolve(body BodyID) (EntityInfo, bool)
}
