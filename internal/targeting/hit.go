package targeting

import (
	"fmt"

	"github.com/annel0/mmo-hitfx/internal/vec"
)

// EntityID стабильный идентификатор сетевой сущности
type EntityID uint64

// TeamID идентификатор фракции. NoTeam несравним: никогда не "свой".
type TeamID uint16

// NoTeam означает отсутствие команды
const NoTeam TeamID = 0

// HitRecord авторитетный результат разрешения цели. Неизменяем после создания.
type HitRecord struct {
	Target        EntityID
	ContactPoint  vec.Vec3
	ContactNormal vec.Vec3
}

func (h HitRecord) String() string {
	p := h.ContactPoint
	return fmt.Sprintf("hit(target=%d at %.2f,%.2f,%.2f)", h.Target, p[0], p[1], p[2])
}
