package targeting

import "github.com/annel0/mmo-hitfx/internal/vec"

// Owner сущность, от имени которой выполняется действие
type Owner struct {
	ID       EntityID
	Team     TeamID
	Position vec.Vec3
}

// Classify возвращает категорию кандидата относительно владельца.
// Владелец всегда Self. Персонаж с командой: та же команда -> Friendly,
// иначе Enemy. Всё остальное, включая неизвестные типы, считается Prop.
func Classify(owner Owner, candidate EntityInfo) TargetCategory {
	if candidate.ID == owner.ID {
		return CategorySelf
	}
	if candidate.Kind == KindCharacter && candidate.HasTeam() {
		if owner.Team != NoTeam && owner.Team == candidate.Team {
			return CategoryFriendly
		}
		return CategoryEnemy
	}
	return CategoryProp
}

// IsValidTarget решает, может ли действие затронуть кандидата. Чистая функция.
func IsValidTarget(owner Owner, candidate EntityInfo, allowed CategorySet) bool {
	return allowed.Has(Classify(owner, candidate))
}
