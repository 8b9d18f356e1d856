package targeting

import (
	"fmt"
	"strings"
)

// TargetCategory классифицирует цель относительно владельца действия
type TargetCategory uint8

const (
	CategorySelf TargetCategory = iota
	CategoryFriendly
	CategoryEnemy
	CategoryProp

	categoryCount
)

var categoryNames = [categoryCount]string{
	CategorySelf:     "self",
	CategoryFriendly: "friendly",
	CategoryEnemy:    "enemy",
	CategoryProp:     "prop",
}

// String возвращает строковое представление категории
func (c TargetCategory) String() string {
	if c < categoryCount {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory разбирает имя категории из данных действия
func ParseCategory(name string) (TargetCategory, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for c := TargetCategory(0); c < categoryCount; c++ {
		if categoryNames[c] == key {
			return c, nil
		}
	}
	return 0, fmt.Errorf("неизвестная категория цели %q", name)
}

// CategorySet множество разрешённых категорий. Проверка членства, не эксклюзивности.
type CategorySet struct {
	members [categoryCount]bool
}

var (
	// AllCategories все категории
	AllCategories = NewCategorySet(CategorySelf, CategoryFriendly, CategoryEnemy, CategoryProp)
	// AllOthers все категории кроме Self
	AllOthers = AllCategories.Without(CategorySelf)
)

// NewCategorySet создаёт множество из перечисленных категорий
func NewCategorySet(categories ...TargetCategory) CategorySet {
	var s CategorySet
	for _, c := range categories {
		if c < categoryCount {
			s.members[c] = true
		}
	}
	return s
}

// ParseCategorySet разбирает список имён; "all" и "all_others" раскрываются
func ParseCategorySet(names []string) (CategorySet, error) {
	var s CategorySet
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "all":
			s = s.Union(AllCategories)
		case "all_others", "allothers":
			s = s.Union(AllOthers)
		default:
			c, err := ParseCategory(name)
			if err != nil {
				return CategorySet{}, err
			}
			s = s.Union(NewCategorySet(c))
		}
	}
	return s, nil
}

// Has проверяет членство категории
func (s CategorySet) Has(c TargetCategory) bool {
	return c < categoryCount && s.members[c]
}

// Union возвращает объединение множеств
func (s CategorySet) Union(other CategorySet) CategorySet {
	var out CategorySet
	for i := range out.members {
		out.members[i] = s.members[i] || other.members[i]
	}
	return out
}

// Intersect возвращает пересечение множеств
func (s CategorySet) Intersect(other CategorySet) CategorySet {
	var out CategorySet
	for i := range out.members {
		out.members[i] = s.members[i] && other.members[i]
	}
	return out
}

// Without возвращает множество без указанных категорий
func (s CategorySet) Without(categories ...TargetCategory) CategorySet {
	out := s
	for _, c := range categories {
		if c < categoryCount {
			out.members[c] = false
		}
	}
	return out
}

// Empty сообщает, пусто ли множество
func (s CategorySet) Empty() bool {
	for _, m := range s.members {
		if m {
			return false
		}
	}
	return true
}

// Categories возвращает категории множества в каноническом порядке
func (s CategorySet) Categories() []TargetCategory {
	out := make([]TargetCategory, 0, categoryCount)
	for c := TargetCategory(0); c < categoryCount; c++ {
		if s.members[c] {
			out = append(out, c)
		}
	}
	return out
}

func (s CategorySet) String() string {
	categories := s.Categories()
	if len(categories) == 0 {
		return "none"
	}
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = c.String()
	}
	return strings.Join(names, "|")
}
