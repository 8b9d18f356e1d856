package effects

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// ErrUnknownAction ключ действия отсутствует в каталоге.
// Это несогласованность данных между узлами, а не промах.
var ErrUnknownAction = errors.New("effects: unknown action")

// ActionID ключ действия в каталоге
type ActionID string

// Moment момент жизненного цикла эффекта
type Moment uint8

const (
	MomentStart Moment = iota
	MomentUpdate
	MomentEnd
	MomentCancel
)

func (m Moment) String() string {
	switch m {
	case MomentStart:
		return "start"
	case MomentUpdate:
		return "update"
	case MomentEnd:
		return "end"
	case MomentCancel:
		return "cancel"
	default:
		return fmt.Sprintf("moment(%d)", uint8(m))
	}
}

// EffectDescriptor описание одного визуального или звукового эффекта
type EffectDescriptor struct {
	Name  string `yaml:"name" json:"name"`
	Kind  string `yaml:"kind" json:"kind"`
	Asset string `yaml:"asset" json:"asset"`
}

// TargetingDef параметры наведения действия
type TargetingDef struct {
	Kind     targeting.TargetingKind
	MaxRange float64
	Radius   float64
	Obstruct bool
	Mask     targeting.LayerMask
	Allowed  targeting.CategorySet
}

// Definition запись каталога
type Definition struct {
	ID        ActionID
	Targeting TargetingDef
	Effects   []EffectDescriptor
}

// Request строит запрос наведения для владельца.
// Для ближнего и дальнего боя origin - начало луча, для области - центр сферы.
func (d Definition) Request(owner targeting.Owner, origin, direction vec.Vec3) targeting.Request {
	return targeting.Request{
		Kind:      d.Targeting.Kind,
		Owner:     owner,
		Origin:    origin,
		Direction: direction,
		MaxRange:  d.Targeting.MaxRange,
		Mask:      d.Targeting.Mask,
		Radius:    d.Targeting.Radius,
		Obstruct:  d.Targeting.Obstruct,
		Allowed:   d.Targeting.Allowed,
	}
}

// Catalog неизменяемый каталог действий, общий для всех узлов
type Catalog struct {
	actions map[ActionID]Definition
}

// NewCatalog создаёт каталог из готовых определений
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{actions: make(map[ActionID]Definition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, errors.New("действие без id")
		}
		if _, dup := c.actions[d.ID]; dup {
			return nil, fmt.Errorf("дублирующееся действие %q", d.ID)
		}
		d.Effects = append([]EffectDescriptor(nil), d.Effects...)
		c.actions[d.ID] = d
	}
	return c, nil
}

// Lookup возвращает определение действия
func (c *Catalog) Lookup(id ActionID) (Definition, error) {
	d, ok := c.actions[id]
	if !ok {
		return Definition{}, pkgerrors.WithStack(fmt.Errorf("%w: %q", ErrUnknownAction, id))
	}
	return d, nil
}

// Effects возвращает упорядоченные дескрипторы эффектов действия
func (c *Catalog) Effects(id ActionID) ([]EffectDescriptor, error) {
	d, err := c.Lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]EffectDescriptor(nil), d.Effects...), nil
}

// Len количество действий
func (c *Catalog) Len() int {
	return len(c.actions)
}

// IDs идентификаторы действий в лексикографическом порядке
func (c *Catalog) IDs() []ActionID {
	ids := make([]ActionID, 0, len(c.actions))
	for id := range c.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --- YAML ---

type catalogFile struct {
	Actions []actionYAML `yaml:"actions"`
}

type actionYAML struct {
	ID        string             `yaml:"id"`
	Targeting targetingYAML      `yaml:"targeting"`
	Effects   []EffectDescriptor `yaml:"effects"`
}

type targetingYAML struct {
	Kind     string   `yaml:"kind"`
	Range    float64  `yaml:"range"`
	Radius   float64  `yaml:"radius"`
	Obstruct bool     `yaml:"obstruct"`
	Mask     []string `yaml:"mask"`
	Allowed  []string `yaml:"allowed"`
}

// LoadCatalog читает каталог из YAML-файла
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog разбирает каталог из YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	defs := make([]Definition, 0, len(file.Actions))
	for _, a := range file.Actions {
		def, err := a.definition()
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", a.ID, err)
		}
		defs = append(defs, def)
	}
	return NewCatalog(defs...)
}

func (a actionYAML) definition() (Definition, error) {
	kind, err := targeting.ParseTargetingKind(a.Targeting.Kind)
	if err != nil {
		return Definition{}, err
	}

	allowed := targeting.AllOthers
	if len(a.Targeting.Allowed) > 0 {
		if allowed, err = targeting.ParseCategorySet(a.Targeting.Allowed); err != nil {
			return Definition{}, err
		}
	}

	mask := targeting.LayerAll
	if len(a.Targeting.Mask) > 0 {
		if mask, err = parseLayerMask(a.Targeting.Mask); err != nil {
			return Definition{}, err
		}
	}

	switch kind {
	case targeting.TargetingRanged:
		if a.Targeting.Range <= 0 {
			return Definition{}, errors.New("range must be positive")
		}
	case targeting.TargetingArea:
		if a.Targeting.Radius <= 0 {
			return Definition{}, errors.New("radius must be positive")
		}
	}

	return Definition{
		ID: ActionID(a.ID),
		Targeting: TargetingDef{
			Kind:     kind,
			MaxRange: a.Targeting.Range,
			Radius:   a.Targeting.Radius,
			Obstruct: a.Targeting.Obstruct,
			Mask:     mask,
			Allowed:  allowed,
		},
		Effects: a.Effects,
	}, nil
}

func parseLayerMask(names []string) (targeting.LayerMask, error) {
	var mask targeting.LayerMask
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "static":
			mask |= targeting.LayerStatic
		case "character":
			mask |= targeting.LayerCharacter
		case "prop":
			mask |= targeting.LayerProp
		case "trigger":
			mask |= targeting.LayerTrigger
		case "all":
			mask |= targeting.LayerAll
		default:
			return 0, fmt.Errorf("неизвестный слой %q", name)
		}
	}
	return mask, nil
}
