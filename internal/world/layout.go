package world

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/annel0/mmo-hitfx/internal/physics"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// Layout начальное наполнение мира из YAML
type Layout struct {
	Bodies []BodySpec `yaml:"bodies"`
}

// BodySpec описание тела в файле раскладки
type BodySpec struct {
	ID       uint64      `yaml:"id"`
	Center   [3]float64  `yaml:"center"`
	Size     [3]float64  `yaml:"size"`
	Layer    string      `yaml:"layer"`
	Blocking bool        `yaml:"blocking"`
	Entity   *EntitySpec `yaml:"entity"`
}

// EntitySpec сетевая сущность тела. Peer - пир, управляющий сущностью (0 - никто).
type EntitySpec struct {
	ID   uint64 `yaml:"id"`
	Kind string `yaml:"kind"`
	Team uint16 `yaml:"team"`
	Peer uint32 `yaml:"peer"`
}

// LoadLayout читает раскладку из файла
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout разбирает раскладку из YAML
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &l, nil
}

// Populate добавляет тела раскладки в пространство
func (l *Layout) Populate(s *Space) error {
	for _, spec := range l.Bodies {
		body, err := spec.body()
		if err != nil {
			return fmt.Errorf("body %d: %w", spec.ID, err)
		}
		if err := s.Insert(body); err != nil {
			return err
		}
	}
	return nil
}

// Controllers сущности, закреплённые за пирами
func (l *Layout) Controllers() map[uint32]targeting.EntityID {
	out := make(map[uint32]targeting.EntityID)
	for _, spec := range l.Bodies {
		if spec.Entity != nil && spec.Entity.Peer != 0 {
			out[spec.Entity.Peer] = targeting.EntityID(spec.Entity.ID)
		}
	}
	return out
}

func (spec BodySpec) body() (Body, error) {
	size := vec.Vec3(spec.Size)
	if size.X() <= 0 || size.Y() <= 0 || size.Z() <= 0 {
		return Body{}, fmt.Errorf("size must be positive, got %v", spec.Size)
	}
	layer, err := parseLayer(spec.Layer)
	if err != nil {
		return Body{}, err
	}

	body := Body{
		ID:       targeting.BodyID(spec.ID),
		Bounds:   physics.NewAABB(vec.Vec3(spec.Center), size),
		Layer:    layer,
		Blocking: spec.Blocking,
	}
	if spec.Entity != nil {
		kind, err := parseKind(spec.Entity.Kind)
		if err != nil {
			return Body{}, err
		}
		body.Entity = &targeting.EntityInfo{
			ID:   targeting.EntityID(spec.Entity.ID),
			Kind: kind,
			Team: targeting.TeamID(spec.Entity.Team),
		}
	}
	return body, nil
}

func parseLayer(name string) (targeting.LayerMask, error) {
	switch strings.ToLower(name) {
	case "", "static":
		return targeting.LayerStatic, nil
	case "character":
		return targeting.LayerCharacter, nil
	case "prop":
		return targeting.LayerProp, nil
	case "trigger":
		return targeting.LayerTrigger, nil
	default:
		return 0, fmt.Errorf("неизвестный слой %q", name)
	}
}

func parseKind(name string) (targeting.EntityKind, error) {
	switch strings.ToLower(name) {
	case "character":
		return targeting.KindCharacter, nil
	case "prop":
		return targeting.KindProp, nil
	case "", "unknown":
		return targeting.KindUnknown, nil
	default:
		return 0, fmt.Errorf("неизвестный вид сущности %q", name)
	}
}
