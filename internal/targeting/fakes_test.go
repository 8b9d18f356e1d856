package targeting

import (
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// fakeWorld детерминированный SpatialQuery + EntityResolver для тестов
type fakeWorld struct {
	entities map[BodyID]EntityInfo
	overlap  []BodyID
	contact  *Contact
	blocked  map[EntityID]bool

	raycasts   int
	lineTraces int
	lastMask   LayerMask
	lastDir    vec.Vec3
	lastRange  float64
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		entities: make(map[BodyID]EntityInfo),
		blocked:  make(map[EntityID]bool),
	}
}

func (w *fakeWorld) add(body BodyID, info EntityInfo) {
	w.entities[body] = info
	w.overlap = append(w.overlap, body)
}

func (w *fakeWorld) OverlapSphere(origin vec.Vec3, radius float64) []BodyID {
	out := make([]BodyID, 0, len(w.overlap))
	for _, b := range w.overlap {
		info, ok := w.entities[b]
		if ok && vec.DistanceTo(origin, info.Position) > radius {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (w *fakeWorld) Raycast(origin, direction vec.Vec3, maxDistance float64, mask LayerMask) (Contact, bool) {
	w.raycasts++
	w.lastMask = mask
	w.lastDir = direction
	w.lastRange = maxDistance
	if w.contact == nil || w.contact.Distance > maxDistance {
		return Contact{}, false
	}
	return *w.contact, true
}

func (w *fakeWorld) LineTrace(a, b vec.Vec3) bool {
	w.lineTraces++
	for _, info := range w.entities {
		if info.Position == b && w.blocked[info.ID] {
			return true
		}
	}
	return false
}

func (w *fakeWorld) Resolve(body BodyID) (EntityInfo, bool) {
	info, ok := w.entities[body]
	return info, ok
}
