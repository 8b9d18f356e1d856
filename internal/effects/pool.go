package effects

import (
	"errors"
	"sync"

	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

var (
	// ErrDoubleRelease маркер уже возвращён в пул
	ErrDoubleRelease = errors.New("effects: marker released twice")
	// ErrForeignMarker маркер не принадлежит этому пулу
	ErrForeignMarker = errors.New("effects: marker does not belong to pool")
)

// MarkerID стабильный номер маркера внутри пула
type MarkerID uint32

// Marker переиспользуемый визуальный маркер попадания.
// Принадлежит пулу; вызывающий код владеет им от Acquire до Release.
type Marker struct {
	id    MarkerID
	pool  *Pool
	inUse bool

	Position vec.Vec3
	Normal   vec.Vec3
	Visible  bool
}

// ID номер маркера
func (m *Marker) ID() MarkerID {
	return m.id
}

// Show размещает маркер в точке контакта и делает видимым
func (m *Marker) Show(point, normal vec.Vec3) {
	m.Position = point
	m.Normal = normal
	m.Visible = true
	m.pool.renderer.Show(m)
}

// Renderer создаёт и прячет визуальное представление маркеров.
// Activate и Deactivate вызываются под мьютексом пула и не должны трогать другие маркеры.
type Renderer interface {
	Activate(m *Marker)
	Show(m *Marker)
	Deactivate(m *Marker)
}

// NopRenderer рендерер выделенного сервера: визуализации нет
type NopRenderer struct{}

func (NopRenderer) Activate(*Marker)   {}
func (NopRenderer) Show(*Marker)       {}
func (NopRenderer) Deactivate(*Marker) {}

// PoolStats снимок состояния пула
type PoolStats struct {
	Capacity int `json:"capacity"`
	InUse    int `json:"in_use"`
	Free     int `json:"free"`
	Grown    int `json:"grown"`
}

// Pool растущий пул маркеров. Acquire никогда не отказывает.
type Pool struct {
	mu       sync.Mutex
	markers  []*Marker
	free     []*Marker
	inUse    int
	grown    int
	renderer Renderer
	logger   *logging.Logger
	metrics  *metrics.Collectors
}

// NewPool создаёт пул с начальной ёмкостью initial
func NewPool(initial int, renderer Renderer, m *metrics.Collectors) *Pool {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if initial < 0 {
		initial = 0
	}
	p := &Pool{
		markers:  make([]*Marker, 0, initial),
		free:     make([]*Marker, 0, initial),
		renderer: renderer,
		logger:   logging.GetEffectsLogger(),
		metrics:  m,
	}
	p.addLocked(initial)
	p.metrics.SetPoolState(len(p.markers), 0)
	return p
}

// Acquire выдаёт свободный маркер, расширяя пул при необходимости
func (p *Pool) Acquire() *Marker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.growLocked()
	}

	last := len(p.free) - 1
	m := p.free[last]
	p.free = p.free[:last]

	m.inUse = true
	m.Position = vec.Zero
	m.Normal = vec.Zero
	m.Visible = false
	p.inUse++
	p.renderer.Activate(m)

	p.metrics.SetPoolState(len(p.markers), p.inUse)
	return m
}

// Release возвращает маркер в пул
func (p *Pool) Release(m *Marker) error {
	if m == nil {
		return ErrForeignMarker
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if m.pool != p {
		return ErrForeignMarker
	}
	if !m.inUse {
		p.logger.Warn("повторный возврат маркера #%d", m.id)
		return ErrDoubleRelease
	}

	m.inUse = false
	m.Visible = false
	p.renderer.Deactivate(m)
	p.free = append(p.free, m)
	p.inUse--

	p.metrics.SetPoolState(len(p.markers), p.inUse)
	return nil
}

// Capacity текущая ёмкость
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.markers)
}

// InUse число выданных маркеров
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Stats возвращает снимок состояния
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity: len(p.markers),
		InUse:    p.inUse,
		Free:     len(p.free),
		Grown:    p.grown,
	}
}

// growLocked удваивает ёмкость (минимум на один маркер)
func (p *Pool) growLocked() {
	n := len(p.markers)
	if n == 0 {
		n = 1
	}
	before := len(p.markers)
	p.addLocked(n)
	p.grown++

	p.metrics.PoolGrew()
	p.logger.Info("📈 Пул маркеров расширен: %d → %d", before, len(p.markers))
}

func (p *Pool) addLocked(n int) {
	for i := 0; i < n; i++ {
		m := &Marker{id: MarkerID(len(p.markers)), pool: p}
		p.markers = append(p.markers, m)
		p.free = append(p.free, m)
	}
}
