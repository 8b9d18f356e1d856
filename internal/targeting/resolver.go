package targeting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

var (
	// ErrInvalidRequest запрос с некорректной геометрией
	ErrInvalidRequest = errors.New("targeting: invalid request")
	// ErrUnknownStrategy для вида наведения не зарегистрирована стратегия
	ErrUnknownStrategy = errors.New("targeting: unknown strategy")
)

// Resolver выбирает стратегию по виду запроса и снимает метрики
type Resolver struct {
	mu         sync.RWMutex
	strategies map[TargetingKind]Strategy
	logger     *logging.Logger
	metrics    *metrics.Collectors
	tracer     trace.Tracer
}

// NewResolver создаёт резолвер со стандартными стратегиями
func NewResolver(query SpatialQuery, entities EntityResolver, m *metrics.Collectors) *Resolver {
	r := &Resolver{
		strategies: make(map[TargetingKind]Strategy),
		logger:     logging.GetTargetingLogger(),
		metrics:    m,
		tracer:     otel.Tracer("github.com/annel0/mmo-hitfx/internal/targeting"),
	}
	r.Register(SelfStrategy{})
	r.Register(NewRangedStrategy(query, entities))
	r.Register(NewAreaStrategy(query, entities))
	return r
}

// Register добавляет или заменяет стратегию
func (r *Resolver) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Resolve проверяет запрос и возвращает полный набор попаданий.
// Пустой результат - промах, а не ошибка.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]HitRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	r.mu.RLock()
	strategy, ok := r.strategies[req.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, req.Kind)
	}

	_, span := r.tracer.Start(ctx, "targeting.Resolve",
		trace.WithAttributes(
			attribute.String("targeting.kind", req.Kind.String()),
			attribute.Int64("targeting.owner", int64(req.Owner.ID)),
		))
	defer span.End()

	start := time.Now()
	hits := strategy.Resolve(req)
	r.metrics.ObserveResolve(req.Kind.String(), len(hits), time.Since(start))

	span.SetAttributes(attribute.Int("targeting.hits", len(hits)))
	r.logger.Trace("resolve kind=%s owner=%d allowed=%s hits=%d", req.Kind, req.Owner.ID, req.Allowed, len(hits))
	return hits, nil
}

func validate(req Request) error {
	if !vec.IsFinite(req.Origin) {
		return fmt.Errorf("%w: origin is not finite", ErrInvalidRequest)
	}
	switch req.Kind {
	case TargetingRanged:
		if !(req.MaxRange > 0) || math.IsInf(req.MaxRange, 0) {
			return fmt.Errorf("%w: max range must be positive, got %v", ErrInvalidRequest, req.MaxRange)
		}
		if _, ok := vec.Normalized(req.Direction); !ok {
			return fmt.Errorf("%w: zero direction", ErrInvalidRequest)
		}
	case TargetingArea:
		if !(req.Radius > 0) || math.IsInf(req.Radius, 0) {
			return fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidRequest, req.Radius)
		}
	}
	return nil
}
