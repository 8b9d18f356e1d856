package replication

import (
	"context"
	"time"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/eventbus"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// HitEvent подтверждённое сервером попадание
type HitEvent struct {
	Action         effects.ActionID    `json:"action"`
	TriggeringPeer protocol.PeerID     `json:"triggering_peer"`
	Owner          targeting.EntityID  `json:"owner"`
	Hit            targeting.HitRecord `json:"hit"`
	Sequence       uint64              `json:"sequence"`
	CorrelationID  string              `json:"correlation_id"`
}

// HitObserver получает подтверждённые попадания. Вызывается синхронно из Replicate.
type HitObserver interface {
	OnHit(ev HitEvent)
}

// HitObserverFunc адаптер функции к HitObserver
type HitObserverFunc func(ev HitEvent)

func (f HitObserverFunc) OnHit(ev HitEvent) { f(ev) }

// BusPublisher публикует попадания в шину событий
type BusPublisher struct {
	bus    eventbus.EventBus
	source string
	logger *logging.Logger
}

// NewBusPublisher создаёт наблюдателя-публикатора
func NewBusPublisher(bus eventbus.EventBus, source string) *BusPublisher {
	return &BusPublisher{bus: bus, source: source, logger: logging.GetReplicationLogger()}
}

// OnHit публикует EventHitConfirmed. Переполненная шина отбрасывает событие.
func (p *BusPublisher) OnHit(ev HitEvent) {
	env, err := eventbus.NewEnvelope(p.source, eventbus.EventHitConfirmed, ev)
	if err != nil {
		p.logger.Error("Событие попадания: %v", err)
		return
	}
	env.CorrelationID = ev.CorrelationID

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := p.bus.Publish(ctx, env); err != nil {
		p.logger.Warn("Не удалось опубликовать попадание seq=%d: %v", ev.Sequence, err)
	}
}

// WatchConnectivity обновляет метрику пиров по событиям подключения из шины
func (r *Replicator) WatchConnectivity(ctx context.Context, bus eventbus.EventBus) (eventbus.Subscription, error) {
	filter := eventbus.Filter{Types: []string{eventbus.EventPeerConnected, eventbus.EventPeerDisconnected}}
	return bus.Subscribe(ctx, filter, func(ctx context.Context, ev *eventbus.Envelope) {
		if r.transport == nil {
			return
		}
		peers := r.transport.ConnectedPeers()
		r.metrics.SetConnectedPeers(len(peers))
		r.logger.Debug("%s: подключено пиров %d", ev.EventType, len(peers))
	})
}

// LogPlayer проигрыватель без рендеринга: пишет запуски эффектов в trace-лог
type LogPlayer struct {
	logger *logging.Logger
}

// NewLogPlayer создаёт проигрыватель для выделенного сервера и утилит
func NewLogPlayer() *LogPlayer {
	return &LogPlayer{logger: logging.GetEffectsLogger()}
}

func (p *LogPlayer) Trigger(desc effects.EffectDescriptor, moment effects.Moment, point, normal vec.Vec3) {
	p.logger.Trace("%s %s(%s) at %.2f,%.2f,%.2f", moment, desc.Name, desc.Kind, point[0], point[1], point[2])
}
