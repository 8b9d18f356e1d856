package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/network"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

// Transport доставка сообщений пирам. Отправки не блокируются на медленном пире.
type Transport interface {
	SendToOne(peer protocol.PeerID, msg *protocol.HitEffectMessage) error
	SendToMany(peers []protocol.PeerID, msg *protocol.HitEffectMessage) int
	ConnectedPeers() []protocol.PeerID
}

// Catalog источник дескрипторов эффектов
type Catalog interface {
	Effects(id effects.ActionID) ([]effects.EffectDescriptor, error)
}

// EffectPlayer запускает эффект в момент жизненного цикла
type EffectPlayer interface {
	Trigger(desc effects.EffectDescriptor, moment effects.Moment, point, normal vec.Vec3)
}

// Config параметры репликатора
type Config struct {
	// LocalPeer пир этого процесса; NoPeer для выделенного сервера
	LocalPeer protocol.PeerID
	// MarkerLifetime через сколько маркер возвращается в пул; 0 - до ReleaseMarkers
	MarkerLifetime time.Duration
}

// Replicator воспроизводит эффекты попаданий локально и рассылает их пирам
type Replicator struct {
	cfg       Config
	catalog   Catalog
	player    EffectPlayer
	pool      *effects.Pool
	transport Transport

	mu        sync.Mutex
	markers   map[*effects.Marker]*time.Timer
	observers []HitObserver

	sequence atomic.Uint64
	logger   *logging.Logger
	metrics  *metrics.Collectors
	tracer   trace.Tracer
}

// New создаёт репликатор. transport может быть nil на чистом клиенте.
func New(cfg Config, catalog Catalog, player EffectPlayer, pool *effects.Pool, transport Transport, m *metrics.Collectors) *Replicator {
	return &Replicator{
		cfg:       cfg,
		catalog:   catalog,
		player:    player,
		pool:      pool,
		transport: transport,
		markers:   make(map[*effects.Marker]*time.Timer),
		logger:    logging.GetReplicationLogger(),
		metrics:   m,
		tracer:    otel.Tracer("github.com/annel0/mmo-hitfx/internal/replication"),
	}
}

// AddObserver подписывает наблюдателя на подтверждённые попадания
func (r *Replicator) AddObserver(o HitObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// AnticipateOnSelf локальное предсказание у инициатора: Start на каждом эффекте.
// Без сети и без пула.
func (r *Replicator) AnticipateOnSelf(action effects.ActionID, point, normal vec.Vec3) error {
	descs, err := r.effects(action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerLocked(descs, effects.MomentStart, point, normal)
	return nil
}

// PlayOnSelf воспроизводит Start на каждом эффекте; владелец эффекта
// дополнительно получает маркер в точке контакта.
func (r *Replicator) PlayOnSelf(action effects.ActionID, hit targeting.HitRecord, isOwner bool) error {
	descs, err := r.effects(action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerLocked(descs, effects.MomentStart, hit.ContactPoint, hit.ContactNormal)
	if isOwner {
		r.placeMarkerLocked(hit.ContactPoint, hit.ContactNormal)
	}
	return nil
}

// Replicate рассылает подтверждённые попадания: инициатору отдельное сообщение,
// остальным подключённым пирам общее. Неизвестное действие прерывает операцию
// до любых отправок.
func (r *Replicator) Replicate(ctx context.Context, action effects.ActionID, triggering protocol.PeerID, owner targeting.EntityID, hits []targeting.HitRecord) error {
	_, span := r.tracer.Start(ctx, "replication.Replicate",
		trace.WithAttributes(
			attribute.String("hitfx.action", string(action)),
			attribute.Int64("hitfx.triggering_peer", int64(triggering)),
			attribute.Int("hitfx.hits", len(hits)),
		))
	defer span.End()

	if _, err := r.effects(action); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown action")
		return err
	}
	if len(hits) == 0 {
		return nil
	}

	others := r.otherPeers(triggering)
	correlation := uuid.NewString()
	span.SetAttributes(attribute.Int("hitfx.other_peers", len(others)))

	for _, hit := range hits {
		base := protocol.HitEffectMessage{
			Phase:          protocol.PhaseConfirmed,
			Action:         action,
			TriggeringPeer: triggering,
			Owner:          owner,
			Target:         hit.Target,
			Point:          hit.ContactPoint,
			Normal:         hit.ContactNormal,
			Sequence:       r.sequence.Add(1),
			CorrelationID:  correlation,
		}

		toTriggering := base
		toTriggering.Delivery = protocol.DeliveryTriggeringPeer
		toOthers := base
		toOthers.Delivery = protocol.DeliveryOtherPeers

		r.sendToTriggering(&toTriggering)
		if len(others) > 0 {
			sent := r.transport.SendToMany(others, &toOthers)
			r.metrics.MessagesSent(protocol.DeliveryOtherPeers.String(), sent)
		}
		r.playLocal(&toTriggering, &toOthers)
		r.notify(HitEvent{
			Action:         action,
			TriggeringPeer: triggering,
			Owner:          owner,
			Hit:            hit,
			Sequence:       base.Sequence,
			CorrelationID:  correlation,
		})
	}

	r.logger.Debug("Репликация %s: попаданий=%d инициатор=%d остальные=%d", action, len(hits), triggering, len(others))
	return nil
}

// HandleMessage воспроизводит сообщение сервера на стороне пира
func (r *Replicator) HandleMessage(msg *protocol.HitEffectMessage) error {
	switch msg.Delivery {
	case protocol.DeliveryTriggeringPeer:
		return r.playOnTriggeringPeer(msg)
	case protocol.DeliveryOtherPeers:
		return r.playOnOtherPeers(msg)
	default:
		return fmt.Errorf("unknown delivery %s in %s", msg.Delivery, msg)
	}
}

// ReleaseMarkers возвращает в пул все маркеры, выданные репликатором
func (r *Replicator) ReleaseMarkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for m, timer := range r.markers {
		if timer != nil {
			timer.Stop()
		}
		delete(r.markers, m)
		if err := r.pool.Release(m); err != nil {
			r.logger.Warn("Маркер #%d: %v", m.ID(), err)
			continue
		}
		released++
	}
	return released
}

// ActiveMarkers число маркеров, выданных и ещё не возвращённых
func (r *Replicator) ActiveMarkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// playOnTriggeringPeer подтверждение у инициатора: Update и маркер в точке
func (r *Replicator) playOnTriggeringPeer(msg *protocol.HitEffectMessage) error {
	descs, err := r.effects(msg.Action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerLocked(descs, effects.MomentUpdate, msg.Point, msg.Normal)
	r.placeMarkerLocked(msg.Point, msg.Normal)
	return nil
}

// playOnOtherPeers наблюдатели: Update на каждом эффекте
func (r *Replicator) playOnOtherPeers(msg *protocol.HitEffectMessage) error {
	descs, err := r.effects(msg.Action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggerLocked(descs, effects.MomentUpdate, msg.Point, msg.Normal)
	return nil
}

func (r *Replicator) effects(action effects.ActionID) ([]effects.EffectDescriptor, error) {
	descs, err := r.catalog.Effects(action)
	if err != nil {
		r.metrics.UnknownAction()
		r.logger.Error("❌ Неизвестное действие %q: каталоги узлов расходятся: %v", action, err)
		return nil, fmt.Errorf("replicate %q: %w", action, err)
	}
	return descs, nil
}

func (r *Replicator) triggerLocked(descs []effects.EffectDescriptor, moment effects.Moment, point, normal vec.Vec3) {
	for _, d := range descs {
		r.player.Trigger(d, moment, point, normal)
		r.metrics.EffectTriggered(moment.String())
	}
}

func (r *Replicator) placeMarkerLocked(point, normal vec.Vec3) {
	if r.pool == nil {
		return
	}
	m := r.pool.Acquire()
	m.Show(point, normal)

	var timer *time.Timer
	if r.cfg.MarkerLifetime > 0 {
		timer = time.AfterFunc(r.cfg.MarkerLifetime, func() { r.expire(m) })
	}
	r.markers[m] = timer
}

func (r *Replicator) expire(m *effects.Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.markers[m]; !ok {
		return
	}
	delete(r.markers, m)
	if err := r.pool.Release(m); err != nil {
		r.logger.Warn("Маркер #%d: %v", m.ID(), err)
	}
}

// otherPeers подключённые пиры без инициатора; считается на каждый вызов
func (r *Replicator) otherPeers(triggering protocol.PeerID) []protocol.PeerID {
	if r.transport == nil {
		return nil
	}
	connected := r.transport.ConnectedPeers()
	others := make([]protocol.PeerID, 0, len(connected))
	for _, p := range connected {
		if p != triggering {
			others = append(others, p)
		}
	}
	return others
}

func (r *Replicator) sendToTriggering(msg *protocol.HitEffectMessage) {
	if msg.TriggeringPeer == protocol.NoPeer || msg.TriggeringPeer == r.cfg.LocalPeer || r.transport == nil {
		return
	}
	if err := r.transport.SendToOne(msg.TriggeringPeer, msg); err != nil {
		r.metrics.SendDropped("peer_gone")
		r.logger.Debug("Инициатор %d недоступен, подтверждение отброшено: %v", msg.TriggeringPeer, err)
		return
	}
	r.metrics.MessagesSent(protocol.DeliveryTriggeringPeer.String(), 1)
}

// playLocal воспроизводит на хосте, если этот процесс сам является пиром.
// Действие самого хоста играется как PlayOnSelf: сетевого подтверждения нет.
func (r *Replicator) playLocal(toTriggering, toOthers *protocol.HitEffectMessage) {
	if r.cfg.LocalPeer == protocol.NoPeer {
		return
	}
	var err error
	if toTriggering.TriggeringPeer == r.cfg.LocalPeer {
		err = r.PlayOnSelf(toTriggering.Action, toTriggering.Hit(), true)
	} else {
		err = r.playOnOtherPeers(toOthers)
	}
	if err != nil {
		r.logger.Error("Локальное воспроизведение: %v", err)
	}
}

func (r *Replicator) notify(ev HitEvent) {
	r.mu.Lock()
	observers := append([]HitObserver(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range observers {
		o.OnHit(ev)
	}
}

var _ Transport = (*network.LoopbackHub)(nil)
var _ Transport = (*network.KCPServer)(nil)
