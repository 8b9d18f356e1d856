package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/network"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/replication"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
	"github.com/annel0/mmo-hitfx/internal/world"
)

var (
	// ErrUnknownOwner сущность-владелец отсутствует в мире
	ErrUnknownOwner = errors.New("app: unknown owner entity")
	// ErrNotOwner пир не управляет указанной сущностью
	ErrNotOwner = errors.New("app: peer does not control entity")
)

// Session связывает каталог, мир, наведение и репликацию сервера.
// Все зависимости передаются явно; глобального состояния нет.
type Session struct {
	catalog    *effects.Catalog
	space      *world.Space
	resolver   *targeting.Resolver
	replicator *replication.Replicator
	logger     *logging.Logger

	mu       sync.RWMutex
	controls map[protocol.PeerID]targeting.EntityID
}

// NewSession собирает сессию из готовых компонентов
func NewSession(catalog *effects.Catalog, space *world.Space, resolver *targeting.Resolver, replicator *replication.Replicator) *Session {
	return &Session{
		catalog:    catalog,
		space:      space,
		resolver:   resolver,
		replicator: replicator,
		logger:     logging.GetServerLogger(),
		controls:   make(map[protocol.PeerID]targeting.EntityID),
	}
}

// AssignEntity отдаёт пиру управление сущностью
func (s *Session) AssignEntity(peer protocol.PeerID, entity targeting.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls[peer] = entity
}

// ControlledEntity сущность под управлением пира
func (s *Session) ControlledEntity(peer protocol.PeerID) (targeting.EntityID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.controls[peer]
	return id, ok
}

// OnConnectivity снимает привязку сущности при отключении пира
func (s *Session) OnConnectivity(ev network.ConnectivityEvent) {
	if ev.Connected {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controls, ev.Peer)
}

// ExecuteAction разрешает цели действия на сервере и реплицирует эффект.
// peer == NoPeer означает действие самого сервера (ловушка, окружение).
// Нулевой origin заменяется позицией владельца.
func (s *Session) ExecuteAction(ctx context.Context, peer protocol.PeerID, ownerID targeting.EntityID, action effects.ActionID, origin, direction vec.Vec3) ([]targeting.HitRecord, error) {
	def, err := s.catalog.Lookup(action)
	if err != nil {
		s.logger.Error("❌ Действие %q от пира %d: %v", action, peer, err)
		return nil, fmt.Errorf("execute %q: %w", action, err)
	}

	if peer != protocol.NoPeer {
		if controlled, ok := s.ControlledEntity(peer); !ok || controlled != ownerID {
			return nil, fmt.Errorf("%w: peer %d entity %d", ErrNotOwner, peer, ownerID)
		}
	}

	info, ok := s.space.Entity(ownerID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOwner, ownerID)
	}
	owner := targeting.Owner{ID: info.ID, Team: info.Team, Position: info.Position}
	if origin == vec.Zero {
		origin = info.Position
	}

	hits, err := s.resolver.Resolve(ctx, def.Request(owner, origin, direction))
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", action, err)
	}

	if err := s.replicator.Replicate(ctx, action, peer, ownerID, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// HandleActionRequest обработчик запросов из транспорта.
// Ошибки пира не валят сервер, только пишутся в лог.
func (s *Session) HandleActionRequest(peer protocol.PeerID, req *protocol.ActionRequest) {
	hits, err := s.ExecuteAction(context.Background(), peer, req.Owner, req.Action, req.Origin, req.Direction)
	if err != nil {
		s.logger.Warn("Запрос %s от пира %d отклонён: %v", req, peer, err)
		return
	}
	s.logger.Debug("Запрос %s от пира %d: попаданий %d", req, peer, len(hits))
}
