package network

import (
	"context"
	"time"

	"github.com/annel0/mmo-hitfx/internal/eventbus"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/protocol"
)

// PeerPayload полезная нагрузка событий подключения
type PeerPayload struct {
	Peer protocol.PeerID `json:"peer"`
}

// PublishConnectivity возвращает слушателя, который публикует подключения в шину
func PublishConnectivity(bus eventbus.EventBus, source string) ConnectivityListener {
	logger := logging.GetNetworkLogger()
	return func(ev ConnectivityEvent) {
		eventType := eventbus.EventPeerDisconnected
		if ev.Connected {
			eventType = eventbus.EventPeerConnected
		}
		env, err := eventbus.NewEnvelope(source, eventType, PeerPayload{Peer: ev.Peer})
		if err != nil {
			logger.Error("Событие подключения: %v", err)
			return
		}
		env.Priority = 5

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := bus.Publish(ctx, env); err != nil {
			logger.Warn("Не удалось опубликовать %s для пира %d: %v", eventType, ev.Peer, err)
		}
	}
}
