package network

import (
	"errors"
	"sort"

	"github.com/annel0/mmo-hitfx/internal/protocol"
)

var (
	// ErrPeerNotConnected адресат не подключён
	ErrPeerNotConnected = errors.New("network: peer not connected")
	// ErrQueueFull очередь отправки пира переполнена, сообщение отброшено
	ErrQueueFull = errors.New("network: send queue full")
)

// DefaultQueueSize размер очереди отправки на пира
const DefaultQueueSize = 256

// ConnectivityEvent подключение или отключение пира
type ConnectivityEvent struct {
	Peer      protocol.PeerID
	Connected bool
}

// ConnectivityListener получает события подключения.
// Вызывается из сетевых горутин; не должен блокировать.
type ConnectivityListener func(ConnectivityEvent)

// MessageHandler принимает сообщение эффекта на стороне пира
type MessageHandler func(msg *protocol.HitEffectMessage)

// ActionHandler принимает запрос действия пира на стороне сервера
type ActionHandler func(peer protocol.PeerID, req *protocol.ActionRequest)

type listeners struct {
	fns []ConnectivityListener
}

func (l *listeners) add(fn ConnectivityListener) {
	l.fns = append(l.fns, fn)
}

func (l *listeners) snapshot() []ConnectivityListener {
	return append([]ConnectivityListener(nil), l.fns...)
}

func notify(fns []ConnectivityListener, ev ConnectivityEvent) {
	for _, fn := range fns {
		fn(ev)
	}
}

func sortedPeers[T any](m map[protocol.PeerID]T) []protocol.PeerID {
	peers := make([]protocol.PeerID, 0, len(m))
	for id := range m {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
