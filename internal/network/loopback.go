package network

import (
	"fmt"
	"sync"

	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/protocol"
)

// LoopbackHub транспорт внутри процесса: каждый пир получает сообщения
// в своей горутине через ограниченную очередь.
type LoopbackHub struct {
	mu        sync.RWMutex
	peers     map[protocol.PeerID]*loopbackPeer
	queueSize int
	listeners listeners
	pending   pendingCounter
	logger    *logging.Logger
	metrics   *metrics.Collectors
}

// pendingCounter счётчик недоставленных сообщений; add допустим во время wait
type pendingCounter struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (c *pendingCounter) add() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *pendingCounter) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n--
	if c.n == 0 && c.cond != nil {
		c.cond.Broadcast()
	}
}

// wait возвращается, когда счётчик обнулится
func (c *pendingCounter) wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cond == nil {
		c.cond = sync.NewCond(&c.mu)
	}
	for c.n > 0 {
		c.cond.Wait()
	}
}

type loopbackPeer struct {
	id      protocol.PeerID
	queue   chan protocol.HitEffectMessage
	handler MessageHandler
	done    chan struct{}
}

// NewLoopbackHub создаёт хаб. queueSize <= 0 означает DefaultQueueSize.
func NewLoopbackHub(queueSize int, m *metrics.Collectors) *LoopbackHub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &LoopbackHub{
		peers:     make(map[protocol.PeerID]*loopbackPeer),
		queueSize: queueSize,
		logger:    logging.GetNetworkLogger(),
		metrics:   m,
	}
}

// OnConnectivity регистрирует слушателя подключений
func (h *LoopbackHub) OnConnectivity(fn ConnectivityListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners.add(fn)
}

// Connect подключает пира с обработчиком входящих сообщений
func (h *LoopbackHub) Connect(id protocol.PeerID, handler MessageHandler) error {
	if id == protocol.NoPeer {
		return fmt.Errorf("peer id must be non-zero")
	}

	h.mu.Lock()
	if _, exists := h.peers[id]; exists {
		h.mu.Unlock()
		return fmt.Errorf("peer %d already connected", id)
	}
	p := &loopbackPeer{
		id:      id,
		queue:   make(chan protocol.HitEffectMessage, h.queueSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	h.peers[id] = p
	fns := h.listeners.snapshot()
	h.mu.Unlock()

	go h.deliverLoop(p)

	h.logger.Info("🔌 Пир %d подключён (loopback)", id)
	notify(fns, ConnectivityEvent{Peer: id, Connected: true})
	return nil
}

// Disconnect отключает пира; недоставленные сообщения отбрасываются
func (h *LoopbackHub) Disconnect(id protocol.PeerID) bool {
	h.mu.Lock()
	p, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	fns := h.listeners.snapshot()
	h.mu.Unlock()

	if !ok {
		return false
	}
	close(p.done)

	h.logger.Info("🔌 Пир %d отключён (loopback)", id)
	notify(fns, ConnectivityEvent{Peer: id, Connected: false})
	return true
}

// SendToOne ставит сообщение в очередь одного пира
func (h *LoopbackHub) SendToOne(peer protocol.PeerID, msg *protocol.HitEffectMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	p, ok := h.peers[peer]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPeerNotConnected, peer)
	}
	return h.enqueue(p, msg)
}

// SendToMany ставит сообщение в очереди пиров; возвращает число поставленных
func (h *LoopbackHub) SendToMany(peers []protocol.PeerID, msg *protocol.HitEffectMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, id := range peers {
		p, ok := h.peers[id]
		if !ok {
			continue
		}
		if h.enqueue(p, msg) == nil {
			sent++
		}
	}
	return sent
}

// ConnectedPeers возвращает подключённых пиров по возрастанию ID
func (h *LoopbackHub) ConnectedPeers() []protocol.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedPeers(h.peers)
}

// Flush ждёт доставки всех поставленных сообщений. Можно вызывать
// параллельно с отправками.
func (h *LoopbackHub) Flush() {
	h.pending.wait()
}

// Close отключает всех пиров
func (h *LoopbackHub) Close() {
	for _, id := range h.ConnectedPeers() {
		h.Disconnect(id)
	}
}

// enqueue не блокирует; вызывается под h.mu
func (h *LoopbackHub) enqueue(p *loopbackPeer, msg *protocol.HitEffectMessage) error {
	h.pending.add()
	select {
	case p.queue <- *msg:
		return nil
	default:
		h.pending.done()
		h.metrics.SendDropped("queue_full")
		h.logger.Warn("Очередь пира %d переполнена, сообщение отброшено", p.id)
		return fmt.Errorf("%w: peer %d", ErrQueueFull, p.id)
	}
}

func (h *LoopbackHub) deliverLoop(p *loopbackPeer) {
	for {
		select {
		case msg := <-p.queue:
			if p.handler != nil {
				p.handler(&msg)
			}
			h.pending.done()
		case <-p.done:
			for {
				select {
				case <-p.queue:
					h.pending.done()
				default:
					return
				}
			}
		}
	}
}
