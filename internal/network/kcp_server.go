package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/protocol"
)

const (
	// HelloTimeout время на приветствие после установки сессии
	HelloTimeout = 5 * time.Second
	// DefaultIdleTimeout пир без кадров дольше этого считается отключённым
	DefaultIdleTimeout = 10 * time.Second
	// HeartbeatInterval период повторного Hello от клиента
	HeartbeatInterval = 2 * time.Second
)

// KCPServer транспорт сервера поверх KCP (надёжный UDP).
// Пир идентифицируется PeerID из первого кадра Hello. Аутентификации нет:
// PeerID занимает первая живая сессия, повторный Hello с тем же ID
// отклоняется, пока старая сессия не закроется или не истечёт idleTimeout.
type KCPServer struct {
	addr        string
	queueSize   int
	idleTimeout time.Duration
	codec       *protocol.Codec
	logger      *logging.Logger
	metrics     *metrics.Collectors

	listener *kcp.Listener

	mu        sync.RWMutex
	peers     map[protocol.PeerID]*kcpPeerConn
	listeners listeners
	onAction  ActionHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type kcpPeerConn struct {
	id    protocol.PeerID
	conn  *kcp.UDPSession
	queue chan []byte
	once  sync.Once
	done  chan struct{}
}

func (p *kcpPeerConn) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// NewKCPServer создаёт сервер; Start открывает сокет
func NewKCPServer(addr string, queueSize int, codec *protocol.Codec, m *metrics.Collectors) *KCPServer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &KCPServer{
		addr:        addr,
		queueSize:   queueSize,
		idleTimeout: DefaultIdleTimeout,
		codec:       codec,
		logger:      logging.GetNetworkLogger(),
		metrics:     m,
		peers:       make(map[protocol.PeerID]*kcpPeerConn),
	}
}

// SetIdleTimeout меняет таймаут бездействия; вызывать до Start
func (s *KCPServer) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		s.idleTimeout = d
	}
}

// OnConnectivity регистрирует слушателя подключений
func (s *KCPServer) OnConnectivity(fn ConnectivityListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners.add(fn)
}

// OnAction регистрирует обработчик запросов действий; вызывать до Start
func (s *KCPServer) OnAction(fn ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAction = fn
}

// Start начинает приём сессий
func (s *KCPServer) Start(ctx context.Context) error {
	listener, err := kcp.ListenWithOptions(s.addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("kcp listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("🚀 KCP сервер запущен на %s", listener.Addr())
	return nil
}

// Addr фактический адрес сокета
func (s *KCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop закрывает сокет и все сессии
func (s *KCPServer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	conns := make([]*kcpPeerConn, 0, len(s.peers))
	for _, p := range s.peers {
		conns = append(conns, p)
	}
	s.mu.Unlock()

	for _, p := range conns {
		p.close()
	}
	s.wg.Wait()
	s.logger.Info("KCP сервер остановлен")
}

// SendToOne ставит сообщение в очередь пира, не блокируясь
func (s *KCPServer) SendToOne(peer protocol.PeerID, msg *protocol.HitEffectMessage) error {
	data, err := s.encode(msg)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[peer]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPeerNotConnected, peer)
	}
	return s.enqueue(p, data)
}

// SendToMany кодирует сообщение один раз и ставит в очереди пиров
func (s *KCPServer) SendToMany(peers []protocol.PeerID, msg *protocol.HitEffectMessage) int {
	data, err := s.encode(msg)
	if err != nil {
		s.logger.Error("Ошибка кодирования %s: %v", msg, err)
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for _, id := range peers {
		p, ok := s.peers[id]
		if !ok {
			continue
		}
		if s.enqueue(p, data) == nil {
			sent++
		}
	}
	return sent
}

// ConnectedPeers возвращает подключённых пиров по возрастанию ID
func (s *KCPServer) ConnectedPeers() []protocol.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPeers(s.peers)
}

func (s *KCPServer) encode(msg *protocol.HitEffectMessage) ([]byte, error) {
	return s.codec.AppendFrame(nil, protocol.Frame{
		Type:    protocol.FrameHitEffect,
		Payload: protocol.MarshalHitEffect(msg),
	})
}

func (s *KCPServer) enqueue(p *kcpPeerConn, data []byte) error {
	select {
	case p.queue <- data:
		return nil
	default:
		s.metrics.SendDropped("queue_full")
		s.logger.Warn("Очередь KCP пира %d переполнена, сообщение отброшено", p.id)
		return fmt.Errorf("%w: peer %d", ErrQueueFull, p.id)
	}
}

func (s *KCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Error("Ошибка приёма KCP сессии: %v", err)
			continue
		}

		configureSession(conn)

		s.wg.Add(1)
		go s.handshake(conn)
	}
}

// configureSession настраивает KCP для игрового трафика
func configureSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

func (s *KCPServer) handshake(conn *kcp.UDPSession) {
	defer s.wg.Done()

	conn.SetReadDeadline(time.Now().Add(HelloTimeout))
	frame, err := s.codec.ReadFrame(conn)
	if err != nil {
		s.logger.Warn("Нет приветствия от %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if frame.Type != protocol.FrameHello {
		s.logger.Warn("Ожидался Hello от %s, получен кадр %d", conn.RemoteAddr(), frame.Type)
		conn.Close()
		return
	}
	hello, err := protocol.UnmarshalHello(frame.Payload)
	if err != nil || hello.Peer == protocol.NoPeer {
		s.logger.Warn("Некорректное приветствие от %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	p := &kcpPeerConn{
		id:    hello.Peer,
		conn:  conn,
		queue: make(chan []byte, s.queueSize),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if _, taken := s.peers[p.id]; taken {
		s.mu.Unlock()
		s.logger.Warn("Пир %d уже подключён, сессия %s отклонена", p.id, conn.RemoteAddr())
		conn.Close()
		return
	}
	s.peers[p.id] = p
	fns := s.listeners.snapshot()
	s.mu.Unlock()

	s.logger.Info("🔌 Пир %d подключён: %s", p.id, conn.RemoteAddr())
	notify(fns, ConnectivityEvent{Peer: p.id, Connected: true})

	s.wg.Add(1)
	go s.writeLoop(p)
	s.readLoop(p)
}

// readLoop принимает heartbeat-кадры клиента. KCP не сообщает о закрытии
// сессии, поэтому тишина дольше idleTimeout означает отключение.
func (s *KCPServer) readLoop(p *kcpPeerConn) {
	for {
		p.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		frame, err := s.codec.ReadFrame(p.conn)
		if errors.Is(err, protocol.ErrUnknownFrame) {
			s.logger.Trace("Пир %d: %v", p.id, err)
			continue
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.logger.Debug("Пир %d молчит дольше %v", p.id, s.idleTimeout)
			}
			break
		}

		switch frame.Type {
		case protocol.FrameHello:
			// heartbeat
		case protocol.FrameActionRequest:
			s.dispatchAction(p.id, frame.Payload)
		default:
			s.logger.Trace("Кадр %d от пира %d проигнорирован", frame.Type, p.id)
		}
	}
	s.unregister(p)
}

// dispatchAction передаёт запрос обработчику в горутине чтения пира
func (s *KCPServer) dispatchAction(peer protocol.PeerID, payload []byte) {
	req, err := protocol.UnmarshalActionRequest(payload)
	if err != nil {
		s.logger.Warn("Некорректный запрос действия от пира %d: %v", peer, err)
		return
	}

	s.mu.RLock()
	fn := s.onAction
	s.mu.RUnlock()
	if fn == nil {
		s.logger.Debug("Запрос %s от пира %d: обработчик не задан", req, peer)
		return
	}
	fn(peer, req)
}

func (s *KCPServer) writeLoop(p *kcpPeerConn) {
	defer s.wg.Done()

	for {
		select {
		case data := <-p.queue:
			if _, err := p.conn.Write(data); err != nil {
				s.logger.Debug("Ошибка записи пиру %d: %v", p.id, err)
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (s *KCPServer) unregister(p *kcpPeerConn) {
	p.close()

	s.mu.Lock()
	current, ok := s.peers[p.id]
	removed := ok && current == p
	if removed {
		delete(s.peers, p.id)
	}
	fns := s.listeners.snapshot()
	s.mu.Unlock()

	if !removed {
		return
	}
	s.logger.Info("🔌 Пир %d отключён", p.id)
	notify(fns, ConnectivityEvent{Peer: p.id, Connected: false})
}
