package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/protocol"
)

// KCPClient сторона пира: представляется сервером и принимает сообщения эффектов
type KCPClient struct {
	peer    protocol.PeerID
	conn    *kcp.UDPSession
	codec   *protocol.Codec
	handler MessageHandler
	logger  *logging.Logger

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// DialKCP подключается к серверу и отправляет Hello
func DialKCP(ctx context.Context, addr string, peer protocol.PeerID, codec *protocol.Codec, handler MessageHandler) (*KCPClient, error) {
	if peer == protocol.NoPeer {
		return nil, fmt.Errorf("peer id must be non-zero")
	}

	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	configureSession(conn)

	cctx, cancel := context.WithCancel(ctx)
	c := &KCPClient{
		peer:    peer,
		conn:    conn,
		codec:   codec,
		handler: handler,
		logger:  logging.GetNetworkLogger(),
		cancel:  cancel,
	}

	if err := c.sendHello(); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}

	c.wg.Add(2)
	go c.receiveLoop(cctx)
	go c.heartbeatLoop(cctx)

	c.logger.Info("KCP клиент %d подключён к %s", peer, addr)
	return c, nil
}

// Peer идентификатор клиента
func (c *KCPClient) Peer() protocol.PeerID {
	return c.peer
}

// Close закрывает сессию
func (c *KCPClient) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// SendAction отправляет серверу запрос действия
func (c *KCPClient) SendAction(req *protocol.ActionRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteActionRequest(c.conn, req)
}

func (c *KCPClient) sendHello() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteHello(c.conn, protocol.Hello{Peer: c.peer})
}

func (c *KCPClient) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.sendHello(); err != nil {
				c.logger.Debug("heartbeat: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *KCPClient) receiveLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		frame, err := c.codec.ReadFrame(c.conn)
		if errors.Is(err, protocol.ErrUnknownFrame) {
			continue
		}
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				c.logger.Warn("KCP клиент %d: чтение прервано: %v", c.peer, err)
			}
			return
		}
		if frame.Type != protocol.FrameHitEffect {
			continue
		}

		msg, err := protocol.UnmarshalHitEffect(frame.Payload)
		if err != nil {
			c.logger.Error("Ошибка декодирования эффекта: %v", err)
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}
