package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

func TestKCPServerDeliversToPeers(t *testing.T) {
	codec, err := protocol.NewCodec(256)
	require.NoError(t, err)
	defer codec.Close()

	server := NewKCPServer("127.0.0.1:0", 16, codec, nil)
	server.SetIdleTimeout(5 * time.Second)

	var (
		mu        sync.Mutex
		connected []protocol.PeerID
	)
	server.OnConnectivity(func(ev ConnectivityEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Connected {
			connected = append(connected, ev.Peer)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	defer server.Stop()

	received := make(chan *protocol.HitEffectMessage, 4)
	client, err := DialKCP(ctx, server.Addr().String(), 7, codec, func(m *protocol.HitEffectMessage) {
		received <- m
	})
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		return len(server.ConnectedPeers()) == 1
	}, 3*time.Second, 20*time.Millisecond, "сервер должен зарегистрировать пира после Hello")
	assert.Equal(t, []protocol.PeerID{7}, server.ConnectedPeers())

	msg := &protocol.HitEffectMessage{
		Delivery:       protocol.DeliveryTriggeringPeer,
		Phase:          protocol.PhaseConfirmed,
		Action:         "arrow",
		TriggeringPeer: 7,
		Target:         2,
		Point:          vec.Vec3{1, 2, 3},
		Sequence:       1,
	}
	require.NoError(t, server.SendToOne(7, msg))

	select {
	case got := <-received:
		assert.Equal(t, msg, got)
	case <-time.After(3 * time.Second):
		t.Fatal("сообщение не доставлено")
	}

	assert.ErrorIs(t, server.SendToOne(8, msg), ErrPeerNotConnected)
	assert.Equal(t, 0, server.SendToMany([]protocol.PeerID{8}, msg))

	mu.Lock()
	assert.Equal(t, []protocol.PeerID{7}, connected)
	mu.Unlock()
}

func TestKCPServerReceivesActionRequests(t *testing.T) {
	codec, err := protocol.NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	server := NewKCPServer("127.0.0.1:0", 16, codec, nil)
	server.SetIdleTimeout(5 * time.Second)

	type request struct {
		peer protocol.PeerID
		req  *protocol.ActionRequest
	}
	requests := make(chan request, 1)
	server.OnAction(func(peer protocol.PeerID, req *protocol.ActionRequest) {
		requests <- request{peer: peer, req: req}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	defer server.Stop()

	client, err := DialKCP(ctx, server.Addr().String(), 4, codec, nil)
	require.NoError(t, err)
	defer client.Close()

	want := &protocol.ActionRequest{Action: "fireball", Owner: 40, Origin: vec.Vec3{1, 0, 0}, Direction: vec.Vec3{0, 0, 1}}
	require.NoError(t, client.SendAction(want))

	select {
	case got := <-requests:
		assert.Equal(t, protocol.PeerID(4), got.peer)
		assert.Equal(t, want, got.req)
	case <-time.After(3 * time.Second):
		t.Fatal("запрос действия не получен")
	}
}

func TestKCPServerKeepsFirstSessionForPeerID(t *testing.T) {
	codec, err := protocol.NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	server := NewKCPServer("127.0.0.1:0", 16, codec, nil)
	server.SetIdleTimeout(5 * time.Second)

	var (
		mu       sync.Mutex
		connects int
	)
	server.OnConnectivity(func(ev ConnectivityEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Connected {
			connects++
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	defer server.Stop()

	first := make(chan *protocol.HitEffectMessage, 4)
	c1, err := DialKCP(ctx, server.Addr().String(), 9, codec, func(m *protocol.HitEffectMessage) { first <- m })
	require.NoError(t, err)
	defer c1.Close()
	require.Eventually(t, func() bool {
		return len(server.ConnectedPeers()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	second := make(chan *protocol.HitEffectMessage, 4)
	c2, err := DialKCP(ctx, server.Addr().String(), 9, codec, func(m *protocol.HitEffectMessage) { second <- m })
	require.NoError(t, err)
	defer c2.Close()
	time.Sleep(500 * time.Millisecond)

	msg := &protocol.HitEffectMessage{Delivery: protocol.DeliveryTriggeringPeer, Action: "arrow", TriggeringPeer: 9, Sequence: 1}
	require.NoError(t, server.SendToOne(9, msg))

	select {
	case got := <-first:
		assert.Equal(t, msg, got)
	case <-time.After(3 * time.Second):
		t.Fatal("первая сессия должна сохранить PeerID")
	}
	select {
	case <-second:
		t.Fatal("повторный Hello с занятым PeerID не должен захватывать сессию")
	case <-time.After(300 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, connects)
}
