package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/network"
	"github.com/annel0/mmo-hitfx/internal/physics"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/replication"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
	"github.com/annel0/mmo-hitfx/internal/world"
)

const actions = `
actions:
  - id: nova
    targeting:
      kind: area
      radius: 5
      allowed: [enemy]
    effects:
      - name: nova_burst
        kind: particles
  - id: bolt
    targeting:
      kind: ranged
      range: 50
      allowed: [enemy, prop]
    effects:
      - name: bolt_hit
        kind: decal
`

// inbox собирает сообщения, дошедшие до пира
type inbox struct {
	mu   sync.Mutex
	msgs []*protocol.HitEffectMessage
}

func (b *inbox) handle(m *protocol.HitEffectMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) all() []*protocol.HitEffectMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*protocol.HitEffectMessage(nil), b.msgs...)
}

type fixture struct {
	session *Session
	hub     *network.LoopbackHub
	inboxes map[protocol.PeerID]*inbox
}

func character(body targeting.BodyID, id targeting.EntityID, team targeting.TeamID, at vec.Vec3) world.Body {
	return world.Body{
		ID:     body,
		Bounds: physics.NewAABB(at, vec.Vec3{1, 2, 1}),
		Layer:  targeting.LayerCharacter,
		Entity: &targeting.EntityInfo{ID: id, Kind: targeting.KindCharacter, Team: team},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := effects.ParseCatalog([]byte(actions))
	require.NoError(t, err)

	space := world.NewSpace(4)
	require.NoError(t, space.Insert(character(1, 100, 1, vec.Vec3{0, 1, 0})))  // владелец
	require.NoError(t, space.Insert(character(2, 200, 2, vec.Vec3{3, 1, 0})))  // враг рядом
	require.NoError(t, space.Insert(character(3, 300, 1, vec.Vec3{0, 1, 3})))  // союзник
	require.NoError(t, space.Insert(character(4, 400, 2, vec.Vec3{20, 1, 9}))) // враг далеко

	hub := network.NewLoopbackHub(16, nil)
	t.Cleanup(func() { hub.Close() })

	f := &fixture{hub: hub, inboxes: map[protocol.PeerID]*inbox{}}
	for _, id := range []protocol.PeerID{1, 2} {
		box := &inbox{}
		f.inboxes[id] = box
		require.NoError(t, hub.Connect(id, box.handle))
	}

	rep := replication.New(replication.Config{}, catalog, replication.NewLogPlayer(), nil, hub, nil)
	f.session = NewSession(catalog, space, targeting.NewResolver(space, space, nil), rep)
	f.session.AssignEntity(1, 100)
	hub.OnConnectivity(f.session.OnConnectivity)
	return f
}

func TestExecuteAreaActionReplicates(t *testing.T) {
	f := newFixture(t)

	hits, err := f.session.ExecuteAction(context.Background(), 1, 100, "nova", vec.Zero, vec.Zero)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, targeting.EntityID(200), hits[0].Target)
	assert.Equal(t, vec.Vec3{3, 1, 0}, hits[0].ContactPoint)

	f.hub.Flush()

	a := f.inboxes[1].all()
	require.Len(t, a, 1)
	assert.Equal(t, protocol.DeliveryTriggeringPeer, a[0].Delivery)
	assert.Equal(t, targeting.EntityID(200), a[0].Target)
	assert.Equal(t, targeting.EntityID(100), a[0].Owner)

	b := f.inboxes[2].all()
	require.Len(t, b, 1)
	assert.Equal(t, protocol.DeliveryOtherPeers, b[0].Delivery)
	assert.Equal(t, a[0].Sequence, b[0].Sequence)
}

func TestExecuteRangedAction(t *testing.T) {
	f := newFixture(t)

	hits, err := f.session.ExecuteAction(context.Background(), 1, 100, "bolt", vec.Zero, vec.Vec3{1, 0, 0})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, targeting.EntityID(200), hits[0].Target)
	assert.InDelta(t, 2.5, hits[0].ContactPoint.X(), 1e-9)

	hits, err = f.session.ExecuteAction(context.Background(), 1, 100, "bolt", vec.Zero, vec.Vec3{0, 0, 1})
	require.NoError(t, err)
	assert.Empty(t, hits, "союзник не является целью")

	f.hub.Flush()
	assert.Len(t, f.inboxes[2].all(), 1, "промах не рассылается")
}

func TestExecuteActionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.session.ExecuteAction(ctx, 1, 100, "meteor", vec.Zero, vec.Zero)
	assert.ErrorIs(t, err, effects.ErrUnknownAction)

	_, err = f.session.ExecuteAction(ctx, 2, 100, "nova", vec.Zero, vec.Zero)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.session.ExecuteAction(ctx, protocol.NoPeer, 999, "nova", vec.Zero, vec.Zero)
	assert.ErrorIs(t, err, ErrUnknownOwner)

	_, err = f.session.ExecuteAction(ctx, 1, 100, "bolt", vec.Zero, vec.Zero)
	assert.ErrorIs(t, err, targeting.ErrInvalidRequest, "луч без направления")

	f.hub.Flush()
	assert.Empty(t, f.inboxes[1].all())
	assert.Empty(t, f.inboxes[2].all())
}

func TestServerActionReachesEveryone(t *testing.T) {
	f := newFixture(t)

	_, err := f.session.ExecuteAction(context.Background(), protocol.NoPeer, 400, "nova", vec.Vec3{0, 1, 0}, vec.Zero)
	require.NoError(t, err)
	f.hub.Flush()

	for _, id := range []protocol.PeerID{1, 2} {
		msgs := f.inboxes[id].all()
		require.Len(t, msgs, 2, "пир %d", id)
		for _, m := range msgs {
			assert.Equal(t, protocol.DeliveryOtherPeers, m.Delivery)
		}
	}
}

func TestHandleActionRequestAndDisconnect(t *testing.T) {
	f := newFixture(t)

	f.session.HandleActionRequest(1, &protocol.ActionRequest{Action: "nova", Owner: 100})
	f.hub.Flush()
	assert.Len(t, f.inboxes[1].all(), 1)

	require.True(t, f.hub.Disconnect(1))
	_, ok := f.session.ControlledEntity(1)
	assert.False(t, ok, "отключение снимает управление сущностью")

	f.session.HandleActionRequest(1, &protocol.ActionRequest{Action: "nova", Owner: 100})
	f.hub.Flush()
	assert.Len(t, f.inboxes[2].all(), 1, "отклонённый запрос ничего не рассылает")
}
