package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecordValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveResolve("area", 3, time.Millisecond)
	c.ObserveResolve("ranged", 0, time.Millisecond)
	c.SetPoolState(8, 5)
	c.PoolGrew()
	c.MessagesSent("other_peers", 2)
	c.MessagesSent("other_peers", 0)
	c.SendDropped("peer_gone")
	c.UnknownAction()
	c.SetConnectedPeers(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolves.WithLabelValues("area", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resolves.WithLabelValues("ranged", "miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.hitsResolved.WithLabelValues("area")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.poolCapacity))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.poolInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolGrowth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesSent.WithLabelValues("other_peers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sendsDropped.WithLabelValues("peer_gone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unknownActions))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.connectedPeers))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "метрики должны быть зарегистрированы в переданном реестре")
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveResolve("self", 1, 0)
		c.SetPoolState(1, 1)
		c.PoolGrew()
		c.EffectTriggered("start")
		c.MessagesSent("triggering_peer", 1)
		c.SendDropped("queue_full")
		c.UnknownAction()
		c.SetConnectedPeers(0)
	})
}
