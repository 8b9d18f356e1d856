// Package metrics собирает Prometheus-метрики подсистемы попаданий.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hitfx"

// Collectors набор метрик наведения, пула маркеров и репликации.
// Все методы безопасны для nil-получателя: компоненты без метрик просто ничего не пишут.
type Collectors struct {
	resolves        *prometheus.CounterVec
	hitsResolved    *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec

	poolCapacity prometheus.Gauge
	poolInUse    prometheus.Gauge
	poolGrowth   prometheus.Counter

	effectsTriggered *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	sendsDropped     *prometheus.CounterVec
	unknownActions   prometheus.Counter
	connectedPeers   prometheus.Gauge
}

// NewCollectors создаёт метрики и регистрирует их в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collectors{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_resolves_total",
			Help:      "Количество разрешений целей по виду наведения и исходу.",
		}, []string{"kind", "outcome"}),
		hitsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_resolved_total",
			Help:      "Количество найденных HitRecord.",
		}, []string{"kind"}),
		resolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_resolve_duration_seconds",
			Help:      "Длительность разрешения целей.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"kind"}),
		poolCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity",
			Help:      "Текущая ёмкость пула маркеров.",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use",
			Help:      "Занятые маркеры пула.",
		}),
		poolGrowth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_growth_total",
			Help:      "Сколько раз пул расширялся сверх начальной ёмкости.",
		}),
		effectsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_triggered_total",
			Help:      "Запуски эффектов по моменту жизненного цикла.",
		}, []string{"moment"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Отправленные сообщения эффектов по адресату.",
		}, []string{"delivery"}),
		sendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Отброшенные отправки по причине.",
		}, []string{"reason"}),
		unknownActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_actions_total",
			Help:      "Запросы репликации с неизвестным ActionID.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Подключённые пиры по данным транспорта.",
		}),
	}

	reg.MustRegister(
		c.resolves, c.hitsResolved, c.resolveDuration,
		c.poolCapacity, c.poolInUse, c.poolGrowth,
		c.effectsTriggered, c.messagesSent, c.sendsDropped,
		c.unknownActions, c.connectedPeers,
	)
	return c
}

// ObserveResolve фиксирует одно разрешение целей
func (c *Collectors) ObserveResolve(kind string, hits int, took time.Duration) {
	if c == nil {
		return
	}
	outcome := "hit"
	if hits == 0 {
		outcome = "miss"
	}
	c.resolves.WithLabelValues(kind, outcome).Inc()
	c.hitsResolved.WithLabelValues(kind).Add(float64(hits))
	c.resolveDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// SetPoolState обновляет ёмкость и занятость пула
func (c *Collectors) SetPoolState(capacity, inUse int) {
	if c == nil {
		return
	}
	c.poolCapacity.Set(float64(capacity))
	c.poolInUse.Set(float64(inUse))
}

// PoolGrew фиксирует расширение пула
func (c *Collectors) PoolGrew() {
	if c == nil {
		return
	}
	c.poolGrowth.Inc()
}

// EffectTriggered фиксирует запуск эффекта
func (c *Collectors) EffectTriggered(moment string) {
	if c == nil {
		return
	}
	c.effectsTriggered.WithLabelValues(moment).Inc()
}

// MessagesSent добавляет n отправленных сообщений
func (c *Collectors) MessagesSent(delivery string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.messagesSent.WithLabelValues(delivery).Add(float64(n))
}

// SendDropped фиксирует отброшенную отправку
func (c *Collectors) SendDropped(reason string) {
	if c == nil {
		return
	}
	c.sendsDropped.WithLabelValues(reason).Inc()
}

// UnknownAction фиксирует запрос с неизвестным действием
func (c *Collectors) UnknownAction() {
	if c == nil {
		return
	}
	c.unknownActions.Inc()
}

// SetConnectedPeers обновляет число подключённых пиров
func (c *Collectors) SetConnectedPeers(n int) {
	if c == nil {
		return
	}
	c.connectedPeers.Set(float64(n))
}
