package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/eventbus"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/middleware"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/world"
)

// PoolSource источник статистики пула маркеров
type PoolSource interface {
	Stats() effects.PoolStats
}

// PeerSource источник списка подключённых пиров
type PeerSource interface {
	ConnectedPeers() []protocol.PeerID
}

// StatusConfig зависимости статус-сервера. Любой источник может быть nil,
// тогда соответствующий маршрут отвечает 404.
type StatusConfig struct {
	Addr     string
	Registry *prometheus.Registry
	Pool     PoolSource
	Peers    PeerSource
	Space    *world.Space
	Catalog  *effects.Catalog
	Bus      eventbus.EventBus
}

// GenericResponse общий формат ответа debug-маршрутов
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// StatusServer HTTP-сервер здоровья, метрик и отладочных снимков
type StatusServer struct {
	cfg     StatusConfig
	router  *gin.Engine
	metrics *ServerMetrics
	logger  *logging.Logger

	srv      *http.Server
	listener net.Listener
}

// NewStatusServer собирает роутер с observability-middleware
func NewStatusServer(cfg StatusConfig) *StatusServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("hitfx_status"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("hitfx_status", cfg.Registry)
	router.Use(promMw.Handler())
	middleware.RegisterMetricsEndpoint(router, cfg.Registry)

	s := &StatusServer{
		cfg:     cfg,
		router:  router,
		metrics: NewServerMetrics(),
		logger:  logging.GetComponentLogger("api"),
	}
	s.setupRoutes()
	return s
}

func (s *StatusServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	debug := s.router.Group("/debug")
	{
		debug.GET("/runtime", s.handleRuntime)
		debug.GET("/pool", s.handlePool)
		debug.GET("/peers", s.handlePeers)
		debug.GET("/world", s.handleWorld)
		debug.GET("/actions", s.handleActions)
		debug.GET("/eventbus", s.handleEventBus)
	}
}

// Handler http.Handler роутера, для встраивания и тестов
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start начинает слушать адрес; обслуживание идёт в отдельной горутине
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("❌ Статус-сервер остановился: %v", err)
		}
	}()
	s.logger.Info("🌐 Статус-сервер слушает %s", ln.Addr())
	return nil
}

// Addr фактический адрес после Start
func (s *StatusServer) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop корректно завершает обработку запросов
func (s *StatusServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *StatusServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"uptime": s.metrics.GetUptime(),
	})
}

func (s *StatusServer) handleRuntime(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.metrics.Snapshot()})
}

func (s *StatusServer) handlePool(c *gin.Context) {
	if s.cfg.Pool == nil {
		notConfigured(c, "пул маркеров")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.cfg.Pool.Stats()})
}

func (s *StatusServer) handlePeers(c *gin.Context) {
	if s.cfg.Peers == nil {
		notConfigured(c, "транспорт")
		return
	}
	peers := s.cfg.Peers.ConnectedPeers()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"peers": peers,
			"total": len(peers),
		},
	})
}

func (s *StatusServer) handleWorld(c *gin.Context) {
	if s.cfg.Space == nil {
		notConfigured(c, "мир")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.cfg.Space.Stats()})
}

func (s *StatusServer) handleActions(c *gin.Context) {
	if s.cfg.Catalog == nil {
		notConfigured(c, "каталог действий")
		return
	}
	ids := s.cfg.Catalog.IDs()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"actions": ids,
			"total":   len(ids),
		},
	})
}

func (s *StatusServer) handleEventBus(c *gin.Context) {
	if s.cfg.Bus == nil {
		notConfigured(c, "шина событий")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.cfg.Bus.Metrics()})
}

func notConfigured(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, GenericResponse{
		Success: false,
		Message: what + " не подключён",
	})
}
