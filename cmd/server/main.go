package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/mmo-hitfx/internal/api"
	"github.com/annel0/mmo-hitfx/internal/app"
	"github.com/annel0/mmo-hitfx/internal/config"
	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/eventbus"
	"github.com/annel0/mmo-hitfx/internal/logging"
	"github.com/annel0/mmo-hitfx/internal/metrics"
	"github.com/annel0/mmo-hitfx/internal/network"
	"github.com/annel0/mmo-hitfx/internal/observability"
	"github.com/annel0/mmo-hitfx/internal/protocol"
	"github.com/annel0/mmo-hitfx/internal/replication"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/world"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию HITFX_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLoggerIn("server", cfg.Logging.GetDir()); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	level, err := logging.ParseLevel(cfg.Logging.GetLevel())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	logging.SetDefaultLevel(level)

	logging.Info("🎯 Запуск сервера эффектов попаданий...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTracing, err := observability.InitTelemetry(ctx, cfg.Telemetry.GetServiceName(), cfg.Telemetry.Enabled)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации OpenTelemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logging.Error("Ошибка остановки трассировки: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollectors(registry)

	// === ШИНА СОБЫТИЙ ===
	bus, err := newEventBus(cfg.EventBus)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения шины событий: %v", err)
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Логирование событий шины недоступно: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, registry)
	busMetrics.Start()
	defer busMetrics.Stop()

	// === КАТАЛОГ И МИР ===
	catalog, err := effects.LoadCatalog(cfg.Catalog.GetPath())
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки каталога действий: %v", err)
	}
	logging.Info("📚 Каталог действий: %d записей", catalog.Len())

	space := world.NewSpace(cfg.World.GetCellSize())
	var layout *world.Layout
	if cfg.World.Layout != "" {
		if layout, err = world.LoadLayout(cfg.World.Layout); err != nil {
			log.Fatalf("❌ Ошибка загрузки раскладки мира: %v", err)
		}
		if err := layout.Populate(space); err != nil {
			log.Fatalf("❌ Ошибка наполнения мира: %v", err)
		}
	}
	logging.Info("🌍 %s", space.Stats())

	// === ТРАНСПОРТ ===
	codec, err := protocol.NewCodec(cfg.Server.GetCompressThreshold())
	if err != nil {
		log.Fatalf("❌ Ошибка создания кодека: %v", err)
	}
	defer codec.Close()

	transport := network.NewKCPServer(cfg.Server.KCPAddr(), cfg.Server.GetQueueSize(), codec, m)
	transport.SetIdleTimeout(cfg.Server.GetIdleTimeout())
	transport.OnConnectivity(network.PublishConnectivity(bus, "kcp"))

	// === РЕПЛИКАЦИЯ ===
	pool := effects.NewPool(cfg.Pool.GetInitialSize(), effects.NopRenderer{}, m)
	replicator := replication.New(replication.Config{
		LocalPeer:      protocol.PeerID(cfg.Replication.LocalPeer),
		MarkerLifetime: cfg.Replication.GetMarkerLifetime(),
	}, catalog, replication.NewLogPlayer(), pool, transport, m)
	replicator.AddObserver(replication.NewBusPublisher(bus, "replication"))
	if _, err := replicator.WatchConnectivity(ctx, bus); err != nil {
		logging.Warn("Метрика пиров не обновляется: %v", err)
	}

	session := app.NewSession(catalog, space, targeting.NewResolver(space, space, m), replicator)
	if layout != nil {
		for peer, entity := range layout.Controllers() {
			session.AssignEntity(protocol.PeerID(peer), entity)
		}
	}
	transport.OnConnectivity(session.OnConnectivity)
	transport.OnAction(session.HandleActionRequest)

	if err := transport.Start(ctx); err != nil {
		log.Fatalf("❌ Ошибка запуска KCP: %v", err)
	}

	// === СТАТУС ===
	status := api.NewStatusServer(api.StatusConfig{
		Addr:     cfg.Server.HTTPAddr(),
		Registry: registry,
		Pool:     pool,
		Peers:    transport,
		Space:    space,
		Catalog:  catalog,
		Bus:      bus,
	})
	if err := status.Start(); err != nil {
		log.Fatalf("❌ Ошибка запуска статус-сервера: %v", err)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 KCP: %s", transport.Addr())
	logging.Info("   ❤️  Health check: http://%s/health", status.Addr())

	<-ctx.Done()
	logging.Info("📡 Получен сигнал завершения, останавливаемся...")

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := status.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки статус-сервера: %v", err)
	}
	transport.Stop()
	if n := replicator.ReleaseMarkers(); n > 0 {
		logging.Debug("Возвращено маркеров: %d", n)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

func newEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	switch cfg.GetBackend() {
	case "jetstream", "nats":
		return eventbus.NewJetStreamBus(cfg.GetURL(), cfg.GetStream(), cfg.GetRetention())
	case "memory":
		return eventbus.NewMemoryBus(cfg.GetCapacity()), nil
	default:
		logging.Warn("Неизвестный backend шины %q, используется memory", cfg.GetBackend())
		return eventbus.NewMemoryBus(cfg.GetCapacity()), nil
	}
}
