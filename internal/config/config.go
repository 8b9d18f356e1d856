package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера эффектов.
// Пустые поля заменяются значениями из окружения или дефолтами через геттеры.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	World       WorldConfig       `yaml:"world"`
	Pool        PoolConfig        `yaml:"pool"`
	Replication ReplicationConfig `yaml:"replication"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host              string `yaml:"host"`
	KCPPort           int    `yaml:"kcp_port"`
	HTTPPort          int    `yaml:"http_port"`
	QueueSize         int    `yaml:"queue_size"`
	CompressThreshold int    `yaml:"compress_threshold"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_seconds"`
}

type WorldConfig struct {
	CellSize float64 `yaml:"cell_size"`
	// Layout YAML с телами мира; пусто - пустой мир
	Layout string `yaml:"layout"`
}

type PoolConfig struct {
	InitialSize int `yaml:"initial_size"`
}

type ReplicationConfig struct {
	// LocalPeer 0 - выделенный сервер без локального игрока
	LocalPeer        uint32 `yaml:"local_peer"`
	MarkerLifetimeMS int    `yaml:"marker_lifetime_ms"`
}

type EventBusConfig struct {
	// Backend memory или jetstream
	Backend   string `yaml:"backend"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Capacity  int    `yaml:"capacity"`
	Retention int    `yaml:"retention_hours"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// GetKCPPort возвращает порт KCP с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "HITFX_KCP_PORT", 7777)
}

// GetHTTPPort возвращает порт статус-сервера с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "HITFX_HTTP_PORT", 8088)
}

// KCPAddr адрес для прослушивания KCP
func (s *ServerConfig) KCPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GetKCPPort())
}

// HTTPAddr адрес статус-сервера
func (s *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GetHTTPPort())
}

func (s *ServerConfig) GetQueueSize() int {
	return positiveOr(s.QueueSize, 256)
}

func (s *ServerConfig) GetCompressThreshold() int {
	return positiveOr(s.CompressThreshold, 512)
}

func (s *ServerConfig) GetIdleTimeout() time.Duration {
	return time.Duration(positiveOr(s.IdleTimeoutSec, 10)) * time.Second
}

func (w *WorldConfig) GetCellSize() float64 {
	if w.CellSize > 0 {
		return w.CellSize
	}
	return 16
}

func (p *PoolConfig) GetInitialSize() int {
	return positiveOr(p.InitialSize, 32)
}

// GetMarkerLifetime время жизни маркера подтверждения; 0 в конфиге - дефолт 2с
func (r *ReplicationConfig) GetMarkerLifetime() time.Duration {
	return time.Duration(positiveOr(r.MarkerLifetimeMS, 2000)) * time.Millisecond
}

func (e *EventBusConfig) GetBackend() string {
	if e.Backend != "" {
		return e.Backend
	}
	if v := os.Getenv("HITFX_EVENTBUS"); v != "" {
		return v
	}
	return "memory"
}

func (e *EventBusConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return "nats://127.0.0.1:4222"
}

func (e *EventBusConfig) GetStream() string {
	if e.Stream != "" {
		return e.Stream
	}
	return "HITFX"
}

func (e *EventBusConfig) GetRetention() time.Duration {
	return time.Duration(positiveOr(e.Retention, 24)) * time.Hour
}

func (e *EventBusConfig) GetCapacity() int {
	return positiveOr(e.Capacity, 1024)
}

func (t *TelemetryConfig) GetServiceName() string {
	if t.ServiceName != "" {
		return t.ServiceName
	}
	return "hitfx-server"
}

// GetPath путь к каталогу действий: config -> HITFX_CATALOG -> configs/actions.yaml
func (c *CatalogConfig) GetPath() string {
	if c.Path != "" {
		return c.Path
	}
	if v := os.Getenv("HITFX_CATALOG"); v != "" {
		return v
	}
	return "configs/actions.yaml"
}

func (l *LoggingConfig) GetLevel() string {
	if l.Level != "" {
		return l.Level
	}
	if v := os.Getenv("HITFX_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

func (l *LoggingConfig) GetDir() string {
	if l.Dir != "" {
		return l.Dir
	}
	return "logs"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Load читает YAML файл конфигурации.
// Если path == "", берёт путь из HITFX_CONFIG; без него возвращает пустой конфиг,
// все значения которого приходят из геттеров.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HITFX_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}
