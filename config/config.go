// Package config loads counterd settings from defaults, a TOML file and the
// environment. Command-line flags are applied on top by cmd/counterd.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"counterd/observability"
	"counterd/storage"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	EnvAddr           = "COUNTERD_ADDR"
	EnvBackend        = "COUNTERD_BACKEND"
	EnvRedisAddr      = "COUNTERD_REDIS_ADDR"
	EnvRedisKey       = "COUNTERD_REDIS_KEY"
	EnvP2PEnabled     = "COUNTERD_P2P_ENABLED"
	EnvMetricsEnabled = "COUNTERD_METRICS_ENABLED"
)

type Config struct {
	Server  ServerConfig
	CORS    CORSConfig
	Counter CounterConfig
	Redis   storage.RedisConfig
	Log     observability.LogConfig
	Metrics MetricsConfig
	P2P     P2PConfig
}

type ServerConfig struct {
	Addr string
}

type CORSConfig struct {
	AllowOrigins []string
}

type CounterConfig struct {
	Backend string
	Initial int64
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type P2PConfig struct {
	Enabled   bool
	Listen    []string
	KeyFile   string
	Bootstrap []string
	Advertise bool
}

func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:10086"},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:5173"},
		},
		Counter: CounterConfig{Backend: BackendMemory},
		Redis:   storage.RedisConfig{Key: storage.DefaultKey},
		Log:     observability.LogConfig{Level: "info", Pretty: true},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		P2P: P2PConfig{
			Listen: []string{"/ip4/0.0.0.0/tcp/4001"},
		},
	}
}

type fileConfig struct {
	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`
	CORS struct {
		AllowOrigins []string `toml:"allow_origins"`
	} `toml:"cors"`
	Counter struct {
		Backend string `toml:"backend"`
		Initial int64  `toml:"initial"`
	} `toml:"counter"`
	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Key      string `toml:"key"`
	} `toml:"redis"`
	Log struct {
		Level  string `toml:"level"`
		Pretty bool   `toml:"pretty"`
	} `toml:"log"`
	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"metrics"`
	P2P struct {
		Enabled   bool     `toml:"enabled"`
		Listen    []string `toml:"listen"`
		KeyFile   string   `toml:"key_file"`
		Bootstrap []string `toml:"bootstrap"`
		Advertise bool     `toml:"advertise"`
	} `toml:"p2p"`
}

// Load returns defaults overlaid with the TOML file at path (skipped when path
// is empty) and COUNTERD_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load counterd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("load counterd config: unknown keys %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}

	if meta.IsDefined("cors", "allow_origins") {
		cfg.CORS.AllowOrigins = normalizeList(raw.CORS.AllowOrigins)
	}

	if meta.IsDefined("counter", "backend") {
		cfg.Counter.Backend = strings.ToLower(strings.TrimSpace(raw.Counter.Backend))
	}
	if meta.IsDefined("counter", "initial") {
		cfg.Counter.Initial = raw.Counter.Initial
	}

	if meta.IsDefined("redis", "addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Redis.Addr)
	}
	if meta.IsDefined("redis", "password") {
		cfg.Redis.Password = raw.Redis.Password
	}
	if meta.IsDefined("redis", "db") {
		cfg.Redis.DB = raw.Redis.DB
	}
	if meta.IsDefined("redis", "key") {
		cfg.Redis.Key = strings.TrimSpace(raw.Redis.Key)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "pretty") {
		cfg.Log.Pretty = raw.Log.Pretty
	}

	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "path") {
		cfg.Metrics.Path = strings.TrimSpace(raw.Metrics.Path)
	}

	if meta.IsDefined("p2p", "enabled") {
		cfg.P2P.Enabled = raw.P2P.Enabled
	}
	if meta.IsDefined("p2p", "listen") {
		cfg.P2P.Listen = normalizeList(raw.P2P.Listen)
	}
	if meta.IsDefined("p2p", "key_file") {
		cfg.P2P.KeyFile = strings.TrimSpace(raw.P2P.KeyFile)
	}
	if meta.IsDefined("p2p", "bootstrap") {
		cfg.P2P.Bootstrap = normalizeList(raw.P2P.Bootstrap)
	}
	if meta.IsDefined("p2p", "advertise") {
		cfg.P2P.Advertise = raw.P2P.Advertise
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		cfg.Counter.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisKey)); v != "" {
		cfg.Redis.Key = v
	}
	if v, ok, err := parseBoolEnv(EnvP2PEnabled); err != nil {
		return err
	} else if ok {
		cfg.P2P.Enabled = v
	}
	if v, ok, err := parseBoolEnv(EnvMetricsEnabled); err != nil {
		return err
	} else if ok {
		cfg.Metrics.Enabled = v
	}
	return nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Counter.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when counter.backend = %q", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown counter.backend %q (want %q or %q)", c.Counter.Backend, BackendMemory, BackendRedis)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	if c.P2P.Enabled && len(c.P2P.Listen) == 0 {
		return fmt.Errorf("p2p.listen needs at least one multiaddr when p2p is enabled")
	}
	return nil
}

func parseBoolEnv(key string) (bool, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, true, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
