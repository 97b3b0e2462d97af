package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"counterd/api"
	"counterd/config"
	"counterd/counter"
	"counterd/observability"
	"counterd/p2p"
	"counterd/rpc"
	"counterd/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	addr := flag.String("addr", "", "HTTP listen address (default 127.0.0.1:10086)")
	backend := flag.String("backend", "", "counter backend: memory or redis")
	initial := flag.Int64("initial", 0, "initial counter value")
	redisAddr := flag.String("redis", "", "Redis address (e.g., localhost:6379), used with -backend=redis")
	logLevel := flag.String("log-level", "", "log level: trace, debug, info, warn, error, disabled")
	p2pEnabled := flag.Bool("p2p", false, "serve commands over libp2p as well")
	keyFile := flag.String("key", "", "path to libp2p key file (e.g. counterd.key)")
	bootstrap := flag.String("bootstrap", "", "comma-separated bootstrap multiaddrs; enables DHT advertisement")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "counterd: %v\n", err)
		os.Exit(1)
	}

	// Flags win over file and env, but only when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "backend":
			cfg.Counter.Backend = strings.ToLower(*backend)
		case "initial":
			cfg.Counter.Initial = *initial
		case "redis":
			cfg.Redis.Addr = *redisAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "p2p":
			cfg.P2P.Enabled = *p2pEnabled
		case "key":
			cfg.P2P.KeyFile = *keyFile
		case "bootstrap":
			cfg.P2P.Bootstrap = splitList(*bootstrap)
			cfg.P2P.Advertise = true
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "counterd: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger("counterd", cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("counterd stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		recorder rpc.Recorder
		opts     = api.Options{AllowOrigins: cfg.CORS.AllowOrigins}
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observability.NewMetrics(reg)
		recorder = metrics
		opts.Metrics = metrics
		opts.Gatherer = reg
		opts.MetricsPath = cfg.Metrics.Path
	}

	dispatcher := rpc.NewDispatcher(store, logger, recorder)

	if cfg.P2P.Enabled {
		h, err := p2p.NewHost(p2p.HostConfig{Listen: cfg.P2P.Listen, KeyFile: cfg.P2P.KeyFile})
		if err != nil {
			return err
		}
		defer h.Close()

		transport := p2p.NewTransport(h, dispatcher, logger)
		transport.Start()
		defer transport.Stop()

		if cfg.P2P.Advertise {
			kad, err := p2p.Advertise(ctx, h, cfg.P2P.Bootstrap, logger)
			if err != nil {
				return err
			}
			defer kad.Close()
		}
	}

	gin.SetMode(gin.ReleaseMode)
	return api.NewServer(dispatcher, logger, opts).Run(ctx, cfg.Server.Addr)
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (counter.Store, func(), error) {
	switch cfg.Counter.Backend {
	case config.BackendRedis:
		store, err := storage.NewRedisStore(ctx, cfg.Redis, cfg.Counter.Initial, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		logger.Info().Int64("initial", cfg.Counter.Initial).Msg("using in-memory counter")
		return counter.NewMemory(cfg.Counter.Initial), func() {}, nil
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
