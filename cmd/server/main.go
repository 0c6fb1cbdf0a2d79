package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/hashchain-ledger/internal/api"
	"github.com/sheikh-saqib/hashchain-ledger/internal/cache"
	"github.com/sheikh-saqib/hashchain-ledger/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/ledger"
	"github.com/sheikh-saqib/hashchain-ledger/internal/metrics"
	"github.com/sheikh-saqib/hashchain-ledger/internal/ratelimit"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/pebbledb"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/postgres"
)

const envPrefix = "HASHCHAIN_LEDGER"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

type config struct {
	Server struct {
		HttpHost        string        `conf:"default:0.0.0.0:8080"`
		MetricsHttpHost string        `conf:"default:0.0.0.0:9999"`
		ShutdownTimeout time.Duration `conf:"default:10s"`
	}
	Store struct {
		Driver       string `conf:"default:memory"`
		PebbleFolder string `conf:"default:store"`
		PostgresURL  string `conf:"optional,noprint"`
	}
	Ledger struct {
		LockTimeout    time.Duration `conf:"default:5s"`
		Retries        int           `conf:"default:1"`
		RetryBackoff   time.Duration `conf:"default:50ms"`
		OpeningBalance string        `conf:"default:1000.00000000"`
	}
	Kafka struct {
		Enabled bool     `conf:"default:false"`
		Brokers []string `conf:"default:localhost:9092"`
		Topic   string   `conf:"default:transfer_completed"`
		// events waiting for the broker before new ones are dropped
		Buffer       int           `conf:"default:1024"`
		WriteTimeout time.Duration `conf:"default:5s"`
	}
	Cache struct {
		EntryTTL      time.Duration `conf:"default:10m"`
		EntryCapacity uint64        `conf:"default:10000"`
	}
	RateLimit struct {
		Transfers int           `conf:"default:10"`
		Window    time.Duration `conf:"default:1m"`
	}
	Metrics struct {
		Namespace string `conf:"default:hashchain_ledger"`
	}
}

func run() error {
	// a missing .env is fine, the environment may be set by other means
	_ = godotenv.Load()

	var cfg config
	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	zapConfig := zap.NewProductionConfig()
	// readable date instead of an epoch time
	zapConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	logger, err := zapConfig.Build()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	sLogger.Infof("main: Config :\n%v\n", out)

	openingBalance, err := decimal.NewFromString(cfg.Ledger.OpeningBalance)
	if err != nil {
		return errors.Wrap(err, "parsing opening balance")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, sLogger)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher interfaces.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		sLogger.Warn("main: kafka disabled, transfer events will not be published")
	}

	entryCache := cache.NewEntryCache(cfg.Cache.EntryTTL, cfg.Cache.EntryCapacity)
	defer entryCache.Stop()

	limiter := ratelimit.NewLimiter(cfg.RateLimit.Transfers, cfg.RateLimit.Window)
	defer limiter.Stop()

	m := metrics.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	ledgerService := ledger.NewLedger(store, publisher, entryCache, m, sLogger, ledger.Config{
		LockTimeout:    cfg.Ledger.LockTimeout,
		Retries:        cfg.Ledger.Retries,
		RetryBackoff:   cfg.Ledger.RetryBackoff,
		OpeningBalance: openingBalance,
		PublishBuffer:  cfg.Kafka.Buffer,
		PublishTimeout: cfg.Kafka.WriteTimeout,
	})
	defer ledgerService.Close()

	apiServer := &http.Server{
		Addr:              cfg.Server.HttpHost,
		Handler:           api.NewHandler(ledgerService, limiter, sLogger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsHttpHost,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, server := range []*http.Server{apiServer, metricsServer} {
		group.Go(func() error {
			sLogger.Infof("main: Starting server on addr [%s].", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "serving on [%s]", server.Addr)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		sLogger.Info("main: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutting down api server")
		}
		return errors.Wrap(metricsServer.Shutdown(shutdownCtx), "shutting down metrics server")
	})
	return group.Wait()
}

func openStore(ctx context.Context, cfg config, logger *zap.SugaredLogger) (interfaces.LedgerStore, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("main: using in-memory store, state is lost on exit")
		return memory.NewMemoryLedgerStore(), func() error { return nil }, nil
	case "pebble":
		store, err := pebbledb.NewStore(cfg.Store.PebbleFolder)
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating pebble store")
		}
		return store, store.Close, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewPostgresLedgerStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	}
	return nil, nil, errors.Errorf("unknown store driver [%s]", cfg.Store.Driver)
}
