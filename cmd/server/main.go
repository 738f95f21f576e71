package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olyamironova/futures-engine/internal/adapter/cache"
	"github.com/olyamironova/futures-engine/internal/adapter/in_memory"
	"github.com/olyamironova/futures-engine/internal/adapter/kafka"
	"github.com/olyamironova/futures-engine/internal/adapter/pg"
	"github.com/olyamironova/futures-engine/internal/adapter/ws"
	httpapi "github.com/olyamironova/futures-engine/internal/api/http"
	"github.com/olyamironova/futures-engine/internal/config"
	"github.com/olyamironova/futures-engine/internal/core"
	"github.com/olyamironova/futures-engine/internal/fixedpoint"
	"github.com/olyamironova/futures-engine/internal/logger"
	"github.com/olyamironova/futures-engine/internal/middleware"
	"github.com/olyamironova/futures-engine/internal/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, sync, err := logger.New(cfg.Log.Production, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = sync()
		os.Exit(1)
	}
}

// backend bundles the stores of one storage flavour.
type backend struct {
	orders    port.OrderStore
	positions port.PositionStore
	book      port.OrderBookStore
	candles   port.CandleStore
	markets   port.MarketStore
	batch     port.BatchWriter
	wallets   port.WalletService
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Engine.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage, state is lost on restart")
		repo := in_memory.NewMemoryRepo()
		return &backend{
			orders:    repo,
			positions: repo.Positions(),
			book:      repo,
			candles:   repo,
			markets:   repo,
			batch:     repo,
			wallets:   repo,
			close:     func() {},
		}, nil
	default:
		repo, err := pg.NewPgRepo(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				repo.Close()
				return nil, err
			}
		}
		return &backend{
			orders:    repo,
			positions: repo.Positions(),
			book:      repo,
			candles:   repo,
			markets:   repo,
			batch:     repo,
			wallets:   repo,
			close:     repo.Close,
		}, nil
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer be.close()

	var snapshots port.Cache = in_memory.NewCache()
	if cfg.Redis.Addr != "" {
		rc := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
			_ = rc.Close()
		} else {
			defer rc.Close()
			snapshots = rc
		}
	}

	var notifier port.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		n := kafka.NewNotifier(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.NotificationTopic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, log)
		defer n.Close()
		notifier = n
	}

	feeRate, err := fixedpoint.Parse(cfg.Engine.FeeRate)
	if err != nil {
		return fmt.Errorf("engine.fee_rate: %w", err)
	}
	conv := fixedpoint.NewConverter(cfg.Engine.ToleranceBps)
	hub := ws.NewHub(log)
	defer hub.Close()

	deps := core.Deps{
		Orders:      be.orders,
		Positions:   be.positions,
		Book:        be.book,
		Candles:     be.candles,
		Markets:     be.markets,
		Batch:       be.batch,
		Converter:   conv,
		Wallets:     be.wallets,
		Broadcaster: hub,
		Cache:       snapshots,
		Logger:      log,
		FeeRate:     feeRate,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	engine, err := core.NewEngine(deps)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		// partial state is usable, the failed phases are logged
		log.Error("engine start", zap.Error(err))
	}

	srv := httpapi.NewHTTPServer(engine, core.NewOrderService(engine), conv,
		http.HandlerFunc(hub.ServeWS), middleware.PerSecond(cfg.Server.RateLimit), log)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		log.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		if cfg.Engine.DrainInterval <= 0 {
			<-gctx.Done()
			return nil
		}
		t := time.NewTicker(cfg.Engine.DrainInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				engine.Drain(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})

	return g.Wait()
}
