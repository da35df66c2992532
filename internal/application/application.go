package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/psds-microservice/voice-supervisor/internal/config"
	"github.com/psds-microservice/voice-supervisor/internal/database"
	"github.com/psds-microservice/voice-supervisor/internal/gateway"
	"github.com/psds-microservice/voice-supervisor/internal/grpcserver"
	"github.com/psds-microservice/voice-supervisor/internal/handler"
	"github.com/psds-microservice/voice-supervisor/internal/lease"
	"github.com/psds-microservice/voice-supervisor/internal/router"
	"github.com/psds-microservice/voice-supervisor/internal/service"
	"github.com/psds-microservice/voice-supervisor/internal/supervisor"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket + gRPC health application around the supervisor.
type API struct {
	cfg     *config.Config
	log     *zap.Logger
	srv     *http.Server
	grpc    *grpcserver.Server
	db      *gorm.DB
	redis   *redis.Client
	sv      *supervisor.Supervisor
	hub     *service.EventHub
	history *service.HistoryService
}

// NewLogger builds the zap logger for APP_ENV and LOG_LEVEL.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

// NewAPI creates the API application: validates config, runs migrations, opens DB and
// Redis when configured, builds the supervisor and the router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	a := &API{cfg: cfg, log: logger}

	var opts []supervisor.Option
	if cfg.HistoryEnabled {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db
		a.history = service.NewHistoryService(db, logger)
		opts = append(opts, supervisor.WithObserver(a.history))
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		opts = append(opts, supervisor.WithLease(lease.NewRedis(a.redis, instanceID(), cfg.Redis.LeaseTTL)))
	}

	a.hub = service.NewEventHub(cfg.WSMaxMessageSize, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, logger)
	opts = append(opts, supervisor.WithObserver(a.hub))

	dialer := gateway.NewDiscordDialer(gateway.DiscordOptions{
		SelfMute: cfg.VoiceSelfMute,
		SelfDeaf: cfg.VoiceSelfDeaf,
	}, logger)
	a.sv = supervisor.New(dialer, cfg.Policy(), logger, opts...)
	orch := supervisor.NewOrchestrator(a.sv, cfg.BatchPolicy(), logger)

	// an untyped nil keeps the events endpoint answering 503
	var history service.HistoryReader
	if a.history != nil {
		history = a.history
	}
	r := router.New(
		handler.NewDiscordHandler(orch, a.sv, logger),
		handler.NewSessionHandler(a.sv, history, cfg.WSBaseURL),
		handler.NewEventsWSHandler(a.hub, logger),
		handler.NewHealthHandler(a.sv.Closed, a.sv.Len),
	)
	a.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// a batch waits for every connect of the request
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.GRPCPort != "" {
		a.grpc = grpcserver.New(logger)
	}
	return a, nil
}

// Run starts the servers and background workers and blocks until ctx is cancelled;
// then shuts everything down in order: readiness first, sessions next, transports last.
func (a *API) Run(ctx context.Context) error {
	defer a.close()

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.srv.Addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Ready:         %s/ready", base)
	log.Printf("  Metrics:       %s/metrics", base)
	log.Printf("  Discord:       %s/api/discord", base)
	log.Printf("  Sessions:      %s/sessions", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws/sessions", host, a.cfg.HTTPPort)

	var grpcLis net.Listener
	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPCAddr())
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcLis = lis
		log.Printf("gRPC health on %s", a.cfg.GRPCAddr())
	}

	// workers outlive ctx so the final transitions still reach history
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	var workers errgroup.Group
	workers.Go(func() error {
		a.sv.RunSweeper(bgCtx)
		return nil
	})
	if a.history != nil {
		workers.Go(func() error {
			a.history.Run(bgCtx)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error { return a.grpc.Serve(grpcLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	stopBackground()
	_ = workers.Wait()
	return err
}

func (a *API) shutdown() {
	if a.grpc != nil {
		a.grpc.Drain()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.sv.Shutdown(ctx); err != nil {
		a.log.Warn("supervisor shutdown", zap.Error(err))
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	a.hub.Close()
	if a.grpc != nil {
		a.grpc.Stop(ctx)
	}
	a.log.Info("shutdown complete")
}

func (a *API) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
	_ = a.log.Sync()
}

// instanceID names this process as a lease owner.
func instanceID() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "voice-supervisor"
	}
	return host + "-" + uuid.NewString()[:8]
}
