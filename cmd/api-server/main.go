package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medai-portal/internal/api"
	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/config"
	"github.com/hackgods/medai-portal/internal/db"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/profile"
	redisclient "github.com/hackgods/medai-portal/internal/redis"
	"github.com/hackgods/medai-portal/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("config load error")
	}

	log := logger.New(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":       cfg.Env,
		"http_port": cfg.HTTPPort,
		"version":   version,
	}).Info("api-server starting up")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("api-server stopped with error")
		os.Exit(1)
	}
	log.Info("api-server stopped")
}

func run(cfg config.Config, log *logger.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.PostgresDSN); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}()
	log.Info("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	locker := redisclient.NewLocker(rdb, cfg.LockTTL)
	profiles := profile.NewCachedStore(profile.NewPgStore(pgPool, locker), rdb, cfg.ProfileCacheTTL, log)
	accounts := auth.NewService(auth.NewPgAccountRepository(pgPool))
	authSessions := auth.NewRedisSessionStore(rdb, cfg.SessionTTL)

	sessions := session.NewManager(accounts, authSessions, profiles, log, rec)
	defer sessions.CloseAll()

	signInLimiter := api.NewIPRateLimiter(cfg.SignInRatePerMin)

	router := api.NewRouter(api.RouterConfig{
		Accounts:         accounts,
		Profiles:         profiles,
		Sessions:         sessions,
		Tokens:           session.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL),
		Log:              log,
		Metrics:          rec,
		MetricsHandler:   metrics.Handler(reg),
		PostgresPing:     pgPool.Ping,
		RedisPing:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		SignInLimiter:    signInLimiter,
		SecureCookies:    cfg.Env != "dev",
		Env:              cfg.Env,
		Version:          version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return session.RunSweeper(ctx, sessions, cfg.WorkerInterval, cfg.SessionIdleTTL, log)
	})

	g.Go(func() error {
		return signInLimiter.Run(ctx, cfg.WorkerInterval, log)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
