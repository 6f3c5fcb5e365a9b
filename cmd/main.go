package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/config"
	"github.com/ruby4mag/service-downtime-backend/internal/db"
	"github.com/ruby4mag/service-downtime-backend/internal/downtime"
	"github.com/ruby4mag/service-downtime-backend/internal/handlers"
	"github.com/ruby4mag/service-downtime-backend/internal/journal"
	"github.com/ruby4mag/service-downtime-backend/internal/logging"
	"github.com/ruby4mag/service-downtime-backend/internal/metrics"
	"github.com/ruby4mag/service-downtime-backend/internal/models"
	"github.com/ruby4mag/service-downtime-backend/internal/scheduler"
	"github.com/ruby4mag/service-downtime-backend/internal/snapshot"
	"github.com/ruby4mag/service-downtime-backend/internal/tenants"
	"github.com/ruby4mag/service-downtime-backend/internal/zabbix"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := tenants.New(cfg.ClientsDir(), logger)
	if err != nil {
		return fmt.Errorf("loading clients: %w", err)
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Warn("client directory watch stopped", zap.Error(err))
		}
	}()

	store := snapshot.NewStore(cfg.ClientsDir(), logger)
	if _, err := store.CleanupStaging(); err != nil {
		logger.Warn("staging cleanup failed", zap.Error(err))
	}
	incidents := journal.New(cfg.ClientsDir(), logger)
	m := metrics.New()

	pool := zabbix.NewPool(zabbix.Options{
		Server:             cfg.Zabbix.Server,
		Token:              cfg.Zabbix.APIToken,
		Timeout:            cfg.Zabbix.Timeout,
		InsecureSkipVerify: cfg.Zabbix.InsecureSkipVerify,
		Breaker: zabbix.BreakerOptions{
			MaxRequests:         cfg.Zabbix.Breaker.MaxRequests,
			Interval:            cfg.Zabbix.Breaker.Interval,
			Timeout:             cfg.Zabbix.Breaker.Timeout,
			ConsecutiveFailures: cfg.Zabbix.Breaker.ConsecutiveFailures,
		},
	}, logger)
	sources := downtime.SourceFunc(func(c models.ClientConfig) (downtime.EventSource, error) {
		client, err := pool.For(c)
		if err != nil {
			return nil, err
		}
		return client, nil
	})

	engine := downtime.NewEngine(registry, sources, store, incidents, downtime.Options{
		Concurrency:   cfg.Engine.Concurrency,
		StoppedMarker: cfg.Zabbix.StoppedMarker,
		Metrics:       m,
	}, logger)

	sched := scheduler.New(registry, engine, incidents, scheduler.Options{
		Interval:     cfg.Scheduler.Interval,
		InitialDelay: cfg.Scheduler.InitialDelay,
		Days:         cfg.Scheduler.Days,
		Retention:    cfg.Scheduler.JournalRetention,
		Metrics:      m,
	}, logger)

	var operators auth.Operators
	if cfg.Mongo.URI != "" {
		mongoClient, database, err := db.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			logger.Warn("operator accounts unavailable", zap.Error(err))
		} else {
			defer mongoClient.Disconnect(context.Background())
			operators = models.NewUserStore(database)
		}
	}

	redisClient := db.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("no jwt secret configured, tokens will not survive a restart")
	}
	tokens := auth.NewManager(secret, cfg.Auth.TokenTTL, cfg.Auth.RefreshTTL)

	h := handlers.New(handlers.Deps{
		Clients:       registry,
		Reports:       store,
		Engine:        engine,
		Sources:       sources,
		Tokens:        tokens,
		Authenticator: auth.NewAuthenticator(operators, registry),
		Sessions:      db.NewRefreshStore(redisClient),
		Scheduler:     sched,
		Logger:        logger,
	})

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.HTTP.AllowedOrigins)))
	r.GET("/metrics", gin.WrapH(m.Handler()))
	h.Register(r)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTP.Addr), zap.Int("clients", len(registry.ListClientIDs())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-schedDone
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-schedDone
	sched.Wait()
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "X-Requested-With", "Content-Type", "Accept", "If-None-Match"},
		ExposeHeaders:    []string{"Content-Length", "ETag", "Last-Modified"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowOriginFunc = func(string) bool { return true }
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
