package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pliu/coursechat/internal/auth"
	"github.com/pliu/coursechat/internal/chat"
	"github.com/pliu/coursechat/internal/config"
	"github.com/pliu/coursechat/internal/handlers"
	"github.com/pliu/coursechat/internal/logging"
	"github.com/pliu/coursechat/internal/metrics"
	"github.com/pliu/coursechat/internal/middleware"
	"github.com/pliu/coursechat/internal/presence"
	"github.com/pliu/coursechat/internal/store/sqlstore"
	"github.com/pliu/coursechat/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until SIGINT/SIGTERM, returning only after
// every deferred cleanup has run.
func run() error {
	cfg, err := config.FromEnvironment(".env")
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBSource)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var sinks []chat.PresenceSink
	checks := []handlers.HealthCheck{{Name: "store", Pinger: store}}
	if cfg.RedisAddr != "" {
		mirror := presence.NewRedisMirror(cfg.RedisAddr)
		defer mirror.Close()
		if err := mirror.Reset(ctx); err != nil {
			return err
		}
		sinks = append(sinks, mirror)
		checks = append(checks, handlers.HealthCheck{Name: "redis", Pinger: mirror})
		log.Info("mirroring presence to redis", zap.String("addr", cfg.RedisAddr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Chat core
	registry := chat.NewRegistry()
	gate := chat.NewGate(store)
	groups := chat.NewGroupManager(store, gate)
	router := chat.NewRouter(registry, gate, groups, store, chat.RouterConfig{
		HistoryLimit: cfg.HistoryLimit,
		UnreadLimit:  cfg.UnreadLimit,
	}, log.Named("router"))
	tracker := chat.NewPresence(registry, store, log.Named("presence"), sinks...)

	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)
	verifier := auth.NewVerifier(tokens, store)

	// Initialize WebSocket Hub
	hub := ws.NewHub(ws.Config{
		AuthTimeout:     cfg.AuthTimeout,
		PingPeriod:      cfg.PingPeriod,
		WriteWait:       cfg.WriteWait,
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, registry, tracker, router, verifier, m, log.Named("ws"))
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	api := &handlers.API{
		Auth:     handlers.NewAuthHandler(store, tokens, log.Named("auth")),
		Users:    &handlers.UserHandler{Store: store, Online: hub, Log: log.Named("users")},
		Messages: &handlers.MessageHandler{Router: router},
		Groups:   &handlers.GroupHandler{Groups: groups},
	}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log.Named("http")))
	api.Mount(r, middleware.AuthMiddleware(verifier))

	// WebSocket Endpoint. Authentication happens over the socket.
	r.HandleFunc("/ws", hub.ServeWs).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", handlers.Health(log.Named("health"), checks...)).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.Addr), zap.String("db_driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	stopHub()
	hub.Wait()
	return nil
}
