package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Akins20/video-meet/config"
	"github.com/Akins20/video-meet/internal/handlers"
	"github.com/Akins20/video-meet/internal/lifecycle"
	"github.com/Akins20/video-meet/internal/meeting"
	"github.com/Akins20/video-meet/internal/middleware"
	"github.com/Akins20/video-meet/internal/redis"
	"github.com/Akins20/video-meet/internal/relay"
	"github.com/Akins20/video-meet/internal/session"
	"github.com/Akins20/video-meet/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "meetingd").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.IsProduction() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.Connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr()).Msg("failed to connect to Redis")
	}
	log.Info().Str("addr", cfg.RedisAddr()).Msg("Redis connection established")

	st := store.New(rdb, log, store.Options{MeetingRetention: cfg.Meeting.Retention})
	meetings := meeting.NewRegistry(st, meeting.Options{
		DefaultMaxParticipants: cfg.Meeting.DefaultMaxParticipants,
		MaxParticipantsLimit:   cfg.Meeting.MaxParticipantsLimit,
	}, log)
	tokens := middleware.NewJWTVerifier(cfg.JWTSecret)
	mgr := lifecycle.NewManager(meetings, session.NewService(st, log), st, tokens, lifecycle.Options{
		StaleAfter:       cfg.Session.StaleAfter,
		SessionRetention: cfg.Session.Retention,
		GuestTokenTTL:    cfg.Session.GuestTokenTTL,
	}, log)
	hub := relay.NewHub(mgr, tokens, cfg.Relay, cfg.Session.StoreTimeout, log)
	mgr.SetNotifier(hub)

	go mgr.RunSweeper(ctx, cfg.Session.SweepInterval)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Config:    cfg,
		Meetings:  meetings,
		Lifecycle: mgr,
		Hub:       hub,
		Tokens:    tokens,
		Ping:      func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Log:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting meeting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// connections first; their sessions stay open for clients to re-attach after restart
	if err := hub.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay did not drain")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close Redis")
	}
	log.Info().Msg("server stopped")
}
