package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/api"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
	"github.com/dealflow/listing-matcher/internal/biz/usecase"
	"github.com/dealflow/listing-matcher/internal/conf"
	"github.com/dealflow/listing-matcher/internal/data"
	"github.com/dealflow/listing-matcher/internal/infra/feishu"
	"github.com/dealflow/listing-matcher/internal/infra/telegram"
	"github.com/dealflow/listing-matcher/internal/service"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg := conf.LoadFromEnv()
	logger := newLogger(cfg)
	if envErr != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Initialize repository layer
	store, err := data.NewStore(ctx, data.StoreOptions{
		Driver:      cfg.Store.Driver,
		RESTURL:     cfg.Store.SupabaseURL,
		RESTKey:     cfg.Store.SupabaseKey,
		DatabaseURL: cfg.Store.DatabaseURL,
		SQLitePath:  cfg.Store.SQLitePath,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("store init failed")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store ready")

	var guard repo.MatchGuard
	if cfg.Redis.URL != "" {
		redisGuard, err := data.NewRedisGuard(ctx, cfg.Redis.URL, cfg.Redis.ClaimTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisGuard.Close()
		guard = redisGuard
		logger.Info().Msg("match claim guard enabled")
	}

	parser := data.NewLLMParser(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if parser != nil {
		logger.Info().Msg("raw text listing parser enabled")
	}

	sink := data.NewWebhookSink(cfg.Sink.URL, cfg.Sink.Timeout)
	source := newSource(cfg, logger)

	// Initialize usecase layer
	matchingUC := usecase.NewMatchingUsecase(store, guard, parser, logger)
	forwardUC := usecase.NewForwardUsecase(sink, cfg.Keywords.ToKeywords(), logger)

	// Initialize service layer
	monitor := service.NewMonitor(source, forwardUC, cfg.Monitor.Chats, logger)

	apiServer := api.NewServer(monitor, matchingUC, store, cfg.API.Addr, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	if cfg.Monitor.AutoStart {
		go superviseStart(ctx, monitor, logger)
	}

	var keepalive *service.Keepalive
	if cfg.Keepalive.Schedule != "" {
		keepalive = service.NewKeepalive(monitor, cfg.Keepalive.Schedule, logger)
		if err := keepalive.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("keepalive init failed")
		}
	}

	logger.Info().
		Str("source", cfg.Monitor.Source).
		Int("chats", len(cfg.Monitor.Chats)).
		Str("env", cfg.Env).
		Msg("listing matcher started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server forced to shutdown")
	}
	if keepalive != nil {
		keepalive.Stop()
	}
	monitor.Stop()

	logger.Info().Msg("stopped")
}

// newLogger builds the root logger
func newLogger(cfg *conf.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}

// newSource picks the chat transport
func newSource(cfg *conf.Config, logger zerolog.Logger) repo.MessageSource {
	if cfg.Monitor.Source == conf.SourceFeishu {
		return feishu.NewSource(cfg.Feishu.AppID, cfg.Feishu.AppSecret, logger)
	}
	return telegram.NewSource(cfg.Telegram.BotToken, logger)
}

// superviseStart starts the monitor at boot and logs when the session ends
func superviseStart(ctx context.Context, monitor *service.Monitor, logger zerolog.Logger) {
	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err := monitor.Start(startCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("auto-start failed; use /monitor/start or the health-check ping")
		return
	}

	<-monitor.Done()
	if st := monitor.Status(); st.LastError != "" {
		logger.Warn().Str("last_error", st.LastError).Msg("monitor session ended")
	}
}
