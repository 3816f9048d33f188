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

	"github.com/xaenox/task-bot/internal/bot"
	"github.com/xaenox/task-bot/internal/channel"
	"github.com/xaenox/task-bot/internal/conversation"
	"github.com/xaenox/task-bot/internal/dispatch"
	"github.com/xaenox/task-bot/internal/interpreter"
	"github.com/xaenox/task-bot/internal/parser"
	"github.com/xaenox/task-bot/internal/reminder"
	"github.com/xaenox/task-bot/internal/server"
	"github.com/xaenox/task-bot/internal/storage"
	"github.com/xaenox/task-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	loc, err := time.LoadLocation(cfg.Service.Timezone)
	if err != nil {
		logger.Fatal("Invalid timezone", zap.Error(err), zap.String("timezone", cfg.Service.Timezone))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Pick the outbound channel
	var ch channel.Channel = channel.Noop{}
	switch {
	case cfg.Twilio.AccountSID != "":
		ch = channel.NewTwilioChannel(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, logger)
		logger.Info("Using Twilio WhatsApp channel")
	case cfg.Telegram.Token != "":
		tg, err := channel.NewTelegramChannel(cfg.Telegram.Token, logger)
		if err != nil {
			logger.Fatal("Failed to create telegram channel", zap.Error(err))
		}
		ch = tg
		logger.Info("Using Telegram channel")
	default:
		logger.Warn("No outbound channel configured; replies and reminders will be dropped")
	}

	// Fallback interpreter (optional)
	var interp bot.Interpreter
	if cfg.OpenAI.APIKey != "" {
		interp = interpreter.NewGPTInterpreter(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.Timeout,
			loc,
			logger,
		)
	} else {
		logger.Warn("OPENAI_API_KEY not set; running with rule matcher only")
	}

	// Assemble the pipeline
	p := parser.New(loc)
	conv := conversation.NewEngine(store, p, cfg.Conversation.TTL, logger)
	disp := dispatch.New(store, loc, logger)
	b := bot.New(store, p, interp, conv, disp, ch, logger)

	// Reminder dispatcher
	sched := reminder.NewScheduler(store, ch, cfg.Reminders.LeadTimes, cfg.Reminders.Interval, loc, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	// HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.New(b, sched, logger).Router(),
	}

	go func() {
		logger.Info("Webhook server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}
