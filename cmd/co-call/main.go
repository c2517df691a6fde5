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

	"github.com/yegors/co-call/internal/api"
	"github.com/yegors/co-call/internal/calls"
	"github.com/yegors/co-call/internal/config"
	"github.com/yegors/co-call/internal/conversation"
	"github.com/yegors/co-call/internal/reply"
	"github.com/yegors/co-call/internal/script"
	"github.com/yegors/co-call/internal/storage/sqlite"
	"github.com/yegors/co-call/internal/telephony"
	"github.com/yegors/co-call/internal/transcription"
	"github.com/yegors/co-call/internal/websocket"
	"github.com/yegors/co-call/pkg/logger"
	"golang.org/x/net/netutil"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "Path to the TOML configuration file")
	envFile := flag.String("env", ".env", "Path to an optional .env file with secrets")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "co-call: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := script.New(cfg.Script)
	if err != nil {
		return fmt.Errorf("invalid script: %w", err)
	}

	registry := calls.NewRegistry()
	wsServer := websocket.NewServer(cfg.Server.ListenerBufferSize, log)

	db, err := sqlite.Open(cfg.Storage.DSN, log)
	if err != nil {
		return err
	}
	defer db.Close()

	answerStorage, err := sqlite.NewAnswerStorage(db, log)
	if err != nil {
		return err
	}

	recorder := transcription.NewRecorder(ctx, answerStorage, wsServer,
		transcription.RecorderConfig{QueueSize: cfg.Storage.QueueSize}, log)
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("failed to start answer recorder: %w", err)
	}

	generator := reply.NewOpenAIGenerator(cfg.OpenAI, log)
	driver := conversation.NewDriver(s, generator, recorder, log)

	deps := api.Dependencies{
		Context:  ctx,
		Registry: registry,
		Driver:   driver,
		Renderer: telephony.NewRenderer(cfg.Twilio),
		Events:   transcription.NewRouter(registry, wsServer, log),
		Answers:  answerStorage,
		WSServer: wsServer,
	}

	if cfg.TwilioConfigured() {
		placer, err := telephony.NewTwilioPlacer(cfg.Twilio, log)
		if err != nil {
			return err
		}
		deps.Placer = placer
	} else {
		log.Warn("Twilio credentials are not configured - outbound calls are disabled")
	}

	if cfg.Twilio.ValidateSignatures {
		if cfg.Twilio.AuthToken == "" {
			return errors.New("twilio.validate_signatures requires an auth token")
		}
		deps.Validator = telephony.NewSignatureValidator(cfg.Twilio.AuthToken)
	}

	router := api.NewRouter(deps, cfg, log)

	listener, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address, err)
	}
	if cfg.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.Server.MaxConnections)
	}

	server := &http.Server{
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server",
			logger.String("address", cfg.Server.Address),
			logger.String("public_base_url", cfg.Server.PublicBaseURL),
			logger.Int("script_topics", s.Len()),
			logger.Bool("stream_enabled", cfg.Stream.Enabled),
			logger.Int("max_connections", cfg.Server.MaxConnections))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("Server failed", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", logger.Error(err))
	}
	wsServer.Close()
	stop()

	if err := recorder.Stop(); err != nil {
		log.Error("Failed to stop answer recorder", logger.Error(err))
	}

	log.Info("Server stopped", logger.Int("calls", registry.Len()), logger.Int64("dropped_answers", recorder.Dropped()))
	return nil
}
