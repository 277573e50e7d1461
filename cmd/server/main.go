package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/hub"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
)

func main() {
	configName := flag.String("config", "roomchat", "config file name (without extension) searched in . and ./config")
	flag.Parse()

	if err := run(*configName); err != nil {
		slog.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configName string) error {
	cfg, err := config.Load(slog.Default(), configName)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting roomchat server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.NewString()
	hubOpts := []hub.Option{hub.WithInstanceID(instanceID)}

	var rl *relay.Relay
	if cfg.Relay.RedisURL != "" {
		rl, err = relay.New(cfg.Relay.RedisURL, cfg.Relay.Channel, instanceID, logger)
		if err != nil {
			return err
		}
		defer func() { _ = rl.Close() }()
		if err := rl.Ping(ctx); err != nil {
			logger.Warn("Redis relay unreachable at startup, continuing", slog.Any("error", err))
		}
		hubOpts = append(hubOpts, hub.WithRelay(rl))
	}

	h := hub.New(logger, hubOpts...)
	srv := server.NewServer(*cfg, h, logger)

	relayDone := make(chan struct{})
	if rl != nil {
		go func() {
			defer close(relayDone)
			if err := rl.Run(ctx, h); err != nil {
				logger.Error("Relay stopped with error", slog.Any("error", err))
			}
		}()
	} else {
		close(relayDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := h.Shutdown(cfg.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	<-relayDone

	logger.Info("Server stopped")
	return errors.Join(errs...)
}
