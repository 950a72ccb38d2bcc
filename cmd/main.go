package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/ynibridge/broadcast"
	"github.com/xeptore/ynibridge/catalog"
	"github.com/xeptore/ynibridge/config"
	"github.com/xeptore/ynibridge/constant"
	"github.com/xeptore/ynibridge/ctxutil"
	"github.com/xeptore/ynibridge/log"
	"github.com/xeptore/ynibridge/server"
	"github.com/xeptore/ynibridge/session"
	"github.com/xeptore/ynibridge/ynison"
	"github.com/xeptore/ynibridge/ynison/command"
	"github.com/xeptore/ynibridge/ynison/redirect"
	"github.com/xeptore/ynibridge/ynison/transport"
)

const (
	flagConfigFilePath = "config"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     constant.AppName,
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Yandex Music Ynison bridge",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run the bridge server",
				Action:  run,
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagConfigFilePath,
						Aliases:  []string{"c"},
						Usage:    "Config file path",
						Required: false,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

func loadConfig(cliCtx *cli.Context, logger zerolog.Logger) (*config.Config, error) {
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	cfgEnv := os.Getenv("CONFIG")
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		cfg, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return cfg, nil
	case cfgEnv != "":
		logger.Debug().Msg("Loading config from environment variable")
		cfg, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return cfg, nil
	default:
		logger.Warn().Msg("No config was specified. Using defaults")
		cfg := config.Default()
		return &cfg, nil
	}
}

func run(cliCtx *cli.Context) error {
	ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cliCtx, log.NewPretty(os.Stdout).Level(zerolog.TraceLevel))
	if nil != err {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if nil != err {
		return fmt.Errorf("invalid log level %q: %v", cfg.Log.Level, err)
	}
	logger := log.New(os.Stdout, cfg.Log.Format, level)

	dialer := transport.Dialer{
		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.Ynison.InsecureSkipVerify, //nolint:gosec
		},
		HandshakeTimeout: cfg.Ynison.HandshakeTimeout,
		Origin:           cfg.Ynison.Origin,
		UserAgent:        cfg.Ynison.UserAgent,
		PingInterval:     cfg.Ynison.PingInterval,
		PongTimeout:      cfg.Ynison.PongTimeout,
	}
	if cfg.Ynison.InsecureSkipVerify {
		logger.Warn().Msg("TLS certificate verification of Ynison endpoints is disabled")
	}
	negotiator := redirect.Negotiator{Dialer: dialer, URL: cfg.Ynison.RedirectURL, Logger: logger.With().Str("module", "redirect").Logger()}
	hub := broadcast.New(cfg.Broadcast.SendTimeout, logger)

	deps := func(token string) session.Deps {
		return session.Deps{
			Catalog:  catalog.New(cfg.Catalog.BaseURL, token, cfg.Catalog.RequestTimeout),
			Notifier: hub,
			NewPlayer: func(onState func(*ynison.State)) session.Player {
				return ynison.NewPlayer(ynison.Config{
					DeviceID:   uuid.NewString(),
					Token:      token,
					UserID:     cfg.Ynison.UserID,
					Device:     cfg.Ynison.Device,
					Negotiator: negotiator,
					Commands:   command.NewDispatcher(negotiator, token, cfg.Ynison.UserID, cfg.Ynison.Device, cfg.Ynison.CommandGrace, logger),
					OnState:    onState,
					Logger:     logger,
				})
			},
		}
	}
	manager := session.NewManager(cfg.Session, deps, logger)

	//nolint:exhaustruct
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(server.FromManager(manager), hub, cfg.Broadcast, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.ListenAddress).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); nil != err && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received termination signal. Shutting down")
	case err := <-errs:
		if nil != err {
			return fmt.Errorf("http server failed: %v", err)
		}
	}

	shutdownCtx, cancelShutdown := ctxutil.WithDelayedTimeout(ctx, config.ShutdownGracePeriod)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); nil != err {
		logger.Error().Err(err).Msg("Failed to gracefully shut down HTTP server")
	}
	if err := manager.Shutdown(shutdownCtx); nil != err {
		logger.Error().Err(err).Msg("Failed to close sessions in time")
	}
	logger.Info().Msg("Shutdown completed")
	return nil
}
