// Command thebox-devserver serves the ledger REST API from a local store so
// the client can be developed and tested without the production backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"thebox/internal/amqp"
	"thebox/internal/backend"
	"thebox/internal/cli"
	"thebox/internal/devserver"
	"thebox/internal/local"
	"thebox/internal/log"
	"thebox/internal/mirror"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		os.Stderr.WriteString("thebox-devserver: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentDevServer, os.Stdout)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	store, closeStore, err := backend.OpenStore(bcfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	opts := devserver.Options{FreeLimit: cfg.FreeTxLimit}

	var (
		worker    *mirror.Worker
		publisher *amqp.Client
	)
	if cfg.AMQPURL != "" {
		publisher, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			worker = mirror.NewWorker(publisher, cfg.MirrorBuffer, logger)
			worker.Start()
			opts.Publisher = worker
		}
	}

	accounts := local.NewAccounts(store, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, logger)
	srv := devserver.New(":"+cfg.Port, accounts, store, opts, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if worker != nil {
			worker.Shutdown()
		}
		if publisher != nil {
			if err := publisher.Close(); err != nil {
				logger.Warn("AMQP close failed", log.FieldError, err)
			}
		}
		if closeStore != nil {
			if err := closeStore(); err != nil {
				logger.Warn("Store close failed", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting dev server",
		"addr", srv.Addr,
		log.FieldBackend, cfg.DataBackend,
		"free_limit", cfg.FreeTxLimit,
		"events_enabled", opts.Publisher != nil)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
