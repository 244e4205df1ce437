// Command thebox-mirror consumes ledger events from the broker and appends
// them as rows to a Google Sheet.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"thebox/internal/amqp"
	"thebox/internal/cli"
	"thebox/internal/log"
	"thebox/internal/sheets"
	gsheet "thebox/internal/sheets/google"
	"thebox/internal/sheets/memory"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		os.Stderr.WriteString("thebox-mirror: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentMirror, os.Stdout)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the mirror")
		os.Exit(1)
	}

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, func(context.Context) {
		if err := consumer.Close(); err != nil {
			logger.Warn("AMQP close failed", log.FieldError, err)
		}
	})

	var appender sheets.RowAppender
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsFile: cfg.GoogleCredentialsFile,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		if err := client.EnsureHeader(ctx); err != nil {
			logger.Error("Failed to write sheet header", log.FieldError, err)
			os.Exit(1)
		}
		appender = client
		logger.Info("Mirroring to Google Sheets", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		appender = memory.New()
		logger.Warn("No spreadsheet configured, rows are kept in memory only")
	}

	projector := sheets.NewProjector(appender, logger)
	logger.Info("Consuming ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)

	if err := consumer.ConsumeEvents(ctx, projector.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
