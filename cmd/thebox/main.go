// Command thebox is the terminal client for the finance tracker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"thebox/internal/backend"
	"thebox/internal/cli"
	"thebox/internal/config"
	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/prefs"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "thebox:", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentApp, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := cli.NewBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	p, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		logger.Error("Failed to open preferences", log.FieldError, err, "path", cfg.PrefsFile)
		os.Exit(1)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		b:      b,
		prefs:  p,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	err = a.run(ctx, os.Args[1:])
	if cerr := b.Cleanup(); cerr != nil {
		logger.Warn("Cleanup failed", log.FieldError, cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "thebox:", describe(err))
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *log.Logger
	b      *backend.Backend
	prefs  *prefs.Store
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// describe turns the error taxonomy into something a person can act on.
func describe(err error) string {
	var authErr *core.AuthError
	switch {
	case errors.Is(err, core.ErrNotAuthenticated):
		return "not signed in, run 'thebox login' first"
	case errors.As(err, &authErr) && authErr.ForcesLogout():
		return "session expired, sign in again"
	case errors.Is(err, core.ErrQuotaExceeded):
		return err.Error() + ", upgrade with 'thebox checkout' or 'thebox license activate'"
	case errors.Is(err, core.ErrFeatureLocked):
		return err.Error() + ", available on the pro plan"
	case core.IsNetwork(err):
		return "ledger unreachable: " + err.Error()
	}
	return err.Error()
}
