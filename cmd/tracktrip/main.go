package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"tracktrip/internal/config"
	"tracktrip/internal/util"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path (optional)" default:"${config_default}"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct {
		Addr string `help:"Override the listen address of the remote store service"`
	} `cmd:"" help:"Run the remote task store service"`

	Agent struct {
		Addr string `help:"Override the listen address of the local agent API"`
	} `cmd:"" help:"Run the on-device agent: local store, sync engine and API"`

	Sync struct{} `cmd:"" help:"Run one reconciliation pass and refresh the local copy"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("tracktrip"),
		kong.Description("Offline-first delivery task tracking"),
		kong.Vars{"config_default": util.EnvOrDefault("TRACKTRIP_CONFIG", "")},
	)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		logger.Error("unable to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	switch ctx.Command() {
	case "serve":
		if CLI.Serve.Addr != "" {
			cfg.Server.Addr = CLI.Serve.Addr
		}
		err = runServe(cfg, logger)
	case "agent":
		if CLI.Agent.Addr != "" {
			cfg.Agent.Addr = CLI.Agent.Addr
		}
		err = runAgent(cfg, logger)
	case "sync":
		err = runSync(cfg, logger)
	default:
		err = errors.New("unknown command " + ctx.Command())
	}
	if err != nil {
		logger.Error("command failed", slog.String("command", ctx.Command()), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// serveUntilSignal runs handler on addr until SIGINT or SIGTERM, then shuts
// down with a five second grace period.
func serveUntilSignal(logger *slog.Logger, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
	return nil
}
