package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tracktrip/internal/agent"
	"tracktrip/internal/config"
	"tracktrip/internal/connectivity"
	"tracktrip/internal/lifecycle"
	"tracktrip/internal/logfields"
	"tracktrip/internal/metrics"
	"tracktrip/internal/notify"
	"tracktrip/internal/remote"
	"tracktrip/internal/server"
	"tracktrip/internal/storage/sqlite"
	"tracktrip/internal/syncer"
	"tracktrip/internal/taskstore"
)

func newRegistry() *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func runServe(cfg *config.Config, logger *slog.Logger) error {
	store, err := sqlite.Open(cfg.Server.DBPath, logger)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer store.Close()

	srv := server.New(store, logger, newRegistry())
	return serveUntilSignal(logger, cfg.Server.Addr, srv.Engine())
}

// node holds the agent-side components shared by the agent and sync commands.
type node struct {
	store   *sqlite.Store
	repo    *taskstore.Repository
	client  *remote.Client
	engine  *syncer.Engine
	monitor *connectivity.Monitor
}

func openNode(cfg *config.Config, logger *slog.Logger, recorder metrics.Recorder) (*node, error) {
	store, err := sqlite.Open(cfg.Agent.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("unable to open local database: %w", err)
	}
	host, err := cfg.RemoteHost()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	repo := taskstore.NewRepository(taskstore.NewSnapshot(store, taskstore.DefaultKey, logger), logger)
	client := remote.New(cfg.Agent.RemoteURL, nil)
	engine := syncer.New(repo, client, syncer.Options{Recorder: recorder, Logger: logger})
	monitor := connectivity.New(connectivity.Options{
		Link:     connectivity.DialProbe{Address: host, Timeout: cfg.Connectivity.Timeout},
		Reach:    connectivity.ProbeFunc(client.Ping),
		Interval: cfg.Connectivity.Interval,
		Timeout:  cfg.Connectivity.Timeout,
		Logger:   logger,
	})
	return &node{store: store, repo: repo, client: client, engine: engine, monitor: monitor}, nil
}

// newDispatcher builds the configured push transport. The returned closer
// releases any broker connection.
func newDispatcher(cfg *config.Config) (notify.Dispatcher, io.Closer, error) {
	switch cfg.Notify.Driver {
	case config.DriverExpo:
		return notify.NewExpo(cfg.Notify.ExpoEndpoint, nil), nopCloser{}, nil
	case config.DriverNATS:
		d, conn, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Notify.Subject)
		if err != nil {
			return nil, nil, err
		}
		return d, closerFunc(func() error { conn.Close(); return nil }), nil
	default:
		return notify.Noop{}, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func runAgent(cfg *config.Config, logger *slog.Logger) error {
	reg := newRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	n, err := openNode(cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer n.store.Close()

	dispatcher, closer, err := newDispatcher(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	notifier := notify.NewDetached(dispatcher, cfg.Notify.Timeout, logger)
	defer notifier.Wait()

	machine := lifecycle.New(n.repo, lifecycle.Options{
		Syncer:   n.engine,
		Notifier: notifier,
		Recorder: recorder,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.engine.Start(ctx)
	defer n.engine.Stop()

	unsubscribe := n.monitor.Subscribe(n.engine.HandleConnectivity)
	defer unsubscribe()
	if err := n.monitor.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := n.monitor.Stop(); err != nil {
			logger.Warn("failed to stop connectivity monitor", logfields.Error(err))
		}
	}()

	api := agent.New(machine, n.engine, n.client, agent.Options{
		DefaultUserID: cfg.Agent.UserID,
		Registry:      reg,
		Logger:        logger,
	})
	return serveUntilSignal(logger, cfg.Agent.Addr, api.Engine())
}

func runSync(cfg *config.Config, logger *slog.Logger) error {
	n, err := openNode(cfg, logger, metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	defer n.store.Close()

	ctx := context.Background()
	unsubscribe := n.monitor.Subscribe(n.engine.HandleConnectivity)
	defer unsubscribe()

	if !n.monitor.Check(ctx) {
		pending, err := n.engine.Unsynced(ctx)
		if err != nil {
			return err
		}
		logger.Warn("remote unreachable, nothing synced", logfields.Count(pending))
		return nil
	}

	res, err := n.engine.Reconcile(ctx)
	if err != nil {
		return err
	}
	tasks, err := n.engine.Refresh(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync finished",
		slog.Int("attempted", res.Attempted),
		slog.Int("synced", res.Synced),
		slog.Int("failed", res.Failed),
		logfields.Count(len(tasks)))
	return nil
}
