package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"airc-chat/go-backend/internal/adapters/rest"
	"airc-chat/go-backend/internal/bootstrap/serverconfig"
	"airc-chat/go-backend/internal/bus"
	keyauth "airc-chat/go-backend/internal/domains/keyauth/usecase"
	msggate "airc-chat/go-backend/internal/domains/msggate/usecase"
	"airc-chat/go-backend/internal/platform/opsmetrics"
	"airc-chat/go-backend/internal/platform/privacylog"
)

const shutdownTimeout = 10 * time.Second

// Options are the command-line inputs that override the loaded
// configuration.
type Options struct {
	ConfigPath string
	DataDir    string
	ListenAddr string
	Version    string
	InMemory   bool
}

// Runtime is a fully wired daemon instance.
type Runtime struct {
	Config   serverconfig.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Identity *keyauth.Service
	Gate     *msggate.Gate
	Node     *bus.Node
	Worker   *keyauth.OutboxWorker
	Server   *rest.Server
}

// Build loads configuration, opens storage and wires every component.
// It does not start anything.
func Build(opts Options) (*Runtime, error) {
	cfg := serverconfig.LoadFromPath(opts.ConfigPath)
	if opts.ListenAddr != "" {
		cfg.ListenAddr = opts.ListenAddr
	}
	if opts.DataDir != "" {
		cfg.StorageDir = opts.DataDir
	}

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var bundle StorageBundle
	var err error
	if opts.InMemory {
		bundle, err = BuildStorageBundle("", "")
	} else {
		_, _, bundle, err = ResolveStorage(cfg.StorageDir)
	}
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := opsmetrics.New(registry)

	node := bus.NewNode(cfg.Network)

	identity := keyauth.NewService(
		cfg.Identity,
		bundle.Registry,
		bundle.Nonces,
		bundle.Rates,
		bundle.Audit,
		bundle.Quarantine,
		bundle.Outbox,
		logger,
		metrics,
	)

	gate := msggate.NewGate(cfg.Enforcement, identity, bundle.Nonces, node, logger, metrics)

	worker := keyauth.NewOutboxWorker(
		bundle.Outbox,
		&busSessionInvalidator{node: node},
		logger,
		metrics,
	)

	server := rest.NewServer(rest.Config{
		ListenAddr:  cfg.ListenAddr,
		Version:     opts.Version,
		OriginRPS:   cfg.OriginRPS,
		OriginBurst: cfg.OriginBurst,
		Identity:    identity,
		Gate:        gate,
		Registry:    registry,
		Logger:      logger,
	})

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Identity: identity,
		Gate:     gate,
		Node:     node,
		Worker:   worker,
		Server:   server,
	}, nil
}

// Run starts the network node, the outbox worker and the HTTP server,
// then blocks until ctx is cancelled and shuts everything down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Node.Start(ctx); err != nil {
		return fmt.Errorf("start network node: %w", err)
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go r.Worker.Run(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Server.Stop(shutdownCtx); err != nil {
		r.Logger.Error("http shutdown failed", "error", err.Error())
	}
	if err := r.Node.Stop(shutdownCtx); err != nil {
		r.Logger.Error("network node shutdown failed", "error", err.Error())
	}
	return runErr
}

// busSessionInvalidator announces key changes to the identity's own
// devices over the message bus. Delivery failures propagate back to
// the outbox worker, which retries with backoff.
type busSessionInvalidator struct {
	node *bus.Node
}

func (b *busSessionInvalidator) InvalidateSessions(handle, oldKeyFingerprint string) error {
	body := "sessions established under key " + oldKeyFingerprint + " are no longer valid"
	return b.node.PublishDirect("system", handle, body)
}
