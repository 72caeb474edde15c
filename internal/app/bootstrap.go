package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"twamm_go/internal/amm"
	"twamm_go/internal/domain"
	"twamm_go/internal/engine"
	"twamm_go/internal/event"
	"twamm_go/internal/infra"
	"twamm_go/internal/infra/gateway"
	"twamm_go/internal/infra/storage"
)

const (
	metaToken0   = "pool.token0"
	metaToken1   = "pool.token1"
	metaInterval = "pool.order_block_interval"
	metaGenesis  = "engine.genesis_unix"

	shutdownTimeout = 5 * time.Second
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Metrics   *infra.Metrics
	Sequencer *engine.Sequencer
	Gateway   *gateway.Server

	genesis time.Time
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration from configPath, installs the logger and
// builds the engine.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping TWAMM engine...", slog.String("config", configPath))

	return b.Setup(ctx, cfg)
}

// Setup opens storage, rebuilds the pool from the command log and wires
// the gateway. The sequencer is not started until Run.
func (b *Bootstrap) Setup(ctx context.Context, cfg *infra.Config) error {
	b.Config = cfg

	// 1. Storage (WAL + metadata)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 2. Pool parameters must match the log being replayed
	if err := b.checkMeta(ctx); err != nil {
		store.Close()
		return err
	}

	// 3. Engine state
	clock := infra.NewManualClock(0)
	vault := domain.NewVault(domain.Identity(cfg.Pool.Custodian))
	shares := domain.NewShareBook()
	pool, err := amm.New(domain.Asset(cfg.Pool.Token0), domain.Asset(cfg.Pool.Token1),
		cfg.Pool.OrderBlockInterval, clock, vault, shares)
	if err != nil {
		store.Close()
		return err
	}

	b.Metrics = infra.NewMetrics("twamm")
	live := infra.NewBlockClock(b.genesis, time.Duration(cfg.Engine.BlockDurationMS)*time.Millisecond)
	state := &engine.State{Pool: pool, Vault: vault, Shares: shares, Clock: clock}
	b.Sequencer = engine.NewSequencer(cfg.Engine.InboxSize, state, live, store, b.Metrics)
	if cfg.Engine.DumpFile != "" {
		b.Sequencer.SetDumpFile(cfg.Engine.DumpFile)
	}

	// 4. Replay
	n, err := b.Sequencer.Replay(ctx, store)
	if err != nil {
		store.Close()
		return fmt.Errorf("replay failed after %d commands: %w", n, err)
	}
	slog.Info("✅ State restored",
		slog.Int("commands", n),
		slog.Uint64("next_seq", b.Sequencer.NextSeq()),
		slog.Uint64("last_virtual_order_time", pool.LastVirtualOrderTime()))

	event.Warmup()

	b.Gateway = gateway.NewServer(b.Sequencer, gateway.Options{
		ReadTimeout:     time.Duration(cfg.Gateway.ReadTimeoutSec) * time.Second,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
		Conns:           b.Metrics,
	})
	return nil
}

// checkMeta records the pool parameters on first start and refuses to run
// against a log written with different ones.
func (b *Bootstrap) checkMeta(ctx context.Context) error {
	cfg := b.Config
	stored, err := b.Storage.LoadMetaMap(ctx)
	if err != nil {
		return err
	}

	switch {
	case cfg.Engine.GenesisUnix != 0:
		b.genesis = time.Unix(cfg.Engine.GenesisUnix, 0)
	case stored[metaGenesis] != "":
		sec, err := strconv.ParseInt(stored[metaGenesis], 10, 64)
		if err != nil {
			return &domain.ConfigError{Field: metaGenesis, Err: err}
		}
		b.genesis = time.Unix(sec, 0)
	default:
		b.genesis = time.Now().Truncate(time.Second)
	}

	want := []struct{ key, value string }{
		{metaToken0, cfg.Pool.Token0},
		{metaToken1, cfg.Pool.Token1},
		{metaInterval, strconv.FormatUint(cfg.Pool.OrderBlockInterval, 10)},
		{metaGenesis, strconv.FormatInt(b.genesis.Unix(), 10)},
	}
	for _, w := range want {
		have, ok := stored[w.key]
		if !ok {
			if err := b.Storage.SaveMeta(ctx, w.key, w.value); err != nil {
				return err
			}
			continue
		}
		if have != w.value {
			return &domain.ConfigError{
				Field: w.key,
				Err:   fmt.Errorf("stored value %q does not match configured %q", have, w.value),
			}
		}
	}
	return nil
}

// Run starts the sequencer, the gateway and the metrics endpoint, and
// blocks until ctx is cancelled or a server fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		b.Sequencer.Run(ctx)
	}()
	slog.InfoContext(ctx, "✅ Sequencer (Hotpath) started")

	errCh := make(chan error, 2)

	mux := http.NewServeMux()
	mux.Handle(cfg.Gateway.Path, b.Gateway)
	gw := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go serve(gw, "gateway", errCh)

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", b.Metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mmux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go serve(metricsSrv, "metrics", errCh)
	}

	slog.InfoContext(ctx, "✨ TWAMM engine fully operational. Press Ctrl+C to exit.",
		slog.String("gateway", cfg.Gateway.Listen+cfg.Gateway.Path),
		slog.String("metrics", cfg.Metrics.Listen))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("Server failed", slog.Any("error", runErr))
	}
	cancel()

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Gateway shutdown", slog.Any("error", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics shutdown", slog.Any("error", err))
		}
	}
	b.Gateway.Wait()
	<-seqDone

	return runErr
}

// Close releases storage.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

func serve(srv *http.Server, name string, errCh chan<- error) {
	slog.Info("HTTP server listening", slog.String("server", name), slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}
