// Camsupd is the on-device supervisor for a multi-camera recording
// appliance. It owns the authoritative session state, serves the local
// control protocol, watches active recordings for stalls and disk
// exhaustion, and grades resource pressure for admission control. Shutdown
// is handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openrig/camsupd/internal/config"
	"github.com/openrig/camsupd/internal/degrade"
	"github.com/openrig/camsupd/internal/events"
	"github.com/openrig/camsupd/internal/protocol"
	"github.com/openrig/camsupd/internal/state"
	"github.com/openrig/camsupd/internal/telemetry"
	"github.com/openrig/camsupd/internal/watchdog"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "/etc/camsupd/camsupd.toml", "Path to config TOML")
		socket     = pflag.String("socket", "", "Override control socket path")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}
	if *socket != "" {
		cfg.Paths.Socket = *socket
	}

	log, err := buildLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("camsupd failed", zap.Error(err))
	}
	log.Info("camsupd stopped")
}

// run is the composition root: every component is constructed once here and
// wired explicitly, then supervised by one errgroup until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	started := time.Now()

	store := state.NewStore(cfg.Paths.StateFile, log.Named("state"))
	hub := events.NewHub(log.Named("events"))
	wd := watchdog.New(cfg.Watchdog, cfg.Paths.RecordingsRoot, log.Named("watchdog"))
	policy := degrade.New(cfg.Degradation, log.Named("degrade"))
	srv := protocol.New(cfg.Paths, store, wd, policy, hub, log.Named("protocol"))

	// Monitor events fan out to the feed.
	wd.OnProgress(func(ev telemetry.Progress) { hub.BroadcastJSON(ev) })
	wd.OnStall(func(ev telemetry.Stall) { hub.BroadcastJSON(ev) })
	wd.OnDiskLow(func(ev telemetry.DiskLow) { hub.BroadcastJSON(ev) })
	policy.OnChange(func(from, to degrade.Level) {
		hub.BroadcastJSON(telemetry.DegradationChange{
			Event:    telemetry.Event{Type: telemetry.EventDegradation, TS: telemetry.NowTS()},
			From:     int(from),
			FromName: from.String(),
			To:       int(to),
			ToName:   to.String(),
		})
	})

	if err := os.MkdirAll(cfg.Paths.RecordingsRoot, 0o755); err != nil {
		return fmt.Errorf("create recordings root: %w", err)
	}

	srv.Reconcile()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Serve(gctx, cfg.Paths.EventsSocket) })
	g.Go(func() error { return wd.Run(gctx) })
	g.Go(func() error { return policy.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return heartbeatLoop(gctx, store, hub, started) })

	err := g.Wait()

	// Persist final state before exit.
	if ferr := store.Flush(); ferr != nil {
		log.Warn("final state save failed", zap.Error(ferr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// heartbeatLoop broadcasts a liveness event every 10s so feed clients can
// detect a wedged daemon.
func heartbeatLoop(ctx context.Context, store *state.Store, hub *events.Hub, started time.Time) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.Event{Type: telemetry.EventHeartbeat, TS: telemetry.NowTS()},
				Mode:          string(store.Mode()),
				UptimeSeconds: int64(time.Since(started).Seconds()),
			})
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
