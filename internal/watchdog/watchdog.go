// Package watchdog monitors an active recording for silent failure. Encoder
// crashes rarely announce themselves; the reliable signal is a destination
// file that stopped growing. The watchdog stats every input on a fixed tick,
// tracks growth, and raises stall and disk-low events for the rest of the
// daemon to act on.
package watchdog

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openrig/camsupd/internal/config"
	"github.com/openrig/camsupd/internal/telemetry"
)

// target tracks one input's destination file between ticks.
type target struct {
	path       string
	lastSize   int64
	lastGrowth time.Time
	stalled    bool
}

// Watchdog watches the active recording's destination files and the free
// space on the recordings volume. Arm it with StartWatching when a session
// begins and disarm with StopWatching when it ends.
type Watchdog struct {
	log      *zap.Logger
	cfg      config.WatchdogConfig
	diskPath string

	mu           sync.Mutex
	watching     bool
	sessionID    string
	targets      map[string]*target
	lastDiskLow  time.Time
	lastCritical bool

	onStall    []func(telemetry.Stall)
	onDiskLow  []func(telemetry.DiskLow)
	onProgress []func(telemetry.Progress)

	// Overridable for tests.
	now      func() time.Time
	statSize func(path string) (int64, error)
	diskFree func(path string) (uint64, error)
}

// New builds a watchdog monitoring free space under diskPath.
func New(cfg config.WatchdogConfig, diskPath string, log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		log:      log,
		cfg:      cfg,
		diskPath: diskPath,
		targets:  make(map[string]*target),
		now:      time.Now,
		statSize: fileSize,
		diskFree: freeBytes,
	}
}

// OnStall registers a listener for stall events.
func (w *Watchdog) OnStall(fn func(telemetry.Stall)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStall = append(w.onStall, fn)
}

// OnDiskLow registers a listener for disk-low events.
func (w *Watchdog) OnDiskLow(fn func(telemetry.DiskLow)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDiskLow = append(w.onDiskLow, fn)
}

// OnProgress registers a listener for per-tick progress events.
func (w *Watchdog) OnProgress(fn func(telemetry.Progress)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onProgress = append(w.onProgress, fn)
}

// StartWatching arms the watchdog for a session. inputs maps input name to
// destination path. Each input starts as freshly grown so the stall clock
// begins at zero.
func (w *Watchdog) StartWatching(sessionID string, inputs map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.watching = true
	w.sessionID = sessionID
	w.targets = make(map[string]*target, len(inputs))
	for name, path := range inputs {
		w.targets[name] = &target{path: path, lastGrowth: now}
	}
	w.log.Info("watchdog armed",
		zap.String("session_id", sessionID),
		zap.Int("inputs", len(inputs)))
}

// StopWatching disarms the watchdog. Safe to call when not watching.
func (w *Watchdog) StopWatching() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return
	}
	w.watching = false
	w.sessionID = ""
	w.targets = make(map[string]*target)
	w.log.Info("watchdog disarmed")
}

// UpdateBytes is the recorder's own progress report. A byte count past the
// last observed size counts as growth immediately, so inputs writing to
// unstattable destinations never false-alarm.
func (w *Watchdog) UpdateBytes(input string, bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[input]
	if !ok {
		return
	}
	if bytes > t.lastSize {
		t.lastSize = bytes
		t.lastGrowth = w.now()
		t.stalled = false
	}
}

// InputStatus is one input's diagnostic view.
type InputStatus struct {
	Path               string `json:"path"`
	Bytes              int64  `json:"bytes"`
	SecondsSinceGrowth int64  `json:"seconds_since_growth"`
	Stalled            bool   `json:"stalled"`
}

// Status is the watchdog's diagnostic snapshot, served over the control
// protocol.
type Status struct {
	Watching      bool                   `json:"watching"`
	SessionID     string                 `json:"session_id,omitempty"`
	Inputs        map[string]InputStatus `json:"inputs,omitempty"`
	DiskFreeBytes uint64                 `json:"disk_free_bytes"`
	DiskLowBytes  uint64                 `json:"disk_low_bytes"`
	IntervalSec   int                    `json:"interval_seconds"`
	StallAfterSec int                    `json:"stall_seconds"`
	CooldownSec   int                    `json:"disk_cooldown_seconds"`
}

// Status returns the current diagnostic snapshot.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	st := Status{
		Watching:      w.watching,
		SessionID:     w.sessionID,
		DiskLowBytes:  gbToBytes(w.cfg.DiskLowGB),
		IntervalSec:   w.cfg.IntervalSeconds,
		StallAfterSec: w.cfg.StallSeconds,
		CooldownSec:   w.cfg.DiskCooldownSeconds,
	}
	if free, err := w.diskFree(w.diskPath); err == nil {
		st.DiskFreeBytes = free
	}
	if w.watching {
		st.Inputs = make(map[string]InputStatus, len(w.targets))
		for name, t := range w.targets {
			st.Inputs[name] = InputStatus{
				Path:               t.path,
				Bytes:              t.lastSize,
				SecondsSinceGrowth: int64(now.Sub(t.lastGrowth).Seconds()),
				Stalled:            t.stalled,
			}
		}
	}
	return st
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick runs one evaluation pass. Events are collected under the lock and
// delivered after it is released, so a listener may call back into the
// watchdog (StopWatching in particular) without deadlocking.
func (w *Watchdog) Tick() {
	var (
		stalls   []telemetry.Stall
		diskLows []telemetry.DiskLow
		progress []telemetry.Progress
	)

	w.mu.Lock()
	now := w.now()

	if w.watching {
		bytes := make(map[string]int64, len(w.targets))
		for name, t := range w.targets {
			size, err := w.statSize(t.path)
			if err == nil && size > t.lastSize {
				t.lastSize = size
				t.lastGrowth = now
				t.stalled = false
			}
			// A stat error counts as no growth; the stall path reports it.
			bytes[name] = t.lastSize

			if !t.stalled && now.Sub(t.lastGrowth) >= w.cfg.StallAfter() {
				t.stalled = true
				stalls = append(stalls, telemetry.Stall{
					Event:        telemetry.Event{Type: telemetry.EventStall, TS: telemetry.NowTS()},
					SessionID:    w.sessionID,
					Input:        name,
					Path:         t.path,
					StallSeconds: int64(now.Sub(t.lastGrowth).Seconds()),
				})
			}
		}
		progress = append(progress, telemetry.Progress{
			Event:     telemetry.Event{Type: telemetry.EventProgress, TS: telemetry.NowTS()},
			SessionID: w.sessionID,
			Bytes:     bytes,
		})
	}

	if free, err := w.diskFree(w.diskPath); err != nil {
		w.log.Warn("disk free check failed", zap.String("path", w.diskPath), zap.Error(err))
	} else if free < gbToBytes(w.cfg.DiskLowGB) {
		critical := free < gbToBytes(w.cfg.DiskCriticalGB)
		// The cooldown de-noises warnings; a first crossing of the critical
		// floor is exempt so the forced stop is never delayed by it.
		due := w.lastDiskLow.IsZero() || now.Sub(w.lastDiskLow) >= w.cfg.DiskCooldown()
		if due || (critical && !w.lastCritical) {
			w.lastDiskLow = now
			diskLows = append(diskLows, telemetry.DiskLow{
				Event:     telemetry.Event{Type: telemetry.EventDiskLow, TS: telemetry.NowTS()},
				Path:      w.diskPath,
				FreeBytes: free,
				Critical:  critical,
			})
		}
		w.lastCritical = critical
	} else {
		w.lastCritical = false
	}

	onStall := w.onStall
	onDiskLow := w.onDiskLow
	onProgress := w.onProgress
	w.mu.Unlock()

	for _, ev := range stalls {
		w.log.Warn("input stalled",
			zap.String("session_id", ev.SessionID),
			zap.String("input", ev.Input),
			zap.Int64("stall_seconds", ev.StallSeconds))
		for _, fn := range onStall {
			w.deliver(func() { fn(ev) })
		}
	}
	for _, ev := range diskLows {
		w.log.Warn("disk space low",
			zap.Uint64("free_bytes", ev.FreeBytes),
			zap.Bool("critical", ev.Critical))
		for _, fn := range onDiskLow {
			w.deliver(func() { fn(ev) })
		}
	}
	for _, ev := range progress {
		for _, fn := range onProgress {
			w.deliver(func() { fn(ev) })
		}
	}
}

// deliver runs one listener, keeping a panicking listener from taking the
// tick loop down with it.
func (w *Watchdog) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watchdog listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func gbToBytes(gb float64) uint64 {
	return uint64(gb * float64(1<<30))
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// freeBytes returns the free space on the filesystem holding path.
func freeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bfree * uint64(stat.Bsize), nil
}
