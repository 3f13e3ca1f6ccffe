// Package degrade decides how aggressively the device should shed load.
// Three resource axes feed the decision: CPU utilization, memory
// utilization, and free space on the recordings volume. The worst axis wins.
// Upgrades apply immediately; downgrades wait out a dwell period so a brief
// dip below a threshold doesn't flap the level.
package degrade

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/openrig/camsupd/internal/config"
)

// Level is the device-wide degradation level. Higher is worse.
type Level int

const (
	LevelNormal Level = iota
	LevelWarn
	LevelDegrade
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelWarn:
		return "WARN"
	case LevelDegrade:
		return "DEGRADE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Sample is one reading of the three resource axes.
type Sample struct {
	CPUPercent    float64
	MemPercent    float64
	DiskFreeBytes uint64
	DiskPath      string
}

// Flags are the consumer-facing decisions derived from the current level.
type Flags struct {
	ShouldReduceQuality   bool `json:"should_reduce_quality"`
	ShouldDisablePreviews bool `json:"should_disable_previews"`
	CanStartRecording     bool `json:"can_start_recording"`
}

// Snapshot is the full policy state served over the control protocol.
type Snapshot struct {
	Level     int                      `json:"level"`
	LevelName string                   `json:"level_name"`
	Resources SnapshotResources        `json:"resources"`
	Flags     Flags                    `json:"flags"`
	Config    config.DegradationConfig `json:"thresholds"`
}

type SnapshotResources struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	DiskFreeGB float64 `json:"disk_free_gb"`
	DiskPath   string  `json:"disk_path"`
}

// Policy evaluates samples on a fixed cadence and holds the current level.
type Policy struct {
	log *zap.Logger
	cfg config.DegradationConfig

	mu         sync.Mutex
	level      Level
	levelSince time.Time
	last       Sample
	listeners  []func(from, to Level)

	// Overridable for tests.
	now    func() time.Time
	sample func() (Sample, error)
}

// New builds a policy starting at NORMAL with the real system sampler.
func New(cfg config.DegradationConfig, log *zap.Logger) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Policy{
		log: log,
		cfg: cfg,
		now: time.Now,
	}
	p.levelSince = p.now()
	p.sample = func() (Sample, error) { return systemSample(cfg.MountPoints) }
	return p
}

// OnChange registers a listener invoked on every level transition.
func (p *Policy) OnChange(fn func(from, to Level)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Level returns the current level.
func (p *Policy) Level() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Flags returns the decisions derived from the current level and the last
// sample. CanStartRecording only goes false when the level is CRITICAL and
// the disk itself is below the critical floor; CPU or memory pressure alone
// never blocks a start.
func (p *Policy) Flags() Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flagsLocked()
}

func (p *Policy) flagsLocked() Flags {
	diskCritical := p.last.DiskFreeBytes < gbToBytes(p.cfg.DiskCriticalGB)
	return Flags{
		ShouldReduceQuality:   p.level >= LevelDegrade,
		ShouldDisablePreviews: p.level >= LevelCritical,
		CanStartRecording:     !(p.level >= LevelCritical && diskCritical),
	}
}

// Snapshot returns the full policy state.
func (p *Policy) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Level:     int(p.level),
		LevelName: p.level.String(),
		Resources: SnapshotResources{
			CPUPercent: p.last.CPUPercent,
			MemPercent: p.last.MemPercent,
			DiskFreeGB: float64(p.last.DiskFreeBytes) / float64(1<<30),
			DiskPath:   p.last.DiskPath,
		},
		Flags:  p.flagsLocked(),
		Config: p.cfg,
	}
}

// Run evaluates until ctx is cancelled.
func (p *Policy) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Evaluate()
		}
	}
}

// Evaluate takes one sample and applies the level rules. A sampling failure
// keeps the previous level; missing data is no reason to flap.
func (p *Policy) Evaluate() {
	s, err := p.sample()
	if err != nil {
		p.log.Warn("resource sample failed", zap.Error(err))
		return
	}
	p.EvaluateSample(s)
}

// EvaluateSample applies the level rules to one externally supplied sample.
func (p *Policy) EvaluateSample(s Sample) {
	p.mu.Lock()
	now := p.now()
	p.last = s
	target := p.targetLevel(s)

	from := p.level
	switch {
	case target > p.level:
		p.level = target
		p.levelSince = now
	case target < p.level && now.Sub(p.levelSince) >= p.cfg.Dwell():
		p.level = target
		p.levelSince = now
	}
	to := p.level
	listeners := p.listeners
	p.mu.Unlock()

	if to != from {
		p.log.Info("degradation level changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Float64("cpu_percent", s.CPUPercent),
			zap.Float64("mem_percent", s.MemPercent),
			zap.Uint64("disk_free_bytes", s.DiskFreeBytes))
		for _, fn := range listeners {
			p.notify(fn, from, to)
		}
	}
}

func (p *Policy) notify(fn func(from, to Level), from, to Level) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("degradation listener panicked", zap.Any("panic", r))
		}
	}()
	fn(from, to)
}

// targetLevel maps one sample to the level the system deserves right now,
// taking the worst of the three axes.
func (p *Policy) targetLevel(s Sample) Level {
	cpuLvl := ascendingLevel(s.CPUPercent, p.cfg.CPUWarn, p.cfg.CPUDegrade, p.cfg.CPUCritical)
	memLvl := ascendingLevel(s.MemPercent, p.cfg.MemWarn, p.cfg.MemDegrade, p.cfg.MemCritical)
	diskLvl := descendingLevel(float64(s.DiskFreeBytes)/float64(1<<30),
		p.cfg.DiskWarnGB, p.cfg.DiskDegradeGB, p.cfg.DiskCriticalGB)
	return maxLevel(cpuLvl, memLvl, diskLvl)
}

// ascendingLevel grades an axis where higher readings are worse (CPU, mem).
func ascendingLevel(v, warn, degrade, critical float64) Level {
	switch {
	case v >= critical:
		return LevelCritical
	case v >= degrade:
		return LevelDegrade
	case v >= warn:
		return LevelWarn
	default:
		return LevelNormal
	}
}

// descendingLevel grades an axis where lower readings are worse (free disk).
func descendingLevel(v, warn, degrade, critical float64) Level {
	switch {
	case v < critical:
		return LevelCritical
	case v < degrade:
		return LevelDegrade
	case v < warn:
		return LevelWarn
	default:
		return LevelNormal
	}
}

func maxLevel(levels ...Level) Level {
	out := LevelNormal
	for _, l := range levels {
		if l > out {
			out = l
		}
	}
	return out
}

func gbToBytes(gb float64) uint64 {
	return uint64(gb * float64(1<<30))
}

// systemSample reads CPU and memory utilization plus free space on the
// first mount point that stats cleanly, falling back to "/".
func systemSample(mounts []string) (Sample, error) {
	s := Sample{}

	cpuPcts, err := cpu.Percent(0, false)
	if err != nil {
		return s, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpuPcts) > 0 {
		s.CPUPercent = cpuPcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return s, fmt.Errorf("sample memory: %w", err)
	}
	s.MemPercent = vm.UsedPercent

	for _, m := range append(append([]string{}, mounts...), "/") {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(m, &stat); err != nil {
			continue
		}
		s.DiskFreeBytes = stat.Bfree * uint64(stat.Bsize)
		s.DiskPath = m
		return s, nil
	}
	return s, fmt.Errorf("no mount point statable")
}
