// Package config handles loading, defaulting, and validation of the camsupd
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Paths       PathsConfig       `toml:"paths"       json:"paths"`
	Logging     LoggingConfig     `toml:"logging"     json:"logging"`
	Watchdog    WatchdogConfig    `toml:"watchdog"    json:"watchdog"`
	Degradation DegradationConfig `toml:"degradation" json:"degradation"`
}

// PathsConfig holds every filesystem location the supervisor touches.
type PathsConfig struct {
	// Socket is the unix domain socket for the control protocol.
	Socket string `toml:"socket" json:"socket"`
	// EventsSocket is a second unix socket serving the WebSocket event feed.
	EventsSocket string `toml:"events_socket" json:"events_socket"`
	// StateFile is where the persisted session state lives.
	StateFile string `toml:"state_file" json:"state_file"`
	// RecordingsRoot is the directory recording destination paths are built under.
	RecordingsRoot string `toml:"recordings_root" json:"recordings_root"`
	// Extension is the destination file extension, without the dot.
	Extension string `toml:"extension" json:"extension"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// WatchdogConfig tunes the per-input stall detector and the disk headroom check.
type WatchdogConfig struct {
	IntervalSeconds     int     `toml:"interval_seconds"      json:"interval_seconds"`
	StallSeconds        int     `toml:"stall_seconds"         json:"stall_seconds"`
	DiskLowGB           float64 `toml:"disk_low_gb"           json:"disk_low_gb"`
	DiskCriticalGB      float64 `toml:"disk_critical_gb"      json:"disk_critical_gb"`
	DiskCooldownSeconds int     `toml:"disk_cooldown_seconds" json:"disk_cooldown_seconds"`
}

// DegradationConfig carries the nine per-axis thresholds plus evaluation
// cadence and downgrade dwell time. Disk thresholds are free gigabytes, so
// lower means worse; CPU and memory thresholds are percentages, higher is worse.
type DegradationConfig struct {
	IntervalSeconds int      `toml:"interval_seconds" json:"interval_seconds"`
	DwellSeconds    int      `toml:"dwell_seconds"    json:"dwell_seconds"`
	MountPoints     []string `toml:"mount_points"     json:"mount_points"`

	CPUWarn     float64 `toml:"cpu_warn"     json:"cpu_warn"`
	CPUDegrade  float64 `toml:"cpu_degrade"  json:"cpu_degrade"`
	CPUCritical float64 `toml:"cpu_critical" json:"cpu_critical"`

	MemWarn     float64 `toml:"mem_warn"     json:"mem_warn"`
	MemDegrade  float64 `toml:"mem_degrade"  json:"mem_degrade"`
	MemCritical float64 `toml:"mem_critical" json:"mem_critical"`

	DiskWarnGB     float64 `toml:"disk_warn_gb"     json:"disk_warn_gb"`
	DiskDegradeGB  float64 `toml:"disk_degrade_gb"  json:"disk_degrade_gb"`
	DiskCriticalGB float64 `toml:"disk_critical_gb" json:"disk_critical_gb"`
}

// Interval returns the watchdog tick interval as a duration.
func (w WatchdogConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// StallAfter returns how long an input may go without growth before it
// counts as stalled.
func (w WatchdogConfig) StallAfter() time.Duration {
	return time.Duration(w.StallSeconds) * time.Second
}

// DiskCooldown returns the minimum spacing between disk-low events.
func (w WatchdogConfig) DiskCooldown() time.Duration {
	return time.Duration(w.DiskCooldownSeconds) * time.Second
}

// Interval returns the degradation evaluation cadence as a duration.
func (d DegradationConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Dwell returns the minimum time a level is held before a downgrade applies.
func (d DegradationConfig) Dwell() time.Duration {
	return time.Duration(d.DwellSeconds) * time.Second
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			Socket:         "/run/camsupd/control.sock",
			EventsSocket:   "/run/camsupd/events.sock",
			StateFile:      "/var/lib/camsupd/state.json",
			RecordingsRoot: "/var/lib/camsupd/recordings",
			Extension:      "mp4",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Watchdog: WatchdogConfig{
			IntervalSeconds:     5,
			StallSeconds:        30,
			DiskLowGB:           5,
			DiskCriticalGB:      1,
			DiskCooldownSeconds: 60,
		},
		Degradation: DegradationConfig{
			IntervalSeconds: 5,
			DwellSeconds:    30,
			MountPoints:     []string{"/var/lib/camsupd", "/data", "/"},
			CPUWarn:         70,
			CPUDegrade:      85,
			CPUCritical:     95,
			MemWarn:         75,
			MemDegrade:      85,
			MemCritical:     95,
			DiskWarnGB:      10,
			DiskDegradeGB:   5,
			DiskCriticalGB:  2,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Paths.Socket == "" {
		return errors.New("paths.socket must not be empty")
	}
	if cfg.Paths.StateFile == "" {
		return errors.New("paths.state_file must not be empty")
	}
	if cfg.Paths.RecordingsRoot == "" {
		return errors.New("paths.recordings_root must not be empty")
	}
	if cfg.Paths.Extension == "" {
		return errors.New("paths.extension must not be empty")
	}
	if cfg.Watchdog.IntervalSeconds <= 0 {
		return errors.New("watchdog.interval_seconds must be > 0")
	}
	if cfg.Watchdog.StallSeconds <= 0 {
		return errors.New("watchdog.stall_seconds must be > 0")
	}
	if cfg.Watchdog.DiskCooldownSeconds < 0 {
		return errors.New("watchdog.disk_cooldown_seconds must be >= 0")
	}
	if cfg.Watchdog.DiskCriticalGB > cfg.Watchdog.DiskLowGB {
		return errors.New("watchdog.disk_critical_gb must be <= watchdog.disk_low_gb")
	}
	if cfg.Degradation.IntervalSeconds <= 0 {
		return errors.New("degradation.interval_seconds must be > 0")
	}
	if cfg.Degradation.DwellSeconds < 0 {
		return errors.New("degradation.dwell_seconds must be >= 0")
	}
	d := cfg.Degradation
	if !(d.CPUWarn < d.CPUDegrade && d.CPUDegrade < d.CPUCritical) {
		return errors.New("degradation cpu thresholds must be strictly ascending")
	}
	if !(d.MemWarn < d.MemDegrade && d.MemDegrade < d.MemCritical) {
		return errors.New("degradation mem thresholds must be strictly ascending")
	}
	if !(d.DiskWarnGB > d.DiskDegradeGB && d.DiskDegradeGB > d.DiskCriticalGB) {
		return errors.New("degradation disk thresholds must be strictly descending")
	}
	return nil
}
