// Package state is the single source of truth for the device's operating
// mode and the active recording session. Every mutation funnels through the
// Store and is persisted synchronously, so a crash or reboot resumes from
// the last completed transition instead of a guess.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Mode is the device-wide operating mode. Exactly one value is authoritative
// at any time.
type Mode string

const (
	ModeIdle      Mode = "idle"
	ModeRecording Mode = "recording"
	ModeMixing    Mode = "mixing"
)

// RecordingSession describes one bounded recording activity spanning one or
// more simultaneously recorded inputs. Inputs are fixed at creation; only
// the byte counters change afterwards.
type RecordingSession struct {
	SessionID    string            `json:"session_id"`
	StartedAt    time.Time         `json:"started_at"`
	Inputs       map[string]string `json:"inputs"`
	BytesWritten map[string]int64  `json:"bytes_written"`
}

// clone returns a deep copy so callers can't mutate the store's maps.
func (s *RecordingSession) clone() *RecordingSession {
	if s == nil {
		return nil
	}
	c := &RecordingSession{
		SessionID:    s.SessionID,
		StartedAt:    s.StartedAt,
		Inputs:       make(map[string]string, len(s.Inputs)),
		BytesWritten: make(map[string]int64, len(s.BytesWritten)),
	}
	for k, v := range s.Inputs {
		c.Inputs[k] = v
	}
	for k, v := range s.BytesWritten {
		c.BytesWritten[k] = v
	}
	return c
}

// PersistedState is the on-disk record. Invariant: ActiveRecording is
// non-nil exactly when Mode == ModeRecording.
type PersistedState struct {
	Mode            Mode              `json:"mode"`
	ActiveRecording *RecordingSession `json:"active_recording,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

func defaultState() PersistedState {
	return PersistedState{Mode: ModeIdle}
}

// Load parses the persisted file at path. A missing or corrupt file yields
// the default state rather than an error; persistence exists for restart
// recovery and must never block startup.
func Load(path string, log *zap.Logger) PersistedState {
	if log == nil {
		log = zap.NewNop()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("state file unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		}
		return defaultState()
	}
	var st PersistedState
	if err := json.Unmarshal(b, &st); err != nil {
		log.Warn("state file corrupt, starting fresh", zap.String("path", path), zap.Error(err))
		return defaultState()
	}
	if st.Mode == "" {
		st.Mode = ModeIdle
	}
	// Repair the coupling invariant if a partial write ever broke it.
	if st.Mode == ModeRecording && st.ActiveRecording == nil {
		st.Mode = ModeIdle
	}
	if st.Mode != ModeRecording {
		st.ActiveRecording = nil
	}
	return st
}

// Save writes st to path atomically: the full document goes to a temp file
// in the same directory, then renames over the target, so a concurrent
// reader never observes a partially written file.
func Save(path string, st PersistedState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
