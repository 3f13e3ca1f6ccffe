package state

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store serializes all state mutations and persists each one before
// returning. The in-memory copy is authoritative; a failed save is logged
// and the mutation still takes effect, so a full disk degrades durability
// but never wedges the control surface.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
	st   PersistedState
}

// NewStore loads the persisted state from path, or starts from defaults
// when the file is missing or unreadable. It never fails.
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path: path,
		log:  log,
		st:   Load(path, log),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() PersistedState {
	return PersistedState{
		Mode:            s.st.Mode,
		ActiveRecording: s.st.ActiveRecording.clone(),
		LastError:       s.st.LastError,
	}
}

// Mode returns the current operating mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Mode
}

// StartRecording transitions to recording with a fresh session. Byte
// counters start at zero for every input and the last error is cleared.
// Admission is the caller's job: the caller must verify the mode is idle
// first, and the store applies the transition unconditionally.
func (s *Store) StartRecording(sessionID string, startedAt time.Time, inputs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &RecordingSession{
		SessionID:    sessionID,
		StartedAt:    startedAt,
		Inputs:       make(map[string]string, len(inputs)),
		BytesWritten: make(map[string]int64, len(inputs)),
	}
	for name, path := range inputs {
		sess.Inputs[name] = path
		sess.BytesWritten[name] = 0
	}
	s.st.Mode = ModeRecording
	s.st.ActiveRecording = sess
	s.st.LastError = ""
	s.saveLocked()
}

// StopRecording transitions recording -> idle and returns the session that
// was active. Stopping while idle is a no-op returning nil, so repeated
// stops are harmless.
func (s *Store) StopRecording() *RecordingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Mode != ModeRecording {
		return nil
	}
	prior := s.st.ActiveRecording
	s.st.Mode = ModeIdle
	s.st.ActiveRecording = nil
	s.saveLocked()
	return prior
}

// UpdateBytes records the byte counter for one input of the active session.
// The counter only moves forward; stale or lower submissions are ignored.
// Unknown inputs and calls outside recording mode are no-ops.
func (s *Store) UpdateBytes(input string, bytes int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Mode != ModeRecording || s.st.ActiveRecording == nil {
		return false
	}
	cur, ok := s.st.ActiveRecording.BytesWritten[input]
	if !ok {
		return false
	}
	if bytes <= cur {
		return false
	}
	s.st.ActiveRecording.BytesWritten[input] = bytes
	s.saveLocked()
	return true
}

// SetError records the most recent failure reason for operator inspection.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.LastError = msg
	s.saveLocked()
}

// Flush persists the current state. Used on shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Save(s.path, s.snapshotLocked())
}

func (s *Store) saveLocked() {
	if err := Save(s.path, s.snapshotLocked()); err != nil {
		s.log.Error("state save failed", zap.String("path", s.path), zap.Error(err))
	}
}
