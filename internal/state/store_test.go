package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return NewStore(path, nil), path
}

func TestStartStopLifecycle(t *testing.T) {
	s, _ := newTestStore(t)

	require.Equal(t, ModeIdle, s.Mode())

	s.StartRecording("sess-1", time.Now(), map[string]string{
		"cam1": "/rec/cam1.mp4",
		"cam2": "/rec/cam2.mp4",
	})

	snap := s.Snapshot()
	require.Equal(t, ModeRecording, snap.Mode)
	require.NotNil(t, snap.ActiveRecording)
	assert.Equal(t, "sess-1", snap.ActiveRecording.SessionID)
	assert.Equal(t, int64(0), snap.ActiveRecording.BytesWritten["cam1"])
	assert.Equal(t, int64(0), snap.ActiveRecording.BytesWritten["cam2"])

	prior := s.StopRecording()
	require.NotNil(t, prior)
	assert.Equal(t, "sess-1", prior.SessionID)
	assert.Equal(t, ModeIdle, s.Mode())

	// Idempotent stop.
	assert.Nil(t, s.StopRecording())
	assert.Equal(t, ModeIdle, s.Mode())
}

func TestCouplingInvariant(t *testing.T) {
	s, _ := newTestStore(t)

	snap := s.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.Nil(t, snap.ActiveRecording)

	s.StartRecording("sess-1", time.Now(), map[string]string{"cam1": "/x"})
	snap = s.Snapshot()
	assert.Equal(t, ModeRecording, snap.Mode)
	assert.NotNil(t, snap.ActiveRecording)

	s.StopRecording()
	snap = s.Snapshot()
	assert.Equal(t, ModeIdle, snap.Mode)
	assert.Nil(t, snap.ActiveRecording)
}

func TestStartClearsLastError(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetError("previous failure")

	s.StartRecording("sess-1", time.Now(), map[string]string{"cam1": "/x"})

	snap := s.Snapshot()
	assert.Equal(t, ModeRecording, snap.Mode)
	assert.Empty(t, snap.LastError)
}

func TestUpdateBytesMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartRecording("sess-1", time.Now(), map[string]string{"cam1": "/x"})

	assert.True(t, s.UpdateBytes("cam1", 100))
	assert.Equal(t, int64(100), s.Snapshot().ActiveRecording.BytesWritten["cam1"])

	// Lower and equal submissions are ignored.
	assert.False(t, s.UpdateBytes("cam1", 50))
	assert.False(t, s.UpdateBytes("cam1", 100))
	assert.Equal(t, int64(100), s.Snapshot().ActiveRecording.BytesWritten["cam1"])

	assert.True(t, s.UpdateBytes("cam1", 250))
	assert.Equal(t, int64(250), s.Snapshot().ActiveRecording.BytesWritten["cam1"])

	// Unknown input is a no-op.
	assert.False(t, s.UpdateBytes("cam9", 999))

	s.StopRecording()
	assert.False(t, s.UpdateBytes("cam1", 500))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartRecording("sess-1", time.Now(), map[string]string{"cam1": "/x"})

	snap := s.Snapshot()
	snap.ActiveRecording.BytesWritten["cam1"] = 9999
	snap.ActiveRecording.Inputs["cam1"] = "/mutated"

	fresh := s.Snapshot()
	assert.Equal(t, int64(0), fresh.ActiveRecording.BytesWritten["cam1"])
	assert.Equal(t, "/x", fresh.ActiveRecording.Inputs["cam1"])
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path, nil)
	s.StartRecording("sess-1", time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC), map[string]string{
		"cam1": "/rec/cam1.mp4",
	})
	s.UpdateBytes("cam1", 4096)

	// A second store on the same file sees the recording in flight.
	s2 := NewStore(path, nil)
	snap := s2.Snapshot()
	require.Equal(t, ModeRecording, snap.Mode)
	require.NotNil(t, snap.ActiveRecording)
	assert.Equal(t, "sess-1", snap.ActiveRecording.SessionID)
	assert.Equal(t, int64(4096), snap.ActiveRecording.BytesWritten["cam1"])
}

func TestRoundTripEmptyInputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, Save(path, PersistedState{
		Mode: ModeRecording,
		ActiveRecording: &RecordingSession{
			SessionID:    "sess-1",
			StartedAt:    time.Now().UTC(),
			Inputs:       map[string]string{},
			BytesWritten: map[string]int64{},
		},
	}))

	st := Load(path, nil)
	require.NotNil(t, st.ActiveRecording)
	assert.NotNil(t, st.ActiveRecording.Inputs)
	assert.Empty(t, st.ActiveRecording.Inputs)
}

func TestLoadMissingFile(t *testing.T) {
	st := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Equal(t, ModeIdle, st.Mode)
	assert.Nil(t, st.ActiveRecording)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	st := Load(path, nil)
	assert.Equal(t, ModeIdle, st.Mode)
	assert.Nil(t, st.ActiveRecording)
}

func TestLoadRepairsBrokenCoupling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode":"recording"}`), 0o644))

	st := Load(path, nil)
	assert.Equal(t, ModeIdle, st.Mode)
	assert.Nil(t, st.ActiveRecording)
}

func TestSaveIsAtomicRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, defaultState()))

	// No temp file left behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
