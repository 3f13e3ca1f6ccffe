package degrade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrig/camsupd/internal/config"
)

type harness struct {
	p     *Policy
	clock time.Time
	s     Sample

	changes [][2]Level
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		s: Sample{
			CPUPercent:    10,
			MemPercent:    20,
			DiskFreeBytes: 100 << 30,
			DiskPath:      "/data",
		},
	}
	h.p = New(config.Default().Degradation, nil)
	h.p.now = func() time.Time { return h.clock }
	h.p.levelSince = h.clock
	h.p.sample = func() (Sample, error) { return h.s, nil }
	h.p.OnChange(func(from, to Level) { h.changes = append(h.changes, [2]Level{from, to}) })
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
	h.p.Evaluate()
}

func TestWorstAxisWins(t *testing.T) {
	h := newHarness(t)

	// CPU at WARN, mem at DEGRADE, disk fine: DEGRADE.
	h.s.CPUPercent = 72
	h.s.MemPercent = 88
	h.advance(5 * time.Second)
	assert.Equal(t, LevelDegrade, h.p.Level())

	// Disk under the critical floor trumps everything.
	h.s.DiskFreeBytes = 1 << 30
	h.advance(5 * time.Second)
	assert.Equal(t, LevelCritical, h.p.Level())
}

func TestUpgradeImmediateDowngradeDwells(t *testing.T) {
	h := newHarness(t)

	// CPU spikes; upgrade is immediate.
	h.s.CPUPercent = 90
	h.advance(5 * time.Second)
	require.Equal(t, LevelDegrade, h.p.Level())

	// Load drops right away, but the level holds through the 30s dwell.
	h.s.CPUPercent = 10
	h.advance(5 * time.Second)
	assert.Equal(t, LevelDegrade, h.p.Level())
	h.advance(5 * time.Second)
	assert.Equal(t, LevelDegrade, h.p.Level())

	// Past the dwell the downgrade applies.
	h.advance(25 * time.Second)
	assert.Equal(t, LevelNormal, h.p.Level())

	assert.Equal(t, [][2]Level{
		{LevelNormal, LevelDegrade},
		{LevelDegrade, LevelNormal},
	}, h.changes)
}

func TestEscalationDuringDwellResetsIt(t *testing.T) {
	h := newHarness(t)

	h.s.CPUPercent = 75
	h.advance(5 * time.Second)
	require.Equal(t, LevelWarn, h.p.Level())

	// Escalate mid-dwell; the hold clock restarts at the new level.
	h.s.CPUPercent = 96
	h.advance(20 * time.Second)
	require.Equal(t, LevelCritical, h.p.Level())

	h.s.CPUPercent = 10
	h.advance(20 * time.Second)
	assert.Equal(t, LevelCritical, h.p.Level())
	h.advance(15 * time.Second)
	assert.Equal(t, LevelNormal, h.p.Level())
}

func TestSampleFailureKeepsLevel(t *testing.T) {
	h := newHarness(t)
	h.s.CPUPercent = 90
	h.advance(5 * time.Second)
	require.Equal(t, LevelDegrade, h.p.Level())

	h.p.sample = func() (Sample, error) { return Sample{}, assert.AnError }
	h.advance(60 * time.Second)
	assert.Equal(t, LevelDegrade, h.p.Level())
}

func TestFlags(t *testing.T) {
	h := newHarness(t)

	f := h.p.Flags()
	assert.False(t, f.ShouldReduceQuality)
	assert.False(t, f.ShouldDisablePreviews)
	assert.True(t, f.CanStartRecording)

	h.s.CPUPercent = 90
	h.advance(5 * time.Second)
	f = h.p.Flags()
	assert.True(t, f.ShouldReduceQuality)
	assert.False(t, f.ShouldDisablePreviews)
	assert.True(t, f.CanStartRecording)

	// CRITICAL from CPU alone still allows starting: only a critically low
	// disk blocks new recordings.
	h.s.CPUPercent = 98
	h.advance(5 * time.Second)
	f = h.p.Flags()
	assert.True(t, f.ShouldDisablePreviews)
	assert.True(t, f.CanStartRecording)

	h.s.DiskFreeBytes = 1 << 30
	h.advance(5 * time.Second)
	f = h.p.Flags()
	assert.False(t, f.CanStartRecording)
}

func TestListenerPanicIsolated(t *testing.T) {
	h := newHarness(t)
	h.p.OnChange(func(Level, Level) { panic("boom") })

	h.s.CPUPercent = 90
	h.advance(5 * time.Second)
	assert.Equal(t, LevelDegrade, h.p.Level())
}

func TestSnapshotShape(t *testing.T) {
	h := newHarness(t)
	h.s.CPUPercent = 90
	h.advance(5 * time.Second)

	snap := h.p.Snapshot()
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, "DEGRADE", snap.LevelName)
	assert.Equal(t, 90.0, snap.Resources.CPUPercent)
	assert.Equal(t, 100.0, snap.Resources.DiskFreeGB)
	assert.Equal(t, "/data", snap.Resources.DiskPath)
	assert.True(t, snap.Flags.ShouldReduceQuality)
}

func TestLevelNames(t *testing.T) {
	assert.Equal(t, "NORMAL", LevelNormal.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "DEGRADE", LevelDegrade.String())
	assert.Equal(t, "CRITICAL", LevelCritical.String())
}
