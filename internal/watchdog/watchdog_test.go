package watchdog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrig/camsupd/internal/config"
	"github.com/openrig/camsupd/internal/telemetry"
)

// harness drives the watchdog with a fake clock, fake file sizes, and a fake
// free-disk reading.
type harness struct {
	w     *Watchdog
	clock time.Time
	sizes map[string]int64
	free  uint64

	stalls   []telemetry.Stall
	diskLows []telemetry.DiskLow
	progress []telemetry.Progress
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		sizes: map[string]int64{},
		free:  100 << 30,
	}
	cfg := config.Default().Watchdog
	h.w = New(cfg, "/rec", nil)
	h.w.now = func() time.Time { return h.clock }
	h.w.statSize = func(path string) (int64, error) {
		sz, ok := h.sizes[path]
		if !ok {
			return 0, errors.New("no such file")
		}
		return sz, nil
	}
	h.w.diskFree = func(string) (uint64, error) { return h.free, nil }
	h.w.OnStall(func(ev telemetry.Stall) { h.stalls = append(h.stalls, ev) })
	h.w.OnDiskLow(func(ev telemetry.DiskLow) { h.diskLows = append(h.diskLows, ev) })
	h.w.OnProgress(func(ev telemetry.Progress) { h.progress = append(h.progress, ev) })
	return h
}

// advance moves the clock forward and runs one tick, mimicking the ticker.
func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
	h.w.Tick()
}

func TestStallFiresOncePerEpisode(t *testing.T) {
	h := newHarness(t)
	h.sizes["/rec/cam1.mp4"] = 1000
	h.w.StartWatching("sess-1", map[string]string{"cam1": "/rec/cam1.mp4"})

	// File grows for a while.
	for i := 0; i < 3; i++ {
		h.sizes["/rec/cam1.mp4"] += 500
		h.advance(5 * time.Second)
	}
	require.Empty(t, h.stalls)

	// Then freezes. 30s of no growth trips the stall exactly once even
	// across many more ticks.
	for i := 0; i < 20; i++ {
		h.advance(5 * time.Second)
	}
	require.Len(t, h.stalls, 1)
	assert.Equal(t, "cam1", h.stalls[0].Input)
	assert.Equal(t, "sess-1", h.stalls[0].SessionID)
	assert.GreaterOrEqual(t, h.stalls[0].StallSeconds, int64(30))

	// Growth resumes, then stalls again: a second episode, a second event.
	h.sizes["/rec/cam1.mp4"] += 500
	h.advance(5 * time.Second)
	for i := 0; i < 10; i++ {
		h.advance(5 * time.Second)
	}
	require.Len(t, h.stalls, 2)
}

func TestStatErrorCountsAsNoGrowth(t *testing.T) {
	h := newHarness(t)
	// Path never exists; every stat fails.
	h.w.StartWatching("sess-1", map[string]string{"cam1": "/rec/missing.mp4"})

	for i := 0; i < 10; i++ {
		h.advance(5 * time.Second)
	}
	require.Len(t, h.stalls, 1)
}

func TestUpdateBytesHintSuppressesStall(t *testing.T) {
	h := newHarness(t)
	// Destination is unstattable; only hints report progress.
	h.w.StartWatching("sess-1", map[string]string{"cam1": "/rec/pipe.mp4"})

	var bytes int64
	for i := 0; i < 20; i++ {
		bytes += 1024
		h.w.UpdateBytes("cam1", bytes)
		h.advance(5 * time.Second)
	}
	assert.Empty(t, h.stalls)

	// Hints stop; the stall follows.
	for i := 0; i < 10; i++ {
		h.advance(5 * time.Second)
	}
	assert.Len(t, h.stalls, 1)
}

func TestDiskLowCooldown(t *testing.T) {
	h := newHarness(t)
	h.free = 2 << 30 // under the 5 GB floor, above the 1 GB critical floor

	// 10 ticks over 50s: cooldown is 60s, so exactly one event.
	for i := 0; i < 10; i++ {
		h.advance(5 * time.Second)
	}
	require.Len(t, h.diskLows, 1)
	assert.False(t, h.diskLows[0].Critical)

	// Past the cooldown a second event fires.
	for i := 0; i < 3; i++ {
		h.advance(5 * time.Second)
	}
	require.Len(t, h.diskLows, 2)
}

func TestDiskLowCriticalFlag(t *testing.T) {
	h := newHarness(t)
	h.free = 512 << 20 // under the 1 GB critical floor

	h.advance(5 * time.Second)
	require.Len(t, h.diskLows, 1)
	assert.True(t, h.diskLows[0].Critical)
}

func TestCriticalCrossingBypassesCooldown(t *testing.T) {
	h := newHarness(t)
	h.free = 2 << 30 // under the 5 GB floor, above the 1 GB critical floor

	h.advance(5 * time.Second)
	require.Len(t, h.diskLows, 1)
	assert.False(t, h.diskLows[0].Critical)

	// Free space falls under the critical floor 5s later, well inside the
	// 60s cooldown. The crossing must fire immediately.
	h.free = 256 << 20
	h.advance(5 * time.Second)
	require.Len(t, h.diskLows, 2)
	assert.True(t, h.diskLows[1].Critical)

	// Still critical on later ticks: back under the rate limit.
	h.advance(5 * time.Second)
	assert.Len(t, h.diskLows, 2)

	// Recovery above the floor re-arms the exemption for the next crossing.
	h.free = 10 << 30
	h.advance(5 * time.Second)
	h.free = 256 << 20
	h.advance(5 * time.Second)
	require.Len(t, h.diskLows, 3)
	assert.True(t, h.diskLows[2].Critical)
}

func TestProgressEveryTickWhileWatching(t *testing.T) {
	h := newHarness(t)
	h.sizes["/rec/cam1.mp4"] = 100
	h.sizes["/rec/cam2.mp4"] = 200
	h.w.StartWatching("sess-1", map[string]string{
		"cam1": "/rec/cam1.mp4",
		"cam2": "/rec/cam2.mp4",
	})

	h.advance(5 * time.Second)
	h.advance(5 * time.Second)
	require.Len(t, h.progress, 2)
	assert.Equal(t, int64(100), h.progress[1].Bytes["cam1"])
	assert.Equal(t, int64(200), h.progress[1].Bytes["cam2"])

	h.w.StopWatching()
	h.advance(5 * time.Second)
	assert.Len(t, h.progress, 2)
}

func TestStopWatchingClearsState(t *testing.T) {
	h := newHarness(t)
	h.w.StartWatching("sess-1", map[string]string{"cam1": "/rec/cam1.mp4"})
	h.w.StopWatching()

	st := h.w.Status()
	assert.False(t, st.Watching)
	assert.Empty(t, st.SessionID)
	assert.Empty(t, st.Inputs)

	// Disarmed twice is fine.
	h.w.StopWatching()
}

func TestListenerPanicIsolated(t *testing.T) {
	h := newHarness(t)
	h.free = 512 << 20
	h.w.OnDiskLow(func(telemetry.DiskLow) { panic("boom") })

	// Must not panic out of the tick.
	h.advance(5 * time.Second)
	assert.Len(t, h.diskLows, 1)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	h.sizes["/rec/cam1.mp4"] = 100
	h.w.StartWatching("sess-1", map[string]string{"cam1": "/rec/cam1.mp4"})
	h.advance(5 * time.Second)

	st := h.w.Status()
	assert.True(t, st.Watching)
	assert.Equal(t, "sess-1", st.SessionID)
	require.Contains(t, st.Inputs, "cam1")
	assert.Equal(t, int64(100), st.Inputs["cam1"].Bytes)
	assert.Equal(t, uint64(100<<30), st.DiskFreeBytes)
}
