// Package telemetry defines the typed event structs that flow over the
// event feed between camsupd and its clients. Every component emits these
// through the hub; the envelope carries the type tag and a UTC timestamp.
package telemetry

import "time"

// EventType identifies the kind of event on the feed.
type EventType string

const (
	EventHeartbeat   EventType = "heartbeat"
	EventState       EventType = "state"
	EventProgress    EventType = "progress"
	EventStall       EventType = "stall"
	EventDiskLow     EventType = "disk_low"
	EventDegradation EventType = "degradation"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	Mode          string `json:"mode"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the device moves between operating
// modes (e.g. idle -> recording).
type StateTransition struct {
	Event
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Progress reports per-input file sizes for the active recording, one event
// per watchdog tick.
type Progress struct {
	Event
	SessionID string           `json:"session_id"`
	Bytes     map[string]int64 `json:"bytes"`
}

// Stall marks an input whose destination file stopped growing for longer
// than the stall threshold. One Stall is emitted per episode; growth re-arms
// the detector.
type Stall struct {
	Event
	SessionID    string `json:"session_id"`
	Input        string `json:"input"`
	Path         string `json:"path"`
	StallSeconds int64  `json:"stall_seconds"`
}

// DiskLow warns that free space on the recordings volume fell under the
// configured floor. Critical is set when it is under the hard critical floor.
type DiskLow struct {
	Event
	Path      string `json:"path"`
	FreeBytes uint64 `json:"free_bytes"`
	Critical  bool   `json:"critical"`
}

// DegradationChange announces a degradation level transition.
type DegradationChange struct {
	Event
	From     int    `json:"from"`
	FromName string `json:"from_name"`
	To       int    `json:"to"`
	ToName   string `json:"to_name"`
}
