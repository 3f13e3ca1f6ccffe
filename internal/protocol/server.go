// Package protocol implements the local control surface: a unix domain
// socket speaking one JSON object per line in each direction. It owns the
// admission checks for session transitions and keeps the watchdog armed
// exactly while the device is recording.
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openrig/camsupd/internal/config"
	"github.com/openrig/camsupd/internal/degrade"
	"github.com/openrig/camsupd/internal/events"
	"github.com/openrig/camsupd/internal/state"
	"github.com/openrig/camsupd/internal/telemetry"
	"github.com/openrig/camsupd/internal/watchdog"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const destTimestampFormat = "20060102T150405Z"

// request is the union of every command's fields. Absent fields decode to
// zero values; each handler validates what it needs.
type request struct {
	Cmd       string   `json:"cmd"`
	SessionID string   `json:"session_id"`
	Inputs    []string `json:"inputs"`
	InputID   string   `json:"input_id"`
	Bytes     *int64   `json:"bytes"`
}

func errResp(msg string) map[string]any {
	return map[string]any{"error": msg}
}

// Server dispatches control commands against the state store, pairing every
// session transition with the matching watchdog arm/disarm inside one
// critical section.
type Server struct {
	log    *zap.Logger
	paths  config.PathsConfig
	store  *state.Store
	wd     *watchdog.Watchdog
	policy *degrade.Policy
	hub    *events.Hub

	// mu serializes session transitions so the store mutation and the
	// watchdog arm/disarm can never interleave with another transition.
	mu sync.Mutex

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// New wires the server to its collaborators. hub may be nil when no event
// feed is running. The server subscribes to watchdog disk-low events so a
// critically full disk force-stops an active recording.
func New(paths config.PathsConfig, store *state.Store, wd *watchdog.Watchdog, policy *degrade.Policy, hub *events.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		log:    log,
		paths:  paths,
		store:  store,
		wd:     wd,
		policy: policy,
		hub:    hub,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	wd.OnDiskLow(s.handleDiskLow)
	return s
}

// Reconcile re-arms the watchdog when the persisted state says a recording
// was in flight before a restart. Call once before serving.
func (s *Server) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.store.Snapshot()
	if snap.Mode != state.ModeRecording || snap.ActiveRecording == nil {
		return
	}
	s.wd.StartWatching(snap.ActiveRecording.SessionID, snap.ActiveRecording.Inputs)
	s.log.Info("resumed watching recording from persisted state",
		zap.String("session_id", snap.ActiveRecording.SessionID))
}

// Run listens on the control socket until ctx is cancelled. The socket is
// recreated on every start; trust derives from its file mode, so it is made
// world-accessible.
func (s *Server) Run(ctx context.Context) error {
	if err := removeStaleSocket(s.paths.Socket); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.paths.Socket), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	ln, err := net.Listen("unix", s.paths.Socket)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.paths.Socket, 0o666); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		_ = os.Remove(s.paths.Socket)
	}()

	s.log.Info("control socket listening", zap.String("socket", s.paths.Socket))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.serveConn(conn)
	}
}

// serveConn handles one connection's request lines. A panic while serving
// is contained to the connection; the accept loop never sees it.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("connection handler panicked", zap.Any("panic", r))
		}
		_ = conn.Close()
	}()

	enc := json.NewEncoder(conn)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		resp := s.dispatch(sc.Bytes())
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(line []byte) any {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errResp("Malformed request")
	}
	if req.Cmd == "" {
		return errResp("Missing command")
	}

	switch req.Cmd {
	case "status":
		return s.handleStatus()
	case "recording.start":
		return s.handleStart(req)
	case "recording.stop":
		return s.handleStop(req)
	case "recording.status":
		return s.handleRecordingStatus()
	case "recording.update_bytes":
		return s.handleUpdateBytes(req)
	case "watchdog.status":
		return s.wd.Status()
	case "degradation.status":
		return s.policy.Snapshot()
	case "version":
		return map[string]any{
			"name":       "camsupd",
			"version":    Version,
			"go_version": runtime.Version(),
		}
	default:
		return errResp("Unknown command: " + req.Cmd)
	}
}

func (s *Server) handleStatus() any {
	snap := s.store.Snapshot()
	return map[string]any{
		"mode":       string(snap.Mode),
		"recording":  snap.Mode == state.ModeRecording,
		"last_error": snap.LastError,
	}
}

func (s *Server) handleStart(req request) any {
	if len(req.Inputs) == 0 {
		return errResp("Missing inputs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Mode() != state.ModeIdle {
		return errResp("Already recording")
	}
	if !s.policy.Flags().CanStartRecording {
		return errResp("Disk critically low")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.newID()
	}
	now := s.now()
	ts := now.UTC().Format(destTimestampFormat)
	dests := make(map[string]string, len(req.Inputs))
	for _, input := range req.Inputs {
		name := fmt.Sprintf("%s_%s_%s.%s", sessionID, input, ts, s.paths.Extension)
		dests[input] = filepath.Join(s.paths.RecordingsRoot, name)
	}

	s.store.StartRecording(sessionID, now, dests)
	s.wd.StartWatching(sessionID, dests)

	s.log.Info("recording started",
		zap.String("session_id", sessionID),
		zap.Int("inputs", len(dests)))
	s.broadcast(telemetry.StateTransition{
		Event:     telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:      string(state.ModeIdle),
		To:        string(state.ModeRecording),
		SessionID: sessionID,
	})

	return map[string]any{
		"session_id": sessionID,
		"inputs":     dests,
		"status":     "started",
	}
}

func (s *Server) handleStop(req request) any {
	s.mu.Lock()

	snap := s.store.Snapshot()
	if snap.Mode != state.ModeRecording || snap.ActiveRecording == nil {
		s.mu.Unlock()
		return errResp("Not recording")
	}
	if req.SessionID != "" && req.SessionID != snap.ActiveRecording.SessionID {
		s.mu.Unlock()
		return errResp("Session ID mismatch")
	}

	s.wd.StopWatching()
	prior := s.store.StopRecording()
	s.mu.Unlock()

	durationMS := s.now().Sub(prior.StartedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	files := make([]string, 0, len(prior.Inputs))
	for _, path := range prior.Inputs {
		files = append(files, path)
	}
	sort.Strings(files)

	s.log.Info("recording stopped",
		zap.String("session_id", prior.SessionID),
		zap.Int64("duration_ms", durationMS))
	s.broadcast(telemetry.StateTransition{
		Event:     telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:      string(state.ModeRecording),
		To:        string(state.ModeIdle),
		SessionID: prior.SessionID,
	})

	return map[string]any{
		"session_id":  prior.SessionID,
		"duration_ms": durationMS,
		"files":       files,
		"status":      "stopped",
	}
}

func (s *Server) handleRecordingStatus() any {
	snap := s.store.Snapshot()
	if snap.Mode != state.ModeRecording || snap.ActiveRecording == nil {
		return map[string]any{"recording": false}
	}
	return map[string]any{
		"recording":     true,
		"session_id":    snap.ActiveRecording.SessionID,
		"duration_ms":   s.now().Sub(snap.ActiveRecording.StartedAt).Milliseconds(),
		"bytes_written": snap.ActiveRecording.BytesWritten,
	}
}

func (s *Server) handleUpdateBytes(req request) any {
	if req.InputID == "" {
		return errResp("Missing input_id")
	}
	if req.Bytes == nil {
		return errResp("Missing bytes")
	}
	if s.store.Mode() != state.ModeRecording {
		return errResp("Not recording")
	}
	s.store.UpdateBytes(req.InputID, *req.Bytes)
	s.wd.UpdateBytes(req.InputID, *req.Bytes)
	return map[string]any{"status": "ok"}
}

// handleDiskLow force-stops an active recording when free space falls under
// the hard critical floor. Partial data beats total loss; the reason lands
// in last_error for the orchestrator to surface.
func (s *Server) handleDiskLow(ev telemetry.DiskLow) {
	if !ev.Critical {
		return
	}

	s.mu.Lock()
	snap := s.store.Snapshot()
	if snap.Mode != state.ModeRecording || snap.ActiveRecording == nil {
		s.mu.Unlock()
		return
	}
	s.wd.StopWatching()
	prior := s.store.StopRecording()
	reason := fmt.Sprintf("recording force-stopped: disk critically low (%d bytes free)", ev.FreeBytes)
	s.store.SetError(reason)
	s.mu.Unlock()

	s.log.Error("forced recording stop",
		zap.String("session_id", prior.SessionID),
		zap.Uint64("free_bytes", ev.FreeBytes))
	s.broadcast(telemetry.StateTransition{
		Event:     telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:      string(state.ModeRecording),
		To:        string(state.ModeIdle),
		SessionID: prior.SessionID,
		Reason:    reason,
	})
}

func (s *Server) broadcast(v any) {
	if s.hub != nil {
		s.hub.BroadcastJSON(v)
	}
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove %s: not a socket", path)
	}
	return os.Remove(path)
}
