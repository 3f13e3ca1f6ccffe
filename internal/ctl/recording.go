package ctl

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StartOptions controls the start command.
type StartOptions struct {
	SessionID string   // optional caller-supplied id
	Inputs    []string // input ids to record
	JSON      bool
}

// Start begins a new recording session.
func Start(socket string, opts StartOptions) error {
	req := map[string]any{
		"cmd":    "recording.start",
		"inputs": opts.Inputs,
	}
	if opts.SessionID != "" {
		req["session_id"] = opts.SessionID
	}
	resp, err := roundTrip(socket, req)
	if err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	sid, _ := resp["session_id"].(string)
	fmt.Println()
	fmt.Printf("  %s %s\n", colorize(green, "started"), colorize(bold, sid))
	if inputs, ok := resp["inputs"].(map[string]any); ok {
		for _, name := range sortedKeys(inputs) {
			path, _ := inputs[name].(string)
			fmt.Printf("    %-8s %s\n", colorize(dim, name), path)
		}
	}
	fmt.Println()
	return nil
}

// Stop ends the active recording session.
func Stop(socket, sessionID string, jsonOut bool) error {
	req := map[string]any{"cmd": "recording.stop"}
	if sessionID != "" {
		req["session_id"] = sessionID
	}
	resp, err := roundTrip(socket, req)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	sid, _ := resp["session_id"].(string)
	durMS, _ := resp["duration_ms"].(float64)
	fmt.Println()
	fmt.Printf("  %s %s  %s\n",
		colorize(yellow, "stopped"),
		colorize(bold, sid),
		colorize(dim, formatDuration(time.Duration(durMS)*time.Millisecond)))
	if files, ok := resp["files"].([]any); ok {
		for _, f := range files {
			path, _ := f.(string)
			fmt.Printf("    %s\n", path)
		}
	}
	fmt.Println()
	return nil
}

// RecordingStatus shows the active session's per-input progress.
func RecordingStatus(socket string, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{"cmd": "recording.status"})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	recording, _ := resp["recording"].(bool)
	fmt.Println()
	if !recording {
		fmt.Printf("  %s\n\n", colorize(dim, "not recording"))
		return nil
	}

	sid, _ := resp["session_id"].(string)
	durMS, _ := resp["duration_ms"].(float64)
	fmt.Println(header("  RECORDING"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Session:"), colorize(bold, sid))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Duration:"), formatDuration(time.Duration(durMS)*time.Millisecond))
	if bw, ok := resp["bytes_written"].(map[string]any); ok {
		for _, name := range sortedKeys(bw) {
			bytes, _ := bw[name].(float64)
			fmt.Printf("  %-12s %s\n", colorize(dim, name+":"), formatBytes(int64(bytes)))
		}
	}
	fmt.Println()
	return nil
}

// UpdateBytes reports an input's written byte count to the daemon.
func UpdateBytes(socket, inputID string, bytes int64, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{
		"cmd":      "recording.update_bytes",
		"input_id": inputID,
		"bytes":    bytes,
	})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}
	fmt.Printf("  %s %s = %s\n", colorize(green, "ok"), inputID, formatBytes(bytes))
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
