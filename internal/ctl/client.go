// Package ctl implements the client-side commands for camsupctl.
// It talks to a running camsupd over its unix control socket and renders
// the results to the terminal.
package ctl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// roundTrip sends one JSON request line over the control socket and decodes
// the one-line response. A response carrying an "error" field is surfaced
// as a Go error.
func roundTrip(socket string, req map[string]any) (map[string]any, error) {
	conn, err := net.DialTimeout("unix", socket, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socket, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, err
	}
	raw, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if msg, ok := resp["error"].(string); ok {
		return resp, errors.New(msg)
	}
	return resp, nil
}

// printJSON prints v as indented JSON to stdout.
func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
