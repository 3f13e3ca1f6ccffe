package ctl

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch connects to the daemon's event feed and streams events to the
// terminal in a human-readable format until interrupted. The feed lives on
// its own unix socket, so the dialer bypasses TCP entirely.
func Watch(eventsSocket string, opts WatchOptions) error {
	dialer := websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return net.Dial("unix", eventsSocket)
		},
		HandshakeTimeout: 3 * time.Second,
	}
	// The host in the URL is ignored; the NetDial above picks the socket.
	conn, _, err := dialer.Dial("ws://camsupd/events", nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", eventsSocket, err)
	}
	defer conn.Close()

	if !opts.JSON {
		fmt.Println()
		fmt.Printf("  %s %s\n", colorize(green, "connected"), colorize(dim, eventsSocket))
		fmt.Println()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if len(filterSet) > 0 {
				var ev map[string]any
				if err := json.Unmarshal(msg, &ev); err == nil {
					evType, _ := ev["type"].(string)
					if !filterSet[evType] {
						continue
					}
				}
			}

			if opts.JSON {
				fmt.Println(string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		if !opts.JSON {
			fmt.Println()
			fmt.Println(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(1*time.Second),
		)
		return nil
	case <-done:
		return nil
	}
}

// renderEvent parses a JSON event and prints it in a human-friendly format.
// Falls back to raw JSON for unrecognized event types.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		fmt.Printf("  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := formatEventTime(ev)

	switch evType {
	case "heartbeat":
		// Heartbeats are noisy — show them dimmed on a single line.
		mode, _ := ev["mode"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		fmt.Printf("  %s %s  %s  up %s\n",
			colorize(dim, ts),
			colorize(dim, "heartbeat"),
			colorize(modeColor(mode), mode),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
		)

	case "state":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		reason, _ := ev["reason"].(string)
		line := fmt.Sprintf("  %s %s  %s %s %s",
			colorize(dim, ts),
			colorize(bold, "STATE"),
			colorize(modeColor(from), from),
			colorize(dim, "->"),
			colorize(modeColor(to), to),
		)
		if reason != "" {
			line += "  " + colorize(red, reason)
		}
		fmt.Println(line)

	case "progress":
		sid, _ := ev["session_id"].(string)
		line := fmt.Sprintf("  %s %s  %s",
			colorize(dim, ts),
			colorize(cyan, "progress"),
			colorize(dim, sid))
		if bytes, ok := ev["bytes"].(map[string]any); ok {
			for _, name := range sortedKeys(bytes) {
				b, _ := bytes[name].(float64)
				line += fmt.Sprintf("  %s=%s", name, formatBytes(int64(b)))
			}
		}
		fmt.Println(line)

	case "stall":
		input, _ := ev["input"].(string)
		stallSec, _ := ev["stall_seconds"].(float64)
		fmt.Printf("  %s %s  %s no growth for %s\n",
			colorize(dim, ts),
			colorize(red, "STALL"),
			colorize(bold, input),
			formatDuration(time.Duration(stallSec)*time.Second),
		)

	case "disk_low":
		free, _ := ev["free_bytes"].(float64)
		critical, _ := ev["critical"].(bool)
		label := colorize(yellow, "DISK LOW")
		if critical {
			label = colorize(red, "DISK CRITICAL")
		}
		fmt.Printf("  %s %s  %s free\n", colorize(dim, ts), label, formatBytes(int64(free)))

	case "degradation":
		fromName, _ := ev["from_name"].(string)
		toName, _ := ev["to_name"].(string)
		fmt.Printf("  %s %s  %s %s %s\n",
			colorize(dim, ts),
			colorize(bold, "DEGRADE"),
			colorize(levelColor(fromName), fromName),
			colorize(dim, "->"),
			colorize(levelColor(toName), toName),
		)

	default:
		// Unknown event type — dump as indented JSON so nothing is lost.
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			fmt.Printf("  %s\n", string(raw))
			return
		}
		fmt.Printf("  %s\n", string(pretty))
	}
}

// formatEventTime extracts and shortens the timestamp from an event.
func formatEventTime(ev map[string]any) string {
	tsRaw, ok := ev["ts"].(string)
	if !ok {
		return "        "
	}
	t, err := time.Parse(time.RFC3339Nano, tsRaw)
	if err != nil {
		return tsRaw
	}
	return t.Local().Format("15:04:05")
}
