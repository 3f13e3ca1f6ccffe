package ctl

import (
	"fmt"
	"strings"
	"time"
)

// Watchdog shows the watchdog's per-input tracking and disk headroom.
func Watchdog(socket string, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{"cmd": "watchdog.status"})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	watching, _ := resp["watching"].(bool)
	freeBytes, _ := resp["disk_free_bytes"].(float64)

	fmt.Println()
	fmt.Println(header("  WATCHDOG"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	if watching {
		sid, _ := resp["session_id"].(string)
		fmt.Printf("  %-12s %s\n", colorize(dim, "Watching:"), colorize(bold, sid))
	} else {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Watching:"), colorize(dim, "no"))
	}
	fmt.Printf("  %-12s %s\n", colorize(dim, "Disk free:"), formatBytes(int64(freeBytes)))

	if inputs, ok := resp["inputs"].(map[string]any); ok && len(inputs) > 0 {
		fmt.Println()
		for _, name := range sortedKeys(inputs) {
			in, _ := inputs[name].(map[string]any)
			bytes, _ := in["bytes"].(float64)
			idle, _ := in["seconds_since_growth"].(float64)
			stalled, _ := in["stalled"].(bool)
			label := colorize(green, "ok     ")
			if stalled {
				label = colorize(red, "STALLED")
			}
			fmt.Printf("  %s %s  %s  %s\n",
				label,
				padRight(name, 8),
				padRight(formatBytes(int64(bytes)), 10),
				colorize(dim, "idle "+formatDuration(time.Duration(idle)*time.Second)))
		}
	}
	fmt.Println()
	return nil
}
