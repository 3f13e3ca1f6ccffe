package ctl

import (
	"fmt"
	"strings"
)

// Status fetches the daemon status and prints a formatted summary.
func Status(socket string, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{"cmd": "status"})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	mode, _ := resp["mode"].(string)
	lastErr, _ := resp["last_error"].(string)

	fmt.Println()
	fmt.Println(header("  CAMSUPD STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Mode:"), colorize(modeColor(mode), mode))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Socket:"), socket)
	if lastErr != "" {
		fmt.Printf("  %-12s %s\n", colorize(dim, "Last error:"), colorize(red, lastErr))
	}
	fmt.Println()
	return nil
}
