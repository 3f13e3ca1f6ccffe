package ctl

import (
	"fmt"
	"strings"
)

// Degradation shows the current degradation level, resource readings, and
// feature-gating flags.
func Degradation(socket string, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{"cmd": "degradation.status"})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	levelName, _ := resp["level_name"].(string)

	fmt.Println()
	fmt.Println(header("  DEGRADATION"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Printf("  %-12s %s\n", colorize(dim, "Level:"), colorize(levelColor(levelName), levelName))

	if res, ok := resp["resources"].(map[string]any); ok {
		cpu, _ := res["cpu_percent"].(float64)
		mem, _ := res["mem_percent"].(float64)
		disk, _ := res["disk_free_gb"].(float64)
		path, _ := res["disk_path"].(string)
		fmt.Printf("  %-12s %.1f%%\n", colorize(dim, "CPU:"), cpu)
		fmt.Printf("  %-12s %.1f%%\n", colorize(dim, "Memory:"), mem)
		fmt.Printf("  %-12s %.1f GB free %s\n", colorize(dim, "Disk:"), disk, colorize(dim, "("+path+")"))
	}

	if flags, ok := resp["flags"].(map[string]any); ok {
		fmt.Println()
		printFlag(flags, "can_start_recording", "Can start recording")
		printFlag(flags, "should_reduce_quality", "Reduce quality")
		printFlag(flags, "should_disable_previews", "Disable previews")
	}
	fmt.Println()
	return nil
}

func printFlag(flags map[string]any, key, label string) {
	v, _ := flags[key].(bool)
	val := colorize(green, "yes")
	if !v {
		val = colorize(red, "no")
	}
	if strings.HasPrefix(key, "should_") {
		// Inverted sense: "should" flags being off is the good case.
		val = colorize(green, "no")
		if v {
			val = colorize(yellow, "yes")
		}
	}
	fmt.Printf("  %-22s %s\n", colorize(dim, label+":"), val)
}
