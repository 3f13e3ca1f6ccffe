package ctl

import "fmt"

// VersionInfo shows the daemon's version information.
func VersionInfo(socket string, jsonOut bool) error {
	resp, err := roundTrip(socket, map[string]any{"cmd": "version"})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}

	name, _ := resp["name"].(string)
	version, _ := resp["version"].(string)
	goVersion, _ := resp["go_version"].(string)
	fmt.Printf("  %s %s %s\n", name, colorize(bold, version), colorize(dim, goVersion))
	return nil
}
