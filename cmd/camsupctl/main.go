// Camsupctl is the command-line client for monitoring and controlling a
// running camsupd instance. It connects over the daemon's unix control
// socket to issue commands and over the event socket to stream live events.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/openrig/camsupd/internal/ctl"
)

func main() {
	var (
		socket       = pflag.StringP("socket", "s", "/run/camsupd/control.sock", "Control socket path")
		eventsSocket = pflag.String("events-socket", "/run/camsupd/events.sock", "Event feed socket path")
		jsonOut      = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter       = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter stall,disk_low)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --session are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*socket, *jsonOut)

	case "recording-status":
		err = ctl.RecordingStatus(*socket, *jsonOut)

	case "watchdog":
		err = ctl.Watchdog(*socket, *jsonOut)

	case "degradation":
		err = ctl.Degradation(*socket, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*socket, *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "start":
		opts := ctl.StartOptions{JSON: *jsonOut}
		startFlags := pflag.NewFlagSet("start", pflag.ContinueOnError)
		startFlags.StringVar(&opts.SessionID, "session", "", "Use a caller-supplied session id")
		_ = startFlags.Parse(subArgs)
		opts.Inputs = startFlags.Args()
		if len(opts.Inputs) == 0 {
			err = fmt.Errorf("start requires at least one input id")
			break
		}
		err = ctl.Start(*socket, opts)

	case "stop":
		var sessionID string
		stopFlags := pflag.NewFlagSet("stop", pflag.ContinueOnError)
		stopFlags.StringVar(&sessionID, "session", "", "Verify against the active session id")
		_ = stopFlags.Parse(subArgs)
		err = ctl.Stop(*socket, sessionID, *jsonOut)

	case "update-bytes":
		if len(subArgs) != 2 {
			err = fmt.Errorf("usage: update-bytes <input-id> <bytes>")
			break
		}
		var bytes int64
		bytes, err = strconv.ParseInt(subArgs[1], 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid byte count %q", subArgs[1])
			break
		}
		err = ctl.UpdateBytes(*socket, subArgs[0], bytes, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*eventsSocket, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  camsupctl — recording supervisor control CLI

  USAGE
    camsupctl [flags] <command> [command-flags]

  COMMANDS (query)
    status            Show device mode and last error
    recording-status  Show the active session and per-input progress
    watchdog          Show per-input stall tracking and disk headroom
    degradation       Show resource pressure level and feature flags
    version           Show daemon version information

  COMMANDS (control)
    start             Start recording the given input ids
    stop              Stop the active recording
    update-bytes      Report an input's written byte count

  COMMANDS (live)
    watch             Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -s, --socket PATH         Control socket (default: /run/camsupd/control.sock)
        --events-socket PATH  Event feed socket (default: /run/camsupd/events.sock)
        --json                Output raw JSON instead of formatted text
        --filter TYPE         Event types to show in watch (comma-separated)

  COMMAND FLAGS
    start:
        --session ID      Use a caller-supplied session id

    stop:
        --session ID      Refuse unless it matches the active session

  EXAMPLES
    camsupctl status
    camsupctl --json status
    camsupctl start cam1 cam2
    camsupctl start --session shoot-42 cam1 cam2 cam3
    camsupctl update-bytes cam1 1048576
    camsupctl recording-status
    camsupctl stop
    camsupctl watchdog
    camsupctl degradation
    camsupctl watch --filter stall,disk_low
    camsupctl watch --json

`)
}
