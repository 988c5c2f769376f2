// pedoctl is the control CLI for pedometerd.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"pedometerd/internal/config"
	"pedometerd/internal/ipc"
)

var (
	socketPath = flag.String("socket", "", "daemon control socket (default: platform socket path)")
	jsonOutput = flag.Bool("json", false, "print raw JSON responses")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	client := dial()
	defer client.Close()

	cmd := flag.Arg(0)
	switch cmd {
	case "status":
		cmdStatus(client)
	case "start":
		cmdStart(client)
	case "stop":
		cmdStop(client)
	case "total":
		from, to := parseRange(flag.Args()[1:])
		cmdTotal(client, from, to)
	case "detailed":
		from, to := parseRange(flag.Args()[1:])
		cmdDetailed(client, from, to)
	case "sessions":
		from, to := parseRange(flag.Args()[1:])
		cmdSessions(client, from, to)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `pedoctl - Control utility for pedometerd

Usage: pedoctl [options] <command> [args]

Commands:
  status                  Show daemon status
  start                   Start step tracking
  stop                    Stop step tracking
  total <from> <to>       Total steps inside a time range
  detailed <from> <to>    Individual step records inside a time range
  sessions <from> <to>    Per-session summaries inside a time range
  help                    Show this help message

Times are RFC 3339 (2026-08-29T10:00:00Z) or epoch milliseconds.

Options:
  -socket <path>  Daemon control socket
  -json           Print raw JSON responses`)
}

func dial() *ipc.Client {
	path := *socketPath
	if path == "" {
		path = config.DefaultSocketPath()
	}
	client, err := ipc.Dial(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\nIs pedometerd running?\n", err)
		os.Exit(1)
	}
	return client
}

func do(client *ipc.Client, req ipc.Request) *ipc.Response {
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "Error: %s (%s)\n", resp.Error.Message, resp.Error.Code)
		} else {
			fmt.Fprintln(os.Stderr, "Error: request failed")
		}
		os.Exit(1)
	}
	return resp
}

// parseRange reads two time arguments, RFC 3339 or epoch millis.
func parseRange(args []string) (int64, int64) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: expected <from> and <to> times")
		os.Exit(1)
	}
	return parseTime(args[0]), parseTime(args[1])
}

func parseTime(s string) int64 {
	if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
		return millis
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot parse time %q: %v\n", s, err)
		os.Exit(1)
	}
	return t.UnixMilli()
}

func cmdStatus(client *ipc.Client) {
	resp := do(client, ipc.Request{Op: ipc.OpStatus})
	if printJSON(resp) {
		return
	}
	st := resp.Status

	fmt.Println("=== pedometerd Status ===")
	fmt.Printf("Sensor available: %v\n", st.SensorAvailable)
	fmt.Printf("Tracking:         %v\n", st.Tracking)
	if st.SessionID != "" {
		fmt.Printf("Session:          %s\n", st.SessionID)
	}
	fmt.Printf("Total steps:      %d\n", st.TotalSteps)
}

func cmdStart(client *ipc.Client) {
	resp := do(client, ipc.Request{Op: ipc.OpStart})
	if printJSON(resp) {
		return
	}
	fmt.Printf("Tracking started (session %s)\n", resp.Session)
}

func cmdStop(client *ipc.Client) {
	resp := do(client, ipc.Request{Op: ipc.OpStop})
	if printJSON(resp) {
		return
	}
	fmt.Println("Tracking stopped")
}

func cmdTotal(client *ipc.Client, from, to int64) {
	resp := do(client, ipc.Request{Op: ipc.OpTotal, From: from, To: to})
	if printJSON(resp) {
		return
	}
	fmt.Printf("%d\n", *resp.Total)
}

func cmdDetailed(client *ipc.Client, from, to int64) {
	resp := do(client, ipc.Request{Op: ipc.OpDetailed, From: from, To: to})
	if printJSON(resp) {
		return
	}
	if len(resp.Records) == 0 {
		fmt.Println("No records in range")
		return
	}
	fmt.Printf("%-24s  %8s  %12s  %s\n", "TIMESTAMP", "STEPS", "SENSOR", "SESSION")
	for _, rec := range resp.Records {
		ts := time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339)
		fmt.Printf("%-24s  %8d  %12d  %s\n", ts, rec.CalculatedSteps, rec.SensorTotalSteps, rec.SessionID)
	}
}

func cmdSessions(client *ipc.Client, from, to int64) {
	resp := do(client, ipc.Request{Op: ipc.OpSessions, From: from, To: to})
	if printJSON(resp) {
		return
	}
	if len(resp.Sessions) == 0 {
		fmt.Println("No sessions in range")
		return
	}
	for _, s := range resp.Sessions {
		start := time.UnixMilli(s.StartTime).UTC().Format(time.RFC3339)
		end := time.UnixMilli(s.EndTime).UTC().Format(time.RFC3339)
		fmt.Printf("%s  steps=%d  %s .. %s\n", s.SessionID, s.TotalSteps, start, end)
	}
}

func printJSON(resp *ipc.Response) bool {
	if !*jsonOutput {
		return false
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
	return true
}
