// Command plcpoll-log is a tool for viewing and analyzing snapshot capture
// files.
//
// Capture files are written by plcpoll when a sink of type "file" is
// configured.
//
// Usage:
//
//	plcpoll-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View snapshots in human-readable format
//	export   Export snapshots to JSONL or CSV
//	filter   Filter snapshots and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View all snapshots of one device
//	plcpoll-log view --device press-1 line1.cbor
//
//	# Export one register block to CSV
//	plcpoll-log export --format csv --label temperature line1.cbor
//
//	# Cut an hour out of a capture
//	plcpoll-log filter --time-start 2026-01-28T10:00:00Z --time-end 2026-01-28T11:00:00Z -o hour.cbor line1.cbor
//
//	# Show statistics
//	plcpoll-log stats line1.cbor
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/plc-monitor/plcpoll-go/cmd/plcpoll-log/commands"
)

const usage = `plcpoll-log - PLC Snapshot Capture Analyzer

Usage:
  plcpoll-log <command> [flags] <file.cbor>

Commands:
  view     View snapshots in human-readable format
  export   Export snapshots to JSONL or CSV
  filter   Filter snapshots and write to new file
  stats    Show statistics about the capture file

Use "plcpoll-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with the filter flags every command shares.
func newFlagSet(name, summary string) (*flag.FlagSet, *commands.FilterOptions) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `plcpoll-log %s - %s

Usage:
  plcpoll-log %s [flags] <file.cbor>

Flags:
`, name, summary, name)
		fs.PrintDefaults()
	}

	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.Device, "device", "", "Filter by device name")
	fs.StringVar(&opts.Label, "label", "", "Keep only the register block with this label")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter snapshots at or after this time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter snapshots before this time (RFC3339)")
	return fs, opts
}

// capturePath parses args and returns the capture file argument.
func capturePath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs, opts := newFlagSet("view", "View snapshots in human-readable format")
	path := capturePath(fs, args)

	if err := commands.RunView(path, *opts, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs, opts := newFlagSet("export", "Export snapshots to JSONL or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := capturePath(fs, args)

	if err := commands.RunExport(path, *format, *output, *opts); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs, opts := newFlagSet("filter", "Filter snapshots and write to new file")
	output := fs.String("o", "", "Output file (required)")
	path := capturePath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file required (-o)")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *output, *opts)
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d snapshots to %s\n", n, *output)
}

func runStats(args []string) {
	fs, opts := newFlagSet("stats", "Show statistics about the capture file")
	path := capturePath(fs, args)

	if err := commands.RunStats(path, *opts, os.Stdout); err != nil {
		fail(err)
	}
}
