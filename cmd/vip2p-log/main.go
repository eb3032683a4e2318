// Command vip2p-log views and analyzes VIP2P protocol capture files.
//
// Capture files are written by vip2p-server and vip2p-client when started
// with -protocol-log.
//
// Usage:
//
//	vip2p-log <command> [flags] <file.vlog>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events to JSONL or CSV
//	filter   Write matching events to a new capture file
//	stats    Summarize handshakes, identities and errors
//
// Examples:
//
//	# View the handshake of one node
//	vip2p-log view --node 6ba7b810-9dad-11d1-80b4-00c04fd430c8 server.vlog
//
//	# View only DISCONN frames
//	vip2p-log view --command disconn server.vlog
//
//	# Export to CSV
//	vip2p-log export --format csv -o server.csv server.vlog
//
//	# Keep only errors
//	vip2p-log filter --category error -o errors.vlog server.vlog
//
//	# Show statistics
//	vip2p-log stats client.vlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vip2p-protocol/vip2p-go/cmd/vip2p-log/commands"
)

const usage = `vip2p-log - VIP2P Protocol Log Analyzer

Usage:
  vip2p-log <command> [flags] <file.vlog>

Commands:
  view     View events in human-readable format
  export   Export events to JSONL or CSV
  filter   Write matching events to a new capture file
  stats    Summarize handshakes, identities and errors

Use "vip2p-log <command> -help" for more information about a command.
`

type command struct {
	summary string
	run     func(fs *flag.FlagSet, args []string) error
}

var commandTable = map[string]command{
	"view":   {"View events in human-readable format", runView},
	"export": {"Export events to JSONL or CSV", runExport},
	"filter": {"Write matching events to a new capture file", runFilter},
	"stats":  {"Summarize handshakes, identities and errors", runStats},
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	}

	cmd, ok := commandTable[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "vip2p-log %s - %s\n\nUsage:\n  vip2p-log %s [flags] <file.vlog>\n\nFlags:\n",
			name, cmd.summary, name)
		fs.PrintDefaults()
	}

	if err := cmd.run(fs, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logPath parses args and returns the single positional capture file.
func logPath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", fmt.Errorf("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(fs *flag.FlagSet, args []string) error {
	layer := fs.String("layer", "", "Filter by layer (transport, wire, node)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	cmdName := fs.String("command", "", "Filter by command (INIT, OK, DISCONN)")
	nodeID := fs.String("node", "", "Filter by node identity")

	path, err := logPath(fs, args)
	if err != nil {
		return err
	}

	filter := commands.ViewFilter{Command: *cmdName, NodeID: *nodeID}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	return commands.RunView(path, filter, os.Stdout)
}

func runExport(fs *flag.FlagSet, args []string) error {
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(fs *flag.FlagSet, args []string) error {
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.NodeID, "node", "", "Filter by node identity")
	fs.StringVar(&opts.Command, "command", "", "Filter by command (INIT, OK, DISCONN)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, node)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")

	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}

	count, err := commands.RunFilter(path, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
	return nil
}

func runStats(fs *flag.FlagSet, args []string) error {
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
