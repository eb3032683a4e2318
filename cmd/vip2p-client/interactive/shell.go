// Package interactive provides the interactive command-line interface
// for vip2p-client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/vip2p-protocol/vip2p-go/pkg/client"
	"github.com/vip2p-protocol/vip2p-go/pkg/discovery"
	"github.com/vip2p-protocol/vip2p-go/pkg/node"
)

// Connector is the client surface the shell drives.
type Connector interface {
	Connect(ctx context.Context, address string) (*client.Handle, error)
	Disconnect(ctx context.Context, h *client.Handle, reason string) error
}

// Shell handles interactive mode for vip2p-client. Each connect opens a new
// node; nodes are numbered in the order they were opened.
type Shell struct {
	client  Connector
	browser discovery.Browser
	out     io.Writer
	rl      *readline.Instance

	// defaultAddr is used by connect when no address is given.
	defaultAddr string

	mu      sync.Mutex
	handles map[int]*client.Handle
	nextID  int
}

// New creates a shell. browser may be nil, which disables the browse command.
func New(c Connector, browser discovery.Browser, defaultAddr string) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vip2p> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(c, browser, defaultAddr, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(c Connector, browser discovery.Browser, defaultAddr string, out io.Writer) *Shell {
	return &Shell{
		client:      c,
		browser:     browser,
		out:         out,
		defaultAddr: defaultAddr,
		handles:     make(map[int]*client.Handle),
		nextID:      1,
	}
}

// Stdout returns a writer that coordinates with the readline prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop. Open nodes are disconnected when
// the loop ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.disconnectAll(context.Background(), "client exiting")

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if quit := s.Execute(ctx, line); quit {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "connect", "c":
		s.cmdConnect(ctx, args)

	case "disconnect", "d":
		s.cmdDisconnect(ctx, args)

	case "close":
		s.cmdClose(args)

	case "status", "s", "list", "ls":
		s.cmdStatus()

	case "browse", "b":
		s.cmdBrowse(ctx)

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
VIP2P Client Commands:
  Nodes:
    connect [addr]             - Open a node and run INIT
    disconnect <n|all> [reason] - Run DISCONN for node n (or every node)
    close <n>                  - Drop node n without DISCONN
    status                     - List open nodes

  Discovery:
    browse                     - Find servers via mDNS

  General:
    help                       - Show this help
    quit                       - Disconnect all nodes and exit`)
}

// cmdConnect handles the connect command.
// Usage:
//   - connect          - Connect to the default address
//   - connect <addr>   - Connect to host:port
func (s *Shell) cmdConnect(ctx context.Context, args []string) {
	addr := s.defaultAddr
	if len(args) > 0 {
		addr = args[0]
	}
	if addr == "" {
		fmt.Fprintln(s.out, "Usage: connect <host:port>")
		return
	}

	start := time.Now()
	h, err := s.client.Connect(ctx, addr)
	if err != nil {
		fmt.Fprintf(s.out, "Connect failed: %v\n", err)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handles[id] = h
	s.mu.Unlock()

	fmt.Fprintf(s.out, "[%d] connected to %s\n", id, addr)
	fmt.Fprintf(s.out, "    identity: %s (%s)\n", h.Identity, time.Since(start).Round(time.Microsecond))
}

// cmdDisconnect handles the disconnect command.
// Usage:
//   - disconnect <n> [reason...]
//   - disconnect all [reason...]
func (s *Shell) cmdDisconnect(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: disconnect <n|all> [reason]")
		return
	}
	reason := "user request"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}

	if args[0] == "all" {
		n := s.disconnectAll(ctx, reason)
		fmt.Fprintf(s.out, "Disconnected %d node(s)\n", n)
		return
	}

	id, h, ok := s.take(args[0])
	if !ok {
		return
	}
	if err := s.client.Disconnect(ctx, h, reason); err != nil {
		fmt.Fprintf(s.out, "[%d] disconnect failed: %v\n", id, err)
		return
	}
	fmt.Fprintf(s.out, "[%d] disconnected (%s)\n", id, h.Identity)
}

func (s *Shell) cmdClose(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: close <n>")
		return
	}
	id, h, ok := s.take(args[0])
	if !ok {
		return
	}
	_ = h.Close()
	fmt.Fprintf(s.out, "[%d] closed\n", id)
}

func (s *Shell) cmdStatus() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	handles := make(map[int]*client.Handle, len(s.handles))
	for id, h := range s.handles {
		handles[id] = h
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		fmt.Fprintln(s.out, "No open nodes")
		return
	}
	sort.Ints(ids)

	fmt.Fprintf(s.out, "\nOpen Nodes (%d):\n", len(ids))
	fmt.Fprintln(s.out, "-------------------------------------------")
	for _, id := range ids {
		h := handles[id]
		state := h.State()
		fmt.Fprintf(s.out, "  [%d] %s\n", id, h.Identity)
		fmt.Fprintf(s.out, "      Server: %s\n", h.Address())
		if state == node.StateClosed && h.Err() != nil {
			fmt.Fprintf(s.out, "      State:  %s (%v)\n", state, h.Err())
		} else {
			fmt.Fprintf(s.out, "      State:  %s\n", state)
		}
	}
}

func (s *Shell) cmdBrowse(ctx context.Context) {
	if s.browser == nil {
		fmt.Fprintln(s.out, "Discovery not available")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
	defer cancel()

	results, err := s.browser.Browse(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Browse failed: %v\n", err)
		return
	}

	fmt.Fprintf(s.out, "Browsing for %s (%s)...\n", discovery.ServiceType, discovery.BrowseTimeout)
	found := 0
	for svc := range results {
		found++
		fmt.Fprintf(s.out, "  %s  %s  v%s", svc.InstanceName, svc.Address(), svc.Version)
		if svc.Name != "" {
			fmt.Fprintf(s.out, "  %q", svc.Name)
		}
		if svc.MaxConnections > 0 {
			fmt.Fprintf(s.out, "  max=%d", svc.MaxConnections)
		}
		fmt.Fprintln(s.out)
	}
	if found == 0 {
		fmt.Fprintln(s.out, "No servers found")
	}
}

// take removes and returns the handle numbered arg.
func (s *Shell) take(arg string) (int, *client.Handle, bool) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid node number: %s\n", arg)
		return 0, nil, false
	}

	s.mu.Lock()
	h, ok := s.handles[id]
	delete(s.handles, id)
	s.mu.Unlock()

	if !ok {
		fmt.Fprintf(s.out, "No node [%d]\n", id)
		return 0, nil, false
	}
	return id, h, true
}

// disconnectAll runs DISCONN on every open node and returns how many
// completed cleanly.
func (s *Shell) disconnectAll(ctx context.Context, reason string) int {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[int]*client.Handle)
	s.mu.Unlock()

	ok := 0
	for id, h := range handles {
		if err := s.client.Disconnect(ctx, h, reason); err != nil {
			fmt.Fprintf(s.out, "[%d] disconnect failed: %v\n", id, err)
			continue
		}
		ok++
	}
	return ok
}

// Len returns the number of open nodes.
func (s *Shell) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
