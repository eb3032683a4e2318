package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
	"github.com/vip2p-protocol/vip2p-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Commands          map[string]int
	Connections       map[string]*ConnectionStats
	Identities        int
	DuplicateTurns    int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}

	// initLatency aggregates client-side INIT round trips.
	initLatency struct {
		count int
		total time.Duration
		max   time.Duration
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Role      log.Role
	Identity  string
	Reason    string
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Commands:          make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

// add folds one event into the statistics.
func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Role:      event.LocalRole,
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}

	switch {
	case event.Message != nil:
		msg := event.Message
		s.Commands[msg.Command]++
		if msg.Identity != "" && conn.Identity == "" {
			conn.Identity = msg.Identity
			s.Identities++
		}
		if msg.Command == string(wire.CmdDisconn) && msg.Reason != "" {
			conn.Reason = msg.Reason
		}
		if msg.Latency != nil && msg.Identity != "" {
			s.initLatency.count++
			s.initLatency.total += *msg.Latency
			if *msg.Latency > s.initLatency.max {
				s.initLatency.max = *msg.Latency
			}
		}
	case event.ControlMsg != nil:
		s.Commands[event.ControlMsg.Type.String()]++
		if event.ControlMsg.Duplicate {
			s.DuplicateTurns++
		}
	case event.Error != nil:
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	err = eachEvent(reader, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== VIP2P Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerNode} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Commands) > 0 {
		fmt.Fprintln(w, "Commands:")
		for _, cmd := range []wire.Command{wire.CmdSend, wire.CmdInit, wire.CmdOK, wire.CmdDisconn} {
			if count := stats.Commands[string(cmd)]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", string(cmd)+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Identities Assigned: %d\n", stats.Identities)
	if stats.initLatency.count > 0 {
		avg := stats.initLatency.total / time.Duration(stats.initLatency.count)
		fmt.Fprintf(w, "INIT Latency: avg %s, max %s\n", formatDuration(avg), formatDuration(stats.initLatency.max))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s, %d events, duration %s\n",
				shortenID(c.id), c.stats.Role, c.stats.Events, duration)
			if c.stats.Identity != "" {
				fmt.Fprintf(w, "           Identity: %s\n", c.stats.Identity)
			}
			if c.stats.Reason != "" {
				fmt.Fprintf(w, "           Disconnect: %s\n", c.stats.Reason)
			}
		}
	}

	if stats.DuplicateTurns > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Duplicate Turns: %d\n", stats.DuplicateTurns)
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
