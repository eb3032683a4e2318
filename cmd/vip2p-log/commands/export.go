package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vip2p-protocol/vip2p-go/pkg/log"
)

// csvHeader names the columns written by the csv format.
var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"role", "node_id", "type", "identity", "reason",
}

// exporter writes one event at a time in some output format.
type exporter interface {
	write(event log.Event) error
	flush() error
}

type jsonlExporter struct {
	enc *json.Encoder
}

func (e *jsonlExporter) write(event log.Event) error {
	if err := e.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

func (e *jsonlExporter) flush() error { return nil }

type csvExporter struct {
	w *csv.Writer
}

func newCSVExporter(w io.Writer) (*csvExporter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return &csvExporter{w: cw}, nil
}

func (e *csvExporter) write(event log.Event) error {
	if err := e.w.Write(csvRow(event)); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

func (e *csvExporter) flush() error {
	e.w.Flush()
	return e.w.Error()
}

// csvRow flattens an event into the csvHeader columns.
func csvRow(event log.Event) []string {
	var identity, reason string
	switch {
	case event.Message != nil:
		identity = event.Message.Identity
		reason = event.Message.Reason
	case event.StateChange != nil:
		reason = event.StateChange.Reason
	case event.Error != nil:
		reason = event.Error.Message
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.LocalRole.String(),
		event.NodeID,
		eventLabel(event),
		identity,
		reason,
	}
}

// RunExport writes every event in path to output (stdout when empty) as
// jsonl or csv.
func RunExport(path, format, output string) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	var exp exporter = &jsonlExporter{enc: json.NewEncoder(w)}
	if format == "csv" {
		if exp, err = newCSVExporter(w); err != nil {
			return err
		}
	}

	if err := eachEvent(reader, exp.write); err != nil {
		return err
	}
	return exp.flush()
}
