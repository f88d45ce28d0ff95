// Package ndjson encodes and decodes the newline-delimited JSON wire format
// used to persist a session's command/event stream for resume and audit.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ndls21/orchcore/internal/contract"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB).
const MaxMessageSize = 256 * 1024

type commandEnvelope struct {
	Type contract.MessageKind `json:"type"`
	contract.Command
}

type eventEnvelope struct {
	Type contract.MessageKind `json:"type"`
	contract.Event
}

// Encoder writes NDJSON messages to an output stream.
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder.
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// EncodeCommand writes cmd as a single JSON line tagged type=command.
func (e *Encoder) EncodeCommand(cmd contract.Command) error {
	return e.encode(commandEnvelope{Type: contract.MessageKindCommand, Command: cmd})
}

// EncodeEvent writes evt as a single JSON line tagged type=event.
func (e *Encoder) EncodeEvent(evt contract.Event) error {
	return e.encode(eventEnvelope{Type: contract.MessageKindEvent, Event: evt})
}

func (e *Encoder) encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal message: %w", err)
	}

	if len(data) > MaxMessageSize {
		e.logger.Error("ndjson: message exceeds size limit",
			"size", len(data),
			"limit", MaxMessageSize,
			"overflow", len(data)-MaxMessageSize)
		return fmt.Errorf("ndjson: message size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("ndjson: write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("ndjson: write newline: %w", err)
	}
	// Flush immediately: the ledger must reflect every append for resume to
	// see it, even if the process is killed right after.
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("ndjson: flush: %w", err)
	}
	return nil
}

// OpenFileEncoder opens (creating if needed) dir/<name>.ndjson for append and
// wraps it in an Encoder, for persisting one session's command/event stream.
func OpenFileEncoder(dir, name string, logger *slog.Logger) (*Encoder, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ndjson: create persist directory: %w", err)
	}
	path := filepath.Join(dir, name+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("ndjson: open %s: %w", path, err)
	}
	return NewEncoder(f, logger), nil
}

// Decoder reads NDJSON messages from an input stream.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a new NDJSON decoder.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxMessageSize)
	scanner.Buffer(buf, MaxMessageSize)

	return &Decoder{scanner: scanner, logger: logger}
}

// DecodeEnvelope reads the next line and routes it to *contract.Command or
// *contract.Event based on its "type" field.
func (d *Decoder) DecodeEnvelope() (any, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return nil, fmt.Errorf("ndjson: scanner error at line %d: %w", d.lineNum, err)
		}
		return nil, io.EOF
	}
	d.lineNum++
	data := d.scanner.Bytes()

	if len(data) == 0 {
		return d.DecodeEnvelope()
	}

	var peek struct {
		Type contract.MessageKind `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("ndjson: line %d: parse envelope: %w", d.lineNum, err)
	}

	switch peek.Type {
	case contract.MessageKindCommand:
		var env commandEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("ndjson: line %d: decode command: %w", d.lineNum, err)
		}
		return &env.Command, nil

	case contract.MessageKindEvent:
		var env eventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("ndjson: line %d: decode event: %w", d.lineNum, err)
		}
		return &env.Event, nil

	default:
		d.logger.Warn("ndjson: unknown message type", "line", d.lineNum, "type", peek.Type)
		return nil, fmt.Errorf("ndjson: line %d: unknown message type: %s", d.lineNum, peek.Type)
	}
}
