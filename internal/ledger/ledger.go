// Package ledger parses a session's persisted NDJSON event stream back into
// its Commands and Events, for resume and audit tooling.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/ndjson"
)

// Ledger is a parsed NDJSON log: every command and event in file order.
type Ledger struct {
	Commands []*contract.Command
	Events   []*contract.Event
}

// ReadLedger reads and parses an NDJSON ledger file.
func ReadLedger(path string) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	defer file.Close()

	l := &Ledger{
		Commands: make([]*contract.Command, 0),
		Events:   make([]*contract.Event, 0),
	}

	scanner := bufio.NewScanner(file)
	buf := make([]byte, ndjson.MaxMessageSize)
	scanner.Buffer(buf, ndjson.MaxMessageSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var envelope struct {
			Type contract.MessageKind `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			return nil, fmt.Errorf("ledger: line %d: parse envelope: %w", lineNum, err)
		}

		switch envelope.Type {
		case contract.MessageKindCommand:
			var cmd contract.Command
			if err := json.Unmarshal(line, &cmd); err != nil {
				return nil, fmt.Errorf("ledger: line %d: parse command: %w", lineNum, err)
			}
			l.Commands = append(l.Commands, &cmd)

		case contract.MessageKindEvent:
			var evt contract.Event
			if err := json.Unmarshal(line, &evt); err != nil {
				return nil, fmt.Errorf("ledger: line %d: parse event: %w", lineNum, err)
			}
			l.Events = append(l.Events, &evt)

		default:
			return nil, fmt.Errorf("ledger: line %d: unknown message type: %s", lineNum, envelope.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}
	return l, nil
}

// GetTerminalEvents returns a map of commandId → its terminal event
// (command-completed, command-rejected, or throttled — the last one observed
// wins, matching the invariant that each commandId has at most one).
func (l *Ledger) GetTerminalEvents() map[contract.CommandID]*contract.Event {
	terminals := make(map[contract.CommandID]*contract.Event)
	for _, evt := range l.Events {
		if evt.IsTerminal() && evt.Correlation.CommandID != "" {
			terminals[evt.Correlation.CommandID] = evt
		}
	}
	return terminals
}

// HasTerminalEvent reports whether commandID has a terminal event recorded.
func (l *Ledger) HasTerminalEvent(commandID contract.CommandID) bool {
	_, exists := l.GetTerminalEvents()[commandID]
	return exists
}

// GetPendingCommands returns commands with no terminal event yet — the set a
// resume operation must re-evaluate.
func (l *Ledger) GetPendingCommands() []*contract.Command {
	terminals := l.GetTerminalEvents()
	pending := make([]*contract.Command, 0)
	for _, cmd := range l.Commands {
		if _, done := terminals[cmd.ID]; !done {
			pending = append(pending, cmd)
		}
	}
	return pending
}
