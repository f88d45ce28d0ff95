package eventlog

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/ndjson"
)

// Replay reads a previously-persisted NDJSON stream and replays its events
// into a freshly constructed, unsubscribed Log — used to resume a session
// from its on-disk ledger. Commands in the stream are returned separately so
// a caller can decide which still lack a terminal event (ledger.GetPendingCommands).
func Replay(r io.Reader, logger *slog.Logger) (log *Log, commands []contract.Command, err error) {
	dec := ndjson.NewDecoder(r, logger)
	log = NewLog(logger, nil)

	for {
		msg, decErr := dec.DecodeEnvelope()
		if decErr == io.EOF {
			break
		}
		if decErr != nil {
			return nil, nil, fmt.Errorf("eventlog: replay: %w", decErr)
		}

		switch m := msg.(type) {
		case *contract.Command:
			commands = append(commands, *m)
		case *contract.Event:
			log.events = append(log.events, *m)
		}
	}

	return log, commands, nil
}
