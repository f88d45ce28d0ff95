package ledger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/ndjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLedgerFile(t *testing.T, path string, commands []contract.Command, events []contract.Event) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := ndjson.NewEncoder(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, c := range commands {
		require.NoError(t, enc.EncodeCommand(c))
	}
	for _, e := range events {
		require.NoError(t, enc.EncodeEvent(e))
	}
}

func TestReadLedgerSeparatesCommandsAndEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")
	writeLedgerFile(t, path,
		[]contract.Command{{ID: "cmd-1", Kind: contract.CommandCreateBranch}},
		[]contract.Event{{ID: "evt-1", Kind: contract.EventCommandAccepted, Correlation: contract.Correlation{CommandID: "cmd-1"}}},
	)

	l, err := ReadLedger(path)
	require.NoError(t, err)
	assert.Len(t, l.Commands, 1)
	assert.Len(t, l.Events, 1)
}

func TestGetTerminalEventsAndPendingCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")
	writeLedgerFile(t, path,
		[]contract.Command{
			{ID: "cmd-1", Kind: contract.CommandCreateBranch},
			{ID: "cmd-2", Kind: contract.CommandPush},
		},
		[]contract.Event{
			{ID: "evt-1", Kind: contract.EventCommandAccepted, Correlation: contract.Correlation{CommandID: "cmd-1"}},
			{ID: "evt-2", Kind: contract.EventCommandCompleted, Correlation: contract.Correlation{CommandID: "cmd-1"}, Outcome: contract.OutcomeSuccess},
		},
	)

	l, err := ReadLedger(path)
	require.NoError(t, err)

	assert.True(t, l.HasTerminalEvent("cmd-1"))
	assert.False(t, l.HasTerminalEvent("cmd-2"))

	pending := l.GetPendingCommands()
	require.Len(t, pending, 1)
	assert.Equal(t, contract.CommandID("cmd-2"), pending[0].ID)
}

func TestReadLedgerMissingFile(t *testing.T) {
	_, err := ReadLedger(filepath.Join(t.TempDir(), "missing.ndjson"))
	assert.Error(t, err)
}
