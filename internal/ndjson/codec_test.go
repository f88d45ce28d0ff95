package ndjson

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, discardLogger())

	cmd := contract.Command{
		ID:          "cmd-1",
		Correlation: contract.Correlation{SessionID: "s1"},
		Kind:        contract.CommandCreateBranch,
		IssuedAt:    time.Unix(0, 0).UTC(),
		Branch:      "feature/x",
	}
	evt := contract.Event{
		ID:          "evt-1",
		Correlation: contract.Correlation{SessionID: "s1", CommandID: "cmd-1"},
		Kind:        contract.EventCommandAccepted,
		OccurredAt:  time.Unix(0, 0).UTC(),
	}

	require.NoError(t, enc.EncodeCommand(cmd))
	require.NoError(t, enc.EncodeEvent(evt))

	dec := NewDecoder(&buf, discardLogger())

	msg1, err := dec.DecodeEnvelope()
	require.NoError(t, err)
	gotCmd, ok := msg1.(*contract.Command)
	require.True(t, ok)
	assert.Equal(t, cmd.ID, gotCmd.ID)
	assert.Equal(t, cmd.Kind, gotCmd.Kind)
	assert.Equal(t, cmd.Branch, gotCmd.Branch)

	msg2, err := dec.DecodeEnvelope()
	require.NoError(t, err)
	gotEvt, ok := msg2.(*contract.Event)
	require.True(t, ok)
	assert.Equal(t, evt.ID, gotEvt.ID)
	assert.Equal(t, evt.Kind, gotEvt.Kind)

	_, err = dec.DecodeEnvelope()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, discardLogger())

	big := make([]byte, MaxMessageSize)
	for i := range big {
		big[i] = 'a'
	}
	cmd := contract.Command{
		ID:   "cmd-1",
		Kind: contract.CommandComment,
		Payload: map[string]any{
			"body": string(big),
		},
	}

	err := enc.EncodeCommand(cmd)
	assert.Error(t, err)
}
