package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandStatusShouldProcess(t *testing.T) {
	tests := []struct {
		status CommandStatus
		want   bool
	}{
		{CommandReceived, true},
		{CommandEnqueued, true},
		{CommandFailed, true},
		{CommandProcessing, false},
		{CommandSucceeded, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.ShouldProcess())
		})
	}
}

func TestCommandStatusTransitions(t *testing.T) {
	assert.True(t, CommandReceived.CanTransitionTo(CommandProcessing))
	assert.True(t, CommandEnqueued.CanTransitionTo(CommandProcessing))
	assert.True(t, CommandProcessing.CanTransitionTo(CommandSucceeded))
	assert.True(t, CommandProcessing.CanTransitionTo(CommandFailed))
	assert.True(t, CommandFailed.CanTransitionTo(CommandProcessing))

	assert.False(t, CommandSucceeded.CanTransitionTo(CommandProcessing))
	assert.False(t, CommandReceived.CanTransitionTo(CommandSucceeded))
}

func TestParseCommandStatus(t *testing.T) {
	s, err := ParseCommandStatus(" enqueued ")
	require.NoError(t, err)
	assert.Equal(t, CommandEnqueued, s)

	_, err = ParseCommandStatus("pending")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestNormalizeIdempotencyKey(t *testing.T) {
	key, err := NormalizeIdempotencyKey("  abc-1 \n")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", key)

	_, err = NormalizeIdempotencyKey("   ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCommandResultStructuredRoundTrip(t *testing.T) {
	result := StructuredResult(map[string]any{"occurrenceId": "o-1", "status": "reported"})

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"structured","data":{"occurrenceId":"o-1","status":"reported"}}`, string(raw))

	var decoded CommandResult
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ResultStructured, decoded.Kind())
	assert.Equal(t, "reported", decoded.Fields()["status"])
}

func TestCommandResultOpaqueKeepsScalar(t *testing.T) {
	result, err := OpaqueResult("done")
	require.NoError(t, err)

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded CommandResult
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ResultOpaque, decoded.Kind())
	assert.Nil(t, decoded.Fields())
	assert.Equal(t, json.RawMessage(`"done"`), decoded.Value())
}

func TestCommandResultZeroIsNull(t *testing.T) {
	raw, err := json.Marshal(CommandResult{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	var decoded CommandResult
	require.NoError(t, json.Unmarshal([]byte("null"), &decoded))
	assert.True(t, decoded.IsZero())
}

func TestCommandJobFallsBackToColumnCommandID(t *testing.T) {
	job := CommandJob{CommandID: "cmd-1", PayloadJSON: json.RawMessage(`{"idempotencyKey":"k","type":"start_occurrence","scopeKey":"o-1","payload":{}}`)}
	cmd, err := job.Command()
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", cmd.CommandID)
	assert.Equal(t, "start_occurrence", cmd.Type)
}
