package reliable

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalTransitions(t *testing.T) {
	tests := []struct {
		name    string
		events  []StepEventType
		want    StepStatus
		wantErr bool
	}{
		{"started", []StepEventType{EventStarted}, StatusStarted, false},
		{"succeeded", []StepEventType{EventStarted, EventSucceeded}, StatusSucceeded, false},
		{"failed", []StepEventType{EventStarted, EventFailed}, StatusFailed, false},
		{"undone", []StepEventType{EventStarted, EventSucceeded, EventUndoStarted, EventUndoFinished}, StatusUndoFinished, false},
		{"undo failed", []StepEventType{EventStarted, EventSucceeded, EventUndoStarted, EventUndoFailed}, StatusUndoFailed, false},
		{"success before start", []StepEventType{EventSucceeded}, StatusNeverStarted, true},
		{"undo a failed step", []StepEventType{EventStarted, EventFailed, EventUndoStarted}, StatusFailed, true},
		{"double start", []StepEventType{EventStarted, EventStarted}, StatusStarted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewJournal("s")
			var err error
			for _, e := range tt.events {
				if err = j.Record(1, "step", e); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, j.Status(1))
		})
	}
}

func TestJournalRejectedEventIsNotStored(t *testing.T) {
	j := NewJournal("s")
	require.Error(t, j.Record(1, "step", EventUndoStarted))
	assert.Empty(t, j.Events())
	assert.False(t, j.Unwinding())
}

func TestJournalUnwinding(t *testing.T) {
	j := NewJournal("s")
	require.NoError(t, j.Record(1, "a", EventStarted))
	require.NoError(t, j.Record(1, "a", EventSucceeded))
	assert.False(t, j.Unwinding())

	require.NoError(t, j.Record(2, "b", EventStarted))
	require.NoError(t, j.Record(2, "b", EventFailed))
	assert.True(t, j.Unwinding())
}

func TestRecoverJournal(t *testing.T) {
	j := NewJournal("trip-9")
	require.NoError(t, j.Record(1, "flight", EventStarted))
	require.NoError(t, j.Record(1, "flight", EventSucceeded))
	require.NoError(t, j.Record(2, "hotel", EventStarted))
	require.NoError(t, j.Record(2, "hotel", EventFailed))
	require.NoError(t, j.Record(1, "flight", EventUndoStarted))

	recovered, err := RecoverJournal("trip-9", j.Events())
	require.NoError(t, err)
	assert.Equal(t, "trip-9", recovered.SagaID())
	assert.Equal(t, StatusUndoStarted, recovered.Status(1))
	assert.Equal(t, StatusFailed, recovered.Status(2))
	assert.True(t, recovered.Unwinding())
	assert.Equal(t, j.Events(), recovered.Events())

	_, err = RecoverJournal("bad", []StepEvent{{Step: 1, Type: EventUndoFinished}})
	assert.ErrorContains(t, err, "recovering journal bad")
}

func TestJournalString(t *testing.T) {
	j := NewJournal("trip-1")
	require.NoError(t, j.Record(1, "flight", EventStarted))
	require.NoError(t, j.Record(1, "flight", EventFailed))

	out := j.String()
	assert.Contains(t, out, "saga id:   trip-1")
	assert.Contains(t, out, "direction: unwinding")
	assert.Contains(t, out, "events (2 total)")
	assert.Contains(t, out, "S001 Failed")
}

func TestStepEventTypeJSON(t *testing.T) {
	data, err := json.Marshal(StepEvent{Step: 3, Name: "charge", Type: EventUndoFailed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"undo_failed"`)

	var e StepEvent
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, EventUndoFailed, e.Type)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"exploded"}`), &e))

	_, err = ParseStepEventType("started")
	assert.NoError(t, err)
	assert.Equal(t, "unknown(42)", StepEventType(42).String())
}
