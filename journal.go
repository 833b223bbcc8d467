package reliable

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepEventType defines the events that can occur for a saga step.
type StepEventType int

const (
	EventStarted StepEventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

func (t StepEventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseStepEventType is the inverse of StepEventType.String.
func ParseStepEventType(s string) (StepEventType, error) {
	for t := EventStarted; t <= EventUndoFailed; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid step event type %q", s)
}

func (t StepEventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *StepEventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseStepEventType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// StepEvent is one entry in a journal.
type StepEvent struct {
	Step int           `json:"step"`
	Name string        `json:"name"`
	Type StepEventType `json:"type"`
	At   time.Time     `json:"at"`
}

func (e StepEvent) String() string {
	return fmt.Sprintf("S%03d %-14s %s", e.Step, e.Type, e.Name)
}

// StepStatus is the derived status of a step after replaying its events.
type StepStatus int

const (
	StatusNeverStarted StepStatus = iota
	StatusStarted
	StatusSucceeded
	StatusFailed
	StatusUndoStarted
	StatusUndoFinished
	StatusUndoFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusNeverStarted:
		return "NeverStarted"
	case StatusStarted:
		return "Started"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusUndoStarted:
		return "UndoStarted"
	case StatusUndoFinished:
		return "UndoFinished"
	case StatusUndoFailed:
		return "UndoFailed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// next returns the status after applying eventType, or an error when the
// transition is illegal.
func (s StepStatus) next(eventType StepEventType) (StepStatus, error) {
	switch s {
	case StatusNeverStarted:
		if eventType == EventStarted {
			return StatusStarted, nil
		}
	case StatusStarted:
		switch eventType {
		case EventSucceeded:
			return StatusSucceeded, nil
		case EventFailed:
			return StatusFailed, nil
		}
	case StatusSucceeded:
		if eventType == EventUndoStarted {
			return StatusUndoStarted, nil
		}
	case StatusUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return StatusUndoFinished, nil
		case EventUndoFailed:
			return StatusUndoFailed, nil
		}
	}
	return s, fmt.Errorf("illegal event %s for step in status %s", eventType, s)
}

// Journal is the event log of one saga execution.
type Journal struct {
	mu        sync.Mutex
	sagaID    string
	unwinding bool
	events    []StepEvent
	status    map[int]StepStatus
	now       func() time.Time
}

// NewJournal creates an empty journal.
func NewJournal(sagaID string) *Journal {
	return &Journal{
		sagaID: sagaID,
		status: make(map[int]StepStatus),
		now:    time.Now,
	}
}

// RecoverJournal rebuilds a journal by replaying events in order.
func RecoverJournal(sagaID string, events []StepEvent) (*Journal, error) {
	j := NewJournal(sagaID)
	for _, e := range events {
		if err := j.apply(e); err != nil {
			return nil, fmt.Errorf("recovering journal %s: %w", sagaID, err)
		}
	}
	return j, nil
}

// SagaID returns the execution the journal belongs to.
func (j *Journal) SagaID() string { return j.sagaID }

// Record appends an event for step, rejecting illegal transitions.
func (j *Journal) Record(step int, name string, eventType StepEventType) error {
	return j.apply(StepEvent{Step: step, Name: name, Type: eventType, At: j.now()})
}

func (j *Journal) apply(e StepEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	next, err := j.status[e.Step].next(e.Type)
	if err != nil {
		return fmt.Errorf("step %d: %w", e.Step, err)
	}
	switch next {
	case StatusFailed, StatusUndoStarted, StatusUndoFinished, StatusUndoFailed:
		j.unwinding = true
	}
	j.status[e.Step] = next
	j.events = append(j.events, e)
	return nil
}

// Unwinding reports whether any step failed or was compensated.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unwinding
}

// Status returns the current status of step.
func (j *Journal) Status(step int) StepStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status[step]
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []StepEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]StepEvent, len(j.events))
	copy(out, j.events)
	return out
}

// String renders the journal for humans.
func (j *Journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA JOURNAL:\n")
	fmt.Fprintf(&sb, "saga id:   %s\n", j.sagaID)
	direction := "forward"
	if j.unwinding {
		direction = "unwinding"
	}
	fmt.Fprintf(&sb, "direction: %s\n", direction)
	fmt.Fprintf(&sb, "events (%d total):\n\n", len(j.events))
	for i, e := range j.events {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, e)
	}

	steps := make([]int, 0, len(j.status))
	for step := range j.status {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	sb.WriteString("\nfinal status:\n")
	for _, step := range steps {
		fmt.Fprintf(&sb, "S%03d %s\n", step, j.status[step])
	}
	return sb.String()
}
