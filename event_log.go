package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EventType names an auditable pipeline event.
type EventType string

const (
	EventStateTransition   EventType = "state_transition"
	EventToolCall          EventType = "tool_call"
	EventError             EventType = "error"
	EventSessionCreated    EventType = "session_created"
	EventValidationRan     EventType = "validation_ran"
	EventConversionStarted EventType = "conversion_started"
	EventCheckpointSaved   EventType = "checkpoint_saved"
	EventErrorClassified   EventType = "error_classified"
	EventErrorFixAttempted EventType = "error_fix_attempted"
	EventSessionCompleted  EventType = "session_completed"
	EventSessionFailed     EventType = "session_failed"
)

var knownEventTypes = map[EventType]bool{
	EventStateTransition:   true,
	EventToolCall:          true,
	EventError:             true,
	EventSessionCreated:    true,
	EventValidationRan:     true,
	EventConversionStarted: true,
	EventCheckpointSaved:   true,
	EventErrorClassified:   true,
	EventErrorFixAttempted: true,
	EventSessionCompleted:  true,
	EventSessionFailed:     true,
}

// maxEventResultLength caps tool results recorded in the event log.
const maxEventResultLength = 200

// Event is a single audit record. Fields carries event-specific data and is
// flattened into the JSON object alongside the fixed fields.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"event_type"`
	Fields    map[string]any `json:"-"`
}

// EventLog records pipeline events.
type EventLog interface {
	// LogEvent appends one event. Unknown event types are rejected.
	LogEvent(ctx context.Context, event *Event) error

	// GetEventHistory retrieves the recorded events for a session.
	GetEventHistory(ctx context.Context, sessionID string) ([]*Event, error)
}

// NewEvent builds an event with the current timestamp.
func NewEvent(sessionID string, eventType EventType, fields map[string]any) *Event {
	return &Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Type:      eventType,
		Fields:    fields,
	}
}

// ToolCallEvent records a tool invocation. Only the parameter types are
// logged, never the values, and the result is truncated.
func ToolCallEvent(sessionID, tool string, params map[string]any, result string) *Event {
	argTypes := make(map[string]string, len(params))
	for name, value := range params {
		argTypes[name] = fmt.Sprintf("%T", value)
	}
	if len(result) > maxEventResultLength {
		result = result[:maxEventResultLength]
	}
	return NewEvent(sessionID, EventToolCall, map[string]any{
		"tool":      tool,
		"arg_types": argTypes,
		"result":    result,
	})
}

// TransitionEvent records a stage transition.
func TransitionEvent(sessionID string, from, to Stage) *Event {
	return NewEvent(sessionID, EventStateTransition, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func (e *Event) marshal() ([]byte, error) {
	record := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		record[k] = v
	}
	record["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	record["session_id"] = e.SessionID
	record["event_type"] = string(e.Type)
	return json.Marshal(record)
}

func unmarshalEvent(line []byte) (*Event, error) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, err
	}
	event := &Event{Fields: record}
	if raw, ok := record["timestamp"].(string); ok {
		event.Timestamp, _ = time.Parse(time.RFC3339Nano, raw)
		delete(record, "timestamp")
	}
	if raw, ok := record["session_id"].(string); ok {
		event.SessionID = raw
		delete(record, "session_id")
	}
	if raw, ok := record["event_type"].(string); ok {
		event.Type = EventType(raw)
		delete(record, "event_type")
	}
	return event, nil
}

// FileEventLog appends events to one newline-delimited JSON file per session.
type FileEventLog struct {
	directory string
}

func NewFileEventLog(directory string) *FileEventLog {
	return &FileEventLog{directory: directory}
}

func (l *FileEventLog) sessionLogPath(sessionID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", sessionID))
}

func (l *FileEventLog) LogEvent(ctx context.Context, event *Event) error {
	if !knownEventTypes[event.Type] {
		return fmt.Errorf("unknown event type %q", event.Type)
	}
	data, err := event.marshal()
	if err != nil {
		return err
	}
	filePath := l.sessionLogPath(event.SessionID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileEventLog) GetEventHistory(ctx context.Context, sessionID string) ([]*Event, error) {
	data, err := os.ReadFile(l.sessionLogPath(sessionID))
	if err != nil {
		return nil, err
	}
	var events []*Event
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		event, err := unmarshalEvent([]byte(line))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// NullEventLog is a no-op implementation of EventLog.
type NullEventLog struct{}

func NewNullEventLog() *NullEventLog {
	return &NullEventLog{}
}

func (l *NullEventLog) LogEvent(ctx context.Context, event *Event) error {
	return nil
}

func (l *NullEventLog) GetEventHistory(ctx context.Context, sessionID string) ([]*Event, error) {
	return nil, nil
}
