package hooks

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Event is a single tool invocation or lifecycle event emitted by the host
// runtime. It is constructed once per dispatch and never mutated.
type Event struct {
	Type       EventType       `json:"hook_event_name"`
	SessionID  string          `json:"session_id,omitempty"`
	CWD        string          `json:"cwd,omitempty"`
	Tool       string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput *string         `json:"tool_output,omitempty"`
}

// wireEvent accepts the field spellings used by different host runtimes
type wireEvent struct {
	Type         EventType       `json:"hook_event_name"`
	Event        EventType       `json:"event"`
	SessionID    string          `json:"session_id"`
	CWD          string          `json:"cwd"`
	Tool         string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolOutput   json.RawMessage `json:"tool_output"`
	ToolResponse json.RawMessage `json:"tool_response"`
}

// ParseEvent decodes an event document as written by the host runtime.
// fallback is used when the document does not name its event type.
func ParseEvent(data []byte, fallback EventType) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, errors.Wrap(err, "failed to decode event")
	}

	evt := Event{
		Type:      w.Type,
		SessionID: w.SessionID,
		CWD:       w.CWD,
		Tool:      w.Tool,
	}
	if evt.Type == "" {
		evt.Type = w.Event
	}
	if evt.Type == "" {
		evt.Type = fallback
	}
	if !evt.Type.Valid() {
		return Event{}, errors.Errorf("unknown event type %q", evt.Type)
	}

	if input := bytes.TrimSpace(w.ToolInput); len(input) > 0 && !bytes.Equal(input, []byte("null")) {
		if input[0] != '{' {
			return Event{}, errors.New("tool_input must be a JSON object")
		}
		evt.ToolInput = append(json.RawMessage(nil), input...)
	}

	output := w.ToolOutput
	if len(bytes.TrimSpace(output)) == 0 {
		output = w.ToolResponse
	}
	if out, ok := decodeOutput(output); ok {
		evt.ToolOutput = &out
	}

	return evt, nil
}

// decodeOutput flattens a tool output that may be a JSON string or an
// arbitrary JSON value into a string.
func decodeOutput(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// Payload serializes the event into the document written to a hook's
// standard input. The serialization is deterministic.
func (e Event) Payload() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event payload")
	}
	return data, nil
}

// Output returns the tool output and whether one was provided
func (e Event) Output() (string, bool) {
	if e.ToolOutput == nil {
		return "", false
	}
	return *e.ToolOutput, true
}
