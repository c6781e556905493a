package hooks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("PreToolUse"), PreToolUse)
	assert.Equal(t, EventType("PostToolUse"), PostToolUse)
	assert.Equal(t, EventType("SessionStart"), SessionStart)
	assert.Equal(t, EventType("SessionEnd"), SessionEnd)
	assert.Equal(t, EventType("PreCompact"), PreCompact)
	assert.Equal(t, EventType("Stop"), Stop)
}

func TestEventType_Valid(t *testing.T) {
	for _, e := range AllEventTypes() {
		assert.True(t, e.Valid(), e)
	}
	assert.False(t, EventType("pretooluse").Valid())
	assert.False(t, EventType("").Valid())
}

func TestEventType_Gates(t *testing.T) {
	assert.True(t, PreToolUse.Gates())
	assert.True(t, UserPromptSubmit.Gates())
	assert.True(t, Stop.Gates())
	assert.False(t, PostToolUse.Gates())
	assert.False(t, SessionStart.Gates())
	assert.False(t, SessionEnd.Gates())
}

func TestHookCommand_EffectiveTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, HookCommand{Timeout: 5 * time.Second}.EffectiveTimeout(time.Minute))
	assert.Equal(t, time.Minute, HookCommand{}.EffectiveTimeout(time.Minute))
	assert.Equal(t, DefaultTimeout, HookCommand{}.EffectiveTimeout(0))
}

func TestParseEvent(t *testing.T) {
	t.Run("claude style payload", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{
			"hook_event_name": "PreToolUse",
			"session_id": "abc",
			"cwd": "/repo",
			"tool_name": "Bash",
			"tool_input": {"command": "git status"}
		}`), "")
		require.NoError(t, err)
		assert.Equal(t, PreToolUse, evt.Type)
		assert.Equal(t, "abc", evt.SessionID)
		assert.Equal(t, "Bash", evt.Tool)
		assert.JSONEq(t, `{"command": "git status"}`, string(evt.ToolInput))
		assert.Nil(t, evt.ToolOutput)
	})

	t.Run("fallback event type", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{"tool_name": "Write"}`), PostToolUse)
		require.NoError(t, err)
		assert.Equal(t, PostToolUse, evt.Type)
	})

	t.Run("unknown event type", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"hook_event_name": "Bogus"}`), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Bogus")
	})

	t.Run("tool response object is flattened", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{"hook_event_name":"PostToolUse","tool_response":{"ok":true}}`), "")
		require.NoError(t, err)
		out, ok := evt.Output()
		require.True(t, ok)
		assert.JSONEq(t, `{"ok":true}`, out)
	})

	t.Run("tool output string", func(t *testing.T) {
		evt, err := ParseEvent([]byte(`{"hook_event_name":"PostToolUse","tool_output":"done"}`), "")
		require.NoError(t, err)
		out, ok := evt.Output()
		require.True(t, ok)
		assert.Equal(t, "done", out)
	})

	t.Run("tool input must be an object", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"hook_event_name":"PreToolUse","tool_input":"ls"}`), "")
		require.Error(t, err)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"hook_event_name":`), "")
		require.Error(t, err)
	})
}

func TestEvent_PayloadIsDeterministic(t *testing.T) {
	evt := Event{
		Type:      PreToolUse,
		Tool:      "Bash",
		ToolInput: json.RawMessage(`{"command":"npm test"}`),
	}

	first, err := evt.Payload()
	require.NoError(t, err)
	second, err := evt.Payload()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.JSONEq(t, `{"hook_event_name":"PreToolUse","tool_name":"Bash","tool_input":{"command":"npm test"}}`, string(first))

	roundTrip, err := ParseEvent(first, "")
	require.NoError(t, err)
	again, err := roundTrip.Payload()
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestDecision(t *testing.T) {
	allow := Allow([]byte(`{}`))
	assert.True(t, allow.Allowed())
	assert.Equal(t, "allow", allow.String())

	block := Block("commit is not allowed")
	assert.False(t, block.Allowed())
	assert.Equal(t, "block: commit is not allowed", block.String())

	var nilDecision *Decision
	assert.False(t, nilDecision.Allowed())
}
