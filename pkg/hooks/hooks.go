// Package hooks defines the types shared by the hookgate policy engine: the
// lifecycle events emitted by the host agent runtime, the hook commands bound
// to them, the raw result of running a hook and the aggregate decision handed
// back to the host.
package hooks

import (
	"time"
)

// EventType represents the lifecycle event a rule set is scoped to
type EventType string

// Event type constants define the host runtime occurrences that can be hooked
const (
	PreToolUse       EventType = "PreToolUse"
	PostToolUse      EventType = "PostToolUse"
	SessionStart     EventType = "SessionStart"
	SessionEnd       EventType = "SessionEnd"
	PreCompact       EventType = "PreCompact"
	Stop             EventType = "Stop"
	UserPromptSubmit EventType = "UserPromptSubmit"
	SubagentStop     EventType = "SubagentStop"
	Notification     EventType = "Notification"
)

// AllEventTypes returns every known event type in canonical order.
func AllEventTypes() []EventType {
	return []EventType{
		PreToolUse, PostToolUse,
		SessionStart, SessionEnd,
		PreCompact, Stop,
		UserPromptSubmit, SubagentStop, Notification,
	}
}

// Valid reports whether the event type is one hookgate knows how to dispatch
func (e EventType) Valid() bool {
	for _, known := range AllEventTypes() {
		if e == known {
			return true
		}
	}
	return false
}

// Gates reports whether the event fires before the operation it describes,
// i.e. whether a block can still prevent that operation. Hooks bound to a
// gating event are blocking-class; all other hooks are observational.
func (e EventType) Gates() bool {
	switch e {
	case PreToolUse, UserPromptSubmit, PreCompact, Stop:
		return true
	default:
		return false
	}
}

// HookCommand is a single external command bound to a policy rule
type HookCommand struct {
	// Command is the command template. It may reference substitution
	// variables such as ${CLAUDE_PLUGIN_ROOT}.
	Command string
	// Async hooks are fired without blocking the dispatch and their result
	// never affects the decision.
	Async bool
	// Timeout bounds the hook's run time. Zero means the dispatcher default.
	Timeout time.Duration
}

// DefaultTimeout is the default execution timeout for hooks
const DefaultTimeout = 30 * time.Second

// MaxTimeout is the largest per-hook timeout a configuration may request
const MaxTimeout = 600 * time.Second

// EffectiveTimeout returns the hook timeout, falling back to fallback and then
// to DefaultTimeout.
func (h HookCommand) EffectiveTimeout(fallback time.Duration) time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// HookResult is the raw outcome of running one hook process.
// ExitCode 0 means allow, with Stdout optionally carrying a transformed
// payload; any other value means block.
type HookResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Succeeded reports whether the hook allowed the operation
func (r HookResult) Succeeded() bool {
	return r.ExitCode == 0
}
