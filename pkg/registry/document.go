package registry

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// HookTypeCommand is the only supported hook type
const HookTypeCommand = "command"

// Document is the on-disk configuration document. The same shape is accepted
// with or without the enclosing "hooks" key.
type Document struct {
	Description string                `json:"description,omitempty" yaml:"description,omitempty" jsonschema:"description=Free-form description of the configuration"`
	Hooks       map[string][]RuleSpec `json:"hooks" yaml:"hooks" jsonschema:"description=Rules keyed by event type name (PreToolUse\\, PostToolUse\\, SessionStart\\, SessionEnd\\, PreCompact\\, Stop\\, UserPromptSubmit\\, SubagentStop\\, Notification)"`
}

// RuleSpec is one rule as written in a configuration document
type RuleSpec struct {
	Matcher     string     `json:"matcher,omitempty" yaml:"matcher,omitempty" jsonschema:"description=Matcher expression or tool name pattern; empty or * matches every event"`
	Hooks       []HookSpec `json:"hooks" yaml:"hooks" jsonschema:"minItems=1"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// HookSpec is one hook command as written in a configuration document
type HookSpec struct {
	Type    string   `json:"type" yaml:"type" jsonschema:"enum=command"`
	Command string   `json:"command" yaml:"command" jsonschema:"minLength=1,description=Command template; may reference ${CLAUDE_PLUGIN_ROOT}\\, ${CLAUDE_PROJECT_DIR}\\, ${HOOK_EVENT}\\, ${TOOL_NAME} and ${SESSION_ID}"`
	Async   bool     `json:"async,omitempty" yaml:"async,omitempty" jsonschema:"description=Run without waiting; the result never affects the decision"`
	Timeout *float64 `json:"timeout,omitempty" yaml:"timeout,omitempty" jsonschema:"exclusiveMinimum=0,maximum=600,description=Timeout in seconds"`
}

// Schema returns the JSON schema of the configuration document
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Document{})
}

// JSON renders the document as indented JSON
func (d Document) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal configuration document")
	}
	return append(data, '\n'), nil
}

// YAML renders the document as YAML
func (d Document) YAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal configuration document")
	}
	return data, nil
}
