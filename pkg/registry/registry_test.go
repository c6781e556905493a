package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockerConfig = `{
  "hooks": {
    "PreToolUse": [
      {
        "matcher": "tool == \"Bash\"",
        "description": "block git writes",
        "hooks": [
          {"type": "command", "command": "${CLAUDE_PLUGIN_ROOT}/hooks/block-git.sh", "timeout": 10}
        ]
      }
    ]
  }
}`

func mustParse(t *testing.T, source, data string, opts ...ParseOption) *RuleSet {
	t.Helper()
	set, err := Parse(source, []byte(data), opts...)
	require.NoError(t, err)
	return set
}

func singleConfigError(t *testing.T, err error) *ConfigError {
	t.Helper()
	require.Error(t, err)
	errs := ConfigErrors(err)
	require.Len(t, errs, 1, err.Error())
	return errs[0]
}

func TestParse_JSONForms(t *testing.T) {
	unwrapped := `{
  "PostToolUse": [{"matcher": "Write|Edit", "hooks": [{"type": "command", "command": "gofmt -l ."}]}],
  "SessionStart": [{"hooks": [{"type": "command", "command": "echo start", "async": true}]}]
}`

	tests := []struct {
		name      string
		data      string
		wantRules int
	}{
		{"wrapped in hooks key", blockerConfig, 1},
		{"top-level event map", unwrapped, 2},
		{"empty hooks", `{"hooks": {}}`, 0},
		{"null rule list", `{"Stop": null}`, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set := mustParse(t, "hooks.json", tc.data)
			assert.Len(t, set.Rules, tc.wantRules)
		})
	}
}

func TestParse_RuleFields(t *testing.T) {
	set := mustParse(t, "plugin/hooks.json", blockerConfig, WithPluginRoot("/opt/plugin"))
	require.Len(t, set.Rules, 1)

	rule := set.Rules[0]
	assert.Equal(t, hooks.PreToolUse, rule.Event)
	assert.Equal(t, `tool == "Bash"`, rule.Matcher)
	assert.Equal(t, "block git writes", rule.Description)
	assert.Equal(t, "plugin/hooks.json", rule.Source)
	assert.Equal(t, "/opt/plugin", rule.PluginRoot)
	assert.Equal(t, "plugin/hooks.json:PreToolUse[0]", rule.Name())
	require.Len(t, rule.Hooks, 1)
	assert.Equal(t, hooks.HookCommand{
		Command: "${CLAUDE_PLUGIN_ROOT}/hooks/block-git.sh",
		Timeout: 10 * time.Second,
	}, rule.Hooks[0])
}

func TestParse_FractionalTimeout(t *testing.T) {
	set := mustParse(t, "hooks.json", `{"Stop": [{"hooks": [{"type": "command", "command": "true", "timeout": 0.5}]}]}`)
	assert.Equal(t, 500*time.Millisecond, set.Rules[0].Hooks[0].Timeout)
}

func TestParse_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantLine int
		wantCol  int
		wantMsg  string
	}{
		{
			name:     "trailing comma",
			data:     `{"hooks": {"Stop": [],}}`,
			wantLine: 1,
			wantCol:  23,
			wantMsg:  "invalid character '}'",
		},
		{
			name:     "trailing comma on later line",
			data:     "{\n  \"Stop\": [\n    {\"hooks\": []},\n  ]\n}",
			wantLine: 4,
			wantCol:  3,
			wantMsg:  "invalid character ']'",
		},
		{
			name:     "mismatched bracket",
			data:     `{"Stop": [}`,
			wantLine: 1,
			wantCol:  11,
			wantMsg:  "invalid character '}'",
		},
		{
			name:     "unterminated document",
			data:     `{"Stop": [`,
			wantLine: 1,
			wantMsg:  "unexpected end of JSON input",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("hooks.json", []byte(tc.data))
			cerr := singleConfigError(t, err)
			assert.Equal(t, "hooks.json", cerr.Source)
			assert.Equal(t, tc.wantLine, cerr.Line)
			if tc.wantCol > 0 {
				assert.Equal(t, tc.wantCol, cerr.Col)
			}
			assert.Contains(t, cerr.Msg, tc.wantMsg)
		})
	}
}

func TestParse_NotAnObject(t *testing.T) {
	_, err := Parse("hooks.json", []byte(`[1, 2]`))
	cerr := singleConfigError(t, err)
	assert.Contains(t, cerr.Msg, "must be a JSON object")
}

func TestParse_DuplicateKeys(t *testing.T) {
	t.Run("top level", func(t *testing.T) {
		_, err := Parse("hooks.json", []byte(`{"hooks": {"Stop": [], "Stop": []}}`))
		cerr := singleConfigError(t, err)
		assert.Equal(t, "/hooks/Stop", cerr.Pointer)
		assert.Equal(t, 1, cerr.Line)
		assert.Equal(t, 24, cerr.Col)
		assert.Contains(t, cerr.Msg, `duplicate key "Stop"`)
	})

	t.Run("nested", func(t *testing.T) {
		data := "{\n  \"Stop\": [\n    {\"hooks\": [], \"hooks\": []}\n  ]\n}"
		_, err := Parse("hooks.json", []byte(data))
		cerr := singleConfigError(t, err)
		assert.Equal(t, "/Stop/0/hooks", cerr.Pointer)
		assert.Equal(t, 3, cerr.Line)
	})
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantPointer string
		wantMsg     string
	}{
		{
			name:        "bad matcher",
			data:        `{"PreToolUse": [{"matcher": "tool ==", "hooks": [{"type": "command", "command": "true"}]}]}`,
			wantPointer: "/PreToolUse/0/matcher",
			wantMsg:     "expected quoted string",
		},
		{
			name:        "unknown event",
			data:        `{"BeforeEverything": [{"hooks": [{"type": "command", "command": "true"}]}]}`,
			wantPointer: "/BeforeEverything",
			wantMsg:     `unknown event type "BeforeEverything"`,
		},
		{
			name:        "missing type",
			data:        `{"Stop": [{"hooks": [{"command": "true"}]}]}`,
			wantPointer: "/Stop/0/hooks/0/type",
			wantMsg:     "missing hook type",
		},
		{
			name:        "unsupported type",
			data:        `{"Stop": [{"hooks": [{"type": "prompt", "command": "true"}]}]}`,
			wantPointer: "/Stop/0/hooks/0/type",
			wantMsg:     `unsupported hook type "prompt"`,
		},
		{
			name:        "empty command",
			data:        `{"Stop": [{"hooks": [{"type": "command", "command": "  "}]}]}`,
			wantPointer: "/Stop/0/hooks/0/command",
			wantMsg:     "hook command is empty",
		},
		{
			name:        "unrecognized variable",
			data:        `{"Stop": [{"hooks": [{"type": "command", "command": "${HOME}/stop.sh"}]}]}`,
			wantPointer: "/Stop/0/hooks/0/command",
			wantMsg:     "unrecognized variable ${HOME}",
		},
		{
			name:        "zero timeout",
			data:        `{"Stop": [{"hooks": [{"type": "command", "command": "true", "timeout": 0}]}]}`,
			wantPointer: "/Stop/0/hooks/0/timeout",
			wantMsg:     "timeout must be greater than 0",
		},
		{
			name:        "timeout too large",
			data:        `{"Stop": [{"hooks": [{"type": "command", "command": "true", "timeout": 601}]}]}`,
			wantPointer: "/Stop/0/hooks/0/timeout",
			wantMsg:     "at most 600 seconds",
		},
		{
			name:        "rule without hooks",
			data:        `{"Stop": [{"matcher": "*", "hooks": []}]}`,
			wantPointer: "/Stop/0/hooks",
			wantMsg:     "rule has no hooks",
		},
		{
			name:        "wrong value type",
			data:        `{"Stop": [{"hooks": [{"type": "command", "command": "true", "timeout": "30"}]}]}`,
			wantMsg:     "cannot use JSON string as float64",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("hooks.json", []byte(tc.data))
			cerr := singleConfigError(t, err)
			if tc.wantPointer != "" {
				assert.Equal(t, tc.wantPointer, cerr.Pointer)
			}
			assert.Contains(t, cerr.Msg, tc.wantMsg)
			assert.Equal(t, 1, cerr.Line)
		})
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	data := `{
  "hooks": {
    "PreToolUse": [
      {
        "matcher": "tool == ",
        "hooks": [{"type": "command", "command": "echo"}]
      }
    ]
  }
}`
	_, err := Parse("hooks.json", []byte(data))
	cerr := singleConfigError(t, err)
	assert.Equal(t, "/hooks/PreToolUse/0/matcher", cerr.Pointer)
	assert.Equal(t, 5, cerr.Line)
	assert.Equal(t, 20, cerr.Col)
	assert.Contains(t, cerr.Error(), "hooks.json:5:20 at /hooks/PreToolUse/0/matcher")
}

func TestParse_CollectsAllProblems(t *testing.T) {
	data := `{
  "PreToolUse": [{"matcher": "(", "hooks": [{"type": "shell", "command": ""}]}],
  "Stop": [{"hooks": [{"type": "command", "command": "true", "timeout": -1}]}]
}`
	_, err := Parse("hooks.json", []byte(data))
	require.Error(t, err)

	errs := ConfigErrors(err)
	require.Len(t, errs, 4)
	pointers := make([]string, len(errs))
	for i, e := range errs {
		pointers[i] = e.Pointer
	}
	assert.Equal(t, []string{
		"/PreToolUse/0/matcher",
		"/PreToolUse/0/hooks/0/type",
		"/PreToolUse/0/hooks/0/command",
		"/Stop/0/hooks/0/timeout",
	}, pointers)
	assert.Contains(t, err.Error(), "4 configuration errors")
}

func TestParse_YAML(t *testing.T) {
	data := `hooks:
  PreToolUse:
    - matcher: Bash
      hooks:
        - type: command
          command: ./check.sh
          timeout: 5
  SessionEnd:
    - hooks:
        - type: command
          command: ./bye.sh
          async: true
`
	set := mustParse(t, "hooks.yaml", data)
	require.Len(t, set.Rules, 2)
	assert.Equal(t, hooks.PreToolUse, set.Rules[0].Event)
	assert.Equal(t, 5*time.Second, set.Rules[0].Hooks[0].Timeout)
	assert.Equal(t, hooks.SessionEnd, set.Rules[1].Event)
	assert.True(t, set.Rules[1].Hooks[0].Async)
}

func TestParse_YAMLErrors(t *testing.T) {
	t.Run("duplicate key", func(t *testing.T) {
		data := "PreToolUse:\n  - matcher: Bash\n    hooks: []\nPreToolUse: []\n"
		_, err := Parse("hooks.yml", []byte(data))
		cerr := singleConfigError(t, err)
		assert.Equal(t, "/PreToolUse", cerr.Pointer)
		assert.Equal(t, 4, cerr.Line)
		assert.Equal(t, 1, cerr.Col)
	})

	t.Run("validation error carries position", func(t *testing.T) {
		data := "Stop:\n  - hooks:\n      - type: command\n        command: \"\"\n"
		_, err := Parse("hooks.yaml", []byte(data))
		cerr := singleConfigError(t, err)
		assert.Equal(t, "/Stop/0/hooks/0/command", cerr.Pointer)
		assert.Equal(t, 4, cerr.Line)
	})

	t.Run("not a mapping", func(t *testing.T) {
		_, err := Parse("hooks.yaml", []byte("- a\n- b\n"))
		cerr := singleConfigError(t, err)
		assert.Contains(t, cerr.Msg, "must be a mapping")
	})
}

func TestParse_MarkdownFrontMatter(t *testing.T) {
	data := `---
description: stop notifications
hooks:
  Stop:
    - matcher: "*"
      hooks:
        - type: command
          command: notify-send done
          timeout: 10
---

# Stop hooks

Sends a desktop notification when the agent stops.
`
	set := mustParse(t, "HOOKS.md", data)
	require.Len(t, set.Rules, 1)
	assert.Equal(t, hooks.Stop, set.Rules[0].Event)
	assert.Equal(t, "notify-send done", set.Rules[0].Hooks[0].Command)
	assert.Equal(t, 10*time.Second, set.Rules[0].Hooks[0].Timeout)

	_, err := Parse("HOOKS.md", []byte("# no front matter\n"))
	cerr := singleConfigError(t, err)
	assert.Contains(t, cerr.Msg, "no front matter")
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat("hooks.json"))
	assert.Equal(t, FormatJSON, DetectFormat("merged"))
	assert.Equal(t, FormatYAML, DetectFormat("hooks.YAML"))
	assert.Equal(t, FormatYAML, DetectFormat("a/b.yml"))
	assert.Equal(t, FormatMarkdown, DetectFormat("HOOKS.md"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.json")
	require.NoError(t, os.WriteFile(path, []byte(blockerConfig), 0o644))

	set, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, set.PluginRoot)
	assert.Equal(t, path, set.Rules[0].Source)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestMerge_PriorityOrder(t *testing.T) {
	primary := mustParse(t, "primary.json", `{"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "first"}]}]}`)
	secondary := mustParse(t, "secondary.json", `{"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "second"}]}]}`)

	reg, err := Merge(primary, secondary)
	require.NoError(t, err)

	rules := reg.Rules(hooks.PreToolUse)
	require.Len(t, rules, 2)
	assert.Equal(t, "first", rules[0].Hooks[0].Command)
	assert.Equal(t, "second", rules[1].Hooks[0].Command)
	assert.Equal(t, []string{"primary.json", "secondary.json"}, reg.Sources())
}

func TestMerge_Duplicates(t *testing.T) {
	rule := `{"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "${CLAUDE_PLUGIN_ROOT}/block.sh"}]}]}`
	nearDuplicate := `{"PreToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "${CLAUDE_PLUGIN_ROOT}/block.sh", "timeout": 5}]}]}`

	tests := []struct {
		name           string
		sets           []*RuleSet
		wantRules      int
		wantDuplicates int
	}{
		{
			name: "exact duplicate dropped",
			sets: []*RuleSet{
				mustParse(t, "a.json", rule, WithPluginRoot("/plugins/a")),
				mustParse(t, "b.json", rule, WithPluginRoot("/plugins/a")),
			},
			wantRules:      1,
			wantDuplicates: 1,
		},
		{
			name: "same template from different plugins kept",
			sets: []*RuleSet{
				mustParse(t, "a.json", rule, WithPluginRoot("/plugins/a")),
				mustParse(t, "b.json", rule, WithPluginRoot("/plugins/b")),
			},
			wantRules: 2,
		},
		{
			name: "near duplicate kept",
			sets: []*RuleSet{
				mustParse(t, "a.json", rule, WithPluginRoot("/plugins/a")),
				mustParse(t, "b.json", nearDuplicate, WithPluginRoot("/plugins/a")),
			},
			wantRules: 2,
		},
		{
			name: "different event kept",
			sets: []*RuleSet{
				mustParse(t, "a.json", rule),
				mustParse(t, "b.json", `{"PostToolUse": [{"matcher": "Bash", "hooks": [{"type": "command", "command": "${CLAUDE_PLUGIN_ROOT}/block.sh"}]}]}`),
			},
			wantRules: 2,
		},
		{
			name:      "nil sets ignored",
			sets:      []*RuleSet{nil, mustParse(t, "a.json", rule)},
			wantRules: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := Merge(tc.sets...)
			require.NoError(t, err)
			assert.Equal(t, tc.wantRules, reg.Len())
			assert.Len(t, reg.Duplicates(), tc.wantDuplicates)
		})
	}
}

func TestMerge_TwoBlockerSourcesKeepBothRules(t *testing.T) {
	first := mustParse(t, "plugin-a/hooks/hooks.json", blockerConfig, WithPluginRoot("/plugins/a"))
	second := mustParse(t, "plugin-b/hooks/hooks.json", blockerConfig, WithPluginRoot("/plugins/b"))

	reg, err := Merge(first, second)
	require.NoError(t, err)

	rules := reg.Rules(hooks.PreToolUse)
	require.Len(t, rules, 2)
	assert.Equal(t, "/plugins/a", rules[0].PluginRoot)
	assert.Equal(t, "/plugins/b", rules[1].PluginRoot)
}

func TestRegistry_RulesReturnsCopy(t *testing.T) {
	reg, err := Merge(mustParse(t, "hooks.json", blockerConfig))
	require.NoError(t, err)

	rules := reg.Rules(hooks.PreToolUse)
	rules[0] = nil
	assert.NotNil(t, reg.Rules(hooks.PreToolUse)[0])
	assert.Empty(t, reg.Rules(hooks.Stop))
}

func TestRegistry_DocumentRoundTrip(t *testing.T) {
	reg, err := Merge(mustParse(t, "hooks.json", blockerConfig, WithPluginRoot("/opt/plugin")))
	require.NoError(t, err)

	data, err := reg.Document().JSON()
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Hooks["PreToolUse"], 1)
	spec := doc.Hooks["PreToolUse"][0]
	assert.Equal(t, `tool == "Bash"`, spec.Matcher)
	assert.Equal(t, "/opt/plugin/hooks/block-git.sh", spec.Hooks[0].Command)
	require.NotNil(t, spec.Hooks[0].Timeout)
	assert.Equal(t, 10.0, *spec.Hooks[0].Timeout)

	reparsed := mustParse(t, "roundtrip.json", string(data))
	again, err := Merge(reparsed)
	require.NoError(t, err)
	assert.Equal(t, reg.Len(), again.Len())

	yamlData, err := reg.Document().YAML()
	require.NoError(t, err)
	fromYAML := mustParse(t, "roundtrip.yaml", string(yamlData))
	assert.Len(t, fromYAML.Rules, 1)
}

func TestSchema(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema)

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hooks"`)
	assert.Contains(t, string(data), `"command"`)
	assert.Contains(t, string(data), `"maximum":600`)
}

func TestVariables(t *testing.T) {
	cmd := `node "${CLAUDE_PLUGIN_ROOT}/check.js" --tool ${TOOL_NAME} $HOME`
	assert.Equal(t, []string{"CLAUDE_PLUGIN_ROOT", "TOOL_NAME"}, Variables(cmd))

	expanded := Expand(cmd, map[string]string{"CLAUDE_PLUGIN_ROOT": "/p"})
	assert.Equal(t, `node "/p/check.js" --tool ${TOOL_NAME} $HOME`, expanded)
}
