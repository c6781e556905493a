package matcher

import (
	"encoding/json"
	"testing"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bashEvent(command string) hooks.Event {
	input, _ := json.Marshal(map[string]string{"command": command})
	return hooks.Event{Type: hooks.PreToolUse, Tool: "Bash", ToolInput: input}
}

func TestParse_Forms(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantType Expr
	}{
		{"empty", "", Always{}},
		{"star", "*", Always{}},
		{"whitespace", "   ", Always{}},
		{"legacy single tool", "Bash", &ToolPattern{}},
		{"legacy alternation", "Write|Edit", &ToolPattern{}},
		{"legacy regex", "mcp__.*", &ToolPattern{}},
		{"equality", `tool == "Bash"`, &Compare{}},
		{"conjunction", `tool == "Bash" && toolInput.command matches "git"`, And{}},
		{"disjunction", `tool == "Write" || tool == "Edit"`, Or{}},
		{"negation", `!(tool == "Bash")`, Not{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.src)
			require.NoError(t, err)
			assert.IsType(t, tc.wantType, expr)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantPos int
	}{
		{"missing value", `tool ==`, 7},
		{"unterminated string", `tool == "Bash`, 8},
		{"bad operator", `tool = "Bash"`, 5},
		{"unbalanced paren", `(tool == "Bash"`, 15},
		{"trailing operator", `tool == "Bash" &&`, 17},
		{"invalid regex", `toolInput.command matches "("`, 26},
		{"value must be quoted", `tool == Bash`, 8},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			require.Error(t, err)

			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr)
			assert.Equal(t, tc.wantPos, syntaxErr.Pos)
			assert.Equal(t, tc.src, syntaxErr.Source)
		})
	}
}

func TestEvaluate_ToolTerms(t *testing.T) {
	writeEvent := hooks.Event{Type: hooks.PreToolUse, Tool: "Write", ToolInput: json.RawMessage(`{"file_path":"notes.md"}`)}

	tests := []struct {
		name    string
		matcher string
		event   hooks.Event
		want    bool
	}{
		{"equal tool", `tool == "Bash"`, bashEvent("ls"), true},
		{"equal tool mismatch", `tool == "Bash"`, writeEvent, false},
		{"not equal", `tool != "Bash"`, writeEvent, true},
		{"legacy exact", "Bash", bashEvent("ls"), true},
		{"legacy is anchored", "Bas", bashEvent("ls"), false},
		{"legacy alternation", "Write|Edit", writeEvent, true},
		{"legacy alternation miss", "Write|Edit", bashEvent("ls"), false},
		{"glob", `tool glob "mcp__*"`, hooks.Event{Tool: "mcp__github__create_issue"}, true},
		{"glob miss", `tool glob "mcp__*"`, writeEvent, false},
		{"event field", `event == "PreToolUse"`, writeEvent, true},
		{"snake case alias", `tool_name == "Write"`, writeEvent, true},
		{"wildcard", "*", writeEvent, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.matcher)
			require.NoError(t, err)
			assert.Equal(t, tc.want, Evaluate(expr, tc.event))
		})
	}
}

func TestEvaluate_CommandTokenBoundaries(t *testing.T) {
	expr := MustParse(`toolInput.command matches "git commit"`)

	tests := []struct {
		command string
		want    bool
	}{
		{"git commit -m fix", true},
		{"cd repo && git commit", true},
		{"make;git commit", true},
		{"(git commit)", true},
		{"cat not-git-committed.txt", false},
		{"git committed", false},
		{"legit commit", false},
		{"git status", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.command, func(t *testing.T) {
			assert.Equal(t, tc.want, expr.Eval(bashEvent(tc.command)))
		})
	}
}

func TestEvaluate_UnknownFieldsAreFalse(t *testing.T) {
	evt := hooks.Event{Type: hooks.PreToolUse, Tool: "Write", ToolInput: json.RawMessage(`{"file_path":"notes.md"}`)}

	tests := []struct {
		name    string
		matcher string
		want    bool
	}{
		{"missing tool input field", `toolInput.command matches "git"`, false},
		{"missing field with not equal", `toolInput.command != "git"`, false},
		{"negated missing field", `!(toolInput.command == "git")`, true},
		{"unknown top-level field", `agentName == "reviewer"`, false},
		{"unknown field in disjunction", `agentName == "x" || tool == "Write"`, true},
		{"missing tool output", `toolOutput matches "error"`, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.matcher)
			require.NoError(t, err)
			assert.Equal(t, tc.want, expr.Eval(evt))
		})
	}

	noInput := hooks.Event{Type: hooks.SessionStart}
	assert.False(t, MustParse(`toolInput.file_path == "x"`).Eval(noInput))
}

func TestEvaluate_ToolInputPaths(t *testing.T) {
	evt := hooks.Event{
		Type:      hooks.PreToolUse,
		Tool:      "MultiEdit",
		ToolInput: json.RawMessage(`{"file_path":"src/main.go","edits":[{"old_string":"a"}],"replace_all":true}`),
	}

	assert.True(t, MustParse(`toolInput.file_path glob "src/*.go"`).Eval(evt))
	assert.True(t, MustParse(`toolInput.edits.0.old_string == "a"`).Eval(evt))
	assert.True(t, MustParse(`toolInput.replace_all == "true"`).Eval(evt))
	assert.True(t, MustParse(`toolInput.file_path matches ".*\.go"`).Eval(evt))
	assert.False(t, MustParse(`toolInput.file_path matches "\.go"`).Eval(evt))
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	evt := bashEvent("git push")

	expr := MustParse(`tool == "Bash" && (toolInput.command matches "git push" || toolInput.command matches "git commit")`)
	assert.True(t, expr.Eval(evt))

	expr = MustParse(`tool == "Write" && toolInput.command matches "git push"`)
	assert.False(t, expr.Eval(evt))

	expr = MustParse(`!(tool == "Bash") || toolInput.command matches "git push"`)
	assert.True(t, expr.Eval(evt))
}

func TestEvaluate_Pure(t *testing.T) {
	expr := MustParse(`tool == "Bash" && toolInput.command matches "git (commit|push)"`)
	evt := bashEvent("git commit -m fix")
	before, err := evt.Payload()
	require.NoError(t, err)

	for range 3 {
		assert.True(t, Evaluate(expr, evt))
	}

	after, err := evt.Payload()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEvaluate_NilExpression(t *testing.T) {
	assert.True(t, Evaluate(nil, hooks.Event{}))
}

func TestString(t *testing.T) {
	expr := MustParse(`tool == "Bash" && !(toolInput.command matches 'a"b')`)
	assert.Equal(t, `(tool == "Bash" && !toolInput.command matches "a\"b")`, expr.String())
	assert.Equal(t, "Write|Edit", MustParse("Write|Edit").String())
}

func TestLexString_Escapes(t *testing.T) {
	expr := MustParse(`toolInput.command == "say \"hi\" \\ ok"`)
	cmp, ok := expr.(*Compare)
	require.True(t, ok)
	assert.Equal(t, `say "hi" \ ok`, cmp.Value)
}
