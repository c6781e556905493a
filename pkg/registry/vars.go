package registry

import (
	"regexp"
)

// Substitution variables a hook command template may reference as ${NAME}.
// Bare $NAME references are left to the shell.
const (
	VarPluginRoot         = "CLAUDE_PLUGIN_ROOT"
	VarHookgatePluginRoot = "HOOKGATE_PLUGIN_ROOT"
	VarProjectDir         = "CLAUDE_PROJECT_DIR"
	VarHookEvent          = "HOOK_EVENT"
	VarToolName           = "TOOL_NAME"
	VarSessionID          = "SESSION_ID"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// KnownVariables lists the variables the dispatcher can supply
func KnownVariables() []string {
	return []string{VarPluginRoot, VarHookgatePluginRoot, VarProjectDir, VarHookEvent, VarToolName, VarSessionID}
}

func isKnownVariable(name string) bool {
	for _, v := range KnownVariables() {
		if v == name {
			return true
		}
	}
	return false
}

// Variables returns the ${NAME} references in a command template, in order
// of appearance.
func Variables(command string) []string {
	var names []string
	for _, m := range variablePattern.FindAllStringSubmatch(command, -1) {
		names = append(names, m[1])
	}
	return names
}

// Expand substitutes ${NAME} references with values. References without a
// value are left as written.
func Expand(command string, values map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(command, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return ref
	})
}
