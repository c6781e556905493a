// Package guard contains built-in hooks that hookgate can run as hook
// processes itself, starting with a blocker for git operations that change
// repository state.
package guard

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/tidwall/gjson"
	"mvdan.cc/sh/v3/syntax"
)

// ExitBlock is the exit status a guard uses to block the operation
const ExitBlock = 2

// maxNesting bounds how deep sh -c strings are unwrapped
const maxNesting = 4

// ReadOnlyAlternatives are the git commands that stay available when a write
// is blocked
var ReadOnlyAlternatives = []string{
	"git status",
	"git diff",
	"git log",
	"git show",
	"git branch --show-current",
	"git rev-parse",
	"git merge-base",
}

// blockedOperations change repository state whatever their arguments
var blockedOperations = map[string]bool{
	"add":         true,
	"am":          true,
	"checkout":    true,
	"cherry-pick": true,
	"clean":       true,
	"commit":      true,
	"merge":       true,
	"mv":          true,
	"pull":        true,
	"push":        true,
	"rebase":      true,
	"reset":       true,
	"restore":     true,
	"revert":      true,
	"rm":          true,
	"switch":      true,
}

// Verdict is the result of checking one event
type Verdict struct {
	Blocked bool
	// Operation names the sub-operation that triggered the block, e.g.
	// "commit" or "branch -D"
	Operation string
	// Command is the git command line the operation was found in
	Command string
	Message string
}

// GitWriteBlocker blocks shell commands that run state-changing git
// sub-operations. Matching is done on parsed command words, so a blocked
// word appearing as a path or argument value does not trigger it.
type GitWriteBlocker struct {
	tools map[string]bool
}

// Option configures a GitWriteBlocker
type Option func(*GitWriteBlocker)

// WithTools sets the tool names whose commands are inspected
func WithTools(names ...string) Option {
	return func(b *GitWriteBlocker) {
		b.tools = make(map[string]bool, len(names))
		for _, n := range names {
			b.tools[n] = true
		}
	}
}

// NewGitWriteBlocker creates a blocker for the Bash tool
func NewGitWriteBlocker(opts ...Option) *GitWriteBlocker {
	b := &GitWriteBlocker{tools: map[string]bool{"Bash": true}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Check inspects the event's shell command
func (b *GitWriteBlocker) Check(evt hooks.Event) Verdict {
	if !b.tools[evt.Tool] {
		return Verdict{}
	}
	command := gjson.GetBytes(evt.ToolInput, "command").String()
	if strings.TrimSpace(command) == "" {
		return Verdict{}
	}
	return CheckCommand(command)
}

// Run is the hook process entry point. It reads the event from stdin, echoes
// it on stdout when allowed, and explains the block on stderr otherwise.
func (b *GitWriteBlocker) Run(stdin io.Reader, stdout, stderr io.Writer) int {
	data, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "git guard: failed to read hook payload: %v\n", err)
		return ExitBlock
	}

	evt, err := hooks.ParseEvent(data, hooks.PreToolUse)
	if err != nil {
		fmt.Fprintf(stderr, "git guard: invalid hook payload: %v\n", err)
		return ExitBlock
	}

	if v := b.Check(evt); v.Blocked {
		fmt.Fprintln(stderr, v.Message)
		return ExitBlock
	}

	_, _ = stdout.Write(bytes.TrimSpace(data))
	return 0
}

// CheckCommand inspects a shell command line for git write operations
func CheckCommand(command string) Verdict {
	var calls [][]string
	if !collectCalls(command, 0, &calls) {
		calls = scanTokens(command)
	}

	for _, argv := range calls {
		op, ok := gitWriteOperation(argv)
		if !ok {
			continue
		}
		line := strings.Join(argv, " ")
		return Verdict{
			Blocked:   true,
			Operation: op,
			Command:   line,
			Message:   blockMessage(op, line),
		}
	}
	return Verdict{}
}

func blockMessage(op, line string) string {
	return fmt.Sprintf(
		"Blocked: `git %s` changes repository state and is not allowed here.\nCommand: %s\nRead-only git commands remain available: %s.",
		op, line, strings.Join(ReadOnlyAlternatives, ", "))
}

// collectCalls appends the words of every simple command in command,
// including those nested in pipelines, lists, subshells, substitutions and
// sh -c strings. It reports false if command does not parse.
func collectCalls(command string, depth int, calls *[][]string) bool {
	file, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return false
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		argv := make([]string, 0, len(call.Args))
		for _, w := range call.Args {
			argv = append(argv, wordText(w))
		}
		argv = unwrap(argv)
		if len(argv) == 0 {
			return true
		}

		script, ok := shellScript(argv)
		if !ok {
			script, ok = evalScript(argv)
		}
		if ok && depth < maxNesting {
			if !collectCalls(script, depth+1, calls) {
				*calls = append(*calls, scanTokens(script)...)
			}
			return true
		}
		*calls = append(*calls, argv)
		return true
	})
	return true
}

// wordText returns the literal text of a word, dropping expansions
func wordText(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String()
}

// wrapper describes a program that runs the rest of its arguments as a
// command
type wrapper struct {
	// valueOptions consume the following word
	valueOptions map[string]bool
	// operands are the non-option words before the command, such as the
	// duration of timeout
	operands int
	// assignments allows NAME=value words before the command
	assignments bool
	// splitOptions carry a whole command line as their value (env -S)
	splitOptions map[string]bool
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var wrappers = map[string]wrapper{
	"builtin": {},
	"command": {},
	"nohup":   {},
	"setsid":  {},
	"exec":    {valueOptions: set("-a")},
	"time":    {valueOptions: set("-f", "--format", "-o", "--output")},
	"nice":    {valueOptions: set("-n", "--adjustment")},
	"doas":    {valueOptions: set("-u", "-C")},
	"stdbuf":  {valueOptions: set("-i", "-o", "-e", "--input", "--output", "--error")},
	"flock":   {valueOptions: set("-w", "--wait", "--timeout", "-E", "--conflict-exit-code", "-c", "--command"), operands: 1},
	"timeout": {valueOptions: set("-s", "--signal", "-k", "--kill-after"), operands: 1},
	"ionice": {valueOptions: set(
		"-c", "--class", "-n", "--classdata", "-p", "--pid", "-P", "--pgid", "-u", "--uid")},
	"env": {
		valueOptions: set("-C", "--chdir", "-u", "--unset", "-a", "--argv0"),
		splitOptions: set("-S", "--split-string"),
		assignments:  true,
	},
	"sudo": {
		valueOptions: set(
			"-u", "--user", "-g", "--group", "-C", "--close-from", "-D", "--chdir",
			"-h", "--host", "-p", "--prompt", "-r", "--role", "-t", "--type",
			"-U", "--other-user", "-T", "--command-timeout", "-R", "--chroot"),
		assignments: true,
	},
	"xargs": {valueOptions: set(
		"-n", "--max-args", "-I", "-L", "--max-lines", "-P", "--max-procs",
		"-s", "--max-chars", "-d", "--delimiter", "-E", "-e", "-a", "--arg-file")},
}

// unwrap strips leading wrapper programs along with their options, operands
// and environment assignments
func unwrap(argv []string) []string {
	for len(argv) > 0 {
		w, ok := wrappers[path.Base(argv[0])]
		if !ok {
			return argv
		}
		argv = skipWrapperArgs(w, argv[1:])
	}
	return argv
}

func skipWrapperArgs(w wrapper, argv []string) []string {
	for len(argv) > 0 {
		arg := argv[0]
		switch {
		case arg == "--":
			argv = argv[1:]
			return skipOperands(w, argv)
		case w.splitOptions[arg] && len(argv) > 1:
			return append(strings.Fields(argv[1]), argv[2:]...)
		case w.valueOptions[arg]:
			if len(argv) < 2 {
				return nil
			}
			argv = argv[2:]
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			argv = argv[1:]
		case w.assignments && strings.Contains(arg, "=") && !strings.HasPrefix(arg, "="):
			argv = argv[1:]
		default:
			return skipOperands(w, argv)
		}
	}
	return argv
}

func skipOperands(w wrapper, argv []string) []string {
	if len(argv) < w.operands {
		return nil
	}
	return argv[w.operands:]
}

// evalScript returns the script run by an eval call
func evalScript(argv []string) (string, bool) {
	if path.Base(argv[0]) != "eval" || len(argv) < 2 {
		return "", false
	}
	return strings.Join(argv[1:], " "), true
}

var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

// shellScript returns the script of a `sh -c script` style call
func shellScript(argv []string) (string, bool) {
	if !shells[path.Base(argv[0])] {
		return "", false
	}
	for i := 1; i < len(argv)-1; i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "-") {
			return "", false
		}
		if strings.Contains(arg[1:], "c") && !strings.HasPrefix(arg, "--") {
			return argv[i+1], true
		}
	}
	return "", false
}

// scanTokens is the fallback for commands the shell parser rejects: it splits
// on command separators and whitespace, trimming quotes from each word.
func scanTokens(command string) [][]string {
	segments := strings.FieldsFunc(command, func(r rune) bool {
		return strings.ContainsRune(";&|()<>`\n", r)
	})

	var calls [][]string
	for _, seg := range segments {
		var argv []string
		for _, tok := range strings.Fields(seg) {
			if tok = strings.Trim(tok, `"'`); tok != "" {
				argv = append(argv, tok)
			}
		}
		argv = unwrap(argv)
		if len(argv) > 0 && path.Base(argv[0]) == "eval" {
			argv = unwrap(argv[1:])
		}
		if len(argv) > 0 {
			calls = append(calls, argv)
		}
	}
	return calls
}

// globalOptionsWithValue are git options that consume the following word
var globalOptionsWithValue = map[string]bool{
	"-C": true, "-c": true, "--git-dir": true, "--work-tree": true,
	"--namespace": true, "--config-env": true, "--super-prefix": true,
}

// gitWriteOperation reports the state-changing sub-operation of a git call
func gitWriteOperation(argv []string) (string, bool) {
	if path.Base(argv[0]) != "git" {
		return "", false
	}

	args := argv[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		if globalOptionsWithValue[args[0]] {
			args = args[1:]
		}
		if len(args) > 0 {
			args = args[1:]
		}
	}
	if len(args) == 0 {
		return "", false
	}

	sub, rest := args[0], args[1:]
	switch {
	case blockedOperations[sub]:
		return sub, true
	case sub == "branch":
		return branchOperation(rest)
	case sub == "tag":
		return tagOperation(rest)
	case sub == "remote":
		return remoteOperation(rest)
	case sub == "stash":
		if len(rest) > 0 && (rest[0] == "list" || rest[0] == "show") {
			return "", false
		}
		return "stash", true
	case sub == "reflog":
		if len(rest) > 0 && (rest[0] == "expire" || rest[0] == "delete") {
			return "reflog " + rest[0], true
		}
	}
	return "", false
}

var branchWriteFlags = map[string]bool{
	"-d": true, "-D": true, "--delete": true,
	"-m": true, "-M": true, "--move": true,
	"-c": true, "-C": true, "--copy": true,
	"-f": true, "--force": true,
	"-u": true, "--set-upstream-to": true, "--unset-upstream": true,
	"--edit-description": true,
}

var branchListFlags = map[string]bool{
	"-l": true, "--list": true, "-a": true, "--all": true, "-r": true,
	"--remotes": true, "--contains": true, "--no-contains": true,
	"--merged": true, "--no-merged": true, "--points-at": true,
	"--show-current": true, "-v": true, "-vv": true, "--verbose": true,
	"--format": true, "--sort": true,
}

func branchOperation(args []string) (string, bool) {
	listing := false
	positional := false
	for _, arg := range args {
		flag, _, _ := strings.Cut(arg, "=")
		switch {
		case branchWriteFlags[flag]:
			return "branch " + flag, true
		case branchListFlags[flag]:
			listing = true
		case !strings.HasPrefix(arg, "-"):
			positional = true
		}
	}
	if positional && !listing {
		return "branch (create)", true
	}
	return "", false
}

var tagListFlags = map[string]bool{
	"-l": true, "--list": true, "-n": true, "--contains": true,
	"--no-contains": true, "--points-at": true, "--merged": true,
	"--no-merged": true, "--sort": true, "--format": true, "-v": true,
	"--verify": true,
}

func tagOperation(args []string) (string, bool) {
	listing := false
	positional := false
	for _, arg := range args {
		flag, _, _ := strings.Cut(arg, "=")
		switch {
		case flag == "-d" || flag == "--delete":
			return "tag " + flag, true
		case tagListFlags[flag] || strings.HasPrefix(flag, "-n"):
			listing = true
		case !strings.HasPrefix(arg, "-"):
			positional = true
		}
	}
	if positional && !listing {
		return "tag (create)", true
	}
	return "", false
}

var remoteWriteCommands = map[string]bool{
	"add": true, "remove": true, "rm": true, "rename": true, "set-url": true,
	"set-head": true, "set-branches": true, "prune": true, "update": true,
}

func remoteOperation(args []string) (string, bool) {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if remoteWriteCommands[arg] {
			return "remote " + arg, true
		}
		return "", false
	}
	return "", false
}
