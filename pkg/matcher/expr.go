// Package matcher implements the boolean predicates that decide whether a
// policy rule applies to an event. Matchers are parsed once into a small typed
// expression tree and evaluated without side effects.
//
// Two matcher forms are accepted:
//
//	tool == "Bash" && toolInput.command matches "git (commit|push)"
//	Write|Edit
//
// The first is an expression over the event's fields. The second is the
// legacy form used by Claude-style hook configurations: a regular expression
// matched against the whole tool name. An empty matcher or "*" matches every
// event.
package matcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/tidwall/gjson"
)

// Expr is a parsed matcher expression
type Expr interface {
	// Eval reports whether the event satisfies the expression. It never
	// fails: unknown fields make the enclosing term false.
	Eval(evt hooks.Event) bool
	String() string
}

// Evaluate reports whether evt satisfies expr. A nil expression matches
// every event.
func Evaluate(expr Expr, evt hooks.Event) bool {
	if expr == nil {
		return true
	}
	return expr.Eval(evt)
}

// Always matches every event
type Always struct{}

// Eval implements Expr
func (Always) Eval(hooks.Event) bool { return true }

func (Always) String() string { return "*" }

// And is the short-circuiting conjunction of two expressions
type And struct {
	Left, Right Expr
}

// Eval implements Expr
func (a And) Eval(evt hooks.Event) bool {
	return a.Left.Eval(evt) && a.Right.Eval(evt)
}

func (a And) String() string {
	return fmt.Sprintf("(%s && %s)", a.Left, a.Right)
}

// Or is the short-circuiting disjunction of two expressions
type Or struct {
	Left, Right Expr
}

// Eval implements Expr
func (o Or) Eval(evt hooks.Event) bool {
	return o.Left.Eval(evt) || o.Right.Eval(evt)
}

func (o Or) String() string {
	return fmt.Sprintf("(%s || %s)", o.Left, o.Right)
}

// Not negates an expression
type Not struct {
	X Expr
}

// Eval implements Expr
func (n Not) Eval(evt hooks.Event) bool {
	return !n.X.Eval(evt)
}

func (n Not) String() string {
	return fmt.Sprintf("!%s", n.X)
}

// FieldKind identifies which part of the event a term reads
type FieldKind int

// Field kinds
const (
	FieldTool FieldKind = iota
	FieldEvent
	FieldToolOutput
	FieldToolInput
	FieldUnknown
)

// Field is a reference to an event field. For FieldToolInput, Path is a
// gjson path into the tool input object; for FieldUnknown it is the name as
// written.
type Field struct {
	Kind FieldKind
	Path string
}

func (f Field) String() string {
	switch f.Kind {
	case FieldTool:
		return "tool"
	case FieldEvent:
		return "event"
	case FieldToolOutput:
		return "toolOutput"
	case FieldToolInput:
		return "toolInput." + f.Path
	default:
		return f.Path
	}
}

// lookup returns the field's value and whether the event carries it
func (f Field) lookup(evt hooks.Event) (string, bool) {
	switch f.Kind {
	case FieldTool:
		return evt.Tool, true
	case FieldEvent:
		return string(evt.Type), true
	case FieldToolOutput:
		return evt.Output()
	case FieldToolInput:
		if len(evt.ToolInput) == 0 {
			return "", false
		}
		res := gjson.GetBytes(evt.ToolInput, f.Path)
		if !res.Exists() {
			return "", false
		}
		if res.Type == gjson.String {
			return res.Str, true
		}
		return res.Raw, true
	default:
		return "", false
	}
}

// Op is a comparison operator
type Op string

// Comparison operators
const (
	OpEqual    Op = "=="
	OpNotEqual Op = "!="
	OpMatches  Op = "matches"
	OpGlob     Op = "glob"
)

// tokenBoundary lists the characters that delimit tokens in a shell command
const tokenBoundary = "\\s;&|()<>`"

// Compare is a leaf term comparing one field against a literal
type Compare struct {
	Field Field
	Op    Op
	Value string

	re *regexp.Regexp
	g  glob.Glob
}

// newCompare compiles the literal for regex and glob operators
func newCompare(field Field, op Op, value string) (*Compare, error) {
	c := &Compare{Field: field, Op: op, Value: value}
	switch op {
	case OpMatches:
		re, err := compileTokenRegexp(value)
		if err != nil {
			return nil, err
		}
		c.re = re
	case OpGlob:
		g, err := glob.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %v", value, err)
		}
		c.g = g
	}
	return c, nil
}

// compileTokenRegexp anchors pattern so that it only matches whole tokens:
// each match must start at the beginning of the value or after a token
// boundary, and end at the end of the value or before one.
func compileTokenRegexp(pattern string) (*regexp.Regexp, error) {
	anchored := `(?:^|[` + tokenBoundary + `])(?:` + pattern + `)(?:$|[` + tokenBoundary + `])`
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %v", pattern, err)
	}
	return re, nil
}

// Eval implements Expr
func (c *Compare) Eval(evt hooks.Event) bool {
	value, ok := c.Field.lookup(evt)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEqual:
		return value == c.Value
	case OpNotEqual:
		return value != c.Value
	case OpMatches:
		return c.re.MatchString(value)
	case OpGlob:
		return c.g.Match(value)
	default:
		return false
	}
}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, strconv.Quote(c.Value))
}

// ToolPattern is the legacy matcher form: a regular expression that must
// match the whole tool name.
type ToolPattern struct {
	Pattern string
	re      *regexp.Regexp
}

func newToolPattern(pattern string) (*ToolPattern, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid tool pattern %q: %v", pattern, err)
	}
	return &ToolPattern{Pattern: pattern, re: re}, nil
}

// Eval implements Expr
func (p *ToolPattern) Eval(evt hooks.Event) bool {
	return p.re.MatchString(evt.Tool)
}

func (p *ToolPattern) String() string {
	return p.Pattern
}

// isLegacyPattern reports whether src only uses characters that appear in
// tool-name patterns such as "Write|Edit" or "mcp__.*".
func isLegacyPattern(src string) bool {
	return strings.IndexFunc(src, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case strings.ContainsRune("_-.*|:+?[]^$ ", r):
			return false
		}
		return true
	}) < 0
}
