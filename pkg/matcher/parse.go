package matcher

import (
	"fmt"
	"strings"
)

// SyntaxError reports a matcher that could not be parsed. Pos is the byte
// offset in the matcher source where parsing failed.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("matcher %q: %s at offset %d", e.Source, e.Msg, e.Pos)
}

// Parse compiles a matcher string. Empty and "*" matchers match everything;
// strings that are not valid expressions but look like tool-name patterns are
// compiled as legacy tool patterns.
func Parse(src string) (Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" || trimmed == "*" {
		return Always{}, nil
	}

	expr, err := parseExpression(src)
	if err == nil {
		return expr, nil
	}

	if isLegacyPattern(trimmed) {
		pattern, perr := newToolPattern(trimmed)
		if perr != nil {
			return nil, &SyntaxError{Source: src, Pos: 0, Msg: perr.Error()}
		}
		return pattern, nil
	}
	return nil, err
}

// MustParse is like Parse but panics on error. It is intended for tests and
// built-in rules.
func MustParse(src string) Expr {
	expr, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return expr
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of matcher"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

func isIdentRune(c byte) bool {
	return c == '_' || c == '.' || c == '-' || c == '#' || c == '*' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// lex splits a matcher into tokens
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case strings.HasPrefix(src[i:], "=="):
			toks = append(toks, token{tokEq, "==", i})
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			toks = append(toks, token{tokNeq, "!=", i})
			i += 2
		case strings.HasPrefix(src[i:], "&&"):
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case c == '!':
			toks = append(toks, token{tokNot, "!", i})
			i++
		case c == '"' || c == '\'':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i = next
		case isIdentRune(c):
			start := i
			for i < len(src) && isIdentRune(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, &SyntaxError{Source: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// lexString reads a quoted literal starting at src[start]. A backslash only
// escapes the closing quote or another backslash; any other backslash is kept
// so that regular expressions can be written without double escaping.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '\\' && i+1 < len(src) && (src[i+1] == quote || src[i+1] == '\\') {
			b.WriteByte(src[i+1])
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, &SyntaxError{Source: src, Pos: start, Msg: "unterminated string"}
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func parseExpression(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.describe())
	}
	return expr, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Source: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNot:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	case tokLParen:
		p.next()
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected \")\", found %s", closing.describe())
		}
		return x, nil
	default:
		return p.parseTerm()
	}
}

func (p *parser) parseTerm() (Expr, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, p.errorf(tok, "expected field, found %s", tok.describe())
	}
	field, err := parseField(tok.text)
	if err != nil {
		return nil, p.errorf(tok, "%v", err)
	}

	opTok := p.next()
	var op Op
	switch {
	case opTok.kind == tokEq:
		op = OpEqual
	case opTok.kind == tokNeq:
		op = OpNotEqual
	case opTok.kind == tokIdent && opTok.text == string(OpMatches):
		op = OpMatches
	case opTok.kind == tokIdent && opTok.text == string(OpGlob):
		op = OpGlob
	default:
		return nil, p.errorf(opTok, "expected operator, found %s", opTok.describe())
	}

	valTok := p.next()
	if valTok.kind != tokString {
		return nil, p.errorf(valTok, "expected quoted string, found %s", valTok.describe())
	}

	cmp, err := newCompare(field, op, valTok.text)
	if err != nil {
		return nil, p.errorf(valTok, "%v", err)
	}
	return cmp, nil
}

// parseField resolves a field reference. Field names are matched
// case-sensitively; the snake_case spellings used in hook payloads are
// accepted as aliases. Names hookgate does not know are kept as unknown
// fields, which never match, so rules written for a newer event schema
// degrade to "not applicable" instead of failing.
func parseField(name string) (Field, error) {
	switch name {
	case "tool", "tool_name":
		return Field{Kind: FieldTool}, nil
	case "event", "hook_event_name":
		return Field{Kind: FieldEvent}, nil
	case "toolOutput", "tool_output":
		return Field{Kind: FieldToolOutput}, nil
	}
	for _, prefix := range []string{"toolInput.", "tool_input."} {
		if path, ok := strings.CutPrefix(name, prefix); ok {
			if path == "" {
				return Field{}, fmt.Errorf("empty toolInput path")
			}
			return Field{Kind: FieldToolInput, Path: path}, nil
		}
	}
	return Field{Kind: FieldUnknown, Path: name}, nil
}
