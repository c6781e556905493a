package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type position struct {
	line, col int
}

// locator maps JSON pointers to source positions
type locator map[string]position

// find returns the position of pointer, or of its nearest located ancestor
// when the pointer itself names a missing value.
func (l locator) find(pointer string) position {
	for {
		if pos, ok := l[pointer]; ok {
			return pos
		}
		i := strings.LastIndexByte(pointer, '/')
		if i < 0 {
			return position{}
		}
		pointer = pointer[:i]
	}
}

// escapePointer escapes one JSON pointer reference token
func escapePointer(token string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(token)
}

func joinPointer(parent string, token any) string {
	switch t := token.(type) {
	case int:
		return parent + "/" + strconv.Itoa(t)
	default:
		return parent + "/" + escapePointer(fmt.Sprint(t))
	}
}

// offsetPosition converts a byte offset into a 1-based line and column
func offsetPosition(data []byte, offset int) position {
	if offset > len(data) {
		offset = len(data)
	}
	if offset < 0 {
		offset = 0
	}
	prefix := data[:offset]
	line := bytes.Count(prefix, []byte("\n")) + 1
	col := offset - bytes.LastIndexByte(prefix, '\n')
	return position{line: line, col: col}
}

// jsonWalker records the position of every value in a syntactically valid
// JSON document and reports keys repeated within one object, which
// encoding/json would otherwise silently collapse.
type jsonWalker struct {
	data []byte
	dec  *json.Decoder
	loc  locator
	dups []*ConfigError
}

func locateJSON(source string, data []byte) (locator, []*ConfigError, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	w := &jsonWalker{data: data, dec: dec, loc: make(locator)}
	if err := w.walk(""); err != nil {
		return nil, nil, err
	}
	for _, dup := range w.dups {
		dup.Source = source
	}
	return w.loc, w.dups, nil
}

// valueStart returns the offset of the next token, skipping separators the
// decoder has not consumed yet.
func (w *jsonWalker) valueStart() int {
	off := int(w.dec.InputOffset())
	for off < len(w.data) && strings.IndexByte(" \t\n\r:,", w.data[off]) >= 0 {
		off++
	}
	return off
}

func (w *jsonWalker) walk(pointer string) error {
	start := w.valueStart()
	tok, err := w.dec.Token()
	if err != nil {
		return err
	}
	if _, seen := w.loc[pointer]; !seen {
		w.loc[pointer] = offsetPosition(w.data, start)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		keys := make(map[string]bool)
		for w.dec.More() {
			keyStart := w.valueStart()
			keyTok, err := w.dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			child := joinPointer(pointer, key)
			if keys[key] {
				pos := offsetPosition(w.data, keyStart)
				w.dups = append(w.dups, &ConfigError{
					Pointer: child,
					Line:    pos.line,
					Col:     pos.col,
					Msg:     fmt.Sprintf("duplicate key %q", key),
				})
			}
			keys[key] = true
			if err := w.walk(child); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; w.dec.More(); i++ {
			if err := w.walk(joinPointer(pointer, i)); err != nil {
				return err
			}
		}
	}

	// closing delimiter
	_, err = w.dec.Token()
	return err
}

// locateYAML records node positions of a YAML document and reports keys
// repeated within one mapping.
func locateYAML(source string, root *yaml.Node) (locator, []*ConfigError) {
	loc := make(locator)
	var dups []*ConfigError

	var walk func(n *yaml.Node, pointer string)
	walk = func(n *yaml.Node, pointer string) {
		if n == nil {
			return
		}
		if n.Kind == yaml.DocumentNode {
			if len(n.Content) > 0 {
				walk(n.Content[0], pointer)
			}
			return
		}
		if _, seen := loc[pointer]; !seen {
			loc[pointer] = position{line: n.Line, col: n.Column}
		}
		switch n.Kind {
		case yaml.MappingNode:
			keys := make(map[string]bool)
			for i := 0; i+1 < len(n.Content); i += 2 {
				key := n.Content[i]
				child := joinPointer(pointer, key.Value)
				if keys[key.Value] {
					dups = append(dups, &ConfigError{
						Source:  source,
						Pointer: child,
						Line:    key.Line,
						Col:     key.Column,
						Msg:     fmt.Sprintf("duplicate key %q", key.Value),
					})
				}
				keys[key.Value] = true
				walk(n.Content[i+1], child)
			}
		case yaml.SequenceNode:
			for i, item := range n.Content {
				walk(item, joinPointer(pointer, i))
			}
		}
	}
	walk(root, "")
	return loc, dups
}
