package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/matcher"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

// Format identifies the syntax of a configuration source
type Format string

// Supported source formats
const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// DetectFormat picks a format from the source file extension, defaulting to
// JSON.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatJSON
	}
}

type parseOptions struct {
	format     Format
	pluginRoot string
}

// ParseOption configures Parse
type ParseOption func(*parseOptions)

// WithFormat overrides format detection
func WithFormat(format Format) ParseOption {
	return func(o *parseOptions) {
		o.format = format
	}
}

// WithPluginRoot sets the directory substituted for ${CLAUDE_PLUGIN_ROOT} in
// the rules of this source.
func WithPluginRoot(dir string) ParseOption {
	return func(o *parseOptions) {
		o.pluginRoot = dir
	}
}

// LoadFile reads and parses a configuration file. Unless overridden, the
// plugin root is the directory containing the file.
func LoadFile(path string, opts ...ParseOption) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", path)
	}
	opts = append([]ParseOption{WithPluginRoot(filepath.Dir(path))}, opts...)
	return Parse(path, data, opts...)
}

// Parse builds a RuleSet from a configuration document. source names the
// document in error messages and rule identifiers. All problems found are
// returned together as *ConfigError values aggregated in a multierror.
func Parse(source string, data []byte, opts ...ParseOption) (*RuleSet, error) {
	o := parseOptions{format: DetectFormat(source)}
	for _, opt := range opts {
		opt(&o)
	}

	c := &collector{source: source, loc: locator{}}

	var (
		specs  map[string][]RuleSpec
		prefix string
		ok     bool
	)
	switch o.format {
	case FormatJSON:
		specs, prefix, ok = decodeJSON(c, data)
	case FormatYAML:
		specs, prefix, ok = decodeYAML(c, data)
	case FormatMarkdown:
		specs, prefix, ok = decodeMarkdown(c, data)
	default:
		return nil, errors.Errorf("unsupported configuration format %q", o.format)
	}
	if !ok {
		return nil, c.err()
	}

	set := build(c, specs, prefix, o.pluginRoot)
	if err := c.err(); err != nil {
		return nil, err
	}
	return set, nil
}

func decodeJSON(c *collector, data []byte) (map[string][]RuleSpec, string, bool) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			pos := offsetPosition(data, int(syntaxErr.Offset)-1)
			c.append(&ConfigError{Source: c.source, Line: pos.line, Col: pos.col, Msg: syntaxErr.Error()})
		} else {
			c.append(&ConfigError{Source: c.source, Msg: err.Error()})
		}
		return nil, "", false
	}
	top, isObject := probe.(map[string]any)
	if !isObject {
		c.append(&ConfigError{Source: c.source, Line: 1, Col: 1, Msg: "configuration document must be a JSON object"})
		return nil, "", false
	}

	loc, dups, err := locateJSON(c.source, data)
	if err != nil {
		c.append(&ConfigError{Source: c.source, Msg: err.Error()})
		return nil, "", false
	}
	c.loc = loc
	for _, dup := range dups {
		c.append(dup)
	}
	if len(dups) > 0 {
		return nil, "", false
	}

	var (
		specs  map[string][]RuleSpec
		prefix string
	)
	if _, wrapped := top["hooks"]; wrapped {
		var doc Document
		err = json.Unmarshal(data, &doc)
		specs, prefix = doc.Hooks, "/hooks"
	} else {
		err = json.Unmarshal(data, &specs)
	}
	if err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			pos := offsetPosition(data, int(typeErr.Offset))
			c.append(&ConfigError{
				Source:  c.source,
				Pointer: "/" + strings.ReplaceAll(typeErr.Field, ".", "/"),
				Line:    pos.line,
				Col:     pos.col,
				Msg:     fmt.Sprintf("cannot use JSON %s as %s", typeErr.Value, typeErr.Type),
			})
		} else {
			c.append(&ConfigError{Source: c.source, Msg: err.Error()})
		}
		return nil, "", false
	}
	return specs, prefix, true
}

func decodeYAML(c *collector, data []byte) (map[string][]RuleSpec, string, bool) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		c.append(yamlError(c.source, err.Error()))
		return nil, "", false
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		c.append(&ConfigError{Source: c.source, Line: 1, Col: 1, Msg: "configuration document must be a mapping"})
		return nil, "", false
	}

	loc, dups := locateYAML(c.source, &root)
	c.loc = loc
	for _, dup := range dups {
		c.append(dup)
	}
	if len(dups) > 0 {
		return nil, "", false
	}

	wrapped := false
	top := root.Content[0]
	for i := 0; i < len(top.Content); i += 2 {
		if top.Content[i].Value == "hooks" {
			wrapped = true
		}
	}

	var (
		specs  map[string][]RuleSpec
		prefix string
		err    error
	)
	if wrapped {
		var doc Document
		err = root.Decode(&doc)
		specs, prefix = doc.Hooks, "/hooks"
	} else {
		err = root.Decode(&specs)
	}
	if err != nil {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			for _, msg := range typeErr.Errors {
				c.append(yamlError(c.source, msg))
			}
		} else {
			c.append(yamlError(c.source, err.Error()))
		}
		return nil, "", false
	}
	return specs, prefix, true
}

// yamlError converts a yaml.v3 message such as "yaml: line 3: ..." into a
// ConfigError carrying the line.
func yamlError(source, msg string) *ConfigError {
	msg = strings.TrimPrefix(msg, "yaml: ")
	cerr := &ConfigError{Source: source, Msg: msg}
	var line int
	if n, _ := fmt.Sscanf(msg, "line %d:", &line); n == 1 {
		cerr.Line = line
		cerr.Col = 1
		if _, rest, ok := strings.Cut(msg, ": "); ok {
			cerr.Msg = rest
		}
	}
	return cerr
}

// decodeMarkdown reads rules from the YAML front matter of a markdown
// document. The body is documentation and is ignored.
func decodeMarkdown(c *collector, data []byte) (map[string][]RuleSpec, string, bool) {
	md := goldmark.New(
		goldmark.WithExtensions(
			meta.Meta,
		),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(data, &buf, parser.WithContext(pctx)); err != nil {
		c.append(&ConfigError{Source: c.source, Msg: errors.Wrap(err, "failed to convert markdown").Error()})
		return nil, "", false
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		c.append(&ConfigError{Source: c.source, Msg: errors.Wrap(err, "invalid front matter").Error()})
		return nil, "", false
	}
	if len(metaData) == 0 {
		c.append(&ConfigError{Source: c.source, Line: 1, Col: 1, Msg: "document has no front matter"})
		return nil, "", false
	}

	var (
		specs  map[string][]RuleSpec
		prefix string
		target any = &specs
	)
	var doc Document
	if _, wrapped := metaData["hooks"]; wrapped {
		target, prefix = &doc, "/hooks"
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  target,
	})
	if err != nil {
		c.append(&ConfigError{Source: c.source, Msg: err.Error()})
		return nil, "", false
	}
	if err := decoder.Decode(metaData); err != nil {
		var decodeErr *mapstructure.Error
		if errors.As(err, &decodeErr) {
			for _, msg := range decodeErr.Errors {
				c.append(&ConfigError{Source: c.source, Msg: msg})
			}
		} else {
			c.append(&ConfigError{Source: c.source, Msg: err.Error()})
		}
		return nil, "", false
	}
	if prefix != "" {
		specs = doc.Hooks
	}
	return specs, prefix, true
}

// orderedEvents returns the keys of specs with known event types first, in
// canonical order, followed by unknown names sorted alphabetically.
func orderedEvents(specs map[string][]RuleSpec) []string {
	var names []string
	for _, et := range hooks.AllEventTypes() {
		if _, ok := specs[string(et)]; ok {
			names = append(names, string(et))
		}
	}
	var unknown []string
	for name := range specs {
		if !hooks.EventType(name).Valid() {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return append(names, unknown...)
}

// build validates the decoded specs and compiles them into rules. Problems
// are recorded on c.
func build(c *collector, specs map[string][]RuleSpec, prefix, pluginRoot string) *RuleSet {
	set := &RuleSet{Source: c.source, PluginRoot: pluginRoot}

	for _, name := range orderedEvents(specs) {
		eventPtr := joinPointer(prefix, name)
		event := hooks.EventType(name)
		if !event.Valid() {
			c.add(eventPtr, "unknown event type %q", name)
			continue
		}

		for i, spec := range specs[name] {
			rulePtr := joinPointer(eventPtr, i)
			rule := &Rule{
				Event:       event,
				Matcher:     spec.Matcher,
				Description: spec.Description,
				Source:      c.source,
				PluginRoot:  pluginRoot,
				Index:       i,
			}

			expr, err := matcher.Parse(spec.Matcher)
			if err != nil {
				c.add(rulePtr+"/matcher", "%v", err)
			}
			rule.Expr = expr

			if len(spec.Hooks) == 0 {
				c.add(rulePtr+"/hooks", "rule has no hooks")
			}
			for j, h := range spec.Hooks {
				if cmd, ok := buildHook(c, joinPointer(rulePtr+"/hooks", j), h); ok {
					rule.Hooks = append(rule.Hooks, cmd)
				}
			}

			set.Rules = append(set.Rules, rule)
		}
	}
	return set
}

func buildHook(c *collector, pointer string, h HookSpec) (hooks.HookCommand, bool) {
	ok := true

	switch h.Type {
	case HookTypeCommand:
	case "":
		c.add(pointer+"/type", "missing hook type, expected %q", HookTypeCommand)
		ok = false
	default:
		c.add(pointer+"/type", "unsupported hook type %q, expected %q", h.Type, HookTypeCommand)
		ok = false
	}

	if strings.TrimSpace(h.Command) == "" {
		c.add(pointer+"/command", "hook command is empty")
		ok = false
	}
	for _, name := range Variables(h.Command) {
		if !isKnownVariable(name) {
			c.add(pointer+"/command", "unrecognized variable ${%s}, known variables are %s", name, strings.Join(KnownVariables(), ", "))
			ok = false
		}
	}

	var timeout time.Duration
	if h.Timeout != nil {
		seconds := *h.Timeout
		if seconds <= 0 || seconds > hooks.MaxTimeout.Seconds() {
			c.add(pointer+"/timeout", "timeout must be greater than 0 and at most %d seconds, got %g", int(hooks.MaxTimeout.Seconds()), seconds)
			ok = false
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return hooks.HookCommand{
		Command: h.Command,
		Async:   h.Async,
		Timeout: timeout,
	}, ok
}
