// Package registry builds the immutable policy registry from configuration
// sources. Sources are parsed and validated independently, then merged in
// priority order into a Registry that the dispatcher queries per event type.
package registry

import (
	"fmt"
	"strings"

	"github.com/jingkaihe/hookgate/pkg/hooks"
	"github.com/jingkaihe/hookgate/pkg/matcher"
	"github.com/pkg/errors"
)

// Rule is a compiled policy rule: a matcher and the ordered hooks it guards.
// Rules are never modified after they are built.
type Rule struct {
	Event       hooks.EventType
	Matcher     string
	Expr        matcher.Expr
	Hooks       []hooks.HookCommand
	Description string

	// Source names the document the rule came from and Index is the rule's
	// position in that document's list for Event.
	Source string
	Index  int
	// PluginRoot is substituted for ${CLAUDE_PLUGIN_ROOT}
	PluginRoot string
}

// Name identifies the rule in logs and decisions
func (r *Rule) Name() string {
	return fmt.Sprintf("%s:%s[%d]", r.Source, r.Event, r.Index)
}

// Matches reports whether the rule applies to evt
func (r *Rule) Matches(evt hooks.Event) bool {
	return matcher.Evaluate(r.Expr, evt)
}

// identity is the structural identity used to drop exact duplicates. Plugin
// root variables are resolved first: the same template shipped by two
// plugins runs two different scripts.
func (r *Rule) identity() string {
	roots := map[string]string{
		VarPluginRoot:         r.PluginRoot,
		VarHookgatePluginRoot: r.PluginRoot,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s", r.Event, r.Matcher)
	for _, h := range r.Hooks {
		fmt.Fprintf(&b, "\x00%s\x01%t\x01%d", Expand(h.Command, roots), h.Async, h.Timeout)
	}
	return b.String()
}

// RuleSet is the validated content of one configuration source
type RuleSet struct {
	Source     string
	PluginRoot string
	Rules      []*Rule
}

// Registry is the merged, read-only rule table. It is safe for concurrent
// use.
type Registry struct {
	rules      map[hooks.EventType][]*Rule
	sources    []string
	duplicates []*Rule
}

// Merge concatenates rule sets in priority order: rules of the first set run
// first. Exact structural duplicates are dropped, keeping the first
// occurrence; rules that differ in any way are all kept.
func Merge(sets ...*RuleSet) (*Registry, error) {
	r := &Registry{rules: make(map[hooks.EventType][]*Rule)}
	seen := make(map[string]bool)

	for _, set := range sets {
		if set == nil {
			continue
		}
		r.sources = append(r.sources, set.Source)
		for _, rule := range set.Rules {
			id := rule.identity()
			if seen[id] {
				r.duplicates = append(r.duplicates, rule)
				continue
			}
			seen[id] = true
			r.rules[rule.Event] = append(r.rules[rule.Event], rule)
		}
	}

	// The merged registry must still be a well-formed document.
	data, err := r.Document().JSON()
	if err != nil {
		return nil, err
	}
	if _, err := Parse("merged", data); err != nil {
		return nil, errors.Wrap(err, "merged registry does not serialize to a valid document")
	}

	return r, nil
}

// Rules returns the ordered rules bound to event. The returned slice is a
// copy.
func (r *Registry) Rules(event hooks.EventType) []*Rule {
	rules := r.rules[event]
	out := make([]*Rule, len(rules))
	copy(out, rules)
	return out
}

// Len returns the number of rules across all events
func (r *Registry) Len() int {
	n := 0
	for _, rules := range r.rules {
		n += len(rules)
	}
	return n
}

// Sources returns the names of the merged sources in priority order
func (r *Registry) Sources() []string {
	return append([]string(nil), r.sources...)
}

// Duplicates returns the rules dropped by Merge as exact duplicates
func (r *Registry) Duplicates() []*Rule {
	return append([]*Rule(nil), r.duplicates...)
}

// Document serializes the registry back into a configuration document.
// Plugin root variables are resolved so that the document is meaningful
// outside of the plugin it came from.
func (r *Registry) Document() Document {
	doc := Document{Hooks: make(map[string][]RuleSpec)}
	for _, event := range hooks.AllEventTypes() {
		for _, rule := range r.rules[event] {
			doc.Hooks[string(event)] = append(doc.Hooks[string(event)], rule.spec())
		}
	}
	return doc
}

func (r *Rule) spec() RuleSpec {
	roots := map[string]string{}
	if r.PluginRoot != "" {
		roots[VarPluginRoot] = r.PluginRoot
		roots[VarHookgatePluginRoot] = r.PluginRoot
	}

	spec := RuleSpec{Matcher: r.Matcher, Description: r.Description}
	for _, h := range r.Hooks {
		hs := HookSpec{
			Type:    HookTypeCommand,
			Command: Expand(h.Command, roots),
			Async:   h.Async,
		}
		if h.Timeout > 0 {
			seconds := h.Timeout.Seconds()
			hs.Timeout = &seconds
		}
		spec.Hooks = append(spec.Hooks, hs)
	}
	return spec
}
