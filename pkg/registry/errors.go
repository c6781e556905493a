package registry

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ConfigError describes one problem found while building a registry. Pointer
// is a JSON pointer (RFC 6901) to the offending value; Line and Col are
// 1-based and zero when the source format does not carry positions.
type ConfigError struct {
	Source  string
	Pointer string
	Line    int
	Col     int
	Msg     string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", e.Line, e.Col)
	}
	if e.Pointer != "" {
		fmt.Fprintf(&b, " at %s", e.Pointer)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	return b.String()
}

// ConfigErrors flattens err into the individual configuration problems it
// carries. Errors that are not ConfigErrors are dropped.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var out []*ConfigError
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			out = append(out, ConfigErrors(e)...)
		}
		return out
	}
	if cerr, ok := err.(*ConfigError); ok {
		out = append(out, cerr)
	}
	return out
}

// listFormat renders aggregated configuration errors one per line
func listFormat(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, 0, len(errs)+1)
	lines = append(lines, fmt.Sprintf("%d configuration errors:", len(errs)))
	for _, err := range errs {
		lines = append(lines, "  "+err.Error())
	}
	return strings.Join(lines, "\n")
}

// collector accumulates configuration errors for one source
type collector struct {
	source string
	loc    locator
	result *multierror.Error
}

func (c *collector) add(pointer, format string, args ...any) {
	pos := c.loc.find(pointer)
	c.result = multierror.Append(c.result, &ConfigError{
		Source:  c.source,
		Pointer: pointer,
		Line:    pos.line,
		Col:     pos.col,
		Msg:     fmt.Sprintf(format, args...),
	})
}

func (c *collector) append(err *ConfigError) {
	c.result = multierror.Append(c.result, err)
}

func (c *collector) err() error {
	if c.result == nil {
		return nil
	}
	c.result.ErrorFormat = listFormat
	return c.result.ErrorOrNil()
}
