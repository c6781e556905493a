// Package presenter writes hookgate's user-facing CLI messages with color
// support and a quiet mode. Hook protocol output (payloads on stdout, block
// reasons on stderr) does not go through here.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// ColorMode selects whether messages are colored
type ColorMode int

const (
	// ColorAuto leaves the decision to terminal detection
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

const ruleWidth = 60

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	successStyle = color.New(color.FgGreen, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	headerStyle  = color.New(color.Bold)
	faintStyle   = color.New(color.Faint)
)

// TerminalPresenter prints management command messages. Errors always go to
// the error output; everything else goes to the output unless quiet is set.
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	quiet       bool
}

// New creates a TerminalPresenter on stdout and stderr, taking the color mode
// from NO_COLOR and HOOKGATE_COLOR
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with explicit writers and color
// mode. ColorAlways and ColorNever apply process wide.
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}
	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
	}
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch os.Getenv("HOOKGATE_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// line writes one message to the output, styled when style is non-nil.
// Quiet mode drops it.
func (p *TerminalPresenter) line(style *color.Color, text string) {
	if p.quiet {
		return
	}
	if style == nil {
		fmt.Fprintln(p.output, text)
		return
	}
	style.Fprintln(p.output, text)
}

// Error prints err to the error output, prefixed with context when given
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	if context != "" {
		errorStyle.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
		return
	}
	errorStyle.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
}

func (p *TerminalPresenter) Success(message string) {
	p.line(successStyle, "✓ "+message)
}

func (p *TerminalPresenter) Warning(message string) {
	p.line(warningStyle, "⚠ "+message)
}

func (p *TerminalPresenter) Info(message string) {
	p.line(nil, message)
}

// Section prints title underlined to its own width
func (p *TerminalPresenter) Section(title string) {
	p.line(headerStyle, title)
	p.line(headerStyle, strings.Repeat("-", len(title)))
}

// Separator prints a faint horizontal rule
func (p *TerminalPresenter) Separator() {
	p.line(faintStyle, strings.Repeat("-", ruleWidth))
}

// SetQuiet suppresses every message except errors
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

var defaultPresenter = New()

// SetOutput redirects the default presenter
func SetOutput(output, errorOutput io.Writer) {
	defaultPresenter.output = output
	defaultPresenter.errorOutput = errorOutput
}

func Error(err error, context string) { defaultPresenter.Error(err, context) }
func Success(message string)          { defaultPresenter.Success(message) }
func Warning(message string)          { defaultPresenter.Warning(message) }
func Info(message string)             { defaultPresenter.Info(message) }
func Section(title string)            { defaultPresenter.Section(title) }
func Separator()                      { defaultPresenter.Separator() }

// SetQuiet sets quiet mode on the default presenter. The root command calls
// it from the --quiet flag.
func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }
