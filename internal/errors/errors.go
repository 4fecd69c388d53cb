// Package errors carries the structured diagnostics the lowering core
// reports: coded user errors with a locus in the pipeline (function,
// stage, directive) rather than a source position, plus a color
// reporter for tools.
package errors

import (
	"fmt"
	"strings"
)

// ErrorLevel represents the severity of a diagnostic.
type ErrorLevel string

const (
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
)

// Locus identifies where in the pipeline a diagnostic arose.
type Locus struct {
	Func      string // function name, if any
	Stage     int    // definition index; 0 is the init stage
	HasStage  bool
	Directive string // offending schedule directive or node, if any
}

func (l Locus) String() string {
	var parts []string
	if l.Func != "" {
		if l.HasStage {
			parts = append(parts, fmt.Sprintf("%s.s%d", l.Func, l.Stage))
		} else {
			parts = append(parts, l.Func)
		}
	}
	if l.Directive != "" {
		parts = append(parts, l.Directive)
	}
	return strings.Join(parts, ": ")
}

// CompilerError is a structured diagnostic with context notes.
type CompilerError struct {
	Level   ErrorLevel
	Code    string // error code like L0001
	Message string
	Locus   Locus
	Notes   []string
	Help    string
}

// Error makes CompilerError usable as a Go error.
func (e CompilerError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "%s[%s]: %s", e.Level, e.Code, e.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s", e.Level, e.Message)
	}
	if loc := e.Locus.String(); loc != "" {
		fmt.Fprintf(&b, " (in %s)", loc)
	}
	return b.String()
}

// ErrorList aggregates diagnostics gathered during a pass.
type ErrorList []CompilerError

func (el ErrorList) Error() string {
	msgs := make([]string, len(el))
	for i, e := range el {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Err returns the list as an error, or nil when empty or warning-only.
func (el ErrorList) Err() error {
	for _, e := range el {
		if e.Level == Error {
			return el
		}
	}
	return nil
}

// Builder provides a fluent interface for assembling diagnostics.
type Builder struct {
	err CompilerError
}

// New starts an error diagnostic.
func New(code, message string) *Builder {
	return &Builder{err: CompilerError{Level: Error, Code: code, Message: message}}
}

// NewWarning starts a warning diagnostic.
func NewWarning(code, message string) *Builder {
	return &Builder{err: CompilerError{Level: Warning, Code: code, Message: message}}
}

// InFunc attaches the function name.
func (b *Builder) InFunc(name string) *Builder {
	b.err.Locus.Func = name
	return b
}

// InStage attaches the definition index.
func (b *Builder) InStage(stage int) *Builder {
	b.err.Locus.Stage = stage
	b.err.Locus.HasStage = true
	return b
}

// OnDirective names the offending schedule directive or IR node.
func (b *Builder) OnDirective(d string) *Builder {
	b.err.Locus.Directive = d
	return b
}

// WithNote appends a context note.
func (b *Builder) WithNote(format string, args ...any) *Builder {
	b.err.Notes = append(b.err.Notes, fmt.Sprintf(format, args...))
	return b
}

// WithHelp sets the help text.
func (b *Builder) WithHelp(help string) *Builder {
	b.err.Help = help
	return b
}

// Build finishes the diagnostic.
func (b *Builder) Build() CompilerError {
	return b.err
}
