package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Reporter handles consistent diagnostic formatting for tools.
type Reporter struct {
	pipeline string
}

// NewReporter creates a reporter for a named pipeline.
func NewReporter(pipeline string) *Reporter {
	return &Reporter{pipeline: pipeline}
}

// Format renders a diagnostic with Rust-like styling.
func (r *Reporter) Format(err CompilerError) string {
	var result strings.Builder

	levelColor := r.levelColor(err.Level)
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	// Header: error[L0001]: message
	if err.Code != "" {
		result.WriteString(fmt.Sprintf("%s[%s]: %s\n",
			levelColor(string(err.Level)), err.Code, bold(err.Message)))
	} else {
		result.WriteString(fmt.Sprintf("%s: %s\n",
			levelColor(string(err.Level)), bold(err.Message)))
	}

	// Locus line: --> pipeline: func.s0: directive
	locus := err.Locus.String()
	if locus == "" {
		locus = r.pipeline
	} else if r.pipeline != "" {
		locus = r.pipeline + ": " + locus
	}
	result.WriteString(fmt.Sprintf("  %s %s\n", dim("-->"), locus))

	for _, note := range err.Notes {
		noteColor := color.New(color.FgBlue).SprintFunc()
		result.WriteString(fmt.Sprintf("   %s %s\n", noteColor("note:"), note))
	}

	if err.Help != "" {
		helpColor := color.New(color.FgGreen).SprintFunc()
		result.WriteString(fmt.Sprintf("   %s %s\n", helpColor("help:"), err.Help))
	}
	if err.Code != "" {
		result.WriteString(fmt.Sprintf("   %s %s\n",
			dim("="), dim(GetErrorDescription(err.Code))))
	}

	return result.String()
}

// FormatAll renders a list of diagnostics with a trailing summary.
func (r *Reporter) FormatAll(errs ErrorList) string {
	var result strings.Builder
	nerrs := 0
	for _, e := range errs {
		result.WriteString(r.Format(e))
		result.WriteString("\n")
		if e.Level == Error {
			nerrs++
		}
	}
	if nerrs > 0 {
		errColor := color.New(color.FgRed, color.Bold).SprintFunc()
		result.WriteString(fmt.Sprintf("%s: could not lower pipeline due to %d previous error(s)\n",
			errColor("error"), nerrs))
	}
	return result.String()
}

func (r *Reporter) levelColor(level ErrorLevel) func(...interface{}) string {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}
