// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"raster/grammar"
	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/lower"
	"raster/internal/target"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: raster <pipeline.rst>")
		os.Exit(1)
	}

	configureLogging()

	path := os.Args[1]
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("Failed to read file: %s", err)
		os.Exit(1)
	}

	program, err := grammar.ParseString(path, string(source))
	if err != nil {
		grammar.ReportParseError(string(source), err)
		os.Exit(1)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pipe, err := grammar.Translate(name, program)
	if err != nil {
		color.Red("❌ %s", err)
		os.Exit(1)
	}

	result, err := lower.Lower(pipe.Name, pipe.Outputs, pipe.Env, lower.Options{
		Target:       target.Host(),
		OutputBounds: pipe.OutputBounds,
	})
	if err != nil {
		reportLoweringError(pipe.Name, err)
		os.Exit(1)
	}

	fmt.Println(ir.PrintStmt(result.Stmt))
	color.Green("✅ Successfully lowered %s (%d functions)", path, len(result.Order))
}

// configureLogging wires the RASTER_DEBUG environment variable to the
// compile-time diagnostic trace verbosity.
func configureLogging() {
	verbosity := 0
	if v := os.Getenv("RASTER_DEBUG"); v != "" {
		fmt.Sscanf(v, "%d", &verbosity)
	}
	commonlog.Configure(verbosity, nil)
}

// reportLoweringError renders structured diagnostics with the color
// reporter and anything else plainly.
func reportLoweringError(pipelineName string, err error) {
	reporter := errors.NewReporter(pipelineName)
	switch e := err.(type) {
	case errors.CompilerError:
		fmt.Fprint(os.Stderr, reporter.Format(e))
	case errors.ErrorList:
		fmt.Fprint(os.Stderr, reporter.FormatAll(e))
	default:
		color.Red("❌ %s", err)
	}
}
