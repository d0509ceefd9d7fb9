// Package cliout implements the user-visible output conventions spec.md
// §6/§7 require of every CLI-surfaced command: a JSON mode that emits a
// single {"success": ...} document per invocation, a human mode with
// colorized structured lines (gated on whether stdout is a terminal), and
// the 0/1/2 exit-code contract (success / recoverable failure / invalid
// argument).
package cliout

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ExitCode is one of the three codes spec.md §6 defines for CLI-surfaced
// commands.
type ExitCode int

const (
	ExitSuccess   ExitCode = 0
	ExitFailure   ExitCode = 1
	ExitBadArgs   ExitCode = 2
)

// Printer renders command results either as a single JSON document or as
// colorized human-readable lines, depending on the --json flag and
// whether stdout is attached to a terminal.
type Printer struct {
	JSON      bool
	colorOK   bool
	out       *os.File
}

// New constructs a Printer writing to os.Stdout. jsonMode forces JSON
// output regardless of whether stdout is a terminal (spec.md §7: "All
// command surfaces accept a JSON-output mode").
func New(jsonMode bool) *Printer {
	return &Printer{
		JSON:    jsonMode,
		colorOK: !jsonMode && isatty.IsTerminal(os.Stdout.Fd()),
		out:     os.Stdout,
	}
}

// successEnvelope is the shape every successful JSON-mode invocation
// emits: {"success": true, ...fields}.
type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// errorEnvelope is the shape every failed JSON-mode invocation emits:
// {"success": false, "error": "..."}.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Success emits data as the result of a successful command. In JSON mode
// this writes {"success": true, "data": data}; in human mode it calls
// render, which is responsible for formatting data for a terminal.
func (p *Printer) Success(data any, render func(data any)) {
	if p.JSON {
		p.writeJSON(successEnvelope{Success: true, Data: data})
		return
	}
	if render != nil {
		render(data)
	}
}

// BadArgsError marks an error as an invalid-argument failure so Execute
// can map it to exit code 2 instead of the generic 1 (spec.md §6).
type BadArgsError struct{ Err error }

func (e *BadArgsError) Error() string { return e.Err.Error() }
func (e *BadArgsError) Unwrap() error { return e.Err }

// Error emits err as the result of a failed command and returns it
// unchanged so a cobra RunE can `return p.Error(err)`. In JSON mode this
// writes {"success": false, "error": err.Error()}; in human mode it
// prints a red "Error: ..." line.
func (p *Printer) Error(err error) error {
	if p.JSON {
		p.writeJSON(errorEnvelope{Success: false, Error: err.Error()})
		return err
	}
	p.Statusf("✗", color.FgRed, "Error: %v", err)
	return err
}

// BadArgs emits a usage error and returns a *BadArgsError wrapping it, so
// Execute can exit with code 2 rather than 1.
func (p *Printer) BadArgs(err error) error {
	if p.JSON {
		p.writeJSON(errorEnvelope{Success: false, Error: err.Error()})
		return &BadArgsError{Err: err}
	}
	p.Statusf("✗", color.FgRed, "Invalid argument: %v", err)
	return &BadArgsError{Err: err}
}

// Status prints a single colorized status line in human mode; it is a
// no-op in JSON mode (JSON output is always exactly one document).
func (p *Printer) Status(symbol string, attr color.Attribute, message string) {
	if p.JSON {
		return
	}
	if p.colorOK {
		c := color.New(attr)
		fmt.Fprintf(p.out, "%s %s\n", c.Sprint(symbol), message)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", symbol, message)
}

// Statusf is Status with fmt.Sprintf-style formatting for message.
func (p *Printer) Statusf(symbol string, attr color.Attribute, format string, args ...any) {
	p.Status(symbol, attr, fmt.Sprintf(format, args...))
}

func (p *Printer) writeJSON(v any) {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
