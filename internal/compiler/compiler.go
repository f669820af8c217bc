// Package compiler orchestrates the pipeline from source text to a loaded,
// VM-ready program: a pluggable Frontend produces IR, package assembler
// lowers it to structured bytecode, and package bcformat flattens and
// reloads it through the binary program format (spec §3, end to end).
//
// The lexer, parser, and type checker that would normally implement
// Frontend are out of this repository's scope (spec's Non-goals); tests
// supply a Frontend that builds internal/ir values directly, which is
// enough to exercise every stage downstream of parsing.
package compiler

import (
	"fmt"

	"github.com/lstf-lang/lstf/internal/assembler"
	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/ir"
)

// Frontend turns source text into an unoptimized IR program. Source is the
// file's contents and name is used only for diagnostics/debug info.
type Frontend interface {
	Parse(name, source string) (*ir.Program, error)
}

// Options controls how a program is compiled.
type Options struct {
	// EntryFunction names the function the resulting program starts
	// executing from; "main" if empty.
	EntryFunction string
}

func (o Options) entry() string {
	if o.EntryFunction == "" {
		return "main"
	}
	return o.EntryFunction
}

// CompileSource runs the full pipeline: Frontend.Parse, per-function
// ir.Analyze, assembler.Assemble, then bcformat.Serialize, returning the
// raw bytes a program file on disk would contain.
func CompileSource(fe Frontend, name, source string, opts Options) ([]byte, error) {
	prog, err := fe.Parse(name, source)
	if err != nil {
		return nil, fmt.Errorf("compiler: parsing %s: %w", name, err)
	}
	return CompileIR(prog, name, opts)
}

// CompileIR runs the pipeline starting from an already-built IR program,
// used directly by tests that skip the (out-of-scope) frontend.
func CompileIR(prog *ir.Program, name string, opts Options) ([]byte, error) {
	for _, fn := range prog.Functions {
		ir.Analyze(fn)
	}
	bc, err := assembler.Assemble(prog, opts.entry())
	if err != nil {
		return nil, fmt.Errorf("compiler: assembling %s: %w", name, err)
	}
	bc.SourceFilename = name
	raw, err := bcformat.Serialize(bc)
	if err != nil {
		return nil, fmt.Errorf("compiler: serializing %s: %w", name, err)
	}
	return raw, nil
}

// LoadProgram parses a previously compiled program file, ready for the VM.
func LoadProgram(raw []byte) (*bcformat.Program, error) {
	return bcformat.Load(raw)
}
