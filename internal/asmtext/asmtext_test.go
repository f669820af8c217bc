package asmtext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

func buildProgram() *bytecode.Program {
	prog := bytecode.NewProgram()
	dataOff := prog.InternString(`"hi\n"`)

	helper := &bytecode.Function{Name: "helper", NumParams: 1}
	loadParam := &bytecode.Instruction{Op: bytecode.OpLoadFrame, FrameOffset: 0}
	ret := &bytecode.Instruction{Op: bytecode.OpReturn}
	helper.Instructions = []*bytecode.Instruction{loadParam, ret}

	main := &bytecode.Function{Name: "main"}
	top := &bytecode.Instruction{Op: bytecode.OpParams, Count: 0}
	call := &bytecode.Instruction{Op: bytecode.OpLoadExpression, DataOffset: dataOff}
	jump := &bytecode.Instruction{Op: bytecode.OpJump}
	print := &bytecode.Instruction{Op: bytecode.OpPrint}
	done := &bytecode.Instruction{Op: bytecode.OpReturn}
	jump.Target = print
	main.Instructions = []*bytecode.Instruction{top, call, jump, print, done}

	prog.Functions = []*bytecode.Function{helper, main}
	prog.EntryFunction = "main"
	return prog
}

// TestWriteParseRoundTrip checks that assembling a program to text and
// parsing it back produces the same text a second time: labels, jump
// targets and function references all survive the round trip even though
// the parsed program is a structurally distinct pointer graph.
func TestWriteParseRoundTrip(t *testing.T) {
	prog := buildProgram()

	var first strings.Builder
	require.NoError(t, Write(&first, prog))

	reparsed, err := Parse(strings.NewReader(first.String()))
	require.NoError(t, err)

	var second strings.Builder
	require.NoError(t, Write(&second, reparsed))

	require.Equal(t, first.String(), second.String())
}

// TestParseForwardFunctionReference exercises a call to a function whose
// own `func name(n):` header appears later in the text, which is what a
// hand-written .lstfa file naturally does for mutually recursive functions.
func TestParseForwardFunctionReference(t *testing.T) {
	src := `func main(0):
  L0: call callee true
  L1: return
func callee(0):
  L0: load_expression 0
  L1: return
`
	prog, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, prog.Functions, 2)

	callee, ok := prog.Function("callee")
	require.True(t, ok)
	require.Equal(t, 0, callee.NumParams)
	require.Len(t, callee.Instructions, 2)

	main, ok := prog.Function("main")
	require.True(t, ok)
	require.Same(t, callee, main.Instructions[0].FuncRef)
}
