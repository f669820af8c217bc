package disasm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/vm"
)

func loadTestProgram(t *testing.T) *bcformat.Program {
	t.Helper()
	prog := bytecode.NewProgram()
	dataOff := prog.InternString(`"hi\n"`)

	main := &bytecode.Function{Name: "main"}
	main.Instructions = []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: dataOff},
		{Op: bytecode.OpPrint},
		{Op: bytecode.OpReturn},
	}
	require.NoError(t, prog.AddFunction(main))
	prog.EntryFunction = "main"

	raw, err := bcformat.Serialize(prog)
	require.NoError(t, err)
	loaded, err := bcformat.Load(raw)
	require.NoError(t, err)
	return loaded
}

// TestWriteListsEveryInstruction checks the tabular listing covers the
// whole function body without needing to assert on tablewriter's exact
// box-drawing output.
func TestWriteListsEveryInstruction(t *testing.T) {
	loaded := loadTestProgram(t)
	var buf strings.Builder
	require.NoError(t, Write(&buf, loaded))

	out := buf.String()
	require.Contains(t, out, "func main(0)")
	require.Contains(t, out, bytecode.OpPrint.String())
	require.Contains(t, out, bytecode.OpReturn.String())
}

// TestWriteAssemblyMatchesDecodedOperands decodes the loaded program
// instruction-by-instruction and compares the fields WriteAssembly reads
// against what vm.Decode actually reports, so a future operand-decoding
// change that silently drops a field shows up as a diff instead of a
// passing-but-wrong disassembly.
func TestWriteAssemblyMatchesDecodedOperands(t *testing.T) {
	loaded := loadTestProgram(t)

	fn := loaded.Functions[0]
	d, err := vm.Decode(loaded.Code, fn.CodeOffset)
	require.NoError(t, err)

	want := vm.Decoded{Op: bytecode.OpParams, Count: 0, Upvalues: []vm.DecodedUpvalue{}, Next: d.Next}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("decoded first instruction mismatch (-want +got):\n%s", diff)
	}

	var buf strings.Builder
	require.NoError(t, WriteAssembly(&buf, loaded))
	require.Contains(t, buf.String(), "func main(0):")
	require.Contains(t, buf.String(), string(bytecode.OpPrint.String()))
}
