package bcformat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

func TestSerializeLoadRoundTrip(t *testing.T) {
	prog := bytecode.NewProgram()
	dataOff := prog.InternString(`"hello, world\n"`)

	main := &bytecode.Function{Name: "main"}
	main.Instructions = []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: dataOff},
		{Op: bytecode.OpPrint},
		{Op: bytecode.OpReturn},
	}
	require.NoError(t, prog.AddFunction(main))
	prog.EntryFunction = "main"
	prog.SourceMap["main"] = []bytecode.SourceMapEntry{{InstructionIndex: 2, Line: 1, Column: 1}}

	raw, err := Serialize(prog)
	require.NoError(t, err)

	loaded, err := Load(raw)
	require.NoError(t, err)

	require.Equal(t, uint64(0), loaded.EntryPoint)
	require.Len(t, loaded.Functions, 1)
	require.Equal(t, "main", loaded.Functions[0].Name)
	require.Equal(t, loaded.Code[0], byte(bytecode.OpParams))

	entries := loaded.SourceMap["main"]
	require.Len(t, entries, 1)
	require.Equal(t, 1, entries[0].Line)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestLoadRejectsTruncated(t *testing.T) {
	_, err := Load(Magic[:])
	require.Error(t, err)
}
