package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/bytecode"
)

func instr(op bytecode.Opcode) *bytecode.Instruction { return &bytecode.Instruction{Op: op} }

func TestPrintHelloWorld(t *testing.T) {
	bp := bytecode.NewProgram()
	bp.SourceFilename = "hello.lstf"
	off := bp.InternString(`"hello, world"`)
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: off},
		instr(bytecode.OpPrint),
		instr(bytecode.OpReturn),
	}}
	bp.AddFunction(main)
	bp.EntryFunction = "main"
	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	var out strings.Builder
	m := New(prog, &out)
	m.Start(nil)
	require.NoError(t, m.Run())
	require.Equal(t, `"hello, world"`+"\n", out.String())
}

func TestArithmeticAddition(t *testing.T) {
	bp := bytecode.NewProgram()
	two := bp.InternString("2")
	three := bp.InternString("3")
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: two},
		{Op: bytecode.OpLoadExpression, DataOffset: three},
		instr(bytecode.OpAdd),
		instr(bytecode.OpPrint),
		instr(bytecode.OpReturn),
	}}
	bp.AddFunction(main)
	bp.EntryFunction = "main"
	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	var out strings.Builder
	m := New(prog, &out)
	m.Start(nil)
	require.NoError(t, m.Run())
	require.Equal(t, "5\n", out.String())
}

// TestCallReturnsValue exercises a direct call with one parameter: main
// pushes an int argument, calls add_one, which loads its parameter, adds
// one, and returns the result for main to print.
func TestCallReturnsValue(t *testing.T) {
	bp := bytecode.NewProgram()
	one := bp.InternString("1")
	arg := bp.InternString("41")

	addOne := &bytecode.Function{Name: "add_one", NumParams: 1, Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 1},
		{Op: bytecode.OpLoadFrame, FrameOffset: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: one},
		instr(bytecode.OpAdd),
		instr(bytecode.OpReturn),
	}}
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: arg},
		{Op: bytecode.OpCall, FuncRef: addOne, HasResult: true},
		instr(bytecode.OpPrint),
		instr(bytecode.OpReturn),
	}}
	bp.AddFunction(addOne)
	bp.AddFunction(main)
	bp.EntryFunction = "main"

	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	var out strings.Builder
	m := New(prog, &out)
	m.Start(nil)
	require.NoError(t, m.Run())
	require.Equal(t, "42\n", out.String())
}

func TestUpvalueSharedBetweenCaptures(t *testing.T) {
	uv := &Upvalue{open: true}
	a := &Closure{Upvalues: []*Upvalue{uv}}
	b := &Closure{Upvalues: []*Upvalue{uv}}

	co := &Coroutine{}
	co.Stack.Values = []Value{Int(1)}
	uv.open = true
	uv.coroutine = co
	uv.index = 0

	a.Upvalues[0].Set(Int(7))
	require.Equal(t, int64(7), b.Upvalues[0].Get().I, "both closures must see the write through the shared upvalue")
}

func TestScheduleRunsCoroutineConcurrently(t *testing.T) {
	bp := bytecode.NewProgram()
	msg := bp.InternString(`"from coroutine"`)

	worker := &bytecode.Function{Name: "worker", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpLoadExpression, DataOffset: msg},
		instr(bytecode.OpPrint),
		instr(bytecode.OpReturn),
	}}
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpSchedule, FuncRef: worker, Count: 0},
		instr(bytecode.OpReturn),
	}}
	bp.AddFunction(worker)
	bp.AddFunction(main)
	bp.EntryFunction = "main"

	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	var out strings.Builder
	m := New(prog, &out)
	m.Start(nil)
	require.NoError(t, m.Run())
	require.Equal(t, `"from coroutine"`+"\n", out.String())
}

func TestStackUnderflowFaults(t *testing.T) {
	bp := bytecode.NewProgram()
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		instr(bytecode.OpPop), // nothing on the stack to pop
		instr(bytecode.OpReturn),
	}}
	bp.AddFunction(main)
	bp.EntryFunction = "main"

	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	m := New(prog, nil)
	m.Start(nil)
	err = m.Run()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStackUnderflow))
}

func TestInvalidInstructionFaults(t *testing.T) {
	bp := bytecode.NewProgram()
	main := &bytecode.Function{Name: "main", Instructions: []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.Opcode(200)},
	}}
	bp.AddFunction(main)
	bp.EntryFunction = "main"

	raw, err := bcformat.Serialize(bp)
	require.NoError(t, err)
	prog, err := bcformat.Load(raw)
	require.NoError(t, err)

	m := New(prog, nil)
	m.Start(nil)
	err = m.Run()
	require.Error(t, err)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, StatusInvalidInstruction, f.Status)
}
