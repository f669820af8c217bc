package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/ir"
	"github.com/lstf-lang/lstf/internal/jsonval"
	"github.com/lstf-lang/lstf/internal/vm"
)

func run(t *testing.T, prog *ir.Program, entry string) string {
	t.Helper()
	raw, err := CompileIR(prog, "test.lstf", Options{EntryFunction: entry})
	require.NoError(t, err)
	loaded, err := LoadProgram(raw)
	require.NoError(t, err)

	var out strings.Builder
	m := vm.New(loaded, &out)
	m.Start(nil)
	require.NoError(t, m.Run())
	return out.String()
}

func newPrintPrimitive() *ir.Function {
	return ir.NewPrimitiveFunction("print", 1, false, true, bytecode.OpPrint, 0)
}

func TestEndToEndHelloWorld(t *testing.T) {
	prog := &ir.Program{}
	printFn := newPrintPrimitive()
	prog.AddFunction(printFn)

	main := ir.NewUserFunction("main", 0, 0, false)
	greeting := ir.NewConst(nil, jsonval.String("hello, world"))
	main.Entry.Emit(greeting)
	main.Entry.Emit(ir.NewCall(nil, printFn, []ir.Instruction{greeting}))
	main.Entry.Emit(ir.NewReturn(nil, nil))
	prog.AddFunction(main)

	require.Equal(t, "\"hello, world\"\n", run(t, prog, "main"))
}

func TestEndToEndRecursiveFactorial(t *testing.T) {
	prog := &ir.Program{}
	printFn := newPrintPrimitive()
	prog.AddFunction(printFn)

	fact := ir.NewUserFunction("fact", 1, 0, true)
	n := fact.Params()[0]

	loadN := ir.NewLoad(nil, n)
	one := ir.NewConst(nil, jsonval.Int(1))
	le := ir.NewBinary(nil, ir.BinLessThanEqual)
	fact.Entry.Emit(loadN)
	fact.Entry.Emit(one)
	fact.Entry.Emit(le)

	baseBB := fact.AddBlock("base")
	recBB := fact.AddBlock("rec")
	fact.Entry.Taken = baseBB
	fact.Entry.NotTaken = recBB
	fact.Entry.Emit(ir.NewBranch(nil, le, baseBB, recBB))

	baseOne := ir.NewConst(nil, jsonval.Int(1))
	baseBB.Emit(baseOne)
	baseBB.Emit(ir.NewReturn(nil, baseOne))

	loadNforMul := ir.NewLoad(nil, n)
	loadNforSub := ir.NewLoad(nil, n)
	subOne := ir.NewConst(nil, jsonval.Int(1))
	sub := ir.NewBinary(nil, ir.BinSub)
	recCall := ir.NewCall(nil, fact, []ir.Instruction{sub})
	mul := ir.NewBinary(nil, ir.BinMul)
	recBB.Emit(loadNforMul)
	recBB.Emit(loadNforSub)
	recBB.Emit(subOne)
	recBB.Emit(sub)
	recBB.Emit(recCall)
	recBB.Emit(mul)
	recBB.Emit(ir.NewReturn(nil, mul))
	prog.AddFunction(fact)

	main := ir.NewUserFunction("main", 0, 0, false)
	five := ir.NewConst(nil, jsonval.Int(5))
	callFact := ir.NewCall(nil, fact, []ir.Instruction{five})
	main.Entry.Emit(five)
	main.Entry.Emit(callFact)
	main.Entry.Emit(ir.NewCall(nil, printFn, []ir.Instruction{callFact}))
	main.Entry.Emit(ir.NewReturn(nil, nil))
	prog.AddFunction(main)

	require.Equal(t, "120\n", run(t, prog, "main"))
}

// TestEndToEndClosureSharedCounter builds make_counter, a function whose
// parameter is captured by reference into a returned closure, and checks
// that two calls through that closure observe the same, incrementing
// state: the upvalue-sharing behavior of spec §3.3. The captured value is
// a parameter rather than a function-local allocation, so the frame that
// produced it tears down with exactly the one live return value the
// calling convention expects; the open upvalue over its slot survives
// past that teardown via Stack's close-on-teardown step.
func TestEndToEndClosureSharedCounter(t *testing.T) {
	prog := &ir.Program{}
	printFn := newPrintPrimitive()
	prog.AddFunction(printFn)

	increment := ir.NewUserFunction("increment", 0, 1, true)
	getOld := ir.NewGetUpvalue(nil, 0)
	one := ir.NewConst(nil, jsonval.Int(1))
	add := ir.NewBinary(nil, ir.BinAdd)
	setNew := ir.NewSetUpvalue(nil, 0, add)
	getNew := ir.NewGetUpvalue(nil, 0)
	increment.Entry.Emit(getOld)
	increment.Entry.Emit(one)
	increment.Entry.Emit(add)
	increment.Entry.Emit(setNew)
	increment.Entry.Emit(getNew)
	increment.Entry.Emit(ir.NewReturn(nil, getNew))
	prog.AddFunction(increment)

	makeCounter := ir.NewUserFunction("make_counter", 1, 0, true)
	start := makeCounter.Params()[0]
	closure := ir.NewClosure(nil, increment, []ir.Capture{{IsLocal: true, Local: start}})
	makeCounter.Entry.Emit(closure)
	makeCounter.Entry.Emit(ir.NewReturn(nil, closure))
	prog.AddFunction(makeCounter)

	// IndirectCall consumes whatever closure value sits on top of the
	// stack, so each call below operates on its own copy (via Load) of
	// the original closure that mkCall produced, leaving that original
	// slot untouched for the second copy to read.
	main := ir.NewUserFunction("main", 0, 0, false)
	zero := ir.NewConst(nil, jsonval.Int(0))
	main.Entry.Emit(zero)
	mkCall := ir.NewCall(nil, makeCounter, []ir.Instruction{zero})
	main.Entry.Emit(mkCall)
	// Held in a named local so the stack-pop-point analysis pops it before
	// main returns, rather than leaving it live forever on the stack.
	counterVar := ir.NewAlloc(nil, false, mkCall)
	main.Entry.Emit(counterVar)

	firstCopy := ir.NewLoad(nil, counterVar)
	main.Entry.Emit(firstCopy)
	firstCall := ir.NewIndirectCall(nil, firstCopy, nil, true)
	main.Entry.Emit(firstCall)
	main.Entry.Emit(ir.NewCall(nil, printFn, []ir.Instruction{firstCall}))

	secondCopy := ir.NewLoad(nil, counterVar)
	main.Entry.Emit(secondCopy)
	secondCall := ir.NewIndirectCall(nil, secondCopy, nil, true)
	main.Entry.Emit(secondCall)
	main.Entry.Emit(ir.NewCall(nil, printFn, []ir.Instruction{secondCall}))
	main.Entry.Emit(ir.NewReturn(nil, nil))
	prog.AddFunction(main)

	require.Equal(t, "1\n2\n", run(t, prog, "main"))
}
