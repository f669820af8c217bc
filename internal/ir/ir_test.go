package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/jsonval"
)

func TestSimplifyCFGRemovesEmptyJoinBlocks(t *testing.T) {
	fn := NewUserFunction("f", 0, 0, false)
	join := fn.AddBlock("join") // empty, falls through to exit
	fn.Entry.Taken = join
	join.Taken = fn.Exit

	SimplifyCFG(fn)

	require.Equal(t, fn.Exit, fn.Entry.Taken)
	for _, bb := range fn.Blocks {
		require.NotEqual(t, "join", bb.Label)
	}
}

func TestComputeStackPopPointsDropsLocalAtEachVoidReturn(t *testing.T) {
	fn := NewUserFunction("f", 0, 0, true)

	c := NewConst(nil, jsonval.Int(1))
	fn.Entry.Emit(c)
	local := NewAlloc(nil, false, c)
	fn.Entry.Emit(local)

	thenBB := fn.AddBlock("then")
	elseBB := fn.AddBlock("else")

	cond := NewConst(nil, jsonval.Bool(true))
	fn.Entry.Emit(cond)
	fn.Entry.Taken = thenBB
	fn.Entry.NotTaken = elseBB
	fn.Entry.Emit(NewBranch(nil, cond, thenBB, elseBB))

	thenBB.Emit(NewReturn(nil, nil))
	elseBB.Emit(NewReturn(nil, nil))

	Analyze(fn)

	require.Equal(t, 0, fn.Entry.VariablesKilled)
	require.Equal(t, 1, thenBB.VariablesKilled)
	require.Equal(t, 1, elseBB.VariablesKilled)
}

func TestComputeStackPopPointsKeepsLocalLiveAcrossLoop(t *testing.T) {
	fn := NewUserFunction("f", 0, 0, false)

	c := NewConst(nil, jsonval.Int(0))
	fn.Entry.Emit(c)
	local := NewAlloc(nil, false, c)
	fn.Entry.Emit(local)

	loop := fn.AddBlock("loop")
	fn.Entry.Taken = loop

	use := NewLoad(nil, local)
	loop.Emit(use)
	loop.Taken = loop
	loop.NotTaken = fn.Exit
	loop.Emit(NewBranch(nil, use, loop, fn.Exit))

	Analyze(fn)

	require.Equal(t, 0, fn.Entry.VariablesKilled)
	require.Equal(t, 0, loop.VariablesKilled)
}
