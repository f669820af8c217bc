package ir

// bitset is a small fixed-growth bit vector used by the stack-pop-point
// dataflow analysis below. It is not safe for concurrent use.
type bitset []uint64

func newBitset(nbits int) bitset {
	return make(bitset, (nbits+63)/64)
}

func (b bitset) clone() bitset {
	out := make(bitset, len(b))
	copy(out, b)
	return out
}

func (b bitset) set(i int)      { b[i/64] |= 1 << uint(i%64) }
func (b bitset) has(i int) bool { return b[i/64]&(1<<uint(i%64)) != 0 }

func (b bitset) fillUniverse(nbits int) {
	for i := 0; i < nbits; i++ {
		b.set(i)
	}
}

func (b bitset) unionInto(other bitset) {
	for i := range b {
		b[i] |= other[i]
	}
}

func (b bitset) intersectInto(other bitset) {
	for i := range b {
		b[i] &= other[i]
	}
}

func (b bitset) subtract(other bitset) bitset {
	out := make(bitset, len(b))
	for i := range b {
		out[i] = b[i] &^ other[i]
	}
	return out
}

func (b bitset) equal(other bitset) bool {
	for i := range b {
		if b[i] != other[i] {
			return false
		}
	}
	return true
}

func (b bitset) popcount() int {
	n := 0
	for _, w := range b {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

// SimplifyCFG removes empty, non-entry, non-exit blocks by splicing each
// one's unique predecessors directly to its unique successor, per spec
// §4.3. A block counts as "empty" here if it holds no instructions of its
// own (it exists purely to join or forward control flow).
func SimplifyCFG(fn *Function) {
	if fn.IsPrimitive {
		return
	}
	for {
		removed := false
		kept := make([]*BasicBlock, 0, len(fn.Blocks))
		for _, bb := range fn.Blocks {
			if bb == fn.Entry || bb == fn.Exit || len(bb.Instructions) != 0 || bb.Taken == nil {
				kept = append(kept, bb)
				continue
			}
			target := bb.Taken
			for _, other := range fn.Blocks {
				if other.Taken == bb {
					other.Taken = target
				}
				if other.NotTaken == bb {
					other.NotTaken = target
				}
			}
			if fn.Entry == bb {
				fn.Entry = target
			}
			removed = true
		}
		fn.Blocks = kept
		if !removed {
			break
		}
	}
	rebuildPreds(fn)
}

func rebuildPreds(fn *Function) {
	for _, bb := range fn.Blocks {
		bb.Preds = nil
	}
	for _, bb := range fn.Blocks {
		for _, succ := range bb.Successors() {
			succ.Preds = append(succ.Preds, bb)
		}
	}
}

// ComputeStackPopPoints runs the forward GEN/KILL dataflow analysis of spec
// §4.3 and records each block's VariablesKilled: the number of local
// variables (Alloc instructions with an initializer) that are live coming
// out of the block but dead on every non-exit successor, and therefore
// must be popped off the evaluation stack before the block's terminator
// executes. KILL is always empty: once a variable is allocated in a
// function it stays allocated until the function returns.
func ComputeStackPopPoints(fn *Function) {
	if fn.IsPrimitive {
		return
	}
	locals := collectLocals(fn)
	nbits := len(locals)
	if nbits == 0 {
		for _, bb := range fn.Blocks {
			bb.VariablesKilled = 0
		}
		return
	}
	localIndex := make(map[*AllocInstr]int, nbits)
	for i, a := range locals {
		localIndex[a] = i
	}

	gen := make(map[*BasicBlock]bitset, len(fn.Blocks))
	for _, bb := range fn.Blocks {
		g := newBitset(nbits)
		for _, ins := range bb.Instructions {
			if a, ok := ins.(*AllocInstr); ok && !a.Automatic {
				g.set(localIndex[a])
			}
		}
		gen[bb] = g
	}

	in := make(map[*BasicBlock]bitset, len(fn.Blocks))
	out := make(map[*BasicBlock]bitset, len(fn.Blocks))
	for _, bb := range fn.Blocks {
		out[bb] = newBitset(nbits)
		out[bb].fillUniverse(nbits)
	}
	entryIn := newBitset(nbits)
	entryIn.fillUniverse(nbits)
	in[fn.Entry] = entryIn

	for {
		changed := false
		for _, bb := range fn.Blocks {
			var newIn bitset
			if bb == fn.Entry || len(bb.Preds) == 0 {
				newIn = entryIn.clone()
			} else {
				newIn = in[bb]
				if newIn == nil {
					newIn = newBitset(nbits)
					newIn.fillUniverse(nbits)
				} else {
					newIn = newIn.clone()
				}
				first := true
				for _, p := range bb.Preds {
					po := out[p]
					if po == nil {
						po = newBitset(nbits)
					}
					if first {
						newIn = po.clone()
						first = false
					} else {
						newIn.intersectInto(po)
					}
				}
			}
			newOut := newIn.clone()
			newOut.unionInto(gen[bb])

			if prevIn, ok := in[bb]; !ok || !prevIn.equal(newIn) {
				changed = true
			}
			if prevOut, ok := out[bb]; !ok || !prevOut.equal(newOut) {
				changed = true
			}
			in[bb] = newIn
			out[bb] = newOut
		}
		if !changed {
			break
		}
	}

	for _, bb := range fn.Blocks {
		live := out[bb].clone()
		for _, succ := range bb.Successors() {
			if succ == fn.Exit {
				continue
			}
			live = live.subtract(in[succ])
		}
		bb.VariablesKilled = live.popcount()
	}
}

// collectLocals enumerates, in program order across all blocks, every
// Alloc instruction with an initializer: the bits the stack-pop-point
// analysis tracks.
func collectLocals(fn *Function) []*AllocInstr {
	var locals []*AllocInstr
	for _, bb := range fn.Blocks {
		for _, ins := range bb.Instructions {
			if a, ok := ins.(*AllocInstr); ok && !a.Automatic {
				locals = append(locals, a)
			}
		}
	}
	return locals
}

// Analyze runs both CFG simplification and the stack-pop-point analysis,
// in that order, matching the pipeline order of spec §4.3.
func Analyze(fn *Function) {
	SimplifyCFG(fn)
	ComputeStackPopPoints(fn)
}
