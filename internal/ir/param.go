package ir

// ParamInstr is a placeholder pseudo-instruction representing the Index'th
// formal parameter's frame slot. It is never emitted as bytecode on its
// own (the function prologue's single `params` instruction places all
// parameters at once); Load instructions reference it like any other
// value-producing instruction so the rest of a function body does not
// need to special-case "this value came from a parameter" versus "this
// value came from a local".
type ParamInstr struct {
	InstrMeta
	Index int
}

func NewParam(src SourceNode, index int) *ParamInstr {
	return &ParamInstr{InstrMeta: newMeta(src), Index: index}
}

// Params returns the function's NumParams parameter placeholders, in
// order, creating and caching them on first use.
func (f *Function) Params() []*ParamInstr {
	if f.params == nil {
		f.params = make([]*ParamInstr, f.NumParams)
		for i := range f.params {
			f.params[i] = NewParam(nil, i)
		}
	}
	return f.params
}
