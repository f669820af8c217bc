package vm

import "fmt"

// Frame is one call's activation record. Per spec §3.7 it stores the
// absolute index where the frame's locals begin; the saved return address
// and the frame's declared parameters live on the shared value stack
// itself, immediately below and from Base onward respectively.
type Frame struct {
	Base       int
	NumParams  int
	HasCaller  bool
	ReturnAddr uint64
	Closure    *Closure

	// captured remembers, by offset relative to Base, any open upvalue
	// already created for that slot, so repeat captures of the same local
	// (spec §3.3's sharing rule) reuse one Upvalue instead of creating a
	// second alias.
	captured map[int]*Upvalue
}

func (f *Frame) openUpvalue(co *Coroutine, relOffset int) *Upvalue {
	if f.captured == nil {
		f.captured = make(map[int]*Upvalue)
	}
	if uv, ok := f.captured[relOffset]; ok {
		return uv
	}
	uv := NewOpenUpvalue(co, f.Base+relOffset)
	f.captured[relOffset] = uv
	return uv
}

// Stack is one coroutine's evaluation stack: a flat value array plus a
// parallel frame stack, matching spec §3.7.
type Stack struct {
	Values []Value
	Frames []*Frame
}

// ErrStackUnderflow, ErrFrameUnderflow, and ErrInvalidStackOffset are the
// stack-discipline failures of spec §7.
var (
	ErrStackUnderflow     = fmt.Errorf("vm: stack underflow")
	ErrFrameUnderflow     = fmt.Errorf("vm: frame underflow")
	ErrInvalidStackOffset = fmt.Errorf("vm: invalid stack offset")
)

func (s *Stack) Push(v Value) { s.Values = append(s.Values, v) }

func (s *Stack) Pop() (Value, error) {
	floor := 0
	if n := len(s.Frames); n > 0 {
		floor = s.Frames[n-1].Base
	}
	if len(s.Values) <= floor {
		return Value{}, ErrStackUnderflow
	}
	v := s.Values[len(s.Values)-1]
	s.Values = s.Values[:len(s.Values)-1]
	return v, nil
}

func (s *Stack) CurrentFrame() (*Frame, error) {
	if len(s.Frames) == 0 {
		return nil, ErrFrameUnderflow
	}
	return s.Frames[len(s.Frames)-1], nil
}

// GetFrameValue reads the slot at the given offset relative to the current
// frame's base (spec §4.9's load_frame; negative offsets are valid and
// reach below the frame's base).
func (s *Stack) GetFrameValue(offset int64) (Value, error) {
	f, err := s.CurrentFrame()
	if err != nil {
		return Value{}, err
	}
	idx := f.Base + int(offset)
	if idx < 0 || idx >= len(s.Values) {
		return Value{}, ErrInvalidStackOffset
	}
	return s.Values[idx], nil
}

// SetFrameValue writes the slot at the given offset relative to the
// current frame's base (spec §4.9's store).
func (s *Stack) SetFrameValue(offset int64, v Value) error {
	f, err := s.CurrentFrame()
	if err != nil {
		return err
	}
	idx := f.Base + int(offset)
	if idx < 0 || idx >= len(s.Values) {
		return ErrInvalidStackOffset
	}
	s.Values[idx] = v
	return nil
}

// OpenUpvalue returns (creating and caching if needed) the open upvalue
// for the current frame's slot at the given relative offset.
func (s *Stack) OpenUpvalue(co *Coroutine, offset int) (*Upvalue, error) {
	f, err := s.CurrentFrame()
	if err != nil {
		return nil, err
	}
	return f.openUpvalue(co, offset), nil
}

// SetupFrame pushes a new frame. hasCaller is false only for a freshly
// scheduled coroutine's outermost call, which has no return address to
// save. The saved return address (or the NoAddress sentinel) is pushed as
// the slot immediately below the new frame's Base, matching spec §4.8.
func (s *Stack) SetupFrame(hasCaller bool, returnAddr uint64, closure *Closure) *Frame {
	addr := returnAddr
	if !hasCaller {
		addr = NoAddress
	}
	s.Push(CodeAddress(addr))
	f := &Frame{Base: len(s.Values), HasCaller: hasCaller, ReturnAddr: addr, Closure: closure}
	s.Frames = append(s.Frames, f)
	return f
}

// SetParameters implements the `params n` opcode. For a call from a
// non-coroutine caller it copies the n argument values the caller left
// just below the new frame's base into the frame's own first n slots (the
// callee-cleans-args convention: the originals are popped from the
// caller's side only at TeardownFrame time). A freshly scheduled
// coroutine's parameters are already placed at frame setup by the
// scheduler, so this only records NumParams for later bookkeeping.
func (s *Stack) SetParameters(n int) error {
	f, err := s.CurrentFrame()
	if err != nil {
		return err
	}
	f.NumParams = n
	if !f.HasCaller {
		return nil
	}
	argsStart := f.Base - 1 - n // one slot below Base is the saved return address
	if argsStart < 0 {
		return ErrInvalidStackOffset
	}
	for i := 0; i < n; i++ {
		s.Push(s.Values[argsStart+i])
	}
	return nil
}

// TeardownResult is what TeardownFrame reports back to the VM core so it
// knows where to resume execution (or whether the coroutine finished).
type TeardownResult struct {
	HasCaller  bool
	ReturnAddr uint64
}

// TeardownFrame implements `return`'s frame-popping half (spec §4.8): it
// pops the optional return value, the frame's declared parameters and the
// saved return address, closes any open upvalues the frame owned, and
// (when there is a caller) also pops that caller's originally pushed
// arguments before pushing the return value back onto the caller's stack.
func (s *Stack) TeardownFrame() (TeardownResult, error) {
	f, err := s.CurrentFrame()
	if err != nil {
		return TeardownResult{}, err
	}
	total := len(s.Values) - f.Base
	var retVal *Value
	switch total {
	case f.NumParams:
	case f.NumParams + 1:
		v := s.Values[len(s.Values)-1]
		retVal = &v
		s.Values = s.Values[:len(s.Values)-1]
	default:
		return TeardownResult{}, fmt.Errorf("vm: invalid return: %d values live, expected %d or %d", total, f.NumParams, f.NumParams+1)
	}

	for _, uv := range f.captured {
		uv.Close()
	}

	// Drop the return-address slot and this frame's parameter copies.
	s.Values = s.Values[:f.Base-1]
	s.Frames = s.Frames[:len(s.Frames)-1]

	result := TeardownResult{HasCaller: f.HasCaller, ReturnAddr: f.ReturnAddr}
	if !f.HasCaller {
		return result, nil
	}
	if len(s.Values) < f.NumParams {
		return TeardownResult{}, ErrStackUnderflow
	}
	s.Values = s.Values[:len(s.Values)-f.NumParams]
	if retVal != nil {
		s.Push(*retVal)
	}
	return result, nil
}
