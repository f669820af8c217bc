package vm

// Upvalue is either open (aliasing a live slot on some coroutine's value
// stack) or closed (owning a materialized Value directly). Spec §3.3
// resolves the "capture ambiguity" open question explicitly: two closures
// that capture the same local at closure-creation time must share one
// open Upvalue, so that a write through either closure is visible through
// the other until the frame that owns the slot returns and the upvalue is
// closed.
type Upvalue struct {
	open      bool
	coroutine *Coroutine
	index     int // absolute index into coroutine.Stack.Values, while open
	closedVal Value
}

// NewOpenUpvalue returns an upvalue aliasing the given coroutine's stack
// slot at the given absolute index.
func NewOpenUpvalue(co *Coroutine, index int) *Upvalue {
	return &Upvalue{open: true, coroutine: co, index: index}
}

// Get reads the upvalue's current value.
func (u *Upvalue) Get() Value {
	if u.open {
		return u.coroutine.Stack.Values[u.index]
	}
	return u.closedVal
}

// Set writes through the upvalue.
func (u *Upvalue) Set(v Value) {
	if u.open {
		u.coroutine.Stack.Values[u.index] = v
		return
	}
	u.closedVal = v
}

// IsOpen reports whether the upvalue still aliases a live stack slot.
func (u *Upvalue) IsOpen() bool { return u.open }

// Close severs the upvalue from the stack, copying out its current value,
// so it survives after the frame that owns its slot is torn down.
func (u *Upvalue) Close() {
	if !u.open {
		return
	}
	u.closedVal = u.coroutine.Stack.Values[u.index]
	u.open = false
	u.coroutine = nil
}

// Closure pairs a function's entry address with the upvalues it captured
// at creation time.
type Closure struct {
	Entry    uint64
	Upvalues []*Upvalue
}
