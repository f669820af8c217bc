// Package vm implements the stack-based bytecode interpreter (spec §3.6,
// §3.7, §4.8, §4.9): tagged runtime values, closures and upvalues, the
// per-coroutine evaluation stack, and the cooperatively scheduled
// fetch-decode-execute core.
package vm

import (
	"fmt"

	"github.com/lstf-lang/lstf/internal/jsonval"
)

// Kind tags a runtime Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindDouble
	KindBool
	KindString
	KindObjectRef
	KindArrayRef
	KindPatternRef
	KindCodeAddress
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindObjectRef:
		return "object"
	case KindArrayRef:
		return "array"
	case KindPatternRef:
		return "pattern"
	case KindCodeAddress:
		return "code-address"
	case KindClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// NoAddress is the "null" code address: the saved return address of a
// frame with no caller (a freshly scheduled coroutine's outermost frame).
const NoAddress uint64 = ^uint64(0)

// Value is a tagged VM runtime value. Unlike the original C
// implementation's manually reference-counted lstf_vm_value, object/array
// references here are plain Go pointers into a jsonval.Value graph and
// rely on the garbage collector, the same simplification package jsonval
// already documents.
type Value struct {
	Kind Kind

	I    int64
	F    float64
	B    bool
	S    string
	J    *jsonval.Value // ObjectRef, ArrayRef, PatternRef
	Addr uint64         // CodeAddress
	Cl   *Closure       // Closure
}

func Null() Value                    { return Value{Kind: KindNull} }
func Int(i int64) Value              { return Value{Kind: KindInt, I: i} }
func Double(f float64) Value         { return Value{Kind: KindDouble, F: f} }
func Bool(b bool) Value              { return Value{Kind: KindBool, B: b} }
func String(s string) Value          { return Value{Kind: KindString, S: s} }
func ObjectRef(j *jsonval.Value) Value  { return Value{Kind: KindObjectRef, J: j} }
func ArrayRef(j *jsonval.Value) Value   { return Value{Kind: KindArrayRef, J: j} }
func PatternRef(j *jsonval.Value) Value { return Value{Kind: KindPatternRef, J: j} }
func CodeAddress(addr uint64) Value  { return Value{Kind: KindCodeAddress, Addr: addr} }
func ClosureValue(cl *Closure) Value { return Value{Kind: KindClosure, Cl: cl} }

// FromJSON converts a parsed JSON value into its runtime counterpart,
// tagging patterns distinctly from plain arrays/objects (spec §3.2).
func FromJSON(j *jsonval.Value) Value {
	switch j.Kind {
	case jsonval.KindNull:
		return Null()
	case jsonval.KindBool:
		return Bool(j.Bool)
	case jsonval.KindInt:
		return Int(j.Int)
	case jsonval.KindDouble:
		return Double(j.Double)
	case jsonval.KindString:
		return String(j.Str)
	case jsonval.KindArray, jsonval.KindObject:
		if j.IsPattern {
			return PatternRef(j)
		}
		if j.Kind == jsonval.KindArray {
			return ArrayRef(j)
		}
		return ObjectRef(j)
	default:
		return Null()
	}
}

// ToJSON converts a runtime value back to the JSON value model, for
// `print`, vmcall argument/result marshalling, and debug inspection.
// CodeAddress and Closure have no JSON representation and produce an
// error, matching the original's "invalid operand type" status.
func ToJSON(v Value) (*jsonval.Value, error) {
	switch v.Kind {
	case KindNull:
		return jsonval.Null(), nil
	case KindBool:
		return jsonval.Bool(v.B), nil
	case KindInt:
		return jsonval.Int(v.I), nil
	case KindDouble:
		return jsonval.Double(v.F), nil
	case KindString:
		return jsonval.String(v.S), nil
	case KindObjectRef, KindArrayRef, KindPatternRef:
		return v.J, nil
	default:
		return nil, &TypeError{Op: "to_json", Kind: v.Kind}
	}
}

// Truthy implements the VM's boolean coercion (the `bool` opcode and
// conditional branch semantics): null and the zero value of every scalar
// kind are false; containers, code addresses, and closures are always
// true.
func Truthy(v Value) bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindDouble:
		return v.F != 0
	case KindString:
		return v.S != ""
	default:
		return true
	}
}

// TypeError reports an operation applied to a value of the wrong kind,
// the runtime counterpart of jsonval.TypeError.
type TypeError struct {
	Op   string
	Kind Kind
	Want string
}

func (e *TypeError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("vm: %s: expected %s, got %s", e.Op, e.Want, e.Kind)
	}
	return fmt.Sprintf("vm: %s: unexpected operand kind %s", e.Op, e.Kind)
}
