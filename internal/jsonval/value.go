// Package jsonval implements the JSON value model shared by the LSTF
// compiler and VM (spec §3.1): a tagged variant carrying pattern-match
// metadata, with insertion-ordered objects and cycle-safe serialization.
//
// Unlike the original C implementation this package does not reimplement
// manual reference counting ("floating" nodes plus an explicit refcount,
// see DESIGN.md's discussion of the open question in spec.md §9): Go's
// garbage collector already owns that problem, so constructors here return
// plainly-owned *Value and containers simply hold pointers. What is kept is
// the *structural* behavior that depends on identity rather than memory
// management: the `visiting` bit that makes printing a cyclic graph
// terminate, and pattern promotion on insertion.
package jsonval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind discriminates the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
	// KindEllipsis is the `...` pattern sentinel: it is equal to anything,
	// and inside an array pattern it absorbs any run of elements.
	KindEllipsis
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindEllipsis:
		return "..."
	default:
		return "unknown"
	}
}

// Member is one insertion-ordered key/value pair of an Object. Optional is
// only meaningful when the owning Value is a pattern: it says the member
// need not be present on the other side of a match.
type Member struct {
	Key      string
	Value    *Value
	Optional bool
}

// Value is a tagged JSON node. Arrays and objects are held by pointer so
// that a Value can be part of a cyclic graph (a member pointing back to an
// ancestor).
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Double float64
	Str    string

	Elems   []*Value
	Members []Member

	// IsPattern marks this node (and, once promoted, every descendant) as
	// participating in structural pattern matching rather than equality.
	IsPattern bool
	// PartialMatch, valid on object patterns only, allows the non-pattern
	// side to carry extra members not named by the pattern.
	PartialMatch bool

	visiting bool // cycle guard used by Compact/Pretty
}

func Null() *Value                 { return &Value{Kind: KindNull} }
func Bool(b bool) *Value           { return &Value{Kind: KindBool, Bool: b} }
func Int(i int64) *Value           { return &Value{Kind: KindInt, Int: i} }
func Double(f float64) *Value      { return &Value{Kind: KindDouble, Double: f} }
func String(s string) *Value       { return &Value{Kind: KindString, Str: s} }
func Ellipsis() *Value             { return &Value{Kind: KindEllipsis, IsPattern: true} }
func Array(elems ...*Value) *Value { return &Value{Kind: KindArray, Elems: elems} }
func Object(members ...Member) *Value {
	v := &Value{Kind: KindObject}
	for _, m := range members {
		v.SetMember(m.Key, m.Value, m.Optional)
	}
	return v
}

// caseCaser does Unicode-correct titlecasing of individual words when
// canonicalizing kebab/snake member names to camelCase.
var caseCaser = cases.Title(language.Und)

// CanonicalizeKey converts a kebab-case or snake_case member name to
// camelCase, per spec §4.1, so `{"text-document": …}` and
// `{"textDocument": …}` address the same member. Names already in camelCase
// (no separators) pass through unchanged.
func CanonicalizeKey(key string) string {
	if !strings.ContainsAny(key, "-_") {
		return key
	}
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 {
		return key
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		b.WriteString(caseCaser.String(strings.ToLower(p)))
	}
	return b.String()
}

// SetMember inserts or overwrites a member by canonicalized key, preserving
// first-insertion order. If this Value is a pattern, val is promoted to a
// pattern too (see PromotePattern).
func (v *Value) SetMember(key string, val *Value, optional bool) {
	key = CanonicalizeKey(key)
	if v.IsPattern {
		PromotePattern(val)
	}
	for i := range v.Members {
		if v.Members[i].Key == key {
			v.Members[i].Value = val
			v.Members[i].Optional = optional
			return
		}
	}
	v.Members = append(v.Members, Member{Key: key, Value: val, Optional: optional})
}

// GetMember looks up a member by canonicalized key.
func (v *Value) GetMember(key string) (*Value, bool) {
	key = CanonicalizeKey(key)
	for _, m := range v.Members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Append adds an element to an array, promoting it to a pattern first if
// the array itself is a pattern.
func (v *Value) Append(elem *Value) {
	if v.IsPattern {
		PromotePattern(elem)
	}
	v.Elems = append(v.Elems, elem)
}

// PromotePattern marks v, and recursively every descendant, as a pattern.
// It never demotes: once a subtree is a pattern it stays one (spec §3.1
// invariant: pattern containers cannot hold non-pattern descendants).
func PromotePattern(v *Value) {
	if v == nil || v.IsPattern {
		return
	}
	v.IsPattern = true
	switch v.Kind {
	case KindArray:
		for _, e := range v.Elems {
			PromotePattern(e)
		}
	case KindObject:
		for _, m := range v.Members {
			PromotePattern(m.Value)
		}
	}
}

// Equal implements spec §3.1's pattern-tolerant structural equality. It is
// commutative: Equal(a, b) == Equal(b, a).
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind == KindEllipsis || b.Kind == KindEllipsis {
		return true
	}
	pattern := a.IsPattern || b.IsPattern
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindDouble:
		return a.Double == b.Double
	case KindString:
		return a.Str == b.Str
	case KindArray:
		return equalArrays(a.Elems, b.Elems, pattern)
	case KindObject:
		return equalObjects(a, b, pattern)
	default:
		return false
	}
}

// equalArrays allows Ellipsis elements on either pattern side to absorb any
// run of elements from the other side.
func equalArrays(a, b []*Value, pattern bool) bool {
	if !pattern {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !Equal(a[i], b[i]) {
				return false
			}
		}
		return true
	}
	return matchArrayPattern(a, b) || matchArrayPattern(b, a)
}

// matchArrayPattern tries to match pat against val, treating Ellipsis
// entries in pat as wildcards that absorb any run of val elements.
func matchArrayPattern(pat, val []*Value) bool {
	var rec func(pi, vi int) bool
	rec = func(pi, vi int) bool {
		if pi == len(pat) {
			return vi == len(val)
		}
		if pat[pi].Kind == KindEllipsis {
			for k := vi; k <= len(val); k++ {
				if rec(pi+1, k) {
					return true
				}
			}
			return false
		}
		if vi == len(val) {
			return false
		}
		if !Equal(pat[pi], val[vi]) {
			return false
		}
		return rec(pi+1, vi+1)
	}
	return rec(0, 0)
}

func equalObjects(a, b *Value, pattern bool) bool {
	if !pattern {
		if len(a.Members) != len(b.Members) {
			return false
		}
		for _, am := range a.Members {
			bv, ok := b.GetMember(am.Key)
			if !ok || !Equal(am.Value, bv) {
				return false
			}
		}
		return true
	}
	switch {
	case a.IsPattern && !b.IsPattern:
		return matchObjectPattern(a, b)
	case b.IsPattern && !a.IsPattern:
		return matchObjectPattern(b, a)
	}
	return matchObjectPattern(a, b) && matchObjectPattern(b, a)
}

// matchObjectPattern checks that every non-optional member of pat (when
// pat is itself a pattern) is present and matching in val. equalObjects
// passes the pattern side as pat when only one side is a pattern, so the
// result does not depend on argument order.
func matchObjectPattern(pat, val *Value) bool {
	if !pat.IsPattern {
		// pat is the plain side: every one of its members must appear in val.
		for _, pm := range pat.Members {
			vv, ok := val.GetMember(pm.Key)
			if !ok {
				return false
			}
			if !Equal(pm.Value, vv) {
				return false
			}
		}
		return true
	}
	for _, pm := range pat.Members {
		vv, ok := val.GetMember(pm.Key)
		if !ok {
			if pm.Optional {
				continue
			}
			return false
		}
		if !Equal(pm.Value, vv) {
			return false
		}
	}
	if !pat.PartialMatch {
		for _, vm := range val.Members {
			if _, ok := pat.GetMember(vm.Key); !ok {
				return false
			}
		}
	}
	return true
}

// Compact renders v as canonical, whitespace-free JSON. Cycles are handled
// per spec §4.1/§8: a cycle back to the serialization root prints as
// `[Circular *1]`; a cycle to some other ancestor prints as `[Object]`.
func Compact(v *Value) string {
	var b strings.Builder
	writeValue(&b, v, v, false, 0)
	return b.String()
}

// Pretty renders v as indented JSON with the same cycle handling as Compact.
func Pretty(v *Value) string {
	var b strings.Builder
	writeValue(&b, v, v, true, 0)
	return b.String()
}

func writeValue(b *strings.Builder, root, v *Value, pretty bool, depth int) {
	if v == nil {
		b.WriteString("null")
		return
	}
	if v.visiting {
		if v == root {
			b.WriteString(`"[Circular *1]"`)
		} else {
			b.WriteString(`"[Object]"`)
		}
		return
	}
	switch v.Kind {
	case KindNull:
		b.WriteString("null")
	case KindEllipsis:
		b.WriteString(`"..."`)
	case KindBool:
		if v.Bool {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case KindDouble:
		b.WriteString(strconv.FormatFloat(v.Double, 'g', -1, 64))
	case KindString:
		b.WriteString(strconv.Quote(v.Str))
	case KindArray:
		v.visiting = true
		writeArray(b, root, v, pretty, depth)
		v.visiting = false
	case KindObject:
		v.visiting = true
		writeObject(b, root, v, pretty, depth)
		v.visiting = false
	}
}

func writeArray(b *strings.Builder, root, v *Value, pretty bool, depth int) {
	if len(v.Elems) == 0 {
		b.WriteString("[]")
		return
	}
	b.WriteByte('[')
	for i, e := range v.Elems {
		if i > 0 {
			b.WriteByte(',')
		}
		if pretty {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat("  ", depth+1))
		}
		writeValue(b, root, e, pretty, depth+1)
	}
	if pretty {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("  ", depth))
	}
	b.WriteByte(']')
}

func writeObject(b *strings.Builder, root, v *Value, pretty bool, depth int) {
	if len(v.Members) == 0 {
		b.WriteString("{}")
		return
	}
	b.WriteByte('{')
	for i, m := range v.Members {
		if i > 0 {
			b.WriteByte(',')
		}
		if pretty {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat("  ", depth+1))
		}
		b.WriteString(strconv.Quote(m.Key))
		b.WriteByte(':')
		if pretty {
			b.WriteByte(' ')
		}
		writeValue(b, root, m.Value, pretty, depth+1)
	}
	if pretty {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("  ", depth))
	}
	b.WriteByte('}')
}

// SortedKeys returns a copy of v's member keys in lexical order; used only
// for debug/diagnostic output, never for serialization (which must stay
// insertion-ordered per spec §3.5's data-section interning invariants).
func SortedKeys(v *Value) []string {
	keys := make([]string, len(v.Members))
	for i, m := range v.Members {
		keys[i] = m.Key
	}
	sort.Strings(keys)
	return keys
}

// TypeError reports that a Value did not have the Kind an operation
// required, mirroring vm.Status InvalidOperandType at the value-model layer.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("jsonval: expected %s, got %s", e.Want, e.Got)
}
