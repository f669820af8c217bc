package jsonval

import (
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeKey(t *testing.T) {
	require.Equal(t, "textDocument", CanonicalizeKey("text-document"))
	require.Equal(t, "textDocument", CanonicalizeKey("text_document"))
	require.Equal(t, "textDocument", CanonicalizeKey("textDocument"))
}

func TestSetMemberCanonicalizesAndDedupes(t *testing.T) {
	obj := Object()
	obj.SetMember("text-document", String("a"), false)
	obj.SetMember("textDocument", String("b"), false)
	require.Len(t, obj.Members, 1)
	v, ok := obj.GetMember("text_document")
	require.True(t, ok)
	require.Equal(t, "b", v.Str)
}

func TestPatternArrayEllipsis(t *testing.T) {
	pattern := Array(Int(1), Int(2), Ellipsis(), Int(10))
	PromotePattern(pattern)
	value := Array(Int(1), Int(2), Int(3), Int(4), Int(5), Int(6), Int(7), Int(8), Int(9), Int(10))
	require.True(t, Equal(pattern, value))
	require.True(t, Equal(value, pattern))
}

func TestPatternArrayMismatch(t *testing.T) {
	pattern := Array(Int(1), Ellipsis(), Int(99))
	value := Array(Int(1), Int(2), Int(3))
	require.False(t, Equal(pattern, value))
}

func TestPatternObjectOptionalAndPartial(t *testing.T) {
	pattern := Object()
	pattern.IsPattern = true
	pattern.PartialMatch = true
	pattern.SetMember("name", String("x"), false)
	pattern.SetMember("nickname", String("y"), true)

	value := Object(
		Member{Key: "name", Value: String("x")},
		Member{Key: "extra", Value: Int(1)},
	)
	require.True(t, Equal(pattern, value))
	require.True(t, Equal(value, pattern))
}

func TestNonPartialObjectPatternRejectsExtraMembers(t *testing.T) {
	pattern := Object()
	pattern.IsPattern = true
	pattern.SetMember("name", String("x"), false)

	value := Object(
		Member{Key: "name", Value: String("x")},
		Member{Key: "extra", Value: Int(1)},
	)
	require.False(t, Equal(pattern, value))
}

func TestEllipsisEqualsAnything(t *testing.T) {
	require.True(t, Equal(Ellipsis(), Int(5)))
	require.True(t, Equal(Object(), Ellipsis()))
}

func TestPromotePatternIsRecursive(t *testing.T) {
	child := Array(Int(1))
	parent := Object(Member{Key: "child", Value: child})
	PromotePattern(parent)
	require.True(t, parent.IsPattern)
	require.True(t, child.IsPattern)
	require.True(t, child.Elems[0].IsPattern)
}

func TestCompactCyclicGraphTerminates(t *testing.T) {
	root := Object()
	root.SetMember("self", root, false)
	out := Compact(root)
	require.Equal(t, `{"self":"[Circular *1]"}`, out)
}

func TestCompactInternalCycle(t *testing.T) {
	a := Object()
	b := Object()
	a.SetMember("b", b, false)
	b.SetMember("backToA", a, false)
	root := Object(Member{Key: "a", Value: a})
	out := Compact(root)
	require.Contains(t, out, `"[Object]"`)
}

func TestParseRoundTrip(t *testing.T) {
	v, err := Parse(`{"hello":"world","n":42,"arr":[1,2.5,null,true,false]}`)
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind)
	s, ok := v.GetMember("hello")
	require.True(t, ok)
	require.Equal(t, "world", s.Str)
}

func TestParseEllipsis(t *testing.T) {
	v, err := Parse(`[1, ..., 10]`)
	require.NoError(t, err)
	require.Equal(t, KindEllipsis, v.Elems[1].Kind)
}

func TestCompactStringLiteral(t *testing.T) {
	require.Equal(t, `"hello, world\n"`, Compact(String("hello, world\n")))
}

// TestSpewHandlesCyclicValue confirms go-spew's own cycle detection copes
// with a self-referential Value graph, the same shape Compact has to
// special-case (TestCompactCyclicGraphTerminates) — a dump that followed
// every pointer without cycle detection would recurse forever.
func TestSpewHandlesCyclicValue(t *testing.T) {
	root := Object()
	root.SetMember("self", root, false)

	done := make(chan string, 1)
	go func() { done <- spew.Sdump(root) }()
	select {
	case dump := <-done:
		require.NotEmpty(t, dump)
	case <-time.After(2 * time.Second):
		t.Fatal("spew.Sdump did not terminate on a cyclic Value")
	}
}

// TestPrettyCompareReportsPatternMismatch uses godebug/pretty's
// field-by-field diff to describe exactly which member differs when an
// object pattern fails to match, rather than just a Equal()
// boolean.
func TestPrettyCompareReportsPatternMismatch(t *testing.T) {
	pattern := Object()
	pattern.IsPattern = true
	pattern.SetMember("name", String("x"), false)

	value := Object(Member{Key: "name", Value: String("y")})
	require.False(t, Equal(pattern, value))

	diff := pretty.Compare(pattern.Members[0].Value, value.Members[0].Value)
	require.True(t, strings.Contains(diff, "x") && strings.Contains(diff, "y"),
		"expected pretty.Compare diff to mention both values, got: %s", diff)
}
