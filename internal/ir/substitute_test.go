package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteFreeVariable(t *testing.T) {
	e := NewAdd(Var("x"), Var("y"))
	out := SubstituteExpr("x", ConstInt(3), e)
	assert.True(t, Equal(NewAdd(ConstInt(3), Var("y")), out))
}

func TestSubstituteUnboundNameIsIdentity(t *testing.T) {
	e := NewAdd(Var("x"), Var("y"))
	out := SubstituteExpr("z", ConstInt(3), e)
	assert.True(t, SameAs(e, out))
}

func TestSubstituteRespectsLetShadowing(t *testing.T) {
	// let x = x + 1 in x * 2: the value's x is free, the body's is not.
	e := NewLet("x", NewAdd(Var("x"), ConstInt(1)), NewMul(Var("x"), ConstInt(2)))
	out := SubstituteExpr("x", ConstInt(10), e).(*Let)
	assert.True(t, Equal(&Add{A: ConstInt(10), B: ConstInt(1)}, out.Value))
	assert.True(t, Equal(NewMul(Var("x"), ConstInt(2)), out.Body))
}

func TestSubstituteRespectsForShadowing(t *testing.T) {
	body := NewStore("buf", Var("x"), Var("x"), nil, Alignment{}, Binding{})
	loop := NewFor("x", Var("x"), ConstInt(4), Serial, DeviceNone, body)
	out := SubstituteStmt("x", ConstInt(7), loop).(*For)
	// The min is outside the binding; the body is not.
	assert.True(t, Equal(ConstInt(7), out.Min))
	assert.True(t, SameAs(body, out.Body))
}

func TestSubstituteSimultaneous(t *testing.T) {
	// Simultaneous substitution must not chain x -> y -> z.
	e := NewAdd(Var("x"), Var("y"))
	out := SubstituteMapExpr(map[string]Expr{
		"x": Var("y"),
		"y": Var("z"),
	}, e)
	assert.True(t, Equal(NewAdd(Var("y"), Var("z")), out))
}

func TestSubstituteIdempotentMap(t *testing.T) {
	m := map[string]Expr{"x": Var("u"), "y": Var("v")}
	e := NewMul(NewAdd(Var("x"), Var("y")), Var("z"))
	once := SubstituteMapExpr(m, e)
	twice := SubstituteMapExpr(m, once)
	assert.True(t, Equal(once, twice))
}

func TestSubstituteByStructure(t *testing.T) {
	find := NewAdd(Var("x"), ConstInt(1))
	e := NewMul(NewAdd(Var("x"), ConstInt(1)), ConstInt(2))
	out := SubstituteExprTree(find, Var("t"), e)
	assert.True(t, Equal(NewMul(Var("t"), ConstInt(2)), out))
}

func TestQualifyPrefixesVariablesAndLets(t *testing.T) {
	e := NewLet("t", NewAdd(Var("x"), ConstInt(1)), NewMul(Var("t"), Var("y")))
	out := Qualify("f.", e)

	names := map[string]bool{}
	binders := map[string]bool{}
	Walk(out, func(n Node) bool {
		switch v := n.(type) {
		case *Variable:
			names[v.Name] = true
		case *Let:
			binders[v.Name] = true
		}
		return true
	})
	assert.True(t, names["f.x"])
	assert.True(t, names["f.t"])
	assert.True(t, names["f.y"])
	assert.True(t, binders["f.t"])
	assert.False(t, names["x"])
}

func TestQualifyLeavesBufferParamsAlone(t *testing.T) {
	buf := NewBufferVariable("input.buffer", "input")
	e := &Add{A: Var("x"), B: buf}
	out := Qualify("g.", e).(*Add)
	assert.Equal(t, "g.x", out.A.(*Variable).Name)
	assert.True(t, SameAs(buf, out.B))
}

func TestScopeBasics(t *testing.T) {
	var s Scope[int]
	assert.True(t, s.Empty())
	s.Push("x", 1)
	s.Push("x", 2)
	assert.Equal(t, 2, s.Get("x"))
	s.Pop("x")
	assert.Equal(t, 1, s.Get("x"))
	s.Pop("x")
	assert.False(t, s.Contains("x"))
}

func TestScopePopMismatchPanics(t *testing.T) {
	var s Scope[int]
	s.Push("x", 1)
	assert.Panics(t, func() { s.Pop("y") })
}

func TestScopedBindingReleases(t *testing.T) {
	var s Scope[string]
	b := s.Bind("x", "inner")
	assert.True(t, s.Contains("x"))
	b.Release()
	assert.False(t, s.Contains("x"))
	assert.Panics(t, func() { b.Release() })
}

func TestSimplifyFoldsConstants(t *testing.T) {
	e := NewAdd(NewMul(ConstInt(2), ConstInt(3)), Var("x"))
	out := SimplifyExpr(e)
	add, ok := out.(*Add)
	if assert.True(t, ok) {
		assert.True(t, Equal(ConstInt(6), add.A) || Equal(ConstInt(6), add.B))
	}

	assert.True(t, Equal(ConstInt(0), SimplifyExpr(NewSub(Var("x"), Var("x")))))
	assert.True(t, IsConstTrue(SimplifyExpr(NewLE(Var("x"), Var("x")))))
}

func TestSimplifyDropsTrivialLoops(t *testing.T) {
	body := NewProvide("f", []Expr{Var("i")}, []Expr{Var("i")}, nil)
	loop := NewFor("i", ConstInt(5), ConstInt(1), Serial, DeviceNone, body)
	out := SimplifyStmt(loop)
	p, ok := out.(*Provide)
	if assert.True(t, ok) {
		assert.True(t, Equal(ConstInt(5), p.Values[0]))
	}
}

func TestSimplifySelectWithEqualBranches(t *testing.T) {
	e := NewSelect(NewLT(Var("p"), ConstInt(0)), Var("x"), Var("x"))
	assert.True(t, Equal(Var("x"), SimplifyExpr(e)))
}
