package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeBasics(t *testing.T) {
	assert.True(t, Int32T.IsInt())
	assert.True(t, Int32T.IsScalar())
	assert.Equal(t, 4, Int32T.Bytes())
	assert.Equal(t, 1, Bool(1).Bytes())

	v := Int(32, 8)
	assert.True(t, v.IsVector())
	assert.Equal(t, Int32T, v.Element())
	assert.Equal(t, v, Int32T.WithLanes(8))
	assert.Equal(t, "int32x8", v.String())
	assert.Equal(t, "bool", BoolT.String())
}

func TestMatchTypesBroadcasts(t *testing.T) {
	scalar := ConstInt(3)
	vector := NewBroadcast(Var("x"), 4)
	a, b := MatchTypes(scalar, vector)
	assert.Equal(t, 4, a.Type().Lanes)
	assert.Equal(t, 4, b.Type().Lanes)
}

func TestMatchTypesWidens(t *testing.T) {
	a := NewVariable(Int16T, "a")
	b := NewVariable(Int32T, "b")
	na, nb := MatchTypes(a, b)
	assert.Equal(t, Int32T, na.Type())
	assert.Equal(t, Int32T, nb.Type())
}

func TestSmartConstructorsFold(t *testing.T) {
	assert.Equal(t, int64(7), NewAdd(ConstInt(3), ConstInt(4)).(*IntImm).Value)
	assert.Equal(t, int64(-1), NewSub(ConstInt(3), ConstInt(4)).(*IntImm).Value)
	assert.Equal(t, int64(12), NewMul(ConstInt(3), ConstInt(4)).(*IntImm).Value)
	assert.Equal(t, int64(3), NewMin(ConstInt(3), ConstInt(4)).(*IntImm).Value)
	assert.Equal(t, int64(4), NewMax(ConstInt(3), ConstInt(4)).(*IntImm).Value)

	// Division rounds toward negative infinity.
	assert.Equal(t, int64(-2), NewDiv(ConstInt(-3), ConstInt(2)).(*IntImm).Value)
	assert.Equal(t, int64(1), NewMod(ConstInt(-3), ConstInt(2)).(*IntImm).Value)

	x := Var("x")
	assert.True(t, SameAs(x, NewAdd(x, ConstInt(0))))
	assert.True(t, SameAs(x, NewMul(x, ConstInt(1))))
	assert.True(t, SameAs(x, NewSub(x, ConstInt(0))))
	assert.True(t, SameAs(x, NewDiv(x, ConstInt(1))))
}

func TestBroadcastOfOneLaneIsIdentity(t *testing.T) {
	x := Var("x")
	assert.True(t, SameAs(x, NewBroadcast(x, 1)))
	b := NewBroadcast(x, 4)
	require.IsType(t, &Broadcast{}, b)
	// Nested broadcasts collapse.
	bb := NewBroadcast(b, 2)
	assert.Equal(t, 8, bb.(*Broadcast).Lanes)
}

func TestRampNeedsTwoLanes(t *testing.T) {
	assert.Panics(t, func() { NewRamp(ConstInt(0), ConstInt(1), 1) })
	r := NewRamp(ConstInt(0), ConstInt(1), 4)
	assert.Equal(t, 4, r.Type().Lanes)
}

func TestSelectConstantCondition(t *testing.T) {
	a, b := Var("a"), Var("b")
	assert.True(t, SameAs(a, NewSelect(ConstBool(true), a, b)))
	assert.True(t, SameAs(b, NewSelect(ConstBool(false), a, b)))
}

func TestEqualStructural(t *testing.T) {
	a := NewAdd(Var("x"), ConstInt(1))
	b := NewAdd(Var("x"), ConstInt(1))
	assert.False(t, SameAs(a, b))
	assert.True(t, Equal(a, b))

	// Bindings participate in identity.
	free := Var("x")
	rvar := NewRVar(Int32T, "x", "r")
	assert.False(t, Equal(free, rvar))

	// Reflexive, symmetric.
	assert.True(t, Equal(a, a))
	assert.True(t, Equal(b, a))
}

func TestEqualStatements(t *testing.T) {
	mk := func() Stmt {
		return NewFor("x", ConstInt(0), ConstInt(4), Serial, DeviceNone,
			NewProvide("f", []Expr{Var("x")}, []Expr{Var("x")}, nil))
	}
	assert.True(t, Equal(mk(), mk()))
	other := NewFor("x", ConstInt(0), ConstInt(5), Serial, DeviceNone,
		NewProvide("f", []Expr{Var("x")}, []Expr{Var("x")}, nil))
	assert.False(t, Equal(mk(), other))
}

// A mutator that only rewrites a named variable; everything untouched
// must come back pointer-identical.
type renameX struct {
	to string
}

func (m *renameX) MutateExpr(e Expr) Expr {
	if v, ok := e.(*Variable); ok && v.Name == "x" {
		return Var(m.to)
	}
	return MutateExprChildren(m, e)
}

func (m *renameX) MutateStmt(s Stmt) Stmt { return MutateStmtChildren(m, s) }

func TestMutatorPreservesIdentityWhenUnchanged(t *testing.T) {
	m := &renameX{to: "y"}

	// No x anywhere: same node back.
	e := NewAdd(Var("a"), NewMul(Var("b"), ConstInt(2)))
	assert.True(t, SameAs(e, m.MutateExpr(e)))

	s := NewFor("i", ConstInt(0), ConstInt(10), Serial, DeviceNone,
		NewStore("buf", Var("a"), Var("i"), nil, Alignment{}, Binding{}))
	assert.True(t, SameAs(s, m.MutateStmt(s)))

	// With an x, the rewrite happens and shares the untouched side.
	shared := NewMul(Var("b"), ConstInt(2))
	e2 := &Add{A: Var("x"), B: shared}
	out := m.MutateExpr(e2).(*Add)
	assert.Equal(t, "y", out.A.(*Variable).Name)
	assert.True(t, SameAs(shared, out.B))
}

func TestWalkVisitsEverything(t *testing.T) {
	e := NewAdd(Var("x"), NewMul(Var("y"), ConstInt(3)))
	count := 0
	Walk(e, func(n Node) bool {
		count++
		return true
	})
	assert.Equal(t, 5, count)
}

func TestUsesVarRespectsShadowing(t *testing.T) {
	// x free in value, shadowed in body.
	e := NewLet("x", Var("x"), Var("x"))
	assert.True(t, UsesVar(e, "x"))

	shadowed := NewLet("x", ConstInt(1), Var("x"))
	assert.False(t, UsesVar(shadowed, "x"))

	loop := NewFor("x", ConstInt(0), ConstInt(4), Serial, DeviceNone,
		NewEvaluate(Var("x")))
	assert.False(t, UsesVar(loop, "x"))
	loop2 := NewFor("x", Var("x"), ConstInt(4), Serial, DeviceNone,
		NewEvaluate(ConstInt(0)))
	assert.True(t, UsesVar(loop2, "x"))
}

func TestCallPurity(t *testing.T) {
	pure := &Call{T: Int32T, Name: "sorted_avg", Kind: PureIntrinsic}
	impure := &Call{T: Int32T, Name: "trace", Kind: Intrinsic}
	assert.True(t, pure.IsPure())
	assert.False(t, impure.IsPure())
	assert.True(t, IsPureExpr(NewAdd(pure, ConstInt(1))))
	assert.False(t, IsPureExpr(NewAdd(impure, ConstInt(1))))
}

func TestUnwrapLikely(t *testing.T) {
	cond := NewLT(Var("x"), ConstInt(8))
	tagged := Likely(cond)
	inner, wasTagged := UnwrapLikely(tagged)
	assert.True(t, wasTagged)
	assert.True(t, SameAs(cond, inner))

	inner2, wasTagged2 := UnwrapLikely(cond)
	assert.False(t, wasTagged2)
	assert.True(t, SameAs(cond, inner2))
}

func TestUniqueNameMonotonic(t *testing.T) {
	a := UniqueName("t")
	b := UniqueName("t")
	assert.NotEqual(t, a, b)
}

func TestPrintExprReadable(t *testing.T) {
	e := NewAdd(Var("x"), ConstInt(1))
	assert.Equal(t, "(x + 1)", PrintExpr(e))

	r := NewRamp(ConstInt(0), ConstInt(1), 4)
	assert.Equal(t, "ramp(0, 1, 4)", PrintExpr(r))
}

func TestPrintStmtNests(t *testing.T) {
	s := NewFor("x", ConstInt(0), ConstInt(4), Serial, DeviceNone,
		NewProvide("f", []Expr{Var("x")}, []Expr{Var("x")}, nil))
	out := PrintStmt(s)
	assert.Contains(t, out, "serial x")
	assert.Contains(t, out, "f(x) = {x}")
}
