package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
)

func TestNewFunctionShape(t *testing.T) {
	x, y := ir.Var("x"), ir.Var("y")
	f := NewFunction("f", []string{"x", "y"}, ir.NewAdd(x, y))

	assert.Equal(t, "f", f.Name())
	assert.Equal(t, 2, f.Dimensions())
	assert.True(t, f.HasPureDefinition())
	assert.True(t, f.CanBeInlined())

	dims := f.InitDef().Schedule.Dims
	require.Len(t, dims, 3)
	assert.Equal(t, "x", dims[0].Var)
	assert.Equal(t, "y", dims[1].Var)
	assert.Equal(t, OutermostVar, dims[2].Var)
}

func TestSplitDimRewritesDimList(t *testing.T) {
	f := NewFunction("f", []string{"x"}, ir.Var("x"))
	f.SplitDim("x", "xo", "xi", ir.ConstInt(8), TailAuto)

	dims := f.InitDef().Schedule.Dims
	require.Len(t, dims, 3)
	assert.Equal(t, "xi", dims[0].Var)
	assert.Equal(t, "xo", dims[1].Var)

	splits := f.InitDef().Schedule.Splits
	require.Len(t, splits, 1)
	assert.Equal(t, SplitVar, splits[0].Kind)
	assert.Equal(t, "x", splits[0].Old)
}

func TestVectorizeWithFactorSplitsFirst(t *testing.T) {
	f := NewFunction("f", []string{"x"}, ir.Var("x"))
	f.Vectorize("x", ir.ConstInt(4))
	dims := f.InitDef().Schedule.Dims
	require.Len(t, dims, 3)
	assert.Equal(t, ir.Vectorized, dims[0].ForType)
	assert.Equal(t, ir.Serial, dims[1].ForType)
}

func TestComputeAtDefaultsStoreLevel(t *testing.T) {
	f := NewFunction("f", []string{"x"}, ir.Var("x"))
	f.ComputeAt("g", "x")
	assert.False(t, f.Schedule().ComputeLevel.IsInlined())
	assert.Equal(t, f.Schedule().ComputeLevel, f.Schedule().StoreLevel)
	assert.False(t, f.CanBeInlined())
}

func TestLoopLevelMatch(t *testing.T) {
	l := At("f", 0, "x")
	assert.True(t, l.Match("f.s0.x"))
	assert.True(t, l.Match("f.s0.x.xi"))
	assert.False(t, l.Match("f.s0.y"))
	assert.False(t, l.Match("f.s1.x"))
	assert.True(t, Root().Match(RootVar))
	assert.False(t, Inlined().Match("f.s0.x"))
}

func TestUpdateDefinitionDims(t *testing.T) {
	f := NewFunction("f", []string{"x"}, ir.ConstInt(0))
	rdom := &ReductionDomain{
		Name: "r",
		Vars: []RVar{{Name: "r", Min: ir.ConstInt(0), Extent: ir.ConstInt(10)}},
	}
	f.AddUpdate(
		[]ir.Expr{ir.Var("x")},
		[]ir.Expr{ir.NewAdd(f.Call(ir.Var("x")), ir.NewRVar(ir.Int32T, "r", "r"))},
		rdom)

	require.Len(t, f.Updates(), 1)
	assert.False(t, f.HasPureDefinition())
	dims := f.Updates()[0].Schedule.Dims
	require.Len(t, dims, 3)
	assert.Equal(t, "r", dims[0].Var)
	assert.Equal(t, "x", dims[1].Var)
}

func TestRealizationOrderLeavesFirst(t *testing.T) {
	h := NewFunction("h", []string{"x"}, ir.Var("x"))
	g := NewFunction("g", []string{"x"}, h.Call(ir.Var("x")))
	f := NewFunction("f", []string{"x"}, g.Call(ir.Var("x")))

	env := Environment{}.Register(f, g, h)
	order, groups, err := RealizationOrder([]*Function{f}, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "g", "f"}, order)
	assert.Len(t, groups, 3)
}

func TestRealizationOrderDeterministicTies(t *testing.T) {
	a := NewFunction("a", []string{"x"}, ir.Var("x"))
	b := NewFunction("b", []string{"x"}, ir.Var("x"))
	f := NewFunction("f", []string{"x"},
		ir.NewAdd(a.Call(ir.Var("x")), b.Call(ir.Var("x"))))

	env := Environment{}.Register(f, a, b)
	order, _, err := RealizationOrder([]*Function{f}, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "f"}, order)
}

func TestRealizationOrderDetectsCycle(t *testing.T) {
	// a calls b, b calls a: a cycle outside any fused group.
	a := NewFunction("a", []string{"x"}, ir.NewFuncCall(ir.Int32T, "b", []ir.Expr{ir.Var("x")}, 0))
	b := NewFunction("b", []string{"x"}, ir.NewFuncCall(ir.Int32T, "a", []ir.Expr{ir.Var("x")}, 0))

	env := Environment{}.Register(a, b)
	_, _, err := RealizationOrder([]*Function{a}, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestComputeWithFormsGroup(t *testing.T) {
	g := NewFunction("g", []string{"x"}, ir.Var("x"))
	h := NewFunction("h", []string{"x"}, ir.Var("x"))
	f := NewFunction("f", []string{"x"},
		ir.NewAdd(g.Call(ir.Var("x")), h.Call(ir.Var("x"))))
	h.ComputeWith("g", 0, "x", AlignAuto)
	g.ComputeRoot()
	h.ComputeRoot()

	env := Environment{}.Register(f, g, h)
	_, groups, err := RealizationOrder([]*Function{f}, env)
	require.NoError(t, err)

	var fused [][]string
	for _, grp := range groups {
		if len(grp) > 1 {
			fused = append(fused, grp)
		}
	}
	require.Len(t, fused, 1)
	assert.ElementsMatch(t, []string{"g", "h"}, fused[0])
	// The fuse target comes first within the group.
	assert.Equal(t, "g", fused[0][0])
}

func TestBuildEnvironmentClosesOverCalls(t *testing.T) {
	h := NewFunction("h", []string{"x"}, ir.Var("x"))
	g := NewFunction("g", []string{"x"}, h.Call(ir.Var("x")))
	f := NewFunction("f", []string{"x"}, g.Call(ir.Var("x")))

	env := BuildEnvironment([]*Function{f}, f, g, h)
	assert.Len(t, env, 3)
	assert.Contains(t, env, "h")
}

func TestSpecializeFailMustStayLast(t *testing.T) {
	f := NewFunction("f", []string{"x"}, ir.Var("x"))
	f.Specialize(ir.NewEQ(ir.Var("width"), ir.ConstInt(8)))
	f.SpecializeFail(ir.ConstTrue(), "unsupported width")
	specs := f.InitDef().Specializations
	require.Len(t, specs, 2)
	assert.Equal(t, "unsupported width", specs[1].FailureMessage)
}
