package bounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
)

func interval(lo, hi int64) Interval {
	return Interval{Min: ir.ConstInt(lo), Max: ir.ConstInt(hi)}
}

func TestIntervalPredicates(t *testing.T) {
	assert.True(t, interval(0, 5).IsBounded())
	assert.False(t, Everything().IsBounded())
	assert.True(t, SinglePoint(ir.Var("x")).IsSinglePoint())
	assert.False(t, interval(0, 5).IsSinglePoint())
}

func TestIntervalUnionIntersect(t *testing.T) {
	a, b := interval(0, 5), interval(3, 9)
	u := a.Union(b)
	lo, hi, ok := u.ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(9), hi)

	i := a.Intersect(b)
	lo, hi, ok = i.ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(5), hi)

	// Union with an unbounded side loses the bound.
	assert.False(t, a.Union(Everything()).IsBounded())
	// Intersection with unbounded keeps the bounded side.
	li, hi2, ok := a.Intersect(Everything()).ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), li)
	assert.Equal(t, int64(5), hi2)
}

// evalExpr evaluates a scalar integer expression under an assignment.
func evalExpr(t *testing.T, e ir.Expr, env map[string]int64) int64 {
	switch v := e.(type) {
	case *ir.IntImm:
		return v.Value
	case *ir.UIntImm:
		return int64(v.Value)
	case *ir.Variable:
		val, ok := env[v.Name]
		require.True(t, ok, "unbound variable %s", v.Name)
		return val
	case *ir.Add:
		return evalExpr(t, v.A, env) + evalExpr(t, v.B, env)
	case *ir.Sub:
		return evalExpr(t, v.A, env) - evalExpr(t, v.B, env)
	case *ir.Mul:
		return evalExpr(t, v.A, env) * evalExpr(t, v.B, env)
	case *ir.Min:
		return min(evalExpr(t, v.A, env), evalExpr(t, v.B, env))
	case *ir.Max:
		return max(evalExpr(t, v.A, env), evalExpr(t, v.B, env))
	case *ir.Select:
		if evalExpr(t, v.Cond, env) != 0 {
			return evalExpr(t, v.TrueValue, env)
		}
		return evalExpr(t, v.FalseValue, env)
	case *ir.LT:
		if evalExpr(t, v.A, env) < evalExpr(t, v.B, env) {
			return 1
		}
		return 0
	case *ir.Div:
		a, b := evalExpr(t, v.A, env), evalExpr(t, v.B, env)
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return q
	case *ir.Mod:
		a, b := evalExpr(t, v.A, env), evalExpr(t, v.B, env)
		r := a % b
		if r < 0 {
			if b > 0 {
				r += b
			} else {
				r -= b
			}
		}
		return r
	}
	t.Fatalf("evalExpr: unhandled %T", e)
	return 0
}

// Bounds soundness: for every assignment consistent with the scope,
// min <= value <= max.
func TestBoundsSoundnessOnGrid(t *testing.T) {
	x, y := ir.Var("x"), ir.Var("y")
	exprs := []ir.Expr{
		ir.NewAdd(x, y),
		ir.NewSub(x, y),
		ir.NewMul(x, ir.ConstInt(3)),
		ir.NewMul(x, ir.ConstInt(-2)),
		ir.NewMin(x, y),
		ir.NewMax(ir.NewAdd(x, ir.ConstInt(1)), y),
		ir.NewDiv(x, ir.ConstInt(2)),
		ir.NewMod(x, ir.ConstInt(3)),
		ir.NewSelect(ir.NewLT(x, y), x, y),
		ir.NewAdd(ir.NewMul(x, y), ir.ConstInt(1)),
	}

	var scope ir.Scope[Interval]
	scope.Push("x", interval(-3, 4))
	scope.Push("y", interval(0, 5))
	defer scope.Pop("x")
	defer scope.Pop("y")

	for _, e := range exprs {
		iv := OfExprInScope(e, &scope)
		require.True(t, iv.IsBounded(), "expected bounds for %s", ir.PrintExpr(e))
		for xv := int64(-3); xv <= 4; xv++ {
			for yv := int64(0); yv <= 5; yv++ {
				env := map[string]int64{"x": xv, "y": yv}
				val := evalExpr(t, e, env)
				lo := evalExpr(t, iv.Min, env)
				hi := evalExpr(t, iv.Max, env)
				assert.LessOrEqual(t, lo, val, "min bound of %s at x=%d y=%d", ir.PrintExpr(e), xv, yv)
				assert.GreaterOrEqual(t, hi, val, "max bound of %s at x=%d y=%d", ir.PrintExpr(e), xv, yv)
			}
		}
	}
}

func TestBoundsExactOnAffine(t *testing.T) {
	var scope ir.Scope[Interval]
	scope.Push("x", interval(2, 9))
	defer scope.Pop("x")

	iv := OfExprInScope(ir.NewAdd(ir.NewMul(ir.Var("x"), ir.ConstInt(2)), ir.ConstInt(1)), &scope)
	lo, hi, ok := iv.ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(5), lo)
	assert.Equal(t, int64(19), hi)
}

func TestBoundsOfFreeVariableIsSinglePoint(t *testing.T) {
	var scope ir.Scope[Interval]
	iv := OfExprInScope(ir.Var("k"), &scope)
	assert.True(t, iv.IsSinglePoint())
}

func TestBoundsDegradeToUnknown(t *testing.T) {
	var scope ir.Scope[Interval]
	scope.Push("x", Everything())
	defer scope.Pop("x")
	iv := OfExprInScope(ir.NewMul(ir.Var("x"), ir.Var("x")), &scope)
	assert.False(t, iv.IsBounded())
}

func TestBoxesTouchedCollectsReadsAndWrites(t *testing.T) {
	// for x in [0, 10): f(x) = g(x + 1) + g(x - 1)
	g := func(e ir.Expr) ir.Expr {
		return ir.NewFuncCall(ir.Int32T, "g", []ir.Expr{e}, 0)
	}
	x := ir.Var("x")
	body := ir.NewProvide("f",
		[]ir.Expr{ir.NewAdd(g(ir.NewAdd(x, ir.ConstInt(1))), g(ir.NewSub(x, ir.ConstInt(1))))},
		[]ir.Expr{x}, nil)
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(10), ir.Serial, ir.DeviceNone, body)

	var scope ir.Scope[Interval]
	boxes := BoxesTouched(loop, &scope)

	require.Contains(t, boxes, "g")
	require.Contains(t, boxes, "f")

	glo, ghi, ok := boxes["g"].Bounds[0].ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(-1), glo)
	assert.Equal(t, int64(10), ghi)

	flo, fhi, ok := boxes["f"].Bounds[0].ConstBounds()
	require.True(t, ok)
	assert.Equal(t, int64(0), flo)
	assert.Equal(t, int64(9), fhi)

	// Reads-only view must not contain f.
	reads := BoxesRequired(loop, &scope)
	assert.NotContains(t, reads, "f")
	assert.Contains(t, reads, "g")
}

func TestIsMonotonic(t *testing.T) {
	x := ir.Var("x")
	assert.Equal(t, MonoIncreasing, IsMonotonic(x, "x"))
	assert.Equal(t, MonoConstant, IsMonotonic(ir.Var("y"), "x"))
	assert.Equal(t, MonoIncreasing, IsMonotonic(ir.NewAdd(x, ir.ConstInt(5)), "x"))
	assert.Equal(t, MonoDecreasing, IsMonotonic(ir.NewSub(ir.ConstInt(5), x), "x"))
	assert.Equal(t, MonoIncreasing, IsMonotonic(ir.NewMul(x, ir.ConstInt(2)), "x"))
	assert.Equal(t, MonoDecreasing, IsMonotonic(ir.NewMul(x, ir.ConstInt(-2)), "x"))
	assert.Equal(t, MonoIncreasing, IsMonotonic(ir.NewDiv(x, ir.ConstInt(2)), "x"))
	assert.Equal(t, MonoIncreasing, IsMonotonic(ir.NewMin(x, ir.NewAdd(x, ir.ConstInt(1))), "x"))
	assert.Equal(t, MonoUnknown, IsMonotonic(ir.NewMul(x, x), "x"))

	// The difference-based fallback settles mixed shapes.
	assert.Equal(t, MonoIncreasing, IsMonotonic(ir.NewSub(ir.NewMul(x, ir.ConstInt(3)), x), "x"))
}
