package bounds

import "raster/internal/ir"

// OfExprInScope returns a sound bounding interval of e given intervals
// for its free variables. Exact on affine expressions in the scoped
// variables and on the common min/max/clamp patterns; everything it
// cannot reason about degrades to an unbounded side.
func OfExprInScope(e ir.Expr, scope *ir.Scope[Interval]) Interval {
	b := bounder{scope: scope}
	return b.bounds(e)
}

type bounder struct {
	scope *ir.Scope[Interval]
}

func (b *bounder) bounds(e ir.Expr) Interval {
	switch v := e.(type) {
	case *ir.IntImm, *ir.UIntImm, *ir.FloatImm:
		return SinglePoint(e)
	case *ir.Variable:
		if iv, ok := b.scope.Lookup(v.Name); ok {
			return iv
		}
		// A free variable is a symbolic single point.
		return SinglePoint(v)
	case *ir.Add:
		return b.binop(v.A, v.B, func(x, y ir.Expr) ir.Expr { return ir.NewAdd(x, y) }, false)
	case *ir.Sub:
		ia, ib := b.bounds(v.A), b.bounds(v.B)
		var out Interval
		if ia.Min != nil && ib.Max != nil {
			out.Min = ir.SimplifyExpr(ir.NewSub(ia.Min, ib.Max))
		}
		if ia.Max != nil && ib.Min != nil {
			out.Max = ir.SimplifyExpr(ir.NewSub(ia.Max, ib.Min))
		}
		return out
	case *ir.Mul:
		return b.mulBounds(v.A, v.B)
	case *ir.Div:
		return b.divBounds(v.A, v.B)
	case *ir.Mod:
		return b.modBounds(v.A, v.B)
	case *ir.Min:
		return b.binop(v.A, v.B, func(x, y ir.Expr) ir.Expr { return ir.NewMin(x, y) }, false)
	case *ir.Max:
		return b.binop(v.A, v.B, func(x, y ir.Expr) ir.Expr { return ir.NewMax(x, y) }, false)
	case *ir.Select:
		it := b.bounds(v.TrueValue)
		ifl := b.bounds(v.FalseValue)
		return it.Union(ifl)
	case *ir.Cast:
		// Widening casts between integer types preserve bounds.
		inner := b.bounds(v.Value)
		from := v.Value.Type()
		if (v.T.IsInt() || v.T.IsUInt()) && (from.IsInt() || from.IsUInt()) &&
			v.T.CanRepresent(from) && inner.IsBounded() {
			return Interval{
				Min: ir.SimplifyExpr(ir.NewCast(v.T.Element(), inner.Min)),
				Max: ir.SimplifyExpr(ir.NewCast(v.T.Element(), inner.Max)),
			}
		}
		return Everything()
	case *ir.Ramp:
		base := b.bounds(v.Base)
		last := ir.NewAdd(v.Base, ir.NewMul(v.Stride, ir.ConstInt(int64(v.Lanes-1))))
		end := b.bounds(ir.SimplifyExpr(last))
		return base.Union(end)
	case *ir.Broadcast:
		return b.bounds(v.Value)
	case *ir.Let:
		iv := b.bounds(v.Value)
		bind := b.scope.Bind(v.Name, iv)
		out := b.bounds(v.Body)
		bind.Release()
		return out
	case *ir.Not, *ir.EQ, *ir.NE, *ir.LT, *ir.LE, *ir.GT, *ir.GE, *ir.And, *ir.Or:
		// Booleans are bounded by [false, true].
		t := e.Type().Element()
		return Interval{Min: ir.MakeZero(t), Max: ir.MakeOne(t)}
	case *ir.VectorReduce:
		inner := b.bounds(v.Value)
		switch v.Op {
		case ir.ReduceMin, ir.ReduceMax, ir.ReduceAnd, ir.ReduceOr:
			return inner
		}
		return Everything()
	case *ir.Call:
		if v.Kind == ir.PureIntrinsic {
			switch v.Name {
			case ir.IntrinsicLikely, ir.IntrinsicLikelyIfInnermost:
				return b.bounds(v.Args[0])
			case ir.IntrinsicPromiseClamped, ir.IntrinsicUnsafePromiseClamped:
				// promise_clamped(value, min, max)
				value := b.bounds(v.Args[0])
				lo := b.bounds(v.Args[1])
				hi := b.bounds(v.Args[2])
				return value.Intersect(Interval{Min: lo.Min, Max: hi.Max})
			}
		}
		return Everything()
	}
	return Everything()
}

func (b *bounder) binop(x, y ir.Expr, f func(x, y ir.Expr) ir.Expr, _ bool) Interval {
	ix, iy := b.bounds(x), b.bounds(y)
	var out Interval
	if ix.Min != nil && iy.Min != nil {
		out.Min = ir.SimplifyExpr(f(ix.Min, iy.Min))
	}
	if ix.Max != nil && iy.Max != nil {
		out.Max = ir.SimplifyExpr(f(ix.Max, iy.Max))
	}
	return out
}

func (b *bounder) mulBounds(x, y ir.Expr) Interval {
	ix, iy := b.bounds(x), b.bounds(y)
	// Scaling by a single point keeps the interval affine.
	if iy.IsSinglePoint() {
		ix, iy = iy, ix
		x, y = y, x
	}
	if ix.IsSinglePoint() {
		if c, ok := ir.ConstIntValue(ix.Min); ok {
			if !iy.IsBounded() {
				if iy.Min != nil && c >= 0 {
					return Interval{Min: ir.SimplifyExpr(ir.NewMul(iy.Min, ix.Min))}
				}
				if iy.Max != nil && c >= 0 {
					return Interval{Max: ir.SimplifyExpr(ir.NewMul(iy.Max, ix.Min))}
				}
				return Everything()
			}
			lo := ir.SimplifyExpr(ir.NewMul(iy.Min, ix.Min))
			hi := ir.SimplifyExpr(ir.NewMul(iy.Max, ix.Min))
			if c < 0 {
				lo, hi = hi, lo
			}
			return Interval{Min: lo, Max: hi}
		}
		if iy.IsSinglePoint() {
			p := ir.SimplifyExpr(ir.NewMul(ix.Min, iy.Min))
			return SinglePoint(p)
		}
	}
	if ix.IsBounded() && iy.IsBounded() {
		// Four corners, all symbolic.
		c0 := ir.NewMul(ix.Min, iy.Min)
		c1 := ir.NewMul(ix.Min, iy.Max)
		c2 := ir.NewMul(ix.Max, iy.Min)
		c3 := ir.NewMul(ix.Max, iy.Max)
		lo := ir.NewMin(ir.NewMin(c0, c1), ir.NewMin(c2, c3))
		hi := ir.NewMax(ir.NewMax(c0, c1), ir.NewMax(c2, c3))
		return Interval{Min: ir.SimplifyExpr(lo), Max: ir.SimplifyExpr(hi)}
	}
	return Everything()
}

func (b *bounder) divBounds(x, y ir.Expr) Interval {
	iy := b.bounds(y)
	if !iy.IsSinglePoint() {
		return Everything()
	}
	c, ok := ir.ConstIntValue(iy.Min)
	if !ok || c == 0 {
		return Everything()
	}
	ix := b.bounds(x)
	if !ix.IsBounded() {
		return Everything()
	}
	lo := ir.SimplifyExpr(ir.NewDiv(ix.Min, iy.Min))
	hi := ir.SimplifyExpr(ir.NewDiv(ix.Max, iy.Min))
	if c < 0 {
		lo, hi = hi, lo
	}
	return Interval{Min: lo, Max: hi}
}

func (b *bounder) modBounds(x, y ir.Expr) Interval {
	iy := b.bounds(y)
	if iy.IsSinglePoint() {
		if c, ok := ir.ConstIntValue(iy.Min); ok && c != 0 {
			// Euclidean mod lands in [0, |c|-1]. The dividend's own
			// bounds can be tighter when already in range.
			abs := c
			if abs < 0 {
				abs = -abs
			}
			out := Interval{Min: ir.ConstInt(0), Max: ir.ConstInt(abs - 1)}
			ix := b.bounds(x)
			if lo, hi, ok := ix.ConstBounds(); ok && lo >= 0 && hi < abs {
				return ix
			}
			return out
		}
	}
	return Everything()
}
