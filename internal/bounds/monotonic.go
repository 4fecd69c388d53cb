package bounds

import "raster/internal/ir"

// Monotonicity classifies how an expression moves as one free variable
// increases.
type Monotonicity uint8

const (
	// MonoConstant: the expression does not depend on the variable.
	MonoConstant Monotonicity = iota
	// MonoIncreasing: nondecreasing in the variable.
	MonoIncreasing
	// MonoDecreasing: nonincreasing in the variable.
	MonoDecreasing
	// MonoUnknown: no classification could be proved.
	MonoUnknown
)

func (m Monotonicity) String() string {
	switch m {
	case MonoConstant:
		return "constant"
	case MonoIncreasing:
		return "increasing"
	case MonoDecreasing:
		return "decreasing"
	}
	return "unknown"
}

func unify(a, b Monotonicity) Monotonicity {
	if a == MonoConstant {
		return b
	}
	if b == MonoConstant {
		return a
	}
	if a == b {
		return a
	}
	return MonoUnknown
}

func flip(m Monotonicity) Monotonicity {
	switch m {
	case MonoIncreasing:
		return MonoDecreasing
	case MonoDecreasing:
		return MonoIncreasing
	}
	return m
}

// IsMonotonic classifies the behavior of e as the free variable name
// increases. The analysis is structural with a difference-based
// fallback: when structure fails, it rewrites e(name+1)-e(name) and
// asks the simplifier for a constant sign.
func IsMonotonic(e ir.Expr, name string) Monotonicity {
	m := monotonic(e, name)
	if m != MonoUnknown {
		return m
	}
	return differenceSign(e, name)
}

func monotonic(e ir.Expr, name string) Monotonicity {
	switch v := e.(type) {
	case *ir.IntImm, *ir.UIntImm, *ir.FloatImm, *ir.StringImm:
		return MonoConstant
	case *ir.Variable:
		if v.Name == name {
			return MonoIncreasing
		}
		return MonoConstant
	case *ir.Add:
		return unify(monotonic(v.A, name), monotonic(v.B, name))
	case *ir.Sub:
		return unify(monotonic(v.A, name), flip(monotonic(v.B, name)))
	case *ir.Mul:
		ma, mb := monotonic(v.A, name), monotonic(v.B, name)
		if ma == MonoConstant && mb == MonoConstant {
			return MonoConstant
		}
		if ma == MonoConstant {
			ma, mb = mb, ma
			v = &ir.Mul{A: v.B, B: v.A}
		}
		if mb == MonoConstant {
			if c, ok := ir.ConstIntValue(v.B); ok {
				if c >= 0 {
					return ma
				}
				return flip(ma)
			}
		}
		return MonoUnknown
	case *ir.Div:
		ma := monotonic(v.A, name)
		if monotonic(v.B, name) != MonoConstant {
			return MonoUnknown
		}
		if c, ok := ir.ConstIntValue(v.B); ok && c != 0 {
			if c > 0 {
				return ma
			}
			return flip(ma)
		}
		return MonoUnknown
	case *ir.Min:
		return unify(monotonic(v.A, name), monotonic(v.B, name))
	case *ir.Max:
		return unify(monotonic(v.A, name), monotonic(v.B, name))
	case *ir.Cast:
		from := v.Value.Type()
		if (v.T.IsInt() || v.T.IsUInt()) && (from.IsInt() || from.IsUInt()) && v.T.CanRepresent(from) {
			return monotonic(v.Value, name)
		}
		if monotonic(v.Value, name) == MonoConstant {
			return MonoConstant
		}
		return MonoUnknown
	case *ir.Broadcast:
		return monotonic(v.Value, name)
	case *ir.Select:
		if monotonic(v.Cond, name) != MonoConstant {
			return MonoUnknown
		}
		return unify(monotonic(v.TrueValue, name), monotonic(v.FalseValue, name))
	case *ir.Let:
		mv := monotonic(v.Value, name)
		if mv == MonoConstant {
			return monotonic(v.Body, name)
		}
		// Inline the binding and retry.
		return monotonic(ir.SubstituteExpr(v.Name, v.Value, v.Body), name)
	case *ir.Call:
		if v.Kind == ir.PureIntrinsic &&
			(v.Name == ir.IntrinsicLikely || v.Name == ir.IntrinsicLikelyIfInnermost) {
			return monotonic(v.Args[0], name)
		}
		for _, a := range v.Args {
			if monotonic(a, name) != MonoConstant {
				return MonoUnknown
			}
		}
		if v.IsPure() {
			return MonoConstant
		}
		return MonoUnknown
	case *ir.EQ, *ir.NE, *ir.LT, *ir.LE, *ir.GT, *ir.GE, *ir.And, *ir.Or, *ir.Not:
		if !ir.UsesVar(e, name) {
			return MonoConstant
		}
		return MonoUnknown
	}
	if !ir.UsesVar(e, name) {
		return MonoConstant
	}
	return MonoUnknown
}

// differenceSign classifies sign of e(name+1) - e(name) after
// simplification.
func differenceSign(e ir.Expr, name string) Monotonicity {
	if !ir.UsesVar(e, name) {
		return MonoConstant
	}
	if !e.Type().IsScalar() || e.Type().IsHandle() {
		return MonoUnknown
	}

	// Affine expressions settle on the coefficient alone.
	if coeffs, _, ok := ir.LinearCombination(e); ok {
		switch c := coeffs[name]; {
		case c == 0:
			return MonoConstant
		case c > 0:
			return MonoIncreasing
		default:
			return MonoDecreasing
		}
	}
	next := ir.SubstituteExpr(name, ir.NewAdd(ir.Var(name), ir.ConstInt(1)), e)
	diff := ir.SimplifyExpr(ir.NewSub(next, e))
	if c, ok := ir.ConstIntValue(diff); ok {
		switch {
		case c == 0:
			return MonoConstant
		case c > 0:
			return MonoIncreasing
		default:
			return MonoDecreasing
		}
	}
	// A sound sign bound also settles it.
	var empty ir.Scope[Interval]
	iv := OfExprInScope(diff, &empty)
	if lo, _, ok := iv.ConstBounds(); ok && lo >= 0 {
		return MonoIncreasing
	}
	if _, hi, ok := iv.ConstBounds(); ok && hi <= 0 {
		return MonoDecreasing
	}
	return MonoUnknown
}
