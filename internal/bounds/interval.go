// Package bounds is the symbolic bounds engine: interval and box
// inference over IR expressions, plus a small monotonicity oracle.
// Queries never fail; they degrade to unbounded intervals, and callers
// check IsBounded before emitting dependent code.
package bounds

import "raster/internal/ir"

// Interval is a symbolic inclusive range. A nil side means unbounded in
// that direction.
type Interval struct {
	Min ir.Expr
	Max ir.Expr
}

// SinglePoint is the interval containing exactly e.
func SinglePoint(e ir.Expr) Interval {
	return Interval{Min: e, Max: e}
}

// Everything is the unbounded interval.
func Everything() Interval {
	return Interval{}
}

func (i Interval) HasLowerBound() bool { return i.Min != nil }
func (i Interval) HasUpperBound() bool { return i.Max != nil }

// IsBounded reports whether both ends are known.
func (i Interval) IsBounded() bool {
	return i.Min != nil && i.Max != nil
}

// IsSinglePoint reports whether the interval is structurally a single
// value.
func (i Interval) IsSinglePoint() bool {
	return i.Min != nil && i.Max != nil && ir.Equal(i.Min, i.Max)
}

// Union widens the interval to cover other.
func (i Interval) Union(other Interval) Interval {
	var out Interval
	if i.Min != nil && other.Min != nil {
		out.Min = ir.SimplifyExpr(ir.NewMin(i.Min, other.Min))
	}
	if i.Max != nil && other.Max != nil {
		out.Max = ir.SimplifyExpr(ir.NewMax(i.Max, other.Max))
	}
	return out
}

// Intersect narrows the interval to the overlap with other.
func (i Interval) Intersect(other Interval) Interval {
	out := i
	if other.Min != nil {
		if out.Min == nil {
			out.Min = other.Min
		} else {
			out.Min = ir.SimplifyExpr(ir.NewMax(out.Min, other.Min))
		}
	}
	if other.Max != nil {
		if out.Max == nil {
			out.Max = other.Max
		} else {
			out.Max = ir.SimplifyExpr(ir.NewMin(out.Max, other.Max))
		}
	}
	return out
}

// ConstBounds extracts constant integer endpoints when both are
// literals.
func (i Interval) ConstBounds() (lo, hi int64, ok bool) {
	if !i.IsBounded() {
		return 0, 0, false
	}
	lo, okLo := ir.ConstIntValue(i.Min)
	hi, okHi := ir.ConstIntValue(i.Max)
	return lo, hi, okLo && okHi
}

// Box bounds a multidimensional region, one interval per dimension,
// with an optional predicate saying when the region is touched at all.
type Box struct {
	Bounds []Interval
	Used   ir.Expr
}

func (b Box) Dims() int { return len(b.Bounds) }

// Union merges two boxes dimension-wise. A box of zero dims is empty
// and the other box wins.
func (b Box) Union(other Box) Box {
	if len(b.Bounds) == 0 {
		return other
	}
	if len(other.Bounds) == 0 {
		return b
	}
	n := max(len(b.Bounds), len(other.Bounds))
	out := Box{Bounds: make([]Interval, n)}
	for i := 0; i < n; i++ {
		switch {
		case i >= len(b.Bounds):
			out.Bounds[i] = other.Bounds[i]
		case i >= len(other.Bounds):
			out.Bounds[i] = b.Bounds[i]
		default:
			out.Bounds[i] = b.Bounds[i].Union(other.Bounds[i])
		}
	}
	if b.Used != nil && other.Used != nil {
		out.Used = ir.SimplifyExpr(ir.NewOr(b.Used, other.Used))
	}
	return out
}
