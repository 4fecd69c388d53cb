package ir

import "sort"

// LinearCombination expresses a scalar integer expression as a linear
// combination of its free variables plus a constant, when it has that
// shape. A variable with a non-free binding makes ok false.
func LinearCombination(e Expr) (coeffs map[string]int64, k int64, ok bool) {
	if !e.Type().IsScalar() || !e.Type().IsInt() {
		return nil, 0, false
	}
	return linearize(e)
}

func linearize(e Expr) (map[string]int64, int64, bool) {
	switch v := e.(type) {
	case *IntImm:
		return nil, v.Value, true
	case *Variable:
		if !v.Binding.IsFree() {
			return nil, 0, false
		}
		return map[string]int64{v.Name: 1}, 0, true
	case *Add:
		ca, ka, ok := linearize(v.A)
		if !ok {
			return nil, 0, false
		}
		cb, kb, ok := linearize(v.B)
		if !ok {
			return nil, 0, false
		}
		return mergeCoeffs(ca, cb, 1), ka + kb, true
	case *Sub:
		ca, ka, ok := linearize(v.A)
		if !ok {
			return nil, 0, false
		}
		cb, kb, ok := linearize(v.B)
		if !ok {
			return nil, 0, false
		}
		return mergeCoeffs(ca, cb, -1), ka - kb, true
	case *Mul:
		if c, ok := ConstIntValue(v.B); ok {
			ca, ka, okl := linearize(v.A)
			if !okl {
				return nil, 0, false
			}
			return scaleCoeffs(ca, c), ka * c, true
		}
		if c, ok := ConstIntValue(v.A); ok {
			cb, kb, okl := linearize(v.B)
			if !okl {
				return nil, 0, false
			}
			return scaleCoeffs(cb, c), kb * c, true
		}
	}
	return nil, 0, false
}

func mergeCoeffs(a, b map[string]int64, scale int64) map[string]int64 {
	out := make(map[string]int64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v * scale
	}
	return out
}

func scaleCoeffs(a map[string]int64, scale int64) map[string]int64 {
	out := make(map[string]int64, len(a))
	for k, v := range a {
		out[k] = v * scale
	}
	return out
}

// canonicalLinear rebuilds a linear combination in sorted-variable
// order so equal combinations compare equal.
func canonicalLinear(t Type, coeffs map[string]int64, k int64) Expr {
	names := make([]string, 0, len(coeffs))
	for name, c := range coeffs {
		if c != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var acc Expr
	for _, name := range names {
		c := coeffs[name]
		term := Expr(NewVariable(t, name))
		if c != 1 {
			term = &Mul{A: term, B: NewIntImm(t, c)}
		}
		if acc == nil {
			acc = term
		} else {
			acc = &Add{A: acc, B: term}
		}
	}
	if acc == nil {
		return NewIntImm(t, k)
	}
	if k != 0 {
		acc = &Add{A: acc, B: NewIntImm(t, k)}
	}
	return acc
}

// simplifyLinear canonicalizes scalar integer add/sub chains; it
// returns nil when the expression has no linear shape.
func simplifyLinear(e Expr) Expr {
	coeffs, k, ok := LinearCombination(e)
	if !ok {
		return nil
	}
	return canonicalLinear(e.Type(), coeffs, k)
}

// simplifier performs elementary rewriting: constant folding via the
// smart constructors plus a few peepholes the passes rely on. It is
// sound but makes no attempt at completeness.
type simplifier struct{}

func (sp *simplifier) MutateExpr(e Expr) Expr {
	switch v := e.(type) {
	case *Add:
		out := NewAdd(sp.MutateExpr(v.A), sp.MutateExpr(v.B))
		if lin := simplifyLinear(out); lin != nil {
			return lin
		}
		return out
	case *Sub:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeZero(a.Type())
		}
		out := NewSub(a, b)
		if lin := simplifyLinear(out); lin != nil {
			return lin
		}
		return out
	case *Mul:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if IsConstValue(a, 0) {
			return a
		}
		if IsConstValue(b, 0) {
			return b
		}
		return NewMul(a, b)
	case *Div:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeOne(a.Type())
		}
		return NewDiv(a, b)
	case *Mod:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if c, ok := ConstIntValue(b); ok && c == 1 {
			return MakeZero(a.Type())
		}
		return NewMod(a, b)
	case *Min:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		return NewMin(a, b)
	case *Max:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		return NewMax(a, b)
	case *EQ:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeConst(Bool(a.Type().Lanes), 1)
		}
		return NewEQ(a, b)
	case *NE:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeConst(Bool(a.Type().Lanes), 0)
		}
		return NewNE(a, b)
	case *LT:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeConst(Bool(a.Type().Lanes), 0)
		}
		return NewLT(a, b)
	case *LE:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) && IsPureExpr(a) {
			return MakeConst(Bool(a.Type().Lanes), 1)
		}
		return NewLE(a, b)
	case *GT:
		return NewGT(sp.MutateExpr(v.A), sp.MutateExpr(v.B))
	case *GE:
		return NewGE(sp.MutateExpr(v.A), sp.MutateExpr(v.B))
	case *And:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) {
			return a
		}
		return NewAnd(a, b)
	case *Or:
		a, b := sp.MutateExpr(v.A), sp.MutateExpr(v.B)
		if Equal(a, b) {
			return a
		}
		return NewOr(a, b)
	case *Not:
		return NewNot(sp.MutateExpr(v.A))
	case *Select:
		c := sp.MutateExpr(v.Cond)
		t := sp.MutateExpr(v.TrueValue)
		f := sp.MutateExpr(v.FalseValue)
		if Equal(t, f) {
			return t
		}
		return NewSelect(c, t, f)
	case *Broadcast:
		return NewBroadcast(sp.MutateExpr(v.Value), v.Lanes)
	case *Call:
		// likely tags are transparent to simplification.
		if v.Kind == PureIntrinsic &&
			(v.Name == IntrinsicLikely || v.Name == IntrinsicLikelyIfInnermost) {
			inner := sp.MutateExpr(v.Args[0])
			if isConstImm(inner) || isBoolImm(inner) {
				return inner
			}
			if SameAs(inner, v.Args[0]) {
				return v
			}
			return &Call{T: inner.Type(), Name: v.Name, Args: []Expr{inner}, Kind: PureIntrinsic}
		}
		return MutateExprChildren(sp, e)
	case *Let:
		value := sp.MutateExpr(v.Value)
		// Cheap values are substituted rather than bound.
		switch value.(type) {
		case *IntImm, *UIntImm, *FloatImm, *Variable:
			return sp.MutateExpr(SubstituteExpr(v.Name, value, v.Body))
		}
		body := sp.MutateExpr(v.Body)
		if !UsesVar(body, v.Name) {
			return body
		}
		if SameAs(value, v.Value) && SameAs(body, v.Body) {
			return v
		}
		return &Let{Name: v.Name, Value: value, Body: body}
	}
	return MutateExprChildren(sp, e)
}

func (sp *simplifier) MutateStmt(s Stmt) Stmt {
	switch v := s.(type) {
	case *IfThenElse:
		c := sp.MutateExpr(v.Condition)
		stripped, _ := UnwrapLikely(c)
		if (isConstImm(stripped) || isBoolImm(stripped)) && IsConstTrue(stripped) {
			return sp.MutateStmt(v.Then)
		}
		if IsConstFalse(stripped) {
			if v.Else == nil {
				return NewEvaluate(ConstInt(0))
			}
			return sp.MutateStmt(v.Else)
		}
		t := sp.MutateStmt(v.Then)
		var e Stmt
		if v.Else != nil {
			e = sp.MutateStmt(v.Else)
		}
		if SameAs(c, v.Condition) && SameAs(t, v.Then) && SameAs(e, Stmt(v.Else)) {
			return v
		}
		return &IfThenElse{Condition: c, Then: t, Else: e}
	case *For:
		min := sp.MutateExpr(v.Min)
		extent := sp.MutateExpr(v.Extent)
		body := sp.MutateStmt(v.Body)
		if c, ok := ConstIntValue(extent); ok && c == 1 && v.ForType != Vectorized {
			return sp.MutateStmt(SubstituteStmt(v.Name, min, body))
		}
		if SameAs(min, v.Min) && SameAs(extent, v.Extent) && SameAs(body, v.Body) {
			return v
		}
		return &For{Name: v.Name, Min: min, Extent: extent, ForType: v.ForType, DeviceAPI: v.DeviceAPI, Body: body}
	}
	return MutateStmtChildren(sp, s)
}

// SimplifyExpr applies the elementary simplifier to an expression.
func SimplifyExpr(e Expr) Expr {
	var sp simplifier
	return sp.MutateExpr(e)
}

// SimplifyStmt applies the elementary simplifier to a statement.
func SimplifyStmt(s Stmt) Stmt {
	var sp simplifier
	return sp.MutateStmt(s)
}
