package lower

import (
	"raster/internal/ir"
)

// undefRemover deletes stores whose value is undef. Undef propagates
// upward through expressions: any expression containing undef is
// itself undef (represented here by a nil Expr), and a statement whose
// operands are undef disappears. A select with a single undef branch
// turns into a predicate on the surviving branch, applied at the
// enclosing store.
type undefRemover struct {
	deadVars  ir.Scope[struct{}]
	predicate []ir.Expr
}

// mutate returns nil when the expression is undef.
func (u *undefRemover) mutate(e ir.Expr) ir.Expr {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case *ir.IntImm, *ir.UIntImm, *ir.FloatImm, *ir.StringImm:
		return e
	case *ir.Variable:
		if u.deadVars.Contains(v.Name) {
			return nil
		}
		return v
	case *ir.Call:
		if v.Kind == ir.PureIntrinsic && v.Name == ir.IntrinsicUndef {
			return nil
		}
		args := make([]ir.Expr, len(v.Args))
		changed := false
		for i, a := range v.Args {
			args[i] = u.mutate(a)
			if args[i] == nil {
				return nil
			}
			changed = changed || !ir.SameAs(args[i], a)
		}
		if !changed {
			return v
		}
		return &ir.Call{T: v.T, Name: v.Name, Args: args, Kind: v.Kind, ValueIndex: v.ValueIndex, Binding: v.Binding}
	case *ir.Select:
		cond := u.mutate(v.Cond)
		if cond == nil {
			return nil
		}
		t := u.mutate(v.TrueValue)
		f := u.mutate(v.FalseValue)
		if t == nil && f == nil {
			return nil
		}
		if t == nil {
			cond = ir.NewNot(cond)
			t, f = f, nil
		}
		if f == nil {
			// The store only happens where the surviving branch is
			// selected.
			u.predicate = append(u.predicate, cond)
			return t
		}
		if ir.SameAs(cond, v.Cond) && ir.SameAs(t, v.TrueValue) && ir.SameAs(f, v.FalseValue) {
			return v
		}
		return &ir.Select{Cond: cond, TrueValue: t, FalseValue: f}
	case *ir.Let:
		value := u.mutate(v.Value)
		if value == nil {
			// The binding is dead; references to it poison the body.
			b := u.deadVars.Bind(v.Name, struct{}{})
			body := u.mutate(v.Body)
			b.Release()
			return body
		}
		body := u.mutate(v.Body)
		if body == nil {
			return nil
		}
		// Substitute the value into any predicates that captured the
		// bound name.
		for i, p := range u.predicate {
			u.predicate[i] = ir.SubstituteExpr(v.Name, value, p)
		}
		if ir.SameAs(value, v.Value) && ir.SameAs(body, v.Body) {
			return v
		}
		return &ir.Let{Name: v.Name, Value: value, Body: body}
	}

	// Generic case: rebuild from mutated children, poisoning on nil.
	poisoned := false
	um := &undefChildMutator{u: u}
	out := ir.MutateExprChildren(um, e)
	poisoned = um.poisoned
	if poisoned {
		return nil
	}
	return out
}

// undefChildMutator adapts mutate to the Mutator interface for the
// generic recursion; a nil child poisons the whole node.
type undefChildMutator struct {
	u        *undefRemover
	poisoned bool
}

func (m *undefChildMutator) MutateExpr(e ir.Expr) ir.Expr {
	if m.poisoned {
		return e
	}
	out := m.u.mutate(e)
	if out == nil {
		m.poisoned = true
		return e
	}
	return out
}

func (m *undefChildMutator) MutateStmt(s ir.Stmt) ir.Stmt { return s }

func (u *undefRemover) stmt(s ir.Stmt) ir.Stmt {
	if s == nil {
		return nil
	}
	switch v := s.(type) {
	case *ir.Store:
		u.predicate = u.predicate[:0]
		value := u.mutate(v.Value)
		if value == nil {
			return nil
		}
		index := u.mutate(v.Index)
		if index == nil {
			return nil
		}
		pred := u.mutate(v.Predicate)
		if pred == nil {
			return nil
		}
		if len(u.predicate) == 0 && ir.SameAs(value, v.Value) &&
			ir.SameAs(index, v.Index) && ir.SameAs(pred, v.Predicate) {
			return v
		}
		out := ir.NewStore(v.Name, value, index, pred, v.Align, v.Binding)
		for _, p := range u.predicate {
			out = &ir.IfThenElse{Condition: p, Then: out}
		}
		u.predicate = u.predicate[:0]
		return out
	case *ir.Provide:
		u.predicate = u.predicate[:0]
		values := make([]ir.Expr, len(v.Values))
		allUndef := true
		anyUndef := false
		for i, val := range v.Values {
			values[i] = u.mutate(val)
			if values[i] == nil {
				anyUndef = true
			} else {
				allUndef = false
			}
		}
		if allUndef {
			return nil
		}
		if anyUndef {
			// Partially undef tuples keep the defined components and
			// rewrite the undef ones to store their previous value.
			for i := range values {
				if values[i] == nil {
					values[i] = ir.NewFuncCall(v.Values[i].Type(), v.Name, v.Args, i)
				}
			}
		}
		args := make([]ir.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = u.mutate(a)
			if args[i] == nil {
				return nil
			}
		}
		pred := u.mutate(v.Predicate)
		if pred == nil {
			return nil
		}
		var out ir.Stmt = ir.NewProvide(v.Name, values, args, pred)
		for _, p := range u.predicate {
			out = &ir.IfThenElse{Condition: p, Then: out}
		}
		u.predicate = u.predicate[:0]
		return out
	case *ir.LetStmt:
		value := u.mutate(v.Value)
		if value == nil {
			b := u.deadVars.Bind(v.Name, struct{}{})
			body := u.stmt(v.Body)
			b.Release()
			return body
		}
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(value, v.Value) && ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewLetStmt(v.Name, value, body)
	case *ir.For:
		min := u.mutate(v.Min)
		extent := u.mutate(v.Extent)
		if min == nil || extent == nil {
			return nil
		}
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(min, v.Min) && ir.SameAs(extent, v.Extent) && ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewFor(v.Name, min, extent, v.ForType, v.DeviceAPI, body)
	case *ir.IfThenElse:
		cond := u.mutate(v.Condition)
		if cond == nil {
			return nil
		}
		then := u.stmt(v.Then)
		els := u.stmt(v.Else)
		if then == nil && els == nil {
			return nil
		}
		if then == nil {
			cond = ir.NewNot(cond)
			then, els = els, nil
		}
		if ir.SameAs(cond, v.Condition) && ir.SameAs(then, v.Then) && ir.SameAs(els, ir.Stmt(v.Else)) {
			return v
		}
		return &ir.IfThenElse{Condition: cond, Then: then, Else: els}
	case *ir.Block:
		first := u.stmt(v.First)
		rest := u.stmt(v.Rest)
		if first == nil && rest == nil {
			return nil
		}
		if ir.SameAs(first, v.First) && ir.SameAs(rest, v.Rest) {
			return v
		}
		return ir.NewBlock(first, rest)
	case *ir.Fork:
		first := u.stmt(v.First)
		rest := u.stmt(v.Rest)
		if first == nil && rest == nil {
			return nil
		}
		if ir.SameAs(first, v.First) && ir.SameAs(rest, v.Rest) {
			return v
		}
		return ir.NewFork(first, rest)
	case *ir.Evaluate:
		value := u.mutate(v.Value)
		if value == nil {
			return nil
		}
		if ir.SameAs(value, v.Value) {
			return v
		}
		return ir.NewEvaluate(value)
	case *ir.AssertStmt:
		cond := u.mutate(v.Condition)
		if cond == nil {
			return nil
		}
		if ir.SameAs(cond, v.Condition) {
			return v
		}
		return ir.NewAssert(cond, v.Message)
	case *ir.ProducerConsumer:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		return &ir.ProducerConsumer{Name: v.Name, IsProducer: v.IsProducer, Body: body}
	case *ir.Realize:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewRealize(v.Name, v.Types, v.MemType, v.Bounds, v.Condition, body)
	case *ir.Allocate:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		na := *v
		na.Body = body
		return &na
	case *ir.Atomic:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewAtomic(v.ProducerName, v.MutexName, body)
	case *ir.Acquire:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewAcquire(v.Semaphore, v.Count, body)
	case *ir.Prefetch:
		body := u.stmt(v.Body)
		if body == nil {
			return nil
		}
		if ir.SameAs(body, v.Body) {
			return v
		}
		np := *v
		np.Body = body
		return &np
	}
	return s
}

// RemoveUndef deletes stores of undef values and the control flow that
// only they needed.
func RemoveUndef(s ir.Stmt) ir.Stmt {
	var u undefRemover
	out := u.stmt(s)
	if out == nil {
		return ir.NewEvaluate(ir.ConstInt(0))
	}
	return out
}
