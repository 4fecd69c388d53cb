package bounds

import "raster/internal/ir"

// BoxesTouched returns, per buffer, a box bounding every site the
// statement reads or writes, symbolically in its free variables and in
// the intervals of scope. Reads come from FuncCall/ImageLoad calls and
// Loads; writes from Provides and Stores.
func BoxesTouched(s ir.Stmt, scope *ir.Scope[Interval]) map[string]Box {
	return boxesTouched(s, scope, true, true)
}

// BoxesRequired bounds only the reads.
func BoxesRequired(s ir.Stmt, scope *ir.Scope[Interval]) map[string]Box {
	return boxesTouched(s, scope, true, false)
}

// BoxesProvided bounds only the writes.
func BoxesProvided(s ir.Stmt, scope *ir.Scope[Interval]) map[string]Box {
	return boxesTouched(s, scope, false, true)
}

// BoxesTouchedExpr bounds the reads performed by an expression.
func BoxesTouchedExpr(e ir.Expr, scope *ir.Scope[Interval]) map[string]Box {
	w := boxWalker{scope: scope, reads: true}
	w.expr(e)
	return w.boxes
}

func boxesTouched(s ir.Stmt, scope *ir.Scope[Interval], reads, writes bool) map[string]Box {
	w := boxWalker{scope: scope, reads: reads, writes: writes}
	w.stmt(s)
	return w.boxes
}

type boxWalker struct {
	scope  *ir.Scope[Interval]
	reads  bool
	writes bool
	boxes  map[string]Box
}

func (w *boxWalker) record(name string, box Box) {
	if w.boxes == nil {
		w.boxes = make(map[string]Box)
	}
	if prior, ok := w.boxes[name]; ok {
		w.boxes[name] = prior.Union(box)
	} else {
		w.boxes[name] = box
	}
}

func (w *boxWalker) boxOfArgs(args []ir.Expr) Box {
	box := Box{Bounds: make([]Interval, len(args))}
	for i, a := range args {
		box.Bounds[i] = OfExprInScope(a, w.scope)
	}
	return box
}

func (w *boxWalker) expr(e ir.Expr) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *ir.Call:
		for _, a := range v.Args {
			w.expr(a)
		}
		if w.reads && (v.Kind == ir.FuncCall || v.Kind == ir.ImageLoad) {
			w.record(v.Name, w.boxOfArgs(v.Args))
		}
	case *ir.Load:
		w.expr(v.Index)
		w.expr(v.Predicate)
		if w.reads {
			w.record(v.Name, Box{Bounds: []Interval{OfExprInScope(v.Index, w.scope)}})
		}
	case *ir.Let:
		w.expr(v.Value)
		b := w.scope.Bind(v.Name, OfExprInScope(v.Value, w.scope))
		w.expr(v.Body)
		b.Release()
	case *ir.Cast:
		w.expr(v.Value)
	case *ir.Reinterpret:
		w.expr(v.Value)
	case *ir.Add:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Sub:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Mul:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Div:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Mod:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Min:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Max:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.EQ:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.NE:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.LT:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.LE:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.GT:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.GE:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.And:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Or:
		w.expr(v.A)
		w.expr(v.B)
	case *ir.Not:
		w.expr(v.A)
	case *ir.Select:
		w.expr(v.Cond)
		w.expr(v.TrueValue)
		w.expr(v.FalseValue)
	case *ir.Ramp:
		w.expr(v.Base)
		w.expr(v.Stride)
	case *ir.Broadcast:
		w.expr(v.Value)
	case *ir.Shuffle:
		for _, vec := range v.Vectors {
			w.expr(vec)
		}
	case *ir.VectorReduce:
		w.expr(v.Value)
	}
}

func (w *boxWalker) stmt(s ir.Stmt) {
	if s == nil {
		return
	}
	switch v := s.(type) {
	case *ir.LetStmt:
		w.expr(v.Value)
		b := w.scope.Bind(v.Name, OfExprInScope(v.Value, w.scope))
		w.stmt(v.Body)
		b.Release()
	case *ir.For:
		w.expr(v.Min)
		w.expr(v.Extent)
		lo := OfExprInScope(v.Min, w.scope)
		hi := OfExprInScope(
			ir.SimplifyExpr(ir.NewSub(ir.NewAdd(v.Min, v.Extent), ir.ConstInt(1))), w.scope)
		b := w.scope.Bind(v.Name, Interval{Min: lo.Min, Max: hi.Max})
		w.stmt(v.Body)
		b.Release()
	case *ir.Provide:
		for _, val := range v.Values {
			w.expr(val)
		}
		for _, a := range v.Args {
			w.expr(a)
		}
		w.expr(v.Predicate)
		if w.writes {
			w.record(v.Name, w.boxOfArgs(v.Args))
		}
	case *ir.Store:
		w.expr(v.Value)
		w.expr(v.Index)
		w.expr(v.Predicate)
		if w.writes {
			w.record(v.Name, Box{Bounds: []Interval{OfExprInScope(v.Index, w.scope)}})
		}
	case *ir.IfThenElse:
		w.expr(v.Condition)
		w.stmt(v.Then)
		if v.Else != nil {
			w.stmt(v.Else)
		}
	case *ir.Block:
		w.stmt(v.First)
		w.stmt(v.Rest)
	case *ir.Fork:
		w.stmt(v.First)
		w.stmt(v.Rest)
	case *ir.ProducerConsumer:
		w.stmt(v.Body)
	case *ir.Realize:
		for _, r := range v.Bounds {
			w.expr(r.Min)
			w.expr(r.Extent)
		}
		w.expr(v.Condition)
		w.stmt(v.Body)
	case *ir.Allocate:
		for _, e := range v.Extents {
			w.expr(e)
		}
		w.expr(v.Condition)
		w.stmt(v.Body)
	case *ir.AssertStmt:
		w.expr(v.Condition)
		w.expr(v.Message)
	case *ir.Evaluate:
		w.expr(v.Value)
	case *ir.Prefetch:
		for _, r := range v.Bounds {
			w.expr(r.Min)
			w.expr(r.Extent)
		}
		w.expr(v.Condition)
		w.stmt(v.Body)
	case *ir.Atomic:
		w.stmt(v.Body)
	case *ir.Acquire:
		w.expr(v.Semaphore)
		w.expr(v.Count)
		w.stmt(v.Body)
	case *ir.Free:
	}
}
