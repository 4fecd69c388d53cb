package lower

import (
	"fmt"

	"raster/internal/bounds"
	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
)

// InferBounds binds the symbolic bounds variables the loop-nest builder
// referred to: for every Realize, the `<func>.<arg>.{min,max}` of the
// required region and the `.min_realized/.extent_realized` allocation
// bounds; for every stage, the `<func>.s<k>.<arg>.{min,max}` loop
// bounds; and for outputs, the top-level `<func>.<arg>.{min,extent}`
// definitions. outputBounds optionally pins output regions to concrete
// ranges; otherwise they come from the output buffer's fields.
func InferBounds(s ir.Stmt, outputs []*pipeline.Function, env pipeline.Environment,
	outputBounds map[string]ir.Region) (ir.Stmt, error) {

	b := &boundsBinder{env: env}
	out, err := b.stmt(s)
	if err != nil {
		return nil, err
	}

	// Output bounds wrap everything, innermost: stage lets, then the
	// region definitions they refer to.
	for i := len(outputs) - 1; i >= 0; i-- {
		f := outputs[i]
		out = wrapStageBoundLets(out, f)
		args := f.ArgNames()
		for j := len(args) - 1; j >= 0; j-- {
			arg := args[j]
			base := f.Name() + "." + arg
			var minVal, extentVal ir.Expr
			if r, ok := outputBounds[f.Name()]; ok && j < len(r) {
				minVal, extentVal = r[j].Min, r[j].Extent
			} else {
				minVal = ir.BufferField(f.Name(), "min", j)
				extentVal = ir.BufferField(f.Name(), "extent", j)
			}
			out = ir.NewLetStmt(base+".max", ir.NewSub(ir.NewAdd(ir.Var(base+".min"), ir.Var(base+".extent")), ir.ConstInt(1)), out)
			out = ir.NewLetStmt(base+".extent", extentVal, out)
			out = ir.NewLetStmt(base+".min", minVal, out)
		}
	}
	return out, nil
}

// wrapStageBoundLets binds each stage's loop bounds to the function's
// required region, and its reduction variables to their domain.
func wrapStageBoundLets(s ir.Stmt, f *pipeline.Function) ir.Stmt {
	for k := len(f.Stages()) - 1; k >= 0; k-- {
		def := f.Stage(k)
		prefix := stagePrefix(f.Name(), k)
		if def.RDom != nil {
			for i := len(def.RDom.Vars) - 1; i >= 0; i-- {
				rv := def.RDom.Vars[i]
				base := prefix + rv.Name
				s = ir.NewLetStmt(base+".max",
					ir.SimplifyExpr(ir.NewSub(ir.NewAdd(rv.Min, rv.Extent), ir.ConstInt(1))), s)
				s = ir.NewLetStmt(base+".min", rv.Min, s)
			}
		}
		args := f.ArgNames()
		for i := len(args) - 1; i >= 0; i-- {
			base := f.Name() + "." + args[i]
			s = ir.NewLetStmt(prefix+args[i]+".max", ir.Var(base+".max"), s)
			s = ir.NewLetStmt(prefix+args[i]+".min", ir.Var(base+".min"), s)
		}
	}
	return s
}

type boundsBinder struct {
	env   pipeline.Environment
	scope ir.Scope[bounds.Interval]
}

func (b *boundsBinder) stmt(s ir.Stmt) (ir.Stmt, error) {
	switch v := s.(type) {
	case nil:
		return nil, nil
	case *ir.LetStmt:
		iv := bounds.OfExprInScope(v.Value, &b.scope)
		bind := b.scope.Bind(v.Name, iv)
		body, err := b.stmt(v.Body)
		bind.Release()
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		return ir.NewLetStmt(v.Name, v.Value, body), nil
	case *ir.For:
		lo := bounds.OfExprInScope(v.Min, &b.scope)
		hi := bounds.OfExprInScope(
			ir.SimplifyExpr(ir.NewSub(ir.NewAdd(v.Min, v.Extent), ir.ConstInt(1))), &b.scope)
		bind := b.scope.Bind(v.Name, bounds.Interval{Min: lo.Min, Max: hi.Max})
		body, err := b.stmt(v.Body)
		bind.Release()
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		return ir.NewFor(v.Name, v.Min, v.Extent, v.ForType, v.DeviceAPI, body), nil
	case *ir.Realize:
		return b.visitRealize(v)
	case *ir.Block:
		first, err := b.stmt(v.First)
		if err != nil {
			return nil, err
		}
		rest, err := b.stmt(v.Rest)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(first, v.First) && ir.SameAs(rest, v.Rest) {
			return v, nil
		}
		return ir.NewBlock(first, rest), nil
	case *ir.Fork:
		first, err := b.stmt(v.First)
		if err != nil {
			return nil, err
		}
		rest, err := b.stmt(v.Rest)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(first, v.First) && ir.SameAs(rest, v.Rest) {
			return v, nil
		}
		return ir.NewFork(first, rest), nil
	case *ir.ProducerConsumer:
		body, err := b.stmt(v.Body)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		return &ir.ProducerConsumer{Name: v.Name, IsProducer: v.IsProducer, Body: body}, nil
	case *ir.IfThenElse:
		then, err := b.stmt(v.Then)
		if err != nil {
			return nil, err
		}
		els, err := b.stmt(v.Else)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(then, v.Then) && ir.SameAs(els, ir.Stmt(v.Else)) {
			return v, nil
		}
		return &ir.IfThenElse{Condition: v.Condition, Then: then, Else: els}, nil
	case *ir.Allocate:
		body, err := b.stmt(v.Body)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		na := *v
		na.Body = body
		return &na, nil
	case *ir.Prefetch:
		body, err := b.stmt(v.Body)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		np := *v
		np.Body = body
		return &np, nil
	case *ir.Atomic:
		body, err := b.stmt(v.Body)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		return ir.NewAtomic(v.ProducerName, v.MutexName, body), nil
	case *ir.Acquire:
		body, err := b.stmt(v.Body)
		if err != nil {
			return nil, err
		}
		if ir.SameAs(body, v.Body) {
			return v, nil
		}
		return ir.NewAcquire(v.Semaphore, v.Count, body), nil
	}
	return s, nil
}

func (b *boundsBinder) visitRealize(r *ir.Realize) (ir.Stmt, error) {
	f, ok := b.env[r.Name]
	if !ok {
		body, err := b.stmt(r.Body)
		if err != nil {
			return nil, err
		}
		return ir.NewRealize(r.Name, r.Types, r.MemType, r.Bounds, r.Condition, body), nil
	}
	args := f.ArgNames()

	// Inner realizations bind first, so their region lets are present
	// in the tree when this one's box is bounded.
	body, err := b.stmt(r.Body)
	if err != nil {
		return nil, err
	}

	// The required region: every read of the buffer in the body,
	// bounded in the enclosing scope.
	required := bounds.BoxesRequired(body, &b.scope)[r.Name]
	if len(required.Bounds) < len(args) {
		required.Bounds = append(required.Bounds, make([]bounds.Interval, len(args)-len(required.Bounds))...)
	}

	explicit := make(map[string]pipeline.Bound)
	for _, bd := range f.Schedule().Bounds {
		explicit[bd.Var] = bd
	}

	type nv struct {
		name  string
		value ir.Expr
	}
	var lets []nv
	for i, arg := range args {
		base := r.Name + "." + arg
		iv := required.Bounds[i]
		if iv.Min == nil || iv.Max == nil {
			if bd, ok := explicit[arg]; !ok || bd.Min == nil || bd.Extent == nil {
				return nil, errors.New(errors.ErrorUnboundedAccess,
					fmt.Sprintf("the region required of %s in dimension %s is unbounded", r.Name, arg)).
					InFunc(r.Name).OnDirective(arg).
					WithHelp("bound the consumer or add an explicit bound() directive").Build()
			}
		}
		if iv.Min != nil {
			lets = append(lets, nv{base + ".min_unbounded", ir.SimplifyExpr(iv.Min)})
		}
		if iv.Max != nil {
			lets = append(lets, nv{base + ".max_unbounded", ir.SimplifyExpr(iv.Max)})
		}
		minVal := ir.Expr(ir.Var(base + ".min_unbounded"))
		maxVal := ir.Expr(ir.Var(base + ".max_unbounded"))
		if bd, ok := explicit[arg]; ok {
			if bd.Min != nil {
				minVal = bd.Min
			}
			if bd.Extent != nil {
				maxVal = ir.SimplifyExpr(ir.NewSub(ir.NewAdd(minVal, bd.Extent), ir.ConstInt(1)))
			}
		}
		lets = append(lets, nv{base + ".min", minVal})
		lets = append(lets, nv{base + ".max", maxVal})
	}

	// The provided region may exceed the required one when a split
	// rounds up; the allocation covers both. Resolve the produce sites
	// against the stage bounds being defined here.
	provScope := &ir.Scope[bounds.Interval]{}
	for k := 0; k < len(f.Stages()); k++ {
		prefix := stagePrefix(r.Name, k)
		for _, arg := range args {
			base := r.Name + "." + arg
			provScope.Push(prefix+arg+".min", bounds.SinglePoint(ir.Var(base+".min")))
			provScope.Push(prefix+arg+".max", bounds.SinglePoint(ir.Var(base+".max")))
		}
	}
	provided := bounds.BoxesProvided(body, provScope)[r.Name]

	var region ir.Region
	for i, arg := range args {
		base := r.Name + "." + arg
		minAlloc := ir.Expr(ir.Var(base + ".min"))
		maxAlloc := ir.Expr(ir.Var(base + ".max"))
		if i < len(provided.Bounds) && provided.Bounds[i].IsBounded() {
			minAlloc = ir.SimplifyExpr(ir.NewMin(minAlloc, provided.Bounds[i].Min))
			maxAlloc = ir.SimplifyExpr(ir.NewMax(maxAlloc, provided.Bounds[i].Max))
		}
		lets = append(lets, nv{base + ".min_realized", minAlloc})
		lets = append(lets, nv{base + ".extent_realized",
			ir.SimplifyExpr(ir.NewSub(ir.NewAdd(maxAlloc, ir.ConstInt(1)), ir.Var(base+".min_realized")))})
		region = append(region, ir.Range{
			Min:    ir.Var(base + ".min_realized"),
			Extent: ir.Var(base + ".extent_realized"),
		})
	}

	// Per-instance stage bounds go at the produce site, expressed in
	// the loop variables live there; storage folding depends on them.
	body = wrapInstanceBounds(body, f)

	// The realize-level stage lets remain as the fallback for
	// references outside the produce site (extern crop descriptors).
	var out ir.Stmt = ir.NewRealize(r.Name, r.Types, r.MemType, region, r.Condition, body)
	out = wrapStageBoundLets(out, f)
	for i := len(lets) - 1; i >= 0; i-- {
		out = ir.NewLetStmt(lets[i].name, lets[i].value, out)
	}
	return out, nil
}

// wrapInstanceBounds finds the pipeline point of f (the block holding
// its produce and consume) and binds each stage's loop bounds there,
// in terms of the enclosing loop variables.
func wrapInstanceBounds(s ir.Stmt, f *pipeline.Function) ir.Stmt {
	w := &instanceBoundsWrapper{f: f}
	return w.MutateStmt(s)
}

type instanceBoundsWrapper struct {
	f    *pipeline.Function
	done bool
}

func (w *instanceBoundsWrapper) MutateExpr(e ir.Expr) ir.Expr { return e }

func (w *instanceBoundsWrapper) isPipelinePoint(s ir.Stmt) bool {
	// The point is the produce node itself, or the block pairing it
	// with its consume side.
	if pc, ok := s.(*ir.ProducerConsumer); ok {
		return pc.IsProducer && pc.Name == w.f.Name()
	}
	if b, ok := s.(*ir.Block); ok {
		first := b.First
		for {
			pc, ok := first.(*ir.ProducerConsumer)
			if !ok {
				return false
			}
			if pc.IsProducer && pc.Name == w.f.Name() {
				return true
			}
			first = pc.Body
		}
	}
	return false
}

func (w *instanceBoundsWrapper) MutateStmt(s ir.Stmt) ir.Stmt {
	if w.done {
		return s
	}
	if !w.isPipelinePoint(s) {
		return ir.MutateStmtChildren(w, s)
	}
	w.done = true

	var scope ir.Scope[bounds.Interval]
	box := bounds.BoxesRequired(s, &scope)[w.f.Name()]

	args := w.f.ArgNames()
	out := s
	for k := len(w.f.Stages()) - 1; k >= 0; k-- {
		prefix := stagePrefix(w.f.Name(), k)
		for i := len(args) - 1; i >= 0; i-- {
			base := w.f.Name() + "." + args[i]
			minVal := ir.Expr(ir.Var(base + ".min"))
			maxVal := ir.Expr(ir.Var(base + ".max"))
			if i < len(box.Bounds) && box.Bounds[i].IsBounded() {
				minVal = ir.SimplifyExpr(box.Bounds[i].Min)
				maxVal = ir.SimplifyExpr(box.Bounds[i].Max)
			}
			out = ir.NewLetStmt(prefix+args[i]+".max", maxVal, out)
			out = ir.NewLetStmt(prefix+args[i]+".min", minVal, out)
		}
	}
	return out
}
