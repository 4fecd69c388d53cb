package lower

import (
	"raster/internal/ir"
)

// predicateFinder computes, for one realized buffer, a predicate over
// the enclosing loop variables characterizing whether the buffer is
// ever read.
type predicateFinder struct {
	buffer    string
	predicate ir.Expr
	varies    bool
	varying   ir.Scope[struct{}]
}

func newPredicateFinder(buffer string) *predicateFinder {
	return &predicateFinder{buffer: buffer, predicate: ir.ConstFalse()}
}

func (p *predicateFinder) expr(e ir.Expr) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *ir.Variable:
		if p.varying.Contains(v.Name) {
			p.varies = true
		}
	case *ir.Let:
		p.visitLet(v.Name, v.Value, func() { p.expr(v.Body) })
	case *ir.Select:
		p.visitConditional(v.Cond,
			func() { p.expr(v.TrueValue) },
			func() { p.expr(v.FalseValue) })
	case *ir.Call:
		for _, a := range v.Args {
			p.expr(a)
		}
		if v.Name == p.buffer && (v.Kind == ir.FuncCall || v.Kind == ir.ImageLoad) {
			p.predicate = ir.ConstTrue()
		}
	case *ir.Load:
		p.expr(v.Index)
		p.expr(v.Predicate)
		if v.Name == p.buffer {
			p.predicate = ir.ConstTrue()
		}
	default:
		ir.Walk(e, func(n ir.Node) bool {
			if ne, ok := n.(ir.Expr); ok && !ir.SameAs(ne, e) {
				switch n.(type) {
				case *ir.Variable, *ir.Let, *ir.Select, *ir.Call, *ir.Load:
					p.expr(ne)
					return false
				}
			}
			return true
		})
	}
}

func (p *predicateFinder) visitLet(name string, value ir.Expr, body func()) {
	oldVaries := p.varies
	p.varies = false
	p.expr(value)
	valueVaries := p.varies
	p.varies = p.varies || oldVaries
	if valueVaries {
		b := p.varying.Bind(name, struct{}{})
		body()
		b.Release()
	} else {
		body()
	}
	p.predicate = ir.SubstituteExpr(name, value, p.predicate)
}

func (p *predicateFinder) visitConditional(cond ir.Expr, trueCase, falseCase func()) {
	oldPredicate := p.predicate

	p.predicate = ir.ConstFalse()
	trueCase()
	truePred := p.predicate

	p.predicate = ir.ConstFalse()
	falseCase()
	falsePred := p.predicate

	oldVaries := p.varies
	p.predicate = ir.ConstFalse()
	p.varies = false
	p.expr(cond)

	if p.varies {
		p.predicate = ir.NewOr(ir.NewOr(oldPredicate, p.predicate),
			ir.NewOr(truePred, falsePred))
	} else {
		p.predicate = ir.NewOr(ir.NewOr(oldPredicate, p.predicate),
			ir.NewOr(ir.NewAnd(cond, truePred), ir.NewAnd(ir.NewNot(cond), falsePred)))
	}
	p.varies = p.varies || oldVaries
}

func (p *predicateFinder) stmt(s ir.Stmt) {
	if s == nil {
		return
	}
	switch v := s.(type) {
	case *ir.For:
		p.expr(v.Min)
		p.expr(v.Extent)
		one := ir.IsConstValue(v.Extent, 1)
		if !one {
			b := p.varying.Bind(v.Name, struct{}{})
			p.stmt(v.Body)
			b.Release()
			return
		}
		p.stmt(v.Body)
		// A constant-extent-1 loop pins its variable to the min.
		p.predicate = ir.SubstituteExpr(v.Name, v.Min, p.predicate)
	case *ir.LetStmt:
		p.visitLet(v.Name, v.Value, func() { p.stmt(v.Body) })
	case *ir.IfThenElse:
		p.visitConditional(v.Condition,
			func() { p.stmt(v.Then) },
			func() { p.stmt(v.Else) })
	case *ir.ProducerConsumer:
		// Production of the buffer itself does not make it needed;
		// only the consume side inherits the predicate.
		if v.IsProducer && v.Name == p.buffer {
			return
		}
		p.stmt(v.Body)
	case *ir.Block:
		p.stmt(v.First)
		p.stmt(v.Rest)
	case *ir.Fork:
		p.stmt(v.First)
		p.stmt(v.Rest)
	case *ir.Provide:
		for _, val := range v.Values {
			p.expr(val)
		}
		for _, a := range v.Args {
			p.expr(a)
		}
		p.expr(v.Predicate)
	case *ir.Store:
		p.expr(v.Value)
		p.expr(v.Index)
		p.expr(v.Predicate)
	case *ir.Realize:
		for _, r := range v.Bounds {
			p.expr(r.Min)
			p.expr(r.Extent)
		}
		p.expr(v.Condition)
		p.stmt(v.Body)
	case *ir.Allocate:
		for _, e := range v.Extents {
			p.expr(e)
		}
		p.expr(v.Condition)
		p.stmt(v.Body)
	case *ir.AssertStmt:
		p.expr(v.Condition)
		p.expr(v.Message)
	case *ir.Evaluate:
		p.expr(v.Value)
	case *ir.Prefetch:
		p.expr(v.Condition)
		p.stmt(v.Body)
	case *ir.Atomic:
		p.stmt(v.Body)
	case *ir.Acquire:
		p.expr(v.Semaphore)
		p.expr(v.Count)
		p.stmt(v.Body)
	}
}

// productionGuarder wraps the produce side of the buffer in a check of
// the `.needed` predicate.
type productionGuarder struct {
	buffer string
}

func (g *productionGuarder) MutateExpr(e ir.Expr) ir.Expr { return e }

func (g *productionGuarder) MutateStmt(s ir.Stmt) ir.Stmt {
	if pc, ok := s.(*ir.ProducerConsumer); ok && pc.IsProducer && pc.Name == g.buffer {
		neededVar := ir.NewVariable(ir.BoolT, g.buffer+".needed")
		guarded := &ir.ProducerConsumer{
			Name:       pc.Name,
			IsProducer: true,
			Body:       &ir.IfThenElse{Condition: neededVar, Then: pc.Body},
		}
		return guarded
	}
	return ir.MutateStmtChildren(g, s)
}

// stageSkipper gates the production of one realization behind its
// usage predicate.
type stageSkipper struct {
	buffer string
}

func (ss *stageSkipper) MutateExpr(e ir.Expr) ir.Expr { return ir.MutateExprChildren(ss, e) }

func (ss *stageSkipper) MutateStmt(s ir.Stmt) ir.Stmt {
	r, ok := s.(*ir.Realize)
	if !ok || r.Name != ss.buffer {
		return ir.MutateStmtChildren(ss, s)
	}
	f := newPredicateFinder(r.Name)
	f.stmt(r.Body)
	predicate := ir.SimplifyExpr(f.predicate)
	if ir.IsConstTrue(predicate) {
		return ir.MutateStmtChildren(ss, s)
	}
	g := &productionGuarder{buffer: r.Name}
	body := g.MutateStmt(r.Body)
	body = ir.NewLetStmt(r.Name+".needed", predicate, body)
	return ir.NewRealize(r.Name, r.Types, r.MemType, r.Bounds, r.Condition, body)
}

// SkipStages gates each realization's production behind a statically
// computed usage predicate, in reverse realization order.
func SkipStages(s ir.Stmt, order []string) ir.Stmt {
	for i := len(order) - 1; i > 0; i-- {
		ss := &stageSkipper{buffer: order[i-1]}
		s = ss.MutateStmt(s)
	}
	return s
}
