package lower

import (
	"fmt"

	"raster/internal/bounds"
	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
)

const maxAutoFold = 1024

func nextPowerOfTwo(x int64) int64 {
	p := int64(1)
	for p < x {
		p <<= 1
	}
	return p
}

// countProducers counts produce nodes for a name; automatic folding
// needs exactly one.
func countProducers(s ir.Stmt, name string) int {
	count := 0
	ir.Walk(s, func(n ir.Node) bool {
		if pc, ok := n.(*ir.ProducerConsumer); ok && pc.Name == name {
			if pc.IsProducer {
				count++
			}
			return false
		}
		return true
	})
	return count
}

// foldStorageOfFunction rewrites every access to func's folded dim
// modulo the fold factor.
type foldStorageOfFunction struct {
	fn     string
	dim    int
	factor ir.Expr
}

func (fs *foldStorageOfFunction) foldIndex(e ir.Expr) ir.Expr {
	if ir.IsConstValue(fs.factor, 1) {
		return ir.ConstInt(0)
	}
	return ir.NewMod(e, fs.factor)
}

func (fs *foldStorageOfFunction) MutateExpr(e ir.Expr) ir.Expr {
	c, ok := e.(*ir.Call)
	if !ok || c.Kind != ir.FuncCall || c.Name != fs.fn {
		return ir.MutateExprChildren(fs, e)
	}
	args, _ := mutateArgs(fs, c.Args)
	args[fs.dim] = fs.foldIndex(args[fs.dim])
	return &ir.Call{T: c.T, Name: c.Name, Args: args, Kind: c.Kind, ValueIndex: c.ValueIndex, Binding: c.Binding}
}

func (fs *foldStorageOfFunction) MutateStmt(s ir.Stmt) ir.Stmt {
	p, ok := s.(*ir.Provide)
	if !ok || p.Name != fs.fn {
		return ir.MutateStmtChildren(fs, s)
	}
	values, _ := mutateArgs(fs, p.Values)
	args, _ := mutateArgs(fs, p.Args)
	args[fs.dim] = fs.foldIndex(args[fs.dim])
	return &ir.Provide{Name: p.Name, Values: values, Args: args, Predicate: fs.MutateExpr(p.Predicate)}
}

func mutateArgs(m ir.Mutator, args []ir.Expr) ([]ir.Expr, bool) {
	out := make([]ir.Expr, len(args))
	changed := false
	for i, a := range args {
		out[i] = m.MutateExpr(a)
		changed = changed || !ir.SameAs(out[i], a)
	}
	return out, changed
}

type fold struct {
	dim    int
	factor ir.Expr
}

// storageFolder attempts to fold one function's storage inside each
// enclosing serial or unrolled loop.
type storageFolder struct {
	fn           *pipeline.Function
	name         string
	explicitOnly bool
	dimsFolded   []fold
}

func (sf *storageFolder) MutateExpr(e ir.Expr) ir.Expr { return e }

func (sf *storageFolder) MutateStmt(s ir.Stmt) ir.Stmt {
	switch v := s.(type) {
	case *ir.ProducerConsumer:
		if v.Name == sf.name {
			// The pipeline for this function itself is off limits.
			return v
		}
	case *ir.For:
		return sf.visitFor(v)
	}
	return ir.MutateStmtChildren(sf, s)
}

func (sf *storageFolder) storageDim(i int) (pipeline.StorageDim, bool) {
	args := sf.fn.ArgNames()
	if i >= len(args) {
		return pipeline.StorageDim{}, false
	}
	for _, sd := range sf.fn.Schedule().StorageDims {
		if sd.Var == args[i] {
			return sd, true
		}
	}
	return pipeline.StorageDim{}, false
}

func (sf *storageFolder) visitFor(op *ir.For) ir.Stmt {
	// Parallel and fork loops can alias across iterations; folding
	// under them is unsound.
	if op.ForType != ir.Serial && op.ForType != ir.Unrolled {
		return op
	}

	body := op.Body
	var scope ir.Scope[bounds.Interval]
	provided := bounds.BoxesProvided(body, &scope)[sf.name]
	required := bounds.BoxesRequired(body, &scope)[sf.name]
	box := provided.Union(required)

	// Try each dimension in turn, outermost first.
	for i := len(box.Bounds); i > 0; i-- {
		iv := box.Bounds[i-1]
		if !iv.IsBounded() {
			continue
		}
		min := ir.SimplifyExpr(iv.Min)
		max := ir.SimplifyExpr(iv.Max)

		var explicitFactor ir.Expr
		sd, hasSD := sf.storageDim(i - 1)
		if hasSD && sd.Fold != nil && (ir.UsesVar(min, op.Name) || ir.UsesVar(max, op.Name)) {
			// An explicit fold only applies to the loop it varies
			// with; elsewhere the asserts would be too conservative.
			explicitFactor = sd.Fold
		}

		minMonotonicIncreasing := !sf.explicitOnly &&
			bounds.IsMonotonic(min, op.Name) == bounds.MonoIncreasing
		maxMonotonicDecreasing := !sf.explicitOnly &&
			bounds.IsMonotonic(max, op.Name) == bounds.MonoDecreasing

		if !minMonotonicIncreasing && !maxMonotonicDecreasing && explicitFactor != nil {
			// Can't prove the motion; assert it instead.
			loopVar := ir.Var(op.Name)
			var condition ir.Expr
			if !hasSD || sd.FoldForward {
				minNext := ir.SubstituteExpr(op.Name, ir.NewAdd(loopVar, ir.ConstInt(1)), min)
				condition = ir.NewGE(minNext, min)
				minMonotonicIncreasing = true
			} else {
				maxNext := ir.SubstituteExpr(op.Name, ir.NewAdd(loopVar, ir.ConstInt(1)), max)
				condition = ir.NewLE(maxNext, max)
				maxMonotonicDecreasing = true
			}
			errCall := ir.MakeErrorCall(ir.ErrBadFold,
				ir.NewStringImm(sf.name), ir.NewStringImm(sd.Var), ir.NewStringImm(op.Name))
			body = ir.NewBlock(ir.NewAssert(condition, errCall), body)
		}

		if !minMonotonicIncreasing && !maxMonotonicDecreasing {
			continue
		}

		extent := ir.SimplifyExpr(ir.NewSub(ir.NewAdd(max, ir.ConstInt(1)), min))
		var factor ir.Expr
		if explicitFactor != nil {
			errCall := ir.MakeErrorCall(ir.ErrFoldFactorTooSmall,
				ir.NewStringImm(sf.name), ir.NewStringImm(sd.Var),
				explicitFactor, ir.NewStringImm(op.Name), extent)
			body = ir.NewBlock(ir.NewAssert(ir.NewLE(extent, explicitFactor), errCall), body)
			factor = explicitFactor
		} else {
			// The extent must be provably bounded by a constant over
			// the whole loop.
			var loopScope ir.Scope[bounds.Interval]
			loopScope.Push(op.Name, bounds.Interval{
				Min: loopMinVar(op.Name),
				Max: loopMaxVar(op.Name),
			})
			maxExtent := bounds.OfExprInScope(extent, &loopScope).Max
			loopScope.Pop(op.Name)
			if c, ok := ir.ConstIntValue(ir.SimplifyExpr(maxExtent)); ok && c <= maxAutoFold {
				factor = ir.ConstInt(nextPowerOfTwo(c))
			} else if c, ok := ir.ConstIntValue(extent); ok && c <= maxAutoFold {
				factor = ir.ConstInt(nextPowerOfTwo(c))
			}
		}

		if factor == nil {
			continue
		}

		sf.dimsFolded = append(sf.dimsFolded, fold{dim: i - 1, factor: factor})
		folder := &foldStorageOfFunction{fn: sf.name, dim: i - 1, factor: factor}
		body = folder.MutateStmt(body)

		// Continue outward only when successive iterations cannot
		// overlap.
		nextMin := ir.SubstituteExpr(op.Name, ir.NewAdd(ir.Var(op.Name), ir.ConstInt(1)), min)
		noOverlap := ir.SimplifyExpr(ir.NewLT(max, nextMin))
		if ir.IsConstTrue(noOverlap) && isConstBool(noOverlap) {
			continue
		}
		if !ir.SameAs(body, op.Body) {
			return ir.NewFor(op.Name, op.Min, op.Extent, op.ForType, op.DeviceAPI, body)
		}
		return op
	}

	// Sliding communicates values between iterations; only recurse
	// into the body when the producer covers everything it reads.
	if boxContains(provided, required) {
		body = sf.MutateStmt(body)
	}

	if ir.SameAs(body, op.Body) {
		return op
	}
	return ir.NewFor(op.Name, op.Min, op.Extent, op.ForType, op.DeviceAPI, body)
}

func isConstBool(e ir.Expr) bool {
	_, ok := ir.ConstIntValue(e)
	return ok
}

// boxContains reports whether a provably contains b.
func boxContains(a, b bounds.Box) bool {
	if len(b.Bounds) == 0 {
		return true
	}
	if len(a.Bounds) < len(b.Bounds) {
		return false
	}
	for i := range b.Bounds {
		if !a.Bounds[i].IsBounded() || !b.Bounds[i].IsBounded() {
			return false
		}
		le := ir.SimplifyExpr(ir.NewLE(a.Bounds[i].Min, b.Bounds[i].Min))
		ge := ir.SimplifyExpr(ir.NewGE(a.Bounds[i].Max, b.Bounds[i].Max))
		if !(ir.IsConstTrue(le) && isConstBool(le) && ir.IsConstTrue(ge) && isConstBool(ge)) {
			return false
		}
	}
	return true
}

// isBufferSpecial reports whether the allocation's raw buffer handle
// escapes, e.g. to an extern or device stage.
func isBufferSpecial(s ir.Stmt, name string) bool {
	special := false
	ir.Walk(s, func(n ir.Node) bool {
		if v, ok := n.(*ir.Variable); ok &&
			v.T.IsHandle() && v.Name == name+".buffer" {
			special = true
		}
		return !special
	})
	return special
}

// storageFolding walks Realize nodes and attempts to fold each one.
type storageFolding struct {
	env pipeline.Environment
	err error
}

func (sfg *storageFolding) MutateExpr(e ir.Expr) ir.Expr { return e }

func (sfg *storageFolding) MutateStmt(s ir.Stmt) ir.Stmt {
	op, ok := s.(*ir.Realize)
	if !ok {
		return ir.MutateStmtChildren(sfg, s)
	}
	body := sfg.MutateStmt(op.Body)

	f, inEnv := sfg.env[op.Name]

	if isBufferSpecial(op, op.Name) {
		// The buffer escapes; only a user error if they asked for an
		// explicit fold we cannot honor.
		if inEnv {
			for _, sd := range f.Schedule().StorageDims {
				if sd.Fold != nil {
					sfg.err = errors.New(errors.ErrorBadFold,
						fmt.Sprintf("dimension %s of %s cannot be folded because the buffer is accessed by extern or device stages",
							sd.Var, op.Name)).
						InFunc(op.Name).OnDirective("fold_storage").Build()
				}
			}
		}
		if ir.SameAs(body, op.Body) {
			return op
		}
		return ir.NewRealize(op.Name, op.Types, op.MemType, op.Bounds, op.Condition, body)
	}

	if !inEnv {
		if ir.SameAs(body, op.Body) {
			return op
		}
		return ir.NewRealize(op.Name, op.Types, op.MemType, op.Bounds, op.Condition, body)
	}

	explicitOnly := countProducers(body, op.Name) != 1
	folder := &storageFolder{fn: f, name: op.Name, explicitOnly: explicitOnly}
	body = folder.MutateStmt(body)

	if ir.SameAs(body, op.Body) {
		return op
	}
	if len(folder.dimsFolded) == 0 {
		return ir.NewRealize(op.Name, op.Types, op.MemType, op.Bounds, op.Condition, body)
	}

	bnds := append(ir.Region(nil), op.Bounds...)
	for _, fd := range folder.dimsFolded {
		bnds[fd.dim] = ir.Range{Min: ir.ConstInt(0), Extent: fd.factor}
	}
	return ir.NewRealize(op.Name, op.Types, op.MemType, bnds, op.Condition, body)
}

// FoldStorage shrinks monotone-use allocations into circular buffers.
func FoldStorage(s ir.Stmt, env pipeline.Environment) (ir.Stmt, error) {
	sfg := &storageFolding{env: env}
	out := sfg.MutateStmt(s)
	if sfg.err != nil {
		return nil, sfg.err
	}
	return out, nil
}
