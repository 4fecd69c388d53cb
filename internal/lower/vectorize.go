package lower

import (
	"fmt"

	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
)

// widen broadcasts a scalar (or narrower vector of repeating groups)
// to the requested lane count.
func widen(e ir.Expr, lanes int) ir.Expr {
	t := e.Type()
	if t.Lanes == lanes {
		return e
	}
	if t.IsScalar() {
		return ir.NewBroadcast(e, lanes)
	}
	if lanes%t.Lanes == 0 {
		return ir.NewBroadcast(e, lanes/t.Lanes)
	}
	panic(fmt.Sprintf("lower: cannot widen %d lanes to %d", t.Lanes, lanes))
}

// isInterleavedRamp recognizes vector expressions structurally
// equivalent to a ramp whose lanes repeat inner and/or outer times:
// plain ramps, broadcasts of ramps, ramps of broadcasts, and the
// closure under addition, subtraction, multiplication by a broadcast
// constant, and division/modulus by suitable constants.
func isInterleavedRamp(e ir.Expr) bool {
	switch v := e.(type) {
	case *ir.Ramp:
		return true
	case *ir.Broadcast:
		_, ok := v.Value.(*ir.Ramp)
		return ok
	case *ir.Add:
		return isInterleavedRamp(v.A) && isBroadcastConst(v.B) ||
			isBroadcastConst(v.A) && isInterleavedRamp(v.B) ||
			isInterleavedRamp(v.A) && isInterleavedRamp(v.B)
	case *ir.Sub:
		return isInterleavedRamp(v.A) && isBroadcastConst(v.B)
	case *ir.Mul:
		return isInterleavedRamp(v.A) && isBroadcastConst(v.B) ||
			isBroadcastConst(v.A) && isInterleavedRamp(v.B)
	case *ir.Div:
		return isInterleavedRamp(v.A) && isBroadcastConst(v.B)
	case *ir.Mod:
		return isInterleavedRamp(v.A) && isBroadcastConst(v.B)
	}
	return false
}

func isBroadcastConst(e ir.Expr) bool {
	if _, ok := ir.ConstIntValue(e); ok {
		return true
	}
	if b, ok := e.(*ir.Broadcast); ok {
		return ir.IsPureExpr(b.Value)
	}
	return false
}

// vectorizedVar is one level of the vectorized-variable stack; nested
// vectorization multiplies widths.
type vectorizedVar struct {
	name  string
	min   ir.Expr
	lanes int
}

// vectorSubs widens everything containing the vectorized variable.
type vectorSubs struct {
	vars []vectorizedVar
	// replacement expressions per vectorized or rewritten name
	replacements map[string]ir.Expr
	// scalar lets carried for the scalarization fallback
	containingLets []*ir.LetStmt
	err            error
}

func (vs *vectorSubs) lanes() int {
	n := 1
	for _, v := range vs.vars {
		n *= v.lanes
	}
	return n
}

func (vs *vectorSubs) innermost() vectorizedVar {
	return vs.vars[len(vs.vars)-1]
}

func (vs *vectorSubs) widenedName(name string) string {
	return name + ".widened." + vs.innermost().name
}

// rebin rebuilds a binary node through its smart constructor so a
// scalar side broadcasts against a widened side.
func rebin(orig, a, b, na, nb ir.Expr, make2 func(x, y ir.Expr) ir.Expr) ir.Expr {
	if ir.SameAs(na, a) && ir.SameAs(nb, b) {
		return orig
	}
	return make2(na, nb)
}

func (vs *vectorSubs) MutateExpr(e ir.Expr) ir.Expr {
	switch v := e.(type) {
	case *ir.Variable:
		if r, ok := vs.replacements[v.Name]; ok {
			return r
		}
		return v
	case *ir.Add:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewAdd)
	case *ir.Sub:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewSub)
	case *ir.Mul:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewMul)
	case *ir.Div:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewDiv)
	case *ir.Mod:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewMod)
	case *ir.Min:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewMin)
	case *ir.Max:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewMax)
	case *ir.EQ:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewEQ)
	case *ir.NE:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewNE)
	case *ir.LT:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewLT)
	case *ir.LE:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewLE)
	case *ir.GT:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewGT)
	case *ir.GE:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewGE)
	case *ir.And:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewAnd)
	case *ir.Or:
		return rebin(v, v.A, v.B, vs.MutateExpr(v.A), vs.MutateExpr(v.B), ir.NewOr)
	case *ir.Select:
		cond := vs.MutateExpr(v.Cond)
		t := vs.MutateExpr(v.TrueValue)
		f := vs.MutateExpr(v.FalseValue)
		if ir.SameAs(cond, v.Cond) && ir.SameAs(t, v.TrueValue) && ir.SameAs(f, v.FalseValue) {
			return v
		}
		lanes := max(t.Type().Lanes, f.Type().Lanes)
		t = widen(t, lanes)
		f = widen(f, lanes)
		if cond.Type().IsVector() {
			cond = widen(cond, lanes)
		}
		return &ir.Select{Cond: cond, TrueValue: t, FalseValue: f}
	case *ir.Load:
		index := vs.MutateExpr(v.Index)
		pred := vs.MutateExpr(v.Predicate)
		if ir.SameAs(index, v.Index) && ir.SameAs(pred, v.Predicate) {
			return v
		}
		lanes := max(index.Type().Lanes, pred.Type().Lanes)
		return ir.NewLoad(v.T.WithLanes(lanes), v.Name, widen(index, lanes), widen(pred, lanes), v.Align, v.Binding)
	case *ir.Call:
		return vs.mutateCall(v)
	case *ir.Let:
		value := vs.MutateExpr(v.Value)
		if value.Type().IsVector() {
			if isInterleavedRamp(value) {
				// Inline interleaved ramps so downstream patterns
				// still match.
				vs.replacements[v.Name] = value
				body := vs.MutateExpr(v.Body)
				delete(vs.replacements, v.Name)
				return body
			}
			wname := vs.widenedName(v.Name)
			vs.replacements[v.Name] = ir.NewVariable(value.Type(), wname)
			body := vs.MutateExpr(v.Body)
			delete(vs.replacements, v.Name)
			return ir.NewLet(wname, value, body)
		}
		body := vs.MutateExpr(v.Body)
		if ir.SameAs(value, v.Value) && ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewLet(v.Name, value, body)
	}
	return ir.MutateExprChildren(vs, e)
}

func (vs *vectorSubs) mutateCall(c *ir.Call) ir.Expr {
	switch c.Name {
	case ir.IntrinsicPrefetch:
		// Prefetch is coarse-grained: keep scalar arguments by
		// extracting lane 0.
		args := make([]ir.Expr, len(c.Args))
		changed := false
		for i, a := range c.Args {
			na := vs.MutateExpr(a)
			if na.Type().IsVector() {
				na = ir.ExtractLane(na, 0)
			}
			changed = changed || !ir.SameAs(na, a)
			args[i] = na
		}
		if !changed {
			return c
		}
		return &ir.Call{T: c.T, Name: c.Name, Args: args, Kind: c.Kind, ValueIndex: c.ValueIndex, Binding: c.Binding}
	case ir.IntrinsicTrace:
		return vs.mutateTrace(c)
	}

	args := make([]ir.Expr, len(c.Args))
	changed := false
	lanes := 1
	for i, a := range c.Args {
		args[i] = vs.MutateExpr(a)
		changed = changed || !ir.SameAs(args[i], a)
		lanes = max(lanes, args[i].Type().Lanes)
	}
	if !changed {
		return c
	}
	for i := range args {
		if args[i].Type().Lanes != lanes && args[i].Type().Lanes == 1 {
			// Scalar operands of a widened call broadcast, except
			// name-like handles.
			if !args[i].Type().IsHandle() {
				args[i] = widen(args[i], lanes)
			}
		}
	}
	t := c.T
	if t.Lanes != lanes {
		t = t.WithLanes(lanes)
	}
	return &ir.Call{T: t, Name: c.Name, Args: args, Kind: c.Kind, ValueIndex: c.ValueIndex, Binding: c.Binding}
}

// mutateTrace collapses each widened coordinate struct argument of a
// trace call into a min/max pair per dim. The event kind is not
// inspected: every trace event is rewritten this way, no coordinate
// struct is widened and no lane count argument is set.
func (vs *vectorSubs) mutateTrace(c *ir.Call) ir.Expr {
	args := make([]ir.Expr, len(c.Args))
	copy(args, c.Args)
	changed := false
	for i, a := range args {
		na := vs.MutateExpr(a)
		if ir.SameAs(na, a) {
			continue
		}
		changed = true
		if ms, ok := na.(*ir.Call); ok && ms.Kind == ir.Intrinsic && ms.Name == ir.IntrinsicMakeStruct {
			// Coordinate struct: collapse each vector coordinate into
			// min/max over the lanes.
			coords := make([]ir.Expr, 0, len(ms.Args)*2)
			vector := false
			for _, coord := range ms.Args {
				if coord.Type().IsVector() {
					vector = true
					coords = append(coords,
						ir.NewVectorReduce(ir.ReduceMin, coord, 1),
						ir.NewVectorReduce(ir.ReduceMax, coord, 1))
				} else {
					coords = append(coords, coord, coord)
				}
			}
			if vector {
				na = &ir.Call{T: ms.T, Name: ms.Name, Args: coords, Kind: ms.Kind}
			}
		}
		args[i] = na
	}
	if !changed {
		return c
	}
	return &ir.Call{T: c.T, Name: c.Name, Args: args, Kind: c.Kind, ValueIndex: c.ValueIndex, Binding: c.Binding}
}

func (vs *vectorSubs) MutateStmt(s ir.Stmt) ir.Stmt {
	if vs.err != nil {
		return s
	}
	switch v := s.(type) {
	case *ir.Store:
		value := vs.MutateExpr(v.Value)
		index := vs.MutateExpr(v.Index)
		pred := vs.MutateExpr(v.Predicate)
		if ir.SameAs(value, v.Value) && ir.SameAs(index, v.Index) && ir.SameAs(pred, v.Predicate) {
			return v
		}
		lanes := max(value.Type().Lanes, max(index.Type().Lanes, pred.Type().Lanes))
		return ir.NewStore(v.Name, widen(value, lanes), widen(index, lanes), widen(pred, lanes), v.Align, v.Binding)
	case *ir.LetStmt:
		value := vs.MutateExpr(v.Value)
		if value.Type().IsVector() {
			if isInterleavedRamp(value) {
				vs.replacements[v.Name] = value
				body := vs.MutateStmt(v.Body)
				delete(vs.replacements, v.Name)
				return body
			}
			wname := vs.widenedName(v.Name)
			vs.replacements[v.Name] = ir.NewVariable(value.Type(), wname)
			body := vs.MutateStmt(v.Body)
			delete(vs.replacements, v.Name)
			return ir.NewLetStmt(wname, value, body)
		}
		vs.containingLets = append(vs.containingLets, v)
		body := vs.MutateStmt(v.Body)
		vs.containingLets = vs.containingLets[:len(vs.containingLets)-1]
		if ir.SameAs(value, v.Value) && ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewLetStmt(v.Name, value, body)
	case *ir.For:
		return vs.mutateFor(v)
	case *ir.Allocate:
		return vs.mutateAllocate(v)
	case *ir.IfThenElse:
		return vs.mutateIf(v)
	case *ir.Atomic:
		return vs.mutateAtomic(v)
	case *ir.Provide:
		values, vch := mutateArgs(vs, v.Values)
		args, ach := mutateArgs(vs, v.Args)
		pred := vs.MutateExpr(v.Predicate)
		if !vch && !ach && ir.SameAs(pred, v.Predicate) {
			return v
		}
		lanes := pred.Type().Lanes
		for _, val := range values {
			lanes = max(lanes, val.Type().Lanes)
		}
		for i := range values {
			values[i] = widen(values[i], lanes)
		}
		return ir.NewProvide(v.Name, values, args, widen(pred, lanes))
	}
	return ir.MutateStmtChildren(vs, s)
}

func (vs *vectorSubs) mutateFor(op *ir.For) ir.Stmt {
	if op.ForType == ir.Vectorized {
		// Nested vectorization: widths multiply.
		lookup := func(name string) (ir.Expr, bool) {
			for i := len(vs.containingLets) - 1; i >= 0; i-- {
				if vs.containingLets[i].Name == name {
					return vs.containingLets[i].Value, true
				}
			}
			return nil, false
		}
		lanes, ok := resolveConstant(op.Extent, lookup)
		if !ok || lanes <= 1 {
			vs.err = nonConstantExtentError(op)
			return op
		}
		inner, err := vectorizeLoop(op, int(lanes))
		if err != nil {
			vs.err = err
			return op
		}
		return vs.MutateStmt(inner)
	}
	min := vs.MutateExpr(op.Min)
	extent := vs.MutateExpr(op.Extent)
	if min.Type().IsVector() || extent.Type().IsVector() {
		// Divergent loop bounds: run the loop once per lane.
		return vs.scalarize(op)
	}
	body := vs.MutateStmt(op.Body)
	if ir.SameAs(min, op.Min) && ir.SameAs(extent, op.Extent) && ir.SameAs(body, op.Body) {
		return op
	}
	return ir.NewFor(op.Name, min, extent, op.ForType, op.DeviceAPI, body)
}

// mutateAllocate gives each lane its own innermost slice of the
// allocation and rewrites accesses accordingly.
func (vs *vectorSubs) mutateAllocate(op *ir.Allocate) ir.Stmt {
	if op.Padding != 0 {
		panic("lower: allocation padding must be zero at vectorization time")
	}
	lanes := vs.lanes()

	extents := make([]ir.Expr, 0, len(op.Extents)+1)
	extents = append(extents, ir.ConstInt(int64(lanes)))
	for _, e := range op.Extents {
		ne := vs.MutateExpr(e)
		if ne.Type().IsVector() {
			// The per-lane extent becomes the max over lanes.
			ne = ir.NewVectorReduce(ir.ReduceMax, ne, 1)
		}
		extents = append(extents, ne)
	}

	// Rewrite accesses to interleave the lane id innermost.
	rw := &vectorAllocRewriter{name: op.Name, lanes: lanes, vs: vs}
	body := rw.MutateStmt(op.Body)
	body = vs.MutateStmt(body)

	cond := vs.MutateExpr(op.Condition)
	return &ir.Allocate{Name: op.Name, T: op.T, MemType: op.MemType, Extents: extents,
		Condition: cond, Body: body, New: op.New, FreeFn: op.FreeFn}
}

// vectorAllocRewriter rewrites accesses to a vectorized allocation as
// index * lanes + lane_id.
type vectorAllocRewriter struct {
	name  string
	lanes int
	vs    *vectorSubs
}

func (rw *vectorAllocRewriter) laneID() ir.Expr {
	vv := rw.vs.innermost()
	// The lane id is the vectorized var rebased to zero.
	return ir.NewSub(ir.Var(vv.name), vv.min)
}

func (rw *vectorAllocRewriter) MutateExpr(e ir.Expr) ir.Expr {
	if l, ok := e.(*ir.Load); ok && l.Name == rw.name {
		index := rw.MutateExpr(l.Index)
		index = ir.NewAdd(ir.NewMul(index, ir.ConstInt(int64(rw.lanes))), rw.laneID())
		return ir.NewLoad(l.T, l.Name, index, rw.MutateExpr(l.Predicate), ir.Alignment{}, l.Binding)
	}
	return ir.MutateExprChildren(rw, e)
}

func (rw *vectorAllocRewriter) MutateStmt(s ir.Stmt) ir.Stmt {
	if st, ok := s.(*ir.Store); ok && st.Name == rw.name {
		index := rw.MutateExpr(st.Index)
		index = ir.NewAdd(ir.NewMul(index, ir.ConstInt(int64(rw.lanes))), rw.laneID())
		return ir.NewStore(st.Name, rw.MutateExpr(st.Value), index, rw.MutateExpr(st.Predicate),
			ir.Alignment{}, st.Binding)
	}
	return ir.MutateStmtChildren(rw, s)
}

// mutateIf handles divergent control flow: predicate the loads and
// stores when possible, fall back to an all-lanes-true fast path for
// likely conditions, and scalarize otherwise.
func (vs *vectorSubs) mutateIf(op *ir.IfThenElse) ir.Stmt {
	cond := vs.MutateExpr(op.Condition)
	if cond.Type().IsScalar() {
		then := vs.MutateStmt(op.Then)
		var els ir.Stmt
		if op.Else != nil {
			els = vs.MutateStmt(op.Else)
		}
		if ir.SameAs(cond, op.Condition) && ir.SameAs(then, op.Then) && ir.SameAs(els, ir.Stmt(op.Else)) {
			return op
		}
		return &ir.IfThenElse{Condition: cond, Then: then, Else: els}
	}

	// Vector condition. First try to predicate both branches.
	lanes := cond.Type().Lanes
	thenP, okThen := predicateLoadStore(vs.MutateStmt(op.Then), widen(cond, lanes))
	var elseP ir.Stmt
	okElse := true
	if op.Else != nil {
		elseP, okElse = predicateLoadStore(vs.MutateStmt(op.Else), ir.NewNot(widen(cond, lanes)))
	}
	if okThen && okElse {
		return ir.NewBlock(thenP, elseP)
	}

	_, tagged := ir.UnwrapLikely(op.Condition)
	if tagged {
		// Optimize for the common case in which every lane passes.
		allTrue := ir.NewVectorReduce(ir.ReduceAnd, widen(cond, lanes), 1)
		then := vs.MutateStmt(op.Then)
		var rest ir.Stmt
		if op.Else == nil {
			rest = vs.scalarize(&ir.IfThenElse{Condition: op.Condition, Then: op.Then})
		} else {
			rest = vs.scalarize(op)
		}
		return &ir.IfThenElse{Condition: allTrue, Then: then, Else: rest}
	}

	return vs.scalarize(op)
}

// mutateAtomic recognizes associative update patterns and lifts them
// into horizontal reductions; anything else scalarizes.
func (vs *vectorSubs) mutateAtomic(op *ir.Atomic) ir.Stmt {
	st, ok := op.Body.(*ir.Store)
	if !ok {
		return vs.scalarize(op)
	}

	value := vs.MutateExpr(st.Value)
	index := vs.MutateExpr(st.Index)
	if !value.Type().IsVector() {
		return ir.MutateStmtChildren(vs, op)
	}

	// The reducible shape is buf[x] = buf[x] op y with the same index
	// on both sides.
	outputLanes := index.Type().Lanes
	opKind, load, y, matched := matchAtomicReduce(value, st.Name, index)
	if !matched {
		return vs.scalarize(op)
	}

	reduced := ir.NewVectorReduce(opKind, y, outputLanes)
	var newValue ir.Expr
	switch opKind {
	case ir.ReduceAdd:
		newValue = ir.NewAdd(load, reduced)
	case ir.ReduceMul:
		newValue = ir.NewMul(load, reduced)
	case ir.ReduceMin:
		newValue = ir.NewMin(load, reduced)
	case ir.ReduceMax:
		newValue = ir.NewMax(load, reduced)
	case ir.ReduceAnd:
		newValue = ir.NewAnd(load, reduced)
	case ir.ReduceOr:
		newValue = ir.NewOr(load, reduced)
	case ir.ReduceSaturatingAdd:
		newValue = &ir.Call{T: load.Type(), Name: "saturating_add",
			Args: []ir.Expr{load, reduced}, Kind: ir.PureIntrinsic}
	}
	store := ir.NewStore(st.Name, newValue, index, nil, st.Align, st.Binding)
	return ir.NewAtomic(op.ProducerName, op.MutexName, store)
}

// matchAtomicReduce matches value against `load(buf, index) op y`,
// looking through the broadcast the widening wrapped the load in.
func matchAtomicReduce(value ir.Expr, buf string, index ir.Expr) (ir.ReduceOp, ir.Expr, ir.Expr, bool) {
	asLoad := func(e ir.Expr) *ir.Load {
		if l, ok := e.(*ir.Load); ok {
			return l
		}
		if b, ok := e.(*ir.Broadcast); ok {
			if l, ok := b.Value.(*ir.Load); ok {
				return l
			}
		}
		return nil
	}
	check := func(a, b ir.Expr, op ir.ReduceOp) (ir.ReduceOp, ir.Expr, ir.Expr, bool) {
		if l := asLoad(a); l != nil && l.Name == buf && sameIndex(l.Index, index) {
			return op, l, b, true
		}
		if l := asLoad(b); l != nil && l.Name == buf && sameIndex(l.Index, index) {
			return op, l, a, true
		}
		return 0, nil, nil, false
	}
	switch v := value.(type) {
	case *ir.Add:
		return check(v.A, v.B, ir.ReduceAdd)
	case *ir.Mul:
		return check(v.A, v.B, ir.ReduceMul)
	case *ir.Min:
		return check(v.A, v.B, ir.ReduceMin)
	case *ir.Max:
		return check(v.A, v.B, ir.ReduceMax)
	case *ir.And:
		return check(v.A, v.B, ir.ReduceAnd)
	case *ir.Or:
		return check(v.A, v.B, ir.ReduceOr)
	case *ir.Call:
		if v.Kind == ir.PureIntrinsic && v.Name == "saturating_add" && len(v.Args) == 2 {
			return check(v.Args[0], v.Args[1], ir.ReduceSaturatingAdd)
		}
	}
	return 0, nil, nil, false
}

// sameIndex compares store and load indices, looking through lane-count
// differences between an index and its per-lane repetition.
func sameIndex(a, b ir.Expr) bool {
	if ir.Equal(a, b) {
		return true
	}
	if ba, ok := a.(*ir.Broadcast); ok {
		return sameIndex(ba.Value, b)
	}
	if bb, ok := b.(*ir.Broadcast); ok {
		return sameIndex(a, bb.Value)
	}
	return false
}

// scalarize reinstates the innermost vectorized variable as a serial
// loop over the lane id, rebinding the scalar lets we walked through.
func (vs *vectorSubs) scalarize(s ir.Stmt) ir.Stmt {
	vv := vs.innermost()
	body := s
	for i := len(vs.containingLets) - 1; i >= 0; i-- {
		l := vs.containingLets[i]
		if ir.UsesVar(body, l.Name) {
			body = ir.NewLetStmt(l.Name, l.Value, body)
		}
	}
	return ir.NewFor(vv.name, vv.min, ir.ConstInt(int64(vv.lanes)), ir.Serial, ir.DeviceNone, body)
}

// predicateLoadStore rewrites a branch body so its loads and stores
// carry the branch condition as a predicate. It fails on statements
// with effects that cannot be predicated.
func predicateLoadStore(s ir.Stmt, pred ir.Expr) (ir.Stmt, bool) {
	p := &loadStorePredicator{pred: pred, ok: true}
	out := p.MutateStmt(s)
	return out, p.ok
}

type loadStorePredicator struct {
	pred ir.Expr
	ok   bool
}

func (p *loadStorePredicator) MutateExpr(e ir.Expr) ir.Expr {
	if !p.ok {
		return e
	}
	switch v := e.(type) {
	case *ir.Load:
		lanes := v.T.Lanes
		if lanes != p.pred.Type().Lanes {
			if lanes != 1 {
				p.ok = false
				return e
			}
			return v
		}
		return ir.NewLoad(v.T, v.Name, v.Index,
			ir.NewAnd(v.Predicate, p.pred), v.Align, v.Binding)
	case *ir.Call:
		if !v.IsPure() {
			p.ok = false
			return e
		}
	}
	return ir.MutateExprChildren(p, e)
}

func (p *loadStorePredicator) MutateStmt(s ir.Stmt) ir.Stmt {
	if !p.ok {
		return s
	}
	switch v := s.(type) {
	case *ir.Store:
		lanes := v.Value.Type().Lanes
		if lanes != p.pred.Type().Lanes {
			p.ok = false
			return s
		}
		return ir.NewStore(v.Name, p.MutateExpr(v.Value), p.MutateExpr(v.Index),
			ir.NewAnd(v.Predicate, p.pred), v.Align, v.Binding)
	case *ir.LetStmt:
		return ir.MutateStmtChildren(p, s)
	case *ir.Block:
		return ir.MutateStmtChildren(p, s)
	case *ir.Evaluate:
		if ir.IsPureExpr(v.Value) {
			return s
		}
		p.ok = false
		return s
	case nil:
		return s
	}
	p.ok = false
	return s
}

// resolveConstant reduces an expression to a constant by repeatedly
// substituting enclosing let bindings and simplifying.
func resolveConstant(e ir.Expr, lookup func(string) (ir.Expr, bool)) (int64, bool) {
	for range 16 {
		e = ir.SimplifyExpr(e)
		if c, ok := ir.ConstIntValue(e); ok {
			return c, true
		}
		m := make(map[string]ir.Expr)
		ir.Walk(e, func(n ir.Node) bool {
			if v, ok := n.(*ir.Variable); ok {
				if val, found := lookup(v.Name); found {
					m[v.Name] = val
				}
			}
			return true
		})
		if len(m) == 0 {
			return 0, false
		}
		e = ir.SubstituteMapExpr(m, e)
	}
	return 0, false
}

func nonConstantExtentError(op *ir.For) error {
	return errors.New(errors.ErrorNonConstantVectorExtent,
		fmt.Sprintf("the extent of vectorized loop %s must be a constant greater than one, got %s",
			op.Name, ir.PrintExpr(op.Extent))).
		OnDirective(op.Name).
		WithHelp("split the loop by a constant factor and vectorize the inner piece").Build()
}

// vectorizeLoop replaces one vectorized loop with ramp substitution
// over its body.
func vectorizeLoop(op *ir.For, lanes int) (ir.Stmt, error) {
	vs := &vectorSubs{replacements: make(map[string]ir.Expr)}
	vs.vars = append(vs.vars, vectorizedVar{name: op.Name, min: op.Min, lanes: lanes})
	vs.replacements[op.Name] = ir.NewRamp(op.Min, ir.ConstInt(1), lanes)

	body := vs.MutateStmt(op.Body)
	if vs.err != nil {
		return nil, vs.err
	}
	return body, nil
}

// loopVectorizer finds vectorized loops and replaces them, resolving
// their extents through the enclosing let bindings.
type loopVectorizer struct {
	lets ir.Scope[ir.Expr]
	err  error
}

func (lv *loopVectorizer) MutateExpr(e ir.Expr) ir.Expr { return e }

func (lv *loopVectorizer) MutateStmt(s ir.Stmt) ir.Stmt {
	if lv.err != nil {
		return s
	}
	switch op := s.(type) {
	case *ir.LetStmt:
		if ir.IsPureExpr(op.Value) {
			b := lv.lets.Bind(op.Name, op.Value)
			out := ir.MutateStmtChildren(lv, s)
			b.Release()
			return out
		}
	case *ir.For:
		if op.ForType == ir.Vectorized {
			lanes, ok := resolveConstant(op.Extent, lv.lets.Lookup)
			if !ok || lanes <= 1 {
				lv.err = nonConstantExtentError(op)
				return s
			}
			out, err := vectorizeLoop(op, int(lanes))
			if err != nil {
				lv.err = err
				return s
			}
			return lv.MutateStmt(out)
		}
	}
	return ir.MutateStmtChildren(lv, s)
}

// atomicLifter moves subexpressions that do
// not depend on the atomically updated buffer out of Atomic bodies, so
// the reduction pattern can match and the critical section shrinks.
type atomicLifter struct{}

func (al *atomicLifter) MutateExpr(e ir.Expr) ir.Expr { return e }

func (al *atomicLifter) MutateStmt(s ir.Stmt) ir.Stmt {
	op, ok := s.(*ir.Atomic)
	if !ok {
		return ir.MutateStmtChildren(al, s)
	}
	st, ok := op.Body.(*ir.Store)
	if !ok {
		return op
	}
	// Lift the non-buffer operand of a top-level binary update.
	liftable := func(e ir.Expr) bool {
		if !ir.IsPureExpr(e) {
			return false
		}
		switch e.(type) {
		case *ir.IntImm, *ir.UIntImm, *ir.FloatImm, *ir.Variable, *ir.Broadcast:
			return false
		}
		loads := false
		ir.Walk(e, func(n ir.Node) bool {
			if l, ok := n.(*ir.Load); ok && l.Name == st.Name {
				loads = true
			}
			return !loads
		})
		return !loads
	}

	lift := func(a ir.Expr) (ir.Expr, ir.Stmt) {
		if !liftable(a) {
			return a, op
		}
		name := ir.UniqueName(op.ProducerName + ".atomic_t")
		return ir.NewVariable(a.Type(), name), nil
	}

	rebuild := func(a, b ir.Expr, make2 func(x, y ir.Expr) ir.Expr) ir.Stmt {
		na, skipA := lift(a)
		if skipA == nil {
			store := ir.NewStore(st.Name, make2(na, b), st.Index, st.Predicate, st.Align, st.Binding)
			atomic := ir.NewAtomic(op.ProducerName, op.MutexName, store)
			return ir.NewLetStmt(na.(*ir.Variable).Name, a, atomic)
		}
		nb, skipB := lift(b)
		if skipB == nil {
			store := ir.NewStore(st.Name, make2(a, nb), st.Index, st.Predicate, st.Align, st.Binding)
			atomic := ir.NewAtomic(op.ProducerName, op.MutexName, store)
			return ir.NewLetStmt(nb.(*ir.Variable).Name, b, atomic)
		}
		return op
	}

	switch v := st.Value.(type) {
	case *ir.Add:
		return rebuild(v.A, v.B, func(x, y ir.Expr) ir.Expr { return &ir.Add{A: x, B: y} })
	case *ir.Mul:
		return rebuild(v.A, v.B, func(x, y ir.Expr) ir.Expr { return &ir.Mul{A: x, B: y} })
	case *ir.Min:
		return rebuild(v.A, v.B, func(x, y ir.Expr) ir.Expr { return &ir.Min{A: x, B: y} })
	case *ir.Max:
		return rebuild(v.A, v.B, func(x, y ir.Expr) ir.Expr { return &ir.Max{A: x, B: y} })
	}
	return op
}

// atomicRemover drops Atomic wrappers whose stores only
// touch thread-local allocations.
type atomicRemover struct {
	localAllocs ir.Scope[struct{}]
}

func (ar *atomicRemover) MutateExpr(e ir.Expr) ir.Expr { return e }

func (ar *atomicRemover) MutateStmt(s ir.Stmt) ir.Stmt {
	switch v := s.(type) {
	case *ir.Allocate:
		b := ar.localAllocs.Bind(v.Name, struct{}{})
		out := ir.MutateStmtChildren(ar, s)
		b.Release()
		return out
	case *ir.For:
		if v.ForType.IsParallel() {
			// A new thread scope: inner allocations are fresh, outer
			// ones are shared.
			inner := &atomicRemover{}
			body := inner.MutateStmt(v.Body)
			if ir.SameAs(body, v.Body) {
				return v
			}
			return ir.NewFor(v.Name, v.Min, v.Extent, v.ForType, v.DeviceAPI, body)
		}
	case *ir.Atomic:
		allLocal := true
		ir.Walk(v.Body, func(n ir.Node) bool {
			if st, ok := n.(*ir.Store); ok && !ar.localAllocs.Contains(st.Name) {
				allLocal = false
			}
			return allLocal
		})
		if allLocal {
			return ar.MutateStmt(v.Body)
		}
	}
	return ir.MutateStmtChildren(ar, s)
}

// VectorizeLoops replaces every loop marked Vectorized with ramped
// vector code: atomics first have liftable subexpressions pulled out,
// and afterwards atomics over thread-local state are dropped.
func VectorizeLoops(s ir.Stmt, env pipeline.Environment) (ir.Stmt, error) {
	var lifter atomicLifter
	s = lifter.MutateStmt(s)

	lv := &loopVectorizer{}
	s = lv.MutateStmt(s)
	if lv.err != nil {
		return nil, lv.err
	}

	ar := &atomicRemover{}
	return ar.MutateStmt(s), nil
}
