package lower

import (
	"fmt"
	"sort"
	"strings"

	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

// collectBounds gathers every loop-bound let in a statement.
func collectBounds(s ir.Stmt) map[string]ir.Expr {
	out := make(map[string]ir.Expr)
	ir.Walk(s, func(n ir.Node) bool {
		if let, ok := n.(*ir.LetStmt); ok {
			if strings.HasSuffix(let.Name, ".loop_min") ||
				strings.HasSuffix(let.Name, ".loop_max") ||
				strings.HasSuffix(let.Name, ".loop_extent") {
				out[let.Name] = let.Value
			}
		}
		return true
	})
	return out
}

// substituteFusedBounds rewrites the values of loop-bound lets named in
// replacements. Loops whose bounds collapse to a single iteration value
// keep referring to the let, so only the lets change.
type fusedBoundsSubstituter struct {
	replacements map[string]ir.Expr
}

func (fb *fusedBoundsSubstituter) MutateExpr(e ir.Expr) ir.Expr {
	return ir.MutateExprChildren(fb, e)
}

func (fb *fusedBoundsSubstituter) MutateStmt(s ir.Stmt) ir.Stmt {
	if let, ok := s.(*ir.LetStmt); ok {
		if v, found := fb.replacements[let.Name]; found {
			body := fb.MutateStmt(let.Body)
			return ir.NewLetStmt(let.Name, v, body)
		}
	}
	return ir.MutateStmtChildren(fb, s)
}

func substituteFusedBounds(s ir.Stmt, replacements map[string]ir.Expr) ir.Stmt {
	if len(replacements) == 0 {
		return s
	}
	fb := &fusedBoundsSubstituter{replacements: replacements}
	return fb.MutateStmt(s)
}

// shiftLoopNest shifts the iteration space of the named loops: each
// listed loop var is rewritten to var - shift inside its body, and the
// loop bounds move up by the shift.
func shiftLoopNest(s ir.Stmt, shifts map[string]ir.Expr) ir.Stmt {
	for name, shift := range shifts {
		if ir.IsConstValue(shift, 0) {
			continue
		}
		s = ir.SubstituteStmt(name, ir.NewSub(ir.Var(name), shift), s)
	}
	return s
}

// realizationInjector walks the outer loop nest and injects a fused
// group's produce/consume and Realize nodes at the group's compute and
// store levels.
type realizationInjector struct {
	funcs        []*pipeline.Function
	isOutput     []bool
	tgt          target.Target
	env          pipeline.Environment
	computeLevel pipeline.LoopLevel
	storeLevel   pipeline.LoopLevel

	foundCompute bool
	foundStore   bool
	err          error
}

func newRealizationInjector(funcs []*pipeline.Function, isOutput []bool,
	tgt target.Target, env pipeline.Environment) *realizationInjector {
	return &realizationInjector{
		funcs:        funcs,
		isOutput:     isOutput,
		tgt:          tgt,
		env:          env,
		computeLevel: funcs[0].Schedule().ComputeLevel,
		storeLevel:   funcs[0].Schedule().StoreLevel,
	}
}

func (inj *realizationInjector) MutateExpr(e ir.Expr) ir.Expr { return e }

func (inj *realizationInjector) MutateStmt(s ir.Stmt) ir.Stmt {
	if inj.err != nil {
		return s
	}
	switch v := s.(type) {
	case *ir.For:
		return inj.visitFor(v)
	case *ir.Provide:
		return inj.visitProvide(v)
	}
	return ir.MutateStmtChildren(inj, s)
}

func (inj *realizationInjector) visitFor(forLoop *ir.For) ir.Stmt {
	body := forLoop.Body

	// Dig through placeholder prefetches.
	var prefetches []*ir.Prefetch
	for {
		p, ok := body.(*ir.Prefetch)
		if !ok {
			break
		}
		prefetches = append(prefetches, p)
		body = p.Body
	}

	// Dig through pure let statements. An impure let value marks an
	// extern consumer; injecting past it would reorder the producer
	// after its consumer.
	var lets []*ir.LetStmt
	for {
		l, ok := body.(*ir.LetStmt)
		if !ok || !ir.IsPureExpr(l.Value) {
			break
		}
		lets = append(lets, l)
		body = l.Body
	}

	// An inlined extern consumed inside a vectorized loop realizes
	// immediately around the vector loop.
	f0 := inj.funcs[0]
	if f0.Extern() != nil && f0.Schedule().ComputeLevel.IsInlined() &&
		forLoop.ForType == ir.Vectorized &&
		!functionIsRealizedInStmt(f0, forLoop) &&
		functionIsUsedInStmt(f0, forLoop) {
		out := inj.buildRealize(inj.buildPipelineGroup(forLoop), f0, inj.isOutput[0])
		inj.foundCompute = true
		inj.foundStore = true
		return out
	}

	body = inj.MutateStmt(body)

	if inj.computeLevel.Match(forLoop.Name) {
		body = inj.buildPipelineGroup(body)
		inj.foundCompute = true
	}
	if inj.foundCompute && inj.storeLevel.Match(forLoop.Name) {
		body = inj.buildRealizeGroup(body)
		inj.foundStore = true
	}

	for i := len(lets) - 1; i >= 0; i-- {
		body = ir.NewLetStmt(lets[i].Name, lets[i].Value, body)
	}
	for i := len(prefetches) - 1; i >= 0; i-- {
		p := prefetches[i]
		body = &ir.Prefetch{Name: p.Name, Types: p.Types, Directive: p.Directive,
			Condition: ir.ConstTrue(), Body: body}
	}

	if ir.SameAs(body, forLoop.Body) {
		return forLoop
	}
	return ir.NewFor(forLoop.Name, forLoop.Min, forLoop.Extent, forLoop.ForType, forLoop.DeviceAPI, body)
}

// visitProvide realizes an inline-scheduled impure function around a
// consuming Provide.
func (inj *realizationInjector) visitProvide(op *ir.Provide) ir.Stmt {
	f0 := inj.funcs[0]
	if op.Name != f0.Name() &&
		!f0.HasPureDefinition() &&
		f0.Schedule().ComputeLevel.IsInlined() &&
		functionIsUsedInStmt(f0, op) {
		out := inj.buildRealize(inj.buildPipelineGroup(op), f0, inj.isOutput[0])
		inj.foundCompute = true
		inj.foundStore = true
		return out
	}
	return op
}

// buildRealize wraps s in the Realize for func, unless it is a
// pipeline output whose buffer the caller owns.
func (inj *realizationInjector) buildRealize(s ir.Stmt, f *pipeline.Function, isOutput bool) ir.Stmt {
	if !isOutput {
		var bnds ir.Region
		for _, arg := range f.ArgNames() {
			bnds = append(bnds, ir.Range{
				Min:    ir.Var(f.Name() + "." + arg + ".min_realized"),
				Extent: ir.Var(f.Name() + "." + arg + ".extent_realized"),
			})
		}
		s = ir.NewRealize(f.Name(), f.Types(), f.Schedule().MemoryType, bnds, ir.ConstTrue(), s)
	}
	if inj.tgt.Has(target.NoAsserts) {
		return s
	}
	return injectExplicitBounds(s, f)
}

func (inj *realizationInjector) buildRealizeGroup(s ir.Stmt) ir.Stmt {
	for i, f := range inj.funcs {
		if functionIsRealizedInStmt(f, s) {
			continue
		}
		if functionIsUsedInStmt(f, s) || inj.isOutput[i] {
			s = inj.buildRealize(s, f, inj.isOutput[i])
		}
	}
	return s
}

// buildProduceDefinition builds one stage of one member of the group,
// collecting the bound replacements that tie child fused loops to the
// parent's loop variable.
func (inj *realizationInjector) buildProduceDefinition(f *pipeline.Function, prefix string,
	def *pipeline.Definition, isUpdate bool,
	replacements map[string]ir.Expr, addLets *[]*ir.LetStmt) (ir.Stmt, error) {

	dims := def.Schedule.Dims
	fuseLevel := def.Schedule.FuseLevel

	startFuse := len(dims)
	if !fuseLevel.IsInlined() && !fuseLevel.IsRoot() && fuseLevel.Func != "" {
		for i, d := range dims {
			if varNameMatch(d.Var, fuseLevel.Var) {
				startFuse = i
				break
			}
		}
	}

	// Collect the replacement bounds for every stage fused into this
	// one: the child loops collapse to the parent's loop variable.
	for _, pair := range def.Schedule.FusedPairs {
		f2, ok := inj.env[pair.Func2]
		if !ok {
			return nil, errors.New(errors.ErrorBadComputeWith,
				fmt.Sprintf("compute_with references unknown function %s", pair.Func2)).
				InFunc(f.Name()).Build()
		}
		dims2 := f2.Stage(pair.Stage2).Schedule.Dims

		at := -1
		for i, d := range dims {
			if varNameMatch(d.Var, pair.Var) {
				at = i
				break
			}
		}
		if at < 0 {
			return nil, errors.New(errors.ErrorBadComputeWith,
				fmt.Sprintf("compute_with at unknown var %s", pair.Var)).
				InFunc(f.Name()).InStage(pair.Stage1).Build()
		}
		if startFuse > at {
			startFuse = at
		}
		// Ignore the __outermost dummy dimension.
		for i := at; i < len(dims)-1; i++ {
			dim2Idx := len(dims2) - (len(dims) - i)
			if dim2Idx < 0 || dim2Idx >= len(dims2) {
				return nil, errors.New(errors.ErrorBadComputeWith,
					fmt.Sprintf("%s and %s have incompatible dimensionality", pair.Func1, pair.Func2)).
					InFunc(f.Name()).Build()
			}
			varOrig := stagePrefix(pair.Func1, pair.Stage1) + dims[i].Var
			val := ir.Var(varOrig)
			childVar := stagePrefix(pair.Func2, pair.Stage2) + dims2[dim2Idx].Var
			if _, dup := replacements[childVar+".loop_extent"]; !dup {
				replacements[childVar+".loop_extent"] = ir.ConstInt(1)
				replacements[childVar+".loop_min"] = val
				replacements[childVar+".loop_max"] = val
			}
		}
	}

	produce, err := buildProvideLoopNest(inj.env, prefix, f, def, startFuse, isUpdate)
	if err != nil {
		return nil, err
	}

	// Strip the containing lets; the parent's union bounds may refer
	// to them, so they move to the topmost position of the group.
	for {
		let, ok := produce.(*ir.LetStmt)
		if !ok {
			break
		}
		*addLets = append(*addLets, let)
		produce = let.Body
	}
	return produce, nil
}

// computeShiftFactor aligns a fused member's iteration with its parent
// per the AlignStart/AlignEnd strategy.
func (inj *realizationInjector) computeShiftFactor(f *pipeline.Function, prefix string,
	def *pipeline.Definition, bnds map[string]ir.Expr, shifts map[string]ir.Expr) {

	dims := def.Schedule.Dims
	fuseLevel := def.Schedule.FuseLevel
	if fuseLevel.IsInlined() || fuseLevel.IsRoot() || fuseLevel.Func == "" {
		return
	}

	align := pipeline.AlignAuto
	parent, ok := inj.env[fuseLevel.Func]
	if ok {
		for _, pair := range parent.Stage(fuseLevel.Stage).Schedule.FusedPairs {
			if pair.Func2 == f.Name() {
				align = pair.Align
			}
		}
	}
	if align == pipeline.NoAlign || align == pipeline.AlignAuto {
		return
	}

	startFuse := -1
	for i, d := range dims {
		if varNameMatch(d.Var, fuseLevel.Var) {
			startFuse = i
			break
		}
	}
	if startFuse < 0 {
		return
	}

	parentPrefix := stagePrefix(fuseLevel.Func, fuseLevel.Stage)
	for i := startFuse; i < len(dims)-1; i++ {
		v := dims[i].Var
		itMin, okMin := bnds[prefix+v+".loop_min"]
		itMax, okMax := bnds[prefix+v+".loop_max"]
		if !okMin || !okMax {
			continue
		}
		var shiftVal ir.Expr
		if align == pipeline.AlignStart {
			parentMin, okp := bnds[parentPrefix+v+".loop_min"]
			if !okp {
				continue
			}
			shiftVal = ir.NewSub(parentMin, itMin)
		} else {
			parentMax, okp := bnds[parentPrefix+v+".loop_max"]
			if !okp {
				continue
			}
			shiftVal = ir.NewSub(parentMax, itMax)
		}
		shifts[prefix+v] = ir.SimplifyExpr(ir.NewSub(ir.ConstInt(0), shiftVal))
		bnds[prefix+v+".loop_min"] = ir.SimplifyExpr(ir.NewAdd(shiftVal, itMin))
		bnds[prefix+v+".loop_max"] = ir.SimplifyExpr(ir.NewAdd(shiftVal, itMax))
	}
}

// collectAllDependence gathers the fused pairs reachable from a
// definition, transitively.
func (inj *realizationInjector) collectAllDependence(def *pipeline.Definition) []pipeline.FusedPair {
	visited := make(map[string]bool)
	var out []pipeline.FusedPair
	var helper func(d *pipeline.Definition)
	helper = func(d *pipeline.Definition) {
		for _, pair := range d.Schedule.FusedPairs {
			key := stagePrefix(pair.Func2, pair.Stage2) + pair.Var
			if visited[key] {
				continue
			}
			visited[key] = true
			out = append(out, pair)
			if f2, ok := inj.env[pair.Func2]; ok {
				helper(f2.Stage(pair.Stage2))
			}
		}
	}
	helper(def)
	return out
}

// replaceParentBoundWithUnionBound widens the parent fused loop's
// bounds to the union over the group, so every member's iterations are
// covered at the shared loop coordinate.
func (inj *realizationInjector) replaceParentBoundWithUnionBound(f *pipeline.Function,
	produce ir.Stmt, bnds map[string]ir.Expr) ir.Stmt {

	prefix := stagePrefix(f.Name(), 0)
	def := f.InitDef()
	dims := def.Schedule.Dims
	replacements := make(map[string]ir.Expr)

	for _, pair := range inj.collectAllDependence(def) {
		f2, ok := inj.env[pair.Func2]
		if !ok {
			continue
		}
		dims2 := f2.Stage(pair.Stage2).Schedule.Dims

		at := -1
		for i, d := range dims {
			if varNameMatch(d.Var, pair.Var) {
				at = i
				break
			}
		}
		if at < 0 {
			continue
		}
		for i := at; i < len(dims)-1; i++ {
			dim2Idx := len(dims2) - (len(dims) - i)
			if dim2Idx < 0 || dim2Idx >= len(dims2) {
				continue
			}
			var2 := stagePrefix(pair.Func2, pair.Stage2) + dims2[dim2Idx].Var
			min2, ok1 := bnds[var2+".loop_min"]
			max2, ok2 := bnds[var2+".loop_max"]
			if !ok1 || !ok2 {
				continue
			}

			var1 := prefix + dims[i].Var
			min1, okA := replacements[var1+".loop_min"]
			max1 := replacements[var1+".loop_max"]
			if !okA {
				min1, okA = bnds[var1+".loop_min"]
				max1 = bnds[var1+".loop_max"]
				if !okA {
					continue
				}
			}

			replacements[var1+".loop_min"] = ir.SimplifyExpr(ir.NewMin(min1, min2))
			replacements[var1+".loop_max"] = ir.SimplifyExpr(ir.NewMax(max1, max2))
			replacements[var1+".loop_extent"] = ir.SimplifyExpr(
				ir.NewSub(ir.NewAdd(replacements[var1+".loop_max"], ir.ConstInt(1)),
					replacements[var1+".loop_min"]))
		}
	}
	return substituteFusedBounds(produce, replacements)
}

// buildPipelineGroup assembles produce/update/consume for the whole
// fused group around a consumer statement.
func (inj *realizationInjector) buildPipelineGroup(consumer ir.Stmt) ir.Stmt {
	numSkipped := 0
	for i, f := range inj.funcs {
		if functionIsRealizedInStmt(f, consumer) ||
			!(functionIsUsedInStmt(f, consumer) || inj.isOutput[i]) {
			numSkipped++
		}
	}
	if numSkipped == len(inj.funcs) {
		return consumer
	}
	if numSkipped != 0 {
		inj.err = errors.New(errors.ErrorBadComputeWith,
			"fused groups must be used entirely or not at all").
			InFunc(inj.funcs[0].Name()).Build()
		return consumer
	}

	var producer ir.Stmt
	replacements := make(map[string]ir.Expr)
	var addLets []*ir.LetStmt

	// Build the init stages, last member first so the parent of the
	// fusion ends up outermost.
	for i := len(inj.funcs) - 1; i >= 0; i-- {
		f := inj.funcs[i]
		if f.Extern() != nil {
			produceDef, err := buildExternProduce(inj.env, f, inj.tgt)
			if err != nil {
				inj.err = err
				return consumer
			}
			producer = injectStmt(producer, produceDef, pipeline.Inlined())
		} else {
			produceDef, err := inj.buildProduceDefinition(f, stagePrefix(f.Name(), 0),
				f.InitDef(), false, replacements, &addLets)
			if err != nil {
				inj.err = err
				return consumer
			}
			producer = injectStmt(producer, produceDef, f.InitDef().Schedule.FuseLevel)
		}
	}

	// Interleave the update stages round-robin so fused updates land
	// at their fuse levels in order.
	someUpdated := true
	for j := 0; someUpdated; j++ {
		someUpdated = false
		for i := len(inj.funcs) - 1; i >= 0; i-- {
			f := inj.funcs[i]
			if j < len(f.Updates()) {
				def := f.Updates()[j]
				updateDef, err := inj.buildProduceDefinition(f, stagePrefix(f.Name(), j+1),
					def, true, replacements, &addLets)
				if err != nil {
					inj.err = err
					return consumer
				}
				producer = injectStmt(producer, updateDef, def.Schedule.FuseLevel)
				someUpdated = true
			}
		}
	}

	// Rewrap in the stripped lets.
	for i := len(addLets) - 1; i >= 0; i-- {
		producer = ir.NewLetStmt(addLets[i].Name, addLets[i].Value, producer)
	}

	// Align members, collapse child fused loops, and widen the parent
	// to the union of the group's bounds.
	bnds := collectBounds(producer)
	shifts := make(map[string]ir.Expr)
	for i := len(inj.funcs) - 1; i >= 0; i-- {
		f := inj.funcs[i]
		inj.computeShiftFactor(f, stagePrefix(f.Name(), 0), f.InitDef(), bnds, shifts)
		for j, u := range f.Updates() {
			inj.computeShiftFactor(f, stagePrefix(f.Name(), j+1), u, bnds, shifts)
		}
	}
	producer = shiftLoopNest(producer, shifts)
	producer = substituteFusedBounds(producer, replacements)
	producer = inj.replaceParentBoundWithUnionBound(inj.funcs[len(inj.funcs)-1], producer, bnds)

	for _, f := range inj.funcs {
		producer = ir.NewProducer(f.Name(), producer)
	}
	for i, f := range inj.funcs {
		if !inj.isOutput[i] {
			consumer = ir.NewConsumer(f.Name(), consumer)
		}
	}

	if isNoOp(consumer) {
		return producer
	}
	return ir.NewBlock(producer, consumer)
}

func isNoOp(s ir.Stmt) bool {
	if s == nil {
		return true
	}
	e, ok := s.(*ir.Evaluate)
	if !ok {
		return false
	}
	_, isConst := ir.ConstIntValue(e.Value)
	return isConst
}

// validateSchedule rejects schedules incompatible with the use sites in
// the current statement. It reports whether the function is used at
// all.
func validateSchedule(f *pipeline.Function, s ir.Stmt, isOutput bool) (bool, error) {
	used := functionIsUsedInStmt(f, s) || isOutput
	if !used {
		return false, nil
	}
	for stage, def := range f.Stages() {
		if err := checkRVarOrder(f, stage, def); err != nil {
			return true, err
		}
	}
	cl := f.Schedule().ComputeLevel
	sl := f.Schedule().StoreLevel
	if cl.IsInlined() {
		if !sl.IsInlined() {
			return true, errors.New(errors.ErrorBadStoreAt,
				"store_at requires a compute_at level").InFunc(f.Name()).Build()
		}
		return true, nil
	}
	if cl.IsRoot() {
		return true, nil
	}
	// The compute level must name a loop that exists among the
	// current use sites.
	found := false
	ir.Walk(s, func(n ir.Node) bool {
		if fl, ok := n.(*ir.For); ok && cl.Match(fl.Name) {
			found = true
		}
		return !found
	})
	if !found {
		return true, errors.New(errors.ErrorBadComputeAt,
			fmt.Sprintf("compute_at(%s, %s) is not a loop of any consumer of %s",
				cl.Func, cl.Var, f.Name())).
			InFunc(f.Name()).OnDirective("compute_at").
			WithHelp("legal levels are loops enclosing every use of the function").Build()
	}
	return true, nil
}

// groupShouldBeInlined reports whether the fused group is a lone
// inline-scheduled pure function.
func groupShouldBeInlined(funcs []*pipeline.Function) bool {
	return len(funcs) == 1 && funcs[0].CanBeInlined() &&
		funcs[0].Schedule().ComputeLevel.IsInlined() &&
		len(funcs[0].InitDef().Schedule.FusedPairs) == 0
}

// ScheduleFunctions converts the realization order into a single loop
// nest: one fused group at a time, in reverse realization order, each
// inlined or injected at its compute/store levels inside the nest built
// so far.
func ScheduleFunctions(outputs []*pipeline.Function, fusedGroups [][]string,
	env pipeline.Environment, tgt target.Target) (ir.Stmt, error) {

	// Outputs cannot be inlined into anything; they compute at root.
	for _, f := range outputs {
		if f.Schedule().ComputeLevel.IsInlined() {
			f.ComputeRoot()
		}
	}

	var s ir.Stmt = ir.NewFor(pipeline.RootVar, ir.ConstInt(0), ir.ConstInt(1),
		ir.Serial, ir.DeviceHost, ir.NewEvaluate(ir.ConstInt(0)))

	isOutput := func(f *pipeline.Function) bool {
		for _, o := range outputs {
			if o == f {
				return true
			}
		}
		return false
	}

	if err := validateFusedGroupSchedules(fusedGroups, env); err != nil {
		return nil, err
	}

	for i := len(fusedGroups) - 1; i >= 0; i-- {
		group := fusedGroups[i]
		var funcs []*pipeline.Function
		var outs []bool
		for _, name := range group {
			f, ok := env[name]
			if !ok {
				return nil, errors.New(errors.ErrorBadComputeAt,
					fmt.Sprintf("function %s is not in the environment", name)).Build()
			}
			used, err := validateSchedule(f, s, isOutput(f))
			if err != nil {
				return nil, err
			}
			if used {
				funcs = append(funcs, f)
				outs = append(outs, isOutput(f))
			}
		}
		if len(funcs) == 0 {
			continue
		}

		if groupShouldBeInlined(funcs) {
			var err error
			s, err = InlineFunctionInStmt(s, funcs[0])
			if err != nil {
				return nil, err
			}
		} else {
			inj := newRealizationInjector(funcs, outs, tgt, env)
			s = inj.MutateStmt(s)
			if inj.err != nil {
				return nil, inj.err
			}
			if !inj.foundCompute || !inj.foundStore {
				return nil, errors.New(errors.ErrorBadComputeAt,
					fmt.Sprintf("could not find compute level %s for %s",
						inj.computeLevel, funcs[0].Name())).
					InFunc(funcs[0].Name()).Build()
			}
		}
	}

	// Remove the placeholder loop over __root.
	root, ok := s.(*ir.For)
	if !ok {
		panic("lower: outermost statement is not the root loop")
	}
	s = root.Body

	return RemoveLoopsOverOutermost(s), nil
}

// validateFusedGroupSchedules checks compute_with consistency inside
// every group: members must share dimensionality at and outside the
// fuse level, and reduction variables must not be reordered across a
// dependency.
func validateFusedGroupSchedules(groups [][]string, env pipeline.Environment) error {
	for _, group := range groups {
		for _, name := range group {
			f, ok := env[name]
			if !ok {
				continue
			}
			for stage, def := range f.Stages() {
				fl := def.Schedule.FuseLevel
				if fl.IsInlined() || fl.IsRoot() || fl.Func == "" {
					continue
				}
				parent, ok := env[fl.Func]
				if !ok {
					return errors.New(errors.ErrorBadComputeWith,
						fmt.Sprintf("compute_with references unknown function %s", fl.Func)).
						InFunc(name).InStage(stage).Build()
				}
				pdims := parent.Stage(fl.Stage).Schedule.Dims
				at := -1
				for i, d := range pdims {
					if varNameMatch(d.Var, fl.Var) {
						at = i
						break
					}
				}
				if at < 0 {
					return errors.New(errors.ErrorBadComputeWith,
						fmt.Sprintf("compute_with at %s, which is not a dim of %s", fl.Var, fl.Func)).
						InFunc(name).InStage(stage).Build()
				}
				if len(def.Schedule.Dims) < len(pdims)-at {
					return errors.New(errors.ErrorBadComputeWith,
						fmt.Sprintf("%s has too few dims to compute with %s at %s", name, fl.Func, fl.Var)).
						InFunc(name).InStage(stage).Build()
				}
				// Reduction variables of the fused stage must keep
				// their relative order.
				if err := checkRVarOrder(f, stage, def); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkRVarOrder rejects dimension lists that permute the reduction
// variables relative to their domain order.
func checkRVarOrder(f *pipeline.Function, stage int, def *pipeline.Definition) error {
	if def.RDom == nil {
		return nil
	}
	pos := make([]int, 0, len(def.RDom.Vars))
	for _, rv := range def.RDom.Vars {
		for i, d := range def.Schedule.Dims {
			if varNameMatch(d.Var, rv.Name) {
				pos = append(pos, i)
				break
			}
		}
	}
	if !sort.IntsAreSorted(pos) {
		return errors.New(errors.ErrorReorderedRVars,
			"reduction variables would be reordered by this schedule").
			InFunc(f.Name()).InStage(stage).Build()
	}
	return nil
}
