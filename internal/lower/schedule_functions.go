package lower

import (
	"fmt"
	"strings"

	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

// varNameMatch reports whether a dim var matches a directive var. Split
// outputs extend names with dotted suffixes, so "y.yi" matches "yi" as
// well as the fully qualified form.
func varNameMatch(dimVar, directiveVar string) bool {
	if dimVar == directiveVar {
		return true
	}
	return strings.HasSuffix(dimVar, "."+directiveVar)
}

func loopMinVar(name string) ir.Expr    { return ir.Var(name + ".loop_min") }
func loopMaxVar(name string) ir.Expr    { return ir.Var(name + ".loop_max") }
func loopExtentVar(name string) ir.Expr { return ir.Var(name + ".loop_extent") }

func stagePrefix(fn string, stage int) string {
	return fmt.Sprintf("%s.s%d.", fn, stage)
}

// containerKind mirrors the three wrappers a loop nest is assembled
// from while sorting lets and guards outward.
type containerKind uint8

const (
	containerFor containerKind = iota
	containerLet
	containerIf
	containerIfInner
)

type container struct {
	kind   containerKind
	dimIdx int
	name   string
	value  ir.Expr
}

// applySplitResult is one rewrite produced by a split directive.
type applySplitResult struct {
	name      string
	value     ir.Expr
	isSubst   bool
	isLet     bool
	isPred    bool
}

// applySplit turns one Split directive into substitutions, lets and
// predicates over the stage's loop variables.
func applySplit(split pipeline.Split, isUpdate bool, prefix string, dimAlign map[string]ir.Expr) []applySplitResult {
	var out []applySplitResult
	switch split.Kind {
	case pipeline.SplitVar:
		outer := ir.Var(prefix + split.Outer)
		inner := ir.Var(prefix + split.Inner)
		oldMin := loopMinVar(prefix + split.Old)
		oldMax := loopMaxVar(prefix + split.Old)

		dimAlign[split.Inner] = split.Factor

		base := ir.NewAdd(ir.NewMul(outer, split.Factor), oldMin)
		baseName := prefix + split.Inner + ".base"
		baseVar := ir.Var(baseName)

		tail := split.Tail
		if tail == pipeline.TailAuto {
			switch {
			case split.Exact:
				tail = pipeline.TailGuardWithIf
			case isUpdate:
				tail = pipeline.TailRoundUp
			default:
				tail = pipeline.TailShiftInwards
			}
		}

		exactMultiple := false
		if align, ok := dimAlign[split.Old]; ok {
			if rem, okc := ir.ConstIntValue(ir.SimplifyExpr(ir.NewMod(align, split.Factor))); okc && rem == 0 {
				exactMultiple = true
			}
		}

		switch {
		case exactMultiple:
			// The tail is empty; no adjustment needed.
		case tail == pipeline.TailGuardWithIf:
			cond := ir.Likely(ir.NewLE(ir.NewAdd(baseVar, inner), oldMax))
			out = append(out, applySplitResult{value: cond, isPred: true})
		case tail == pipeline.TailShiftInwards:
			// Shift the last tile inward so it stays in bounds.
			base = ir.NewMin(base, ir.NewAdd(oldMax, ir.NewSub(ir.ConstInt(1), split.Factor)))
		default:
			// RoundUp: the allocation covers the rounded-up region.
		}

		out = append(out, applySplitResult{name: baseName, value: base, isLet: true})
		out = append(out, applySplitResult{
			name:    prefix + split.Old,
			value:   ir.NewAdd(baseVar, inner),
			isSubst: true,
		})
	case pipeline.FuseVars:
		fused := ir.Var(prefix + split.Old)
		innerExtent := loopExtentVar(prefix + split.Inner)
		innerMin := loopMinVar(prefix + split.Inner)
		outerMin := loopMinVar(prefix + split.Outer)
		out = append(out, applySplitResult{
			name:    prefix + split.Inner,
			value:   ir.NewAdd(ir.NewMod(fused, innerExtent), innerMin),
			isSubst: true,
		})
		out = append(out, applySplitResult{
			name:    prefix + split.Outer,
			value:   ir.NewAdd(ir.NewDiv(fused, innerExtent), outerMin),
			isSubst: true,
		})
	case pipeline.RenameVar, pipeline.PurifyRVar:
		out = append(out, applySplitResult{
			name:    prefix + split.Old,
			value:   ir.Var(prefix + split.Outer),
			isSubst: true,
		})
	}
	return out
}

// loopBoundsAfterSplit defines the loop_min/max/extent of a split's
// outputs in terms of its input.
func loopBoundsAfterSplit(split pipeline.Split, prefix string) []struct {
	name  string
	value ir.Expr
} {
	type nv = struct {
		name  string
		value ir.Expr
	}
	var out []nv
	switch split.Kind {
	case pipeline.SplitVar:
		oldExtent := loopExtentVar(prefix + split.Old)
		outerExtent := ir.NewDiv(
			ir.NewSub(ir.NewAdd(oldExtent, split.Factor), ir.ConstInt(1)), split.Factor)
		out = append(out,
			nv{prefix + split.Inner + ".loop_min", ir.ConstInt(0)},
			nv{prefix + split.Inner + ".loop_max", ir.SimplifyExpr(ir.NewSub(split.Factor, ir.ConstInt(1)))},
			nv{prefix + split.Inner + ".loop_extent", split.Factor},
			nv{prefix + split.Outer + ".loop_min", ir.ConstInt(0)},
			nv{prefix + split.Outer + ".loop_max", ir.SimplifyExpr(ir.NewSub(outerExtent, ir.ConstInt(1)))},
			nv{prefix + split.Outer + ".loop_extent", outerExtent},
		)
	case pipeline.FuseVars:
		fusedExtent := ir.NewMul(loopExtentVar(prefix+split.Inner), loopExtentVar(prefix+split.Outer))
		out = append(out,
			nv{prefix + split.Old + ".loop_min", ir.ConstInt(0)},
			nv{prefix + split.Old + ".loop_max", ir.SimplifyExpr(ir.NewSub(fusedExtent, ir.ConstInt(1)))},
			nv{prefix + split.Old + ".loop_extent", fusedExtent},
		)
	case pipeline.RenameVar, pipeline.PurifyRVar:
		out = append(out,
			nv{prefix + split.Outer + ".loop_min", loopMinVar(prefix + split.Old)},
			nv{prefix + split.Outer + ".loop_max", loopMaxVar(prefix + split.Old)},
			nv{prefix + split.Outer + ".loop_extent", loopExtentVar(prefix + split.Old)},
		)
	}
	return out
}

func containsImpureCall(e ir.Expr) bool {
	return !ir.IsPureExpr(e)
}

// buildLoopNest wraps a body statement in the loop nest a definition's
// schedule asks for: apply splits, collect lets and predicates, sort
// them outward, and emit the Fors with their bounds definitions.
func buildLoopNest(body ir.Stmt, prefix string, startFuse int, f *pipeline.Function,
	def *pipeline.Definition, isUpdate bool) ir.Stmt {

	funcS := f.Schedule()
	stageS := &def.Schedule

	stmt := body

	// Extents known to be a multiple of something, from bounds/align
	// directives and reduction domain extents.
	dimAlign := make(map[string]ir.Expr)
	for _, b := range funcS.Bounds {
		if b.Extent != nil {
			dimAlign[b.Var] = b.Extent
		}
		if b.Modulus != nil {
			dimAlign[b.Var] = b.Modulus
		}
	}
	for _, rv := range stageS.RVars {
		dimAlign[rv.Name] = rv.Extent
	}

	// Define the stage args in terms of loop variables via the splits.
	for _, split := range stageS.Splits {
		for _, res := range applySplit(split, isUpdate, prefix, dimAlign) {
			switch {
			case res.isSubst:
				stmt = ir.SubstituteStmt(res.name, res.value, stmt)
			case res.isLet:
				stmt = ir.NewLetStmt(res.name, res.value, stmt)
			default:
				stmt = &ir.IfThenElse{Condition: res.value, Then: stmt}
			}
		}
	}

	// Desired loop nest, outermost first.
	var nest []container
	for i := len(stageS.Dims) - 1; i >= 0; i-- {
		nest = append(nest, container{kind: containerFor, dimIdx: i, name: prefix + stageS.Dims[i].Var})
	}

	// Strip the lets and guards the splits just wrapped, so they can
	// be sorted outward.
	var predContainer []container
	for !ir.SameAs(stmt, body) {
		if let, ok := stmt.(*ir.LetStmt); ok {
			nest = append(nest, container{kind: containerLet, name: let.Name, value: let.Value})
			stmt = let.Body
		} else if ite, ok := stmt.(*ir.IfThenElse); ok && ite.Else == nil {
			predContainer = append(predContainer, container{kind: containerIf, value: ite.Condition})
			stmt = ite.Then
		} else {
			break
		}
	}

	// Bounds guards on the fused dims, as far out as the bindings
	// allow. The __outermost dim is skipped; it is removed later.
	nPredicatesInner := 0
	for i := startFuse; i >= 0 && i < len(stageS.Dims)-1; i++ {
		dimVar := prefix + stageS.Dims[i].Var
		v := ir.Var(dimVar)
		nest = append(nest,
			container{kind: containerIfInner, name: dimVar, value: ir.Likely(ir.NewGE(v, loopMinVar(dimVar)))},
			container{kind: containerIfInner, name: dimVar, value: ir.Likely(ir.NewLE(v, loopMaxVar(dimVar)))})
		nPredicatesInner += 2
	}

	// Reduction domain predicates.
	if def.RDom != nil && def.RDom.Predicate != nil && !ir.IsConstTrue(def.RDom.Predicate) {
		pred := ir.Qualify(prefix, def.RDom.Predicate)
		predContainer = append(predContainer, container{kind: containerIf, value: ir.Likely(pred)})
	}
	if def.Predicate != nil && !ir.IsConstTrue(def.Predicate) {
		pred := ir.Qualify(prefix, def.Predicate)
		predContainer = append(predContainer, container{kind: containerIf, value: ir.Likely(pred)})
	}
	nPredicates := len(predContainer)
	nest = append(nest, predContainer...)

	// Sort lets outward as far as possible without crossing a binding
	// they depend on. Reverse insertion sort, starting at the first
	// let.
	for i := len(stageS.Dims); i < len(nest)-nPredicatesInner-nPredicates; i++ {
		for j := i - 1; j >= 0; j-- {
			if !ir.UsesVar(nest[j+1].value, nest[j].name) {
				nest[j+1], nest[j] = nest[j], nest[j+1]
			} else {
				break
			}
		}
	}

	// Sort the fused-loop guards outward, never past a For.
	for i := len(nest) - nPredicatesInner - nPredicates; i < len(nest)-nPredicates; i++ {
		if containsImpureCall(nest[i].value) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if !ir.UsesVar(nest[j+1].value, nest[j].name) && nest[j].kind != containerFor {
				nest[j+1], nest[j] = nest[j], nest[j+1]
			} else {
				break
			}
		}
	}

	// Sort the domain predicates outward; they may cross Fors.
	for i := len(nest) - nPredicates; i < len(nest); i++ {
		if containsImpureCall(nest[i].value) {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if !ir.UsesVar(nest[j+1].value, nest[j].name) {
				nest[j+1], nest[j] = nest[j], nest[j+1]
			} else {
				break
			}
		}
	}

	// Rewrap, innermost last.
	for i := len(nest) - 1; i >= 0; i-- {
		switch nest[i].kind {
		case containerLet:
			stmt = ir.NewLetStmt(nest[i].name, nest[i].value, stmt)
		case containerIf, containerIfInner:
			stmt = &ir.IfThenElse{Condition: nest[i].value, Then: stmt}
		default:
			dim := stageS.Dims[nest[i].dimIdx]
			stmt = ir.NewFor(nest[i].name, loopMinVar(nest[i].name), loopExtentVar(nest[i].name),
				dim.ForType, dim.DeviceAPI, stmt)
		}
	}

	// Bounds for split outputs, innermost split last.
	for i := len(stageS.Splits) - 1; i >= 0; i-- {
		for _, let := range loopBoundsAfterSplit(stageS.Splits[i], prefix) {
			stmt = ir.NewLetStmt(let.name, let.value, stmt)
		}
	}

	// Bounds of the outermost dummy dimension.
	o := prefix + pipeline.OutermostVar
	stmt = ir.NewLetStmt(o+".loop_min", ir.ConstInt(0), stmt)
	stmt = ir.NewLetStmt(o+".loop_max", ir.ConstInt(0), stmt)
	stmt = ir.NewLetStmt(o+".loop_extent", ir.ConstInt(1), stmt)

	// Loop bounds of the pure dims in terms of the .min/.max computed
	// by bounds inference.
	for _, arg := range f.ArgNames() {
		v := prefix + arg
		maxv := ir.Var(v + ".max")
		minv := ir.Var(v + ".min")
		stmt = ir.NewLetStmt(v+".loop_extent", ir.NewSub(ir.NewAdd(maxv, ir.ConstInt(1)), minv), stmt)
		stmt = ir.NewLetStmt(v+".loop_min", minv, stmt)
		stmt = ir.NewLetStmt(v+".loop_max", maxv, stmt)
	}

	// And of the reduction dims.
	for _, rv := range stageS.RVars {
		p := prefix + rv.Name
		rmin := ir.Var(p + ".min")
		rmax := ir.Var(p + ".max")
		stmt = ir.NewLetStmt(p+".loop_min", rmin, stmt)
		stmt = ir.NewLetStmt(p+".loop_max", rmax, stmt)
		stmt = ir.NewLetStmt(p+".loop_extent", ir.NewAdd(ir.NewSub(rmax, rmin), ir.ConstInt(1)), stmt)
	}

	return stmt
}

// buildProvideLoopNest builds the statement computing one definition:
// a Provide wrapped in the scheduled loop nest, with specializations
// peeled into IfThenElse chains.
func buildProvideLoopNest(env pipeline.Environment, prefix string, f *pipeline.Function,
	def *pipeline.Definition, startFuse int, isUpdate bool) (ir.Stmt, error) {

	values := make([]ir.Expr, len(def.Values))
	for i, v := range def.Values {
		values[i] = ir.Qualify(prefix, v)
	}
	site := make([]ir.Expr, len(def.Args))
	for i, a := range def.Args {
		site[i] = ir.Qualify(prefix, a)
	}

	body := ir.NewProvide(f.Name(), values, site, nil)
	stmt := buildLoopNest(body, prefix, startFuse, f, def, isUpdate)
	stmt = injectPlaceholderPrefetch(stmt, prefix, f.Schedule().Prefetches)

	// Specializations wrap the default body, first listed outermost.
	specs := def.Specializations
	for i := len(specs) - 1; i >= 0; i-- {
		s := specs[i]
		if s.FailureMessage == "" {
			thenCase, err := buildProvideLoopNest(env, prefix, f, s.Definition, startFuse, isUpdate)
			if err != nil {
				return nil, err
			}
			stmt = &ir.IfThenElse{Condition: s.Condition, Then: thenCase, Else: stmt}
		} else {
			if i != len(specs)-1 {
				return nil, errors.New(errors.ErrorSpecializeFailNotLast,
					"specialize_fail() must be the last specialization").
					InFunc(f.Name()).Build()
			}
			fail := ir.MakeErrorCall(ir.ErrSpecializeFail, ir.NewStringImm(s.FailureMessage))
			stmt = ir.NewAssert(ir.ConstFalse(), fail)
		}
	}

	return stmt, nil
}

// injectPlaceholderPrefetch wraps the innermost position of the nest
// in placeholder Prefetch nodes; the prefetch pass fills in regions.
func injectPlaceholderPrefetch(s ir.Stmt, prefix string, prefetches []pipeline.PrefetchDirectiveSpec) ir.Stmt {
	for i := len(prefetches) - 1; i >= 0; i-- {
		p := prefetches[i]
		dir := ir.PrefetchDirective{
			Name:     p.Name,
			At:       prefix + p.At,
			From:     prefix + p.From,
			Offset:   p.Offset,
			Strategy: p.Strategy,
		}
		s = &ir.Prefetch{Name: p.Name, Directive: dir, Condition: ir.ConstTrue(), Body: s}
	}
	return s
}

// buildExternProduce emits the call to an extern stage: cropped buffer
// descriptors where the store level differs from the compute level,
// crop retirement, and a status check.
func buildExternProduce(env pipeline.Environment, f *pipeline.Function, tgt target.Target) (ir.Stmt, error) {
	ext := f.Extern()

	bufT := ir.HandleT
	var callArgs []ir.Expr
	var lets []struct {
		name  string
		value ir.Expr
	}
	var croppedBuffers []struct{ crop, parent ir.Expr }

	// Extern stages with non-extern loops around them need crops.
	needsCrops := false
	{
		externCount := 0
		for _, d := range f.InitDef().Schedule.Dims {
			if d.ForType == ir.ExternLoop {
				externCount++
			}
		}
		needsCrops = externCount+1 < len(f.InitDef().Schedule.Dims)
	}

	cropFor := func(name string, args []string, stage int) (ir.Expr, ir.Expr) {
		srcBuffer := ir.NewBufferVariable(name+".buffer", name)
		prefix := stagePrefix(name, stage)
		mins := make([]ir.Expr, 0, len(args))
		extents := make([]ir.Expr, 0, len(args))
		for _, arg := range args {
			v := prefix + arg
			minv := ir.Var(v + ".min")
			maxv := ir.Var(v + ".max")
			mins = append(mins, minv)
			extents = append(extents, ir.NewAdd(ir.NewSub(maxv, minv), ir.ConstInt(1)))
		}
		crop := &ir.Call{T: bufT, Name: ir.IntrinsicBufferCrop, Kind: ir.Extern, Args: []ir.Expr{
			&ir.Call{T: ir.Int32T, Name: ir.IntrinsicSizeOfBufferT, Kind: ir.Intrinsic},
			srcBuffer,
			&ir.Call{T: ir.HandleT, Name: ir.IntrinsicMakeStruct, Args: mins, Kind: ir.Intrinsic},
			&ir.Call{T: ir.HandleT, Name: ir.IntrinsicMakeStruct, Args: extents, Kind: ir.Intrinsic},
		}}
		return crop, srcBuffer
	}

	for _, arg := range ext.Args {
		switch {
		case arg.Expr != nil:
			callArgs = append(callArgs, arg.Expr)
		case arg.FuncName != "":
			input, ok := env[arg.FuncName]
			if !ok {
				return nil, errors.New(errors.ErrorBadComputeAt,
					fmt.Sprintf("extern stage %s consumes unknown function %s", f.Name(), arg.FuncName)).
					InFunc(f.Name()).Build()
			}
			if input.CanBeInlined() {
				return nil, errors.New(errors.ErrorExternInlinedInput,
					fmt.Sprintf("extern stage %s cannot consume inlined function %s", f.Name(), input.Name())).
					InFunc(f.Name()).Build()
			}
			sameLevel := input.Schedule().StoreLevel == input.Schedule().ComputeLevel
			if !needsCrops && sameLevel {
				callArgs = append(callArgs, ir.NewBufferVariable(input.Name()+".buffer", input.Name()))
			} else {
				// Crop to the region required so folded storage never
				// leaks across the extern boundary.
				crop, src := cropFor(input.Name(), input.ArgNames(), len(input.Updates()))
				bufName := input.Name() + ".0.tmp_buffer"
				callArgs = append(callArgs, ir.NewBufferVariable(bufName, input.Name()))
				croppedBuffers = append(croppedBuffers, struct{ crop, parent ir.Expr }{
					ir.NewBufferVariable(bufName, input.Name()), src})
				lets = append(lets, struct {
					name  string
					value ir.Expr
				}{bufName, crop})
			}
		case arg.Image != "":
			callArgs = append(callArgs, ir.NewBufferVariable(arg.Image+".buffer", arg.Image))
		}
	}

	// Output buffer: reuse the realization's descriptor when levels
	// match, crop otherwise.
	if !needsCrops && f.Schedule().StoreLevel == f.Schedule().ComputeLevel {
		for j := range f.Types() {
			bufName := f.Name()
			if len(f.Types()) > 1 {
				bufName += fmt.Sprintf(".%d", j)
			}
			callArgs = append(callArgs, ir.NewBufferVariable(bufName+".buffer", f.Name()))
		}
	} else {
		for j := range f.Types() {
			crop, src := cropFor(f.Name(), f.ArgNames(), 0)
			bufName := fmt.Sprintf("%s.%d.tmp_buffer", f.Name(), j)
			callArgs = append(callArgs, ir.NewBufferVariable(bufName, f.Name()))
			croppedBuffers = append(croppedBuffers, struct{ crop, parent ir.Expr }{
				ir.NewBufferVariable(bufName, f.Name()), src})
			lets = append(lets, struct {
				name  string
				value ir.Expr
			}{bufName, crop})
		}
	}

	// MSAN builds annotate buffer memory before handing it out.
	var annotate ir.Stmt
	if tgt.Has(target.MSAN) {
		for _, a := range callArgs {
			if v, ok := a.(*ir.Variable); ok && v.Binding.IsBuffer() {
				mark := ir.NewEvaluate(&ir.Call{T: ir.Int32T, Name: "halide_msan_annotate_memory_is_initialized",
					Args: []ir.Expr{a}, Kind: ir.Extern})
				annotate = ir.NewBlock(annotate, mark)
			}
		}
	}

	call := &ir.Call{T: ir.Int32T, Name: ext.Name, Args: callArgs, Kind: ir.Extern}

	resultName := ir.UniqueName(f.Name() + ".extern_result.")
	result := ir.Var(resultName)
	errCall := ir.MakeErrorCall(ir.ErrExternStageFailed, ir.NewStringImm(ext.Name), result)
	var check ir.Stmt = ir.NewAssert(ir.NewEQ(result, ir.ConstInt(0)), errCall)

	// Retire crops before the status check so device-side allocations
	// made against the crops are released on every path.
	if len(croppedBuffers) > 0 {
		var cleanupArgs []ir.Expr
		for _, cb := range croppedBuffers {
			cleanupArgs = append(cleanupArgs, cb.crop, cb.parent)
		}
		fn := ir.IntrinsicRetireCrop
		if len(croppedBuffers) > 1 {
			fn = ir.IntrinsicRetireCrops
			cleanupArgs = append(cleanupArgs, ir.MakeZero(ir.HandleT))
		}
		cleanupStruct := &ir.Call{T: ir.HandleT, Name: ir.IntrinsicMakeStruct, Args: cleanupArgs, Kind: ir.Intrinsic}
		cleanup := &ir.Call{T: ir.Int32T, Name: fn, Args: []ir.Expr{cleanupStruct}, Kind: ir.Extern}
		check = ir.NewBlock(ir.NewEvaluate(cleanup), check)
	}

	check = ir.NewLetStmt(resultName, call, check)
	if annotate != nil {
		check = ir.NewBlock(annotate, check)
	}
	for i := len(lets) - 1; i >= 0; i-- {
		check = ir.NewLetStmt(lets[i].name, lets[i].value, check)
	}

	// The extern check runs inside the stage's (mostly placeholder)
	// loop nest, with no predicate applied.
	defNoPred := *f.InitDef()
	defNoPred.Predicate = ir.ConstTrue()
	defNoPred.Specializations = nil
	return buildLoopNest(check, stagePrefix(f.Name(), 0), -1, f, &defNoPred, false), nil
}

// injectExplicitBounds asserts that explicit schedule bounds cover the
// inferred required region.
func injectExplicitBounds(body ir.Stmt, f *pipeline.Function) ir.Stmt {
	s := f.Schedule()
	for stage := 0; stage < 1+len(f.Updates()); stage++ {
		for _, b := range s.Bounds {
			if b.Extent == nil {
				continue
			}
			prefix := stagePrefix(f.Name(), stage) + b.Var
			minVar := ir.Var(prefix + ".min_unbounded")
			maxVar := ir.Var(prefix + ".max_unbounded")
			minVal := b.Min
			if minVal == nil {
				minVal = minVar
			}
			maxVal := ir.NewSub(ir.NewAdd(b.Extent, minVal), ir.ConstInt(1))
			check := ir.NewAnd(ir.NewLE(minVal, minVar), ir.NewGE(maxVal, maxVar))
			errCall := ir.MakeErrorCall(ir.ErrExplicitBoundTooSmall,
				ir.NewStringImm(b.Var), ir.NewStringImm(f.Name()),
				minVal, maxVal, minVar, maxVar)
			body = ir.NewBlock(ir.NewAssert(check, errCall), body)
		}
	}
	return body
}

// functionIsUsedInStmt reports whether s calls or references f.
func functionIsUsedInStmt(f *pipeline.Function, s ir.Stmt) bool {
	return ir.CallsFunc(s, f.Name())
}

// functionIsRealizedInStmt reports whether a Realize for f already
// exists in s.
func functionIsRealizedInStmt(f *pipeline.Function, s ir.Stmt) bool {
	found := false
	ir.Walk(s, func(n ir.Node) bool {
		if r, ok := n.(*ir.Realize); ok && r.Name == f.Name() {
			found = true
		}
		return !found
	})
	return found
}

// injectStmt inserts injected at the level's loop inside root, or
// blocks it after root for the inlined level.
func injectStmt(root, injected ir.Stmt, level pipeline.LoopLevel) ir.Stmt {
	if root == nil {
		return injected
	}
	if injected == nil {
		return root
	}
	if level.IsInlined() || level.IsRoot() || level.Func == "" {
		return ir.NewBlock(root, injected)
	}
	in := &stmtInjector{injected: injected, level: level}
	out := in.MutateStmt(root)
	if !in.found {
		panic(fmt.Sprintf("lower: could not find loop level %s to inject into", level))
	}
	return out
}

type stmtInjector struct {
	injected ir.Stmt
	level    pipeline.LoopLevel
	found    bool
}

func (in *stmtInjector) MutateExpr(e ir.Expr) ir.Expr { return e }

func (in *stmtInjector) MutateStmt(s ir.Stmt) ir.Stmt {
	if f, ok := s.(*ir.For); ok && in.level.Match(f.Name) && !in.found {
		in.found = true
		return ir.NewFor(f.Name, f.Min, f.Extent, f.ForType, f.DeviceAPI,
			ir.NewBlock(f.Body, in.injected))
	}
	return ir.MutateStmtChildren(in, s)
}

// removeLoopsOverOutermost drops the trivial loops and bounds lets over
// __outermost. Applying it twice is the identity.
type removeLoopsOverOutermost struct{}

func (m *removeLoopsOverOutermost) MutateExpr(e ir.Expr) ir.Expr { return ir.MutateExprChildren(m, e) }

func (m *removeLoopsOverOutermost) MutateStmt(s ir.Stmt) ir.Stmt {
	switch v := s.(type) {
	case *ir.For:
		if strings.HasSuffix(v.Name, "."+pipeline.OutermostVar) &&
			ir.IsConstValue(ir.SimplifyExpr(v.Extent), 1) &&
			v.DeviceAPI == ir.DeviceNone {
			return m.MutateStmt(ir.SubstituteStmt(v.Name, v.Min, v.Body))
		}
	case *ir.LetStmt:
		if strings.HasSuffix(v.Name, "."+pipeline.OutermostVar+".loop_extent") ||
			strings.HasSuffix(v.Name, "."+pipeline.OutermostVar+".loop_min") ||
			strings.HasSuffix(v.Name, "."+pipeline.OutermostVar+".loop_max") {
			return m.MutateStmt(ir.SubstituteStmt(v.Name, ir.SimplifyExpr(v.Value), v.Body))
		}
	}
	return ir.MutateStmtChildren(m, s)
}

// RemoveLoopsOverOutermost is exported for reuse by the driver and by
// idempotence tests.
func RemoveLoopsOverOutermost(s ir.Stmt) ir.Stmt {
	var m removeLoopsOverOutermost
	return m.MutateStmt(s)
}
