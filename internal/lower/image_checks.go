package lower

import (
	"fmt"
	"sort"
	"strings"

	"raster/internal/bounds"
	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

// Constraint pins one field of one dimension of a buffer, e.g.
// stride.0 == 1. The value may reference other fields of any buffer.
type Constraint struct {
	Field string // "min", "extent" or "stride"
	Dim   int
	Value ir.Expr
}

// BufferParam describes an externally supplied buffer: an input image
// or an output of the pipeline.
type BufferParam struct {
	Name        string
	Dims        int
	Type        ir.Type
	IsOutput    bool
	TupleIndex  int // secondary outputs inherit min/extent from index 0
	Constraints []Constraint
	HostAlign   int // required host pointer alignment in bytes; 0 for none
}

func bufferFieldName(buf, field string, dim int) string {
	return fmt.Sprintf("%s.%s.%d", buf, field, dim)
}

// collectExternalBuffers finds every buffer the statement touches via
// image loads or .buffer references, merging in the declared params.
func collectExternalBuffers(s ir.Stmt, outputs []*pipeline.Function,
	params map[string]*BufferParam) []*BufferParam {

	found := make(map[string]*BufferParam)
	for _, p := range params {
		found[p.Name] = p
	}
	ir.Walk(s, func(n ir.Node) bool {
		switch v := n.(type) {
		case *ir.Call:
			if v.Kind == ir.ImageLoad {
				if _, ok := found[v.Name]; !ok {
					found[v.Name] = &BufferParam{Name: v.Name, Dims: len(v.Args), Type: v.T}
				}
			}
		case *ir.Variable:
			if v.Binding.IsBuffer() && strings.HasSuffix(v.Name, ".buffer") {
				base := strings.TrimSuffix(v.Name, ".buffer")
				if _, ok := found[base]; !ok {
					found[base] = &BufferParam{Name: base, Dims: 1, Type: ir.UInt8T}
				}
			}
		}
		return true
	})
	for _, f := range outputs {
		for i, t := range f.Types() {
			name := f.Name()
			if len(f.Types()) > 1 {
				name = fmt.Sprintf("%s.%d", f.Name(), i)
			}
			if p, ok := found[name]; ok {
				p.IsOutput = true
				p.Dims = f.Dimensions()
				p.Type = t
				p.TupleIndex = i
			} else {
				found[name] = &BufferParam{
					Name: name, Dims: f.Dimensions(), Type: t, IsOutput: true, TupleIndex: i,
				}
			}
		}
	}

	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*BufferParam, 0, len(names))
	for _, name := range names {
		out = append(out, found[name])
	}
	return out
}

// outputTouchedName maps an output tuple component back to the function
// name its Provides use.
func outputTouchedName(p *BufferParam) string {
	if i := strings.LastIndex(p.Name, "."); i >= 0 && p.TupleIndex > 0 {
		return p.Name[:i]
	}
	return p.Name
}

// AddImageChecks synthesizes the buffer validation prologue: required
// region definitions, constraint propagation, out-of-bounds and
// element-size assertions, overflow checks, and the bounds-query
// early-return path that rewrites input buffers with proposed shapes.
// Downstream IR sees the `.constrained` versions of constrained fields.
func AddImageChecks(s ir.Stmt, outputs []*pipeline.Function, env pipeline.Environment,
	params map[string]*BufferParam, tgt target.Target) (ir.Stmt, error) {

	noAsserts := tgt.Has(target.NoAsserts)
	noBoundsQuery := tgt.Has(target.NoBoundsQuery)

	buffers := collectExternalBuffers(s, outputs, params)

	var scope ir.Scope[bounds.Interval]
	touchedBoxes := bounds.BoxesTouched(s, &scope)

	type let = struct {
		name  string
		value ir.Expr
	}
	var letsRequired, letsConstrained, letsProposed, letsOverflow []let
	var assertsRequired, assertsConstrained, assertsProposed []ir.Stmt
	var assertsElemSize, assertsHostAlign, assertsOverflow []ir.Stmt
	var bufferRewrites []ir.Stmt

	maybeReturnCondition := ir.ConstFalse()
	replaceWithConstrained := make(map[string]ir.Expr)
	replaceWithRequired := make(map[string]ir.Expr)

	for _, buf := range buffers {
		name := buf.Name
		touched := touchedBoxes[outputTouchedName(buf)]
		isSecondary := buf.IsOutput && buf.TupleIndex > 0

		errorName := "Input buffer " + name
		if buf.IsOutput {
			errorName = "Output buffer " + name
		}

		hostPtr := &ir.Variable{T: ir.HandleT, Name: name + ".host", Binding: ir.Binding{Kind: ir.BindParam, Name: name}}
		dev := &ir.Variable{T: ir.UInt64T, Name: name + ".dev", Binding: ir.Binding{Kind: ir.BindParam, Name: name}}
		inferenceMode := ir.NewAnd(
			ir.NewEQ(ir.NewReinterpret(ir.UInt64T, hostPtr), ir.MakeZero(ir.UInt64T)),
			ir.NewEQ(dev, ir.MakeZero(ir.UInt64T)))
		maybeReturnCondition = ir.NewOr(maybeReturnCondition, inferenceMode)

		// Element size must match the compiled type.
		elemSize := ir.BufferVar(name, "elem_size", ir.Int32T)
		correct := int64(buf.Type.Bytes())
		assertsElemSize = append(assertsElemSize, ir.NewAssert(
			ir.NewEQ(elemSize, ir.ConstInt(correct)),
			ir.MakeErrorCall(ir.ErrBadElemSize,
				ir.NewStringImm(errorName), ir.NewStringImm(buf.Type.String()),
				elemSize, ir.ConstInt(correct))))

		constraints := make(map[[2]interface{}]ir.Expr)
		for _, c := range buf.Constraints {
			if isSecondary && (c.Field == "min" || c.Field == "extent") {
				return nil, errors.New(errors.ErrorConstrainedSecondaryOutput,
					"the min and extent of output buffers beyond the first are implicitly constrained").
					InFunc(name).OnDirective(bufferFieldName(name, c.Field, c.Dim)).Build()
			}
			constraints[[2]interface{}{c.Field, c.Dim}] = c.Value
		}

		var constraintChecks []let
		for j := 0; j < buf.Dims; j++ {
			actualMin := ir.BufferField(name, "min", j)
			actualExtent := ir.BufferField(name, "extent", j)
			actualStride := ir.BufferField(name, "stride", j)

			if j >= len(touched.Bounds) {
				// Untouched dims fall back to the actual region, so
				// the checks degenerate to tautologies.
				touched.Bounds = append(touched.Bounds, bounds.Interval{
					Min: actualMin,
					Max: ir.NewSub(ir.NewAdd(actualMin, actualExtent), ir.ConstInt(1)),
				})
			}
			if !touched.Bounds[j].IsBounded() {
				return nil, errors.New(errors.ErrorUnboundedAccess,
					fmt.Sprintf("buffer %s may be accessed in an unbounded way in dimension %d", name, j)).
					InFunc(name).Build()
			}

			minRequired := ir.SimplifyExpr(touched.Bounds[j].Min)
			extentRequired := ir.SimplifyExpr(
				ir.NewSub(ir.NewAdd(touched.Bounds[j].Max, ir.ConstInt(1)), touched.Bounds[j].Min))
			if touched.Used != nil && !ir.IsConstTrue(touched.Used) {
				minRequired = ir.NewSelect(touched.Used, minRequired, actualMin)
				extentRequired = ir.NewSelect(touched.Used, extentRequired, actualExtent)
			}

			minRequiredName := bufferFieldName(name, "min", j) + ".required"
			extentRequiredName := bufferFieldName(name, "extent", j) + ".required"
			strideRequiredName := bufferFieldName(name, "stride", j) + ".required"
			letsRequired = append(letsRequired,
				let{extentRequiredName, extentRequired},
				let{minRequiredName, minRequired})

			minRequiredVar := ir.Var(minRequiredName)
			extentRequiredVar := ir.Var(extentRequiredName)
			replaceWithRequired[bufferFieldName(name, "min", j)] = minRequiredVar
			replaceWithRequired[bufferFieldName(name, "extent", j)] = extentRequiredVar
			replaceWithRequired[bufferFieldName(name, "stride", j)] = ir.Var(strideRequiredName)

			// Out-of-bounds check.
			actualMax := ir.NewSub(ir.NewAdd(actualMin, actualExtent), ir.ConstInt(1))
			maxRequired := ir.NewSub(ir.NewAdd(minRequiredVar, extentRequiredVar), ir.ConstInt(1))
			oob := ir.NewAnd(ir.NewLE(actualMin, minRequiredVar), ir.NewGE(actualMax, maxRequired))
			assertsRequired = append(assertsRequired, ir.NewAssert(oob,
				ir.MakeErrorCall(ir.ErrAccessOutOfBounds,
					ir.NewStringImm(errorName), ir.ConstInt(int64(j)),
					minRequiredVar, maxRequired, actualMin, actualMax)))

			// A required stride for inference mode. Never asserted;
			// only used to push constraints through to a proposal.
			var strideRequired ir.Expr
			if j == 0 {
				strideRequired = ir.ConstInt(1)
			} else {
				strideRequired = ir.NewMul(
					ir.Var(bufferFieldName(name, "stride", j-1)+".required"),
					ir.Var(bufferFieldName(name, "extent", j-1)+".required"))
			}
			letsRequired = append(letsRequired, let{strideRequiredName, strideRequired})

			// Size overflow checks. With LargeBuffers on a 64-bit
			// target the limit is unreachable and the per-dim checks
			// are omitted.
			if !(tgt.Bits == 64 && tgt.Has(target.LargeBuffers)) {
				maxSize := ir.NewIntImm(ir.Int64T, tgt.MaxBufferSize())
				actualSize := ir.NewMul(ir.NewCast(ir.Int64T, actualExtent), ir.NewCast(ir.Int64T, actualStride))
				actualSize = ir.NewSelect(ir.NewGE(actualSize, ir.MakeZero(ir.Int64T)), actualSize,
					ir.NewSub(ir.MakeZero(ir.Int64T), actualSize))
				assertsOverflow = append(assertsOverflow, ir.NewAssert(
					ir.NewLE(actualSize, maxSize),
					ir.MakeErrorCall(ir.ErrBufferAllocTooLarge,
						ir.NewStringImm(name), actualSize, maxSize)))

				if !isSecondary {
					totalName := fmt.Sprintf("%s.total_extent.%d", name, j)
					if j == 0 {
						letsOverflow = append(letsOverflow, let{totalName, ir.NewCast(ir.Int64T, actualExtent)})
					} else {
						lastVar := ir.NewVariable(ir.Int64T, fmt.Sprintf("%s.total_extent.%d", name, j-1))
						thisDim := ir.NewMul(ir.NewCast(ir.Int64T, actualExtent), lastVar)
						thisVar := ir.NewVariable(ir.Int64T, totalName)
						letsOverflow = append(letsOverflow, let{totalName, thisDim})
						assertsOverflow = append(assertsOverflow, ir.NewAssert(
							ir.NewLE(thisVar, maxSize),
							ir.MakeErrorCall(ir.ErrBufferExtentTooLarge,
								ir.NewStringImm(name), thisVar, maxSize)))
					}
				}
			}

			// Negative extents are never legal.
			if !isSecondary {
				assertsRequired = append(assertsRequired, ir.NewAssert(
					ir.NewGE(actualExtent, ir.ConstInt(0)),
					ir.MakeErrorCall(ir.ErrBufferExtentsShrunk,
						ir.NewStringImm(errorName), ir.ConstInt(int64(j)), actualExtent)))
			}

			// Constrained and proposed versions per field.
			fields := []struct {
				field  string
				reqVar ir.Expr
			}{
				{"stride", ir.Var(strideRequiredName)},
				{"min", minRequiredVar},
				{"extent", extentRequiredVar},
			}
			for _, fld := range fields {
				fieldName := bufferFieldName(name, fld.field, j)
				var constrained ir.Expr
				if isSecondary && fld.field != "stride" {
					// Secondary outputs inherit min/extent from
					// component 0.
					comp0 := bufferFieldName(outputTouchedName(buf)+".0", fld.field, j)
					if c, ok := replaceWithConstrained[comp0]; ok {
						constrained = c
					} else {
						constrained = ir.Var(comp0)
					}
				} else if c, ok := constraints[[2]interface{}{fld.field, j}]; ok {
					constrained = c
				}

				if constrained != nil {
					constraintChecks = append(constraintChecks, let{fieldName, constrained})
					proposed := ir.SubstituteMapExpr(replaceWithRequired, constrained)
					letsProposed = append(letsProposed, let{fieldName + ".proposed", proposed})
				} else {
					letsProposed = append(letsProposed, let{fieldName + ".proposed", fld.reqVar})
				}
			}

			// The proposal must still cover the required region.
			minProposed := ir.Var(bufferFieldName(name, "min", j) + ".proposed")
			extentProposed := ir.Var(bufferFieldName(name, "extent", j) + ".proposed")
			maxProposed := ir.NewSub(ir.NewAdd(minProposed, extentProposed), ir.ConstInt(1))
			sane := ir.NewAnd(ir.NewLE(minProposed, minRequiredVar), ir.NewGE(maxProposed, maxRequired))
			assertsProposed = append(assertsProposed, ir.NewAssert(
				ir.NewOr(ir.NewNot(inferenceMode), sane),
				ir.MakeErrorCall("halide_error_constraints_make_required_region_smaller",
					ir.NewStringImm(errorName), ir.ConstInt(int64(j)),
					minProposed, maxProposed, minRequiredVar, maxRequired)))
		}

		// Each constraint becomes a let plus a runtime equality check.
		for _, c := range constraintChecks {
			v := &ir.Variable{T: ir.Int32T, Name: c.name, Binding: ir.Binding{Kind: ir.BindParam, Name: name}}
			constrainedVar := ir.Var(c.name + ".constrained")
			replaceWithConstrained[c.name] = constrainedVar
			letsConstrained = append(letsConstrained, let{c.name + ".constrained", c.value})
			assertsConstrained = append(assertsConstrained, ir.NewAssert(
				ir.NewEQ(v, constrainedVar),
				ir.MakeErrorCall(ir.ErrConstraintViolated,
					ir.NewStringImm(c.name), v,
					ir.NewStringImm(ir.PrintExpr(c.value)), constrainedVar)))
		}

		// Host alignment check, when stricter than the element size.
		if buf.HostAlign > buf.Type.Bytes() {
			cond := ir.NewEQ(
				ir.NewMod(ir.NewReinterpret(ir.UInt64T, hostPtr), ir.NewUIntImm(ir.UInt64T, uint64(buf.HostAlign))),
				ir.MakeZero(ir.UInt64T))
			assertsHostAlign = append(assertsHostAlign, ir.NewAssert(cond,
				ir.MakeErrorCall(ir.ErrUnalignedHostPtr,
					ir.NewStringImm(name), ir.ConstInt(int64(buf.HostAlign)))))
		}

		// The bounds-query path fills the buffer with the proposal.
		if !noBoundsQuery {
			rewriteArgs := []ir.Expr{ir.NewBufferVariable(name+".buffer", name)}
			for i := 0; i < buf.Dims; i++ {
				rewriteArgs = append(rewriteArgs,
					ir.Var(bufferFieldName(name, "min", i)+".proposed"),
					ir.Var(bufferFieldName(name, "extent", i)+".proposed"),
					ir.Var(bufferFieldName(name, "stride", i)+".proposed"))
			}
			rewrite := ir.NewEvaluate(&ir.Call{
				T: ir.Int32T, Name: ir.IntrinsicRewriteBuffer, Args: rewriteArgs, Kind: ir.Intrinsic,
			})
			bufferRewrites = append(bufferRewrites, &ir.IfThenElse{Condition: inferenceMode, Then: rewrite})
		}
	}

	// Host alignment and overflow checks sit closest to the body.
	if !noAsserts {
		for i := len(assertsHostAlign) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsHostAlign[i], s)
		}
		for i := len(assertsOverflow) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsOverflow[i], s)
		}
		for i := len(letsOverflow) - 1; i >= 0; i-- {
			s = ir.NewLetStmt(letsOverflow[i].name, letsOverflow[i].value, s)
		}
	}

	// Downstream passes see the constrained fields so they can fold
	// constants through them.
	s = ir.SubstituteMapStmt(replaceWithConstrained, s)

	if !noAsserts {
		for i := len(assertsConstrained) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsConstrained[i], s)
		}
		for i := len(assertsRequired) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsRequired[i], s)
		}
		for i := len(assertsElemSize) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsElemSize[i], s)
		}
	}

	// Inference mode returns early instead of running the body.
	if !noBoundsQuery {
		s = &ir.IfThenElse{Condition: ir.NewNot(maybeReturnCondition), Then: s}
		for i := len(bufferRewrites) - 1; i >= 0; i-- {
			s = ir.NewBlock(bufferRewrites[i], s)
		}
	}

	if !noAsserts {
		for i := len(assertsProposed) - 1; i >= 0; i-- {
			s = ir.NewBlock(assertsProposed[i], s)
		}
	}

	for i := len(letsProposed) - 1; i >= 0; i-- {
		s = ir.NewLetStmt(letsProposed[i].name, letsProposed[i].value, s)
	}
	for i := len(letsConstrained) - 1; i >= 0; i-- {
		s = ir.NewLetStmt(letsConstrained[i].name, letsConstrained[i].value, s)
	}
	for i := len(letsRequired) - 1; i >= 0; i-- {
		s = ir.NewLetStmt(letsRequired[i].name, letsRequired[i].value, s)
	}

	return s, nil
}
