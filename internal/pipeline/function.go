package pipeline

import (
	"fmt"

	"raster/internal/ir"
)

// RVar is one dimension of a reduction domain.
type RVar struct {
	Name   string
	Min    ir.Expr
	Extent ir.Expr
}

// ReductionDomain is the iteration domain of an update definition.
type ReductionDomain struct {
	Name      string
	Vars      []RVar
	Predicate ir.Expr // optional
}

// Specialization wraps a definition in a compile-time condition. A
// specialization with a FailureMessage lowers to a trap and must come
// last.
type Specialization struct {
	Condition      ir.Expr
	Definition     *Definition
	FailureMessage string
}

// Definition is one stage of a function: values stored to args, an
// optional reduction domain, a schedule, and specializations.
type Definition struct {
	Values          []ir.Expr
	Args            []ir.Expr
	Predicate       ir.Expr
	RDom            *ReductionDomain
	Schedule        StageSchedule
	Specializations []Specialization
}

// IsPure reports whether the definition writes every point of its
// domain exactly once from pure vars.
func (d *Definition) IsPure() bool {
	if d.RDom != nil {
		return false
	}
	for _, a := range d.Args {
		if _, ok := a.(*ir.Variable); !ok {
			return false
		}
	}
	return true
}

// ExternArgument is one input to an extern stage: a buffer-producing
// function, an input image, or a scalar expression.
type ExternArgument struct {
	FuncName string
	Image    string
	Expr     ir.Expr
}

// ExternDefinition invokes an external function instead of a loop nest.
type ExternDefinition struct {
	Name      string
	Args      []ExternArgument
	DeviceAPI ir.DeviceAPI
}

// Function is a named definition of a multidimensional lattice array:
// an initial definition, optional updates, and a schedule.
type Function struct {
	name     string
	args     []string
	types    []ir.Type
	init     *Definition
	updates  []*Definition
	extern   *ExternDefinition
	schedule FuncSchedule
}

// NewFunction defines a pure function: name(args) = values.
func NewFunction(name string, args []string, values ...ir.Expr) *Function {
	if len(values) == 0 {
		panic("pipeline: function needs at least one value")
	}
	siteArgs := make([]ir.Expr, len(args))
	for i, a := range args {
		siteArgs[i] = ir.Var(a)
	}
	types := make([]ir.Type, len(values))
	dims := make([]Dim, 0, len(args)+1)
	for _, a := range args {
		dims = append(dims, Dim{Var: a, ForType: ir.Serial})
	}
	dims = append(dims, Dim{Var: OutermostVar, ForType: ir.Serial})
	for i, v := range values {
		types[i] = v.Type()
	}
	return &Function{
		name:  name,
		args:  append([]string(nil), args...),
		types: types,
		init: &Definition{
			Values:    values,
			Args:      siteArgs,
			Predicate: ir.ConstTrue(),
			Schedule:  StageSchedule{Dims: dims},
		},
		schedule: FuncSchedule{ComputeLevel: Inlined(), StoreLevel: Inlined()},
	}
}

func (f *Function) Name() string          { return f.name }
func (f *Function) ArgNames() []string    { return f.args }
func (f *Function) Types() []ir.Type      { return f.types }
func (f *Function) InitDef() *Definition  { return f.init }
func (f *Function) Updates() []*Definition { return f.updates }
func (f *Function) Extern() *ExternDefinition { return f.extern }
func (f *Function) Dimensions() int       { return len(f.args) }

// Schedule returns a mutable view of the function-level schedule.
func (f *Function) Schedule() *FuncSchedule { return &f.schedule }

// Stages returns all definitions in stage order: init first.
func (f *Function) Stages() []*Definition {
	out := make([]*Definition, 0, 1+len(f.updates))
	out = append(out, f.init)
	out = append(out, f.updates...)
	return out
}

// Stage returns definition k, where stage 0 is the init.
func (f *Function) Stage(k int) *Definition {
	if k == 0 {
		return f.init
	}
	return f.updates[k-1]
}

// HasPureDefinition reports whether the function is a single pure
// stage, the precondition for inlining.
func (f *Function) HasPureDefinition() bool {
	return f.extern == nil && len(f.updates) == 0 && f.init.IsPure() &&
		len(f.init.Specializations) == 0
}

// CanBeInlined reports whether the schedule permits inlining.
func (f *Function) CanBeInlined() bool {
	return f.HasPureDefinition() && f.schedule.ComputeLevel.IsInlined()
}

// AddUpdate appends an update definition: name(args) = values with an
// optional reduction domain.
func (f *Function) AddUpdate(args []ir.Expr, values []ir.Expr, rdom *ReductionDomain) *Definition {
	if len(values) != len(f.types) {
		panic(fmt.Sprintf("pipeline: update of %s has %d values, want %d", f.name, len(values), len(f.types)))
	}
	dims := make([]Dim, 0, len(f.args)+1)
	for _, a := range f.args {
		dims = append(dims, Dim{Var: a, ForType: ir.Serial})
	}
	if rdom != nil {
		// Reduction dims iterate inside the pure dims.
		rdims := make([]Dim, 0, len(rdom.Vars))
		for _, rv := range rdom.Vars {
			rdims = append(rdims, Dim{Var: rv.Name, ForType: ir.Serial})
		}
		dims = append(rdims, dims...)
	}
	dims = append(dims, Dim{Var: OutermostVar, ForType: ir.Serial})
	def := &Definition{
		Values:    values,
		Args:      args,
		Predicate: ir.ConstTrue(),
		RDom:      rdom,
		Schedule:  StageSchedule{Dims: dims},
	}
	if rdom != nil {
		for _, rv := range rdom.Vars {
			def.Schedule.RVars = append(def.Schedule.RVars, rv)
		}
		if rdom.Predicate == nil {
			rdom.Predicate = ir.ConstTrue()
		}
	}
	f.updates = append(f.updates, def)
	return def
}

// DefineExtern replaces the body with an extern stage invocation. The
// pure dims become extern loops; the stage iterates inside the callee.
func (f *Function) DefineExtern(name string, args []ExternArgument, api ir.DeviceAPI) {
	f.extern = &ExternDefinition{Name: name, Args: args, DeviceAPI: api}
	for i := range f.init.Schedule.Dims {
		if f.init.Schedule.Dims[i].Var != OutermostVar {
			f.init.Schedule.Dims[i].ForType = ir.ExternLoop
		}
	}
}

// Call builds a reference to component 0 of this function at a site.
func (f *Function) Call(args ...ir.Expr) ir.Expr {
	return ir.NewFuncCall(f.types[0], f.name, args, 0)
}

// CallComponent references tuple component idx at a site.
func (f *Function) CallComponent(idx int, args ...ir.Expr) ir.Expr {
	return ir.NewFuncCall(f.types[idx], f.name, args, idx)
}

// ComputeAt schedules the function's compute level.
func (f *Function) ComputeAt(consumer string, v string) *Function {
	f.schedule.ComputeLevel = At(consumer, 0, v)
	if f.schedule.StoreLevel.IsInlined() {
		f.schedule.StoreLevel = f.schedule.ComputeLevel
	}
	return f
}

// ComputeRoot schedules the function at the root level.
func (f *Function) ComputeRoot() *Function {
	f.schedule.ComputeLevel = Root()
	if f.schedule.StoreLevel.IsInlined() {
		f.schedule.StoreLevel = Root()
	}
	return f
}

// StoreAt schedules the function's storage level.
func (f *Function) StoreAt(consumer string, v string) *Function {
	f.schedule.StoreLevel = At(consumer, 0, v)
	return f
}

// StoreRoot allocates the function at the root level.
func (f *Function) StoreRoot() *Function {
	f.schedule.StoreLevel = Root()
	return f
}

// findDim locates a dim in a stage, as directives must.
func (d *Definition) findDim(v string) (int, bool) {
	for i, dim := range d.Schedule.Dims {
		if dim.Var == v {
			return i, true
		}
	}
	return 0, false
}

// SplitDim splits old into outer*factor + inner on the init stage.
func (f *Function) SplitDim(old, outer, inner string, factor ir.Expr, tail TailStrategy) *Function {
	f.init.SplitDim(old, outer, inner, factor, tail)
	return f
}

// SplitDim splits a dimension of this definition.
func (d *Definition) SplitDim(old, outer, inner string, factor ir.Expr, tail TailStrategy) *Definition {
	i, ok := d.findDim(old)
	if !ok {
		panic(fmt.Sprintf("pipeline: split of unknown dim %q", old))
	}
	exact := false
	for _, rv := range d.Schedule.RVars {
		if rv.Name == old {
			exact = true
		}
	}
	d.Schedule.Splits = append(d.Schedule.Splits, Split{
		Old: old, Outer: outer, Inner: inner, Factor: factor, Exact: exact,
		Kind: SplitVar, Tail: tail,
	})
	ft := d.Schedule.Dims[i].ForType
	api := d.Schedule.Dims[i].DeviceAPI
	rest := append([]Dim(nil), d.Schedule.Dims[i+1:]...)
	d.Schedule.Dims = append(d.Schedule.Dims[:i],
		append([]Dim{{Var: inner, ForType: ft, DeviceAPI: api}, {Var: outer, ForType: ft, DeviceAPI: api}}, rest...)...)
	return d
}

// FuseDims fuses inner and outer into fused.
func (d *Definition) FuseDims(inner, outer, fused string) *Definition {
	ii, ok1 := d.findDim(inner)
	oi, ok2 := d.findDim(outer)
	if !ok1 || !ok2 {
		panic(fmt.Sprintf("pipeline: fuse of unknown dims %q, %q", inner, outer))
	}
	d.Schedule.Splits = append(d.Schedule.Splits, Split{
		Old: fused, Outer: outer, Inner: inner, Kind: FuseVars,
	})
	ft := d.Schedule.Dims[ii].ForType
	// Remove both, insert fused at the inner position.
	dims := make([]Dim, 0, len(d.Schedule.Dims)-1)
	for i, dim := range d.Schedule.Dims {
		if i == oi {
			continue
		}
		if i == ii {
			dims = append(dims, Dim{Var: fused, ForType: ft})
			continue
		}
		dims = append(dims, dim)
	}
	d.Schedule.Dims = dims
	return d
}

// MarkDim sets the for-type of a dim on this definition.
func (d *Definition) MarkDim(v string, ft ir.ForType) *Definition {
	i, ok := d.findDim(v)
	if !ok {
		panic(fmt.Sprintf("pipeline: mark of unknown dim %q", v))
	}
	d.Schedule.Dims[i].ForType = ft
	return d
}

// Vectorize marks a dim of the init stage vectorized, optionally
// splitting by a factor first.
func (f *Function) Vectorize(v string, factor ...ir.Expr) *Function {
	if len(factor) > 0 {
		inner := v + ".v"
		f.init.SplitDim(v, v, inner, factor[0], TailAuto)
		f.init.MarkDim(inner, ir.Vectorized)
	} else {
		f.init.MarkDim(v, ir.Vectorized)
	}
	return f
}

// Parallelize marks a dim of the init stage parallel.
func (f *Function) Parallelize(v string) *Function {
	f.init.MarkDim(v, ir.Parallel)
	return f
}

// Unroll marks a dim of the init stage unrolled.
func (f *Function) Unroll(v string) *Function {
	f.init.MarkDim(v, ir.Unrolled)
	return f
}

// ReorderDims reorders the named dims of a definition innermost-first.
// Reordering two reduction variables is a user error detected by the
// loop-nest builder.
func (d *Definition) ReorderDims(vars ...string) *Definition {
	idx := make([]int, 0, len(vars))
	for _, v := range vars {
		i, ok := d.findDim(v)
		if !ok {
			panic(fmt.Sprintf("pipeline: reorder of unknown dim %q", v))
		}
		idx = append(idx, i)
	}
	sorted := append([]int(nil), idx...)
	slicesSort(sorted)
	newDims := append([]Dim(nil), d.Schedule.Dims...)
	for k, i := range idx {
		newDims[sorted[k]] = d.Schedule.Dims[i]
	}
	d.Schedule.Dims = newDims
	return d
}

func slicesSort(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}

// BoundDim constrains a pure dimension.
func (f *Function) BoundDim(v string, min, extent ir.Expr) *Function {
	f.schedule.Bounds = append(f.schedule.Bounds, Bound{Var: v, Min: min, Extent: extent})
	return f
}

// FoldStorage requests an explicit storage fold.
func (f *Function) FoldStorage(v string, factor ir.Expr, forward bool) *Function {
	f.schedule.StorageDims = append(f.schedule.StorageDims, StorageDim{Var: v, Fold: factor, FoldForward: forward})
	return f
}

// ComputeWith fuses this function's init loop nest with another
// stage's at the given var.
func (f *Function) ComputeWith(other string, otherStage int, v string, align LoopAlignStrategy) *Function {
	f.init.Schedule.FuseLevel = At(other, otherStage, v)
	f.init.Schedule.FusedPairs = append(f.init.Schedule.FusedPairs, FusedPair{
		Func1: other, Stage1: otherStage, Func2: f.name, Stage2: 0, Var: v, Align: align,
	})
	return f
}

// Specialize adds a specialization of the init definition. The returned
// definition may be rescheduled independently.
func (f *Function) Specialize(condition ir.Expr) *Definition {
	def := &Definition{
		Values:    f.init.Values,
		Args:      f.init.Args,
		Predicate: f.init.Predicate,
		RDom:      f.init.RDom,
		Schedule: StageSchedule{
			Dims:   append([]Dim(nil), f.init.Schedule.Dims...),
			Splits: append([]Split(nil), f.init.Schedule.Splits...),
			RVars:  append([]RVar(nil), f.init.Schedule.RVars...),
		},
	}
	f.init.Specializations = append(f.init.Specializations, Specialization{
		Condition: condition, Definition: def,
	})
	return def
}

// SpecializeFail adds a trapping specialization; it must remain last.
func (f *Function) SpecializeFail(condition ir.Expr, message string) *Function {
	f.init.Specializations = append(f.init.Specializations, Specialization{
		Condition: condition, FailureMessage: message,
	})
	return f
}
