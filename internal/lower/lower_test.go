package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

func findFor(s ir.Stmt, name string) *ir.For {
	var out *ir.For
	ir.Walk(s, func(n ir.Node) bool {
		if f, ok := n.(*ir.For); ok && f.Name == name {
			out = f
		}
		return out == nil
	})
	return out
}

func findRealize(s ir.Stmt, name string) *ir.Realize {
	var out *ir.Realize
	ir.Walk(s, func(n ir.Node) bool {
		if r, ok := n.(*ir.Realize); ok && r.Name == name {
			out = r
		}
		return out == nil
	})
	return out
}

func findProduce(s ir.Stmt, name string) *ir.ProducerConsumer {
	var out *ir.ProducerConsumer
	ir.Walk(s, func(n ir.Node) bool {
		if p, ok := n.(*ir.ProducerConsumer); ok && p.IsProducer && p.Name == name {
			out = p
		}
		return out == nil
	})
	return out
}

func findLet(s ir.Stmt, name string) *ir.LetStmt {
	var out *ir.LetStmt
	ir.Walk(s, func(n ir.Node) bool {
		if l, ok := n.(*ir.LetStmt); ok && l.Name == name {
			out = l
		}
		return out == nil
	})
	return out
}

func countNodes(s ir.Stmt, match func(ir.Node) bool) int {
	count := 0
	ir.Walk(s, func(n ir.Node) bool {
		if match(n) {
			count++
		}
		return true
	})
	return count
}

// buildNest runs the front half of the pipeline: loop-nest
// construction, injection, and bounds binding.
func buildNest(t *testing.T, outputs []*pipeline.Function, env pipeline.Environment,
	outputBounds map[string]ir.Region) ir.Stmt {
	t.Helper()
	order, groups, err := pipeline.RealizationOrder(outputs, env)
	require.NoError(t, err)
	_ = order
	s, err := ScheduleFunctions(outputs, groups, env, target.Host())
	require.NoError(t, err)
	s, err = InferBounds(s, outputs, env, outputBounds)
	require.NoError(t, err)
	return s
}

// Scenario: elementwise g(x, y) = x + y with no schedule, output 4x4.
func TestElementwiseLoopNest(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x", "y"},
		ir.NewAdd(ir.Var("x"), ir.Var("y")))
	env := pipeline.Environment{}.Register(g)
	bounds4 := map[string]ir.Region{
		"g": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(4)}, {Min: ir.ConstInt(0), Extent: ir.ConstInt(4)}},
	}

	s := buildNest(t, []*pipeline.Function{g}, env, bounds4)

	// A serial y loop wrapping a serial x loop wrapping the Provide.
	yLoop := findFor(s, "g.s0.y")
	require.NotNil(t, yLoop)
	assert.Equal(t, ir.Serial, yLoop.ForType)
	xLoop := findFor(yLoop.Body, "g.s0.x")
	require.NotNil(t, xLoop)

	var provide *ir.Provide
	ir.Walk(xLoop.Body, func(n ir.Node) bool {
		if p, ok := n.(*ir.Provide); ok {
			provide = p
		}
		return provide == nil
	})
	require.NotNil(t, provide)
	assert.Equal(t, "g", provide.Name)
	require.Len(t, provide.Args, 2)
	assert.True(t, ir.Equal(ir.Var("g.s0.x"), provide.Args[0]))
	assert.True(t, ir.Equal(ir.Var("g.s0.y"), provide.Args[1]))
	require.Len(t, provide.Values, 1)
	assert.True(t, ir.Equal(&ir.Add{A: ir.Var("g.s0.x"), B: ir.Var("g.s0.y")}, provide.Values[0]))

	// Bounds lets pin the output region.
	xMin := findLet(s, "g.x.min")
	require.NotNil(t, xMin)
	assert.True(t, ir.IsConstValue(xMin.Value, 0))
	xExtent := findLet(s, "g.x.extent")
	require.NotNil(t, xExtent)
	assert.True(t, ir.IsConstValue(xExtent.Value, 4))

	// The placeholder loops are gone.
	assert.Nil(t, findFor(s, "g.s0."+pipeline.OutermostVar))
	assert.Nil(t, findFor(s, pipeline.RootVar))
}

// Scenario: two-stage nest with store_at/compute_at splitting levels.
func TestComputeAtStoreAtPlacement(t *testing.T) {
	h := pipeline.NewFunction("h", []string{"x", "y"},
		ir.NewSub(ir.Var("x"), ir.Var("y")))
	g := pipeline.NewFunction("g", []string{"x", "y"},
		ir.NewAdd(
			h.Call(ir.NewAdd(ir.Var("x"), ir.ConstInt(1)), ir.Var("y")),
			h.Call(ir.NewSub(ir.Var("x"), ir.ConstInt(1)), ir.Var("y"))))
	f := pipeline.NewFunction("f", []string{"x", "y"},
		ir.NewAdd(
			g.Call(ir.Var("x"), ir.NewSub(ir.Var("y"), ir.ConstInt(1))),
			g.Call(ir.Var("x"), ir.NewAdd(ir.Var("y"), ir.ConstInt(1)))))
	g.StoreAt("f", "y").ComputeAt("f", "x")
	h.StoreAt("f", "y").ComputeAt("f", "y")

	env := pipeline.Environment{}.Register(f, g, h)
	bounds8 := map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}, {Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	}
	s := buildNest(t, []*pipeline.Function{f}, env, bounds8)

	// Realizations for g and h appear inside f's y loop, not outside.
	yLoop := findFor(s, "f.s0.y")
	require.NotNil(t, yLoop)
	require.NotNil(t, findRealize(yLoop.Body, "g"))
	require.NotNil(t, findRealize(yLoop.Body, "h"))
	assert.Nil(t, findRealize(s, "f"), "outputs are never wrapped in Realize")

	// g's production sits inside f's x loop; h's does not.
	xLoop := findFor(yLoop.Body, "f.s0.x")
	require.NotNil(t, xLoop)
	assert.NotNil(t, findProduce(xLoop.Body, "g"))
	assert.Nil(t, findProduce(xLoop.Body, "h"))
	assert.NotNil(t, findProduce(yLoop.Body, "h"))

	// h's realization encloses g's production (h is consumed by g).
	hRealize := findRealize(yLoop.Body, "h")
	assert.NotNil(t, findProduce(hRealize.Body, "g"))
}

func TestInlinedFunctionDisappears(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"},
		ir.NewMul(ir.Var("x"), ir.ConstInt(2)))
	f := pipeline.NewFunction("f", []string{"x"},
		ir.NewAdd(g.Call(ir.Var("x")), ir.ConstInt(1)))

	env := pipeline.Environment{}.Register(f, g)
	s := buildNest(t, []*pipeline.Function{f}, env, map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	})

	assert.Nil(t, findRealize(s, "g"))
	assert.Nil(t, findProduce(s, "g"))
	assert.False(t, ir.CallsFunc(s, "g"))
}

func TestSplitEmitsTwoLoops(t *testing.T) {
	f := pipeline.NewFunction("f", []string{"x"}, ir.Var("x"))
	f.SplitDim("x", "xo", "xi", ir.ConstInt(8), pipeline.TailShiftInwards)

	env := pipeline.Environment{}.Register(f)
	s := buildNest(t, []*pipeline.Function{f}, env, map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(32)}},
	})

	outer := findFor(s, "f.s0.xo")
	require.NotNil(t, outer)
	inner := findFor(outer.Body, "f.s0.xi")
	require.NotNil(t, inner)

	// The split base let exists and the old var is gone.
	assert.NotNil(t, findLet(s, "f.s0.xi.base"))
	assert.Nil(t, findFor(s, "f.s0.x"))
}

func TestSpecializationsNest(t *testing.T) {
	f := pipeline.NewFunction("f", []string{"x"}, ir.Var("x"))
	cond := ir.NewEQ(ir.BufferVar("p", "value", ir.Int32T), ir.ConstInt(1))
	f.Specialize(cond)

	env := pipeline.Environment{}.Register(f)
	s := buildNest(t, []*pipeline.Function{f}, env, map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	})

	var ite *ir.IfThenElse
	ir.Walk(s, func(n ir.Node) bool {
		if v, ok := n.(*ir.IfThenElse); ok && ir.Equal(v.Condition, cond) {
			ite = v
		}
		return ite == nil
	})
	require.NotNil(t, ite)
	assert.NotNil(t, ite.Else, "the default definition is the else branch")
}

func TestSpecializeFailNotLastIsError(t *testing.T) {
	f := pipeline.NewFunction("f", []string{"x"}, ir.Var("x"))
	f.SpecializeFail(ir.ConstTrue(), "bad")
	f.Specialize(ir.NewEQ(ir.Var("w"), ir.ConstInt(1)))

	env := pipeline.Environment{}.Register(f)
	_, groups, err := pipeline.RealizationOrder([]*pipeline.Function{f}, env)
	require.NoError(t, err)
	_, err = ScheduleFunctions([]*pipeline.Function{f}, groups, env, target.Host())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "specialize_fail")
}

func TestBadComputeAtIsError(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))
	f := pipeline.NewFunction("f", []string{"x"}, g.Call(ir.Var("x")))
	g.ComputeAt("f", "nosuchvar")

	env := pipeline.Environment{}.Register(f, g)
	_, groups, err := pipeline.RealizationOrder([]*pipeline.Function{f}, env)
	require.NoError(t, err)
	_, err = ScheduleFunctions([]*pipeline.Function{f}, groups, env, target.Host())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compute_at")
}

func TestRemoveLoopsOverOutermostIdempotent(t *testing.T) {
	body := ir.NewProvide("f", []ir.Expr{ir.ConstInt(0)}, []ir.Expr{ir.Var("x")}, nil)
	s := ir.NewLetStmt("f.s0.__outermost.loop_min", ir.ConstInt(0),
		ir.NewLetStmt("f.s0.__outermost.loop_extent", ir.ConstInt(1),
			ir.NewFor("f.s0.__outermost", ir.ConstInt(0), ir.ConstInt(1), ir.Serial, ir.DeviceNone,
				ir.NewFor("f.s0.x", ir.ConstInt(0), ir.ConstInt(4), ir.Serial, ir.DeviceNone, body))))

	once := RemoveLoopsOverOutermost(s)
	twice := RemoveLoopsOverOutermost(once)
	assert.Nil(t, findFor(once, "f.s0.__outermost"))
	assert.True(t, ir.Equal(once, twice))
}

func TestSkipStagesGatesProduction(t *testing.T) {
	// realize g { produce g {...}; consume g { if p { call g } } }
	p := ir.NewVariable(ir.BoolT, "p")
	produce := ir.NewProducer("g",
		ir.NewProvide("g", []ir.Expr{ir.ConstInt(1)}, []ir.Expr{ir.ConstInt(0)}, nil))
	consume := ir.NewConsumer("g",
		&ir.IfThenElse{
			Condition: p,
			Then: ir.NewProvide("f",
				[]ir.Expr{ir.NewFuncCall(ir.Int32T, "g", []ir.Expr{ir.ConstInt(0)}, 0)},
				[]ir.Expr{ir.ConstInt(0)}, nil),
			Else: ir.NewProvide("f", []ir.Expr{ir.ConstInt(0)}, []ir.Expr{ir.ConstInt(0)}, nil),
		})
	s := ir.NewRealize("g", []ir.Type{ir.Int32T}, ir.MemAuto,
		ir.Region{{Min: ir.ConstInt(0), Extent: ir.ConstInt(1)}}, nil,
		ir.NewBlock(produce, consume))

	out := SkipStages(s, []string{"g", "f"})

	needed := findLet(out, "g.needed")
	require.NotNil(t, needed)
	assert.True(t, ir.Equal(p, needed.Value))

	prod := findProduce(out, "g")
	require.NotNil(t, prod)
	ite, ok := prod.Body.(*ir.IfThenElse)
	require.True(t, ok, "production is gated behind the predicate")
	assert.True(t, ir.Equal(ir.NewVariable(ir.BoolT, "g.needed"), ite.Condition))
}

func TestSkipStagesLeavesAlwaysUsedAlone(t *testing.T) {
	produce := ir.NewProducer("g",
		ir.NewProvide("g", []ir.Expr{ir.ConstInt(1)}, []ir.Expr{ir.ConstInt(0)}, nil))
	consume := ir.NewConsumer("g",
		ir.NewProvide("f",
			[]ir.Expr{ir.NewFuncCall(ir.Int32T, "g", []ir.Expr{ir.ConstInt(0)}, 0)},
			[]ir.Expr{ir.ConstInt(0)}, nil))
	s := ir.NewRealize("g", []ir.Type{ir.Int32T}, ir.MemAuto,
		ir.Region{{Min: ir.ConstInt(0), Extent: ir.ConstInt(1)}}, nil,
		ir.NewBlock(produce, consume))

	out := SkipStages(s, []string{"g", "f"})
	assert.Nil(t, findLet(out, "g.needed"))
}

// Scenario: h computed per iteration of a scanning consumer folds to a
// two-element circular buffer.
func TestStorageFoldingShrinksRealization(t *testing.T) {
	h := pipeline.NewFunction("h", []string{"x"}, ir.Var("x"))
	f := pipeline.NewFunction("f", []string{"x"},
		ir.NewAdd(h.Call(ir.NewSub(ir.Var("x"), ir.ConstInt(1))), h.Call(ir.Var("x"))))
	h.StoreRoot()
	h.ComputeAt("f", "x")

	env := pipeline.Environment{}.Register(f, h)
	s := buildNest(t, []*pipeline.Function{f}, env, map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(100)}},
	})

	out, err := FoldStorage(s, env)
	require.NoError(t, err)

	r := findRealize(out, "h")
	require.NotNil(t, r)
	require.Len(t, r.Bounds, 1)
	assert.True(t, ir.IsConstValue(r.Bounds[0].Min, 0))
	assert.True(t, ir.IsConstValue(r.Bounds[0].Extent, 2), "expected fold by 2, got %s", ir.PrintExpr(r.Bounds[0].Extent))

	// Accesses to h go through % 2.
	foundMod := false
	ir.Walk(out, func(n ir.Node) bool {
		if c, ok := n.(*ir.Call); ok && c.Kind == ir.FuncCall && c.Name == "h" {
			if _, isMod := c.Args[0].(*ir.Mod); isMod {
				foundMod = true
			}
		}
		return true
	})
	assert.True(t, foundMod, "calls to h should index modulo the fold factor")
}

func TestStorageFoldingSkipsParallelLoops(t *testing.T) {
	h := pipeline.NewFunction("h", []string{"x"}, ir.Var("x"))
	f := pipeline.NewFunction("f", []string{"x"},
		ir.NewAdd(h.Call(ir.NewSub(ir.Var("x"), ir.ConstInt(1))), h.Call(ir.Var("x"))))
	h.StoreRoot()
	h.ComputeAt("f", "x")
	f.Parallelize("x")

	env := pipeline.Environment{}.Register(f, h)
	s := buildNest(t, []*pipeline.Function{f}, env, map[string]ir.Region{
		"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(100)}},
	})

	out, err := FoldStorage(s, env)
	require.NoError(t, err)
	r := findRealize(out, "h")
	require.NotNil(t, r)
	assert.False(t, ir.IsConstValue(r.Bounds[0].Extent, 2),
		"parallel loops must not fold")
}

func TestRemoveUndefDeletesStores(t *testing.T) {
	s := ir.BlockOf(
		ir.NewStore("a", ir.Undef(ir.Int32T), ir.ConstInt(0), nil, ir.Alignment{}, ir.Binding{}),
		ir.NewStore("b", ir.ConstInt(1), ir.ConstInt(0), nil, ir.Alignment{}, ir.Binding{}),
	)
	out := RemoveUndef(s)
	stores := countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.Store)
		return ok
	})
	assert.Equal(t, 1, stores)
}

func TestRemoveUndefSelectBecomesPredicate(t *testing.T) {
	cond := ir.NewLT(ir.Var("x"), ir.ConstInt(4))
	val := ir.NewSelect(cond, ir.ConstInt(1), ir.Undef(ir.Int32T))
	s := ir.NewStore("a", val, ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	out := RemoveUndef(s)

	ite, ok := out.(*ir.IfThenElse)
	require.True(t, ok, "the undef branch becomes a guard, got %T", out)
	assert.True(t, ir.Equal(cond, ite.Condition))
	_, isStore := ite.Then.(*ir.Store)
	assert.True(t, isStore)
}

func TestUnifyDuplicateLets(t *testing.T) {
	v := ir.NewAdd(ir.Var("x"), ir.ConstInt(1))
	v2 := ir.NewAdd(ir.Var("x"), ir.ConstInt(1))
	inner := ir.NewLetStmt("b", v2,
		ir.NewEvaluate(ir.NewAdd(ir.NewVariable(ir.Int32T, "a"), ir.NewVariable(ir.Int32T, "b"))))
	s := ir.NewLetStmt("a", v, inner)

	out := UnifyDuplicateLets(s).(*ir.LetStmt)
	second := out.Body.(*ir.LetStmt)
	assert.True(t, ir.Equal(ir.NewVariable(ir.Int32T, "a"), second.Value),
		"the duplicate let should reference the first binding")
}

func TestVectorizeReplacesLoopWithRamp(t *testing.T) {
	load := ir.NewLoad(ir.Int32T, "in", ir.Var("x"), nil, ir.Alignment{},
		ir.Binding{Kind: ir.BindImage, Name: "in"})
	body := ir.NewStore("out", load, ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		f, ok := n.(*ir.For)
		return ok && f.ForType == ir.Vectorized
	}), "no residual vectorized loops")

	st, ok := out.(*ir.Store)
	require.True(t, ok, "got %T", out)
	ramp, ok := st.Index.(*ir.Ramp)
	require.True(t, ok, "store index is a ramp, got %T", st.Index)
	assert.Equal(t, 4, ramp.Lanes)
	assert.Equal(t, 4, st.Value.Type().Lanes)
}

func TestVectorizeNonConstantExtentFails(t *testing.T) {
	body := ir.NewStore("out", ir.ConstInt(0), ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	loop := ir.NewFor("x", ir.ConstInt(0), ir.Var("n"), ir.Vectorized, ir.DeviceNone, body)
	_, err := VectorizeLoops(loop, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constant")
}

func TestVectorizeIdempotentOnScalarCode(t *testing.T) {
	body := ir.NewStore("out", ir.ConstInt(1), ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Serial, ir.DeviceNone, body)
	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)
	assert.True(t, ir.SameAs(loop, out))
}

func TestVectorizeWidensScopedLets(t *testing.T) {
	letBody := ir.NewStore("out",
		ir.NewVariable(ir.Int32T, "t"), ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	body := ir.NewLetStmt("t",
		ir.NewMul(ir.Var("x"), ir.Var("x")), letBody)
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	let, ok := out.(*ir.LetStmt)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "t.widened.x", let.Name)
	assert.Equal(t, 4, let.Value.Type().Lanes)
}

func TestVectorizeInlinesInterleavedRampLets(t *testing.T) {
	letBody := ir.NewStore("out", ir.ConstInt(0),
		ir.NewVariable(ir.Int32T, "idx"), nil, ir.Alignment{}, ir.Binding{})
	body := ir.NewLetStmt("idx", ir.NewAdd(ir.Var("x"), ir.ConstInt(2)), letBody)
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	// The let disappears; the ramp flows straight into the store.
	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.LetStmt)
		return ok
	}))
	st, ok := out.(*ir.Store)
	require.True(t, ok)
	assert.True(t, st.Index.Type().IsVector())
}

func TestVectorizePredicatesDivergentIf(t *testing.T) {
	store := ir.NewStore("out", ir.ConstInt(1), ir.Var("x"), nil, ir.Alignment{}, ir.Binding{})
	body := &ir.IfThenElse{
		Condition: ir.NewLT(ir.Var("x"), ir.ConstInt(3)),
		Then:      store,
	}
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	var predicated *ir.Store
	ir.Walk(out, func(n ir.Node) bool {
		if s, ok := n.(*ir.Store); ok && !ir.IsConstTrue(s.Predicate) {
			predicated = s
		}
		return predicated == nil
	})
	require.NotNil(t, predicated, "the store should carry the branch predicate")
	assert.Equal(t, 4, predicated.Predicate.Type().Lanes)
}

func TestVectorizeAtomicBecomesVectorReduce(t *testing.T) {
	hist := ir.NewLoad(ir.Int32T, "hist", ir.Var("y"), nil, ir.Alignment{}, ir.Binding{})
	im := ir.NewLoad(ir.Int32T, "im", ir.Var("x"), nil, ir.Alignment{},
		ir.Binding{Kind: ir.BindImage, Name: "im"})
	store := ir.NewStore("hist", ir.NewAdd(hist, im), ir.Var("y"), nil, ir.Alignment{}, ir.Binding{})
	body := ir.NewAtomic("hist", "", store)
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(8), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	reduces := countNodes(out, func(n ir.Node) bool {
		v, ok := n.(*ir.VectorReduce)
		return ok && v.Op == ir.ReduceAdd
	})
	assert.Equal(t, 1, reduces, "the atomic update reduces horizontally:\n%s", ir.PrintStmt(out))

	// The store itself stays scalar.
	var st *ir.Store
	ir.Walk(out, func(n ir.Node) bool {
		if s, ok := n.(*ir.Store); ok {
			st = s
		}
		return st == nil
	})
	require.NotNil(t, st)
	assert.True(t, st.Value.Type().IsScalar())
}

func TestRemoveUnnecessaryAtomics(t *testing.T) {
	store := ir.NewStore("tmp", ir.ConstInt(1), ir.ConstInt(0), nil, ir.Alignment{}, ir.Binding{})
	atomic := ir.NewAtomic("tmp", "", store)
	alloc := ir.NewAllocate("tmp", ir.Int32T, ir.MemAuto,
		[]ir.Expr{ir.ConstInt(1)}, nil, atomic)

	out, err := VectorizeLoops(alloc, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.Atomic)
		return ok
	}), "atomics over thread-local allocations are dropped")
}

func TestImageChecksEmitLetsAndAsserts(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"},
		ir.NewAdd(
			&ir.Call{T: ir.Int32T, Name: "in", Args: []ir.Expr{ir.Var("x")}, Kind: ir.ImageLoad,
				Binding: ir.Binding{Kind: ir.BindImage, Name: "in"}},
			ir.ConstInt(1)))
	env := pipeline.Environment{}.Register(g)
	s := buildNest(t, []*pipeline.Function{g}, env, map[string]ir.Region{
		"g": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	})

	out, err := AddImageChecks(s, []*pipeline.Function{g}, env, nil, target.Host())
	require.NoError(t, err)

	assert.NotNil(t, findLet(out, "in.min.0.required"))
	assert.NotNil(t, findLet(out, "in.extent.0.required"))
	assert.NotNil(t, findLet(out, "in.stride.0.required"))
	assert.NotNil(t, findLet(out, "g.min.0.required"))

	asserts := countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.AssertStmt)
		return ok
	})
	assert.Greater(t, asserts, 0)

	// The inference-mode wrapper and rewrites are present.
	rewrites := countNodes(out, func(n ir.Node) bool {
		c, ok := n.(*ir.Call)
		return ok && c.Name == ir.IntrinsicRewriteBuffer
	})
	assert.Equal(t, 2, rewrites, "one rewrite_buffer per buffer")
}

func TestImageChecksRespectNoAssertsAndNoBoundsQuery(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))
	env := pipeline.Environment{}.Register(g)
	s := buildNest(t, []*pipeline.Function{g}, env, map[string]ir.Region{
		"g": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	})

	tgt := target.Host().With(target.NoAsserts).With(target.NoBoundsQuery)
	out, err := AddImageChecks(s, []*pipeline.Function{g}, env, nil, tgt)
	require.NoError(t, err)

	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.AssertStmt)
		return ok
	}))
	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		c, ok := n.(*ir.Call)
		return ok && c.Name == ir.IntrinsicRewriteBuffer
	}))
}

func TestImageChecksConstraintSubstitution(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"},
		ir.NewAdd(
			&ir.Call{T: ir.Int32T, Name: "in", Args: []ir.Expr{ir.Var("x")}, Kind: ir.ImageLoad,
				Binding: ir.Binding{Kind: ir.BindImage, Name: "in"}},
			ir.ConstInt(1)))
	env := pipeline.Environment{}.Register(g)
	s := buildNest(t, []*pipeline.Function{g}, env, map[string]ir.Region{
		"g": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(8)}},
	})

	params := map[string]*BufferParam{
		"in": {Name: "in", Dims: 1, Type: ir.Int32T, Constraints: []Constraint{
			{Field: "stride", Dim: 0, Value: ir.ConstInt(1)},
		}},
	}
	out, err := AddImageChecks(s, []*pipeline.Function{g}, env, params, target.Host())
	require.NoError(t, err)

	assert.NotNil(t, findLet(out, "in.stride.0.constrained"))

	// A constraint-violated assert references the constrained value.
	foundCheck := false
	ir.Walk(out, func(n ir.Node) bool {
		if a, ok := n.(*ir.AssertStmt); ok {
			if c, ok := a.Message.(*ir.Call); ok && c.Name == ir.ErrConstraintViolated {
				foundCheck = true
			}
		}
		return !foundCheck
	})
	assert.True(t, foundCheck)
}

func TestFullLowerPipeline(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x", "y"},
		ir.NewAdd(ir.Var("x"), ir.Var("y")))
	f := pipeline.NewFunction("f", []string{"x", "y"},
		ir.NewMul(g.Call(ir.Var("x"), ir.Var("y")), ir.ConstInt(2)))
	g.ComputeRoot()

	env := pipeline.Environment{}.Register(f, g)
	result, err := Lower("double", []*pipeline.Function{f}, env, Options{
		Target: target.Host(),
		OutputBounds: map[string]ir.Region{
			"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(4)}, {Min: ir.ConstInt(0), Extent: ir.ConstInt(4)}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Stmt)
	assert.Equal(t, []string{"g", "f"}, result.Order)
	assert.Equal(t, []string{"f"}, result.Outputs)

	// Fully lowered: no Provide or Realize survives.
	assert.Equal(t, 0, countNodes(result.Stmt, func(n ir.Node) bool {
		_, ok := n.(*ir.Provide)
		return ok
	}))
	assert.Equal(t, 0, countNodes(result.Stmt, func(n ir.Node) bool {
		_, ok := n.(*ir.Realize)
		return ok
	}))

	// g materialized as an allocation with stores, f stores to the
	// output buffer.
	allocs := 0
	storesToF := 0
	ir.Walk(result.Stmt, func(n ir.Node) bool {
		switch v := n.(type) {
		case *ir.Allocate:
			if v.Name == "g" {
				allocs++
			}
		case *ir.Store:
			if v.Name == "f" {
				storesToF++
			}
		}
		return true
	})
	assert.Equal(t, 1, allocs)
	assert.Equal(t, 1, storesToF)
}

func TestFullLowerVectorized(t *testing.T) {
	f := pipeline.NewFunction("f", []string{"x"},
		ir.NewMul(ir.Var("x"), ir.ConstInt(3)))
	f.Vectorize("x", ir.ConstInt(4))

	env := pipeline.Environment{}.Register(f)
	result, err := Lower("vec", []*pipeline.Function{f}, env, Options{
		Target: target.Host(),
		OutputBounds: map[string]ir.Region{
			"f": {{Min: ir.ConstInt(0), Extent: ir.ConstInt(16)}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, countNodes(result.Stmt, func(n ir.Node) bool {
		fl, ok := n.(*ir.For)
		return ok && fl.ForType == ir.Vectorized
	}))
	ramps := countNodes(result.Stmt, func(n ir.Node) bool {
		_, ok := n.(*ir.Ramp)
		return ok
	})
	assert.Greater(t, ramps, 0, "vector stores should use ramps:\n%s", ir.PrintStmt(result.Stmt))
}
