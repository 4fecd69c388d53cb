package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
	"raster/internal/pipeline"
)

func TestFlattenStorageLowersRealizeAndProvide(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))
	env := pipeline.Environment{}.Register(g)

	inner := ir.BlockOf(
		ir.NewProvide("g", []ir.Expr{ir.ConstInt(7)}, []ir.Expr{ir.Var("i")}, nil),
		ir.NewEvaluate(ir.NewFuncCall(ir.Int32T, "g", []ir.Expr{ir.Var("i")}, 0)),
	)
	s := ir.NewRealize("g", []ir.Type{ir.Int32T}, ir.MemAuto,
		ir.Region{{Min: ir.ConstInt(0), Extent: ir.ConstInt(10)}}, nil, inner)

	out := FlattenStorage(s, nil, env)

	var alloc *ir.Allocate
	ir.Walk(out, func(n ir.Node) bool {
		if a, ok := n.(*ir.Allocate); ok {
			alloc = a
		}
		return alloc == nil
	})
	require.NotNil(t, alloc)
	assert.Equal(t, "g", alloc.Name)
	require.Len(t, alloc.Extents, 1)
	assert.True(t, ir.IsConstValue(alloc.Extents[0], 10))

	stores := countNodes(out, func(n ir.Node) bool {
		st, ok := n.(*ir.Store)
		return ok && st.Name == "g"
	})
	loads := countNodes(out, func(n ir.Node) bool {
		l, ok := n.(*ir.Load)
		return ok && l.Name == "g"
	})
	assert.Equal(t, 1, stores)
	assert.Equal(t, 1, loads)

	// Nothing multidimensional survives.
	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.Provide)
		return ok
	}))
	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		_, ok := n.(*ir.Realize)
		return ok
	}))
}

func TestFlattenStorageTupleComponents(t *testing.T) {
	// A two-component realization flattens into two allocations with
	// per-component stores.
	inner := ir.NewProvide("g",
		[]ir.Expr{ir.ConstInt(1), ir.ConstInt(2)},
		[]ir.Expr{ir.Var("i")}, nil)
	s := ir.NewRealize("g", []ir.Type{ir.Int32T, ir.Int32T}, ir.MemAuto,
		ir.Region{{Min: ir.ConstInt(0), Extent: ir.ConstInt(4)}}, nil, inner)

	out := FlattenStorage(s, nil, pipeline.Environment{})

	names := map[string]bool{}
	ir.Walk(out, func(n ir.Node) bool {
		switch v := n.(type) {
		case *ir.Allocate:
			names["alloc:"+v.Name] = true
		case *ir.Store:
			names["store:"+v.Name] = true
		}
		return true
	})
	assert.True(t, names["alloc:g.0"])
	assert.True(t, names["alloc:g.1"])
	assert.True(t, names["store:g.0"])
	assert.True(t, names["store:g.1"])
}

func TestVectorizeScalarizesOpaqueControlFlow(t *testing.T) {
	// A branch containing a serial loop cannot be predicated; the
	// vector var falls back to a serial lane loop.
	innerLoop := ir.NewFor("j", ir.ConstInt(0), ir.Var("n"), ir.Serial, ir.DeviceNone,
		ir.NewStore("out", ir.ConstInt(1), ir.NewAdd(ir.Var("x"), ir.Var("j")), nil, ir.Alignment{}, ir.Binding{}))
	body := &ir.IfThenElse{
		Condition: ir.NewLT(ir.Var("x"), ir.ConstInt(3)),
		Then:      innerLoop,
	}
	loop := ir.NewFor("x", ir.ConstInt(0), ir.ConstInt(4), ir.Vectorized, ir.DeviceNone, body)

	out, err := VectorizeLoops(loop, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, countNodes(out, func(n ir.Node) bool {
		f, ok := n.(*ir.For)
		return ok && f.ForType == ir.Vectorized
	}))
	lane := findFor(out, "x")
	require.NotNil(t, lane, "scalarization reinstates a loop over the lane id:\n%s", ir.PrintStmt(out))
	assert.Equal(t, ir.Serial, lane.ForType)
	assert.True(t, ir.IsConstValue(lane.Extent, 4))
}
