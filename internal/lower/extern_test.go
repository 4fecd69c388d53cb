package lower

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

func findCall(s ir.Stmt, name string) *ir.Call {
	var out *ir.Call
	ir.Walk(s, func(n ir.Node) bool {
		if c, ok := n.(*ir.Call); ok && c.Name == name {
			out = c
		}
		return out == nil
	})
	return out
}

func TestExternProduceCallsAndChecksStatus(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))
	g.ComputeRoot()

	f := pipeline.NewFunction("f", []string{"x"}, ir.ConstInt(0))
	f.DefineExtern("blur_ext", []pipeline.ExternArgument{{FuncName: "g"}}, ir.DeviceNone)

	env := pipeline.Environment{}.Register(f, g)
	s, err := buildExternProduce(env, f, target.Host())
	require.NoError(t, err)

	call := findCall(s, "blur_ext")
	require.NotNil(t, call)
	assert.Equal(t, ir.Extern, call.Kind)

	// Buffer descriptors pass straight through when the levels match.
	require.Len(t, call.Args, 2)
	arg0, ok := call.Args[0].(*ir.Variable)
	require.True(t, ok)
	assert.Equal(t, "g.buffer", arg0.Name)

	// The return status is asserted.
	errCall := findCall(s, ir.ErrExternStageFailed)
	assert.NotNil(t, errCall)
	assert.Nil(t, findCall(s, ir.IntrinsicBufferCrop))

	// The extern loop markers survive.
	xLoop := findFor(s, "f.s0.x")
	require.NotNil(t, xLoop)
	assert.Equal(t, ir.ExternLoop, xLoop.ForType)
}

func TestExternProduceCropsFoldedInputs(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))
	g.StoreRoot()
	g.ComputeAt("f", "x")

	f := pipeline.NewFunction("f", []string{"x"}, ir.ConstInt(0))
	f.DefineExtern("blur_ext", []pipeline.ExternArgument{{FuncName: "g"}}, ir.DeviceNone)

	env := pipeline.Environment{}.Register(f, g)
	s, err := buildExternProduce(env, f, target.Host())
	require.NoError(t, err)

	// The folded input is cropped, and the crop is retired before the
	// status check.
	assert.NotNil(t, findCall(s, ir.IntrinsicBufferCrop))
	assert.NotNil(t, findCall(s, ir.IntrinsicRetireCrop))
	assert.NotNil(t, findLet(s, "g.0.tmp_buffer"))
}

func TestExternProduceRejectsInlinedInput(t *testing.T) {
	g := pipeline.NewFunction("g", []string{"x"}, ir.Var("x"))

	f := pipeline.NewFunction("f", []string{"x"}, ir.ConstInt(0))
	f.DefineExtern("blur_ext", []pipeline.ExternArgument{{FuncName: "g"}}, ir.DeviceNone)

	env := pipeline.Environment{}.Register(f, g)
	_, err := buildExternProduce(env, f, target.Host())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inlined")
}
