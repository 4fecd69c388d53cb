package grammar

import (
	"testing"

	"github.com/alecthomas/participle/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raster/internal/ir"
)

func TestParseSimplePipeline(t *testing.T) {
	src := `
// a two-stage pipeline
func g(x, y) = x + y
func f(x, y) = g(x, y - 1) + g(x, y + 1)
g.compute_at(f, x)
g.store_at(f, y)
realize f(8, 8)
`
	program, err := ParseString("test.rst", src)
	require.NoError(t, err)
	require.Len(t, program.Statements, 6)

	assert.NotNil(t, program.Statements[0].Comment)
	assert.Equal(t, "g", program.Statements[1].Func.Name)
	assert.Equal(t, []string{"x", "y"}, program.Statements[1].Func.Params)
	assert.Equal(t, "compute_at", program.Statements[3].Directive.Name)
	assert.Equal(t, "f", program.Statements[5].Realize.Name)
	assert.Equal(t, []int64{8, 8}, program.Statements[5].Realize.Sizes)
}

func TestParseErrorHasPosition(t *testing.T) {
	_, err := ParseString("bad.rst", "func f(x = 3")
	require.Error(t, err)
	pe, ok := err.(participle.Error)
	require.True(t, ok)
	assert.Equal(t, 1, pe.Position().Line)
}

func TestPrinterRoundTrips(t *testing.T) {
	src := "func f(x) = x * 2\nrealize f(4)\n"
	program, err := ParseString("p.rst", src)
	require.NoError(t, err)
	printed := program.String()
	reparsed, err := ParseString("p2.rst", printed)
	require.NoError(t, err)
	assert.Equal(t, len(program.Statements), len(reparsed.Statements))
}

func TestTranslateBuildsFunctions(t *testing.T) {
	src := `
func g(x) = in(x) + 1
func f(x) = g(x - 1) + g(x + 1)
g.compute_root()
realize f(16)
`
	program, err := ParseString("t.rst", src)
	require.NoError(t, err)

	pipe, err := Translate("t", program)
	require.NoError(t, err)
	require.Len(t, pipe.Outputs, 1)
	assert.Equal(t, "f", pipe.Outputs[0].Name())
	assert.Contains(t, pipe.Env, "g")

	// g reads the input image.
	g := pipe.Env["g"]
	foundImage := false
	ir.Walk(g.InitDef().Values[0], func(n ir.Node) bool {
		if c, ok := n.(*ir.Call); ok && c.Kind == ir.ImageLoad && c.Name == "in" {
			foundImage = true
		}
		return true
	})
	assert.True(t, foundImage)

	// f calls g.
	f := pipe.Outputs[0]
	assert.True(t, ir.CallsFunc(f.InitDef().Values[0], "g"))

	region := pipe.OutputBounds["f"]
	require.Len(t, region, 1)
	assert.True(t, ir.IsConstValue(region[0].Extent, 16))
}

func TestTranslatePrecedence(t *testing.T) {
	src := "func f(x) = x + x * 2\nrealize f(4)\n"
	program, err := ParseString("p.rst", src)
	require.NoError(t, err)
	pipe, err := Translate("p", program)
	require.NoError(t, err)

	add, ok := pipe.Outputs[0].InitDef().Values[0].(*ir.Add)
	require.True(t, ok, "expected + at the top, got %T", pipe.Outputs[0].InitDef().Values[0])
	_, ok = add.B.(*ir.Mul)
	assert.True(t, ok, "expected * nested under +")
}

func TestTranslateRejectsUnknownVariable(t *testing.T) {
	src := "func f(x) = y\nrealize f(4)\n"
	program, err := ParseString("p.rst", src)
	require.NoError(t, err)
	_, err = Translate("p", program)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown variable")
}

func TestTranslateDirectives(t *testing.T) {
	src := `
func f(x, y) = x + y
f.split(x, xo, xi, 8)
f.vectorize(xi)
f.parallel(y)
f.bound(x, 0, 64)
realize f(64, 64)
`
	program, err := ParseString("d.rst", src)
	require.NoError(t, err)
	pipe, err := Translate("d", program)
	require.NoError(t, err)

	f := pipe.Outputs[0]
	require.Len(t, f.InitDef().Schedule.Splits, 1)
	dims := f.InitDef().Schedule.Dims
	var foundVec, foundPar bool
	for _, d := range dims {
		if d.Var == "xi" && d.ForType == ir.Vectorized {
			foundVec = true
		}
		if d.Var == "y" && d.ForType == ir.Parallel {
			foundPar = true
		}
	}
	assert.True(t, foundVec)
	assert.True(t, foundPar)
	require.Len(t, f.Schedule().Bounds, 1)
}

func TestTranslateRequiresRealize(t *testing.T) {
	src := "func f(x) = x\n"
	program, err := ParseString("r.rst", src)
	require.NoError(t, err)
	_, err = Translate("r", program)
	require.Error(t, err)
}
