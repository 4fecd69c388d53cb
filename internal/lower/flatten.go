package lower

import (
	"fmt"

	"raster/internal/ir"
	"raster/internal/pipeline"
)

// storageFlattener lowers the multidimensional view of the IR to flat
// memory: Realize becomes Allocate plus min/stride lets, Provide
// becomes Store, and calls into realized functions become Loads.
// Output functions flatten against their buffer descriptor fields.
type storageFlattener struct {
	env pipeline.Environment
}

func dimField(name, field string, dim int) ir.Expr {
	return ir.Var(fmt.Sprintf("%s.%s.%d.flat", name, field, dim))
}

// flatIndex builds min/stride-based flat addressing for a site.
func (sf *storageFlattener) flatIndex(name string, args []ir.Expr) ir.Expr {
	idx := ir.Expr(ir.ConstInt(0))
	for i, a := range args {
		term := ir.NewMul(ir.NewSub(a, dimField(name, "min", i)), dimField(name, "stride", i))
		idx = ir.NewAdd(idx, term)
	}
	return ir.SimplifyExpr(idx)
}

func componentName(name string, idx, total int) string {
	if total <= 1 {
		return name
	}
	return fmt.Sprintf("%s.%d", name, idx)
}

func (sf *storageFlattener) MutateExpr(e ir.Expr) ir.Expr {
	c, ok := e.(*ir.Call)
	if !ok || (c.Kind != ir.FuncCall && c.Kind != ir.ImageLoad) {
		return ir.MutateExprChildren(sf, e)
	}
	args, _ := mutateArgs(sf, c.Args)
	binding := c.Binding
	total := 1
	if f, known := sf.env[c.Name]; known {
		total = len(f.Types())
	}
	if c.Kind == ir.ImageLoad {
		binding = ir.Binding{Kind: ir.BindImage, Name: c.Name}
	}
	buf := componentName(c.Name, c.ValueIndex, total)
	return ir.NewLoad(c.T, buf, sf.flatIndex(buf, args), nil, ir.Alignment{}, binding)
}

func (sf *storageFlattener) MutateStmt(s ir.Stmt) ir.Stmt {
	switch v := s.(type) {
	case *ir.Provide:
		values, _ := mutateArgs(sf, v.Values)
		args, _ := mutateArgs(sf, v.Args)
		pred := sf.MutateExpr(v.Predicate)
		var out ir.Stmt
		for i := len(values) - 1; i >= 0; i-- {
			buf := componentName(v.Name, i, len(values))
			st := ir.NewStore(buf, values[i], sf.flatIndex(buf, args), nil, ir.Alignment{}, ir.Binding{})
			out = ir.NewBlock(st, out)
		}
		if !ir.IsConstTrue(pred) {
			out = &ir.IfThenElse{Condition: pred, Then: out}
		}
		return out
	case *ir.Realize:
		return sf.visitRealize(v)
	}
	return ir.MutateStmtChildren(sf, s)
}

func (sf *storageFlattener) visitRealize(r *ir.Realize) ir.Stmt {
	body := sf.MutateStmt(r.Body)

	extents := make([]ir.Expr, len(r.Bounds))
	for i, b := range r.Bounds {
		extents[i] = b.Extent
	}

	for c := len(r.Types) - 1; c >= 0; c-- {
		buf := componentName(r.Name, c, len(r.Types))
		body = ir.NewAllocate(buf, r.Types[c], r.MemType, extents, r.Condition, body)
		// Dimension lets: dense row-major strides over the realized
		// region.
		for i := len(r.Bounds) - 1; i >= 0; i-- {
			stride := ir.Expr(ir.ConstInt(1))
			if i > 0 {
				stride = ir.NewMul(dimField(buf, "stride", i-1), r.Bounds[i-1].Extent)
			}
			body = ir.NewLetStmt(fmt.Sprintf("%s.stride.%d.flat", buf, i), stride, body)
			body = ir.NewLetStmt(fmt.Sprintf("%s.min.%d.flat", buf, i), r.Bounds[i].Min, body)
		}
	}
	return body
}

// wrapBufferDimLets defines the flat min/stride fields of an external
// buffer (an output or an input image) from its descriptor.
func wrapBufferDimLets(s ir.Stmt, name string, dims int) ir.Stmt {
	for i := dims - 1; i >= 0; i-- {
		s = ir.NewLetStmt(fmt.Sprintf("%s.stride.%d.flat", name, i), ir.BufferField(name, "stride", i), s)
		s = ir.NewLetStmt(fmt.Sprintf("%s.min.%d.flat", name, i), ir.BufferField(name, "min", i), s)
	}
	return s
}

// FlattenStorage lowers Realize/Provide/Call memory into Allocate,
// Store and Load over flat indices.
func FlattenStorage(s ir.Stmt, outputs []*pipeline.Function, env pipeline.Environment) ir.Stmt {
	sf := &storageFlattener{env: env}

	// External buffers referenced by image loads.
	images := make(map[string]int)
	ir.Walk(s, func(n ir.Node) bool {
		if c, ok := n.(*ir.Call); ok && c.Kind == ir.ImageLoad {
			if d, seen := images[c.Name]; !seen || len(c.Args) > d {
				images[c.Name] = len(c.Args)
			}
		}
		return true
	})

	out := sf.MutateStmt(s)
	for _, f := range outputs {
		for c := range f.Types() {
			out = wrapBufferDimLets(out, componentName(f.Name(), c, len(f.Types())), f.Dimensions())
		}
	}
	for name, dims := range images {
		out = wrapBufferDimLets(out, name, dims)
	}
	return out
}
