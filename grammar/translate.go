package grammar

import (
	"fmt"

	"raster/internal/ir"
	"raster/internal/pipeline"
)

// Pipeline is the translated form of a parsed program, ready for the
// lowering entry point.
type Pipeline struct {
	Name         string
	Outputs      []*pipeline.Function
	Env          pipeline.Environment
	OutputBounds map[string]ir.Region
}

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
}

// Translate converts a parsed program into pipeline functions and
// schedule directives.
func Translate(name string, p *Program) (*Pipeline, error) {
	t := &translator{
		funcs: make(map[string]*pipeline.Function),
	}
	out := &Pipeline{
		Name:         name,
		Env:          make(pipeline.Environment),
		OutputBounds: make(map[string]ir.Region),
	}

	for _, s := range p.Statements {
		switch {
		case s.Comment != nil:
		case s.Func != nil:
			f, err := t.translateFunc(s.Func)
			if err != nil {
				return nil, err
			}
			out.Env.Register(f)
		case s.Directive != nil:
			if err := t.applyDirective(s.Directive); err != nil {
				return nil, err
			}
		case s.Realize != nil:
			f, ok := t.funcs[s.Realize.Name]
			if !ok {
				return nil, fmt.Errorf("realize of undefined function %s", s.Realize.Name)
			}
			if len(s.Realize.Sizes) != f.Dimensions() {
				return nil, fmt.Errorf("realize %s needs %d sizes, got %d",
					f.Name(), f.Dimensions(), len(s.Realize.Sizes))
			}
			var region ir.Region
			for _, size := range s.Realize.Sizes {
				region = append(region, ir.Range{Min: ir.ConstInt(0), Extent: ir.ConstInt(size)})
			}
			out.Outputs = append(out.Outputs, f)
			out.OutputBounds[f.Name()] = region
		}
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("pipeline has no realize statement")
	}
	return out, nil
}

type translator struct {
	funcs map[string]*pipeline.Function
}

func (t *translator) translateFunc(fd *FuncDef) (*pipeline.Function, error) {
	if _, dup := t.funcs[fd.Name]; dup {
		return nil, fmt.Errorf("function %s defined twice", fd.Name)
	}
	params := make(map[string]bool, len(fd.Params))
	for _, p := range fd.Params {
		params[p] = true
	}
	body, err := t.translateExpr(fd.Body, params)
	if err != nil {
		return nil, fmt.Errorf("in func %s: %w", fd.Name, err)
	}
	f := pipeline.NewFunction(fd.Name, fd.Params, body)
	t.funcs[fd.Name] = f
	return f, nil
}

func (t *translator) translateExpr(e *Expr, params map[string]bool) (ir.Expr, error) {
	lhs, err := t.translateUnary(e.Left, params)
	if err != nil {
		return nil, err
	}
	return t.foldOps(lhs, e.Ops, params)
}

// foldOps folds the flat operator list by precedence climbing.
func (t *translator) foldOps(lhs ir.Expr, ops []*BinOp, params map[string]bool) (ir.Expr, error) {
	i := 0
	var rec func(lhs ir.Expr, minPrec int) (ir.Expr, error)
	rec = func(lhs ir.Expr, minPrec int) (ir.Expr, error) {
		for i < len(ops) && precedence[ops[i].Operator] >= minPrec {
			op := ops[i]
			i++
			rhs, err := t.translateUnary(op.Right, params)
			if err != nil {
				return nil, err
			}
			for i < len(ops) && precedence[ops[i].Operator] > precedence[op.Operator] {
				rhs, err = rec(rhs, precedence[ops[i].Operator])
				if err != nil {
					return nil, err
				}
			}
			lhs = applyBinOp(op.Operator, lhs, rhs)
		}
		return lhs, nil
	}
	return rec(lhs, 0)
}

func applyBinOp(op string, a, b ir.Expr) ir.Expr {
	switch op {
	case "+":
		return ir.NewAdd(a, b)
	case "-":
		return ir.NewSub(a, b)
	case "*":
		return ir.NewMul(a, b)
	case "/":
		return ir.NewDiv(a, b)
	case "%":
		return ir.NewMod(a, b)
	case "==":
		return ir.NewEQ(a, b)
	case "!=":
		return ir.NewNE(a, b)
	case "<":
		return ir.NewLT(a, b)
	case "<=":
		return ir.NewLE(a, b)
	case ">":
		return ir.NewGT(a, b)
	case ">=":
		return ir.NewGE(a, b)
	case "&&":
		return ir.NewAnd(a, b)
	case "||":
		return ir.NewOr(a, b)
	}
	panic("grammar: unknown operator " + op)
}

func (t *translator) translateUnary(u *Unary, params map[string]bool) (ir.Expr, error) {
	v, err := t.translatePrimary(u.Value, params)
	if err != nil {
		return nil, err
	}
	switch u.Operator {
	case "-":
		return ir.NewSub(ir.MakeZero(v.Type()), v), nil
	case "!":
		return ir.NewNot(v), nil
	}
	return v, nil
}

func (t *translator) translatePrimary(p *Primary, params map[string]bool) (ir.Expr, error) {
	switch {
	case p.Call != nil:
		return t.translateCall(p.Call, params)
	case p.Float != nil:
		return ir.NewFloatImm(ir.Float32T, *p.Float), nil
	case p.Number != nil:
		return ir.ConstInt(*p.Number), nil
	case p.Ident != nil:
		if !params[*p.Ident] {
			return nil, fmt.Errorf("unknown variable %s", *p.Ident)
		}
		return ir.Var(*p.Ident), nil
	case p.Parens != nil:
		return t.translateExpr(p.Parens, params)
	}
	return nil, fmt.Errorf("empty expression")
}

func (t *translator) translateCall(c *Call, params map[string]bool) (ir.Expr, error) {
	args := make([]ir.Expr, len(c.Args))
	for i, a := range c.Args {
		arg, err := t.translateExpr(a, params)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	switch c.Name {
	case "min":
		if len(args) != 2 {
			return nil, fmt.Errorf("min takes 2 arguments")
		}
		return ir.NewMin(args[0], args[1]), nil
	case "max":
		if len(args) != 2 {
			return nil, fmt.Errorf("max takes 2 arguments")
		}
		return ir.NewMax(args[0], args[1]), nil
	case "select":
		if len(args) != 3 {
			return nil, fmt.Errorf("select takes 3 arguments")
		}
		return ir.NewSelect(args[0], args[1], args[2]), nil
	case "likely":
		if len(args) != 1 {
			return nil, fmt.Errorf("likely takes 1 argument")
		}
		return ir.Likely(args[0]), nil
	}
	if f, ok := t.funcs[c.Name]; ok {
		if len(args) != f.Dimensions() {
			return nil, fmt.Errorf("call to %s needs %d arguments, got %d",
				c.Name, f.Dimensions(), len(args))
		}
		return f.Call(args...), nil
	}
	// Anything else is an input image.
	return &ir.Call{T: ir.Int32T, Name: c.Name, Args: args, Kind: ir.ImageLoad,
		Binding: ir.Binding{Kind: ir.BindImage, Name: c.Name}}, nil
}

func (t *translator) applyDirective(d *Directive) error {
	f, ok := t.funcs[d.Func]
	if !ok {
		return fmt.Errorf("directive on undefined function %s", d.Func)
	}

	ident := func(i int) (string, error) {
		if i >= len(d.Args) || d.Args[i].Ident == nil {
			return "", fmt.Errorf("%s.%s: argument %d must be a name", d.Func, d.Name, i+1)
		}
		return *d.Args[i].Ident, nil
	}
	num := func(i int) (int64, error) {
		if i >= len(d.Args) || d.Args[i].Number == nil {
			return 0, fmt.Errorf("%s.%s: argument %d must be a number", d.Func, d.Name, i+1)
		}
		return *d.Args[i].Number, nil
	}

	switch d.Name {
	case "compute_root":
		f.ComputeRoot()
	case "store_root":
		f.StoreRoot()
	case "compute_at":
		consumer, err := ident(0)
		if err != nil {
			return err
		}
		v, err := ident(1)
		if err != nil {
			return err
		}
		f.ComputeAt(consumer, v)
	case "store_at":
		consumer, err := ident(0)
		if err != nil {
			return err
		}
		v, err := ident(1)
		if err != nil {
			return err
		}
		f.StoreAt(consumer, v)
	case "vectorize":
		v, err := ident(0)
		if err != nil {
			return err
		}
		if len(d.Args) > 1 {
			n, err := num(1)
			if err != nil {
				return err
			}
			f.Vectorize(v, ir.ConstInt(n))
		} else {
			f.Vectorize(v)
		}
	case "parallel":
		v, err := ident(0)
		if err != nil {
			return err
		}
		f.Parallelize(v)
	case "unroll":
		v, err := ident(0)
		if err != nil {
			return err
		}
		f.Unroll(v)
	case "split":
		old, err := ident(0)
		if err != nil {
			return err
		}
		outer, err := ident(1)
		if err != nil {
			return err
		}
		inner, err := ident(2)
		if err != nil {
			return err
		}
		factor, err := num(3)
		if err != nil {
			return err
		}
		f.SplitDim(old, outer, inner, ir.ConstInt(factor), pipeline.TailAuto)
	case "fuse":
		inner, err := ident(0)
		if err != nil {
			return err
		}
		outer, err := ident(1)
		if err != nil {
			return err
		}
		fused, err := ident(2)
		if err != nil {
			return err
		}
		f.InitDef().FuseDims(inner, outer, fused)
	case "reorder":
		vars := make([]string, len(d.Args))
		for i := range d.Args {
			v, err := ident(i)
			if err != nil {
				return err
			}
			vars[i] = v
		}
		f.InitDef().ReorderDims(vars...)
	case "bound":
		v, err := ident(0)
		if err != nil {
			return err
		}
		min, err := num(1)
		if err != nil {
			return err
		}
		extent, err := num(2)
		if err != nil {
			return err
		}
		f.BoundDim(v, ir.ConstInt(min), ir.ConstInt(extent))
	case "fold_storage":
		v, err := ident(0)
		if err != nil {
			return err
		}
		n, err := num(1)
		if err != nil {
			return err
		}
		f.FoldStorage(v, ir.ConstInt(n), true)
	case "compute_with":
		other, err := ident(0)
		if err != nil {
			return err
		}
		v, err := ident(1)
		if err != nil {
			return err
		}
		f.ComputeWith(other, 0, v, pipeline.AlignAuto)
	default:
		return fmt.Errorf("unknown schedule directive %s.%s", d.Func, d.Name)
	}
	return nil
}
