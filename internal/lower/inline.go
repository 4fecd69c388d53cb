package lower

import (
	"raster/internal/errors"
	"raster/internal/ir"
	"raster/internal/pipeline"
)

// validateInlinedSchedule rejects schedules that are meaningless on an
// inlined function.
func validateInlinedSchedule(f *pipeline.Function) error {
	if !f.Schedule().StoreLevel.IsInlined() {
		return errors.New(errors.ErrorBadStoreAt,
			"a function computed inline cannot have a storage level").
			InFunc(f.Name()).Build()
	}
	if len(f.InitDef().Specializations) > 0 {
		return errors.New(errors.ErrorBadComputeAt,
			"a function computed inline must not have specializations").
			InFunc(f.Name()).Build()
	}
	for _, d := range f.InitDef().Schedule.Dims {
		if d.ForType != ir.Serial {
			return errors.New(errors.ErrorBadComputeAt,
				"dimension "+d.Var+" of an inlined function cannot be scheduled").
				InFunc(f.Name()).OnDirective(d.Var).Build()
		}
	}
	return nil
}

// inliner rewrites every call to the function as a let-bound copy of
// its value.
type inliner struct {
	f *pipeline.Function
}

func (in *inliner) MutateExpr(e ir.Expr) ir.Expr {
	c, ok := e.(*ir.Call)
	if !ok || c.Kind != ir.FuncCall || c.Name != in.f.Name() {
		return ir.MutateExprChildren(in, e)
	}

	args := make([]ir.Expr, len(c.Args))
	for i, a := range c.Args {
		args[i] = in.MutateExpr(a)
	}

	body := ir.Qualify(in.f.Name()+".", in.f.InitDef().Values[c.ValueIndex])
	funcArgs := in.f.ArgNames()
	for i, a := range args {
		name := in.f.Name() + "." + funcArgs[i]
		switch a.(type) {
		case *ir.IntImm, *ir.UIntImm, *ir.FloatImm, *ir.Variable:
			body = ir.SubstituteExpr(name, a, body)
		default:
			body = ir.NewLet(name, a, body)
		}
	}
	// The body may itself call the function under a different site.
	return in.MutateExpr(body)
}

func (in *inliner) MutateStmt(s ir.Stmt) ir.Stmt {
	return ir.MutateStmtChildren(in, s)
}

// InlineFunctionInStmt substitutes f's definition at every call site in
// s. f must be a pure single-definition function.
func InlineFunctionInStmt(s ir.Stmt, f *pipeline.Function) (ir.Stmt, error) {
	if err := validateInlinedSchedule(f); err != nil {
		return nil, err
	}
	in := &inliner{f: f}
	return in.MutateStmt(s), nil
}

// InlineFunctionInExpr substitutes f's definition in an expression.
func InlineFunctionInExpr(e ir.Expr, f *pipeline.Function) ir.Expr {
	in := &inliner{f: f}
	return in.MutateExpr(e)
}
