package lower

import (
	"raster/internal/ir"
)

// letUnifier collapses structurally equal let values within a scope to
// the first binding. Impure values, and loads from the buffer being
// produced, never unify.
type letUnifier struct {
	scope     []struct {
		value ir.Expr
		name  string
	}
	rewrites  map[string]string
	producing string
	isImpure  bool
}

func (lu *letUnifier) lookup(e ir.Expr) (string, bool) {
	for i := len(lu.scope) - 1; i >= 0; i-- {
		if ir.Equal(lu.scope[i].value, e) {
			return lu.scope[i].name, true
		}
	}
	return "", false
}

func (lu *letUnifier) MutateExpr(e ir.Expr) ir.Expr {
	if name, ok := lu.lookup(e); ok {
		return ir.NewVariable(e.Type(), name)
	}
	switch v := e.(type) {
	case *ir.Variable:
		if to, ok := lu.rewrites[v.Name]; ok {
			return ir.NewVariable(v.T, to)
		}
		return v
	case *ir.Call:
		if !v.IsPure() {
			lu.isImpure = true
		}
	case *ir.Load:
		if v.Name == lu.producing {
			lu.isImpure = true
		}
	}
	return ir.MutateExprChildren(lu, e)
}

func (lu *letUnifier) MutateStmt(s ir.Stmt) ir.Stmt {
	switch v := s.(type) {
	case *ir.ProducerConsumer:
		if v.IsProducer {
			old := lu.producing
			lu.producing = v.Name
			out := ir.MutateStmtChildren(lu, s)
			lu.producing = old
			return out
		}
	case *ir.LetStmt:
		lu.isImpure = false
		value := lu.MutateExpr(v.Value)

		shouldPop := false
		shouldErase := false
		if !lu.isImpure {
			if name, ok := lu.lookup(value); ok {
				value = ir.NewVariable(value.Type(), name)
				lu.rewrites[v.Name] = name
				shouldErase = true
			} else {
				lu.scope = append(lu.scope, struct {
					value ir.Expr
					name  string
				}{value, v.Name})
				shouldPop = true
			}
		}

		body := lu.MutateStmt(v.Body)

		if shouldPop {
			lu.scope = lu.scope[:len(lu.scope)-1]
		}
		if shouldErase {
			delete(lu.rewrites, v.Name)
		}

		if ir.SameAs(value, v.Value) && ir.SameAs(body, v.Body) {
			return v
		}
		return ir.NewLetStmt(v.Name, value, body)
	}
	return ir.MutateStmtChildren(lu, s)
}

// UnifyDuplicateLets rewrites repeated let values to reference the
// first equivalent binding.
func UnifyDuplicateLets(s ir.Stmt) ir.Stmt {
	lu := &letUnifier{rewrites: make(map[string]string)}
	return lu.MutateStmt(s)
}
