package ir

// qualifier prefixes every Variable and Let binder. Variables bound to
// buffer parameters or images keep their names; they refer to storage
// owned outside the function being qualified.
type qualifier struct {
	prefix string
}

func (q *qualifier) MutateExpr(e Expr) Expr {
	switch v := e.(type) {
	case *Variable:
		if v.Binding.IsBuffer() {
			return v
		}
		return &Variable{T: v.T, Name: q.prefix + v.Name, Binding: v.Binding}
	case *Let:
		value := q.MutateExpr(v.Value)
		body := q.MutateExpr(v.Body)
		return &Let{Name: q.prefix + v.Name, Value: value, Body: body}
	}
	return MutateExprChildren(q, e)
}

func (q *qualifier) MutateStmt(s Stmt) Stmt {
	return MutateStmtChildren(q, s)
}

// Qualify prefixes all variable names in value with prefix.
func Qualify(prefix string, value Expr) Expr {
	q := &qualifier{prefix: prefix}
	return q.MutateExpr(value)
}
