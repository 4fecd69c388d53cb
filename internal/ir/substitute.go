package ir

// substituter replaces free references to mapped names, staying out of
// Let/LetStmt/For bodies that rebind them.
type substituter struct {
	replace map[string]Expr
	hidden  Scope[struct{}]
}

func (s *substituter) MutateExpr(e Expr) Expr {
	switch v := e.(type) {
	case *Variable:
		if r, ok := s.replace[v.Name]; ok && !s.hidden.Contains(v.Name) {
			return r
		}
		return v
	case *Let:
		value := s.MutateExpr(v.Value)
		b := s.hidden.Bind(v.Name, struct{}{})
		body := s.MutateExpr(v.Body)
		b.Release()
		if SameAs(value, v.Value) && SameAs(body, v.Body) {
			return v
		}
		return &Let{Name: v.Name, Value: value, Body: body}
	}
	return MutateExprChildren(s, e)
}

func (s *substituter) MutateStmt(st Stmt) Stmt {
	switch v := st.(type) {
	case *LetStmt:
		value := s.MutateExpr(v.Value)
		b := s.hidden.Bind(v.Name, struct{}{})
		body := s.MutateStmt(v.Body)
		b.Release()
		if SameAs(value, v.Value) && SameAs(body, v.Body) {
			return v
		}
		return &LetStmt{Name: v.Name, Value: value, Body: body}
	case *For:
		min := s.MutateExpr(v.Min)
		extent := s.MutateExpr(v.Extent)
		b := s.hidden.Bind(v.Name, struct{}{})
		body := s.MutateStmt(v.Body)
		b.Release()
		if SameAs(min, v.Min) && SameAs(extent, v.Extent) && SameAs(body, v.Body) {
			return v
		}
		return &For{Name: v.Name, Min: min, Extent: extent, ForType: v.ForType, DeviceAPI: v.DeviceAPI, Body: body}
	}
	return MutateStmtChildren(s, st)
}

// SubstituteExpr replaces free references to name in e.
func SubstituteExpr(name string, replacement Expr, e Expr) Expr {
	s := &substituter{replace: map[string]Expr{name: replacement}}
	return s.MutateExpr(e)
}

// SubstituteStmt replaces free references to name in st.
func SubstituteStmt(name string, replacement Expr, st Stmt) Stmt {
	s := &substituter{replace: map[string]Expr{name: replacement}}
	return s.MutateStmt(st)
}

// SubstituteMapExpr performs simultaneous substitution of every mapped
// name in e.
func SubstituteMapExpr(m map[string]Expr, e Expr) Expr {
	if len(m) == 0 {
		return e
	}
	s := &substituter{replace: m}
	return s.MutateExpr(e)
}

// SubstituteMapStmt performs simultaneous substitution of every mapped
// name in st.
func SubstituteMapStmt(m map[string]Expr, st Stmt) Stmt {
	if len(m) == 0 {
		return st
	}
	s := &substituter{replace: m}
	return s.MutateStmt(st)
}

// exprSubstituter replaces subtrees structurally equal to find.
type exprSubstituter struct {
	find        Expr
	replacement Expr
}

func (s *exprSubstituter) MutateExpr(e Expr) Expr {
	if Equal(e, s.find) {
		return s.replacement
	}
	return MutateExprChildren(s, e)
}

func (s *exprSubstituter) MutateStmt(st Stmt) Stmt {
	return MutateStmtChildren(s, st)
}

// SubstituteExprTree replaces every subtree of e structurally equal to
// find with replacement. Linear in node size per match attempt; use
// sparingly.
func SubstituteExprTree(find, replacement, e Expr) Expr {
	s := &exprSubstituter{find: find, replacement: replacement}
	return s.MutateExpr(e)
}

// SubstituteStmtTree is SubstituteExprTree over a statement.
func SubstituteStmtTree(find, replacement Expr, st Stmt) Stmt {
	s := &exprSubstituter{find: find, replacement: replacement}
	return s.MutateStmt(st)
}
