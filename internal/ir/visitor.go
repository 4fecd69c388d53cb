package ir

import "fmt"

// Walk performs a read-only pre-order traversal of n, calling visit for
// every node. If visit returns false the node's children are skipped.
// Callers dispatch on node variants with a type switch.
func Walk(n Node, visit func(Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	switch v := n.(type) {
	case *IntImm, *UIntImm, *FloatImm, *StringImm, *Variable, *Free:
	case *Cast:
		Walk(v.Value, visit)
	case *Reinterpret:
		Walk(v.Value, visit)
	case *Add:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Sub:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Mul:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Div:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Mod:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Min:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Max:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *EQ:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *NE:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *LT:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *LE:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *GT:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *GE:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *And:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Or:
		Walk(v.A, visit)
		Walk(v.B, visit)
	case *Not:
		Walk(v.A, visit)
	case *Select:
		Walk(v.Cond, visit)
		Walk(v.TrueValue, visit)
		Walk(v.FalseValue, visit)
	case *Load:
		Walk(v.Index, visit)
		Walk(v.Predicate, visit)
	case *Ramp:
		Walk(v.Base, visit)
		Walk(v.Stride, visit)
	case *Broadcast:
		Walk(v.Value, visit)
	case *Shuffle:
		for _, vec := range v.Vectors {
			Walk(vec, visit)
		}
	case *VectorReduce:
		Walk(v.Value, visit)
	case *Let:
		Walk(v.Value, visit)
		Walk(v.Body, visit)
	case *Call:
		for _, a := range v.Args {
			Walk(a, visit)
		}
	case *LetStmt:
		Walk(v.Value, visit)
		Walk(v.Body, visit)
	case *AssertStmt:
		Walk(v.Condition, visit)
		Walk(v.Message, visit)
	case *ProducerConsumer:
		Walk(v.Body, visit)
	case *For:
		Walk(v.Min, visit)
		Walk(v.Extent, visit)
		Walk(v.Body, visit)
	case *Store:
		Walk(v.Value, visit)
		Walk(v.Index, visit)
		Walk(v.Predicate, visit)
	case *Provide:
		for _, val := range v.Values {
			Walk(val, visit)
		}
		for _, a := range v.Args {
			Walk(a, visit)
		}
		Walk(v.Predicate, visit)
	case *Allocate:
		for _, e := range v.Extents {
			Walk(e, visit)
		}
		Walk(v.Condition, visit)
		if v.New != nil {
			Walk(v.New, visit)
		}
		Walk(v.Body, visit)
	case *Realize:
		for _, r := range v.Bounds {
			Walk(r.Min, visit)
			Walk(r.Extent, visit)
		}
		Walk(v.Condition, visit)
		Walk(v.Body, visit)
	case *Block:
		Walk(v.First, visit)
		Walk(v.Rest, visit)
	case *Fork:
		Walk(v.First, visit)
		Walk(v.Rest, visit)
	case *IfThenElse:
		Walk(v.Condition, visit)
		Walk(v.Then, visit)
		if v.Else != nil {
			Walk(v.Else, visit)
		}
	case *Evaluate:
		Walk(v.Value, visit)
	case *Prefetch:
		for _, r := range v.Bounds {
			Walk(r.Min, visit)
			Walk(r.Extent, visit)
		}
		Walk(v.Condition, visit)
		Walk(v.Body, visit)
	case *Atomic:
		Walk(v.Body, visit)
	case *Acquire:
		Walk(v.Semaphore, visit)
		Walk(v.Count, visit)
		Walk(v.Body, visit)
	default:
		panic(fmt.Sprintf("ir: unexpected node %T in Walk", n))
	}
}

// UsesVar reports whether any free reference to name occurs in n.
// Rebinding lets and fors hide the name in their bodies.
func UsesVar(n Node, name string) bool {
	found := false
	var scope Scope[struct{}]
	var walk func(Node) bool
	walk = func(nd Node) bool {
		if found {
			return false
		}
		switch v := nd.(type) {
		case *Variable:
			if v.Name == name && !scope.Contains(name) {
				found = true
			}
		case *Let:
			Walk(v.Value, walk)
			b := scope.Bind(v.Name, struct{}{})
			Walk(v.Body, walk)
			b.Release()
			return false
		case *LetStmt:
			Walk(v.Value, walk)
			b := scope.Bind(v.Name, struct{}{})
			Walk(v.Body, walk)
			b.Release()
			return false
		case *For:
			Walk(v.Min, walk)
			Walk(v.Extent, walk)
			b := scope.Bind(v.Name, struct{}{})
			Walk(v.Body, walk)
			b.Release()
			return false
		}
		return true
	}
	Walk(n, walk)
	return found
}

// UsesVars reports whether n contains a Variable named in the scope;
// lets and fors that rebind the name are not taken into account.
func UsesVars[T any](n Node, vars *Scope[T]) bool {
	found := false
	Walk(n, func(nd Node) bool {
		if found {
			return false
		}
		if v, ok := nd.(*Variable); ok && vars.Contains(v.Name) {
			found = true
		}
		return true
	})
	return found
}

// CallsFunc reports whether n contains a FuncCall or buffer reference
// to the named function.
func CallsFunc(n Node, name string) bool {
	found := false
	Walk(n, func(nd Node) bool {
		if found {
			return false
		}
		switch v := nd.(type) {
		case *Call:
			if v.Name == name && v.Kind == FuncCall {
				found = true
			}
		case *Variable:
			if v.Binding.IsBuffer() && v.Binding.Name == name {
				found = true
			}
		}
		return true
	})
	return found
}

// IsPureExpr reports whether e contains no impure calls.
func IsPureExpr(e Expr) bool {
	pure := true
	Walk(e, func(nd Node) bool {
		if c, ok := nd.(*Call); ok && !c.IsPure() {
			pure = false
		}
		return pure
	})
	return pure
}
