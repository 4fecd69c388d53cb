package ir

import "fmt"

// Mutator rewrites IR bottom-up. Implementations handle the variants
// they care about and delegate everything else to MutateExprChildren /
// MutateStmtChildren, which rebuild a node from mutated children and
// return the original node (SameAs) when no child changed.
type Mutator interface {
	MutateExpr(e Expr) Expr
	MutateStmt(s Stmt) Stmt
}

func mutateExprList(m Mutator, es []Expr) ([]Expr, bool) {
	changed := false
	out := es
	for i, e := range es {
		ne := m.MutateExpr(e)
		if !SameAs(ne, e) {
			if !changed {
				out = make([]Expr, len(es))
				copy(out, es)
				changed = true
			}
			out[i] = ne
		}
	}
	return out, changed
}

func mutateRegion(m Mutator, r Region) (Region, bool) {
	changed := false
	out := r
	for i, rng := range r {
		nmin := m.MutateExpr(rng.Min)
		next := m.MutateExpr(rng.Extent)
		if !SameAs(nmin, rng.Min) || !SameAs(next, rng.Extent) {
			if !changed {
				out = make(Region, len(r))
				copy(out, r)
				changed = true
			}
			out[i] = Range{Min: nmin, Extent: next}
		}
	}
	return out, changed
}

func mutateBinary[T any](m Mutator, op Expr, a, b Expr, rebuild func(na, nb Expr) T) Expr {
	na := m.MutateExpr(a)
	nb := m.MutateExpr(b)
	if SameAs(na, a) && SameAs(nb, b) {
		return op
	}
	return any(rebuild(na, nb)).(Expr)
}

// MutateExprChildren applies m to every child of e and rebuilds e,
// returning e itself when every child comes back unchanged.
func MutateExprChildren(m Mutator, e Expr) Expr {
	switch v := e.(type) {
	case *IntImm, *UIntImm, *FloatImm, *StringImm, *Variable:
		return e
	case *Cast:
		nv := m.MutateExpr(v.Value)
		if SameAs(nv, v.Value) {
			return v
		}
		return &Cast{T: v.T, Value: nv}
	case *Reinterpret:
		nv := m.MutateExpr(v.Value)
		if SameAs(nv, v.Value) {
			return v
		}
		return &Reinterpret{T: v.T, Value: nv}
	case *Add:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Add { return &Add{A: a, B: b} })
	case *Sub:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Sub { return &Sub{A: a, B: b} })
	case *Mul:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Mul { return &Mul{A: a, B: b} })
	case *Div:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Div { return &Div{A: a, B: b} })
	case *Mod:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Mod { return &Mod{A: a, B: b} })
	case *Min:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Min { return &Min{A: a, B: b} })
	case *Max:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Max { return &Max{A: a, B: b} })
	case *EQ:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *EQ { return &EQ{A: a, B: b} })
	case *NE:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *NE { return &NE{A: a, B: b} })
	case *LT:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *LT { return &LT{A: a, B: b} })
	case *LE:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *LE { return &LE{A: a, B: b} })
	case *GT:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *GT { return &GT{A: a, B: b} })
	case *GE:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *GE { return &GE{A: a, B: b} })
	case *And:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *And { return &And{A: a, B: b} })
	case *Or:
		return mutateBinary(m, v, v.A, v.B, func(a, b Expr) *Or { return &Or{A: a, B: b} })
	case *Not:
		na := m.MutateExpr(v.A)
		if SameAs(na, v.A) {
			return v
		}
		return &Not{A: na}
	case *Select:
		nc := m.MutateExpr(v.Cond)
		nt := m.MutateExpr(v.TrueValue)
		nf := m.MutateExpr(v.FalseValue)
		if SameAs(nc, v.Cond) && SameAs(nt, v.TrueValue) && SameAs(nf, v.FalseValue) {
			return v
		}
		return &Select{Cond: nc, TrueValue: nt, FalseValue: nf}
	case *Load:
		ni := m.MutateExpr(v.Index)
		np := m.MutateExpr(v.Predicate)
		if SameAs(ni, v.Index) && SameAs(np, v.Predicate) {
			return v
		}
		return &Load{T: v.T, Name: v.Name, Index: ni, Predicate: np, Align: v.Align, Binding: v.Binding}
	case *Ramp:
		nb := m.MutateExpr(v.Base)
		ns := m.MutateExpr(v.Stride)
		if SameAs(nb, v.Base) && SameAs(ns, v.Stride) {
			return v
		}
		return &Ramp{Base: nb, Stride: ns, Lanes: v.Lanes}
	case *Broadcast:
		nv := m.MutateExpr(v.Value)
		if SameAs(nv, v.Value) {
			return v
		}
		return &Broadcast{Value: nv, Lanes: v.Lanes}
	case *Shuffle:
		nv, changed := mutateExprList(m, v.Vectors)
		if !changed {
			return v
		}
		return &Shuffle{Vectors: nv, Indices: v.Indices}
	case *VectorReduce:
		nv := m.MutateExpr(v.Value)
		if SameAs(nv, v.Value) {
			return v
		}
		return &VectorReduce{Op: v.Op, Value: nv, Lanes: v.Lanes}
	case *Let:
		nv := m.MutateExpr(v.Value)
		nb := m.MutateExpr(v.Body)
		if SameAs(nv, v.Value) && SameAs(nb, v.Body) {
			return v
		}
		return &Let{Name: v.Name, Value: nv, Body: nb}
	case *Call:
		na, changed := mutateExprList(m, v.Args)
		if !changed {
			return v
		}
		return &Call{T: v.T, Name: v.Name, Args: na, Kind: v.Kind, ValueIndex: v.ValueIndex, Binding: v.Binding}
	}
	panic(fmt.Sprintf("ir: unexpected expression %T in mutator", e))
}

// MutateStmtChildren applies m to every child of s and rebuilds s,
// returning s itself when every child comes back unchanged.
func MutateStmtChildren(m Mutator, s Stmt) Stmt {
	switch v := s.(type) {
	case *LetStmt:
		nv := m.MutateExpr(v.Value)
		nb := m.MutateStmt(v.Body)
		if SameAs(nv, v.Value) && SameAs(nb, v.Body) {
			return v
		}
		return &LetStmt{Name: v.Name, Value: nv, Body: nb}
	case *AssertStmt:
		nc := m.MutateExpr(v.Condition)
		nm := m.MutateExpr(v.Message)
		if SameAs(nc, v.Condition) && SameAs(nm, v.Message) {
			return v
		}
		return &AssertStmt{Condition: nc, Message: nm}
	case *ProducerConsumer:
		nb := m.MutateStmt(v.Body)
		if SameAs(nb, v.Body) {
			return v
		}
		return &ProducerConsumer{Name: v.Name, IsProducer: v.IsProducer, Body: nb}
	case *For:
		nmin := m.MutateExpr(v.Min)
		next := m.MutateExpr(v.Extent)
		nb := m.MutateStmt(v.Body)
		if SameAs(nmin, v.Min) && SameAs(next, v.Extent) && SameAs(nb, v.Body) {
			return v
		}
		return &For{Name: v.Name, Min: nmin, Extent: next, ForType: v.ForType, DeviceAPI: v.DeviceAPI, Body: nb}
	case *Store:
		nv := m.MutateExpr(v.Value)
		ni := m.MutateExpr(v.Index)
		np := m.MutateExpr(v.Predicate)
		if SameAs(nv, v.Value) && SameAs(ni, v.Index) && SameAs(np, v.Predicate) {
			return v
		}
		return &Store{Name: v.Name, Value: nv, Index: ni, Predicate: np, Align: v.Align, Binding: v.Binding}
	case *Provide:
		nvs, vch := mutateExprList(m, v.Values)
		nas, ach := mutateExprList(m, v.Args)
		np := m.MutateExpr(v.Predicate)
		if !vch && !ach && SameAs(np, v.Predicate) {
			return v
		}
		return &Provide{Name: v.Name, Values: nvs, Args: nas, Predicate: np}
	case *Allocate:
		nes, ech := mutateExprList(m, v.Extents)
		nc := m.MutateExpr(v.Condition)
		var nnew Expr
		newch := false
		if v.New != nil {
			nnew = m.MutateExpr(v.New)
			newch = !SameAs(nnew, v.New)
		}
		nb := m.MutateStmt(v.Body)
		if !ech && !newch && SameAs(nc, v.Condition) && SameAs(nb, v.Body) {
			return v
		}
		return &Allocate{Name: v.Name, T: v.T, MemType: v.MemType, Extents: nes,
			Condition: nc, Body: nb, New: nnew, FreeFn: v.FreeFn, Padding: v.Padding}
	case *Free:
		return v
	case *Realize:
		nbd, bch := mutateRegion(m, v.Bounds)
		nc := m.MutateExpr(v.Condition)
		nb := m.MutateStmt(v.Body)
		if !bch && SameAs(nc, v.Condition) && SameAs(nb, v.Body) {
			return v
		}
		return &Realize{Name: v.Name, Types: v.Types, MemType: v.MemType, Bounds: nbd, Condition: nc, Body: nb}
	case *Block:
		nf := m.MutateStmt(v.First)
		nr := m.MutateStmt(v.Rest)
		if SameAs(nf, v.First) && SameAs(nr, v.Rest) {
			return v
		}
		return &Block{First: nf, Rest: nr}
	case *Fork:
		nf := m.MutateStmt(v.First)
		nr := m.MutateStmt(v.Rest)
		if SameAs(nf, v.First) && SameAs(nr, v.Rest) {
			return v
		}
		return &Fork{First: nf, Rest: nr}
	case *IfThenElse:
		nc := m.MutateExpr(v.Condition)
		nt := m.MutateStmt(v.Then)
		var ne Stmt
		ech := false
		if v.Else != nil {
			ne = m.MutateStmt(v.Else)
			ech = !SameAs(ne, v.Else)
		}
		if SameAs(nc, v.Condition) && SameAs(nt, v.Then) && !ech {
			return v
		}
		return &IfThenElse{Condition: nc, Then: nt, Else: ne}
	case *Evaluate:
		nv := m.MutateExpr(v.Value)
		if SameAs(nv, v.Value) {
			return v
		}
		return &Evaluate{Value: nv}
	case *Prefetch:
		nbd, bch := mutateRegion(m, v.Bounds)
		nc := m.MutateExpr(v.Condition)
		nb := m.MutateStmt(v.Body)
		if !bch && SameAs(nc, v.Condition) && SameAs(nb, v.Body) {
			return v
		}
		return &Prefetch{Name: v.Name, Types: v.Types, Bounds: nbd, Directive: v.Directive, Condition: nc, Body: nb}
	case *Atomic:
		nb := m.MutateStmt(v.Body)
		if SameAs(nb, v.Body) {
			return v
		}
		return &Atomic{ProducerName: v.ProducerName, MutexName: v.MutexName, Body: nb}
	case *Acquire:
		ns := m.MutateExpr(v.Semaphore)
		ncnt := m.MutateExpr(v.Count)
		nb := m.MutateStmt(v.Body)
		if SameAs(ns, v.Semaphore) && SameAs(ncnt, v.Count) && SameAs(nb, v.Body) {
			return v
		}
		return &Acquire{Semaphore: ns, Count: ncnt, Body: nb}
	}
	panic(fmt.Sprintf("ir: unexpected statement %T in mutator", s))
}
