package ir

// Equal reports deep structural equality of two nodes. Variable
// bindings participate in identity; pointer-identical subtrees compare
// equal without recursion.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if SameAs(a, b) {
		return true
	}
	switch x := a.(type) {
	case *IntImm:
		y, ok := b.(*IntImm)
		return ok && x.T == y.T && x.Value == y.Value
	case *UIntImm:
		y, ok := b.(*UIntImm)
		return ok && x.T == y.T && x.Value == y.Value
	case *FloatImm:
		y, ok := b.(*FloatImm)
		return ok && x.T == y.T && x.Value == y.Value
	case *StringImm:
		y, ok := b.(*StringImm)
		return ok && x.Value == y.Value
	case *Variable:
		y, ok := b.(*Variable)
		return ok && x.T == y.T && x.Name == y.Name && x.Binding == y.Binding
	case *Cast:
		y, ok := b.(*Cast)
		return ok && x.T == y.T && Equal(x.Value, y.Value)
	case *Reinterpret:
		y, ok := b.(*Reinterpret)
		return ok && x.T == y.T && Equal(x.Value, y.Value)
	case *Add:
		y, ok := b.(*Add)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Sub:
		y, ok := b.(*Sub)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Mul:
		y, ok := b.(*Mul)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Div:
		y, ok := b.(*Div)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Mod:
		y, ok := b.(*Mod)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Min:
		y, ok := b.(*Min)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Max:
		y, ok := b.(*Max)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *EQ:
		y, ok := b.(*EQ)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *NE:
		y, ok := b.(*NE)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *LT:
		y, ok := b.(*LT)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *LE:
		y, ok := b.(*LE)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *GT:
		y, ok := b.(*GT)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *GE:
		y, ok := b.(*GE)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *And:
		y, ok := b.(*And)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Or:
		y, ok := b.(*Or)
		return ok && Equal(x.A, y.A) && Equal(x.B, y.B)
	case *Not:
		y, ok := b.(*Not)
		return ok && Equal(x.A, y.A)
	case *Select:
		y, ok := b.(*Select)
		return ok && Equal(x.Cond, y.Cond) && Equal(x.TrueValue, y.TrueValue) && Equal(x.FalseValue, y.FalseValue)
	case *Load:
		y, ok := b.(*Load)
		return ok && x.T == y.T && x.Name == y.Name && x.Binding == y.Binding &&
			Equal(x.Index, y.Index) && Equal(x.Predicate, y.Predicate)
	case *Ramp:
		y, ok := b.(*Ramp)
		return ok && x.Lanes == y.Lanes && Equal(x.Base, y.Base) && Equal(x.Stride, y.Stride)
	case *Broadcast:
		y, ok := b.(*Broadcast)
		return ok && x.Lanes == y.Lanes && Equal(x.Value, y.Value)
	case *Shuffle:
		y, ok := b.(*Shuffle)
		if !ok || len(x.Vectors) != len(y.Vectors) || len(x.Indices) != len(y.Indices) {
			return false
		}
		for i := range x.Indices {
			if x.Indices[i] != y.Indices[i] {
				return false
			}
		}
		for i := range x.Vectors {
			if !Equal(x.Vectors[i], y.Vectors[i]) {
				return false
			}
		}
		return true
	case *VectorReduce:
		y, ok := b.(*VectorReduce)
		return ok && x.Op == y.Op && x.Lanes == y.Lanes && Equal(x.Value, y.Value)
	case *Let:
		y, ok := b.(*Let)
		return ok && x.Name == y.Name && Equal(x.Value, y.Value) && Equal(x.Body, y.Body)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.T != y.T || x.Name != y.Name || x.Kind != y.Kind ||
			x.ValueIndex != y.ValueIndex || x.Binding != y.Binding ||
			len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *LetStmt:
		y, ok := b.(*LetStmt)
		return ok && x.Name == y.Name && Equal(x.Value, y.Value) && Equal(x.Body, y.Body)
	case *AssertStmt:
		y, ok := b.(*AssertStmt)
		return ok && Equal(x.Condition, y.Condition) && Equal(x.Message, y.Message)
	case *ProducerConsumer:
		y, ok := b.(*ProducerConsumer)
		return ok && x.Name == y.Name && x.IsProducer == y.IsProducer && Equal(x.Body, y.Body)
	case *For:
		y, ok := b.(*For)
		return ok && x.Name == y.Name && x.ForType == y.ForType && x.DeviceAPI == y.DeviceAPI &&
			Equal(x.Min, y.Min) && Equal(x.Extent, y.Extent) && Equal(x.Body, y.Body)
	case *Store:
		y, ok := b.(*Store)
		return ok && x.Name == y.Name && x.Binding == y.Binding &&
			Equal(x.Value, y.Value) && Equal(x.Index, y.Index) && Equal(x.Predicate, y.Predicate)
	case *Provide:
		y, ok := b.(*Provide)
		if !ok || x.Name != y.Name || len(x.Values) != len(y.Values) || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Values {
			if !Equal(x.Values[i], y.Values[i]) {
				return false
			}
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return Equal(x.Predicate, y.Predicate)
	case *Allocate:
		y, ok := b.(*Allocate)
		if !ok || x.Name != y.Name || x.T != y.T || x.MemType != y.MemType ||
			x.FreeFn != y.FreeFn || x.Padding != y.Padding || len(x.Extents) != len(y.Extents) {
			return false
		}
		for i := range x.Extents {
			if !Equal(x.Extents[i], y.Extents[i]) {
				return false
			}
		}
		if (x.New == nil) != (y.New == nil) {
			return false
		}
		if x.New != nil && !Equal(x.New, y.New) {
			return false
		}
		return Equal(x.Condition, y.Condition) && Equal(x.Body, y.Body)
	case *Free:
		y, ok := b.(*Free)
		return ok && x.Name == y.Name
	case *Realize:
		y, ok := b.(*Realize)
		if !ok || x.Name != y.Name || x.MemType != y.MemType ||
			len(x.Types) != len(y.Types) || len(x.Bounds) != len(y.Bounds) {
			return false
		}
		for i := range x.Types {
			if x.Types[i] != y.Types[i] {
				return false
			}
		}
		for i := range x.Bounds {
			if !Equal(x.Bounds[i].Min, y.Bounds[i].Min) || !Equal(x.Bounds[i].Extent, y.Bounds[i].Extent) {
				return false
			}
		}
		return Equal(x.Condition, y.Condition) && Equal(x.Body, y.Body)
	case *Block:
		y, ok := b.(*Block)
		return ok && Equal(x.First, y.First) && Equal(x.Rest, y.Rest)
	case *Fork:
		y, ok := b.(*Fork)
		return ok && Equal(x.First, y.First) && Equal(x.Rest, y.Rest)
	case *IfThenElse:
		y, ok := b.(*IfThenElse)
		if !ok || !Equal(x.Condition, y.Condition) || !Equal(x.Then, y.Then) {
			return false
		}
		if (x.Else == nil) != (y.Else == nil) {
			return false
		}
		return x.Else == nil || Equal(x.Else, y.Else)
	case *Evaluate:
		y, ok := b.(*Evaluate)
		return ok && Equal(x.Value, y.Value)
	case *Prefetch:
		y, ok := b.(*Prefetch)
		if !ok || x.Name != y.Name || len(x.Bounds) != len(y.Bounds) {
			return false
		}
		for i := range x.Bounds {
			if !Equal(x.Bounds[i].Min, y.Bounds[i].Min) || !Equal(x.Bounds[i].Extent, y.Bounds[i].Extent) {
				return false
			}
		}
		return Equal(x.Condition, y.Condition) && Equal(x.Body, y.Body)
	case *Atomic:
		y, ok := b.(*Atomic)
		return ok && x.ProducerName == y.ProducerName && x.MutexName == y.MutexName && Equal(x.Body, y.Body)
	case *Acquire:
		y, ok := b.(*Acquire)
		return ok && Equal(x.Semaphore, y.Semaphore) && Equal(x.Count, y.Count) && Equal(x.Body, y.Body)
	}
	return false
}
