package ir

import "fmt"

// Smart constructors. Each performs only simplifications that lose no
// information, so constructed trees stay faithful to their inputs.

func NewIntImm(t Type, v int64) *IntImm {
	if !t.IsInt() || !t.IsScalar() {
		panic(fmt.Sprintf("ir: IntImm must have scalar int type, got %v", t))
	}
	// Wrap to the type's width so imm equality is well defined.
	if t.Bits < 64 {
		shift := 64 - uint(t.Bits)
		v = v << shift >> shift
	}
	return &IntImm{T: t, Value: v}
}

func NewUIntImm(t Type, v uint64) *UIntImm {
	if !t.IsUInt() || !t.IsScalar() {
		panic(fmt.Sprintf("ir: UIntImm must have scalar uint type, got %v", t))
	}
	if t.Bits < 64 {
		v &= (1 << uint(t.Bits)) - 1
	}
	return &UIntImm{T: t, Value: v}
}

func NewFloatImm(t Type, v float64) *FloatImm {
	if !t.IsFloat() || !t.IsScalar() {
		panic(fmt.Sprintf("ir: FloatImm must have scalar float type, got %v", t))
	}
	return &FloatImm{T: t, Value: v}
}

func NewStringImm(v string) *StringImm { return &StringImm{Value: v} }

// ConstInt is an int32 literal, the default index type.
func ConstInt(v int64) Expr { return NewIntImm(Int32T, v) }

// ConstBool is a scalar boolean literal.
func ConstBool(v bool) Expr {
	if v {
		return NewUIntImm(BoolT, 1)
	}
	return NewUIntImm(BoolT, 0)
}

var (
	constTrue  = ConstBool(true)
	constFalse = ConstBool(false)
)

func ConstTrue() Expr  { return constTrue }
func ConstFalse() Expr { return constFalse }

// MakeConst builds a constant of an arbitrary type, broadcasting for
// vector types.
func MakeConst(t Type, v int64) Expr {
	e := makeScalarConst(t.Element(), v)
	if t.IsVector() {
		return NewBroadcast(e, t.Lanes)
	}
	return e
}

func makeScalarConst(t Type, v int64) Expr {
	switch t.Code {
	case TypeInt:
		return NewIntImm(t, v)
	case TypeUInt:
		return NewUIntImm(t, uint64(v))
	case TypeFloat:
		return NewFloatImm(t, float64(v))
	}
	panic(fmt.Sprintf("ir: cannot make constant of type %v", t))
}

func MakeZero(t Type) Expr { return MakeConst(t, 0) }
func MakeOne(t Type) Expr  { return MakeConst(t, 1) }

// ConstIntValue extracts the value of an integer literal, looking
// through broadcasts.
func ConstIntValue(e Expr) (int64, bool) {
	switch v := e.(type) {
	case *IntImm:
		return v.Value, true
	case *UIntImm:
		return int64(v.Value), true
	case *Broadcast:
		return ConstIntValue(v.Value)
	}
	return 0, false
}

// IsConstValue reports whether e is a literal equal to v.
func IsConstValue(e Expr, v int64) bool {
	if c, ok := ConstIntValue(e); ok {
		return c == v
	}
	if f, ok := e.(*FloatImm); ok {
		return f.Value == float64(v)
	}
	return false
}

// IsConstTrue reports whether e is a literal true (nonzero).
func IsConstTrue(e Expr) bool {
	if e == nil {
		return true
	}
	c, ok := ConstIntValue(e)
	return ok && c != 0
}

// IsConstFalse reports whether e is a literal false.
func IsConstFalse(e Expr) bool {
	if e == nil {
		return false
	}
	c, ok := ConstIntValue(e)
	return ok && c == 0
}

func NewVariable(t Type, name string) *Variable {
	return &Variable{T: t, Name: name}
}

func NewRVar(t Type, name, domain string) *Variable {
	return &Variable{T: t, Name: name, Binding: Binding{BindRVar, domain}}
}

func NewBufferVariable(name, param string) *Variable {
	return &Variable{T: HandleT, Name: name, Binding: Binding{BindParam, param}}
}

// Var is a scalar int32 variable, the shape of every loop counter.
func Var(name string) *Variable { return NewVariable(Int32T, name) }

// BufferVar references a non-dimensioned field of a buffer descriptor,
// e.g. "input.elem_size", bound to the buffer parameter.
func BufferVar(buf, field string, t Type) *Variable {
	return &Variable{T: t, Name: buf + "." + field, Binding: Binding{Kind: BindParam, Name: buf}}
}

// BufferField references a field of a buffer descriptor, e.g.
// "input.min.0". The variable is bound to the buffer parameter so
// qualification leaves it alone.
func BufferField(buf, field string, dim int) *Variable {
	return &Variable{
		T:       Int32T,
		Name:    fmt.Sprintf("%s.%s.%d", buf, field, dim),
		Binding: Binding{Kind: BindParam, Name: buf},
	}
}

func NewCast(t Type, v Expr) Expr {
	if v.Type() == t {
		return v
	}
	if t.Lanes != v.Type().Lanes {
		panic(fmt.Sprintf("ir: cast cannot change lanes (%v -> %v)", v.Type(), t))
	}
	if i, ok := v.(*IntImm); ok && t.IsScalar() {
		switch t.Code {
		case TypeInt:
			return NewIntImm(t, i.Value)
		case TypeUInt:
			return NewUIntImm(t, uint64(i.Value))
		case TypeFloat:
			return NewFloatImm(t, float64(i.Value))
		}
	}
	return &Cast{T: t, Value: v}
}

func NewReinterpret(t Type, v Expr) Expr {
	if v.Type() == t {
		return v
	}
	if t.Bits*t.Lanes != v.Type().Bits*v.Type().Lanes {
		panic(fmt.Sprintf("ir: reinterpret must preserve size (%v -> %v)", v.Type(), t))
	}
	return &Reinterpret{T: t, Value: v}
}

func binaryFold(a, b Expr, f func(x, y int64) (int64, bool)) (Expr, bool) {
	x, okx := a.(*IntImm)
	y, oky := b.(*IntImm)
	if okx && oky {
		if v, ok := f(x.Value, y.Value); ok {
			return NewIntImm(x.T, v), true
		}
	}
	return nil, false
}

func NewAdd(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) { return x + y, true }); ok {
		return e
	}
	if IsConstValue(b, 0) {
		return a
	}
	if IsConstValue(a, 0) {
		return b
	}
	return &Add{A: a, B: b}
}

func NewSub(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) { return x - y, true }); ok {
		return e
	}
	if IsConstValue(b, 0) {
		return a
	}
	return &Sub{A: a, B: b}
}

func NewMul(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) { return x * y, true }); ok {
		return e
	}
	if IsConstValue(a, 1) {
		return b
	}
	if IsConstValue(b, 1) {
		return a
	}
	return &Mul{A: a, B: b}
}

func NewDiv(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) {
		if y == 0 {
			return 0, false
		}
		return euclideanDiv(x, y), true
	}); ok {
		return e
	}
	if IsConstValue(b, 1) {
		return a
	}
	return &Div{A: a, B: b}
}

func NewMod(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) {
		if y == 0 {
			return 0, false
		}
		return euclideanMod(x, y), true
	}); ok {
		return e
	}
	return &Mod{A: a, B: b}
}

// Division in the IR rounds toward negative infinity, so x%y is always
// in [0, |y|).
func euclideanDiv(x, y int64) int64 {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}

func euclideanMod(x, y int64) int64 {
	r := x % y
	if r < 0 {
		if y > 0 {
			r += y
		} else {
			r -= y
		}
	}
	return r
}

func NewMin(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) { return min(x, y), true }); ok {
		return e
	}
	if Equal(a, b) {
		return a
	}
	return &Min{A: a, B: b}
}

func NewMax(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := binaryFold(a, b, func(x, y int64) (int64, bool) { return max(x, y), true }); ok {
		return e
	}
	if Equal(a, b) {
		return a
	}
	return &Max{A: a, B: b}
}

func foldCompare(a, b Expr, f func(x, y int64) bool) (Expr, bool) {
	x, okx := ConstIntValue(a)
	y, oky := ConstIntValue(b)
	if okx && oky && a.Type().IsScalar() {
		return ConstBool(f(x, y)), true
	}
	return nil, false
}

func NewEQ(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := foldCompare(a, b, func(x, y int64) bool { return x == y }); ok {
		return e
	}
	return &EQ{A: a, B: b}
}

func NewNE(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := foldCompare(a, b, func(x, y int64) bool { return x != y }); ok {
		return e
	}
	return &NE{A: a, B: b}
}

func NewLT(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := foldCompare(a, b, func(x, y int64) bool { return x < y }); ok {
		return e
	}
	return &LT{A: a, B: b}
}

func NewLE(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if e, ok := foldCompare(a, b, func(x, y int64) bool { return x <= y }); ok {
		return e
	}
	return &LE{A: a, B: b}
}

func NewGT(a, b Expr) Expr { return NewLT(b, a) }
func NewGE(a, b Expr) Expr { return NewLE(b, a) }

func NewAnd(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if IsConstTrue(a) {
		return b
	}
	if IsConstTrue(b) {
		return a
	}
	if IsConstFalse(a) {
		return a
	}
	if IsConstFalse(b) {
		return b
	}
	return &And{A: a, B: b}
}

func NewOr(a, b Expr) Expr {
	a, b = MatchTypes(a, b)
	if IsConstFalse(a) {
		return b
	}
	if IsConstFalse(b) {
		return a
	}
	if IsConstTrue(a) {
		return a
	}
	if IsConstTrue(b) {
		return b
	}
	return &Or{A: a, B: b}
}

func NewNot(a Expr) Expr {
	if n, ok := a.(*Not); ok {
		return n.A
	}
	if IsConstTrue(a) && isConstImm(a) {
		return ConstFalse()
	}
	if IsConstFalse(a) {
		return ConstTrue()
	}
	return &Not{A: a}
}

func NewSelect(cond, t, f Expr) Expr {
	t, f = MatchTypes(t, f)
	if IsConstTrue(cond) && isBoolImm(cond) {
		return t
	}
	if IsConstFalse(cond) && isBoolImm(cond) {
		return f
	}
	if cond.Type().IsScalar() && t.Type().IsVector() {
		// Scalar condition selecting between vectors is allowed as-is.
		return &Select{Cond: cond, TrueValue: t, FalseValue: f}
	}
	if cond.Type().IsVector() && t.Type().IsScalar() {
		t = NewBroadcast(t, cond.Type().Lanes)
		f = NewBroadcast(f, cond.Type().Lanes)
	}
	if cond.Type().Lanes != t.Type().Lanes {
		if cond.Type().IsScalar() {
			cond = NewBroadcast(cond, t.Type().Lanes)
		} else {
			panic(fmt.Sprintf("ir: select condition lanes %d do not match value lanes %d",
				cond.Type().Lanes, t.Type().Lanes))
		}
	}
	return &Select{Cond: cond, TrueValue: t, FalseValue: f}
}

func isBoolImm(e Expr) bool {
	switch v := e.(type) {
	case *UIntImm:
		return v.T.IsBool()
	case *Broadcast:
		return isBoolImm(v.Value)
	}
	return false
}

func NewLoad(t Type, name string, index, predicate Expr, align Alignment, binding Binding) Expr {
	if predicate == nil {
		predicate = MakeConst(Bool(t.Lanes), 1)
	}
	if index.Type().Lanes != t.Lanes {
		panic(fmt.Sprintf("ir: load of %v with %d index lanes", t, index.Type().Lanes))
	}
	if predicate.Type().Lanes != t.Lanes {
		panic(fmt.Sprintf("ir: load of %v with %d predicate lanes", t, predicate.Type().Lanes))
	}
	return &Load{T: t, Name: name, Index: index, Predicate: predicate, Align: align, Binding: binding}
}

func NewRamp(base, stride Expr, lanes int) Expr {
	if lanes < 2 {
		panic("ir: ramp needs at least 2 lanes")
	}
	base, stride = MatchTypes(base, stride)
	return &Ramp{Base: base, Stride: stride, Lanes: lanes}
}

func NewBroadcast(value Expr, lanes int) Expr {
	if lanes < 1 {
		panic("ir: broadcast needs at least 1 lane")
	}
	if lanes == 1 {
		return value
	}
	if b, ok := value.(*Broadcast); ok {
		return &Broadcast{Value: b.Value, Lanes: b.Lanes * lanes}
	}
	return &Broadcast{Value: value, Lanes: lanes}
}

func NewShuffle(vectors []Expr, indices []int) Expr {
	if len(vectors) == 0 || len(indices) == 0 {
		panic("ir: shuffle needs vectors and indices")
	}
	total := 0
	for _, v := range vectors {
		total += v.Type().Lanes
	}
	for _, i := range indices {
		if i < 0 || i >= total {
			panic(fmt.Sprintf("ir: shuffle index %d out of range", i))
		}
	}
	return &Shuffle{Vectors: vectors, Indices: indices}
}

// ExtractLane builds a shuffle selecting a single lane of a vector.
func ExtractLane(v Expr, lane int) Expr {
	if v.Type().IsScalar() {
		return v
	}
	return NewShuffle([]Expr{v}, []int{lane})
}

// SliceVector extracts lanes [begin, begin+lanes) of a vector.
func SliceVector(v Expr, begin, lanes int) Expr {
	if begin == 0 && lanes == v.Type().Lanes {
		return v
	}
	idx := make([]int, lanes)
	for i := range idx {
		idx[i] = begin + i
	}
	return NewShuffle([]Expr{v}, idx)
}

// ConcatVectors joins vectors lane-wise.
func ConcatVectors(vectors []Expr) Expr {
	if len(vectors) == 1 {
		return vectors[0]
	}
	total := 0
	for _, v := range vectors {
		total += v.Type().Lanes
	}
	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	return NewShuffle(vectors, idx)
}

func NewVectorReduce(op ReduceOp, value Expr, lanes int) Expr {
	vl := value.Type().Lanes
	if lanes <= 0 || vl%lanes != 0 {
		panic(fmt.Sprintf("ir: vector_reduce from %d to %d lanes", vl, lanes))
	}
	if vl == lanes {
		return value
	}
	return &VectorReduce{Op: op, Value: value, Lanes: lanes}
}

func NewLet(name string, value, body Expr) Expr {
	return &Let{Name: name, Value: value, Body: body}
}

func NewCall(t Type, name string, args []Expr, kind CallKind) *Call {
	return &Call{T: t, Name: name, Args: args, Kind: kind}
}

// NewFuncCall references component valueIndex of another pipeline
// function at a coordinate.
func NewFuncCall(t Type, name string, args []Expr, valueIndex int) *Call {
	return &Call{T: t, Name: name, Args: args, Kind: FuncCall, ValueIndex: valueIndex}
}

func NewLetStmt(name string, value Expr, body Stmt) Stmt {
	return &LetStmt{Name: name, Value: value, Body: body}
}

func NewAssert(condition, message Expr) Stmt {
	return &AssertStmt{Condition: condition, Message: message}
}

func NewProducer(name string, body Stmt) Stmt {
	return &ProducerConsumer{Name: name, IsProducer: true, Body: body}
}

func NewConsumer(name string, body Stmt) Stmt {
	return &ProducerConsumer{Name: name, IsProducer: false, Body: body}
}

func NewFor(name string, min, extent Expr, ft ForType, api DeviceAPI, body Stmt) Stmt {
	return &For{Name: name, Min: min, Extent: extent, ForType: ft, DeviceAPI: api, Body: body}
}

func NewStore(name string, value, index, predicate Expr, align Alignment, binding Binding) Stmt {
	if predicate == nil {
		predicate = MakeConst(Bool(value.Type().Lanes), 1)
	}
	return &Store{Name: name, Value: value, Index: index, Predicate: predicate, Align: align, Binding: binding}
}

func NewProvide(name string, values, args []Expr, predicate Expr) Stmt {
	if len(values) == 0 {
		panic("ir: provide needs at least one value")
	}
	if predicate == nil {
		predicate = ConstTrue()
	}
	return &Provide{Name: name, Values: values, Args: args, Predicate: predicate}
}

func NewAllocate(name string, t Type, mem MemoryType, extents []Expr, condition Expr, body Stmt) Stmt {
	if condition == nil {
		condition = ConstTrue()
	}
	return &Allocate{Name: name, T: t, MemType: mem, Extents: extents, Condition: condition, Body: body}
}

func NewRealize(name string, types []Type, mem MemoryType, bounds Region, condition Expr, body Stmt) Stmt {
	if condition == nil {
		condition = ConstTrue()
	}
	return &Realize{Name: name, Types: types, MemType: mem, Bounds: bounds, Condition: condition, Body: body}
}

// NewBlock sequences two statements, flattening nils.
func NewBlock(first, rest Stmt) Stmt {
	if first == nil {
		return rest
	}
	if rest == nil {
		return first
	}
	return &Block{First: first, Rest: rest}
}

// BlockOf sequences any number of statements.
func BlockOf(stmts ...Stmt) Stmt {
	var out Stmt
	for i := len(stmts) - 1; i >= 0; i-- {
		out = NewBlock(stmts[i], out)
	}
	return out
}

func NewFork(first, rest Stmt) Stmt {
	if first == nil {
		return rest
	}
	if rest == nil {
		return first
	}
	return &Fork{First: first, Rest: rest}
}

func NewIfThenElse(condition Expr, then, els Stmt) Stmt {
	if IsConstTrue(condition) && isBoolImm(condition) {
		return then
	}
	if IsConstFalse(condition) {
		return els
	}
	return &IfThenElse{Condition: condition, Then: then, Else: els}
}

func NewEvaluate(value Expr) Stmt { return &Evaluate{Value: value} }

func NewAtomic(producerName, mutexName string, body Stmt) Stmt {
	return &Atomic{ProducerName: producerName, MutexName: mutexName, Body: body}
}

func NewAcquire(sem, count Expr, body Stmt) Stmt {
	return &Acquire{Semaphore: sem, Count: count, Body: body}
}
