// Package ir is the imperative loop-nest intermediate representation
// the lowering passes transform: immutable expression and statement
// trees with structural sharing, a walker and a same-as-preserving
// mutator, hygienic substitution, and an elementary simplifier.
package ir

// Node is implemented by every IR node. Nodes are immutable after
// construction: mutators build new nodes and share untouched subtrees.
type Node interface {
	node()
}

// Expr is an expression node. Expressions form a DAG; structural
// sharing is expected and SameAs detects it.
type Expr interface {
	Node
	Type() Type
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// BindingKind says what a Variable or buffer reference is bound to.
type BindingKind uint8

const (
	BindFree BindingKind = iota
	BindRVar
	BindParam
	BindImage
)

// Binding ties a name to a reduction domain, a buffer parameter, or an
// image literal. The zero value is a free binding. Bindings are part of
// node identity: two Variables that agree on name but not binding are
// distinct.
type Binding struct {
	Kind BindingKind
	Name string
}

func (b Binding) IsFree() bool   { return b.Kind == BindFree }
func (b Binding) IsBuffer() bool { return b.Kind == BindParam || b.Kind == BindImage }

// Alignment records what is known about an index modulo some constant.
type Alignment struct {
	Modulus   int64
	Remainder int64
}

// IntImm is a signed integer literal.
type IntImm struct {
	T     Type
	Value int64
}

// UIntImm is an unsigned integer literal.
type UIntImm struct {
	T     Type
	Value uint64
}

// FloatImm is a floating-point literal.
type FloatImm struct {
	T     Type
	Value float64
}

// StringImm is a string literal, typed as a handle.
type StringImm struct {
	Value string
}

// Variable is a reference to a named scalar, reduction variable,
// buffer parameter, or image.
type Variable struct {
	T       Type
	Name    string
	Binding Binding
}

// Cast converts a value to another type of the same lane count.
type Cast struct {
	T     Type
	Value Expr
}

// Reinterpret reuses the bits of a value as another type of equal size.
type Reinterpret struct {
	T     Type
	Value Expr
}

type Add struct{ A, B Expr }
type Sub struct{ A, B Expr }
type Mul struct{ A, B Expr }
type Div struct{ A, B Expr }
type Mod struct{ A, B Expr }
type Min struct{ A, B Expr }
type Max struct{ A, B Expr }
type EQ struct{ A, B Expr }
type NE struct{ A, B Expr }
type LT struct{ A, B Expr }
type LE struct{ A, B Expr }
type GT struct{ A, B Expr }
type GE struct{ A, B Expr }
type And struct{ A, B Expr }
type Or struct{ A, B Expr }
type Not struct{ A Expr }

// Select chooses between two values per lane.
type Select struct {
	Cond       Expr
	TrueValue  Expr
	FalseValue Expr
}

// Load reads from a named buffer. The index and predicate carry one
// lane per loaded element.
type Load struct {
	T         Type
	Name      string
	Index     Expr
	Predicate Expr
	Align     Alignment
	Binding   Binding
}

// Ramp is the arithmetic progression base, base+stride, ...,
// base+(lanes-1)*stride.
type Ramp struct {
	Base   Expr
	Stride Expr
	Lanes  int
}

// Broadcast replicates a value across lanes.
type Broadcast struct {
	Value Expr
	Lanes int
}

// Shuffle selects lanes out of a concatenated vector argument list.
type Shuffle struct {
	Vectors []Expr
	Indices []int
}

// ReduceOp is a horizontal reduction operator for VectorReduce.
type ReduceOp uint8

const (
	ReduceAdd ReduceOp = iota
	ReduceMul
	ReduceMin
	ReduceMax
	ReduceAnd
	ReduceOr
	ReduceSaturatingAdd
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceAdd:
		return "add"
	case ReduceMul:
		return "mul"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	case ReduceAnd:
		return "and"
	case ReduceOr:
		return "or"
	case ReduceSaturatingAdd:
		return "saturating_add"
	}
	return "?"
}

// VectorReduce horizontally reduces groups of lanes of its value down
// to the given output lane count.
type VectorReduce struct {
	Op    ReduceOp
	Value Expr
	Lanes int
}

// Let binds a name within an expression.
type Let struct {
	Name  string
	Value Expr
	Body  Expr
}

// CallKind classifies what a Call refers to and whether it is pure.
type CallKind uint8

const (
	// PureIntrinsic is a side-effect-free builtin.
	PureIntrinsic CallKind = iota
	// Intrinsic is a builtin that may have side effects.
	Intrinsic
	// PureExtern is a side-effect-free external function.
	PureExtern
	// Extern is an external function that may have side effects.
	Extern
	// FuncCall references another pipeline function.
	FuncCall
	// ImageLoad references an input image or buffer parameter.
	ImageLoad
)

// Call invokes an intrinsic or extern function, or references a
// pipeline function or input image at a coordinate.
type Call struct {
	T          Type
	Name       string
	Args       []Expr
	Kind       CallKind
	ValueIndex int
	Binding    Binding
}

// IsPure reports whether evaluating the call more or fewer times than
// written is not observable.
func (c *Call) IsPure() bool {
	return c.Kind == PureIntrinsic || c.Kind == PureExtern ||
		c.Kind == FuncCall || c.Kind == ImageLoad
}

func (*IntImm) node()       {}
func (*UIntImm) node()      {}
func (*FloatImm) node()     {}
func (*StringImm) node()    {}
func (*Variable) node()     {}
func (*Cast) node()         {}
func (*Reinterpret) node()  {}
func (*Add) node()          {}
func (*Sub) node()          {}
func (*Mul) node()          {}
func (*Div) node()          {}
func (*Mod) node()          {}
func (*Min) node()          {}
func (*Max) node()          {}
func (*EQ) node()           {}
func (*NE) node()           {}
func (*LT) node()           {}
func (*LE) node()           {}
func (*GT) node()           {}
func (*GE) node()           {}
func (*And) node()          {}
func (*Or) node()           {}
func (*Not) node()          {}
func (*Select) node()       {}
func (*Load) node()         {}
func (*Ramp) node()         {}
func (*Broadcast) node()    {}
func (*Shuffle) node()      {}
func (*VectorReduce) node() {}
func (*Let) node()          {}
func (*Call) node()         {}

func (*IntImm) exprNode()       {}
func (*UIntImm) exprNode()      {}
func (*FloatImm) exprNode()     {}
func (*StringImm) exprNode()    {}
func (*Variable) exprNode()     {}
func (*Cast) exprNode()         {}
func (*Reinterpret) exprNode()  {}
func (*Add) exprNode()          {}
func (*Sub) exprNode()          {}
func (*Mul) exprNode()          {}
func (*Div) exprNode()          {}
func (*Mod) exprNode()          {}
func (*Min) exprNode()          {}
func (*Max) exprNode()          {}
func (*EQ) exprNode()           {}
func (*NE) exprNode()           {}
func (*LT) exprNode()           {}
func (*LE) exprNode()           {}
func (*GT) exprNode()           {}
func (*GE) exprNode()           {}
func (*And) exprNode()          {}
func (*Or) exprNode()           {}
func (*Not) exprNode()          {}
func (*Select) exprNode()       {}
func (*Load) exprNode()         {}
func (*Ramp) exprNode()         {}
func (*Broadcast) exprNode()    {}
func (*Shuffle) exprNode()      {}
func (*VectorReduce) exprNode() {}
func (*Let) exprNode()          {}
func (*Call) exprNode()         {}

func (e *IntImm) Type() Type      { return e.T }
func (e *UIntImm) Type() Type     { return e.T }
func (e *FloatImm) Type() Type    { return e.T }
func (e *StringImm) Type() Type   { return HandleT }
func (e *Variable) Type() Type    { return e.T }
func (e *Cast) Type() Type        { return e.T }
func (e *Reinterpret) Type() Type { return e.T }
func (e *Add) Type() Type         { return e.A.Type() }
func (e *Sub) Type() Type         { return e.A.Type() }
func (e *Mul) Type() Type         { return e.A.Type() }
func (e *Div) Type() Type         { return e.A.Type() }
func (e *Mod) Type() Type         { return e.A.Type() }
func (e *Min) Type() Type         { return e.A.Type() }
func (e *Max) Type() Type         { return e.A.Type() }
func (e *EQ) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *NE) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *LT) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *LE) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *GT) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *GE) Type() Type          { return Bool(e.A.Type().Lanes) }
func (e *And) Type() Type         { return e.A.Type() }
func (e *Or) Type() Type          { return e.A.Type() }
func (e *Not) Type() Type         { return e.A.Type() }
func (e *Select) Type() Type      { return e.TrueValue.Type() }
func (e *Load) Type() Type        { return e.T }
func (e *Ramp) Type() Type        { return e.Base.Type().WithLanes(e.Lanes * e.Base.Type().Lanes) }
func (e *Broadcast) Type() Type   { return e.Value.Type().WithLanes(e.Lanes * e.Value.Type().Lanes) }
func (e *Shuffle) Type() Type     { return e.Vectors[0].Type().WithLanes(len(e.Indices)) }
func (e *VectorReduce) Type() Type {
	return e.Value.Type().WithLanes(e.Lanes)
}
func (e *Let) Type() Type  { return e.Body.Type() }
func (e *Call) Type() Type { return e.T }

// SameAs is pointer identity: it reports whether a and b are the same
// node, which is how mutators detect untouched subtrees.
func SameAs(a, b Node) bool { return a == b }
