// Package pipeline models the producer side of the lowering core: named
// functions over lattice domains, their definitions, their schedules,
// and the realization order that sequences them.
package pipeline

import (
	"fmt"

	"raster/internal/ir"
)

// Special loop variable names. RootVar marks the outermost placeholder
// loop; OutermostVar is the implicit extent-1 loop appended outside
// every function's explicit dims.
const (
	RootVar      = "__root"
	OutermostVar = "__outermost"
)

// TailStrategy is the policy for a split whose factor does not divide
// the extent.
type TailStrategy uint8

const (
	TailAuto TailStrategy = iota
	TailRoundUp
	TailGuardWithIf
	TailShiftInwards
)

func (t TailStrategy) String() string {
	switch t {
	case TailAuto:
		return "auto"
	case TailRoundUp:
		return "round_up"
	case TailGuardWithIf:
		return "guard_with_if"
	case TailShiftInwards:
		return "shift_inwards"
	}
	return "?"
}

// SplitKind distinguishes the four directive shapes a Split can carry.
type SplitKind uint8

const (
	// SplitVar splits Old into Outer*Factor + Inner.
	SplitVar SplitKind = iota
	// FuseVars fuses Inner and Outer into Old (the fused var).
	FuseVars
	// RenameVar renames Old to Outer.
	RenameVar
	// PurifyRVar replaces the reduction variable Old with the pure
	// variable Outer.
	PurifyRVar
)

// Split is one scheduling rewrite of the dimension list.
type Split struct {
	Old    string
	Outer  string
	Inner  string
	Factor ir.Expr
	Exact  bool // reduction dims must not grow
	Kind   SplitKind
	Tail   TailStrategy
}

// Dim is one loop in a stage's dimension list, innermost first.
type Dim struct {
	Var       string
	ForType   ir.ForType
	DeviceAPI ir.DeviceAPI
}

// LoopLevel names a position in some function's loop nest, or the
// special inlined/root levels.
type LoopLevel struct {
	Func  string
	Stage int
	Var   string

	inlined bool
	root    bool
}

// Inlined is the compute level of a function computed on demand at
// every use site.
func Inlined() LoopLevel { return LoopLevel{inlined: true} }

// Root is the level outside all loops.
func Root() LoopLevel { return LoopLevel{root: true, Var: RootVar} }

// At names the loop over var in the given stage of func.
func At(fn string, stage int, v string) LoopLevel {
	return LoopLevel{Func: fn, Stage: stage, Var: v}
}

func (l LoopLevel) IsInlined() bool { return l.inlined }
func (l LoopLevel) IsRoot() bool    { return l.root }

// LoopName is the qualified name of the For this level refers to.
func (l LoopLevel) LoopName() string {
	if l.root {
		return RootVar
	}
	if l.inlined {
		return ""
	}
	return fmt.Sprintf("%s.s%d.%s", l.Func, l.Stage, l.Var)
}

// Match reports whether a For loop with the given name sits at this
// level. Split outputs extend the base var name with further dotted
// suffixes, so the match is on the qualified prefix.
func (l LoopLevel) Match(loopName string) bool {
	if l.root {
		return loopName == RootVar
	}
	if l.inlined {
		return false
	}
	want := l.LoopName()
	return loopName == want || hasPrefixSegment(loopName, want)
}

func hasPrefixSegment(name, prefix string) bool {
	return len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '.'
}

func (l LoopLevel) String() string {
	if l.inlined {
		return "inlined"
	}
	if l.root {
		return "root"
	}
	return l.LoopName()
}

// Bound pins or aligns one pure dimension of a function.
type Bound struct {
	Var       string
	Min       ir.Expr // optional
	Extent    ir.Expr // optional
	Modulus   ir.Expr // optional alignment
	Remainder ir.Expr
}

// StorageDim carries per-dimension storage directives.
type StorageDim struct {
	Var         string
	Fold        ir.Expr // optional explicit fold factor
	FoldForward bool
}

// PrefetchDirectiveSpec asks for a prefetch of a buffer at a loop var.
type PrefetchDirectiveSpec struct {
	Name     string
	At       string
	From     string
	Offset   ir.Expr
	Strategy ir.PrefetchBoundStrategy
}

// LoopAlignStrategy controls how fused siblings align their loop
// bounds.
type LoopAlignStrategy uint8

const (
	AlignAuto LoopAlignStrategy = iota
	AlignStart
	AlignEnd
	NoAlign
)

// FusedPair records that two stages iterate together at var.
type FusedPair struct {
	Func1  string
	Stage1 int
	Func2  string
	Stage2 int
	Var    string
	Align  LoopAlignStrategy
}

// StageSchedule is the directive list attached to one definition.
type StageSchedule struct {
	Splits     []Split
	Dims       []Dim // innermost first; OutermostVar appended last
	RVars      []RVar
	FuseLevel  LoopLevel // where this stage is computed with another
	FusedPairs []FusedPair
	AllowRaces bool
	Atomic     bool
}

// FuncSchedule is the directive set attached to a whole function.
type FuncSchedule struct {
	ComputeLevel LoopLevel
	StoreLevel   LoopLevel
	Bounds       []Bound
	StorageDims  []StorageDim
	Prefetches   []PrefetchDirectiveSpec
	Memoized     bool
	MemoryType   ir.MemoryType
	HostAlign    int // required host pointer alignment for outputs
}
