package ir

// Names of the intrinsics the lowering core emits or recognizes. The
// runtime and backend resolve these; the core never lowers them except
// where a pass explicitly says so.
const (
	IntrinsicIfThenElse          = "if_then_else"
	IntrinsicLikely              = "likely"
	IntrinsicLikelyIfInnermost   = "likely_if_innermost"
	IntrinsicBitwiseAnd          = "bitwise_and"
	IntrinsicBitwiseOr           = "bitwise_or"
	IntrinsicBitwiseXor          = "bitwise_xor"
	IntrinsicBitwiseNot          = "bitwise_not"
	IntrinsicShiftLeft           = "shift_left"
	IntrinsicShiftRight          = "shift_right"
	IntrinsicDivRoundToZero      = "div_round_to_zero"
	IntrinsicModRoundToZero      = "mod_round_to_zero"
	IntrinsicMulhiShr            = "mulhi_shr"
	IntrinsicSortedAvg           = "sorted_avg"
	IntrinsicTrace               = "trace"
	IntrinsicAddressOf           = "address_of"
	IntrinsicMakeStruct          = "make_struct"
	IntrinsicSizeOfBufferT       = "size_of_halide_buffer_t"
	IntrinsicBufferCrop          = "buffer_crop"
	IntrinsicBufferGetMin        = "buffer_get_min"
	IntrinsicBufferGetMax        = "buffer_get_max"
	IntrinsicBufferGetShape      = "buffer_get_shape"
	IntrinsicBufferGetHost       = "buffer_get_host"
	IntrinsicBufferGetDevice     = "buffer_get_device"
	IntrinsicCreateBufferT       = "create_buffer_t"
	IntrinsicRewriteBuffer       = "rewrite_buffer"
	IntrinsicUnsafePromiseClamped = "unsafe_promise_clamped"
	IntrinsicPromiseClamped      = "promise_clamped"
	IntrinsicRegisterDestructor  = "register_destructor"
	IntrinsicPrefetch            = "prefetch"
	IntrinsicStringify           = "stringify"
	IntrinsicReturnSecond        = "return_second"
	IntrinsicUndef               = "undef"
	IntrinsicGPUThreadBarrier    = "gpu_thread_barrier"

	// Retiring buffer crops after an extern stage releases any
	// device-side allocation made against the crop.
	IntrinsicRetireCrop  = "buffer_retire_crop_after_extern_stage"
	IntrinsicRetireCrops = "buffer_retire_crops_after_extern_stage"
)

// Names of the runtime error calls AssertStmt messages invoke. The
// calls carry only the values the message reports; no user-context
// handle is passed.
const (
	ErrBadElemSize         = "halide_error_bad_elem_size"
	ErrAccessOutOfBounds   = "halide_error_access_out_of_bounds"
	ErrConstraintViolated  = "halide_error_constraint_violated"
	ErrBufferExtentsShrunk = "halide_error_buffer_extents_negative_or_shrunk"
	ErrBufferAllocTooLarge = "halide_error_buffer_allocation_too_large"
	ErrBufferExtentTooLarge = "halide_error_buffer_extents_too_large"
	ErrUnalignedHostPtr    = "halide_error_unaligned_host_pointer"
	ErrExternStageFailed   = "halide_error_extern_stage_failed"
	ErrExplicitBoundTooSmall = "halide_error_explicit_bounds_too_small"
	ErrFoldFactorTooSmall  = "halide_error_fold_factor_too_small"
	ErrBadFold             = "halide_error_bad_fold"
	ErrSpecializeFail      = "halide_error_specialize_fail"
)

// Undef is a value of the given type that is never observed; stores of
// undef are deleted by the remove-undef pass.
func Undef(t Type) Expr {
	return &Call{T: t, Name: IntrinsicUndef, Kind: PureIntrinsic}
}

// Likely tags a boolean as almost-always-true for the simplifier and
// the vectorizer's guard handling.
func Likely(e Expr) Expr {
	return &Call{T: e.Type(), Name: IntrinsicLikely, Args: []Expr{e}, Kind: PureIntrinsic}
}

// LikelyIfInnermost is Likely, but only honored on the innermost loop.
func LikelyIfInnermost(e Expr) Expr {
	return &Call{T: e.Type(), Name: IntrinsicLikelyIfInnermost, Args: []Expr{e}, Kind: PureIntrinsic}
}

// IsIntrinsic reports whether e is a call to the named intrinsic.
func IsIntrinsic(e Expr, name string) bool {
	c, ok := e.(*Call)
	return ok && (c.Kind == PureIntrinsic || c.Kind == Intrinsic) && c.Name == name
}

// UnwrapLikely strips likely tags off a boolean, reporting whether any
// were present.
func UnwrapLikely(e Expr) (Expr, bool) {
	tagged := false
	for {
		c, ok := e.(*Call)
		if !ok || c.Kind != PureIntrinsic ||
			(c.Name != IntrinsicLikely && c.Name != IntrinsicLikelyIfInnermost) {
			return e, tagged
		}
		e = c.Args[0]
		tagged = true
	}
}

// MakeErrorCall builds the message expression for an AssertStmt: a call
// to one of the halide_error_* runtime functions.
func MakeErrorCall(name string, args ...Expr) Expr {
	return &Call{T: Int32T, Name: name, Args: args, Kind: Extern}
}
