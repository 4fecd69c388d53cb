package errors

// Error codes for the raster lowering core. Codes appear in error
// messages and documentation so diagnostics stay identifiable across
// the toolchain.
//
// Error code ranges:
// L0001-L0099: Schedule validation errors
// L0100-L0199: Bounds inference errors
// L0200-L0299: Vectorization errors
// L0300-L0399: Storage errors
// L0400-L0499: Target errors
// L0900-L0999: Reserved for tooling errors

const (
	// L0001: compute_at level is not among the consumer's use sites
	ErrorBadComputeAt = "L0001"

	// L0002: reduction variables reordered across a dependency
	ErrorReorderedRVars = "L0002"

	// L0003: specialization with a failure message is not last
	ErrorSpecializeFailNotLast = "L0003"

	// L0004: compute_with between stages with incompatible dims
	ErrorBadComputeWith = "L0004"

	// L0005: extern stage consumes an inlined input
	ErrorExternInlinedInput = "L0005"

	// L0006: dependency cycle between functions
	ErrorDependencyCycle = "L0006"

	// L0007: constraint placed on a secondary tuple output
	ErrorConstrainedSecondaryOutput = "L0007"

	// L0008: store_at level does not enclose the compute_at level
	ErrorBadStoreAt = "L0008"

	// L0100: access with no derivable bound
	ErrorUnboundedAccess = "L0100"

	// L0200: vectorized loop extent is not a constant greater than one
	ErrorNonConstantVectorExtent = "L0200"

	// L0300: fold directive that cannot be discharged
	ErrorBadFold = "L0300"

	// L0400: unknown or inconsistent target
	ErrorBadTarget = "L0400"
)

// GetErrorDescription returns a human-readable description of the code.
func GetErrorDescription(code string) string {
	switch code {
	case ErrorBadComputeAt:
		return "compute_at level must be a loop of some consumer of the function"
	case ErrorReorderedRVars:
		return "reduction variables may not be reordered across a dependency"
	case ErrorSpecializeFailNotLast:
		return "a specialization with a failure message must be the last specialization"
	case ErrorBadComputeWith:
		return "compute_with requires stages with compatible dimensions"
	case ErrorExternInlinedInput:
		return "an extern stage cannot consume an inlined function"
	case ErrorDependencyCycle:
		return "functions may not depend on themselves outside a fused group"
	case ErrorConstrainedSecondaryOutput:
		return "only the first tuple component of an output may carry constraints"
	case ErrorBadStoreAt:
		return "store_at must be at or outside the compute_at level"
	case ErrorUnboundedAccess:
		return "a required region has no derivable bound"
	case ErrorNonConstantVectorExtent:
		return "vectorized loops need a constant extent greater than one"
	case ErrorBadFold:
		return "the requested storage fold cannot be proved safe"
	case ErrorBadTarget:
		return "the target description is invalid"
	default:
		return "unknown error"
	}
}
