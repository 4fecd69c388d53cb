package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderAssemblesDiagnostic(t *testing.T) {
	err := New(ErrorBadComputeAt, "compute_at(f, x) is not a loop of any consumer of g").
		InFunc("g").
		InStage(0).
		OnDirective("compute_at").
		WithNote("g is consumed by f at f.s0.y").
		WithHelp("legal levels are loops enclosing every use of the function").
		Build()

	assert.Equal(t, Error, err.Level)
	assert.Equal(t, ErrorBadComputeAt, err.Code)
	assert.Equal(t, "g.s0: compute_at", err.Locus.String())
	assert.Contains(t, err.Error(), "error[L0001]")
	assert.Contains(t, err.Error(), "(in g.s0: compute_at)")
}

func TestErrorListErr(t *testing.T) {
	var el ErrorList
	assert.NoError(t, el.Err())

	el = append(el, NewWarning(ErrorBadFold, "storage fold may be unsafe").Build())
	assert.NoError(t, el.Err())

	el = append(el, New(ErrorBadFold, "cannot fold").Build())
	assert.Error(t, el.Err())
	assert.Contains(t, el.Error(), "cannot fold")
}

func TestReporterFormat(t *testing.T) {
	r := NewReporter("blur")
	out := r.Format(New(ErrorNonConstantVectorExtent,
		"the extent of vectorized loop f.s0.x must be a constant greater than one").
		OnDirective("f.s0.x").Build())

	assert.Contains(t, out, "L0200")
	assert.Contains(t, out, "blur")
	assert.Contains(t, out, "-->")
	assert.Contains(t, out, GetErrorDescription(ErrorNonConstantVectorExtent))
}

func TestReporterFormatAllCountsErrors(t *testing.T) {
	r := NewReporter("p")
	el := ErrorList{
		New(ErrorBadComputeAt, "one").Build(),
		New(ErrorBadStoreAt, "two").Build(),
	}
	out := r.FormatAll(el)
	assert.True(t, strings.Contains(out, "2 previous error(s)"))
}

func TestGetErrorDescriptionUnknown(t *testing.T) {
	assert.Equal(t, "unknown error", GetErrorDescription("L9999"))
}
