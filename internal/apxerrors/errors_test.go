package apxerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfExtractsCode(t *testing.T) {
	err := New(CodeValidation, "bad input")
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestCodeOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestWithFieldAndWithHintDoNotMutateOriginal(t *testing.T) {
	base := New(CodeValidation, "bad input")
	annotated := base.WithField("url", "ftp://x").WithHint("use http or https")

	assert.Empty(t, base.Field)
	assert.Equal(t, "url", annotated.Field)
	assert.Equal(t, "use http or https", annotated.Troubleshooting)
}

func TestValidationErrorsAccumulate(t *testing.T) {
	ve := ValidationErrs()
	assert.True(t, ve.Empty())

	ve.Add("port", "out of range")
	ve.Add("logLevel", "unrecognized")

	assert.False(t, ve.Empty())
	err := ve.Err()
	assert.Equal(t, CodeValidation, CodeOf(err))

	fields, messages := ve.Fields()
	assert.Equal(t, []string{"port", "logLevel"}, fields)
	assert.Equal(t, []string{"out of range", "unrecognized"}, messages)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(CodeInternal, "wrapped", cause)
	assert.ErrorIs(t, wrapped, cause)
}
