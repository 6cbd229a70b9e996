package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsercontrol/internal/apxerrors"
)

func TestValidateRejectsUnrecognizedParameter(t *testing.T) {
	schema := Schema{Params: []ParamSpec{{Name: "url", Kind: KindString, Required: true}}}
	err := Validate(schema, Params{"url": "https://example.test", "extra": "nope"})
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeValidation, apxerrors.CodeOf(err))
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	schema := Schema{Params: []ParamSpec{{Name: "url", Kind: KindString, Required: true}}}
	err := Validate(schema, Params{})
	require.Error(t, err)
}

func TestValidateEnforcesStringLengthCap(t *testing.T) {
	schema := Schema{Params: []ParamSpec{{Name: "selector", Kind: KindString, MaxLength: 4}}}
	err := Validate(schema, Params{"selector": "too-long"})
	require.Error(t, err)
}

func TestValidateEnforcesEnumMembership(t *testing.T) {
	schema := Schema{Params: []ParamSpec{{Name: "kind", Kind: KindString, EnumValues: []string{"cookies", "local-storage"}}}}
	err := Validate(schema, Params{"kind": "sessionStorage"})
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedParams(t *testing.T) {
	schema := Schema{Params: []ParamSpec{
		{Name: "url", Kind: KindString, Required: true, MaxLength: 2048},
	}}
	err := Validate(schema, Params{"url": "https://example.test/"})
	assert.NoError(t, err)
}

func TestRegistryLookupUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("does_not_exist")
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeUnknownTool, apxerrors.CodeOf(err))
}

func TestValidateURLSchemeRejectsDisallowedProtocol(t *testing.T) {
	err := validateURLScheme("javascript:alert(1)")
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeValidation, apxerrors.CodeOf(err))
}

func TestValidateURLSchemeAcceptsHTTPS(t *testing.T) {
	assert.NoError(t, validateURLScheme("https://example.test/"))
}
