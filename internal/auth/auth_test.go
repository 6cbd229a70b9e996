package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/audit"
	"browsercontrol/internal/config"
	"browsercontrol/internal/metrics"
)

func TestAuthDisabledGrantsWildcardContext(t *testing.T) {
	gate := NewGate(config.AuthConfig{Enabled: false}, audit.NewLog(), metrics.NewRegistry())

	ctx, err := gate.Authenticate(nil, "1.2.3.4", true)
	require.NoError(t, err)
	assert.True(t, ctx.Authenticated)

	err = gate.Authorize(ctx, "extraction", "delete_anything", nil)
	assert.NoError(t, err)
}

func TestWildcardPermissionMatching(t *testing.T) {
	gate := NewGate(config.AuthConfig{Enabled: true, Providers: []string{"api-key"}}, audit.NewLog(), metrics.NewRegistry())
	ctx := &Context{
		UserID: "tester",
		Permissions: []Permission{
			{Resource: "extraction", Action: "get*"},
			{Resource: "extraction", Action: "take*"},
		},
		Authenticated: true,
	}

	assert.NoError(t, gate.Authorize(ctx, "extraction", "get_element_text", nil))
	assert.NoError(t, gate.Authorize(ctx, "extraction", "take_screenshot", nil))

	err := gate.Authorize(ctx, "extraction", "delete_anything", nil)
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodePermissionDenied, apxerrors.CodeOf(err))
}

func TestAPIKeyAuthentication(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:   true,
		Providers: []string{"api-key"},
		APIKeys: []config.APIKeyConfig{
			{Key: "secret-key", Identity: "svc-a", Permissions: []string{"navigation:*"}},
		},
	}
	gate := NewGate(cfg, audit.NewLog(), metrics.NewRegistry())

	ctx, err := gate.Authenticate(map[string]string{"X-Api-Key": "secret-key"}, "1.2.3.4", true)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", ctx.UserID)

	_, err = gate.Authenticate(map[string]string{"X-Api-Key": "wrong-key"}, "1.2.3.4", true)
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeAuthFailed, apxerrors.CodeOf(err))
}

func TestRateLimitEnforcement(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:         true,
		GlobalRateLimit: &config.RateLimitConfig{Points: 3, WindowSeconds: 1},
	}
	gate := NewGate(cfg, audit.NewLog(), metrics.NewRegistry())
	ctx := &Context{Authenticated: true, Permissions: []Permission{{Resource: "*", Action: "*"}}}

	for i := 0; i < 3; i++ {
		assert.NoError(t, gate.Authorize(ctx, "session", "list", nil))
	}
	err := gate.Authorize(ctx, "session", "list", nil)
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeRateLimited, apxerrors.CodeOf(err))
}

func TestAddressDenyListTakesPrecedence(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:          true,
		AddressAllowList: []string{"10.0.0.*"},
		AddressDenyList:  []string{"10.0.0.5"},
	}
	gate := NewGate(cfg, audit.NewLog(), metrics.NewRegistry())

	_, err := gate.Authenticate(nil, "10.0.0.5", true)
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeAuthFailed, apxerrors.CodeOf(err))
}

func TestRoleInheritanceExpandsPermissions(t *testing.T) {
	gate := NewGate(config.AuthConfig{Enabled: true}, audit.NewLog(), metrics.NewRegistry())
	require.NoError(t, gate.RegisterRole(Role{Name: "base", Permissions: []Permission{{Resource: "session", Action: "list"}}}))
	require.NoError(t, gate.RegisterRole(Role{Name: "admin", Inherits: []string{"base"}, Permissions: []Permission{{Resource: "session", Action: "create"}}}))

	perms := gate.permissionsFor([]string{"admin"})
	assert.Len(t, perms, 2)
}

func TestPermissionConditionMustMatchRequestContext(t *testing.T) {
	gate := NewGate(config.AuthConfig{Enabled: true}, audit.NewLog(), metrics.NewRegistry())
	ctx := &Context{
		Authenticated: true,
		Permissions: []Permission{
			{Resource: "session", Action: "create", Conditions: map[string]string{"kind": "chromium-like"}},
		},
	}

	assert.NoError(t, gate.Authorize(ctx, "session", "create", map[string]string{"kind": "chromium-like"}))

	err := gate.Authorize(ctx, "session", "create", map[string]string{"kind": "firefox-like"})
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodePermissionDenied, apxerrors.CodeOf(err))

	err = gate.Authorize(ctx, "session", "create", nil)
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodePermissionDenied, apxerrors.CodeOf(err))
}

func TestRoleInheritanceCycleRejected(t *testing.T) {
	gate := NewGate(config.AuthConfig{Enabled: true}, audit.NewLog(), metrics.NewRegistry())
	require.NoError(t, gate.RegisterRole(Role{Name: "a", Inherits: []string{"b"}}))
	err := gate.RegisterRole(Role{Name: "b", Inherits: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, apxerrors.CodeValidation, apxerrors.CodeOf(err))
}
