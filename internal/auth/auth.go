// Package auth is the Permission & Auth Gate (spec §4.4): it
// authenticates an incoming caller, resolves their permissions, and
// enforces rate limits and address allow/deny lists before a Tool
// Dispatcher invocation is allowed to bind a session.
package auth

import (
	"crypto/subtle"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/audit"
	"browsercontrol/internal/config"
	"browsercontrol/internal/logging"
	"browsercontrol/internal/metrics"
)

// Permission is a (resource, action, optional condition map) pattern
// (spec §3, §4.4). Resource and Action allow trailing-`*` wildcards.
// Conditions, when present, support only equality: every key in the map
// must equal the corresponding key in the request context for the
// permission to grant access — there is no operator beyond equals.
type Permission struct {
	Resource   string
	Action     string
	Conditions map[string]string
}

// Matches reports whether p covers the concrete (resource, action) pair
// for the given request context (spec §4.4 step 3: "whose conditions
// are all satisfied by the request context"). requestContext may be nil
// when the permission being checked carries no Conditions.
func (p Permission) Matches(resource, action string, requestContext map[string]string) bool {
	if !wildcardMatch(p.Resource, resource) || !wildcardMatch(p.Action, action) {
		return false
	}
	for key, want := range p.Conditions {
		if requestContext[key] != want {
			return false
		}
	}
	return true
}

func wildcardMatch(pattern, value string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// Role is a named set of Permissions that may inherit from other roles
// (spec §4.4). Inheritance is expanded transitively at check time;
// cycles are rejected at registration.
type Role struct {
	Name        string
	Permissions []Permission
	Inherits    []string
}

// Identity is a resolved caller: its roles and its rate-limit key.
type Identity struct {
	ID    string
	Roles []string
}

// Context is the AuthContext entity (spec §3): identity and rights
// attached to one in-flight call. It lives only for the request.
type Context struct {
	UserID          string
	Permissions     []Permission
	RateLimitKey    string
	SourceAddress   string
	Authenticated   bool
}

// unauthenticatedWildcard is the synthetic full-access context spec
// §4.4 grants every request when auth is disabled.
var unauthenticatedWildcard = []Permission{{Resource: "*", Action: "*"}}

// Gate implements spec §4.4.
type Gate struct {
	cfg     config.AuthConfig
	log     *audit.Log
	metrics *metrics.Registry

	mu    sync.RWMutex
	roles map[string]Role

	apiKeys map[string]config.APIKeyConfig

	globalLimiter *rate.Limiter
	identLimiters map[string]*rate.Limiter
	limMu         sync.Mutex
}

// NewGate builds a Gate from configuration. Role registration happens
// separately via RegisterRole so callers can detect inheritance cycles
// before the gate starts serving requests. reg records an
// auth-decisions-per-second counter (spec's supplemented metrics
// surface); pass metrics.NewRegistry() when no shared registry exists.
func NewGate(cfg config.AuthConfig, log *audit.Log, reg *metrics.Registry) *Gate {
	g := &Gate{
		cfg:           cfg,
		log:           log,
		metrics:       reg,
		roles:         make(map[string]Role),
		apiKeys:       make(map[string]config.APIKeyConfig),
		identLimiters: make(map[string]*rate.Limiter),
	}

	for _, k := range cfg.APIKeys {
		g.apiKeys[k.Key] = k
	}

	if cfg.GlobalRateLimit != nil {
		g.globalLimiter = rateLimiterFrom(*cfg.GlobalRateLimit)
	}

	return g
}

func rateLimiterFrom(rl config.RateLimitConfig) *rate.Limiter {
	window := time.Duration(rl.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Second
	}
	perSecond := float64(rl.Points) / window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rl.Points)
}

// RegisterRole adds or replaces a role. It rejects inheritance cycles
// (spec §4.4: "cycles forbidden; detected at role registration,
// rejected").
func (g *Gate) RegisterRole(role Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	trial := make(map[string]Role, len(g.roles)+1)
	for k, v := range g.roles {
		trial[k] = v
	}
	trial[role.Name] = role

	if cycle := detectCycle(trial, role.Name, map[string]bool{}); cycle {
		return apxerrors.New(apxerrors.CodeValidation, "role inheritance cycle detected").WithField("role", role.Name)
	}

	g.roles[role.Name] = role
	return nil
}

func detectCycle(roles map[string]Role, name string, visiting map[string]bool) bool {
	if visiting[name] {
		return true
	}
	visiting[name] = true
	defer delete(visiting, name)

	role, ok := roles[name]
	if !ok {
		return false
	}
	for _, parent := range role.Inherits {
		if detectCycle(roles, parent, visiting) {
			return true
		}
	}
	return false
}

// permissionsFor expands a set of role names through inheritance,
// unioning direct and inherited permissions (spec §4.4 step 2).
func (g *Gate) permissionsFor(roleNames []string) []Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seenRoles := make(map[string]bool)
	var perms []Permission

	var expand func(name string)
	expand = func(name string) {
		if seenRoles[name] {
			return
		}
		seenRoles[name] = true
		role, ok := g.roles[name]
		if !ok {
			return
		}
		perms = append(perms, role.Permissions...)
		for _, parent := range role.Inherits {
			expand(parent)
		}
	}
	for _, name := range roleNames {
		expand(name)
	}
	return perms
}

// Authenticate resolves an incoming request's identity from the
// configured providers, tried in order, first success wins (spec §4.4).
// headers is opaque caller-supplied metadata (e.g. "Authorization",
// "X-Api-Key").
func (g *Gate) Authenticate(headers map[string]string, sourceAddress string, secureTransport bool) (*Context, error) {
	if !g.cfg.Enabled {
		return &Context{Authenticated: true, Permissions: unauthenticatedWildcard, SourceAddress: sourceAddress}, nil
	}

	if g.cfg.RequireSecureTransport && !secureTransport {
		return nil, apxerrors.New(apxerrors.CodeAuthRequired, "secure transport required")
	}

	if denied := matchesAny(sourceAddress, g.cfg.AddressDenyList); denied {
		return nil, apxerrors.New(apxerrors.CodeAuthFailed, "source address denied").WithField("sourceAddress", sourceAddress)
	}
	if len(g.cfg.AddressAllowList) > 0 && !matchesAny(sourceAddress, g.cfg.AddressAllowList) {
		return nil, apxerrors.New(apxerrors.CodeAuthFailed, "source address not in allow list").WithField("sourceAddress", sourceAddress)
	}

	for _, provider := range g.cfg.Providers {
		switch provider {
		case "api-key":
			if ctx, ok := g.tryAPIKey(headers, sourceAddress); ok {
				return ctx, nil
			}
		case "bearer-token":
			if ctx, ok := g.tryBearerToken(headers, sourceAddress); ok {
				return ctx, nil
			}
		case "external-oauth":
			// Delegated to an external collaborator outside core scope
			// (spec §1); no local verification path exists.
		}
	}

	return nil, apxerrors.New(apxerrors.CodeAuthFailed, "no provider accepted the supplied credentials")
}

func (g *Gate) tryAPIKey(headers map[string]string, sourceAddress string) (*Context, bool) {
	supplied := headers["X-Api-Key"]
	if supplied == "" {
		return nil, false
	}
	for key, rec := range g.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(supplied)) == 1 {
			perms := make([]Permission, 0, len(rec.Permissions))
			for _, p := range rec.Permissions {
				perms = append(perms, parsePermission(p))
			}
			return &Context{
				UserID:        rec.Identity,
				Permissions:   perms,
				RateLimitKey:  rec.Identity,
				SourceAddress: sourceAddress,
				Authenticated: true,
			}, true
		}
	}
	return nil, false
}

func parsePermission(s string) Permission {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Permission{Resource: s, Action: "*"}
	}
	return Permission{Resource: parts[0], Action: parts[1]}
}

func matchesAny(address string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchAddressPattern(address, pattern) {
			return true
		}
	}
	return false
}

func matchAddressPattern(address, pattern string) bool {
	if pattern == address {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(address, strings.TrimSuffix(pattern, "*"))
	}
	if _, ipNet, err := net.ParseCIDR(pattern); err == nil {
		ip := net.ParseIP(address)
		return ip != nil && ipNet.Contains(ip)
	}
	return false
}

// Authorize implements spec §4.4's check algorithm step 3 plus the
// rate-limit enforcement from spec §5's back-pressure policy. It matches
// against the permissions already on authCtx; it does not resolve roles
// or expand role inheritance (permissionsFor is not consulted). Every
// decision is appended to the audit log; denials are logged at warn.
// requestContext is matched against each candidate permission's
// Conditions (spec §4.4 step 3) and may be nil when the caller has none
// to offer.
func (g *Gate) Authorize(authCtx *Context, resource, action string, requestContext map[string]string) error {
	if !g.allow(authCtx.RateLimitKey) {
		g.record(authCtx, resource, action, false, "rate limited")
		return apxerrors.New(apxerrors.CodeRateLimited, "rate limit exceeded")
	}

	for _, p := range authCtx.Permissions {
		if p.Matches(resource, action, requestContext) {
			g.record(authCtx, resource, action, true, "")
			return nil
		}
	}

	g.record(authCtx, resource, action, false, "no matching permission")
	return apxerrors.New(apxerrors.CodePermissionDenied, "no permission grants this action").
		WithField("resource", resource).WithHint("request the " + resource + ":" + action + " permission")
}

func (g *Gate) allow(identity string) bool {
	if g.globalLimiter != nil && !g.globalLimiter.Allow() {
		return false
	}
	limit, ok := g.cfg.PerIdentityRateLimits[identity]
	if !ok {
		return true
	}

	g.limMu.Lock()
	lim, exists := g.identLimiters[identity]
	if !exists {
		lim = rateLimiterFrom(limit)
		g.identLimiters[identity] = lim
	}
	g.limMu.Unlock()

	return lim.Allow()
}

func (g *Gate) record(authCtx *Context, resource, action string, allowed bool, reason string) {
	g.log.Append(audit.Event{
		Timestamp: time.Now(),
		Identity:  authCtx.UserID,
		Resource:  resource,
		Action:    action,
		Allowed:   allowed,
		Reason:    reason,
	})
	g.metrics.Counter("browsercontrol_auth_decisions_total", "Total authorization decisions by outcome", map[string]string{"allowed": strconv.FormatBool(allowed)}).Inc()
	if !allowed {
		logging.Warn("permission check denied",
			zap.String("identity", authCtx.UserID),
			zap.String("resource", resource),
			zap.String("action", action),
			zap.String("reason", reason))
	}
}
