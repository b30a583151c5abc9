// Package permission implements the Tool Executor's permission check (4.F
// step 4: "Gate permission via PermissionGate(tool.permission_scope,
// environment, identity)"). Grounded on the teacher's
// features/policy/basic engine: allow/block sets with precedence, generalized
// from tool-id/tag filtering to scope-based gating.
package permission

import (
	"context"
	"strings"

	"github.com/runflow/engine/runstate"
)

// Decision is the outcome of a Gate check.
type Decision struct {
	Allowed bool
	// Reason is populated on denial, e.g. "scope_not_allowed_<scope>"
	// (4.F step 4's error-kind convention).
	Reason string
}

// Gate decides whether a tool call carrying permissionScope may proceed for
// identity in environment.
type Gate interface {
	Check(ctx context.Context, permissionScope string, environment string, identity runstate.Identity) (Decision, error)
}

// Options configures the basic Gate.
type Options struct {
	// AllowScopes restricts execution to these permission scopes. Empty
	// means no allowlist filter (everything not explicitly blocked passes).
	AllowScopes []string
	// BlockScopes denies these permission scopes outright, taking
	// precedence over AllowScopes.
	BlockScopes []string
	// BlockEnvironments denies any scope when running in one of these
	// environments (e.g. "production" without an explicit allow).
	BlockEnvironments []string
}

// basicGate implements Gate with static allow/block sets.
type basicGate struct {
	allow map[string]struct{}
	block map[string]struct{}
	envs  map[string]struct{}
}

// New builds a Gate from static scope allow/block lists.
func New(opts Options) Gate {
	return &basicGate{
		allow: toSet(opts.AllowScopes),
		block: toSet(opts.BlockScopes),
		envs:  toSet(opts.BlockEnvironments),
	}
}

func (g *basicGate) Check(ctx context.Context, permissionScope, environment string, identity runstate.Identity) (Decision, error) {
	if _, blocked := g.block[permissionScope]; blocked {
		return Decision{Allowed: false, Reason: "scope_not_allowed_" + permissionScope}, nil
	}
	if len(g.allow) > 0 {
		if _, ok := g.allow[permissionScope]; !ok {
			return Decision{Allowed: false, Reason: "scope_not_allowed_" + permissionScope}, nil
		}
	}
	if _, blockedEnv := g.envs[environment]; blockedEnv {
		return Decision{Allowed: false, Reason: "scope_not_allowed_" + environment}, nil
	}
	return Decision{Allowed: true}, nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
