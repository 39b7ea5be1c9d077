package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Built-in access scopes.
const (
	ScopeBasic     = "basic"
	ScopeFinancial = "financial"
	ScopeAdmin     = "admin"
)

// Policy decides whether the active user may access a scope of its own data.
type Policy interface {
	Allow(ctx context.Context, req AccessRequest) (bool, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, req AccessRequest) (bool, error)

// Allow calls f.
func (f PolicyFunc) Allow(ctx context.Context, req AccessRequest) (bool, error) {
	return f(ctx, req)
}

// AccessRequest is what a policy sees. Record loads the requesting user's record lazily.
type AccessRequest struct {
	UserID string
	Scope  string
	store  *Store
}

// HasAccess reports whether the active user may access scope of userID's data. Access to
// another user's data is always refused. Unknown scopes are refused.
func (s *Store) HasAccess(ctx context.Context, userID, scope string) bool {
	if err := s.authorize(userID); err != nil {
		return false
	}

	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		scope = ScopeBasic
	}

	s.mu.RLock()
	policy, ok := s.policies[scope]
	s.mu.RUnlock()
	if !ok {
		s.log.Debug("access denied for unknown scope", slog.String("scope", scope))
		return false
	}

	allowed, err := policy.Allow(ctx, AccessRequest{UserID: userID, Scope: scope, store: s})
	if err != nil {
		s.log.Warn("access policy failed", slog.String("scope", scope), slog.Any("error", err))
		return false
	}
	return allowed
}

// RegisterPolicy installs or replaces the policy for scope.
func (s *Store) RegisterPolicy(scope string, policy Policy) error {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" || policy == nil {
		return fmt.Errorf("register policy: scope and policy are required")
	}

	s.mu.Lock()
	s.policies[scope] = policy
	s.mu.Unlock()
	return nil
}

func (s *Store) registerBuiltins() {
	s.policies[ScopeBasic] = PolicyFunc(func(context.Context, AccessRequest) (bool, error) {
		return true, nil
	})
	s.policies[ScopeFinancial] = PolicyFunc(func(ctx context.Context, req AccessRequest) (bool, error) {
		// Re-read the persisted session: another context may have signed out or switched user.
		stored, err := s.session.Stored(ctx)
		if err != nil {
			return false, nil
		}
		return stored.ID == req.UserID, nil
	})
	s.policies[ScopeAdmin] = PolicyFunc(func(context.Context, AccessRequest) (bool, error) {
		return false, nil
	})
}

// ExprPolicy compiles a boolean expression evaluated against the requesting user's record.
// Available variables: user_id, level, level_order, experience, cash, total_assets.
func ExprPolicy(expression string) (Policy, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("expression must not be empty")
	}

	program, err := exprlang.Compile(expression, exprlang.Env(policyEnv{}.sample()), exprlang.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile policy %q: %w", expression, err)
	}
	return &exprPolicy{program: program, expression: expression}, nil
}

type exprPolicy struct {
	program    *exprvm.Program
	expression string
}

func (p *exprPolicy) Allow(ctx context.Context, req AccessRequest) (bool, error) {
	if req.store == nil {
		return false, fmt.Errorf("policy %q: no store bound", p.expression)
	}

	rec, err := req.store.Load(ctx, req.UserID)
	if err != nil {
		return false, err
	}

	env := policyEnv{
		UserID:      rec.ID,
		Level:       rec.Level,
		LevelOrder:  req.store.table.DefinitionFor(rec.Level).Order,
		Experience:  rec.Experience,
		Cash:        rec.Cash,
		TotalAssets: rec.TotalAssets,
	}

	out, err := exprlang.Run(p.program, env.toMap())
	if err != nil {
		return false, fmt.Errorf("evaluate policy %q: %w", p.expression, err)
	}
	allowed, _ := out.(bool)
	return allowed, nil
}

type policyEnv struct {
	UserID      string
	Level       string
	LevelOrder  int
	Experience  int64
	Cash        float64
	TotalAssets float64
}

func (policyEnv) sample() map[string]any {
	return policyEnv{}.toMap()
}

func (e policyEnv) toMap() map[string]any {
	return map[string]any{
		"user_id":      e.UserID,
		"level":        e.Level,
		"level_order":  e.LevelOrder,
		"experience":   e.Experience,
		"cash":         e.Cash,
		"total_assets": e.TotalAssets,
	}
}
