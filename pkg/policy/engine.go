package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/ledgerline/depgraph/pkg/graph"
)

// Engine evaluates Rego policies against graph writes.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

type engineOptions struct {
	protected []string
	numeric   []string
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithProtected lists attributes, as "attr" or "Class.attr", that cannot be set.
func WithProtected(attrs ...string) Option {
	return func(o *engineOptions) { o.protected = append(o.protected, attrs...) }
}

// WithNumeric lists attributes, as "attr" or "Class.attr", that only accept numbers.
func WithNumeric(attrs ...string) Option {
	return func(o *engineOptions) { o.numeric = append(o.numeric, attrs...) }
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]interface{}{
			"depgraph": map[string]interface{}{
				"protected": toInterfaces(o.protected),
				"numeric":   toInterfaces(o.numeric),
			},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	builtin := GetBuiltinPolicies()
	for i := range builtin {
		if err := e.compileAndStorePolicy(context.Background(), &builtin[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtin[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(builtin)).Msg("Built-in policies loaded")

	return e, nil
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// LoadPolicies loads policy files and directories. A policy with the name of
// an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// compileAndStorePolicy compiles a policy's deny query and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// Evaluate evaluates every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := &Result{Allowed: true, EvaluatedPolicies: names}
	node := ""
	if input.Write != nil {
		node = input.Write.Entity + "." + input.Write.Attribute
	}

	for _, name := range names {
		cp := e.policies[name]
		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation error: %w", name, err)
		}
		for _, r := range rs {
			for _, expr := range r.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, d := range denySet {
					v := createViolation(cp.policy, d)
					v.Node = node
					if v.Severity.Blocking() {
						result.Allowed = false
						result.Violations = append(result.Violations, v)
					} else {
						result.Warnings = append(result.Warnings, v)
					}
				}
			}
		}
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Str("node", node).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Write policy evaluation completed")

	return result, nil
}

// createViolation creates a Violation from one element of a deny set.
func createViolation(policy *Policy, d interface{}) Violation {
	v := Violation{Policy: policy.Name, Severity: policy.Severity}
	switch val := d.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", d)
	}
	return v
}

type actorKey struct{}

// WithActor records who is writing, for the input context of policies.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Guard returns a write guard that evaluates every write against the enabled
// policies. A denied write fails with WRITE_DENIED.
func (e *Engine) Guard(ctx context.Context) graph.WriteGuard {
	return func(w graph.Write) error {
		input := &Input{
			Write: &WriteInput{
				Entity:    w.Node.Entity,
				Attribute: w.Node.Attr,
				Kind:      w.Kind.String(),
				Value:     w.Value,
				Operation: w.Operation,
			},
			Context: &Context{Actor: actorFrom(ctx), Timestamp: time.Now()},
		}
		if w.Entity != nil {
			input.Write.Class = w.Entity.Class
		}

		result, err := e.Evaluate(ctx, input)
		if err != nil {
			return graph.NewProtocolError(fmt.Sprintf("%s of %s could not be checked", w.Operation, w.Node), err).
				WithCode(graph.ErrCodeWriteDenied).WithNode(w.Node)
		}
		for _, warn := range result.Warnings {
			e.logger.Warn().Str("policy", warn.Policy).Str("node", w.Node.String()).Msg(warn.Message)
		}
		if result.Allowed {
			return nil
		}

		messages := make([]string, len(result.Violations))
		policies := make([]string, len(result.Violations))
		for i, v := range result.Violations {
			messages[i] = v.Message
			policies[i] = v.Policy
		}
		return graph.NewProtocolError(strings.Join(messages, "; "), nil).
			WithCode(graph.ErrCodeWriteDenied).
			WithNode(w.Node).
			WithDetail("policies", policies)
	}
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}
