package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/iotistic/supervisor/pkg/engine"
)

// Gate screens planned steps through Rego policies before the engine executes
// them. It implements the PolicyGate interface from pkg/engine/interfaces.go:
// a violation at deny severity removes the step from the plan and surfaces it
// as a step error in the pass result; warnings are logged only.
type Gate struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	logger      zerolog.Logger
	environment string
}

var _ engine.PolicyGate = (*Gate)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithEnvironment sets the environment name exposed to policies as
// input.context.environment.
func WithEnvironment(env string) GateOption {
	return func(g *Gate) { g.environment = env }
}

// NewGate creates a policy gate with the built-in policies loaded.
func NewGate(logger zerolog.Logger, opts ...GateOption) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, builtin := range GetBuiltinPolicies() {
		p := builtin
		if err := g.compileAndStorePolicy(&p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	g.logger.Info().Int("count", len(g.policies)).Msg("Built-in policies loaded")
	return g, nil
}

// Check partitions the steps into allowed and denied. The returned error
// indicates a gate malfunction; individual policy evaluation failures are
// logged and the affected policy skipped, so one broken policy never takes
// reconciliation down with it.
func (g *Gate) Check(ctx context.Context, kind engine.Kind, steps []engine.Step) ([]engine.Step, []engine.StepError, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	summary := summarize(steps)
	evalCtx := &Context{
		Environment: g.environment,
		Timestamp:   time.Now(),
	}

	var allowed []engine.Step
	var denied []engine.StepError

	for i := range steps {
		step := steps[i]
		violations := g.evaluateStep(ctx, kind, &step, summary, evalCtx)

		var denial *Violation
		for j := range violations {
			v := &violations[j]
			if v.Severity.Denies() {
				denial = v
				break
			}
			g.logger.Warn().
				Str("policy", v.Policy).
				Str("resource_id", v.Resource).
				Str("severity", string(v.Severity)).
				Msg(v.Message)
		}

		if denial != nil {
			denied = append(denied, engine.StepError{
				ResourceID: step.Resource.ID,
				Message:    fmt.Sprintf("denied by policy %s: %s", denial.Policy, denial.Message),
			})
			continue
		}
		allowed = append(allowed, step)
	}

	return allowed, denied, nil
}

// evaluateStep runs every enabled policy against one step.
func (g *Gate) evaluateStep(ctx context.Context, kind engine.Kind, step *engine.Step, summary *PlanSummary, evalCtx *Context) []Violation {
	input := &Input{
		Kind:    kind,
		Step:    step,
		Plan:    summary,
		Context: evalCtx,
	}

	var all []Violation
	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			g.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("resource_id", step.Resource.ID).
				Msg("Policy evaluation failed, policy skipped")
			continue
		}
		all = append(all, violations...)
	}

	return all
}

// evaluatePolicy queries the deny set of a single compiled policy.
func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, g.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation converts a deny result into a Violation. A deny entry may
// be a plain message string or an object carrying message/severity/resource
// overrides.
func (g *Gate) createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}
	if input.Step != nil {
		violation.Resource = input.Step.Resource.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// LoadPolicies loads additional policy files on top of the built-ins.
// Policies with the same name replace earlier ones, so an operator can
// override a built-in by shipping a file with its name.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(g.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range policies {
		if err := g.compileAndStorePolicy(&policies[i]); err != nil {
			g.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// ReplacePolicies swaps in a new policy set, keeping the built-ins. Used by
// the loader's file watcher on reload.
func (g *Gate) ReplacePolicies(policies []Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.policies = make(map[string]*compiledPolicy)
	for _, builtin := range GetBuiltinPolicies() {
		p := builtin
		if err := g.compileAndStorePolicy(&p); err != nil {
			return fmt.Errorf("failed to recompile built-in policy %s: %w", p.Name, err)
		}
	}
	for i := range policies {
		if err := g.compileAndStorePolicy(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	return nil
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Gate) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold mu.
func (g *Gate) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	g.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	g.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled successfully")
	return nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoSrc string) string {
	lines := strings.Split(regoSrc, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "supervisor.policies"
}

// summarize builds the plan-wide aggregate visible to policies.
func summarize(steps []engine.Step) *PlanSummary {
	s := &PlanSummary{Total: len(steps)}
	for _, step := range steps {
		switch step.Action {
		case engine.ActionAdd:
			s.Adds++
		case engine.ActionUpdate:
			s.Updates++
		case engine.ActionRemove:
			s.Removes++
		}
	}
	return s
}
