package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/iotistic/supervisor/pkg/telemetry"
)

// Engine drives one resource kind toward its declared target state. It owns
// the full reconciliation cycle: diff the target against the believed current
// state, execute the resulting steps one at a time through the adapter,
// persist a snapshot after every applied change, and publish lifecycle
// events.
//
// At most one pass per engine is in flight at any time. Targets submitted
// while a pass runs supersede each other: only the newest pending target is
// reconciled next, intermediate ones are skipped entirely.
type Engine struct {
	kind     Kind
	adapter  Adapter
	store    StateStore
	planner  *Planner
	executor *stepExecutor
	notifier Notifier
	gate     PolicyGate
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	logger   zerolog.Logger

	// mu guards the mutable engine state below.
	mu            sync.Mutex
	phase         Phase
	target        State
	current       State
	pendingTarget State
	pendingGen    uint64
	appliedGen    uint64
	lastResult    *Result

	// runMu serializes reconciliation passes. Held only by the goroutine
	// currently executing a pass, never while waiting on engine state.
	runMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger the engine and its executor log through.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNotifier sets the sink for lifecycle events. Without one, events are
// not published.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPolicyGate installs a gate that screens each plan before execution.
func WithPolicyGate(g PolicyGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithPlanner replaces the default planner, e.g. to change step ordering.
func WithPlanner(p *Planner) Option {
	return func(e *Engine) { e.planner = p }
}

// WithMetrics attaches a metrics collector. A nil collector is safe.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches a tracer that spans each pass and step.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine for one resource kind. The adapter and store are
// mandatory; everything else is optional.
func New(kind Kind, adapter Adapter, store StateStore, opts ...Option) (*Engine, error) {
	if err := kind.Validate(); err != nil {
		return nil, NewValidationError("invalid engine kind", err)
	}
	if adapter == nil {
		return nil, NewValidationError("engine requires an adapter", nil).WithKind(kind)
	}
	if store == nil {
		return nil, NewValidationError("engine requires a state store", nil).WithKind(kind)
	}

	e := &Engine{
		kind:    kind,
		adapter: adapter,
		store:   store,
		planner: NewPlanner(),
		phase:   PhaseUninitialized,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With().Str("kind", string(kind)).Logger()
	e.executor = newStepExecutor(adapter, e.logger)

	return e, nil
}

// Kind returns the resource kind this engine reconciles.
func (e *Engine) Kind() Kind {
	return e.kind
}

// Phase returns the engine's current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// CurrentState returns a copy of the state the engine believes exists.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// TargetState returns a copy of the most recently accepted target.
func (e *Engine) TargetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target.Clone()
}

// LastResult returns the outcome of the most recently completed pass, or nil
// when no pass has run yet.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// Start loads the persisted snapshot and moves the engine to idle. A missing
// snapshot means a first boot: the engine starts from an empty current state.
// A corrupt or unreadable snapshot is logged and likewise treated as empty,
// so a damaged state file never blocks the supervisor from starting.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseUninitialized {
		e.mu.Unlock()
		return NewValidationError("engine already started", nil).WithKind(e.kind)
	}
	e.phase = PhaseLoading
	e.mu.Unlock()

	snap, err := e.store.Load(ctx, e.kind)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case err != nil:
		e.logger.Error().Err(err).Msg("Failed to load snapshot, starting from empty state")
		e.current = State{}
	case snap == nil:
		e.logger.Info().Msg("No prior snapshot, starting from empty state")
		e.current = State{}
	default:
		e.current = snap.State.Clone()
		e.logger.Info().
			Int("resources", len(e.current)).
			Str("pass_id", snap.PassID).
			Time("saved_at", snap.SavedAt).
			Msg("Restored state from snapshot")
	}

	e.metrics.SetCurrentResources(string(e.kind), float64(len(e.current)))
	e.phase = PhaseIdle
	return nil
}

// SetTarget submits a new target state and reconciles toward it. The target
// is validated and deep-copied before the call returns control of the input
// to the caller.
//
// If a pass is already running, the target is queued as the single pending
// target, replacing any previously queued one, and SetTarget blocks until a
// pass covering a target at least as new as this one completes. The returned
// result may therefore belong to a newer target that superseded this one.
func (e *Engine) SetTarget(ctx context.Context, target State) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.phase == PhaseUninitialized || e.phase == PhaseLoading {
		e.mu.Unlock()
		return nil, NewValidationError("engine not started", nil).WithKind(e.kind)
	}
	e.pendingTarget = target.Clone()
	e.pendingGen++
	gen := e.pendingGen
	e.mu.Unlock()

	e.metrics.SetTargetResources(string(e.kind), float64(len(target)))

	return e.drain(ctx, gen)
}

// Reconcile re-runs a pass against the already accepted target without
// changing it. It is the drift-repair entry point: if the external system
// diverged behaviorally there is nothing to do, but after a failed pass it
// retries the steps that did not apply.
func (e *Engine) Reconcile(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.phase == PhaseUninitialized || e.phase == PhaseLoading {
		e.mu.Unlock()
		return nil, NewValidationError("engine not started", nil).WithKind(e.kind)
	}
	e.pendingTarget = e.target.Clone()
	e.pendingGen++
	gen := e.pendingGen
	e.mu.Unlock()

	return e.drain(ctx, gen)
}

// drain runs passes until the given generation has been covered by one.
// Multiple callers may wait here; whichever acquires runMu executes the
// newest pending target, and the others observe its result.
func (e *Engine) drain(ctx context.Context, gen uint64) (*Result, error) {
	for {
		e.mu.Lock()
		if e.appliedGen >= gen {
			res := e.lastResult
			e.mu.Unlock()
			return res, nil
		}
		e.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.runMu.Lock()

		e.mu.Lock()
		if e.appliedGen >= gen {
			res := e.lastResult
			e.mu.Unlock()
			e.runMu.Unlock()
			return res, nil
		}
		target := e.pendingTarget.Clone()
		passGen := e.pendingGen
		e.target = e.pendingTarget
		e.phase = PhaseReconciling
		e.mu.Unlock()

		result, err := e.runPass(ctx, target)

		e.mu.Lock()
		e.appliedGen = passGen
		if result != nil {
			e.lastResult = result
		}
		e.phase = PhaseIdle
		e.mu.Unlock()

		e.runMu.Unlock()

		if err != nil {
			return nil, err
		}
	}
}

// runPass executes a single reconciliation pass against the given target.
// It returns an error only for plan failures; step failures are recorded in
// the result and the pass continues past them.
func (e *Engine) runPass(ctx context.Context, target State) (*Result, error) {
	passID := uuid.New().String()
	started := time.Now()
	logger := e.logger.With().Str("pass_id", passID).Logger()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartPassSpan(ctx, string(e.kind), passID)
		defer span.End()
	}

	e.mu.Lock()
	current := e.current.Clone()
	e.mu.Unlock()

	steps, err := e.planner.Plan(target, current)
	if err != nil {
		logger.Error().Err(err).Msg("Planning failed, pass aborted")
		e.metrics.RecordReconcileCompleted(string(e.kind), "plan_error", time.Since(started))
		if span != nil {
			telemetry.RecordError(span, err)
		}
		return nil, err
	}

	result := &Result{PassID: passID}

	if e.gate != nil && len(steps) > 0 {
		allowed, denied, gateErr := e.gate.Check(ctx, e.kind, steps)
		if gateErr != nil {
			logger.Error().Err(gateErr).Msg("Policy gate failed, executing plan unfiltered")
		} else {
			actions := make(map[string]Action, len(steps))
			for _, s := range steps {
				actions[s.Resource.ID] = s.Action
			}
			for _, d := range denied {
				logger.Warn().Str("resource_id", d.ResourceID).Str("reason", d.Message).Msg("Step denied by policy")
				e.metrics.RecordPolicyDenial(string(e.kind), string(actions[d.ResourceID]))
			}
			result.Errors = append(result.Errors, denied...)
			steps = allowed
		}
	}

	logger.Info().
		Int("steps", len(steps)).
		Int("target_resources", len(target)).
		Int("current_resources", len(current)).
		Msg("Reconciliation pass started")

	e.metrics.RecordReconcileStarted()

	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn().Err(ctxErr).Msg("Pass interrupted, remaining steps skipped")
			result.Errors = append(result.Errors, StepError{
				ResourceID: step.Resource.ID,
				Message:    "pass cancelled: " + ctxErr.Error(),
			})
			continue
		}

		stepStart := time.Now()
		stepErr := e.executor.Execute(ctx, step)
		if stepErr != nil {
			e.metrics.RecordStep(string(e.kind), string(step.Action), "error", time.Since(stepStart))
			result.Errors = append(result.Errors, *stepErr)
			continue
		}
		e.metrics.RecordStep(string(e.kind), string(step.Action), "success", time.Since(stepStart))

		e.applyStep(ctx, step, passID, result, logger)
	}

	result.Success = len(result.Errors) == 0
	result.Timestamp = time.Now()
	result.Duration = time.Since(started)

	status := "success"
	if !result.Success {
		status = "partial_failure"
	}
	e.metrics.RecordReconcileCompleted(string(e.kind), status, result.Duration)
	if span != nil && result.Success {
		telemetry.RecordSuccess(span)
	}

	logger.Info().
		Bool("success", result.Success).
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("removed", result.Removed).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Reconciliation pass complete")

	e.publish(Event{
		Type:   EventReconcileComplete,
		Kind:   e.kind,
		PassID: passID,
		Result: result,
	})

	return result, nil
}

// applyStep records a successfully executed step: it mutates the current
// state, persists the new snapshot, updates counters and emits the resource
// event. Snapshot write failures are logged and counted but do not fail the
// step; the change is already applied externally.
func (e *Engine) applyStep(ctx context.Context, step Step, passID string, result *Result, logger zerolog.Logger) {
	e.mu.Lock()
	switch step.Action {
	case ActionAdd:
		e.current = append(e.current, step.Resource.Clone())
	case ActionUpdate:
		if i, ok := e.current.index()[step.Resource.ID]; ok {
			e.current[i] = step.Resource.Clone()
		}
	case ActionRemove:
		if i, ok := e.current.index()[step.Resource.ID]; ok {
			e.current = append(e.current[:i], e.current[i+1:]...)
		}
	}
	snap := &Snapshot{
		Kind:    e.kind,
		State:   e.current.Clone(),
		PassID:  passID,
		SavedAt: time.Now(),
	}
	count := len(e.current)
	e.mu.Unlock()

	if err := e.store.Save(ctx, snap); err != nil {
		logger.Error().
			Err(err).
			Str("resource_id", step.Resource.ID).
			Msg("Failed to persist snapshot after step")
		e.metrics.RecordSnapshotSaveFailure(string(e.kind))
	}

	e.metrics.SetCurrentResources(string(e.kind), float64(count))

	event := Event{Kind: e.kind, PassID: passID}
	switch step.Action {
	case ActionAdd:
		result.Added++
		res := step.Resource.Clone()
		event.Type = EventResourceAdded
		event.Resource = &res
	case ActionUpdate:
		result.Updated++
		res := step.Resource.Clone()
		event.Type = EventResourceUpdated
		event.Resource = &res
	case ActionRemove:
		result.Removed++
		event.Type = EventResourceRemoved
		event.ResourceID = step.Resource.ID
	}
	e.publish(event)
}

func (e *Engine) publish(event Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(event); err != nil {
		e.logger.Debug().Err(err).Str("event_type", string(event.Type)).Msg("Event not published")
	}
}
