package engine

// PlanOrder is the order in which step groups are emitted. The default
// (add, remove, update) mirrors the control plane's long-standing behavior;
// it is a policy choice, not an architectural necessity, so it is exposed as
// a planner option rather than hard-coded.
type PlanOrder [3]Action

// DefaultPlanOrder emits all adds, then all removes, then all updates.
var DefaultPlanOrder = PlanOrder{ActionAdd, ActionRemove, ActionUpdate}

// Validate checks that the order is a permutation of the three actions.
func (o PlanOrder) Validate() error {
	seen := make(map[Action]bool, 3)
	for _, a := range o {
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a] {
			return NewValidationError("plan order repeats an action", nil)
		}
		seen[a] = true
	}
	return nil
}

// Planner computes the ordered set of steps that transforms a current state
// into a target state. It is pure: no I/O, no side effects, deterministic
// for a given pair of states.
type Planner struct {
	order PlanOrder
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlanOrder overrides the step group emission order.
func WithPlanOrder(order PlanOrder) PlannerOption {
	return func(p *Planner) {
		p.order = order
	}
}

// NewPlanner creates a planner with the default step ordering.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{order: DefaultPlanOrder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan diffs target against current and returns the steps to converge.
//
// A resource present only in target yields an add; present only in current,
// a remove; present in both with structurally unequal specs, an update
// carrying the target's spec. Unchanged resources yield no step, which is
// what gives the engine its idempotence guarantee. Within each group, steps
// preserve target iteration order (adds, updates) or current iteration order
// (removes) for determinism.
//
// Duplicate ids in either state are an invariant violation and fail the
// whole plan; no partial step list is returned.
func (p *Planner) Plan(target, current State) ([]Step, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := current.Validate(); err != nil {
		return nil, err
	}

	targetIdx := target.index()
	currentIdx := current.index()

	var adds, updates, removes []Step

	for _, res := range target {
		i, exists := currentIdx[res.ID]
		if !exists {
			adds = append(adds, Step{Action: ActionAdd, Resource: res.Clone()})
			continue
		}
		if !SpecEqual(res.Spec, current[i].Spec) {
			updates = append(updates, Step{Action: ActionUpdate, Resource: res.Clone()})
		}
	}

	for _, res := range current {
		if _, exists := targetIdx[res.ID]; !exists {
			// Identity plus labels: the spec is not needed to remove, but
			// labels let the policy gate match protected resources.
			removed := Resource{ID: res.ID}
			if res.Labels != nil {
				removed.Labels = res.Clone().Labels
			}
			removes = append(removes, Step{Action: ActionRemove, Resource: removed})
		}
	}

	steps := make([]Step, 0, len(adds)+len(removes)+len(updates))
	for _, action := range p.order {
		switch action {
		case ActionAdd:
			steps = append(steps, adds...)
		case ActionRemove:
			steps = append(steps, removes...)
		case ActionUpdate:
			steps = append(steps, updates...)
		}
	}

	return steps, nil
}
