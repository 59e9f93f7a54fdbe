package engine

import (
	"encoding/json"
	"testing"
)

func res(id, spec string) Resource {
	return Resource{ID: id, Spec: json.RawMessage(spec)}
}

func TestNewPlanner(t *testing.T) {
	planner := NewPlanner()

	if planner == nil {
		t.Fatal("Expected non-nil planner")
	}

	if planner.order != DefaultPlanOrder {
		t.Errorf("Expected default plan order, got %v", planner.order)
	}
}

func TestPlanner_Plan_EmptyStates(t *testing.T) {
	planner := NewPlanner()

	steps, err := planner.Plan(State{}, State{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(steps) != 0 {
		t.Errorf("Expected empty plan, got %d steps", len(steps))
	}
}

func TestPlanner_Plan_AddOnly(t *testing.T) {
	planner := NewPlanner()

	target := State{res("sensor-1", `{"host":"10.0.0.1"}`)}
	steps, err := planner.Plan(target, State{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(steps))
	}

	if steps[0].Action != ActionAdd {
		t.Errorf("Expected add action, got %s", steps[0].Action)
	}

	if steps[0].Resource.ID != "sensor-1" {
		t.Errorf("Expected resource sensor-1, got %s", steps[0].Resource.ID)
	}
}

func TestPlanner_Plan_RemoveOnly(t *testing.T) {
	planner := NewPlanner()

	current := State{res("sensor-1", `{"host":"10.0.0.1"}`)}
	steps, err := planner.Plan(State{}, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(steps))
	}

	if steps[0].Action != ActionRemove {
		t.Errorf("Expected remove action, got %s", steps[0].Action)
	}

	// Remove steps carry identity only, not the old spec.
	if steps[0].Resource.Spec != nil {
		t.Errorf("Expected nil spec on remove step, got %s", steps[0].Resource.Spec)
	}
}

func TestPlanner_Plan_UpdateOnChange(t *testing.T) {
	planner := NewPlanner()

	target := State{res("sensor-1", `{"host":"10.0.0.2"}`)}
	current := State{res("sensor-1", `{"host":"10.0.0.1"}`)}

	steps, err := planner.Plan(target, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(steps))
	}

	if steps[0].Action != ActionUpdate {
		t.Errorf("Expected update action, got %s", steps[0].Action)
	}

	if string(steps[0].Resource.Spec) != `{"host":"10.0.0.2"}` {
		t.Errorf("Expected update to carry the target spec, got %s", steps[0].Resource.Spec)
	}
}

func TestPlanner_Plan_NoStepForUnchanged(t *testing.T) {
	planner := NewPlanner()

	target := State{res("sensor-1", `{"host":"10.0.0.1","port":502}`)}
	current := State{res("sensor-1", `{"port":502,"host":"10.0.0.1"}`)}

	steps, err := planner.Plan(target, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Key order differs but the decoded values are equal.
	if len(steps) != 0 {
		t.Errorf("Expected empty plan for structurally equal specs, got %d steps", len(steps))
	}
}

func TestPlanner_Plan_DefaultGroupOrder(t *testing.T) {
	planner := NewPlanner()

	target := State{
		res("keep", `{"v":2}`),
		res("new", `{"v":1}`),
	}
	current := State{
		res("keep", `{"v":1}`),
		res("old", `{"v":1}`),
	}

	steps, err := planner.Plan(target, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(steps))
	}

	expected := []Action{ActionAdd, ActionRemove, ActionUpdate}
	for i, action := range expected {
		if steps[i].Action != action {
			t.Errorf("Step %d: expected %s, got %s", i, action, steps[i].Action)
		}
	}
}

func TestPlanner_Plan_CustomOrder(t *testing.T) {
	planner := NewPlanner(WithPlanOrder(PlanOrder{ActionRemove, ActionAdd, ActionUpdate}))

	target := State{
		res("keep", `{"v":2}`),
		res("new", `{"v":1}`),
	}
	current := State{
		res("keep", `{"v":1}`),
		res("old", `{"v":1}`),
	}

	steps, err := planner.Plan(target, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := []Action{ActionRemove, ActionAdd, ActionUpdate}
	for i, action := range expected {
		if steps[i].Action != action {
			t.Errorf("Step %d: expected %s, got %s", i, action, steps[i].Action)
		}
	}
}

func TestPlanner_Plan_PreservesTargetOrderWithinGroup(t *testing.T) {
	planner := NewPlanner()

	target := State{
		res("b", `{}`),
		res("a", `{}`),
		res("c", `{}`),
	}

	steps, err := planner.Plan(target, State{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ids := []string{"b", "a", "c"}
	for i, id := range ids {
		if steps[i].Resource.ID != id {
			t.Errorf("Step %d: expected %s, got %s", i, id, steps[i].Resource.ID)
		}
	}
}

func TestPlanner_Plan_DuplicateTargetID(t *testing.T) {
	planner := NewPlanner()

	target := State{
		res("sensor-1", `{"v":1}`),
		res("sensor-1", `{"v":2}`),
	}

	_, err := planner.Plan(target, State{})
	if err == nil {
		t.Fatal("Expected error for duplicate target id, got nil")
	}

	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestPlanner_Plan_EmptyResourceID(t *testing.T) {
	planner := NewPlanner()

	target := State{res("", `{"v":1}`)}

	_, err := planner.Plan(target, State{})
	if err == nil {
		t.Fatal("Expected error for empty resource id, got nil")
	}

	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestPlanOrder_Validate(t *testing.T) {
	if err := DefaultPlanOrder.Validate(); err != nil {
		t.Errorf("Expected default order to validate, got: %v", err)
	}

	bad := PlanOrder{ActionAdd, ActionAdd, ActionRemove}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for repeated action in plan order")
	}
}

func TestSpecEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  string
		equal bool
	}{
		{"identical", `{"a":1}`, `{"a":1}`, true},
		{"key order", `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"whitespace", `{"a": 1}`, `{"a":1}`, true},
		{"different value", `{"a":1}`, `{"a":2}`, false},
		{"missing key", `{"a":1}`, `{"a":1,"b":2}`, false},
		{"nested equal", `{"a":{"b":[1,2]}}`, `{"a": {"b": [1, 2]}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SpecEqual(json.RawMessage(tt.a), json.RawMessage(tt.b))
			if got != tt.equal {
				t.Errorf("SpecEqual(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
}
