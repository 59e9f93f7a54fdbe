package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Mock implementations for testing

type mockAdapter struct {
	mu       sync.Mutex
	kind     Kind
	existing map[string]json.RawMessage
	calls    []string
	failOn   map[string]error
	panicOn  map[string]bool
}

func newMockAdapter(kind Kind) *mockAdapter {
	return &mockAdapter{
		kind:     kind,
		existing: make(map[string]json.RawMessage),
		failOn:   make(map[string]error),
		panicOn:  make(map[string]bool),
	}
}

func (m *mockAdapter) Kind() Kind { return m.kind }

func (m *mockAdapter) record(op, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + ":" + id
	m.calls = append(m.calls, key)
	if m.panicOn[key] {
		panic("mock adapter panic on " + key)
	}
	return m.failOn[key]
}

func (m *mockAdapter) Create(ctx context.Context, res Resource) error {
	if err := m.record("create", res.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existing[res.ID] = res.Spec
	return nil
}

func (m *mockAdapter) Update(ctx context.Context, res Resource) error {
	if err := m.record("update", res.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existing[res.ID] = res.Spec
	return nil
}

func (m *mockAdapter) Remove(ctx context.Context, id string) error {
	if err := m.record("remove", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.existing, id)
	return nil
}

func (m *mockAdapter) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

type mockStateStore struct {
	mu        sync.Mutex
	snapshots map[Kind]*Snapshot
	saves     int
	loadErr   error
	saveErr   error
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{snapshots: make(map[Kind]*Snapshot)}
}

func (m *mockStateStore) Load(ctx context.Context, kind Kind) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snapshots[kind], nil
}

func (m *mockStateStore) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[snap.Kind] = snap
	return nil
}

func (m *mockStateStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Publish(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func startedEngine(t *testing.T, adapter Adapter, store StateStore, opts ...Option) *Engine {
	t.Helper()
	e, err := New(KindSensor, adapter, store, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return e
}

func TestNew_RequiresAdapterAndStore(t *testing.T) {
	if _, err := New(KindSensor, nil, newMockStateStore()); err == nil {
		t.Error("Expected error for nil adapter")
	}
	if _, err := New(KindSensor, newMockAdapter(KindSensor), nil); err == nil {
		t.Error("Expected error for nil store")
	}
	if _, err := New("", newMockAdapter(KindSensor), newMockStateStore()); err == nil {
		t.Error("Expected error for empty kind")
	}
}

func TestEngine_SetTarget_BeforeStart(t *testing.T) {
	e, err := New(KindSensor, newMockAdapter(KindSensor), newMockStateStore())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = e.SetTarget(context.Background(), State{res("a", `{}`)})
	if err == nil {
		t.Fatal("Expected error before Start, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestEngine_Start_EmptyOnFirstBoot(t *testing.T) {
	e := startedEngine(t, newMockAdapter(KindSensor), newMockStateStore())

	if e.Phase() != PhaseIdle {
		t.Errorf("Expected idle phase, got %s", e.Phase())
	}
	if len(e.CurrentState()) != 0 {
		t.Errorf("Expected empty current state, got %d resources", len(e.CurrentState()))
	}
}

func TestEngine_Start_LoadErrorFallsBackToEmpty(t *testing.T) {
	store := newMockStateStore()
	store.loadErr = fmt.Errorf("disk corrupt")

	e := startedEngine(t, newMockAdapter(KindSensor), store)

	if e.Phase() != PhaseIdle {
		t.Errorf("Expected idle phase after load failure, got %s", e.Phase())
	}
	if len(e.CurrentState()) != 0 {
		t.Errorf("Expected empty current state, got %d", len(e.CurrentState()))
	}
}

func TestEngine_SetTarget_Converges(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	e := startedEngine(t, adapter, newMockStateStore())

	target := State{
		res("sensor-1", `{"host":"10.0.0.1"}`),
		res("sensor-2", `{"host":"10.0.0.2"}`),
	}

	result, err := e.SetTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got errors: %v", result.Errors)
	}
	if result.Added != 2 {
		t.Errorf("Expected 2 adds, got %d", result.Added)
	}
	if len(e.CurrentState()) != 2 {
		t.Errorf("Expected 2 resources in current state, got %d", len(e.CurrentState()))
	}
}

func TestEngine_SetTarget_Idempotent(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	e := startedEngine(t, adapter, newMockStateStore())

	target := State{res("sensor-1", `{"host":"10.0.0.1"}`)}

	if _, err := e.SetTarget(context.Background(), target); err != nil {
		t.Fatalf("First SetTarget failed: %v", err)
	}
	firstCalls := len(adapter.callLog())

	result, err := e.SetTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("Second SetTarget failed: %v", err)
	}

	if result.Changed() {
		t.Errorf("Expected no changes on identical target, got %d/%d/%d",
			result.Added, result.Updated, result.Removed)
	}
	if got := len(adapter.callLog()); got != firstCalls {
		t.Errorf("Expected no adapter calls on second pass, got %d extra", got-firstCalls)
	}
}

func TestEngine_SetTarget_PartialFailureIsolated(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	adapter.failOn["create:sensor-b"] = fmt.Errorf("connection refused")
	e := startedEngine(t, adapter, newMockStateStore())

	target := State{
		res("sensor-a", `{}`),
		res("sensor-b", `{}`),
		res("sensor-c", `{}`),
	}

	result, err := e.SetTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if result.Success {
		t.Error("Expected failure result")
	}
	if result.Added != 2 {
		t.Errorf("Expected 2 successful adds, got %d", result.Added)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Expected 1 step error, got %d", len(result.Errors))
	}
	if result.Errors[0].ResourceID != "sensor-b" {
		t.Errorf("Expected error for sensor-b, got %s", result.Errors[0].ResourceID)
	}

	// The failed resource stays out of current state, so the next pass
	// retries only it.
	current := e.CurrentState()
	if len(current) != 2 {
		t.Fatalf("Expected 2 resources in current state, got %d", len(current))
	}

	delete(adapter.failOn, "create:sensor-b")
	retry, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !retry.Success || retry.Added != 1 {
		t.Errorf("Expected retry to add only sensor-b, got added=%d success=%v",
			retry.Added, retry.Success)
	}
}

func TestEngine_SetTarget_AdapterPanicIsContained(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	adapter.panicOn["create:sensor-1"] = true
	e := startedEngine(t, adapter, newMockStateStore())

	result, err := e.SetTarget(context.Background(), State{
		res("sensor-1", `{}`),
		res("sensor-2", `{}`),
	})
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if result.Success {
		t.Error("Expected failure result after panic")
	}
	if result.Added != 1 {
		t.Errorf("Expected the non-panicking step to complete, got added=%d", result.Added)
	}
}

func TestEngine_SetTarget_RemovesOrphans(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	e := startedEngine(t, adapter, newMockStateStore())

	if _, err := e.SetTarget(context.Background(), State{
		res("sensor-1", `{}`),
		res("sensor-2", `{}`),
	}); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	result, err := e.SetTarget(context.Background(), State{res("sensor-1", `{}`)})
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if result.Removed != 1 {
		t.Errorf("Expected 1 removal, got %d", result.Removed)
	}
	current := e.CurrentState()
	if len(current) != 1 || current[0].ID != "sensor-1" {
		t.Errorf("Expected only sensor-1 to remain, got %v", current)
	}
}

func TestEngine_SetTarget_UpdateReplacesSpec(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	e := startedEngine(t, adapter, newMockStateStore())

	if _, err := e.SetTarget(context.Background(), State{res("sensor-1", `{"interval":5}`)}); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	result, err := e.SetTarget(context.Background(), State{res("sensor-1", `{"interval":10}`)})
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if result.Updated != 1 {
		t.Errorf("Expected 1 update, got %d", result.Updated)
	}
	if string(e.CurrentState()[0].Spec) != `{"interval":10}` {
		t.Errorf("Expected current state to carry the new spec, got %s", e.CurrentState()[0].Spec)
	}
}

func TestEngine_SnapshotPersistedAfterEachStep(t *testing.T) {
	store := newMockStateStore()
	e := startedEngine(t, newMockAdapter(KindSensor), store)

	if _, err := e.SetTarget(context.Background(), State{
		res("sensor-1", `{}`),
		res("sensor-2", `{}`),
		res("sensor-3", `{}`),
	}); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if store.saveCount() != 3 {
		t.Errorf("Expected one save per step, got %d", store.saveCount())
	}

	snap := store.snapshots[KindSensor]
	if snap == nil {
		t.Fatal("Expected persisted snapshot")
	}
	if len(snap.State) != 3 {
		t.Errorf("Expected 3 resources in snapshot, got %d", len(snap.State))
	}
}

func TestEngine_SaveFailureDoesNotFailStep(t *testing.T) {
	store := newMockStateStore()
	store.saveErr = fmt.Errorf("disk full")
	e := startedEngine(t, newMockAdapter(KindSensor), store)

	result, err := e.SetTarget(context.Background(), State{res("sensor-1", `{}`)})
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success despite save failure, got errors: %v", result.Errors)
	}
	if len(e.CurrentState()) != 1 {
		t.Errorf("Expected in-memory state to advance, got %d resources", len(e.CurrentState()))
	}
}

func TestEngine_RestartResumesFromSnapshot(t *testing.T) {
	store := newMockStateStore()
	adapter := newMockAdapter(KindSensor)

	e1 := startedEngine(t, adapter, store)
	target := State{
		res("sensor-1", `{}`),
		res("sensor-2", `{}`),
	}
	if _, err := e1.SetTarget(context.Background(), target); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	// Simulate a restart: new engine, same store.
	fresh := newMockAdapter(KindSensor)
	e2 := startedEngine(t, fresh, store)

	if len(e2.CurrentState()) != 2 {
		t.Fatalf("Expected restored state with 2 resources, got %d", len(e2.CurrentState()))
	}

	// Re-applying the same target after restart must be a no-op.
	result, err := e2.SetTarget(context.Background(), target)
	if err != nil {
		t.Fatalf("SetTarget after restart failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected no changes after restart with same target, got %d/%d/%d",
			result.Added, result.Updated, result.Removed)
	}
	if len(fresh.callLog()) != 0 {
		t.Errorf("Expected no adapter calls after restart, got %v", fresh.callLog())
	}
}

func TestEngine_DuplicateTargetIDRejected(t *testing.T) {
	e := startedEngine(t, newMockAdapter(KindSensor), newMockStateStore())

	_, err := e.SetTarget(context.Background(), State{
		res("sensor-1", `{"v":1}`),
		res("sensor-1", `{"v":2}`),
	})
	if err == nil {
		t.Fatal("Expected error for duplicate id, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got: %v", err)
	}

	// A rejected target must leave the engine untouched.
	if len(e.TargetState()) != 0 {
		t.Errorf("Expected target unchanged, got %d resources", len(e.TargetState()))
	}
}

func TestEngine_Events(t *testing.T) {
	notifier := &recordingNotifier{}
	e := startedEngine(t, newMockAdapter(KindSensor), newMockStateStore(), WithNotifier(notifier))

	if _, err := e.SetTarget(context.Background(), State{res("sensor-1", `{}`)}); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}
	if _, err := e.SetTarget(context.Background(), State{}); err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	added := notifier.byType(EventResourceAdded)
	if len(added) != 1 {
		t.Fatalf("Expected 1 added event, got %d", len(added))
	}
	if added[0].Resource == nil || added[0].Resource.ID != "sensor-1" {
		t.Errorf("Expected added event to carry the resource, got %+v", added[0])
	}

	removed := notifier.byType(EventResourceRemoved)
	if len(removed) != 1 {
		t.Fatalf("Expected 1 removed event, got %d", len(removed))
	}
	if removed[0].ResourceID != "sensor-1" {
		t.Errorf("Expected removed event to carry the id, got %q", removed[0].ResourceID)
	}

	complete := notifier.byType(EventReconcileComplete)
	if len(complete) != 2 {
		t.Fatalf("Expected 2 pass-complete events, got %d", len(complete))
	}
	if complete[0].Result == nil {
		t.Error("Expected pass-complete event to carry the result")
	}
}

func TestEngine_PolicyGateDenialsBecomeStepErrors(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	gate := &denyGate{denyID: "sensor-2"}
	e := startedEngine(t, adapter, newMockStateStore(), WithPolicyGate(gate))

	result, err := e.SetTarget(context.Background(), State{
		res("sensor-1", `{}`),
		res("sensor-2", `{}`),
	})
	if err != nil {
		t.Fatalf("SetTarget failed: %v", err)
	}

	if result.Success {
		t.Error("Expected failure result when a step is denied")
	}
	if result.Added != 1 {
		t.Errorf("Expected 1 allowed add, got %d", result.Added)
	}
	if len(result.Errors) != 1 || result.Errors[0].ResourceID != "sensor-2" {
		t.Errorf("Expected denial recorded for sensor-2, got %v", result.Errors)
	}

	for _, call := range adapter.callLog() {
		if call == "create:sensor-2" {
			t.Error("Denied step must not reach the adapter")
		}
	}
}

type denyGate struct {
	denyID string
}

func (g *denyGate) Check(ctx context.Context, kind Kind, steps []Step) ([]Step, []StepError, error) {
	var allowed []Step
	var denied []StepError
	for _, s := range steps {
		if s.Resource.ID == g.denyID {
			denied = append(denied, StepError{ResourceID: s.Resource.ID, Message: "denied by policy"})
			continue
		}
		allowed = append(allowed, s)
	}
	return allowed, denied, nil
}

func TestEngine_SupersedeNewestTargetWins(t *testing.T) {
	adapter := newMockAdapter(KindSensor)
	slow := &blockingAdapter{
		inner:   adapter,
		release: make(chan struct{}),
		entered: make(chan struct{}),
		blockOn: "create:slow-1",
	}
	e := startedEngine(t, slow, newMockStateStore())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// This pass blocks inside the adapter until released.
		if _, err := e.SetTarget(context.Background(), State{res("slow-1", `{}`)}); err != nil {
			t.Errorf("SetTarget failed: %v", err)
		}
	}()
	<-slow.entered

	// Two targets submitted while the pass runs; only the newest may run.
	var intermediateResult, finalResult *Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := e.SetTarget(context.Background(), State{res("intermediate", `{}`)})
		if err != nil {
			t.Errorf("SetTarget failed: %v", err)
			return
		}
		intermediateResult = r
	}()
	waitForPendingGen(t, e, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := e.SetTarget(context.Background(), State{res("final", `{}`)})
		if err != nil {
			t.Errorf("SetTarget failed: %v", err)
			return
		}
		finalResult = r
	}()
	waitForPendingGen(t, e, 3)

	close(slow.release)
	wg.Wait()

	// The final target is what the engine converged to.
	current := e.CurrentState()
	if len(current) != 1 || current[0].ID != "final" {
		t.Fatalf("Expected current state to hold only the final target, got %v", current)
	}

	// The intermediate target never produced an add for its resource.
	for _, call := range adapter.callLog() {
		if call == "create:intermediate" {
			t.Error("Intermediate target must be skipped entirely")
		}
	}

	// Both waiters observed the same covering pass result.
	if intermediateResult == nil || finalResult == nil {
		t.Fatal("Expected both submitters to receive a result")
	}
	if intermediateResult.PassID != finalResult.PassID {
		t.Errorf("Expected superseded caller to observe the covering pass, got %s and %s",
			intermediateResult.PassID, finalResult.PassID)
	}
}

// waitForPendingGen spins until the engine has registered the given pending
// target generation. White-box access keeps the supersede test deterministic
// without exporting the counter.
func waitForPendingGen(t *testing.T, e *Engine, gen uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		g := e.pendingGen
		e.mu.Unlock()
		if g >= gen {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for pending generation %d", gen)
}

// blockingAdapter wraps a mockAdapter and blocks one designated call until
// released, so tests can hold a pass open while queueing new targets.
type blockingAdapter struct {
	inner   *mockAdapter
	release chan struct{}
	entered chan struct{}
	blockOn string
}

func (b *blockingAdapter) Kind() Kind { return b.inner.Kind() }

func (b *blockingAdapter) maybeBlock(key string) {
	if key == b.blockOn {
		close(b.entered)
		<-b.release
	}
}

func (b *blockingAdapter) Create(ctx context.Context, res Resource) error {
	b.maybeBlock("create:" + res.ID)
	return b.inner.Create(ctx, res)
}

func (b *blockingAdapter) Update(ctx context.Context, res Resource) error {
	b.maybeBlock("update:" + res.ID)
	return b.inner.Update(ctx, res)
}

func (b *blockingAdapter) Remove(ctx context.Context, id string) error {
	b.maybeBlock("remove:" + id)
	return b.inner.Remove(ctx, id)
}
