package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.Nop()

// Mock rule store for testing
type mockRuleStore struct {
	mu      sync.Mutex
	rules   map[string][]Record
	calls   map[string]int
	failFor map[string]error
}

func newMockRuleStore() *mockRuleStore {
	return &mockRuleStore{
		rules:   make(map[string][]Record),
		calls:   make(map[string]int),
		failFor: make(map[string]error),
	}
}

func (m *mockRuleStore) add(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := rec["event_type"].(string)
	m.rules[t] = append(m.rules[t], rec)
}

func (m *mockRuleStore) Filter(ctx context.Context, q RuleQuery) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[q.EventType]++
	if err := m.failFor[q.EventType]; err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range m.rules[q.EventType] {
		if q.Enabled {
			if enabled, _ := r["enabled"].(bool); !enabled {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRuleStore) callCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[eventType]
}

func ruleRecord(id, name, eventType, flowID string) Record {
	return Record{
		"id":         id,
		"name":       name,
		"enabled":    true,
		"event_type": eventType,
		"flow":       map[string]interface{}{"id": flowID},
	}
}

// Mock flow resolver for testing
type mockFlowResolver struct {
	flows   map[string]*Flow
	failFor map[string]error
}

func newMockFlowResolver(flows ...*Flow) *mockFlowResolver {
	r := &mockFlowResolver{flows: make(map[string]*Flow), failFor: make(map[string]error)}
	for _, f := range flows {
		r.flows[f.ID] = f
	}
	return r
}

func (m *mockFlowResolver) Decode(ctx context.Context, flowID string) (*Flow, error) {
	if err := m.failFor[flowID]; err != nil {
		return nil, err
	}
	f, ok := m.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("flow %s not found", flowID)
	}
	return f, nil
}

func enabledFlow(id string) *Flow {
	return &Flow{ID: id, Name: id, Enabled: true}
}

// Mock flow executor for testing. Behaviour is keyed by flow id.
type mockExecutor struct {
	mu       sync.Mutex
	delay    time.Duration
	failFlow map[string]error
	panics   map[string]bool
	mutate   map[string]func(p *Profile)
	calls    []string
	running  atomic.Int32
	peak     atomic.Int32
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		failFlow: make(map[string]error),
		panics:   make(map[string]bool),
		mutate:   make(map[string]func(p *Profile)),
	}
}

func (m *mockExecutor) Invoke(ctx context.Context, flow *Flow, session *Session, profile *Profile, event *Event, debug bool) (*DebugInfo, error) {
	n := m.running.Add(1)
	defer m.running.Add(-1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, flow.ID+"/"+event.ID)
	err := m.failFlow[flow.ID]
	shouldPanic := m.panics[flow.ID]
	mutate := m.mutate[flow.ID]
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if shouldPanic {
		panic("boom in " + flow.ID)
	}
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		profile.Mutate(mutate)
	}

	return &DebugInfo{
		Timestamp: time.Now(),
		Event:     Entity{ID: event.ID},
		Flow:      FlowDebugInfo{ID: flow.ID},
	}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Mock segment store for testing
type mockSegmentStore struct {
	mu       sync.Mutex
	segments map[string][]Record
	loads    int
	failFor  map[string]error
}

func newMockSegmentStore() *mockSegmentStore {
	return &mockSegmentStore{segments: make(map[string][]Record), failFor: make(map[string]error)}
}

func (m *mockSegmentStore) add(id, eventType, condition string) {
	m.segments[eventType] = append(m.segments[eventType], Record{
		"id":         id,
		"name":       id,
		"event_type": eventType,
		"condition":  condition,
	})
}

func (m *mockSegmentStore) LoadByField(ctx context.Context, field string, value interface{}) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	key := value.(string)
	if err := m.failFor[key]; err != nil {
		return nil, err
	}
	return m.segments[key], nil
}

func (m *mockSegmentStore) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Mock condition evaluator for testing. Conditions have the form
// "<key> == <value>", "true", "false" or "error:<message>".
type mockEvaluator struct{}

func (mockEvaluator) Evaluate(ctx context.Context, condition string, doc map[string]interface{}) (bool, error) {
	switch {
	case condition == "true":
		return true, nil
	case condition == "false":
		return false, nil
	case strings.HasPrefix(condition, "error:"):
		return false, errors.New(strings.TrimPrefix(condition, "error:"))
	}
	key, want, ok := strings.Cut(condition, " == ")
	if !ok {
		return false, fmt.Errorf("unsupported condition %q", condition)
	}
	v, found := doc[key]
	if !found {
		return false, fmt.Errorf("key %q not found", key)
	}
	return fmt.Sprint(v) == want, nil
}

// Mock profile store for testing
type mockProfileStore struct {
	mu        sync.Mutex
	profiles  map[string]*Profile
	saved     []*Profile
	bulkSaved []*Profile
	saveErr   error
	bulkErr   error
	findErr   error
	lastPairs []KeyValue
}

func newMockProfileStore(profiles ...*Profile) *mockProfileStore {
	m := &mockProfileStore{profiles: make(map[string]*Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockProfileStore) FindActiveByKeys(ctx context.Context, pairs []KeyValue) ([]*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPairs = pairs
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*Profile
	for _, p := range m.profiles {
		if !p.Active {
			continue
		}
		flat, err := FlattenProfile(p)
		if err != nil {
			return nil, err
		}
		match := true
		for _, kv := range pairs {
			if fmt.Sprint(flat[kv.Field]) != fmt.Sprint(kv.Value) {
				match = false
				break
			}
		}
		if match {
			out = append(out, p.Snapshot())
		}
	}
	return out, nil
}

func (m *mockProfileStore) Save(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, p)
	m.profiles[p.ID] = p
	return nil
}

func (m *mockProfileStore) BulkSave(ctx context.Context, profiles []*Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bulkErr != nil {
		return m.bulkErr
	}
	m.bulkSaved = append(m.bulkSaved, profiles...)
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return nil
}

func (m *mockProfileStore) get(id string) *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id]
}

func (m *mockProfileStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// Mock audit store for testing
type mockAuditStore struct {
	mu      sync.Mutex
	batches [][]DebugRecord
	err     error
}

func (m *mockAuditStore) BulkSave(ctx context.Context, records []DebugRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, records)
	return nil
}

func (m *mockAuditStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Mock event store for testing
type mockEventStore struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *mockEventStore) BulkSave(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

// Mock metrics for testing
type mockMetrics struct {
	nopMetrics
	mu         sync.Mutex
	hits       int
	misses     int
	dispatched map[string]int
	errors     map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{dispatched: make(map[string]int), errors: make(map[string]int)}
}

func (m *mockMetrics) RecordRuleCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *mockMetrics) RecordRuleDispatched(eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[status]++
}

func (m *mockMetrics) RecordError(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[class]++
}

func (m *mockMetrics) errorCount(class ErrorClass) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[string(class)]
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testEvent(id, eventType, sourceID string) Event {
	return Event{
		ID:        id,
		Type:      eventType,
		Source:    Entity{ID: sourceID},
		Session:   &Entity{ID: "session-1"},
		Profile:   &Entity{ID: "profile-1"},
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}
