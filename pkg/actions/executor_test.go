package actions

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklane/tracklane/pkg/engine"
)

// Mock memory client for testing
type mockMemory struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newMockMemory() *mockMemory {
	return &mockMemory{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockMemory) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockMemory) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.values[key] = value.(string)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func flowOf(nodes ...engine.FlowNode) *engine.Flow {
	return &engine.Flow{ID: "f1", Name: "test", Enabled: true, Nodes: nodes}
}

func node(id, typ string, init map[string]interface{}) engine.FlowNode {
	return engine.FlowNode{ID: id, Type: typ, Init: init}
}

func invoke(t *testing.T, x *PipelineExecutor, flow *engine.Flow, p *engine.Profile, debug bool) *engine.DebugInfo {
	t.Helper()
	_, s, e := testDocs()
	info, err := x.Invoke(context.Background(), flow, s, p, e, debug)
	require.NoError(t, err)
	require.NotNil(t, info)
	return info
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(nil)
	assert.Equal(t, []string{"inject", "merge_profiles", "segment_profile", "set_trait"}, r.Names())

	r = DefaultRegistry(newMockMemory())
	assert.Contains(t, r.Names(), "read_from_memory")
	assert.Contains(t, r.Names(), "write_to_memory")

	assert.Error(t, r.Register("inject", newInject))
	assert.Error(t, r.Register("", newInject))

	_, err := r.Build(node("n1", "missing", nil))
	assert.ErrorContains(t, err, "unknown plugin")

	_, err = r.Build(node("n1", "inject", nil))
	assert.ErrorContains(t, err, "inject value not defined")
}

func TestPipelineRunsNodesInOrder(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(
		node("n1", "inject", map[string]interface{}{"value": map[string]interface{}{"tier": "gold"}}),
		node("n2", "set_trait", map[string]interface{}{"trait": "traits.public.tier", "value": "payload@tier"}),
		node("n3", "set_trait", map[string]interface{}{"trait": "profile@traits.private.source", "value": "event@source.id"}),
	), p, true)

	assert.False(t, info.HasErrors())
	assert.Equal(t, "f1", info.Flow.ID)
	assert.Equal(t, "e1", info.Event.ID)
	require.Len(t, info.Nodes, 3)
	assert.Equal(t, "value", info.Nodes[0].Port)
	assert.Equal(t, PortSuccess, info.Nodes[1].Port)

	snap := p.Snapshot()
	assert.Equal(t, "gold", snap.Traits.Public["tier"])
	assert.Equal(t, "web", snap.Traits.Private["source"])
	assert.True(t, p.NeedsUpdate())
	assert.True(t, p.NeedsSegmentation())
}

func TestPipelineNodeDetailsOnlyInDebug(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(node("n1", "segment_profile", nil)), p, false)
	assert.Empty(t, info.Nodes)
	assert.True(t, p.NeedsSegmentation())
}

func TestPipelineStopsOnFailure(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(
		node("n1", "set_trait", map[string]interface{}{"trait": "traits.public.x", "value": "profile@traits.public.missing"}),
		node("n2", "segment_profile", nil),
	), p, true)

	require.True(t, info.HasErrors())
	assert.Equal(t, engine.ErrorClassExecution, info.Flow.Errors[0].Class)
	assert.Contains(t, info.Flow.Errors[0].Message, "node n1 (set_trait) failed")
	require.Len(t, info.Nodes, 1)
	assert.Equal(t, PortError, info.Nodes[0].Port)
	assert.NotEmpty(t, info.Nodes[0].Error)
	assert.False(t, p.NeedsSegmentation())
}

func TestPipelineUnknownPlugin(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(node("n1", "trello_delete_card", nil)), p, false)
	require.True(t, info.HasErrors())
	assert.Contains(t, info.Flow.Errors[0].Message, "unknown plugin")
}

func TestPipelineCancelled(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, s, e := testDocs()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := x.Invoke(ctx, flowOf(node("n1", "segment_profile", nil)), s, p, e, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeProfilesPlugin(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(nil), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(
		node("n1", "merge_profiles", map[string]interface{}{"keys": []interface{}{"profile@traits.public.email"}}),
	), p, false)
	assert.False(t, info.HasErrors())
	assert.True(t, p.NeedsMerging())
	assert.Equal(t, []string{"traits.public.email"}, p.Snapshot().Operation.Merge)

	_, err := DefaultRegistry(nil).Build(node("n1", "merge_profiles", map[string]interface{}{"keys": []interface{}{}}))
	assert.Error(t, err)
}

func TestSetTraitRejectsNonTraitPath(t *testing.T) {
	_, err := DefaultRegistry(nil).Build(node("n1", "set_trait", map[string]interface{}{"trait": "profile@id", "value": "x"}))
	assert.ErrorContains(t, err, "traits.public or traits.private")
}

func TestMemoryRoundTrip(t *testing.T) {
	mem := newMockMemory()
	x := NewPipelineExecutor(DefaultRegistry(mem), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(
		node("n1", "write_to_memory", map[string]interface{}{
			"key":   "profile@traits.public.email",
			"value": map[string]interface{}{"page": "event@properties.page"},
			"ttl":   60,
		}),
		node("n2", "read_from_memory", map[string]interface{}{"key": "profile@traits.public.email"}),
		node("n3", "set_trait", map[string]interface{}{"trait": "traits.public.last_page", "value": "payload@value.page"}),
	), p, true)
	require.False(t, info.HasErrors(), "%v", info.Flow.Errors)

	key := MemoryKeyPrefix + "ann@example.com"
	require.Contains(t, mem.values, key)
	assert.Equal(t, 60*time.Second, mem.ttls[key])

	raw, err := base64.StdEncoding.DecodeString(mem.values[key])
	require.NoError(t, err)
	assert.JSONEq(t, `{"page":"/home"}`, string(raw))

	assert.Equal(t, "/home", p.Snapshot().Traits.Public["last_page"])
}

func TestReadFromMemoryMissingKey(t *testing.T) {
	x := NewPipelineExecutor(DefaultRegistry(newMockMemory()), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(node("n1", "read_from_memory", map[string]interface{}{"key": "profile@id"})), p, true)
	require.True(t, info.HasErrors())
	assert.Contains(t, info.Nodes[0].Error, "no value stored under "+MemoryKeyPrefix+"p1")
}

func TestMemoryClientFailure(t *testing.T) {
	mem := newMockMemory()
	mem.err = errors.New("connection refused")
	x := NewPipelineExecutor(DefaultRegistry(mem), zerolog.Nop())
	p, _, _ := testDocs()

	info := invoke(t, x, flowOf(node("n1", "write_to_memory", map[string]interface{}{"key": "k", "value": 1})), p, true)
	require.True(t, info.HasErrors())
	assert.Contains(t, info.Nodes[0].Error, "connection refused")
}

func TestDecodeMemoryPlainText(t *testing.T) {
	v, err := decodeMemory(base64.StdEncoding.EncodeToString([]byte("not json")))
	require.NoError(t, err)
	assert.Equal(t, "not json", v)

	_, err = decodeMemory("%%%")
	assert.Error(t, err)
}
