package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	parsed := ParseRule(ruleRecord("r1", "welcome", "page_view", "f1"))

	require.NoError(t, parsed.Err)
	require.NotNil(t, parsed.Rule)
	assert.Equal(t, "welcome", parsed.Rule.Name)
	assert.Equal(t, "f1", parsed.Rule.Flow.ID)
	assert.True(t, parsed.Rule.Enabled)
	assert.Nil(t, parsed.Rule.Source)
}

func TestParseRuleInvalid(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{name: "missing flow", rec: Record{"id": "r1", "name": "n", "event_type": "page_view", "enabled": true}},
		{name: "missing name", rec: Record{"id": "r1", "event_type": "page_view", "flow": map[string]interface{}{"id": "f1"}}},
		{name: "wrong type", rec: Record{"id": "r1", "name": 42, "event_type": "page_view", "flow": map[string]interface{}{"id": "f1"}}},
		{name: "empty source", rec: Record{"id": "r1", "name": "n", "event_type": "page_view", "flow": map[string]interface{}{"id": "f1"}, "source": map[string]interface{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseRule(tt.rec)
			require.Error(t, parsed.Err)
			assert.Nil(t, parsed.Rule)
			assert.True(t, IsRuleValidation(parsed.Err))
		})
	}
}

func TestRuleAppliesTo(t *testing.T) {
	rec := ruleRecord("r1", "n", "page_view", "f1")
	rec["source"] = map[string]interface{}{"id": "web"}
	parsed := ParseRule(rec)
	require.NoError(t, parsed.Err)

	web := testEvent("e1", "page_view", "web")
	app := testEvent("e2", "page_view", "app")

	assert.True(t, parsed.Rule.AppliesTo(&web))
	assert.False(t, parsed.Rule.AppliesTo(&app))
}

func TestParseSegment(t *testing.T) {
	seg, err := ParseSegment(Record{"id": "s1", "event_type": "page_view", "condition": "true"})
	require.NoError(t, err)
	assert.True(t, seg.IsEnabled())

	seg, err = ParseSegment(Record{"id": "s1", "event_type": "page_view", "condition": "true", "enabled": false})
	require.NoError(t, err)
	assert.False(t, seg.IsEnabled())

	_, err = ParseSegment(Record{"id": "s1", "event_type": "page_view"})
	assert.Error(t, err)
}

func TestParseFlow(t *testing.T) {
	flow, err := ParseFlow(Record{
		"id":      "f1",
		"name":    "Welcome",
		"enabled": true,
		"nodes": []interface{}{
			map[string]interface{}{"id": "n1", "type": "inject", "init": map[string]interface{}{"value": 1}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, flow.Nodes, 1)

	_, err = ParseFlow(Record{"id": "f1", "nodes": []interface{}{map[string]interface{}{"id": "n1"}}})
	assert.Error(t, err)
}
