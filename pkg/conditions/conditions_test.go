package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklane/tracklane/pkg/engine"
)

func testDoc() map[string]interface{} {
	p := engine.NewProfile("p1")
	p.Traits.Public["email"] = "ann@example.com"
	p.Traits.Public["age"] = 42
	p.Traits.Public["tags"] = []string{"a", "b"}
	p.AddSegment("visitor")
	doc, err := engine.FlattenProfile(p)
	if err != nil {
		panic(err)
	}
	return doc
}

func TestNew(t *testing.T) {
	ev, err := New(DialectStarlark, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Starlark{}, ev)

	ev, err = New("", 0, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Starlark{}, ev)

	ev, err = New(DialectRego, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Rego{}, ev)

	_, err = New("lua", 0, zerolog.Nop())
	assert.Error(t, err)
}

func TestStarlarkEvaluate(t *testing.T) {
	ev := NewStarlark(zerolog.Nop(), 0)
	ctx := context.Background()
	doc := testDoc()

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"string equality", `profile["traits.public.email"] == "ann@example.com"`, true},
		{"integer comparison", `profile["traits.public.age"] > 40`, true},
		{"integer mismatch", `profile["traits.public.age"] < 18`, false},
		{"list membership", `"visitor" in profile["segments"]`, true},
		{"has present", `has("traits.public.email")`, true},
		{"has missing", `has("traits.public.phone")`, false},
		{"get with default", `profile.get("traits.public.phone", "") == ""`, true},
		{"boolean field", `profile["active"]`, true},
		{"literal", `False`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(ctx, tt.condition, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStarlarkEvaluateErrors(t *testing.T) {
	ev := NewStarlark(zerolog.Nop(), 0)
	ctx := context.Background()
	doc := testDoc()

	_, err := ev.Evaluate(ctx, `profile["traits.public.phone"] == "1"`, doc)
	assert.Error(t, err, "missing field")

	_, err = ev.Evaluate(ctx, `profile["traits.public.age"] + 1`, doc)
	assert.ErrorContains(t, err, "must be a boolean")

	_, err = ev.Evaluate(ctx, `profile[`, doc)
	assert.Error(t, err, "syntax error")
}

func TestStarlarkStepLimit(t *testing.T) {
	ev := NewStarlark(zerolog.Nop(), 1000)

	_, err := ev.Evaluate(context.Background(), `len([x for x in range(1000000)]) > 0`, testDoc())
	assert.Error(t, err)
}

func TestStarlarkCancelled(t *testing.T) {
	ev := NewStarlark(zerolog.Nop(), 1<<40)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ev.Evaluate(ctx, `len([x for x in range(100000000)]) > 0`, testDoc())
	assert.Error(t, err)
}

func TestRegoEvaluate(t *testing.T) {
	ev := NewRego(zerolog.Nop())
	ctx := context.Background()
	doc := testDoc()

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"string equality", `input["traits.public.email"] == "ann@example.com"`, true},
		{"integer comparison", `input["traits.public.age"] > 40`, true},
		{"conjunction", "input[\"traits.public.age\"] > 40\ninput.active == true", true},
		{"list membership", `"visitor" in input.segments`, true},
		{"mismatch", `input["traits.public.email"] == "bob@example.com"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(ctx, tt.condition, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegoMissingField(t *testing.T) {
	ev := NewRego(zerolog.Nop())

	_, err := ev.Evaluate(context.Background(), `input["traits.public.phone"] == "1"`, testDoc())
	assert.ErrorContains(t, err, `field "traits.public.phone" is not defined`)
}

func TestRegoInvalidCondition(t *testing.T) {
	ev := NewRego(zerolog.Nop())

	_, err := ev.Evaluate(context.Background(), `input[`, testDoc())
	assert.ErrorContains(t, err, "failed to parse condition")
}

func TestRegoCachesPreparedQueries(t *testing.T) {
	ev := NewRego(zerolog.Nop())
	ctx := context.Background()
	cond := `input.id == "p1"`

	for i := 0; i < 3; i++ {
		ok, err := ev.Evaluate(ctx, cond, testDoc())
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, ev.prepared, 1)
}

func TestInputFields(t *testing.T) {
	ev := NewRego(zerolog.Nop())
	cc, err := ev.compile(context.Background(), "input[\"b\"] == 1\ninput.a == 2\ninput.a != 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cc.fields)
}
