package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklane/tracklane/pkg/engine"
)

func testDocs() (*engine.Profile, *engine.Session, *engine.Event) {
	p := engine.NewProfile("p1")
	p.Traits.Public["email"] = "ann@example.com"
	p.Traits.Public["cart"] = []interface{}{"shoes", "hat"}

	s := &engine.Session{ID: "s1", Context: map[string]interface{}{"device": "mobile"}}
	e := &engine.Event{
		ID:         "e1",
		Type:       "page_view",
		Source:     engine.Entity{ID: "web"},
		Properties: map[string]interface{}{"page": "/home"},
	}
	return p, s, e
}

func TestDotAccessorGet(t *testing.T) {
	p, s, e := testDocs()
	dot, err := NewDotAccessor(p, s, e, map[string]interface{}{"value": 3})
	require.NoError(t, err)

	tests := []struct {
		ref  string
		want interface{}
	}{
		{"profile@traits.public.email", "ann@example.com"},
		{"profile@traits.public.cart.1", "hat"},
		{"profile@id", "p1"},
		{"event@properties.page", "/home"},
		{"event@source.id", "web"},
		{"session@context.device", "mobile"},
		{"payload@value", float64(3)},
		{"plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := dot.Get(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDotAccessorWholeDocument(t *testing.T) {
	p, s, e := testDocs()
	dot, err := NewDotAccessor(p, s, e, map[string]interface{}{"a": "b"})
	require.NoError(t, err)

	got, err := dot.Get("payload@")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "b"}, got)
}

func TestDotAccessorErrors(t *testing.T) {
	p, _, e := testDocs()
	dot, err := NewDotAccessor(p, nil, e, nil)
	require.NoError(t, err)

	_, err = dot.Get("profile@traits.public.phone")
	assert.ErrorContains(t, err, "not found")

	_, err = dot.Get("profile@traits.public.cart.9")
	assert.ErrorContains(t, err, "invalid index")

	_, err = dot.Get("session@id")
	assert.ErrorContains(t, err, "session is not available")
}

func TestDotAccessorResolve(t *testing.T) {
	p, s, e := testDocs()
	dot, err := NewDotAccessor(p, s, e, nil)
	require.NoError(t, err)

	got, err := dot.Resolve(map[string]interface{}{
		"email": "profile@traits.public.email",
		"pages": []interface{}{"event@properties.page", "literal"},
		"count": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"email": "ann@example.com",
		"pages": []interface{}{"/home", "literal"},
		"count": 2,
	}, got)
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference("profile@id"))
	assert.True(t, IsReference("payload@"))
	assert.False(t, IsReference("user@example.com"))
	assert.False(t, IsReference("profile"))
}

func TestDotAccessorSnapshotsProfile(t *testing.T) {
	p, _, _ := testDocs()
	dot, err := NewDotAccessor(p, nil, nil, nil)
	require.NoError(t, err)

	p.Mutate(func(p *engine.Profile) { p.Traits.Public["email"] = "changed" })

	got, err := dot.Get("profile@traits.public.email")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", got)
}
