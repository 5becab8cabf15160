package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profileWithEmail(id, email string, created time.Time) *Profile {
	p := NewProfile(id)
	p.Traits.Public["email"] = email
	p.Metadata.Created = created
	return p
}

func TestMergeWithoutKeysIsNoop(t *testing.T) {
	store := newMockProfileStore()
	p := NewProfile("p1")

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), p)
	require.NoError(t, err)

	assert.Same(t, p, got)
	assert.Nil(t, info)
	assert.Nil(t, store.lastPairs)
}

func TestMergeMissingKeySkips(t *testing.T) {
	store := newMockProfileStore()
	p := NewProfile("p1")
	p.Operation.Merge = []string{"traits.public.email"}

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), p)
	require.NoError(t, err)

	assert.Same(t, p, got)
	assert.Nil(t, info)
	assert.Nil(t, store.lastPairs)
}

func TestMergeNoOtherProfiles(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := profileWithEmail("p1", "ann@example.com", t0)
	current.Operation.Merge = []string{"traits.public.email"}
	store := newMockProfileStore(profileWithEmail("p1", "ann@example.com", t0))

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), current)
	require.NoError(t, err)

	assert.Same(t, current, got)
	assert.Nil(t, info)
	assert.Equal(t, []KeyValue{{Field: "traits.public.email", Value: "ann@example.com"}}, store.lastPairs)
	assert.Empty(t, store.bulkSaved)
}

func TestMergeCollapsesDuplicates(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := profileWithEmail("a", "ann@example.com", t0.Add(2*time.Hour))
	a.Traits.Public["name"] = "Ann A"
	a.Traits.Public["tags"] = []interface{}{"x"}
	a.AddSegment("visitor")

	c := profileWithEmail("c", "ann@example.com", t0)
	c.Traits.Public["name"] = "Ann C"
	c.Traits.Private["score"] = 10
	c.AddSegment("buyer")

	other := profileWithEmail("z", "bob@example.com", t0)

	store := newMockProfileStore(a, c, other)

	current := profileWithEmail("b", "ann@example.com", t0.Add(time.Hour))
	current.Traits.Public["tags"] = []interface{}{"y"}
	current.Operation.Merge = []string{"traits.public.email"}
	current.Operation.Update = true

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), current)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, "a", info.CanonicalID)
	assert.Equal(t, []string{"b", "c"}, info.Deactivated)

	assert.Equal(t, "a", got.ID)
	assert.True(t, got.Active)
	assert.Equal(t, "Ann C", got.Traits.Public["name"])
	assert.Equal(t, []interface{}{"x", "y"}, got.Traits.Public["tags"])
	assert.Equal(t, 10, got.Traits.Private["score"])
	assert.Equal(t, []string{"buyer", "visitor"}, got.Segments)
	assert.Equal(t, t0, got.Metadata.Created)
	assert.True(t, got.NeedsUpdate())
	assert.False(t, got.NeedsMerging())

	for _, id := range []string{"b", "c"} {
		loser := store.get(id)
		require.NotNil(t, loser, id)
		assert.False(t, loser.Active, id)
		assert.Equal(t, []string{"a"}, loser.MergedWith, id)
	}
	assert.True(t, store.get("a").Active)
	assert.True(t, store.get("z").Active)
}

func TestMergeCurrentProfileCanBeCanonical(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMockProfileStore(profileWithEmail("m", "ann@example.com", t0))

	current := profileWithEmail("b", "ann@example.com", t0)
	current.Traits.Public["email"] = "ann@example.com"
	current.Operation.Merge = []string{"traits.public.email"}

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), current)
	require.NoError(t, err)

	assert.Equal(t, "b", info.CanonicalID)
	assert.Equal(t, []string{"m"}, info.Deactivated)
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, []string{"b"}, store.get("m").MergedWith)
}

func TestMergeSaveFailure(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMockProfileStore(profileWithEmail("a", "ann@example.com", t0))
	store.bulkErr = errors.New("disk full")

	current := profileWithEmail("b", "ann@example.com", t0)
	current.Operation.Merge = []string{"traits.public.email"}

	got, info, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), current)
	require.Error(t, err)

	assert.True(t, IsPersistence(err))
	assert.ErrorContains(t, err, "disk full")
	assert.Same(t, current, got)
	assert.Nil(t, info)
	// the canonical save is still awaited
	assert.Equal(t, 1, store.saveCount())
}

func TestMergeFindFailure(t *testing.T) {
	store := newMockProfileStore()
	store.findErr = errors.New("unavailable")

	current := profileWithEmail("b", "ann@example.com", time.Now())
	current.Operation.Merge = []string{"traits.public.email"}

	_, _, err := NewMerger(store, testLogger).MaybeMerge(context.Background(), current)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
}
