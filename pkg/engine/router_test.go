package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterLookup(t *testing.T) {
	r := NewRouter()

	_, ok := r.Lookup("checkout")
	assert.False(t, ok)

	r.SetActive("checkout", "v1")
	id, ok := r.Lookup("checkout")
	require.True(t, ok)
	assert.Equal(t, "checkout", id.FunctionID)
	assert.Equal(t, "v1", id.VersionID)
}

func TestRouterSetActiveReplaces(t *testing.T) {
	r := NewRouter()
	r.SetActive("checkout", "v1")
	r.SetActive("checkout", "v2")

	id, ok := r.Lookup("checkout")
	require.True(t, ok)
	assert.Equal(t, "v2", id.VersionID)
}

func TestRouterRemove(t *testing.T) {
	r := NewRouter()
	r.SetActive("checkout", "v1")
	r.Remove("checkout")

	_, ok := r.Lookup("checkout")
	assert.False(t, ok)

	// Removing an unknown function is a no-op.
	r.Remove("nope")
}

func TestRouterSnapshot(t *testing.T) {
	r := NewRouter()
	r.SetActive("a", "v1")
	r.SetActive("b", "v2")

	snap := r.Snapshot()
	assert.Equal(t, map[string]string{"a": "v1", "b": "v2"}, snap)

	// The snapshot is a copy, not a view.
	snap["a"] = "mutated"
	id, _ := r.Lookup("a")
	assert.Equal(t, "v1", id.VersionID)
}
