package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHashJSON(t *testing.T) {
	t.Parallel()

	type record struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	h := New()
	a, err := h.HashJSON(record{ID: "n1", Title: "coffee"})
	require.NoError(t, err)
	b, err := h.HashJSON(record{ID: "n1", Title: "coffee"})
	require.NoError(t, err)
	c, err := h.HashJSON(record{ID: "n1", Title: "tea"})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	_, err = h.HashJSON(make(chan int))
	require.Error(t, err)
}
