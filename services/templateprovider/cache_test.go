package templateprovider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTemplateCache_MonotonicIDs(t *testing.T) {
	cache := NewTemplateCache()

	tmpl := NewBlockTemplateMock()
	now := time.Now()

	id1 := cache.Insert(tmpl, testHash(0x01), 100, now)
	id2 := cache.Insert(tmpl, testHash(0x01), 200, now)
	id3 := cache.Insert(tmpl, testHash(0x02), 300, now)

	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)
	require.Equal(t, uint64(3), id3)
	require.Equal(t, 3, cache.Len())
}

func TestTemplateCache_GetAndRemove(t *testing.T) {
	cache := NewTemplateCache()

	tmpl := NewBlockTemplateMock()
	id := cache.Insert(tmpl, testHash(0x01), 100, time.Now())

	got, ok := cache.Get(id)
	require.True(t, ok)
	require.Same(t, BlockTemplate(tmpl), got)

	_, ok = cache.Get(id + 1)
	require.False(t, ok)

	cache.Remove(id)

	_, ok = cache.Get(id)
	require.False(t, ok)
}

func TestTemplateCache_PruneStaleKeepsReferenced(t *testing.T) {
	cache := NewTemplateCache()

	tmpl := NewBlockTemplateMock()
	now := time.Now()

	oldTip := testHash(0x01)
	newTip := testHash(0x02)

	oldReferenced := cache.Insert(tmpl, oldTip, 100, now)
	oldUnreferenced := cache.Insert(tmpl, oldTip, 200, now)
	current := cache.Insert(tmpl, newTip, 300, now)

	// Prune well past the grace window.
	cache.PruneStale(newTip, now.Add(time.Minute), func(id uint64) bool {
		return id == oldReferenced
	})

	_, ok := cache.Get(oldReferenced)
	require.True(t, ok, "entry still referenced by a peer must survive")

	_, ok = cache.Get(oldUnreferenced)
	require.False(t, ok, "stale unreferenced entry must be evicted")

	_, ok = cache.Get(current)
	require.True(t, ok, "entries on the active tip must survive")
}

func TestTemplateCache_PruneStaleGraceWindow(t *testing.T) {
	cache := NewTemplateCache()

	tmpl := NewBlockTemplateMock()
	now := time.Now()

	oldTip := testHash(0x01)
	newTip := testHash(0x02)

	fresh := cache.Insert(tmpl, oldTip, 100, now)

	// A solution for the superseded template may still be in flight; it must
	// survive a prune that happens within the grace window.
	cache.PruneStale(newTip, now.Add(pruneGrace/2), func(uint64) bool { return false })

	_, ok := cache.Get(fresh)
	require.True(t, ok, "recently built stale entry must survive the grace window")

	cache.PruneStale(newTip, now.Add(2*pruneGrace), func(uint64) bool { return false })

	_, ok = cache.Get(fresh)
	require.False(t, ok, "stale entry must be evicted once the grace window has passed")
}

func TestTemplateCache_Entry(t *testing.T) {
	cache := NewTemplateCache()

	tmpl := NewBlockTemplateMock()
	prevHash := testHash(0x07)
	id := cache.Insert(tmpl, prevHash, 100, time.Now())

	got, gotPrev, ok := cache.Entry(id)
	require.True(t, ok)
	require.Same(t, BlockTemplate(tmpl), got)
	require.Equal(t, prevHash, gotPrev)

	_, _, ok = cache.Entry(id + 1)
	require.False(t, ok)
}
