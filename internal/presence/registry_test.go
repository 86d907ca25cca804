package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle string

func (h fakeHandle) HandleID() string { return string(h) }

func TestRegistry_SetOnlineResolve(t *testing.T) {
	r := NewRegistry()

	h := fakeHandle("conn-1")
	r.SetOnline("cavity", h)

	got, ok := r.Resolve("cavity")
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.True(t, r.IsOnline("cavity"))
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Resolve("nobody")
	assert.False(t, ok)
	assert.False(t, r.IsOnline("nobody"))
}

func TestRegistry_SetOnline_LastWriterWins(t *testing.T) {
	r := NewRegistry()

	a := fakeHandle("conn-a")
	b := fakeHandle("conn-b")

	r.SetOnline("cavity", a)
	r.SetOnline("cavity", b)

	got, ok := r.Resolve("cavity")
	require.True(t, ok)
	assert.Equal(t, b, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_SetOffline_MatchingHandle(t *testing.T) {
	r := NewRegistry()

	h := fakeHandle("conn-1")
	r.SetOnline("cavity", h)

	removed := r.SetOffline("cavity", h)
	assert.True(t, removed)
	assert.False(t, r.IsOnline("cavity"))
}

// A disconnect from an old connection must not evict a newer connection
// that reclaimed the same identity.
func TestRegistry_SetOffline_StaleDisconnectDoesNotEvict(t *testing.T) {
	r := NewRegistry()

	a := fakeHandle("conn-a")
	b := fakeHandle("conn-b")

	r.SetOnline("cavity", a)
	r.SetOnline("cavity", b) // identity reclaimed by a newer connection

	removed := r.SetOffline("cavity", a) // a disconnects late
	assert.False(t, removed)

	got, ok := r.Resolve("cavity")
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestRegistry_SetOffline_AbsentIsNoop(t *testing.T) {
	r := NewRegistry()

	removed := r.SetOffline("cavity", fakeHandle("conn-1"))
	assert.False(t, removed)
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()

	assert.Empty(t, r.Snapshot())

	r.SetOnline("cavity", fakeHandle("conn-1"))
	r.SetOnline("cingam", fakeHandle("conn-2"))

	snap := r.Snapshot()
	assert.ElementsMatch(t, []string{"cavity", "cingam"}, snap)

	r.SetOffline("cingam", fakeHandle("conn-2"))
	assert.ElementsMatch(t, []string{"cavity"}, r.Snapshot())
}

// Re-announcing the same identity on the same connection leaves the
// registry unchanged.
func TestRegistry_SetOnline_Idempotent(t *testing.T) {
	r := NewRegistry()

	h := fakeHandle("conn-1")
	r.SetOnline("cavity", h)
	r.SetOnline("cavity", h)

	got, ok := r.Resolve("cavity")
	require.True(t, ok)
	assert.Equal(t, h, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_NeverMoreThanOneHandlePerIdentity(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 10; i++ {
		r.SetOnline("cavity", fakeHandle(fmt.Sprintf("conn-%d", i)))
	}
	assert.Equal(t, 1, r.Count())

	got, ok := r.Resolve("cavity")
	require.True(t, ok)
	assert.Equal(t, fakeHandle("conn-9"), got)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h := fakeHandle(fmt.Sprintf("conn-%d", n))
			id := fmt.Sprintf("user-%d", n%2)
			for j := 0; j < 100; j++ {
				r.SetOnline(id, h)
				r.Resolve(id)
				r.Snapshot()
				r.SetOffline(id, h)
			}
		}(i)
	}
	wg.Wait()

	// No more than the two identities can remain
	assert.LessOrEqual(t, r.Count(), 2)
}
