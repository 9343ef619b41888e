package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	_, replaced := r.Register("alice", "conn-1")
	req.False(replaced)

	handle, ok := r.Lookup("alice")
	req.True(ok)
	req.Equal("conn-1", handle)
	req.True(r.IsOnline("alice"))
	req.False(r.IsOnline("bob"))
}

func TestRegistry_LastConnectionWins(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("alice", "conn-1")
	previous, replaced := r.Register("alice", "conn-2")
	req.True(replaced)
	req.Equal("conn-1", previous)

	// Given a stale disconnect from the first connection
	req.False(r.Unregister("alice", "conn-1"))

	// Then the newer connection is still registered
	handle, ok := r.Lookup("alice")
	req.True(ok)
	req.Equal("conn-2", handle)

	req.True(r.Unregister("alice", "conn-2"))
	req.False(r.IsOnline("alice"))
	req.Zero(r.Count())
}

func TestRegistry_ListOnlineIsSorted(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	r.Register("carol", "c")
	r.Register("alice", "a")
	r.Register("bob", "b")

	req.Equal([]string{"alice", "bob", "carol"}, r.ListOnline())
	req.Equal(3, r.Count())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%10)
			handle := fmt.Sprintf("conn-%d", i)
			r.Register(user, handle)
			r.IsOnline(user)
			r.ListOnline()
			r.Unregister(user, handle)
		}(i)
	}
	wg.Wait()

	req.LessOrEqual(r.Count(), 10)
}
