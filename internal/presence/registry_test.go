package presence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistry_MultiDevicePresence(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Register("u1", "c1"), "first connection brings the user online")
	assert.False(t, r.Register("u1", "c2"))
	assert.Equal(t, []string{"c1", "c2"}, r.ConnectionsFor("u1"))

	assert.False(t, r.Unregister("u1", "c1"), "user keeps one connection")
	assert.True(t, r.Online("u1"))

	assert.True(t, r.Unregister("u1", "c2"), "last connection takes the user offline")
	assert.False(t, r.Online("u1"))
	assert.Empty(t, r.ConnectionsFor("u1"))
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_UnknownIDsAreNoops(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister("ghost", "c1"))

	r.Register("u1", "c1")
	assert.False(t, r.Unregister("u1", "other"))
	assert.False(t, r.Register("u1", "c1"), "duplicate register is not a transition")
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("u1"))
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	snap := r.ConnectionsFor("u1")
	snap[0] = "mutated"
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("u1"))
}

func TestRegistry_OnlineUsersSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("bob", "c1")
	r.Register("ann", "c2")
	assert.Equal(t, []string{"ann", "bob"}, r.OnlineUsers())
}

// Every online transition must be paired with exactly one offline
// transition, no matter how register and unregister calls interleave.
func TestRegistry_ConcurrentTransitionsBalance(t *testing.T) {
	r := NewRegistry()
	const users, conns, rounds = 8, 6, 50

	var online, offline atomic.Int64
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < conns; c++ {
			wg.Add(1)
			go func(user, conn string) {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					if r.Register(user, conn) {
						online.Add(1)
					}
					if r.Unregister(user, conn) {
						offline.Add(1)
					}
				}
			}(fmt.Sprintf("u%d", u), fmt.Sprintf("c%d", c))
		}
	}
	wg.Wait()

	assert.Equal(t, online.Load(), offline.Load())
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_ConcurrentRegisterKeepsEveryConnection(t *testing.T) {
	r := NewRegistry()
	var firsts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Register("u1", fmt.Sprintf("c%03d", i)) {
				firsts.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
	assert.Len(t, r.ConnectionsFor("u1"), 100)
}

func TestRooms_JoinLeave(t *testing.T) {
	rooms := NewRooms()

	assert.True(t, rooms.Join("general", "c1"))
	assert.False(t, rooms.Join("general", "c1"))
	assert.True(t, rooms.Join("general", "c2"))
	assert.True(t, rooms.Join("random", "c1"))

	assert.Equal(t, []string{"c1", "c2"}, rooms.Members("general"))
	assert.Equal(t, []string{"general", "random"}, rooms.RoomsOf("c1"))

	assert.True(t, rooms.Leave("general", "c2"))
	assert.False(t, rooms.Leave("general", "c2"))
	assert.Equal(t, []string{"c1"}, rooms.Members("general"))
}

func TestRooms_LeaveAll(t *testing.T) {
	rooms := NewRooms()
	rooms.Join("a", "c1")
	rooms.Join("b", "c1")
	rooms.Join("b", "c2")

	rooms.LeaveAll("c1")

	assert.Empty(t, rooms.Members("a"))
	assert.Equal(t, []string{"c2"}, rooms.Members("b"))
	assert.Empty(t, rooms.RoomsOf("c1"))
}
