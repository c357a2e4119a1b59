package room

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Join("sandbox", "c1"))
	assert.False(t, r.Join("sandbox", "c1"))
	assert.Equal(t, []string{"c1"}, r.MembersOf("sandbox"))
	assert.Equal(t, 1, r.Count())
}

func TestRoomIsImmutableAfterJoin(t *testing.T) {
	r := NewRegistry()
	r.Join("sandbox", "c1")

	assert.False(t, r.Join("harness", "c1"))
	assert.False(t, r.Leave("harness", "c1"))

	room, ok := r.RoomOf("c1")
	require.True(t, ok)
	assert.Equal(t, "sandbox", room)
}

func TestLeaveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Leave("sandbox", "ghost"))
	assert.Empty(t, r.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Join("sandbox", "c1")
	r.Join("harness", "c2")

	snap := r.Snapshot()
	snap["sandbox"][0] = "mutated"
	snap["observer"] = []string{"intruder"}
	members := r.MembersOf("harness")
	members[0] = "mutated"

	assert.Equal(t, []string{"c1"}, r.MembersOf("sandbox"))
	assert.Equal(t, []string{"c2"}, r.MembersOf("harness"))
	assert.Empty(t, r.MembersOf("observer"))
}

func TestEmptyRoomsAreDropped(t *testing.T) {
	r := NewRegistry()
	r.Join("sandbox", "c1")
	r.Leave("sandbox", "c1")

	_, ok := r.Snapshot()["sandbox"]
	assert.False(t, ok)
}

// For any sequence of joins and leaves, the snapshot holds exactly the
// connections that joined and have not left.
func TestCountMatchesConnectsMinusDisconnects(t *testing.T) {
	rooms := []string{"sandbox", "harness", "build-watcher", "observer"}

	for seed := int64(1); seed <= 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		r := NewRegistry()
		open := make(map[string]string)
		connects, disconnects := 0, 0

		for step := 0; step < 200; step++ {
			conn := fmt.Sprintf("c%d", rng.Intn(40))
			if room, ok := open[conn]; ok && rng.Intn(2) == 0 {
				require.True(t, r.Leave(room, conn))
				delete(open, conn)
				disconnects++
				continue
			}
			room := rooms[rng.Intn(len(rooms))]
			if r.Join(room, conn) {
				open[conn] = room
				connects++
			}
		}

		total := 0
		for _, members := range r.Snapshot() {
			total += len(members)
		}
		assert.Equal(t, connects-disconnects, total, "seed %d", seed)
		assert.Equal(t, len(open), r.Count(), "seed %d", seed)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Join("sandbox", conn)
			_ = r.Snapshot()
			if i%2 == 0 {
				r.Leave("sandbox", conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 32, r.Count())
}
