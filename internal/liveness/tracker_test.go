package liveness

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestTracker(opts Options) (*Tracker, *time.Time) {
	clock := now
	tr := NewTracker(opts)
	tr.now = func() time.Time { return clock }
	return tr, &clock
}

func TestTracker_PrunesExpiredSignals(t *testing.T) {
	tr, clock := newTestTracker(Options{PresenceWindow: time.Minute})
	tr.UpsertRoom(Room{Id: "A", Status: StatusLive})

	tr.Observe(
		Signal{RoomId: "A", Identity: "x", At: now},
		Signal{RoomId: "A", Identity: "y", At: now.Add(-30 * time.Second)},
		Signal{RoomId: "A", Identity: "z", At: now.Add(-time.Hour)},
	)
	assert.Equal(t, 2, tr.NumSignals(), "expected stale signal to be discarded on arrival")

	*clock = now.Add(50 * time.Second)
	tr.Observe()
	assert.Equal(t, 1, tr.NumSignals(), "expected signals to be pruned as they age out")

	view := tr.View(false)
	if assert.Len(t, view.Live, 1) {
		assert.Equal(t, "x", view.Live[0].Presence[0].Identity)
	}

	*clock = now.Add(time.Hour)
	tr.Observe()
	assert.Equal(t, 0, tr.NumSignals())
	assert.Empty(t, tr.View(false).Live)
	assert.Len(t, tr.View(true).Live, 1, "expected display-all mode to list the empty room")
}

func TestTracker_OutOfOrderSignals(t *testing.T) {
	tr, _ := newTestTracker(Options{})
	tr.UpsertRoom(Room{Id: "A", Status: StatusLive})

	tr.Observe(Signal{RoomId: "A", Identity: "x", At: now})
	tr.Observe(Signal{RoomId: "A", Identity: "x", At: now.Add(-time.Minute)})
	tr.Observe(Signal{RoomId: "A", Identity: "x", At: now})

	assert.Equal(t, 1, tr.NumSignals(), "expected one signal per identity")
	view := tr.View(false)
	if assert.Len(t, view.Live, 1) {
		assert.Equal(t, now, view.Live[0].Presence[0].At, "expected the newest signal to win")
	}
}

func TestTracker_UpsertRoomKeepsNewest(t *testing.T) {
	tr, _ := newTestTracker(Options{})

	tr.UpsertRoom(Room{Id: "A", Status: StatusLive, CreatedAt: now})
	tr.UpsertRoom(Room{Id: "A", Status: StatusPlanned, StartsAt: now, CreatedAt: now.Add(-time.Minute)})

	view := tr.View(true)
	assert.Len(t, view.Live, 1, "expected older room version to be ignored")
	assert.Empty(t, view.Planned)

	tr.UpsertRoom(Room{Id: "A", Status: StatusEnded, CreatedAt: now.Add(time.Minute)})
	view = tr.View(true)
	assert.Empty(t, view.Live, "expected newer room version to replace the old one")
}

func TestTracker_UnlistedStatusReplacesRoom(t *testing.T) {
	for _, status := range []Status{"", "closed"} {
		t.Run(fmt.Sprintf("status %q", status), func(t *testing.T) {
			tr, _ := newTestTracker(Options{})
			tr.UpsertRoom(Room{Id: "A", Status: StatusLive, CreatedAt: now.Add(-time.Minute)})
			tr.Observe(Signal{RoomId: "A", Identity: "x", At: now})
			assert.Len(t, tr.View(false).Live, 1)

			tr.UpsertRoom(Room{Id: "A", Status: status, CreatedAt: now})

			view := tr.View(true)
			assert.Empty(t, view.Live, "expected the newer unlisted version to replace the live one")
			assert.Empty(t, view.Planned)
		})
	}
}

func TestTracker_PrunesStaleRooms(t *testing.T) {
	tr, clock := newTestTracker(Options{})

	for i := range 1000 {
		tr.UpsertRoom(Room{Id: fmt.Sprintf("ended-%d", i), Status: StatusEnded, CreatedAt: now})
		tr.UpsertRoom(Room{
			Id:        fmt.Sprintf("planned-%d", i),
			Status:    StatusPlanned,
			StartsAt:  now.Add(-48 * time.Hour),
			CreatedAt: now,
		})
	}
	tr.UpsertRoom(Room{Id: "upcoming", Status: StatusPlanned, StartsAt: now.Add(7 * 24 * time.Hour), CreatedAt: now})
	tr.UpsertRoom(Room{Id: "busy", Status: StatusLive, CreatedAt: now})
	tr.UpsertRoom(Room{Id: "abandoned", Status: StatusLive, CreatedAt: now})
	assert.Equal(t, 2003, tr.NumRooms())

	*clock = now.Add(72 * time.Hour)
	tr.Observe(Signal{RoomId: "busy", Identity: "x", At: *clock})

	assert.Equal(t, 2, tr.NumRooms(), "expected only listable rooms to be retained")

	view := tr.View(true)
	if assert.Len(t, view.Live, 1) {
		assert.Equal(t, "busy", view.Live[0].Room.Id)
	}
	if assert.Len(t, view.Planned, 1) {
		assert.Equal(t, "upcoming", view.Planned[0].Room.Id)
	}
}

func TestTracker_PresenceExtendsRoomRetention(t *testing.T) {
	tr, clock := newTestTracker(Options{})
	tr.UpsertRoom(Room{Id: "A", Status: StatusLive, CreatedAt: now})

	*clock = now.Add(20 * time.Hour)
	tr.Observe(Signal{RoomId: "A", Identity: "x", At: *clock})

	*clock = now.Add(30 * time.Hour)
	tr.Observe()
	assert.Equal(t, 0, tr.NumSignals())
	assert.Equal(t, 1, tr.NumRooms(), "expected the last signal to extend retention")
	assert.Len(t, tr.View(true).Live, 1)

	*clock = now.Add(20*time.Hour + RoomRetention)
	tr.Observe()
	assert.Equal(t, 0, tr.NumRooms())
}

func TestTracker_ConcurrentUse(t *testing.T) {
	tr, _ := newTestTracker(Options{})
	tr.UpsertRoom(Room{Id: "A", Status: StatusLive})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Observe(Signal{RoomId: "A", Identity: string(rune('a' + i)), At: now})
		}()
		go func() {
			defer wg.Done()
			tr.View(false)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, tr.NumSignals())
}
