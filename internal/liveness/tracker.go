package liveness

import (
	"sync"
	"time"
)

const (
	// RoomRetention is how long a room is kept after its last announcement
	// or last active signal. Planned rooms are also kept until their grace
	// period ends.
	RoomRetention = 24 * time.Hour

	roomPruneInterval = time.Minute
)

// Tracker accumulates rooms and presence signals from an unordered,
// possibly duplicated stream and resolves them on demand. It retains at
// most one signal per (room, identity), forgets signals once they fall
// out of the active window and forgets rooms once they can no longer be
// listed.
type Tracker struct {
	mu       sync.RWMutex
	opts     Options
	now      func() time.Time
	rooms    map[string]Room
	lastSeen map[string]time.Time
	presence map[string]map[string]time.Time
	prunedAt time.Time
}

func NewTracker(opts Options) *Tracker {
	return &Tracker{
		opts:     opts,
		now:      time.Now,
		rooms:    make(map[string]Room),
		lastSeen: make(map[string]time.Time),
		presence: make(map[string]map[string]time.Time),
	}
}

// UpsertRoom stores room unless a newer version of it is already known.
func (t *Tracker) UpsertRoom(room Room) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if prev, ok := t.rooms[room.Id]; !ok || !prev.CreatedAt.After(room.CreatedAt) {
		t.rooms[room.Id] = room
		t.lastSeen[room.Id] = now
	}

	t.pruneRooms(now)
}

// Observe folds a batch of signals in and prunes expired ones.
func (t *Tracker) Observe(signals ...Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := ActiveCutoff(now, t.opts.window())
	for _, s := range signals {
		if s.At.Before(cutoff) {
			continue
		}
		if _, ok := t.rooms[s.RoomId]; ok && s.At.After(t.lastSeen[s.RoomId]) {
			t.lastSeen[s.RoomId] = s.At
		}

		byIdentity, ok := t.presence[s.RoomId]
		if !ok {
			byIdentity = make(map[string]time.Time)
			t.presence[s.RoomId] = byIdentity
		}
		if at, ok := byIdentity[s.Identity]; !ok || s.At.After(at) {
			byIdentity[s.Identity] = s.At
		}
	}

	t.prune(cutoff)
	t.pruneRooms(now)
}

func (t *Tracker) prune(cutoff time.Time) {
	for roomId, byIdentity := range t.presence {
		for identity, at := range byIdentity {
			if at.Before(cutoff) {
				delete(byIdentity, identity)
			}
		}
		if len(byIdentity) == 0 {
			delete(t.presence, roomId)
		}
	}
}

// pruneRooms drops rooms that nobody is present in once they are past
// retention. Ended and unlisted rooms stay for the same period and shadow
// older versions relayed late.
func (t *Tracker) pruneRooms(now time.Time) {
	if now.Sub(t.prunedAt) < roomPruneInterval {
		return
	}
	t.prunedAt = now

	for id, room := range t.rooms {
		if len(t.presence[id]) > 0 {
			continue
		}
		if room.Status == StatusPlanned && room.StartsAt.Add(PlannedGrace).After(now) {
			continue
		}
		if now.Sub(t.lastSeen[id]) >= RoomRetention {
			delete(t.rooms, id)
			delete(t.lastSeen, id)
		}
	}
}

// NumRooms reports how many rooms are currently retained.
func (t *Tracker) NumRooms() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.rooms)
}

// NumSignals reports how many signals are currently retained.
func (t *Tracker) NumSignals() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var n int
	for _, byIdentity := range t.presence {
		n += len(byIdentity)
	}
	return n
}

// View resolves the retained state as of now. showEmpty overrides the
// tracker's default for display-all mode.
func (t *Tracker) View(showEmpty bool) View {
	t.mu.RLock()
	rooms := make([]Room, 0, len(t.rooms))
	for _, r := range t.rooms {
		rooms = append(rooms, r)
	}
	signals := make([]Signal, 0)
	for roomId, byIdentity := range t.presence {
		for identity, at := range byIdentity {
			signals = append(signals, Signal{RoomId: roomId, Identity: identity, At: at})
		}
	}
	t.mu.RUnlock()

	opts := t.opts
	opts.ShowEmptyRooms = opts.ShowEmptyRooms || showEmpty
	return Resolve(rooms, signals, t.now(), opts)
}
