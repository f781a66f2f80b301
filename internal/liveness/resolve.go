// Package liveness classifies rooms into live and scheduled lists from
// the presence signals their listeners broadcast.
package liveness

import (
	"cmp"
	"slices"
	"time"
)

type Status string

const (
	StatusLive    Status = "live"
	StatusPlanned Status = "planned"
	StatusEnded   Status = "ended"
)

const (
	// DefaultPresenceWindow is the interval at which clients re-broadcast
	// their presence.
	DefaultPresenceWindow = 2 * time.Minute

	// PlannedGrace is how long a planned room stays listed after its
	// scheduled start.
	PlannedGrace = time.Hour
)

type Room struct {
	Id        string
	Host      string
	Title     string
	Summary   string
	Status    Status
	StartsAt  time.Time
	// CreatedAt is when the current version of the room was announced.
	// Edits republish the room and move it forward.
	CreatedAt time.Time
}

// Signal asserts that Identity was present in RoomId at At.
type Signal struct {
	RoomId   string
	Identity string
	At       time.Time
}

type RoomPresence struct {
	Room     Room
	Presence []Signal
}

type View struct {
	Live    []RoomPresence
	Planned []RoomPresence
}

type Options struct {
	PresenceWindow time.Duration
	// ShowEmptyRooms lists live rooms that nobody is present in.
	ShowEmptyRooms bool
}

func (o Options) window() time.Duration {
	if o.PresenceWindow <= 0 {
		return DefaultPresenceWindow
	}
	return o.PresenceWindow
}

// ActiveCutoff returns the oldest timestamp a signal may carry and still
// count as present. The window is widened by 20% to absorb broadcast
// jitter.
func ActiveCutoff(now time.Time, window time.Duration) time.Time {
	return now.Add(-window * 12 / 10)
}

// Resolve folds rooms and signals into a classified view. It keeps no
// state: the same inputs always produce the same view.
//
// Only the latest active signal per identity counts towards a room.
// Rooms are ordered by active presence, most first; ties go to the room
// whose latest announcement is newest, then to the lower room id.
func Resolve(rooms []Room, signals []Signal, now time.Time, opts Options) View {
	cutoff := ActiveCutoff(now, opts.window())

	latest := make(map[string]map[string]Signal)
	for _, s := range signals {
		if s.At.Before(cutoff) {
			continue
		}

		byIdentity, ok := latest[s.RoomId]
		if !ok {
			byIdentity = make(map[string]Signal)
			latest[s.RoomId] = byIdentity
		}
		if prev, ok := byIdentity[s.Identity]; !ok || s.At.After(prev.At) {
			byIdentity[s.Identity] = s
		}
	}

	entries := make([]RoomPresence, 0, len(rooms))
	for _, room := range rooms {
		presence := make([]Signal, 0, len(latest[room.Id]))
		for _, s := range latest[room.Id] {
			presence = append(presence, s)
		}
		slices.SortFunc(presence, func(a, b Signal) int {
			if c := b.At.Compare(a.At); c != 0 {
				return c
			}
			return cmp.Compare(a.Identity, b.Identity)
		})

		entries = append(entries, RoomPresence{Room: room, Presence: presence})
	}

	slices.SortStableFunc(entries, func(a, b RoomPresence) int {
		if c := cmp.Compare(len(b.Presence), len(a.Presence)); c != 0 {
			return c
		}
		if c := b.Room.CreatedAt.Compare(a.Room.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Room.Id, b.Room.Id)
	})

	view := View{
		Live:    make([]RoomPresence, 0),
		Planned: make([]RoomPresence, 0),
	}
	for _, e := range entries {
		switch e.Room.Status {
		case StatusLive:
			if opts.ShowEmptyRooms || len(e.Presence) > 0 {
				view.Live = append(view.Live, e)
			}
		case StatusPlanned:
			if e.Room.StartsAt.Add(PlannedGrace).After(now) {
				view.Planned = append(view.Planned, e)
			}
		}
	}

	return view
}
