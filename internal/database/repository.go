package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a room or participant does not exist.
var ErrNotFound = errors.New("not found")

// NestsRepository is the durable store for rooms and their participants.
// It is the only writer of participant role flags.
type NestsRepository interface {
	Ping(ctx context.Context) error
	// CreateRoom persists the room together with its creator, who is
	// stored as admin and speaker. Both rows commit or neither does.
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, roomId string) (Room, error)
	GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error)
	GetParticipant(ctx context.Context, roomId, pubkey string) (Participant, error)
	// UpsertParticipant returns the existing participant or creates a
	// listener. Concurrent calls for the same key yield a single row.
	UpsertParticipant(ctx context.Context, roomId, pubkey string) (Participant, error)
	SetSpeaker(ctx context.Context, roomId, pubkey string, isSpeaker bool) (Participant, error)
}
