package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockNestsRepository struct {
	mock.Mock
}

func (m *MockNestsRepository) Ping(ctx context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockNestsRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockNestsRepository) GetRoom(ctx context.Context, roomId string) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockNestsRepository) GetRoomWithParticipants(ctx context.Context, roomId string) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockNestsRepository) GetParticipant(ctx context.Context, roomId, pubkey string) (Participant, error) {
	args := m.Called(roomId, pubkey)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockNestsRepository) UpsertParticipant(ctx context.Context, roomId, pubkey string) (Participant, error) {
	args := m.Called(roomId, pubkey)
	return args.Get(0).(Participant), args.Error(1)
}
func (m *MockNestsRepository) SetSpeaker(ctx context.Context, roomId, pubkey string, isSpeaker bool) (Participant, error) {
	args := m.Called(roomId, pubkey, isSpeaker)
	return args.Get(0).(Participant), args.Error(1)
}
