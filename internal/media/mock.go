package media

import (
	"context"

	"github.com/stretchr/testify/mock"
)

var _ MediaService = (*MockMediaService)(nil)

type MockMediaService struct {
	mock.Mock
}

func (m *MockMediaService) CreateRoom(ctx context.Context, name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockMediaService) UpdateParticipantPermission(ctx context.Context, room, identity string, canPublish bool) error {
	args := m.Called(room, identity, canPublish)
	return args.Error(0)
}
