package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

const (
	egressPlaylist = "live.m3u8"
	egressPrefix   = "r"
)

// ErrNotConnected is returned when the participant has no live session on
// the media service, so there is nothing to update.
var ErrNotConnected = errors.New("participant not connected")

// MediaService is the subset of the media-delivery service this module
// drives.
type MediaService interface {
	CreateRoom(ctx context.Context, name string) error
	UpdateParticipantPermission(ctx context.Context, room, identity string, canPublish bool) error
}

// EgressConfig describes where room recordings are uploaded. When Enabled
// is false rooms are created without an egress.
type EgressConfig struct {
	Enabled  bool
	Endpoint string
	Bucket   string
	Key      string
	Secret   string
	Region   string
}

type LiveKit struct {
	rooms  *lksdk.RoomServiceClient
	egress EgressConfig
}

func NewLiveKit(url, apiKey, apiSecret string, egress EgressConfig) *LiveKit {
	return &LiveKit{
		rooms:  lksdk.NewRoomServiceClient(url, apiKey, apiSecret),
		egress: egress,
	}
}

func (lk *LiveKit) CreateRoom(ctx context.Context, name string) error {
	req := &livekit.CreateRoomRequest{Name: name}
	if lk.egress.Enabled {
		req.Egress = lk.roomEgress(name)
	}

	if _, err := lk.rooms.CreateRoom(ctx, req); err != nil {
		return fmt.Errorf("livekit create room: %w", err)
	}

	return nil
}

// roomEgress records the room as an HLS playlist at <room>/live.m3u8.
func (lk *LiveKit) roomEgress(name string) *livekit.RoomEgress {
	return &livekit.RoomEgress{
		Room: &livekit.RoomCompositeEgressRequest{
			RoomName: name,
			SegmentOutputs: []*livekit.SegmentedFileOutput{
				{
					Protocol:       livekit.SegmentedFileProtocol_HLS_PROTOCOL,
					FilenamePrefix: name + "/" + egressPrefix,
					PlaylistName:   egressPlaylist,
					Output: &livekit.SegmentedFileOutput_S3{
						S3: &livekit.S3Upload{
							Endpoint:  lk.egress.Endpoint,
							Bucket:    lk.egress.Bucket,
							AccessKey: lk.egress.Key,
							Secret:    lk.egress.Secret,
							Region:    lk.egress.Region,
						},
					},
				},
			},
		},
	}
}

// UpdateParticipantPermission replaces the participant's live permission
// set, so subscribe and the microphone source are restated alongside the
// publish flag.
func (lk *LiveKit) UpdateParticipantPermission(ctx context.Context, room, identity string, canPublish bool) error {
	_, err := lk.rooms.UpdateParticipant(ctx, &livekit.UpdateParticipantRequest{
		Room:     room,
		Identity: identity,
		Permission: &livekit.ParticipantPermission{
			CanSubscribe:      true,
			CanPublish:        canPublish,
			CanPublishSources: []livekit.TrackSource{livekit.TrackSource_MICROPHONE},
		},
	})
	if err != nil {
		var terr twirp.Error
		if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
			return fmt.Errorf("%w: %s", ErrNotConnected, terr.Msg())
		}
		return fmt.Errorf("livekit update participant: %w", err)
	}

	return nil
}
