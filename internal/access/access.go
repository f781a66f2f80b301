// Package access decides who may join a room, with which capabilities, and
// who may change another participant's role.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/nip19"
	"github.com/npezzotti/nests/internal/stats"
	"github.com/npezzotti/nests/internal/token"
	"github.com/rs/zerolog"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
)

// Minter signs capability tokens.
type Minter interface {
	Mint(roomId, subject string, perms token.Permissions) (string, error)
}

// Synchronizer propagates room and role changes to the media service.
type Synchronizer interface {
	CreateRoom(ctx context.Context, roomId string) error
	PushPermissionChange(roomId, identity string, canPublish bool)
}

type Service struct {
	log    zerolog.Logger
	db     database.NestsRepository
	tokens Minter
	sync   Synchronizer
	stats  stats.StatsProvider
}

type RoomInfo struct {
	Host     string
	Speakers []string
	Admins   []string
	Link     string
}

func NewService(logger zerolog.Logger, db database.NestsRepository, tokens Minter, sync Synchronizer, su stats.StatsProvider) *Service {
	for _, name := range []string{
		stats.RoomsCreated,
		stats.TokensMinted,
		stats.GuestTokensMinted,
		stats.SpeakerChanges,
	} {
		su.RegisterMetric(name)
	}

	return &Service{
		log:    logger.With().Str("module", "access").Logger(),
		db:     db,
		tokens: tokens,
		sync:   sync,
		stats:  su,
	}
}

func dbError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func validRoomId(roomId string) bool {
	_, err := uuid.Parse(roomId)
	return err == nil
}

// CreateRoom creates a room owned by identity and returns it with a token
// granting the creator admin and speaker rights.
func (s *Service) CreateRoom(ctx context.Context, identity string) (database.Room, string, error) {
	if identity == "" {
		return database.Room{}, "", ErrUnauthenticated
	}

	room, err := s.db.CreateRoom(ctx, database.CreateRoomParams{
		Id:        uuid.NewString(),
		CreatedBy: identity,
	})
	if err != nil {
		return database.Room{}, "", fmt.Errorf("create room: %w", err)
	}
	s.stats.Incr(stats.RoomsCreated)

	// The media service also creates rooms on first join, so a failure
	// here does not invalidate the stored room.
	if err := s.sync.CreateRoom(ctx, room.Id); err != nil {
		s.log.Warn().Err(err).Str("room", room.Id).Msg("media service room creation failed")
	}

	tok, err := s.mint(room.Id, identity, creatorRole())
	if err != nil {
		return database.Room{}, "", err
	}

	s.log.Info().Str("room", room.Id).Str("creator", identity).Msg("room created")
	return room, tok, nil
}

// RoleOf returns identity's role in roomId. ok is false when identity has
// never joined the room.
func (s *Service) RoleOf(ctx context.Context, roomId, identity string) (role Role, ok bool, err error) {
	if !validRoomId(roomId) {
		return Role{}, false, ErrNotFound
	}

	p, err := s.db.GetParticipant(ctx, roomId, identity)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Role{}, false, nil
		}
		return Role{}, false, err
	}

	return participantRole(p), true, nil
}

// Join records identity as a participant of roomId on first join and
// returns a token for its current role.
func (s *Service) Join(ctx context.Context, roomId, identity string) (string, error) {
	if identity == "" {
		return "", ErrUnauthenticated
	}
	if !validRoomId(roomId) {
		return "", ErrNotFound
	}

	p, err := s.db.UpsertParticipant(ctx, roomId, identity)
	if err != nil {
		return "", dbError(err)
	}

	return s.mint(roomId, identity, participantRole(p))
}

// JoinAsGuest returns a listen-only, hidden token under a fresh guest
// handle. Guests are never stored, so they cannot be promoted and do not
// appear in the room roster.
func (s *Service) JoinAsGuest(ctx context.Context, roomId string) (string, error) {
	if !validRoomId(roomId) {
		return "", ErrNotFound
	}

	if _, err := s.db.GetRoom(ctx, roomId); err != nil {
		return "", dbError(err)
	}

	tok, err := s.mint(roomId, token.NewGuestHandle(), guestRole())
	if err != nil {
		return "", err
	}
	s.stats.Incr(stats.GuestTokensMinted)

	return tok, nil
}

// ChangeSpeakerRole grants or revokes target's publish permission. The
// caller must be an admin of the room and the target must have joined it.
func (s *Service) ChangeSpeakerRole(ctx context.Context, roomId, caller, target string, canPublish bool) error {
	if caller == "" {
		return ErrUnauthenticated
	}
	if !validRoomId(roomId) {
		return ErrNotFound
	}

	if _, err := s.db.GetRoom(ctx, roomId); err != nil {
		return dbError(err)
	}

	callerRole, ok, err := s.RoleOf(ctx, roomId, caller)
	if err != nil {
		return err
	}
	if !ok || !callerRole.IsAdmin() {
		return ErrUnauthorized
	}

	return s.setSpeaker(ctx, roomId, target, canPublish)
}

// LeaveStage drops identity's own publish permission. Stepping down needs
// no admin rights.
func (s *Service) LeaveStage(ctx context.Context, roomId, identity string) error {
	if identity == "" {
		return ErrUnauthenticated
	}
	if !validRoomId(roomId) {
		return ErrNotFound
	}

	return s.setSpeaker(ctx, roomId, identity, false)
}

func (s *Service) setSpeaker(ctx context.Context, roomId, identity string, canPublish bool) error {
	if _, err := s.db.SetSpeaker(ctx, roomId, identity, canPublish); err != nil {
		return dbError(err)
	}
	s.stats.Incr(stats.SpeakerChanges)

	s.log.Info().
		Str("room", roomId).
		Str("identity", identity).
		Bool("can_publish", canPublish).
		Msg("speaker role changed")

	// The stored role is authoritative from here on; the push only
	// spares a connected session from reconnecting.
	s.sync.PushPermissionChange(roomId, identity, canPublish)
	return nil
}

// RoomInfo lists the room's host, speakers and admins with its shareable
// address.
func (s *Service) RoomInfo(ctx context.Context, roomId string) (RoomInfo, error) {
	if !validRoomId(roomId) {
		return RoomInfo{}, ErrNotFound
	}

	room, err := s.db.GetRoomWithParticipants(ctx, roomId)
	if err != nil {
		return RoomInfo{}, dbError(err)
	}

	link, err := nip19.EncodeAddress(nip19.KindRoom, room.CreatedBy, room.Id)
	if err != nil {
		return RoomInfo{}, fmt.Errorf("encode room address: %w", err)
	}

	info := RoomInfo{
		Host:     room.CreatedBy,
		Speakers: make([]string, 0),
		Admins:   make([]string, 0),
		Link:     link,
	}
	for _, p := range room.Participants {
		if p.IsSpeaker {
			info.Speakers = append(info.Speakers, p.Pubkey)
		}
		if p.IsAdmin {
			info.Admins = append(info.Admins, p.Pubkey)
		}
	}

	return info, nil
}

func (s *Service) mint(roomId, subject string, role Role) (string, error) {
	tok, err := s.tokens.Mint(roomId, subject, role.permissions())
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	s.stats.Incr(stats.TokensMinted)

	return tok, nil
}
