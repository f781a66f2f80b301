package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/nests/internal/access"
	"github.com/npezzotti/nests/internal/config"
	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/rs/zerolog"
)

// AccessService is the room access surface the HTTP layer exposes.
type AccessService interface {
	CreateRoom(ctx context.Context, identity string) (database.Room, string, error)
	Join(ctx context.Context, roomId, identity string) (string, error)
	JoinAsGuest(ctx context.Context, roomId string) (string, error)
	ChangeSpeakerRole(ctx context.Context, roomId, caller, target string, canPublish bool) error
	LeaveStage(ctx context.Context, roomId, identity string) error
	RoomInfo(ctx context.Context, roomId string) (access.RoomInfo, error)
}

// Lobby resolves the current live and planned room lists.
type Lobby interface {
	View(showEmpty bool) liveness.View
}

type NestsApp struct {
	log         zerolog.Logger
	db          database.NestsRepository
	svc         AccessService
	lobby       Lobby
	relays      []string
	identityKey []byte
	mediaURL    string
	hlsBase     *url.URL
	srv         *http.Server
}

// NewNestsApp registers the API on mux. lobby may be nil when no relay
// subscription is running.
func NewNestsApp(mux *http.ServeMux, logger zerolog.Logger, svc AccessService, db database.NestsRepository, lobby Lobby, cfg *config.Config) (*NestsApp, error) {
	identityKey, err := cfg.IdentityKey()
	if err != nil {
		return nil, fmt.Errorf("identity signing key: %w", err)
	}

	mediaURL, err := mediaEndpoint(cfg.PublicURL)
	if err != nil {
		return nil, err
	}

	s := &NestsApp{
		log:         logger.With().Str("module", "api").Logger(),
		db:          db,
		svc:         svc,
		lobby:       lobby,
		relays:      cfg.Lobby.Relays,
		identityKey: identityKey,
		mediaURL:    mediaURL,
	}
	if cfg.Egress.Enabled {
		if s.hlsBase, err = url.Parse(cfg.Egress.Endpoint); err != nil {
			return nil, fmt.Errorf("egress endpoint: %w", err)
		}
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/v1/nests", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/v1/nests", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/v1/nests/lobby", s.getLobby)
	mux.HandleFunc("GET /api/v1/nests/{id}", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("GET /api/v1/nests/{id}/guest", s.joinRoomAsGuest)
	mux.HandleFunc("GET /api/v1/nests/{id}/info", s.getRoomInfo)
	mux.HandleFunc("POST /api/v1/nests/{id}/permissions", s.authMiddleware(s.changePermissions))
	mux.HandleFunc("POST /api/v1/nests/{id}/leave-stage", s.authMiddleware(s.leaveStage))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	s.srv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.errorHandler(h),
	}

	return s, nil
}

// mediaEndpoint turns the public media server url into the address
// clients dial, e.g. wss+livekit://media.example.com:443.
func mediaEndpoint(publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid public url %q", publicURL)
	}

	scheme, port := "wss", u.Port()
	if u.Scheme == "http" {
		scheme = "ws"
	}
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	return scheme + "+livekit://" + net.JoinHostPort(u.Hostname(), port), nil
}

func (s *NestsApp) roomEndpoints(roomId string) []string {
	endpoints := make([]string, 0, 2)
	if s.hlsBase != nil {
		endpoints = append(endpoints, s.hlsBase.JoinPath(roomId, "live.m3u8").String())
	}
	return append(endpoints, s.mediaURL)
}

func (s *NestsApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *NestsApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *NestsApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
