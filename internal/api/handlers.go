package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/nip19"
	"github.com/npezzotti/nests/internal/types"
)

func (s *NestsApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *NestsApp) writeError(w http.ResponseWriter, err error) {
	errResp := apiErrorFrom(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *NestsApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("health check")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *NestsApp) createRoom(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := Identity(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, token, err := s.svc.CreateRoom(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.CreateRoomResponse{
		RoomId:    room.Id,
		Endpoints: s.roomEndpoints(room.Id),
		Token:     token,
	})
}

func (s *NestsApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := Identity(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.svc.Join(r.Context(), r.PathValue("id"), pubkey)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.TokenResponse{Token: token})
}

func (s *NestsApp) joinRoomAsGuest(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.JoinAsGuest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.TokenResponse{Token: token})
}

func (s *NestsApp) changePermissions(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := Identity(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req types.ChangePermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.Participant == "" || req.CanPublish == nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	err := s.svc.ChangeSpeakerRole(r.Context(), r.PathValue("id"), pubkey, req.Participant, *req.CanPublish)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *NestsApp) leaveStage(w http.ResponseWriter, r *http.Request) {
	pubkey, ok := Identity(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.svc.LeaveStage(r.Context(), r.PathValue("id"), pubkey); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *NestsApp) getRoomInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.RoomInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, types.RoomInfo{
		Host:     info.Host,
		Speakers: info.Speakers,
		Admins:   info.Admins,
		Link:     info.Link,
	})
}

func (s *NestsApp) getLobby(w http.ResponseWriter, r *http.Request) {
	if s.lobby == nil {
		errResp := NewServiceUnavailableError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	showEmpty, _ := strconv.ParseBool(r.URL.Query().Get("show_empty"))
	view := s.lobby.View(showEmpty)

	s.writeJson(w, http.StatusOK, types.Lobby{
		Live:    s.lobbyRooms(view.Live),
		Planned: s.lobbyRooms(view.Planned),
	})
}

func (s *NestsApp) lobbyRooms(rooms []liveness.RoomPresence) []types.LobbyRoom {
	out := make([]types.LobbyRoom, 0, len(rooms))
	for _, rp := range rooms {
		lr := types.LobbyRoom{
			Id:           rp.Room.Id,
			Host:         rp.Room.Host,
			Title:        rp.Room.Title,
			Summary:      rp.Room.Summary,
			Status:       string(rp.Room.Status),
			CreatedAt:    rp.Room.CreatedAt.Unix(),
			Participants: make([]string, 0, len(rp.Presence)),
		}
		if !rp.Room.StartsAt.IsZero() {
			lr.Starts = rp.Room.StartsAt.Unix()
		}
		for _, p := range rp.Presence {
			lr.Participants = append(lr.Participants, p.Identity)
		}

		// Room ids are "kind:pubkey:d" addresses.
		if parts := strings.SplitN(rp.Room.Id, ":", 3); len(parts) == 3 {
			if link, err := nip19.EncodeAddress(nip19.KindRoom, parts[1], parts[2], s.relays...); err == nil {
				lr.Link = link
			}
		}

		out = append(out, lr)
	}

	return out
}
