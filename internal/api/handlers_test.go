package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/nests/internal/access"
	"github.com/npezzotti/nests/internal/database"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoomId = "6f1c9a52-3f43-4a52-9d67-7c1f5d1f3a10"

// serve runs req through the app's full handler chain, authenticating as
// pubkey when it is not empty.
func serve(t *testing.T, app *NestsApp, method, path, body, pubkey string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if pubkey != "" {
		req.Header.Set("Authorization", "Bearer "+identityToken(t, testSigningKey, jwt.MapClaims{"pubkey": pubkey}))
	}

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockNestsRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, &mockAccess{}, mockRepo, nil)
			rr := serve(t, app, http.MethodGet, "/healthz", "", "")

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_createRoom(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodGet} {
		t.Run(method, func(t *testing.T) {
			svc := &mockAccess{}
			defer svc.AssertExpectations(t)
			svc.On("CreateRoom", alice).Return(database.Room{Id: testRoomId, CreatedBy: alice}, "room-token", nil).Once()

			app := newTestApp(t, svc, nil, nil)
			rr := serve(t, app, method, "/api/v1/nests", "", alice)

			require.Equal(t, http.StatusOK, rr.Code)
			resp := decodeBody[types.CreateRoomResponse](t, rr)
			assert.Equal(t, testRoomId, resp.RoomId)
			assert.Equal(t, "room-token", resp.Token)
			assert.Equal(t, []string{"wss+livekit://media.example.com:443"}, resp.Endpoints)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		svc := &mockAccess{}
		app := newTestApp(t, svc, nil, nil)

		rr := serve(t, app, http.MethodPost, "/api/v1/nests", "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		svc.AssertNotCalled(t, "CreateRoom")
	})

	t.Run("store failure", func(t *testing.T) {
		svc := &mockAccess{}
		svc.On("CreateRoom", alice).Return(database.Room{}, "", errors.New("db down"))
		app := newTestApp(t, svc, nil, nil)

		rr := serve(t, app, http.MethodPost, "/api/v1/nests", "", alice)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "internal server error", decodeBody[ApiError](t, rr).Message)
	})
}

func Test_joinRoom(t *testing.T) {
	tcases := []struct {
		name       string
		mockErr    error
		statusCode int
	}{
		{name: "joins room", statusCode: http.StatusOK},
		{name: "room not found", mockErr: access.ErrNotFound, statusCode: http.StatusNotFound},
		{name: "store failure", mockErr: errors.New("db down"), statusCode: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockAccess{}
			defer svc.AssertExpectations(t)
			svc.On("Join", testRoomId, bob).Return("join-token", tc.mockErr).Once()

			app := newTestApp(t, svc, nil, nil)
			rr := serve(t, app, http.MethodGet, "/api/v1/nests/"+testRoomId, "", bob)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, "join-token", decodeBody[types.TokenResponse](t, rr).Token)
			}
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &mockAccess{}, nil, nil)
		rr := serve(t, app, http.MethodGet, "/api/v1/nests/"+testRoomId, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_joinRoomAsGuest(t *testing.T) {
	svc := &mockAccess{}
	defer svc.AssertExpectations(t)
	svc.On("JoinAsGuest", testRoomId).Return("guest-token", nil).Once()
	svc.On("JoinAsGuest", "missing").Return("", access.ErrNotFound).Once()

	app := newTestApp(t, svc, nil, nil)

	rr := serve(t, app, http.MethodGet, "/api/v1/nests/"+testRoomId+"/guest", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "guest-token", decodeBody[types.TokenResponse](t, rr).Token)

	rr = serve(t, app, http.MethodGet, "/api/v1/nests/missing/guest", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_changePermissions(t *testing.T) {
	path := "/api/v1/nests/" + testRoomId + "/permissions"

	tcases := []struct {
		name       string
		body       string
		canPublish bool
		mockErr    error
		callSvc    bool
		statusCode int
	}{
		{
			name:       "promotes participant",
			body:       `{"participant":"` + bob + `","canPublish":true}`,
			canPublish: true,
			callSvc:    true,
			statusCode: http.StatusAccepted,
		},
		{
			name:       "demotes participant",
			body:       `{"participant":"` + bob + `","canPublish":false}`,
			canPublish: false,
			callSvc:    true,
			statusCode: http.StatusAccepted,
		},
		{
			name:       "caller is not an admin",
			body:       `{"participant":"` + bob + `","canPublish":true}`,
			canPublish: true,
			mockErr:    access.ErrUnauthorized,
			callSvc:    true,
			statusCode: http.StatusForbidden,
		},
		{
			name:       "target never joined",
			body:       `{"participant":"` + bob + `","canPublish":true}`,
			canPublish: true,
			mockErr:    access.ErrNotFound,
			callSvc:    true,
			statusCode: http.StatusNotFound,
		},
		{
			name:       "invalid json",
			body:       `not json`,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "missing participant",
			body:       `{"canPublish":true}`,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "missing canPublish",
			body:       `{"participant":"` + bob + `"}`,
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockAccess{}
			defer svc.AssertExpectations(t)
			if tc.callSvc {
				svc.On("ChangeSpeakerRole", testRoomId, alice, bob, tc.canPublish).Return(tc.mockErr).Once()
			}

			app := newTestApp(t, svc, nil, nil)
			rr := serve(t, app, http.MethodPost, path, tc.body, alice)

			assert.Equal(t, tc.statusCode, rr.Code)
			if !tc.callSvc {
				svc.AssertNotCalled(t, "ChangeSpeakerRole")
			}
		})
	}
}

func Test_leaveStage(t *testing.T) {
	path := "/api/v1/nests/" + testRoomId + "/leave-stage"

	svc := &mockAccess{}
	defer svc.AssertExpectations(t)
	svc.On("LeaveStage", testRoomId, bob).Return(nil).Once()
	svc.On("LeaveStage", testRoomId, alice).Return(access.ErrNotFound).Once()

	app := newTestApp(t, svc, nil, nil)

	assert.Equal(t, http.StatusAccepted, serve(t, app, http.MethodPost, path, "", bob).Code)
	assert.Equal(t, http.StatusNotFound, serve(t, app, http.MethodPost, path, "", alice).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, app, http.MethodPost, path, "", "").Code)
}

func Test_getRoomInfo(t *testing.T) {
	info := access.RoomInfo{
		Host:     alice,
		Speakers: []string{alice, bob},
		Admins:   []string{alice},
		Link:     "naddr1test",
	}

	svc := &mockAccess{}
	defer svc.AssertExpectations(t)
	svc.On("RoomInfo", testRoomId).Return(info, nil).Once()
	svc.On("RoomInfo", "missing").Return(access.RoomInfo{}, access.ErrNotFound).Once()

	app := newTestApp(t, svc, nil, nil)

	rr := serve(t, app, http.MethodGet, "/api/v1/nests/"+testRoomId+"/info", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.RoomInfo{
		Host:     alice,
		Speakers: []string{alice, bob},
		Admins:   []string{alice},
		Link:     "naddr1test",
	}, decodeBody[types.RoomInfo](t, rr))

	rr = serve(t, app, http.MethodGet, "/api/v1/nests/missing/info", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_getLobby(t *testing.T) {
	now := time.Unix(1700000000, 0)
	live := liveness.Room{
		Id:        "30312:" + alice + ":stage",
		Host:      alice,
		Title:     "Morning stage",
		Status:    liveness.StatusLive,
		CreatedAt: now,
	}
	planned := liveness.Room{
		Id:        "30312:" + bob + ":later",
		Host:      bob,
		Status:    liveness.StatusPlanned,
		StartsAt:  now.Add(time.Hour),
		CreatedAt: now,
	}

	lobby := &staticLobby{view: liveness.View{
		Live: []liveness.RoomPresence{{
			Room:     live,
			Presence: []liveness.Signal{{RoomId: live.Id, Identity: bob, At: now}},
		}},
		Planned: []liveness.RoomPresence{{Room: planned}},
	}}

	app := newTestApp(t, &mockAccess{}, nil, lobby)

	rr := serve(t, app, http.MethodGet, "/api/v1/nests/lobby?show_empty=true", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, lobby.lastShow, "expected show_empty to reach the lobby")

	resp := decodeBody[types.Lobby](t, rr)
	require.Len(t, resp.Live, 1)
	require.Len(t, resp.Planned, 1)

	assert.Equal(t, live.Id, resp.Live[0].Id)
	assert.Equal(t, "live", resp.Live[0].Status)
	assert.Equal(t, "Morning stage", resp.Live[0].Title)
	assert.Equal(t, []string{bob}, resp.Live[0].Participants)
	assert.Zero(t, resp.Live[0].Starts)
	assert.True(t, strings.HasPrefix(resp.Live[0].Link, "naddr1"))

	assert.Equal(t, "planned", resp.Planned[0].Status)
	assert.Equal(t, now.Add(time.Hour).Unix(), resp.Planned[0].Starts)
	assert.Empty(t, resp.Planned[0].Participants)

	rr = serve(t, app, http.MethodGet, "/api/v1/nests/lobby", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, lobby.lastShow)
}

func Test_getLobby_Disabled(t *testing.T) {
	app := newTestApp(t, &mockAccess{}, nil, nil)

	rr := serve(t, app, http.MethodGet, "/api/v1/nests/lobby", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
