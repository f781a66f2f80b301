package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &NestsApp{
		log: zerolog.New(buf),
	}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &NestsApp{log: zerolog.Nop()}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	app := newTestApp(t, &mockAccess{}, nil, nil)

	identityHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pubkey, ok := Identity(r.Context())
		if !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(pubkey))
	})

	valid := identityToken(t, testSigningKey, jwt.MapClaims{"pubkey": alice})

	tcases := []struct {
		name       string
		setup      func(r *http.Request)
		statusCode int
		identity   string
	}{
		{
			name:       "bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			statusCode: http.StatusOK,
			identity:   alice,
		},
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: valid}) },
			statusCode: http.StatusOK,
			identity:   alice,
		},
		{
			name: "upper case pubkey is normalized",
			setup: func(r *http.Request) {
				tok := identityToken(t, testSigningKey, jwt.MapClaims{"pubkey": strings.ToUpper(alice)})
				r.Header.Set("Authorization", "Bearer "+tok)
			},
			statusCode: http.StatusOK,
			identity:   alice,
		},
		{
			name:       "missing token",
			setup:      func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic "+valid) },
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "wrong key",
			setup: func(r *http.Request) {
				tok := identityToken(t, []byte("other-key"), jwt.MapClaims{"pubkey": alice})
				r.Header.Set("Authorization", "Bearer "+tok)
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "expired",
			setup: func(r *http.Request) {
				tok := identityToken(t, testSigningKey, jwt.MapClaims{
					"pubkey": alice,
					"exp":    time.Now().Add(-time.Minute).Unix(),
				})
				r.Header.Set("Authorization", "Bearer "+tok)
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "missing pubkey",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+identityToken(t, testSigningKey, jwt.MapClaims{"sub": alice}))
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "malformed pubkey",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+identityToken(t, testSigningKey, jwt.MapClaims{"pubkey": "npub1xyz"}))
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "unsigned",
			setup: func(r *http.Request) {
				tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"pubkey": alice}).
					SignedString(jwt.UnsafeAllowNoneSignatureType)
				assert.NoError(t, err)
				r.Header.Set("Authorization", "Bearer "+tok)
			},
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)

			app.authMiddleware(identityHandler).ServeHTTP(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, tc.identity, rr.Body.String())
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			}
		})
	}
}
