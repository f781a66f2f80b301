package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/nests/internal/nip19"
)

const (
	tokenCookieKey = "token"
	pubkeyClaim    = "pubkey"
)

type contextKey string

const identityCtxKey contextKey = "identity"

func WithIdentity(ctx context.Context, pubkey string) context.Context {
	return context.WithValue(ctx, identityCtxKey, pubkey)
}

// Identity returns the verified public key of the caller.
func Identity(ctx context.Context) (string, bool) {
	pubkey, ok := ctx.Value(identityCtxKey).(string)
	return pubkey, ok && pubkey != ""
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		return strings.TrimSpace(token), true
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil {
		return c.Value, true
	}

	return "", false
}

// identityFromRequest verifies the session token issued by the identity
// gateway and returns the public key it vouches for.
func (s *NestsApp) identityFromRequest(r *http.Request) (string, error) {
	tokenString, ok := bearerToken(r)
	if !ok {
		return "", errors.New("no session token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.identityKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}

	pubkey, _ := claims[pubkeyClaim].(string)
	if !nip19.ValidPubkey(pubkey) {
		return "", errors.New("invalid pubkey claim")
	}

	return strings.ToLower(pubkey), nil
}
