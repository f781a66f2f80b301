// Package token mints the capability tokens a participant presents to the
// media service. A token carries the participant's role as of minting and
// nothing else; a role change is reflected by minting a new token.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

const (
	DefaultTTL = 6 * time.Hour

	SourceMicrophone = "microphone"
	guestPrefix      = "guest-"
)

var ErrInvalidToken = errors.New("invalid token")

// Permissions is the role a token is minted for.
type Permissions struct {
	Admin   bool
	Speaker bool
	Hidden  bool
}

// VideoGrant mirrors the grant layout understood by LiveKit. Publish and
// subscribe flags are always serialized because LiveKit treats a missing
// flag as granted.
type VideoGrant struct {
	Room              string   `json:"room"`
	RoomJoin          bool     `json:"roomJoin"`
	RoomAdmin         bool     `json:"roomAdmin,omitempty"`
	CanPublish        bool     `json:"canPublish"`
	CanSubscribe      bool     `json:"canSubscribe"`
	CanPublishSources []string `json:"canPublishSources,omitempty"`
	Hidden            bool     `json:"hidden,omitempty"`
}

type Claims struct {
	jwt.StandardClaims
	Video VideoGrant `json:"video"`
}

type Issuer struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Issuer{
		apiKey: apiKey,
		secret: []byte(apiSecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewGuestHandle returns a fresh pseudonymous identity for an
// unauthenticated participant.
func NewGuestHandle() string {
	return guestPrefix + uuid.NewString()
}

// Grant builds the video grant for perms in roomId.
func Grant(roomId string, perms Permissions) VideoGrant {
	g := VideoGrant{
		Room:         roomId,
		RoomJoin:     true,
		RoomAdmin:    perms.Admin,
		CanPublish:   perms.Speaker,
		CanSubscribe: true,
		Hidden:       perms.Hidden,
	}
	if !perms.Hidden {
		g.CanPublishSources = []string{SourceMicrophone}
	}

	return g
}

// Mint signs a token granting subject perms in roomId.
func (i *Issuer) Mint(roomId, subject string, perms Permissions) (string, error) {
	if roomId == "" || subject == "" {
		return "", fmt.Errorf("room and subject are required")
	}

	now := i.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    i.apiKey,
			Subject:   subject,
			Id:        subject,
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(i.ttl).Unix(),
		},
		Video: Grant(roomId, perms),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies a token minted by this issuer and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || claims.Issuer != i.apiKey {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}
