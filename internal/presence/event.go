package presence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/npezzotti/nests/internal/liveness"
	"github.com/npezzotti/nests/internal/nip19"
)

const (
	KindRoom     = nip19.KindRoom
	KindPresence = 10312
)

var (
	ErrInvalidID        = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrUnexpectedKind   = errors.New("unexpected event kind")
)

type Tag []string

func (t Tag) key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

func (t Tag) value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

func (e *Event) tag(key string) string {
	for _, t := range e.Tags {
		if t.key() == key {
			return t.value()
		}
	}
	return ""
}

// serialize returns the canonical form the event id is the hash of.
func (e *Event) serialize() []byte {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Verify checks the event id and its schnorr signature by the author.
func (e *Event) Verify() error {
	sum := sha256.Sum256(e.serialize())
	if hex.EncodeToString(sum[:]) != e.ID {
		return ErrInvalidID
	}

	rawKey, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return ErrInvalidSignature
	}
	pub, err := schnorr.ParsePubKey(rawKey)
	if err != nil {
		return ErrInvalidSignature
	}

	rawSig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return ErrInvalidSignature
	}
	sig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return ErrInvalidSignature
	}

	if !sig.Verify(sum[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}

// toRoom reads a room announcement. The room is keyed by its address so
// that presence events referencing it resolve to the same id. The status is
// taken as is; unset or unrecognized values still replace an older version
// of the room and are never listed.
func (e *Event) toRoom() (liveness.Room, error) {
	if e.Kind != KindRoom {
		return liveness.Room{}, ErrUnexpectedKind
	}

	d := e.tag("d")
	if d == "" {
		return liveness.Room{}, fmt.Errorf("room event %s has no d tag", e.ID)
	}

	room := liveness.Room{
		Id:        nip19.Address(KindRoom, e.PubKey, d),
		Host:      e.PubKey,
		Title:     e.tag("title"),
		Summary:   e.tag("summary"),
		Status:    liveness.Status(e.tag("status")),
		CreatedAt: time.Unix(e.CreatedAt, 0),
	}
	if starts := e.tag("starts"); starts != "" {
		sec, err := strconv.ParseInt(starts, 10, 64)
		if err != nil {
			return liveness.Room{}, fmt.Errorf("room event %s has invalid starts tag: %w", e.ID, err)
		}
		room.StartsAt = time.Unix(sec, 0)
	}

	return room, nil
}

func (e *Event) toSignal() (liveness.Signal, error) {
	if e.Kind != KindPresence {
		return liveness.Signal{}, ErrUnexpectedKind
	}

	prefix := strconv.Itoa(KindRoom) + ":"
	for _, t := range e.Tags {
		if t.key() == "a" && strings.HasPrefix(t.value(), prefix) {
			return liveness.Signal{
				RoomId:   t.value(),
				Identity: e.PubKey,
				At:       time.Unix(e.CreatedAt, 0),
			}, nil
		}
	}

	return liveness.Signal{}, fmt.Errorf("presence event %s references no room", e.ID)
}
