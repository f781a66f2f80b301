// Package nip19 encodes shareable Nostr addresses.
package nip19

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// KindRoom is the addressable event kind describing an audio room.
const KindRoom = 30312

const (
	tlvSpecial uint8 = 0
	tlvRelay   uint8 = 1
	tlvAuthor  uint8 = 2
	tlvKind    uint8 = 3
)

var (
	ErrInvalidPubkey = errors.New("pubkey must be 32 bytes of hex")
	ErrValueTooLong  = errors.New("tlv value exceeds 255 bytes")
)

// ValidPubkey reports whether pubkey is a 64 character hex public key.
func ValidPubkey(pubkey string) bool {
	b, err := hex.DecodeString(pubkey)
	return err == nil && len(b) == 32
}

// EncodeAddress returns the naddr for the kind event with d-tag
// identifier published by pubkey.
func EncodeAddress(kind uint32, pubkey, identifier string, relays ...string) (string, error) {
	author, err := hex.DecodeString(pubkey)
	if err != nil || len(author) != 32 {
		return "", ErrInvalidPubkey
	}

	if len(identifier) > 255 {
		return "", ErrValueTooLong
	}
	for _, r := range relays {
		if len(r) > 255 {
			return "", ErrValueTooLong
		}
	}

	buf := make([]byte, 0, 64+len(identifier))
	buf = appendTLV(buf, tlvSpecial, []byte(identifier))
	for _, r := range relays {
		buf = appendTLV(buf, tlvRelay, []byte(r))
	}
	buf = appendTLV(buf, tlvAuthor, author)
	buf = appendTLV(buf, tlvKind, binary.BigEndian.AppendUint32(nil, kind))

	data, err := bech32.ConvertBits(buf, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}

	return bech32.Encode("naddr", data)
}

func appendTLV(buf []byte, typ uint8, value []byte) []byte {
	buf = append(buf, typ, uint8(len(value)))
	return append(buf, value...)
}

// Address is the "a" tag form of an addressable event reference.
func Address(kind uint32, pubkey, identifier string) string {
	return fmt.Sprintf("%d:%s:%s", kind, pubkey, identifier)
}
