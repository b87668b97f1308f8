// Package protoid mints the short opaque tokens the wire protocol needs:
// transfer identifiers and discovery nonces. Both ride on google/uuid's
// random source rather than a hand-rolled one.
package protoid

import (
	"encoding/base32"

	"github.com/google/uuid"
)

var enc = base32.StdEncoding.WithPadding(base32.NoPadding)

// TransferID returns a short, printable, collision-resistant token safe to
// embed in a pipe-delimited wire frame. It is derived from a UUIDv4's random
// bits rather than the UUID's canonical hyphenated form, since the wire
// budget rewards brevity.
func TransferID() string {
	u := uuid.New()
	return enc.EncodeToString(u[:6])
}

// Nonce returns a fresh discovery nonce for a PING frame.
func Nonce() string {
	u := uuid.New()
	return enc.EncodeToString(u[:4])
}
