// Package meshport defines the Mesh Port: the sole abstraction over a
// concrete mesh device. Everything above this package treats the mesh as an
// idealized datagram channel with loss and reordering but no duplication
// guarantees of its own.
package meshport

import (
	"context"
	"errors"
)

// NodeID is an opaque, stable identifier for a mesh peer.
type NodeID string

// Broadcast is the destination sentinel meaning "send to every reachable
// node", used for discovery PINGs.
const Broadcast NodeID = "*"

// ErrTransient reports a recoverable send failure (device busy, radio not
// ready). Callers retry per the chunk watchdog.
var ErrTransient = errors.New("meshport: transient send error")

// ErrFatal reports an unrecoverable send failure (device disconnected). The
// Session Manager aborts every session when a send returns it; its event
// loop keeps running until its context is cancelled.
var ErrFatal = errors.New("meshport: fatal send error")

// ErrClosed names a closed port. Recv does not return it: Recv reports
// closure through its ok=false result.
var ErrClosed = errors.New("meshport: closed")

// Link carries the per-frame radio metadata a receive produced.
type Link struct {
	SNR      float64
	RSSI     int
	HopCount int
}

// Inbound is one received frame plus its origin and link quality.
type Inbound struct {
	Origin NodeID
	Frame  []byte
	Link   Link
}

// Port is the minimal duplex channel every protocol component depends on.
// Implementations must not be shared across more than one protocol task:
// the Session Manager is the sole reader and sole writer.
type Port interface {
	// Send delivers frame to dest (or Broadcast). It returns nil, or an
	// error wrapping ErrTransient or ErrFatal.
	Send(ctx context.Context, dest NodeID, frame []byte) error

	// Recv blocks for the next inbound frame. It returns ok=false once the
	// port is closed or ctx is done; the stream is lazy, infinite, and
	// non-restartable.
	Recv(ctx context.Context) (Inbound, bool)

	// LocalID reports this node's own identifier.
	LocalID() NodeID

	// Close releases the underlying device. Idempotent.
	Close()
}
