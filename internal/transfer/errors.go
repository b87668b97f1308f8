// Package transfer implements the sender-side and receiver-side halves of a
// single chunked file transfer: the state machines described as the
// Transfer Session. Neither side touches the mesh port directly; both
// produce frames for their owning Session Manager to send and rate-limit.
package transfer

import (
	"errors"
	"fmt"
)

// Reason is a stable, loggable failure or abort cause. It never wraps an
// underlying error since sessions cross the wire and must describe
// themselves in a FIN or ABT frame's text field.
type Reason string

const (
	ReasonNoResponse    Reason = "NoResponse"
	ReasonChunkExhausted Reason = "ChunkExhausted"
	ReasonIdleTimeout   Reason = "IdleTimeout"
	ReasonProtocolError Reason = "ProtocolError"
	ReasonSinkError     Reason = "SinkError"
	ReasonSourceError   Reason = "SourceError"
	ReasonReceiverError Reason = "ReceiverError"
	ReasonShutdown      Reason = "Shutdown"
	ReasonPeerAborted   Reason = "PeerAborted"
	ReasonPeerBusy      Reason = "PeerBusy"
	ReasonDeviceFatal   Reason = "DeviceFatal"
)

// SessionError pairs a transfer ID and Reason with an optional underlying
// error. No function in this module returns it: session failures are
// observable via State()/FailReason() and the event bus.
type SessionError struct {
	TransferID string
	Reason     Reason
	Err        error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s: %s: %v", e.TransferID, e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer %s: %s", e.TransferID, e.Reason)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ErrPeerBusy is returned by a Session Manager when a caller tries to start
// a second concurrent send to a peer that already has one outstanding.
var ErrPeerBusy = errors.New("transfer: peer already has an active session in this direction")

// ErrUnknownTransfer names the case of a control frame that references a
// transfer ID the receiving side has no session for and cannot start one
// from (i.e. it is not a BEGIN). The Session Manager drops such frames
// without returning this error.
var ErrUnknownTransfer = errors.New("transfer: no session for this transfer id")
