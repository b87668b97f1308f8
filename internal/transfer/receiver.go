package transfer

import (
	"time"

	"github.com/z-mesh/zmesh/internal/codec"
	"github.com/z-mesh/zmesh/internal/config"
	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
)

// ReceiverState is one point in the receiver-side Transfer Session
// lifecycle: Receiving -> {Completed, Failed, Aborted}.
type ReceiverState int

const (
	ReceiverReceiving ReceiverState = iota
	ReceiverCompleted
	ReceiverFailed
	ReceiverAborted
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverReceiving:
		return "Receiving"
	case ReceiverCompleted:
		return "Completed"
	case ReceiverFailed:
		return "Failed"
	case ReceiverAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

func (s ReceiverState) done() bool {
	return s != ReceiverReceiving
}

// maxNaksPerEnd bounds how many missing-chunk NAKs a single END triggers,
// so a badly fragmented transfer can't flood the mesh in one burst.
const maxNaksPerEnd = 8

// Receiver accumulates one inbound transfer's chunks. Like Sender, it never
// touches the mesh port: TakePendingControl reports ACK/NAK/FIN/ABT frames
// for the Session Manager to send unconditionally (none of these are
// rate-limited; only the sender's DATA frames are).
type Receiver struct {
	cfg config.Config
	bus *eventbus.Bus

	TransferID string
	Peer       meshport.NodeID
	Filename   string
	Total      int

	received map[int][]byte
	state    ReceiverState
	failReason Reason

	startedAt      time.Time
	lastActivityAt time.Time

	pendingControl []codec.Frame
}

// NewReceiver constructs a receiver from a validated BEGIN frame.
func NewReceiver(cfg config.Config, bus *eventbus.Bus, peer meshport.NodeID, transferID, filename string, total int, now time.Time) *Receiver {
	r := &Receiver{
		cfg:            cfg,
		bus:            bus,
		TransferID:     transferID,
		Peer:           peer,
		Filename:       filename,
		Total:          total,
		received:       make(map[int][]byte),
		startedAt:      now,
		lastActivityAt: now,
	}
	r.emit(eventbus.TransferStarted{
		Time: now, TransferID: transferID, Peer: string(peer),
		Direction: "recv", Filename: filename, Total: total,
	})
	return r
}

func (r *Receiver) State() ReceiverState { return r.state }
func (r *Receiver) FailReason() Reason   { return r.failReason }
func (r *Receiver) Done() bool           { return r.state.done() }

func (r *Receiver) TakePendingControl() []codec.Frame {
	out := r.pendingControl
	r.pendingControl = nil
	return out
}

func (r *Receiver) queueControl(f codec.Frame) {
	r.pendingControl = append(r.pendingControl, f)
}

// OnData records one DATA frame and always replies with ACK(idx), even for
// an already-seen index, so a lost ACK is repaired by the sender's next
// retransmit without the receiver caring which attempt it was.
func (r *Receiver) OnData(idx int, payload []byte, now time.Time) {
	if r.state.done() {
		return
	}
	r.lastActivityAt = now
	if !r.chunkShapeValid(idx, payload) {
		r.abort(ReasonProtocolError, now)
		return
	}
	if _, dup := r.received[idx]; !dup {
		r.received[idx] = payload
		r.emit(eventbus.TransferProgress{Time: now, TransferID: r.TransferID, Done: len(r.received), Total: r.Total})
	}
	r.queueControl(codec.Frame{Kind: codec.KindAck, TransferID: r.TransferID, Index: idx})
}

func (r *Receiver) chunkShapeValid(idx int, payload []byte) bool {
	if idx < 0 || idx >= r.Total {
		return false
	}
	if len(payload) > r.cfg.ChunkPayloadMax {
		return false
	}
	if idx < r.Total-1 && len(payload) != r.cfg.ChunkPayloadMax {
		return false // every non-final chunk must be full-sized
	}
	return true
}

// OnEnd handles an END frame. It reports readyToFinalize=true once every
// chunk has arrived, in which case the caller must reassemble, hand the
// result to the sink, and call Finalize with the outcome. Otherwise it
// queues NAKs for the missing indices and stays in Receiving.
func (r *Receiver) OnEnd(now time.Time) (readyToFinalize bool) {
	if r.state.done() {
		return false
	}
	r.lastActivityAt = now
	if len(r.received) == r.Total {
		return true
	}
	sent := 0
	for i := 0; i < r.Total && sent < maxNaksPerEnd; i++ {
		if _, ok := r.received[i]; !ok {
			r.queueControl(codec.Frame{Kind: codec.KindNak, TransferID: r.TransferID, Index: i})
			sent++
		}
	}
	return false
}

// Reassemble concatenates every received chunk in order. Callers must only
// invoke this after OnEnd reports readyToFinalize.
func (r *Receiver) Reassemble() []byte {
	return Reassemble(r.received, r.Total)
}

// Finalize records the outcome of handing Reassemble's bytes to the file
// sink: nil transitions to Completed and queues FIN(ok); a non-nil sinkErr
// transitions to Failed(SinkError) and queues FIN(err).
func (r *Receiver) Finalize(sinkErr error, now time.Time) {
	if sinkErr != nil {
		r.queueControl(codec.Frame{Kind: codec.KindFin, TransferID: r.TransferID, Status: "err"})
		r.state = ReceiverFailed
		r.failReason = ReasonSinkError
		r.emit(eventbus.TransferFailed{
			Time: now, TransferID: r.TransferID, Peer: string(r.Peer),
			Direction: "recv", Reason: string(ReasonSinkError),
		})
		return
	}
	r.queueControl(codec.Frame{Kind: codec.KindFin, TransferID: r.TransferID, Status: "ok"})
	r.state = ReceiverCompleted
	r.emit(eventbus.TransferCompleted{
		Time: now, TransferID: r.TransferID, Peer: string(r.Peer),
		Direction: "recv", Bytes: totalReceived(r.received),
	})
}

// Abort forces the session to Aborted, e.g. on manager shutdown. Unlike the
// internal abort() used for protocol/idle failures, this always reports
// Aborted rather than Failed: the receiver did not give up on its own.
func (r *Receiver) Abort(reason Reason, now time.Time) {
	if r.Done() {
		return
	}
	r.queueControl(codec.Frame{Kind: codec.KindAbort, TransferID: r.TransferID, Reason: string(reason)})
	r.state = ReceiverAborted
	r.failReason = reason
	r.emit(eventbus.TransferFailed{
		Time: now, TransferID: r.TransferID, Peer: string(r.Peer),
		Direction: "recv", Reason: string(reason),
	})
}

// OnAbort processes an inbound ABT frame from the sender.
func (r *Receiver) OnAbort(reason string, now time.Time) {
	if r.state.done() {
		return
	}
	r.state = ReceiverAborted
	r.failReason = Reason(reason)
	r.emit(eventbus.TransferFailed{
		Time: now, TransferID: r.TransferID, Peer: string(r.Peer),
		Direction: "recv", Reason: reason,
	})
}

// Tick aborts a receiver that has heard nothing for RecvIdleTimeout.
func (r *Receiver) Tick(now time.Time) {
	if r.state.done() {
		return
	}
	if now.Sub(r.lastActivityAt) > r.cfg.RecvIdleTimeout {
		r.abort(ReasonIdleTimeout, now)
	}
}

func (r *Receiver) abort(reason Reason, now time.Time) {
	r.queueControl(codec.Frame{Kind: codec.KindAbort, TransferID: r.TransferID, Reason: string(reason)})
	r.state = ReceiverFailed
	r.failReason = reason
	r.emit(eventbus.TransferFailed{
		Time: now, TransferID: r.TransferID, Peer: string(r.Peer),
		Direction: "recv", Reason: string(reason),
	})
}

func (r *Receiver) emit(ev eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func totalReceived(received map[int][]byte) int {
	n := 0
	for _, c := range received {
		n += len(c)
	}
	return n
}
