package transfer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/z-mesh/zmesh/internal/codec"
	"github.com/z-mesh/zmesh/internal/config"
	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
)

// SenderState is one point in the sender-side Transfer Session lifecycle:
// Negotiating -> Transferring -> Finalizing -> {Completed, Failed, Aborted}.
type SenderState int

const (
	SenderNegotiating SenderState = iota
	SenderTransferring
	SenderFinalizing
	SenderCompleted
	SenderFailed
	SenderAborted
)

func (s SenderState) String() string {
	switch s {
	case SenderNegotiating:
		return "Negotiating"
	case SenderTransferring:
		return "Transferring"
	case SenderFinalizing:
		return "Finalizing"
	case SenderCompleted:
		return "Completed"
	case SenderFailed:
		return "Failed"
	case SenderAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

func (s SenderState) done() bool {
	return s == SenderCompleted || s == SenderFailed || s == SenderAborted
}

// Sender drives one outbound transfer to a single peer. It never touches a
// meshport.Port itself: TakePendingControl and PendingDataFrame report frames the
// owning Session Manager must send, the first unconditionally and the
// second only once a rate-limit token is available.
//
// Negotiating doubles as chunk 0's send-and-watchdog cycle: no dedicated
// BEGIN-acknowledgement frame exists on the wire, so "the first ACK
// referencing any chunk" is exactly ACK(0), and the negotiate timeout is
// chunk 0's watchdog under a different name and retry budget. Because a
// lost BEGIN leaves the receiver with nothing to attach a DATA(0) retry
// to, each negotiate-watchdog fire also re-queues BEGIN itself.
type Sender struct {
	cfg config.Config
	bus *eventbus.Bus

	TransferID string
	Peer       meshport.NodeID
	Filename   string
	Total      int
	chunks     [][]byte

	state      SenderState
	failReason Reason
	startedAt  time.Time

	outstanding int  // index awaiting ACK, or -1
	armed       bool // true once the outstanding chunk has actually been sent
	watchdog    time.Time
	retryCount  map[int]int
	acked       map[int]bool

	finalRetried bool
	finalDeadline time.Time

	pendingControl []codec.Frame
}

// NewSender constructs a sender in state Negotiating. Call Start to obtain
// the initial BEGIN frame.
func NewSender(cfg config.Config, bus *eventbus.Bus, peer meshport.NodeID, transferID, filename string, data []byte) *Sender {
	chunks := SplitChunks(data, cfg.ChunkPayloadMax)
	return &Sender{
		cfg:         cfg,
		bus:         bus,
		TransferID:  transferID,
		Peer:        peer,
		Filename:    filename,
		Total:       len(chunks),
		chunks:      chunks,
		state:       SenderNegotiating,
		outstanding: 0,
		retryCount:  make(map[int]int),
		acked:       make(map[int]bool),
	}
}

func (s *Sender) State() SenderState  { return s.state }
func (s *Sender) FailReason() Reason  { return s.failReason }
func (s *Sender) Done() bool          { return s.state.done() }

// Start arms the transfer and returns the BEGIN frame to send immediately
// (BEGIN is a control frame, exempt from the outbound rate limit).
func (s *Sender) Start(now time.Time) codec.Frame {
	s.startedAt = now
	s.emit(eventbus.TransferStarted{
		Time: now, TransferID: s.TransferID, Peer: string(s.Peer),
		Direction: "send", Filename: s.Filename, Total: s.Total,
	})
	return codec.Frame{Kind: codec.KindBegin, TransferID: s.TransferID, Total: s.Total, Filename: s.Filename}
}

// PendingDataFrame reports the next DATA frame to send, if the session is
// currently owed one and it has not already been transmitted.
func (s *Sender) PendingDataFrame() (codec.Frame, bool) {
	if s.state != SenderNegotiating && s.state != SenderTransferring {
		return codec.Frame{}, false
	}
	if s.armed || s.outstanding < 0 || s.outstanding >= s.Total {
		return codec.Frame{}, false
	}
	return codec.Frame{
		Kind: codec.KindData, TransferID: s.TransferID,
		Index: s.outstanding, Payload: s.chunks[s.outstanding],
	}, true
}

// MarkChunkSent records that the frame from PendingDataFrame actually
// cleared the rate limiter and was handed to the mesh port, arming its
// watchdog.
func (s *Sender) MarkChunkSent(now time.Time) {
	idx := s.outstanding
	timeout := s.cfg.ChunkTimeout
	if s.state == SenderNegotiating {
		timeout = s.cfg.NegotiateTimeout
	}
	s.armed = true
	s.watchdog = now.Add(timeout)
	s.emit(eventbus.ChunkSent{Time: now, TransferID: s.TransferID, Index: idx, Retry: s.retryCount[idx]})
}

// TakePendingControl drains and returns any control frames (END, or a
// retransmitted BEGIN) queued by OnFrame/Tick since the last call.
func (s *Sender) TakePendingControl() []codec.Frame {
	out := s.pendingControl
	s.pendingControl = nil
	return out
}

func (s *Sender) queueControl(f codec.Frame) {
	s.pendingControl = append(s.pendingControl, f)
}

// OnFrame processes one inbound control frame addressed to this transfer.
func (s *Sender) OnFrame(f codec.Frame, now time.Time) {
	if s.state.done() {
		return
	}
	switch f.Kind {
	case codec.KindAck:
		s.onAck(f.Index, now)
	case codec.KindNak:
		s.onNak(f.Index, now)
	case codec.KindFin:
		s.onFin(f, now)
	case codec.KindAbort:
		s.fail(SenderAborted, Reason(f.Reason), now)
	}
}

func (s *Sender) onAck(idx int, now time.Time) {
	if idx < 0 || idx >= s.Total {
		s.logUnknownIndex("ACK", idx, now)
		return
	}
	if s.acked[idx] {
		return // duplicate ACK: idempotent no-op
	}
	if idx != s.outstanding {
		return // stale ACK for a chunk we've moved past
	}
	s.acked[idx] = true
	delete(s.retryCount, idx)
	s.emit(eventbus.ChunkAcked{Time: now, TransferID: s.TransferID, Index: idx})
	if s.state == SenderNegotiating {
		s.state = SenderTransferring
	}
	s.advance(now)
}

func (s *Sender) advance(now time.Time) {
	next := -1
	for i := 0; i < s.Total; i++ {
		if !s.acked[i] {
			next = i
			break
		}
	}
	s.emit(eventbus.TransferProgress{Time: now, TransferID: s.TransferID, Done: len(s.acked), Total: s.Total})
	if next < 0 {
		s.outstanding = -1
		s.armed = false
		s.state = SenderFinalizing
		s.finalRetried = false
		s.finalDeadline = now.Add(s.cfg.FinalTimeout)
		s.queueControl(codec.Frame{Kind: codec.KindEnd, TransferID: s.TransferID})
		return
	}
	s.outstanding = next
	s.armed = false
}

func (s *Sender) onNak(idx int, now time.Time) {
	if idx < 0 || idx >= s.Total {
		s.logUnknownIndex("NAK", idx, now)
		return
	}
	if s.acked[idx] {
		return
	}
	s.retryCount[idx]++
	if s.retryCount[idx] > s.cfg.MaxRetries {
		s.fail(SenderFailed, ReasonChunkExhausted, now)
		return
	}
	s.outstanding = idx
	s.armed = false
	s.watchdog = time.Time{}
}

func (s *Sender) logUnknownIndex(kind string, idx int, now time.Time) {
	s.emit(eventbus.LogLine{
		Time: now, Level: slog.LevelWarn,
		Text: fmt.Sprintf("ignoring %s for unknown chunk index %d on transfer %s", kind, idx, s.TransferID),
	})
}

func (s *Sender) onFin(f codec.Frame, now time.Time) {
	if s.state != SenderFinalizing {
		return
	}
	if f.Status == "ok" {
		s.state = SenderCompleted
		s.emit(eventbus.TransferCompleted{
			Time: now, TransferID: s.TransferID, Peer: string(s.Peer),
			Direction: "send", Bytes: totalBytes(s.chunks),
		})
		return
	}
	s.fail(SenderFailed, ReasonReceiverError, now)
}

// Tick advances timeouts. It returns true if a watchdog fired and callers
// should re-check PendingDataFrame/TakePendingControl.
func (s *Sender) Tick(now time.Time) bool {
	switch s.state {
	case SenderNegotiating, SenderTransferring:
		return s.tickChunkWatchdog(now)
	case SenderFinalizing:
		return s.tickFinalWatchdog(now)
	default:
		return false
	}
}

func (s *Sender) tickChunkWatchdog(now time.Time) bool {
	if !s.armed || s.watchdog.IsZero() || now.Before(s.watchdog) {
		return false
	}
	idx := s.outstanding
	s.retryCount[idx]++
	s.emit(eventbus.ChunkTimedOut{Time: now, TransferID: s.TransferID, Index: idx, Retry: s.retryCount[idx]})
	if s.retryCount[idx] > s.cfg.MaxRetries {
		if s.state == SenderNegotiating {
			s.fail(SenderFailed, ReasonNoResponse, now)
		} else {
			s.fail(SenderFailed, ReasonChunkExhausted, now)
		}
		return true
	}
	if s.state == SenderNegotiating {
		// A lost BEGIN leaves the receiver with no session at all, so
		// DATA(0) retransmits alone never repair it: resend BEGIN too.
		s.queueControl(codec.Frame{Kind: codec.KindBegin, TransferID: s.TransferID, Total: s.Total, Filename: s.Filename})
	}
	s.armed = false
	s.watchdog = time.Time{}
	return true
}

func (s *Sender) tickFinalWatchdog(now time.Time) bool {
	if now.Before(s.finalDeadline) {
		return false
	}
	if !s.finalRetried {
		s.finalRetried = true
		s.finalDeadline = now.Add(s.cfg.FinalTimeout)
		s.queueControl(codec.Frame{Kind: codec.KindEnd, TransferID: s.TransferID})
		return true
	}
	s.fail(SenderFailed, ReasonNoResponse, now)
	return true
}

// Abort forces the session to Aborted, e.g. on manager shutdown.
func (s *Sender) Abort(reason Reason, now time.Time) {
	if s.state.done() {
		return
	}
	s.queueControl(codec.Frame{Kind: codec.KindAbort, TransferID: s.TransferID, Reason: string(reason)})
	s.fail(SenderAborted, reason, now)
}

func (s *Sender) fail(state SenderState, reason Reason, now time.Time) {
	s.state = state
	s.failReason = reason
	s.emit(eventbus.TransferFailed{
		Time: now, TransferID: s.TransferID, Peer: string(s.Peer),
		Direction: "send", Reason: string(reason),
	})
}

func (s *Sender) emit(ev eventbus.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func totalBytes(chunks [][]byte) int {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return n
}
