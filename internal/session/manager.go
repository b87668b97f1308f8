// Package session implements the Session Manager: the single-goroutine
// task that owns the Mesh Port, routes inbound frames to the right
// Transfer Session, drives every session's ticks, rate-limits outbound
// DATA, and republishes protocol activity on the Event Bus.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/z-mesh/zmesh/internal/codec"
	"github.com/z-mesh/zmesh/internal/config"
	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
	"github.com/z-mesh/zmesh/internal/protoid"
	"github.com/z-mesh/zmesh/internal/registry"
	"github.com/z-mesh/zmesh/internal/sink"
	"github.com/z-mesh/zmesh/internal/transfer"
)

// sendTimeout bounds how long a single control-frame Send may block the
// event loop on a misbehaving device before giving up and treating it as
// transient.
const sendTimeout = 2 * time.Second

type startRequest struct {
	peer     meshport.NodeID
	filename string
	data     []byte
	result   chan startResult
}

type startResult struct {
	transferID string
	err        error
}

// Manager is the Session Manager. Create with New, then call Run in its
// own goroutine; StartSend and Done are safe to call from any goroutine.
type Manager struct {
	cfg  config.Config
	port meshport.Port
	reg  *registry.Registry
	bus  *eventbus.Bus
	sink sink.FileSink
	log  *slog.Logger

	bucket *tokenBucket

	senders   map[meshport.NodeID]*transfer.Sender
	receivers map[meshport.NodeID]*transfer.Receiver

	startCh chan startRequest
	inCh    chan meshport.Inbound
	doneCh  chan struct{}
}

// New constructs a Manager. fsink may be nil to discard completed
// transfers (e.g. in tests that only assert on protocol state).
func New(cfg config.Config, port meshport.Port, reg *registry.Registry, bus *eventbus.Bus, fsink sink.FileSink, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		port:      port,
		reg:       reg,
		bus:       bus,
		sink:      fsink,
		log:       log,
		bucket:    newTokenBucket(cfg.TxBurst, cfg.TxRateHz, time.Now()),
		senders:   make(map[meshport.NodeID]*transfer.Sender),
		receivers: make(map[meshport.NodeID]*transfer.Receiver),
		startCh:   make(chan startRequest),
		inCh:      make(chan meshport.Inbound),
		doneCh:    make(chan struct{}),
	}
}

// Done reports when Run has returned after ctx was cancelled.
func (m *Manager) Done() <-chan struct{} { return m.doneCh }

// StartSend begins sending data to peer under filename. It returns
// transfer.ErrPeerBusy if peer already has an outstanding send.
func (m *Manager) StartSend(ctx context.Context, peer meshport.NodeID, filename string, data []byte) (string, error) {
	req := startRequest{peer: peer, filename: filename, data: data, result: make(chan startResult, 1)}
	select {
	case m.startCh <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.doneCh:
		return "", errors.New("session: manager stopped")
	}
	select {
	case res := <-req.result:
		return res.transferID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run is the engine's single logical task: it serially processes inbound
// frames, outbound send requests, and periodic timers from one goroutine,
// so no session is ever mutated concurrently and no internal locking is
// needed anywhere in transfer or session state.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)
	go m.recvLoop(ctx)

	tick := time.NewTicker(m.cfg.TickInterval)
	defer tick.Stop()
	discover := time.NewTicker(m.cfg.DiscoveryInterval)
	defer discover.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown(time.Now())
			return
		case req := <-m.startCh:
			m.handleStart(req, time.Now())
		case in, ok := <-m.inCh:
			if ok {
				m.handleInbound(in, time.Now())
			}
		case now := <-tick.C:
			m.tickAll(now)
		case <-discover.C:
			m.sendDiscoveryPing()
		}
		m.pump(time.Now())
	}
}

func (m *Manager) recvLoop(ctx context.Context) {
	for {
		in, ok := m.port.Recv(ctx)
		if !ok {
			return
		}
		select {
		case m.inCh <- in:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleStart(req startRequest, now time.Time) {
	if _, busy := m.senders[req.peer]; busy {
		req.result <- startResult{err: transfer.ErrPeerBusy}
		return
	}
	tid := protoid.TransferID()
	s := transfer.NewSender(m.cfg, m.bus, req.peer, tid, req.filename, req.data)
	m.senders[req.peer] = s
	begin := s.Start(now)
	m.sendControl(req.peer, begin)
	req.result <- startResult{transferID: tid}
}

func (m *Manager) handleInbound(in meshport.Inbound, now time.Time) {
	m.reg.Observe(in.Origin, in.Link, now)
	f, err := codec.Decode(in.Frame)
	if err != nil {
		m.log.Warn("dropping malformed frame", "peer", in.Origin, "err", err)
		return
	}
	switch f.Kind {
	case codec.KindPing:
		m.sendControl(in.Origin, codec.Frame{Kind: codec.KindPong, Nonce: f.Nonce, Name: string(m.port.LocalID())})
	case codec.KindPong:
		m.reg.ObservePong(in.Origin, f.Name, in.Link, now)
	case codec.KindBegin:
		m.handleBegin(in.Origin, f, now)
	case codec.KindData:
		m.handleData(in.Origin, f, now)
	case codec.KindEnd:
		m.handleEnd(in.Origin, f, now)
	case codec.KindAck, codec.KindNak, codec.KindFin:
		if s, ok := m.senders[in.Origin]; ok && s.TransferID == f.TransferID {
			s.OnFrame(f, now)
			m.flushSenderControl(in.Origin, s)
		}
	case codec.KindAbort:
		if s, ok := m.senders[in.Origin]; ok && s.TransferID == f.TransferID {
			s.OnFrame(f, now)
		}
		if r, ok := m.receivers[in.Origin]; ok && r.TransferID == f.TransferID {
			r.OnAbort(f.Reason, now)
			m.flushReceiverControl(in.Origin, r)
		}
	}
}

func (m *Manager) handleBegin(peer meshport.NodeID, f codec.Frame, now time.Time) {
	if r, ok := m.receivers[peer]; ok && !r.Done() {
		if r.TransferID == f.TransferID {
			return // retransmitted BEGIN racing the first DATA/ACK, already have a session
		}
		m.sendControl(peer, codec.Frame{Kind: codec.KindAbort, TransferID: f.TransferID, Reason: string(transfer.ReasonPeerBusy)})
		return
	}
	r := transfer.NewReceiver(m.cfg, m.bus, peer, f.TransferID, f.Filename, f.Total, now)
	m.receivers[peer] = r
}

func (m *Manager) handleData(peer meshport.NodeID, f codec.Frame, now time.Time) {
	r, ok := m.receivers[peer]
	if !ok || r.TransferID != f.TransferID || r.Done() {
		return
	}
	r.OnData(f.Index, f.Payload, now)
	m.flushReceiverControl(peer, r)
}

func (m *Manager) handleEnd(peer meshport.NodeID, f codec.Frame, now time.Time) {
	r, ok := m.receivers[peer]
	if !ok || r.TransferID != f.TransferID || r.Done() {
		return
	}
	if r.OnEnd(now) {
		data := r.Reassemble()
		err := m.deliver(r.Filename, data)
		r.Finalize(err, now)
	}
	m.flushReceiverControl(peer, r)
}

func (m *Manager) deliver(filename string, data []byte) error {
	if m.sink == nil {
		return nil
	}
	return m.sink.Deliver(codec.SanitizeFilename(filename), data)
}

func (m *Manager) flushSenderControl(peer meshport.NodeID, s *transfer.Sender) {
	for _, f := range s.TakePendingControl() {
		m.sendControl(peer, f)
	}
}

func (m *Manager) flushReceiverControl(peer meshport.NodeID, r *transfer.Receiver) {
	for _, f := range r.TakePendingControl() {
		m.sendControl(peer, f)
	}
}

// pump gives every active sender a chance to emit its next DATA frame
// (subject to the rate limiter) and drains any control frames a Tick call
// queued, once per event-loop iteration.
func (m *Manager) pump(now time.Time) {
	for peer, s := range m.senders {
		m.flushSenderControl(peer, s)
		if f, ok := s.PendingDataFrame(); ok && m.bucket.take(now) {
			m.sendControl(peer, f)
			s.MarkChunkSent(now)
		}
	}
	m.reap()
}

func (m *Manager) tickAll(now time.Time) {
	for peer, s := range m.senders {
		if s.Tick(now) {
			m.flushSenderControl(peer, s)
		}
	}
	for peer, r := range m.receivers {
		r.Tick(now)
		m.flushReceiverControl(peer, r)
	}
}

func (m *Manager) reap() {
	for peer, s := range m.senders {
		if s.Done() {
			delete(m.senders, peer)
		}
	}
	for peer, r := range m.receivers {
		if r.Done() {
			delete(m.receivers, peer)
		}
	}
}

func (m *Manager) sendDiscoveryPing() {
	m.sendControl(meshport.Broadcast, codec.Frame{Kind: codec.KindPing, Nonce: protoid.Nonce()})
}

// sendControl encodes and immediately transmits f, bypassing the rate
// limiter (only DATA is throttled). A transient failure is logged and left
// to the owning session's own retransmit logic; a fatal one aborts every
// session, since it means the device itself is gone.
func (m *Manager) sendControl(peer meshport.NodeID, f codec.Frame) {
	raw, err := codec.Encode(f)
	if err != nil {
		m.log.Error("failed to encode outbound frame", "kind", string(f.Kind), "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.port.Send(ctx, peer, raw); err != nil {
		if errors.Is(err, meshport.ErrFatal) {
			m.log.Error("mesh port reported a fatal error", "err", err)
			m.abortAll(transfer.ReasonDeviceFatal, time.Now())
			return
		}
		m.log.Debug("transient send failure, relying on retransmit", "peer", peer, "kind", string(f.Kind), "err", err)
	}
}

func (m *Manager) abortAll(reason transfer.Reason, now time.Time) {
	for peer, s := range m.senders {
		s.Abort(reason, now)
		m.flushSenderControl(peer, s)
	}
	for peer, r := range m.receivers {
		r.Abort(reason, now)
		m.flushReceiverControl(peer, r)
	}
	m.reap()
}

func (m *Manager) shutdown(now time.Time) {
	m.abortAll(transfer.ReasonShutdown, now)
	m.port.Close()
}
