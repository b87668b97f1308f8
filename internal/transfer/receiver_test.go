package transfer

import (
	"errors"
	"testing"
	"time"

	"github.com/z-mesh/zmesh/internal/codec"
)

func TestReceiverHappyPathReassemblesAndFinalizes(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f.txt", 3, now)

	payloads := [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ij")}
	for i, p := range payloads {
		r.OnData(i, p, now)
		ctrl := r.TakePendingControl()
		if len(ctrl) != 1 || ctrl[0].Kind != codec.KindAck || ctrl[0].Index != i {
			t.Fatalf("expected ACK(%d), got %+v", i, ctrl)
		}
	}

	ready := r.OnEnd(now)
	if !ready {
		t.Fatal("expected readyToFinalize once every chunk arrived")
	}
	got := r.Reassemble()
	if string(got) != "abcdefghij" {
		t.Fatalf("got %q", got)
	}
	r.Finalize(nil, now)
	if r.State() != ReceiverCompleted {
		t.Fatalf("got %v", r.State())
	}
	ctrl := r.TakePendingControl()
	if len(ctrl) != 1 || ctrl[0].Kind != codec.KindFin || ctrl[0].Status != "ok" {
		t.Fatalf("expected FIN(ok), got %+v", ctrl)
	}
}

func TestReceiverDuplicateDataToleratedAndReacked(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f", 1, now)
	r.OnData(0, []byte("ab"), now)
	r.TakePendingControl()
	r.OnData(0, []byte("ab"), now) // duplicate, e.g. sender retransmitted after a lost ACK
	ctrl := r.TakePendingControl()
	if len(ctrl) != 1 || ctrl[0].Kind != codec.KindAck || ctrl[0].Index != 0 {
		t.Fatalf("expected a fresh ACK(0) for the duplicate, got %+v", ctrl)
	}
	if len(r.received) != 1 {
		t.Fatalf("duplicate must not double-count: %v", r.received)
	}
}

func TestReceiverEndWithMissingChunksSendsNaks(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f", 3, now)
	r.OnData(0, []byte("abcd"), now) // non-final chunks must be full-sized
	r.TakePendingControl()

	ready := r.OnEnd(now)
	if ready {
		t.Fatal("must not be ready with missing chunks")
	}
	ctrl := r.TakePendingControl()
	if len(ctrl) != 2 {
		t.Fatalf("expected NAK(1) and NAK(2), got %+v", ctrl)
	}
	seen := map[int]bool{}
	for _, f := range ctrl {
		if f.Kind != codec.KindNak {
			t.Fatalf("expected only NAKs, got %+v", f)
		}
		seen[f.Index] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("missing expected NAK indices: %+v", ctrl)
	}
}

func TestReceiverRejectsOversizeChunkAsProtocolError(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f", 2, now)
	r.OnData(0, []byte("too-big-for-the-budget"), now)
	if r.State() != ReceiverFailed || r.FailReason() != ReasonProtocolError {
		t.Fatalf("got state=%v reason=%v", r.State(), r.FailReason())
	}
	ctrl := r.TakePendingControl()
	if len(ctrl) != 1 || ctrl[0].Kind != codec.KindAbort {
		t.Fatalf("expected ABT, got %+v", ctrl)
	}
}

func TestReceiverIdleTimeoutAborts(t *testing.T) {
	cfg := testConfig()
	cfg.RecvIdleTimeout = time.Second
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f", 2, now)
	r.Tick(now.Add(2 * time.Second))
	if r.State() != ReceiverFailed || r.FailReason() != ReasonIdleTimeout {
		t.Fatalf("got state=%v reason=%v", r.State(), r.FailReason())
	}
}

func TestReceiverSinkErrorFailsWithFinErr(t *testing.T) {
	cfg := testConfig()
	now := time.Now()
	r := NewReceiver(cfg, nil, "peerA", "tid1", "f", 1, now)
	r.OnData(0, []byte("ab"), now)
	r.TakePendingControl()
	r.OnEnd(now)
	r.Finalize(errors.New("disk full"), now)
	if r.State() != ReceiverFailed || r.FailReason() != ReasonSinkError {
		t.Fatalf("got state=%v reason=%v", r.State(), r.FailReason())
	}
	ctrl := r.TakePendingControl()
	if len(ctrl) != 1 || ctrl[0].Status != "err" {
		t.Fatalf("expected FIN(err), got %+v", ctrl)
	}
}
