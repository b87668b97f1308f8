package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/z-mesh/zmesh/internal/config"
	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
	"github.com/z-mesh/zmesh/internal/registry"
)

type fakeSink struct {
	mu       sync.Mutex
	filename string
	data     []byte
	got      chan struct{}
}

func newFakeSink() *fakeSink { return &fakeSink{got: make(chan struct{}, 1)} }

func (f *fakeSink) Deliver(filename string, data []byte) error {
	f.mu.Lock()
	f.filename = filename
	f.data = append([]byte(nil), data...)
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func fastTestConfig() config.Config {
	return config.New(
		config.WithChunkPayloadMax(8),
		config.WithChunkTimeout(40*time.Millisecond),
		config.WithNegotiateTimeout(40*time.Millisecond),
		config.WithFinalTimeout(40*time.Millisecond),
		config.WithRecvIdleTimeout(500*time.Millisecond),
		config.WithDiscoveryInterval(time.Hour),
		config.WithTickInterval(5*time.Millisecond),
		config.WithTxBurst(4),
		config.WithTxRateHz(200),
	)
}

func TestEndToEndTransferCompletesAndDeliversBytes(t *testing.T) {
	sw := meshport.NewSwitch()
	portA, err := sw.Listen("alice")
	if err != nil {
		t.Fatal(err)
	}
	portB, err := sw.Listen("bob")
	if err != nil {
		t.Fatal(err)
	}

	cfg := fastTestConfig()
	sinkB := newFakeSink()
	mgrA := New(cfg, portA, registry.New(3.0, nil), eventbus.New(64), nil, nil)
	mgrB := New(cfg, portB, registry.New(3.0, nil), eventbus.New(64), sinkB, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	tid, err := mgrA.StartSend(ctx, "bob", "fox.txt", payload)
	if err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if tid == "" {
		t.Fatal("expected a non-empty transfer id")
	}

	select {
	case <-sinkB.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	sinkB.mu.Lock()
	gotFilename, gotData := sinkB.filename, sinkB.data
	sinkB.mu.Unlock()
	if gotFilename != "fox.txt" {
		t.Fatalf("filename = %q", gotFilename)
	}
	if string(gotData) != string(payload) {
		t.Fatalf("got %q, want %q", gotData, payload)
	}
}

func TestSecondConcurrentSendToSamePeerIsRejected(t *testing.T) {
	sw := meshport.NewSwitch()
	portA, _ := sw.Listen("alice")
	portB, _ := sw.Listen("bob")

	cfg := fastTestConfig()
	mgrA := New(cfg, portA, registry.New(3.0, nil), eventbus.New(64), nil, nil)
	mgrB := New(cfg, portB, registry.New(3.0, nil), eventbus.New(64), newFakeSink(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	if _, err := mgrA.StartSend(ctx, "bob", "a.txt", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := mgrA.StartSend(ctx, "bob", "b.txt", []byte("b")); err == nil {
		t.Fatal("expected the second concurrent send to the same peer to be rejected")
	}
}

func TestTwoPeersCanSendToTheSameReceiverConcurrently(t *testing.T) {
	sw := meshport.NewSwitch()
	portA, _ := sw.Listen("alice")
	portC, _ := sw.Listen("carol")
	portB, _ := sw.Listen("bob")

	cfg := fastTestConfig()
	mgrA := New(cfg, portA, registry.New(3.0, nil), eventbus.New(64), nil, nil)
	mgrC := New(cfg, portC, registry.New(3.0, nil), eventbus.New(64), nil, nil)
	sinkB := newFakeSink()
	mgrB := New(cfg, portB, registry.New(3.0, nil), eventbus.New(64), sinkB, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgrA.Run(ctx)
	go mgrC.Run(ctx)
	go mgrB.Run(ctx)

	if _, err := mgrA.StartSend(ctx, "bob", "from-alice.txt", []byte("alice payload")); err != nil {
		t.Fatalf("alice send: %v", err)
	}
	if _, err := mgrC.StartSend(ctx, "bob", "from-carol.txt", []byte("carol payload")); err != nil {
		t.Fatalf("carol send: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-sinkB.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of 2", i+1)
		}
	}
}
