package meshport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemPortDelivery(t *testing.T) {
	sw := NewSwitch()
	a, err := sw.Listen("A")
	if err != nil {
		t.Fatal(err)
	}
	b, err := sw.Listen("B")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.Send(context.Background(), "B", []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := b.Recv(ctx)
	if !ok || string(got.Frame) != "ping" || got.Origin != "A" {
		t.Fatalf("recv mismatch: ok=%v got=%+v", ok, got)
	}
}

func TestMemPortBroadcast(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("A")
	b, _ := sw.Listen("B")
	c, _ := sw.Listen("C")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := a.Send(context.Background(), Broadcast, []byte("hi")); err != nil {
		t.Fatalf("broadcast send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, ep := range []*MemPort{b, c} {
		got, ok := ep.Recv(ctx)
		if !ok || string(got.Frame) != "hi" {
			t.Fatalf("recv mismatch on %s: ok=%v got=%+v", ep.LocalID(), ok, got)
		}
	}
}

func TestMemPortSendUnknownDestIsTransient(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("A")
	defer a.Close()

	err := a.Send(context.Background(), "nowhere", []byte("x"))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient for unknown destination, got %v", err)
	}
}

func TestMemPortCloseStopsRecv(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("A")
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := a.Recv(ctx); ok {
		t.Fatal("expected closed port to report ok=false")
	}
}
