package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRoundTripAllKinds(t *testing.T) {
	cases := []Frame{
		{Kind: KindPing, Nonce: "abc123"},
		{Kind: KindPong, Nonce: "abc123", Name: "basestation"},
		{Kind: KindBegin, TransferID: "tid001", Total: 3, Filename: "report.pdf"},
		{Kind: KindData, TransferID: "tid001", Index: 2, Payload: []byte("hello world")},
		{Kind: KindAck, TransferID: "tid001", Index: 2},
		{Kind: KindNak, TransferID: "tid001", Index: 1},
		{Kind: KindEnd, TransferID: "tid001"},
		{Kind: KindFin, TransferID: "tid001", Status: "ok"},
		{Kind: KindAbort, TransferID: "tid001", Reason: "IdleTimeout"},
	}
	for _, want := range cases {
		raw, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %+v: %v", want, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if got.Kind != want.Kind || got.TransferID != want.TransferID ||
			got.Index != want.Index || got.Total != want.Total ||
			got.Nonce != want.Nonce || got.Name != want.Name ||
			got.Status != want.Status || got.Reason != want.Reason ||
			!bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestDataPayloadUsesStandardPaddedBase64(t *testing.T) {
	raw, err := Encode(Frame{Kind: KindData, TransferID: "t1", Index: 0, Payload: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "=") {
		t.Fatalf("expected standard base64 padding in %q", raw)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"|",
		"|D|tid|0|aGVsbG8=",
		"Z|nonsense",
		"B|tid|notanumber|file.bin",
		"D|tid|abc|aGVsbG8",
		"F|tid|maybe",
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("Decode(%q) = %v, want ErrMalformedFrame", c, err)
		}
	}
}

func TestEncodeRejectsPipeInFilename(t *testing.T) {
	raw, err := Encode(Frame{Kind: KindBegin, TransferID: "t1", Total: 1, Filename: "a|b.txt"})
	if !errors.Is(err, ErrPipeInField) {
		t.Fatalf("expected ErrPipeInField, got err %v", err)
	}
	if raw != nil {
		t.Fatalf("expected no frame bytes, got %q", raw)
	}
}

func TestEncodeRejectsOversizeFrame(t *testing.T) {
	huge := bytes.Repeat([]byte{'a'}, MaxFramePayload*2)
	_, err := Encode(Frame{Kind: KindData, TransferID: "t1", Index: 0, Payload: huge})
	if !errors.Is(err, ErrOversizeFrame) {
		t.Fatalf("expected ErrOversizeFrame, got %v", err)
	}
}

func TestSanitizeFilenameStripsPathAndControlChars(t *testing.T) {
	got := SanitizeFilename("../../etc/passwd\x00\n")
	if strings.ContainsAny(got, "/\x00\n") {
		t.Fatalf("sanitized filename still unsafe: %q", got)
	}
	if got != "passwd" {
		t.Fatalf("got %q, want passwd", got)
	}
}
