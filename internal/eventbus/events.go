package eventbus

import (
	"log/slog"
	"time"
)

// NodeSeen fires when a previously unknown node is observed, or when its
// SNR has moved by more than the registry's configured threshold.
type NodeSeen struct {
	Time    time.Time
	NodeID  string
	SNR     float64
	RSSI    int
	NewNode bool
}

func (NodeSeen) Kind() string { return "node_seen" }

// TransferStarted fires when a sender or receiver session is created.
type TransferStarted struct {
	Time       time.Time
	TransferID string
	Peer       string
	Direction  string // "send" | "recv"
	Filename   string
	Total      int
}

func (TransferStarted) Kind() string { return "transfer_started" }

// ChunkSent fires on every DATA transmission, including retransmits.
type ChunkSent struct {
	Time       time.Time
	TransferID string
	Index      int
	Retry      int
}

func (ChunkSent) Kind() string { return "chunk_sent" }

// ChunkAcked fires when a sender records an ACK for an outstanding chunk.
type ChunkAcked struct {
	Time       time.Time
	TransferID string
	Index      int
}

func (ChunkAcked) Kind() string { return "chunk_acked" }

// ChunkTimedOut fires when a chunk's watchdog deadline elapses.
type ChunkTimedOut struct {
	Time       time.Time
	TransferID string
	Index      int
	Retry      int
}

func (ChunkTimedOut) Kind() string { return "chunk_timed_out" }

// TransferProgress reports cumulative sent-or-received chunk counts.
type TransferProgress struct {
	Time       time.Time
	TransferID string
	Done       int
	Total      int
}

func (TransferProgress) Kind() string { return "transfer_progress" }

// TransferCompleted fires once a session reaches its Completed state.
type TransferCompleted struct {
	Time       time.Time
	TransferID string
	Peer       string
	Direction  string
	Bytes      int
}

func (TransferCompleted) Kind() string { return "transfer_completed" }

// TransferFailed fires once a session reaches its Failed state.
type TransferFailed struct {
	Time       time.Time
	TransferID string
	Peer       string
	Direction  string
	Reason     string
}

func (TransferFailed) Kind() string { return "transfer_failed" }

// LogLine mirrors a protocol-significant slog record onto the bus so a
// subscriber (e.g. the excluded dashboard) can render it without attaching
// a slog handler.
type LogLine struct {
	Time  time.Time
	Level slog.Level
	Text  string
}

func (LogLine) Kind() string { return "log_line" }
