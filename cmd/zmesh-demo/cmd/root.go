package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/z-mesh/zmesh/internal/config"
	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
	"github.com/z-mesh/zmesh/internal/registry"
	"github.com/z-mesh/zmesh/internal/session"
	"github.com/z-mesh/zmesh/internal/sink"
)

var (
	flagDevice string
	flagBaud   int
	flagNodeID string
	flagOutDir string
)

var rootCmd = &cobra.Command{
	Use:   "zmesh-demo",
	Short: "Send and receive files over a chunked, acknowledged mesh transport",
	Long: `zmesh-demo drives a single Z-Mesh node against a serial-attached mesh
radio (e.g. a Meshtastic device). It exposes the protocol engine's two
day-to-day operations directly: sending a file to a known peer, and
listening for whatever peers choose to send this node.`,
}

func Execute() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	hostNodeID := "zmesh-node"
	if u, err := user.Current(); err == nil && u.Username != "" {
		hostNodeID = u.Username
	}
	rootCmd.PersistentFlags().StringVar(&flagDevice, "device", "/dev/ttyUSB0", "serial device path for the mesh radio")
	rootCmd.PersistentFlags().IntVar(&flagBaud, "baud", 115200, "serial baud rate")
	rootCmd.PersistentFlags().StringVar(&flagNodeID, "node", hostNodeID, "this node's identifier on the mesh")
	rootCmd.PersistentFlags().StringVar(&flagOutDir, "out", defaultOutDir(), "directory received files are written to")
}

func defaultOutDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "zmesh")
	}
	return "./zmesh-received"
}

// buildManager opens the configured serial device and wires a Session
// Manager around it: the same construction path for both send and listen,
// since both need the full engine running to hold up their end of the
// ACK/retry protocol.
func buildManager(log *slog.Logger) (*session.Manager, *eventbus.Bus, func(), error) {
	port, err := meshport.OpenSerialPort(meshport.NodeID(flagNodeID), flagDevice, flagBaud)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open mesh device: %w", err)
	}
	fsink, err := sink.NewDirSink(flagOutDir)
	if err != nil {
		port.Close()
		return nil, nil, nil, err
	}
	bus := eventbus.New(256)
	cfg := config.Default()
	reg := registry.New(cfg.SNRChangeThresh, bus)
	mgr := session.New(cfg, port, reg, bus, fsink, log)
	cleanup := func() { port.Close() }
	return mgr, bus, cleanup, nil
}

// runWithSignals starts mgr.Run in the background and returns a context
// that cancels on SIGINT/SIGTERM, plus the cancel func for callers that
// finish early (e.g. after a single send completes).
func runWithSignals(mgr *session.Manager) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go mgr.Run(ctx)
	return ctx, func() {
		stop()
		cancel()
	}
}

func logSubscriber(bus *eventbus.Bus, log *slog.Logger) {
	sub := bus.Subscribe("cli")
	go func() {
		for ev := range sub.Events() {
			logEvent(log, ev)
		}
	}()
}

func logEvent(log *slog.Logger, ev eventbus.Event) {
	switch e := ev.(type) {
	case eventbus.TransferStarted:
		log.Info("transfer started", "id", e.TransferID, "peer", e.Peer, "direction", e.Direction, "file", e.Filename, "chunks", e.Total)
	case eventbus.TransferProgress:
		log.Debug("progress", "id", e.TransferID, "done", e.Done, "total", e.Total)
	case eventbus.TransferCompleted:
		log.Info("transfer completed", "id", e.TransferID, "peer", e.Peer, "bytes", e.Bytes)
	case eventbus.TransferFailed:
		log.Warn("transfer failed", "id", e.TransferID, "peer", e.Peer, "reason", e.Reason)
	case eventbus.NodeSeen:
		log.Info("node seen", "id", e.NodeID, "snr", e.SNR, "new", e.NewNode)
	}
}
