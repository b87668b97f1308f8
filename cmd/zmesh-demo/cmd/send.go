package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
	"github.com/z-mesh/zmesh/internal/sink"
)

var sendCmd = &cobra.Command{
	Use:   "send <peer> <file>",
	Short: "Send a file to a peer over the mesh",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(meshport.NodeID(args[0]), args[1])
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(peer meshport.NodeID, path string) error {
	log := slog.Default()
	mgr, bus, cleanup, err := buildManager(log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := runWithSignals(mgr)
	defer stop()

	filename, data, err := sink.DirSource{}.Read(path)
	if err != nil {
		return err
	}

	outcome := bus.Subscribe("send-outcome")
	defer bus.Unsubscribe(outcome)

	tid, err := mgr.StartSend(ctx, peer, filename, data)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted before the send could start")
		}
		return fmt.Errorf("start send: %w", err)
	}
	fmt.Printf("sending %s to %s as transfer %s (%d bytes)\n", filename, peer, tid, len(data))

	for {
		select {
		case ev := <-outcome.Events():
			switch e := ev.(type) {
			case eventbus.TransferCompleted:
				if e.TransferID != tid {
					continue
				}
				fmt.Printf("done: %d bytes delivered\n", e.Bytes)
				return nil
			case eventbus.TransferFailed:
				if e.TransferID != tid {
					continue
				}
				return fmt.Errorf("transfer failed: %s", e.Reason)
			}
		case <-ctx.Done():
			return errors.New("interrupted")
		case <-time.After(5 * time.Minute):
			return errors.New("timed out waiting for transfer outcome")
		}
	}
}
