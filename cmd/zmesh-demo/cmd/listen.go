package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run this node, accepting inbound transfers until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListen()
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen() error {
	log := slog.Default()
	mgr, bus, cleanup, err := buildManager(log)
	if err != nil {
		return err
	}
	defer cleanup()

	logSubscriber(bus, log)

	ctx, stop := runWithSignals(mgr)
	defer stop()

	fmt.Printf("listening as %q on %s, writing received files to %s\n", flagNodeID, flagDevice, flagOutDir)
	<-ctx.Done()
	<-mgr.Done()
	return nil
}
