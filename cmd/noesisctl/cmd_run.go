package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"noesis/internal/bus"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine until interrupted",
		Long: `Start the engine with its monitor loop and keep it running until
SIGINT or SIGTERM, or until --duration elapses. Bus notifications are
printed as they arrive.

Examples:
  noesisctl run
  noesisctl run --store sqlite --db noesis.db --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetDuration("duration")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			client.Bus().SubscribeParticipantAdded(func(n bus.ParticipantAdded) {
				fmt.Printf("participant %s admitted (layer %d, total %d)\n", n.ParticipantID, n.Layer, n.TotalCount)
			})
			client.Bus().SubscribeEventCompleted(func(n bus.EventCompleted) {
				fmt.Printf("event %s %s: success=%v transcendence=%.4f\n", n.Kind, n.EventID, n.Success, n.TranscendenceLevel)
			})
			client.Bus().SubscribeStageTransition(func(n bus.StageTransition) {
				fmt.Printf("evolution advanced %s -> %s (progress %.4f)\n", n.From, n.To, n.Progress)
			})

			if err := client.Init(ctx); err != nil {
				return err
			}
			fmt.Printf("engine running (run id %s), press Ctrl-C to stop\n", client.RunID())

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}
