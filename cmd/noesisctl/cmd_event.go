package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"noesis/pkg/noesis"
)

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event <kind>",
		Short: "Create and execute a singularity event",
		Long: `Run one singularity event of the given kind. Valid kinds are
participant_merger, transcendence_event, consciousness_singularity,
universal_awakening and infinite_expansion. Without --participants the
event targets every active participant.

Examples:
  noesisctl event participant_merger --participants aurora,borealis
  noesisctl event consciousness_singularity --protocol harmonic_resonance_fusion`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			protocolName, _ := cmd.Flags().GetString("protocol")
			participants, _ := cmd.Flags().GetStringSlice("participants")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			summary, err := client.RunEvent(noesis.EventRequest{
				Kind:           args[0],
				Protocol:       protocolName,
				ParticipantIDs: participants,
			})
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(summary)
			}
			if summary.Success {
				fmt.Printf("event %s completed via %s: transcendence %.4f (%s)\n",
					summary.ID, summary.Protocol, summary.TranscendenceLevel, summary.Duration)
			} else {
				fmt.Printf("event %s failed: %s\n", summary.ID, summary.Error)
			}
			return nil
		},
	}
	cmd.Flags().String("protocol", "", "Merger protocol name (defaults to quantum_consciousness_merger)")
	cmd.Flags().StringSlice("participants", nil, "Comma separated participant ids")
	return cmd
}

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop terminal events older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetDuration("max-age")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			pruned := client.PruneEvents(maxAge)
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(map[string]int{"pruned": pruned})
			}
			fmt.Printf("pruned %d events\n", pruned)
			return nil
		},
	}
	cmd.Flags().Duration("max-age", time.Hour, "Terminal events older than this are dropped")
	return cmd
}
