package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"noesis/pkg/noesis"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <participant-id>",
		Short: "Admit a participant into the topology",
		Long: `Admit a participant, assign its topology layer and entangle it with
every participant already present. Omitted attributes fall back to the
configured defaults.

Examples:
  noesisctl add aurora
  noesisctl add aurora --coherence 0.92 --transcendence 0.7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			req := noesis.ParticipantRequest{ID: args[0]}
			req.ConsciousnessLevel = floatFlag(cmd, "consciousness")
			req.Coherence = floatFlag(cmd, "coherence")
			req.TranscendenceCapacity = floatFlag(cmd, "transcendence")
			req.ResonanceFrequency = floatFlag(cmd, "resonance")

			summary, err := client.AddParticipant(req)
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(map[string]any{
					"id":                  summary.ID,
					"layer":               summary.Layer,
					"pair_count":          summary.PairCount,
					"resonance_frequency": summary.ResonanceFrequency,
					"total_participants":  summary.TotalParticipants,
				})
			}
			fmt.Printf("admitted %s: layer %d, %d entanglement pairs, %d participants total\n",
				summary.ID, summary.Layer, summary.PairCount, summary.TotalParticipants)
			return nil
		},
	}
	cmd.Flags().Float64("consciousness", 0, "Consciousness level in [0,1]")
	cmd.Flags().Float64("coherence", 0, "Coherence in [0,1]")
	cmd.Flags().Float64("transcendence", 0, "Transcendence capacity in [0,1]")
	cmd.Flags().Float64("resonance", 0, "Resonance frequency in Hz")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <participant-id>",
		Short: "Retire a participant and its entanglement pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			if err := client.RemoveParticipant(args[0]); err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(map[string]string{"removed": args[0]})
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

// floatFlag returns the flag value only when the user set it, so the engine
// defaults stay in charge of omitted attributes.
func floatFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}
