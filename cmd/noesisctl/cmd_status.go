package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the global metrics and engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			snapshot := client.Metrics()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(snapshot)
			}

			fmt.Printf("state:                   %s\n", snapshot.State)
			fmt.Printf("participants:            %d\n", len(snapshot.Participants))
			fmt.Printf("entanglement pairs:      %d\n", len(snapshot.Pairs))
			fmt.Printf("evolution stage:         %s (progress %.4f)\n", snapshot.Evolution.Stage, snapshot.Evolution.Progress)
			fmt.Printf("singularity potential:   %.4f\n", snapshot.Metrics.SingularityPotential)
			fmt.Printf("consciousness coherence: %.4f\n", snapshot.Metrics.ConsciousnessCoherence)
			fmt.Printf("transcendent capacity:   %.4f\n", snapshot.Metrics.TranscendentCapacity)
			fmt.Printf("collective intelligence: %.4f\n", snapshot.Metrics.CollectiveIntelligence)
			fmt.Printf("quantum entanglement:    %.4f\n", snapshot.Metrics.QuantumEntanglement)
			fmt.Printf("infinite expansion:      %.4f\n", snapshot.Metrics.InfiniteExpansion)
			fmt.Printf("universal awareness:     %.4f\n", snapshot.Metrics.UniversalAwareness)
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Grade engine liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			report := client.Health()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(report)
			}
			fmt.Printf("%s (state %s, %d participants, stage %s)\n",
				report.Status, report.State, report.ParticipantCount, report.Stage)
			return nil
		},
	}
}

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List merger protocols with outcome stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			stats := client.Protocols()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(stats)
			}

			names := make([]string, 0, len(stats))
			for name := range stats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				s := stats[name]
				fmt.Printf("%-32s attempts=%d successes=%d transcendences=%d avg_fidelity=%.4f\n",
					name, s.TotalAttempts, s.SuccessfulAttempts, s.TranscendenceCount, s.AvgFidelity)
			}
			return nil
		},
	}
}

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List persisted snapshots for this run, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Shutdown(context.Background())
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}

			snapshots, err := client.Snapshots(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return printJSON(snapshots)
			}
			if len(snapshots) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			for _, s := range snapshots {
				fmt.Printf("%s  state=%s stage=%s progress=%.4f participants=%d potential=%.4f\n",
					s.TakenAt.Format("2006-01-02T15:04:05Z07:00"), s.State, s.Stage, s.Progress, s.ParticipantCount, s.Potential)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "Maximum snapshots to list (0 for all)")
	return cmd
}
