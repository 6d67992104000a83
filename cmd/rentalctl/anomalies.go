package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	anomalyEquipment string
	anomalyJSON      bool
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Scan active rentals for usage anomalies",
	Long:  `Scores the live inventory (or the rental history when no inventory is available) against the anomaly rules.`,
	RunE:  runAnomalies,
}

func init() {
	anomaliesCmd.Flags().StringVar(&anomalyEquipment, "equipment", "", "only scan one equipment id")
	anomaliesCmd.Flags().BoolVar(&anomalyJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(anomaliesCmd)
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	engine, cleanup, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	result, err := engine.DetectAnomalies(ctx, anomalyEquipment)
	if err != nil {
		return fmt.Errorf("detecting anomalies: %w", err)
	}

	out := cmd.OutOrStdout()
	if anomalyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Anomalies) == 0 {
		fmt.Fprintf(out, "No anomalies found in %d records (%s data)\n", result.Summary.ActiveRentals, result.DataSource)
		return nil
	}

	fmt.Fprintf(out, "%-10s  %-12s  %-8s  %-8s  %s\n", "Equipment", "Type", "Site", "Severity", "Alerts")
	fmt.Fprintln(out, "------------------------------------------------------------")
	for _, a := range result.Anomalies {
		fmt.Fprintf(out, "%-10s  %-12s  %-8s  %-8s  %s\n",
			a.EquipmentID, a.EquipmentType, a.SiteID, a.Severity, strings.Join(a.AlertTypes, ","))
	}
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "Total: %d anomalies (%.1f%% of %d)\n",
		result.Summary.TotalAnomalies, result.Summary.AnomalyRate, result.Summary.TotalRecords)
	return nil
}
