package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved model and inventory status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	if err := engine.Load(ctx); err != nil {
		fmt.Fprintf(out, "Saved models: unavailable (%v)\n", err)
	}

	status := engine.Status(ctx)
	fmt.Fprintf(out, "Trained:      %t\n", status.Trained)
	if status.Trained {
		fmt.Fprintf(out, "Version:      %s (trained %s)\n", status.ModelVersion, status.TrainedAt)
		fmt.Fprintf(out, "Site models:  %d\n", status.SiteModels)
		if len(status.PendingSites) > 0 {
			fmt.Fprintf(out, "Pending:      %s\n", strings.Join(status.PendingSites, ", "))
		}
	}
	fmt.Fprintf(out, "Stored keys:  %d\n", len(status.SavedModelKeys))

	db := engine.DatabaseStatus(ctx)
	if db.Connected {
		fmt.Fprintf(out, "Inventory:    %d equipment, %d active rentals\n", db.TotalEquipment, db.ActiveRentals)
	} else {
		fmt.Fprintf(out, "Inventory:    not connected (%s)\n", db.Error)
	}
	return nil
}
