package main

import (
	"fmt"

	"rental-ml-api/internal/dataset"
	"rental-ml-api/internal/inventory"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the rental history into the inventory database",
	Long: `Creates the inventory database if needed and writes one Equipment row per equipment id.
Rentals that are still checked out are also recorded as active rows in the Rental table.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	records, err := dataset.NewReader(cfg.DataPath).ReadRecords(ctx)
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}

	db, err := inventory.Create(cfg.InventoryDBPath)
	if err != nil {
		return fmt.Errorf("opening inventory database: %w", err)
	}
	defer db.Close()

	var active int
	for _, rec := range records {
		if rec.IsActive() {
			rec.Status = "rented"
		} else {
			rec.Status = "available"
		}
		if err := db.UpsertEquipment(ctx, rec); err != nil {
			return err
		}
		if rec.IsActive() {
			if err := db.InsertRental(ctx, rec.EquipmentID, rec.SiteID, "active", rec.CheckOutDate); err != nil {
				return err
			}
			active++
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d records (%d active) into %s\n", len(records), active, cfg.InventoryDBPath)
	return nil
}
