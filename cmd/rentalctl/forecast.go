package main

import (
	"encoding/json"
	"fmt"

	"rental-ml-api/pkg/services"

	"github.com/spf13/cobra"
)

var (
	forecastType string
	forecastSite string
	forecastDays int
	forecastJSON bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast daily rental demand",
	Long:  `Loads the saved models (training them if none are saved) and prints a daily demand forecast.`,
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().StringVar(&forecastType, "type", "", "filter by equipment type")
	forecastCmd.Flags().StringVar(&forecastSite, "site", "", "filter by site id")
	forecastCmd.Flags().IntVar(&forecastDays, "days", services.DefaultForecastDays, "number of days to forecast")
	forecastCmd.Flags().BoolVar(&forecastJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(forecastCmd)
}

func runForecast(cmd *cobra.Command, args []string) error {
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
	result, err := engine.Forecast(ctx, forecastType, forecastSite, forecastDays)
	if err != nil {
		return fmt.Errorf("forecasting: %w", err)
	}

	out := cmd.OutOrStdout()
	if forecastJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "Demand forecast (%s model, %s data)\n", result.ModelScope, result.DataSource)
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "%-12s  %-10s  %8s  %6s\n", "Date", "Day", "Demand", "Conf")
	fmt.Fprintln(out, "----------------------------------------")
	for _, p := range result.Forecasts {
		fmt.Fprintf(out, "%-12s  %-10s  %8.1f  %6.2f\n", p.Date, p.DayOfWeek, p.PredictedDemand, p.Confidence)
	}
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "Total: %.1f  Average: %.2f/day  Trend: %s\n",
		result.TotalPredictedDemand, result.AverageDailyDemand, result.Trend)
	return nil
}
