package main

import (
	"fmt"

	"rental-ml-api/internal/watcher"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var reloadReason string

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask running servers to retrain",
	Long:  `Publishes a reload request on the Redis reload channel. Every subscribed server retrains in the background.`,
	RunE:  runReload,
}

func init() {
	reloadCmd.Flags().StringVar(&reloadReason, "reason", "manual reload", "reason recorded by the servers")
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := watcher.PublishReload(cmd.Context(), client, cfg.ReloadChannel, reloadReason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reload requested on %s\n", cfg.ReloadChannel)
	return nil
}
