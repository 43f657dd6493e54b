package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Consume driver positions from Kafka into shared storage",
	RunE:  runFeed,
}

func init() {
	rootCmd.AddCommand(feedCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.Storage == "memory" || cfg.Index.Driver == "memory" {
		return errors.New("a standalone feed needs postgres storage and the redis index; use serve --with-feed instead")
	}
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	feed, err := a.locationFeed()
	if err != nil {
		return err
	}
	log.WithField("topic", cfg.Kafka.LocationTopic).Info("location feed started")
	return feed.Run(ctx)
}
