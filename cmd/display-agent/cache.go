package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/displayagent/internal/imagecache"
	"github.com/Lllllllleong/displayagent/internal/services"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the image cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entry count and total size",
	RunE: withCache(func(cmd *cobra.Command, c *imagecache.Cache) error {
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read cache stats: %w", err)
		}
		cmd.Printf("entries: %d\nbytes:   %d\n", stats.Count, stats.TotalSize)
		return nil
	}),
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries",
	RunE: withCache(func(cmd *cobra.Command, c *imagecache.Cache) error {
		n, err := c.Cleanup(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		cmd.Printf("removed %d expired entries\n", n)
		return nil
	}),
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry",
	RunE: withCache(func(cmd *cobra.Command, c *imagecache.Cache) error {
		if err := c.Clear(cmd.Context()); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		cmd.Println("image cache cleared")
		return nil
	}),
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheCleanupCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func withCache(fn func(*cobra.Command, *imagecache.Cache) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		store, err := services.OpenImageStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		c := imagecache.New(store, imagecache.WithDuration(cfg.Cache.TTL.Duration))
		defer c.Close()
		return fn(cmd, c)
	}
}
