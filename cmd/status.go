package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ticpu/fuse-img2heic/internal/cache"
	"github.com/ticpu/fuse-img2heic/internal/config"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report cache disk usage against the configured budget",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}

	c := cache.New(cfg.Cache.CacheDir, cfg.Cache.EnableEncryption)
	count, bytes, err := c.Usage()
	if err != nil {
		return fmt.Errorf("cmd: read cache usage: %w", err)
	}

	budget := cfg.Cache.MaxSizeMB * 1024 * 1024
	fmt.Fprintf(cmd.OutOrStdout(), "cache dir:    %s\n", cfg.Cache.CacheDir)
	fmt.Fprintf(cmd.OutOrStdout(), "entries:      %d\n", count)
	fmt.Fprintf(cmd.OutOrStdout(), "disk usage:   %s / %s\n", humanize.Bytes(uint64(bytes)), humanize.Bytes(uint64(budget)))
	fmt.Fprintf(cmd.OutOrStdout(), "encryption:   %v\n", cfg.Cache.EnableEncryption)
	return nil
}
