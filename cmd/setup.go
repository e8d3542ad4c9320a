package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ticpu/fuse-img2heic/internal/config"
)

func setupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the config file and cache directory with default settings",
		RunE:  runSetup,
	}
}

func runSetup(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefault(configFlag); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", configFlag)

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("cmd: reload freshly written config: %w", err)
	}
	if err := os.MkdirAll(cfg.Cache.CacheDir, 0o755); err != nil {
		return fmt.Errorf("cmd: create cache dir: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created cache directory %s\n", cfg.Cache.CacheDir)
	fmt.Fprintf(cmd.OutOrStdout(), "cache budget: %s\n", humanize.Bytes(uint64(cfg.Cache.MaxSizeMB)*1024*1024))
	return nil
}
