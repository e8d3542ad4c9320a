// Package cmd implements the command-line entry points.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ticpu/fuse-img2heic/internal/app"
	"github.com/ticpu/fuse-img2heic/internal/applog"
	"github.com/ticpu/fuse-img2heic/internal/config"
)

var (
	mountFlag    string
	configFlag   string
	verboseCount int
)

// Root builds the top-level command: flags --mount, --config, -v/-vv/-vvv,
// and the "setup" subcommand.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:          "fuse-img2heic",
		Short:        "Mount a read-only view of your images transcoded to HEIC on the fly",
		SilenceUsage: true,
		RunE:         runMount,
	}

	root.PersistentFlags().StringVar(&configFlag, "config", defaultConfigPath(), "config file path")
	root.Flags().StringVar(&mountFlag, "mount", "", "mount point (overrides mount_point from config)")
	root.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase log verbosity (-v, -vv, -vvv)")

	root.AddCommand(setupCommand())
	root.AddCommand(statusCommand())
	return root
}

func defaultConfigPath() string {
	dir, err := defaultConfigDir()
	if err != nil {
		return "fuse-img2heic.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

func runMount(cmd *cobra.Command, args []string) error {
	applog.Verbosity(verboseCount)

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if mountFlag != "" {
		cfg.MountPoint = mountFlag
	}
	if cfg.MountPoint == "" {
		return fmt.Errorf("cmd: no mount point given (--mount or mount_point in %s)", configFlag)
	}

	if err := app.PrepareMount(cfg); err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	return a.Run(cmd.Context())
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return Root().ExecuteContext(ctx)
}
