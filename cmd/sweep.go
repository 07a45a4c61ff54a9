package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/zaptus/pkg/expiration"
	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired uploads and stale locks once",
	Long: `Run a single expiration and stale lock sweep against the configured storage
and exit. Useful from cron when the server runs with its own sweepers disabled.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	f := sweepCmd.Flags()
	addStorageFlags(f)
	f.Bool("skip_locks", false, "Do not remove stale lock artifacts")

	viper.BindPFlags(f)
}

func runSweep(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	opts, err := loadStorageOpts(f)
	if err != nil {
		return err
	}
	if opts.ExpirationPeriod <= 0 {
		logger.Warn().Msg("expiration_period is not set, uploads are only removed if they carry an expiration time")
	}

	c, err := buildComponents(opts)
	if err != nil {
		return fmt.Errorf("initialise storage: %w", err)
	}
	defer c.Close()

	ctx := cmd.Context()
	var staleLocks int
	if !f.Bool("skip_locks") {
		staleLocks = lock.NewSweeper(c.locker, 0).Run(ctx)
	}
	removed := expiration.NewSweeper(expiration.Config{Store: c.store, Locker: c.locker}).Run(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired uploads and %d stale locks\n", removed, staleLocks)
	return nil
}
