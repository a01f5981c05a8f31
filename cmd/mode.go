package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/infra/logger"
	"github.com/kilianp07/hems/infra/modestore"
)

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Inspect or change the persisted charge modes",
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the persisted charge modes",
	Args:  cobra.NoArgs,
	RunE:  runModeGet,
}

var modeSetCmd = &cobra.Command{
	Use:   "set <inside|outside> <mode>",
	Short: "Persist the charge mode of a location; a running controller picks it up on restart",
	Args:  cobra.ExactArgs(2),
	RunE:  runModeSet,
}

func init() {
	modeCmd.AddCommand(modeGetCmd, modeSetCmd)
	rootCmd.AddCommand(modeCmd)
}

func openSwitcher() (*chargemode.Switcher, *modestore.SQLiteStore, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := modestore.NewSQLiteStore(cfg.Storage.ModesPath)
	if err != nil {
		return nil, nil, err
	}
	return chargemode.NewSwitcher(telemetry.NewStore(), store, nil, nil, logger.NopLogger{}), store, nil
}

func closeStore(cmd *cobra.Command, store *modestore.SQLiteStore) {
	if err := store.Close(); err != nil {
		if _, ferr := fmt.Fprintf(cmd.ErrOrStderr(), "error while closing mode store: %v\n", err); ferr != nil {
			fmt.Println("failed to write to stderr:", ferr)
		}
	}
}

func printModes(cmd *cobra.Command, modes model.PerLocation[model.ChargeMode]) {
	for _, l := range model.Locations {
		m := modes.Get(l)
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s (%d)\n", l, m, int(m))
	}
}

func runModeGet(cmd *cobra.Command, args []string) error {
	sw, store, err := openSwitcher()
	if err != nil {
		return err
	}
	defer closeStore(cmd, store)
	modes, err := sw.Load(context.Background())
	if err != nil {
		return err
	}
	printModes(cmd, modes)
	return nil
}

func runModeSet(cmd *cobra.Command, args []string) error {
	l, err := model.ParseLocation(args[0])
	if err != nil {
		return err
	}
	m, err := model.ParseChargeMode(args[1])
	if err != nil {
		return err
	}
	sw, store, err := openSwitcher()
	if err != nil {
		return err
	}
	defer closeStore(cmd, store)
	ctx := context.Background()
	if _, err := sw.Load(ctx); err != nil {
		return err
	}
	if err := sw.Set(ctx, l, m, chargemode.SourceCLI); err != nil {
		return err
	}
	printModes(cmd, sw.Modes())
	return nil
}
