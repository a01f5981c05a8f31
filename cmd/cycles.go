package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/pkg/export"
)

var cyclesOpts struct {
	since    time.Duration
	cmdType  string
	location string
	limit    int
	format   string
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Export control cycles from the local cycle log",
	Args:  cobra.NoArgs,
	RunE:  runCycles,
}

func init() {
	f := cyclesCmd.Flags()
	f.DurationVar(&cyclesOpts.since, "since", 24*time.Hour, "only cycles newer than this")
	f.StringVar(&cyclesOpts.cmdType, "type", "", "only cycles that emitted this command type")
	f.StringVar(&cyclesOpts.location, "location", "", "only cycles that commanded this location")
	f.IntVar(&cyclesOpts.limit, "limit", 0, "keep only the most recent N cycles")
	f.StringVarP(&cyclesOpts.format, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(cyclesCmd)
}

func runCycles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	q := cyclelog.Query{Limit: cyclesOpts.limit}
	if cyclesOpts.since > 0 {
		q.Start = time.Now().Add(-cyclesOpts.since)
	}
	if cyclesOpts.cmdType != "" {
		ct, err := model.ParseCommandType(cyclesOpts.cmdType)
		if err != nil {
			return err
		}
		q.Type = model.Some(ct)
	}
	if cyclesOpts.location != "" {
		l, err := model.ParseLocation(cyclesOpts.location)
		if err != nil {
			return err
		}
		q.Location = model.Some(l)
	}
	store, err := cyclelog.New(cfg.Storage.CycleLog)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("cycle log is disabled (storage.cycle_log.backend is none)")
	}
	defer store.Close()
	records, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), cyclesOpts.format, records)
}
