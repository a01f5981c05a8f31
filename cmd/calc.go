package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/power"
)

var calcStatePath string

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Compute targets and commands for a state read from a JSON file",
	Long: "Reads an input state (\"-\" for stdin), prints the targets and the commands a fresh " +
		"command builder would emit for it. Nothing is published.",
	RunE: runCalc,
}

func init() {
	calcCmd.Flags().StringVarP(&calcStatePath, "state", "s", "-", "input state JSON file")
	rootCmd.AddCommand(calcCmd)
}

type calcOutput struct {
	Targets  model.Targets        `json:"targets"`
	Commands []model.PowerCommand `json:"commands"`
}

func runCalc(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if calcStatePath != "-" {
		f, err := os.Open(calcStatePath)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	out, err := calculate(r)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func calculate(r io.Reader) (calcOutput, error) {
	var in model.InputState
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return calcOutput{}, fmt.Errorf("decode state: %w", err)
	}
	if err := in.Validate(); err != nil {
		return calcOutput{}, err
	}
	targets := power.Calculate(in)
	st := model.SystemState{
		WallboxPower:  in.WallboxPower,
		WallboxStatus: in.WallboxStatus,
	}
	cmds := power.NewCommandBuilder().Build(st, targets)
	if cmds == nil {
		cmds = []model.PowerCommand{}
	}
	return calcOutput{Targets: targets, Commands: cmds}, nil
}
