// Package export writes cycle log records in formats suited to
// spreadsheets and scripts.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/model"
)

// Header lists the CSV columns written by WriteCSV.
var Header = []string{
	"id", "timestamp", "enabled", "duration_ms",
	"grid_power", "battery_soc", "primary",
	"inside_mode", "outside_mode",
	"inside_amps", "outside_amps", "battery_charge_power",
	"commands",
}

// Write dispatches to WriteJSON or WriteCSV by format name.
func Write(w io.Writer, format string, records []cyclelog.Record) error {
	switch strings.ToLower(format) {
	case "json":
		return WriteJSON(w, records)
	case "csv":
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes one JSON document per record.
func WriteJSON(w io.Writer, records []cyclelog.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes the records with a header row. Unknown values are empty.
func WriteCSV(w io.Writer, records []cyclelog.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		cmds := make([]string, len(r.Commands))
		for i, c := range r.Commands {
			cmds[i] = c.String()
		}
		rec := []string{
			r.ID,
			r.Timestamp.Format(time.RFC3339),
			strconv.FormatBool(r.Enabled),
			strconv.FormatFloat(r.DurationMS, 'f', -1, 64),
			float(r.Input.GridPower),
			float(r.Input.BatterySOC),
			r.Input.Primary().String(),
			r.Input.ChargeMode.Get(model.Inside).String(),
			r.Input.ChargeMode.Get(model.Outside).String(),
			integer(r.Targets.InsideAmps),
			integer(r.Targets.OutsideAmps),
			integer(r.Targets.BatteryChargePower),
			strings.Join(cmds, ";"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func float(v model.Optional[float64]) string {
	if f, ok := v.Get(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func integer(v model.Optional[int]) string {
	if n, ok := v.Get(); ok {
		return strconv.Itoa(n)
	}
	return ""
}
