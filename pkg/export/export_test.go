package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/model"
)

func sample() []cyclelog.Record {
	return []cyclelog.Record{{
		ID:        "c1",
		Timestamp: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Input: model.InputState{
			GridPower:       model.Some(-850.5),
			PrimaryLocation: model.Some(model.Outside),
			ChargeMode:      model.NewPerLocation(model.ModeSunOnly, model.ModeOn),
		},
		Targets: model.Targets{
			OutsideAmps:        model.Some(12),
			BatteryChargePower: model.Some(200),
		},
		Commands: []model.PowerCommand{
			{Type: model.CmdOutsideCurrent, Value: 12},
			{Type: model.CmdBatteryMaxChargePower, Value: 200},
		},
		Enabled:    true,
		DurationMS: 1.25,
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "CSV", sample()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{
		"c1", "2026-05-04T10:00:00Z", "true", "1.25",
		"-850.5", "", "outside",
		"SunOnly", "On",
		"", "12", "200",
		"OutsideCurrent=12;BatteryMaxChargePower=200",
	}, rows[1])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "json", append(sample(), sample()...)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"c1"`)
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", nil))
}
