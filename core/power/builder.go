package power

import (
	"sync"

	"github.com/kilianp07/hems/core/model"
)

// CommandBuilder turns targets into device commands. It keeps the last
// HistorySize raw targets of each location and acts on their minimum, so a
// single-cycle spike is never applied and a dip is applied immediately.
//
// Build mutates the history. One builder must live for the whole process
// and be fed by a single control loop.
type CommandBuilder struct {
	mu      sync.Mutex
	history model.PerLocation[[]model.Optional[int]]
}

// NewCommandBuilder returns a builder with empty histories.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// Build records the targets and returns the commands needed to move the
// devices from state towards the smoothed targets, ordered inside current,
// inside start/stop, outside current, outside start/stop, battery.
func (b *CommandBuilder) Build(state model.SystemState, targets model.Targets) []model.PowerCommand {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cmds []model.PowerCommand
	for _, l := range model.Locations {
		b.push(l, targets.Amps(l))
		target := b.smoothed(l)
		if a, ok := target.Get(); ok {
			targetAmps.WithLabelValues(l.String()).Set(float64(a))
		}
		cmds = append(cmds, wallboxCommands(l, target, state)...)
	}

	if p, ok := targets.BatteryChargePower.Get(); ok {
		targetBattery.Set(float64(p))
		if cur, known := state.BatteryMaxChargePower.Get(); !known || cur != p {
			cmds = append(cmds, model.PowerCommand{Type: model.CmdBatteryMaxChargePower, Value: p})
		}
	}
	return cmds
}

// History returns a copy of the raw targets kept for l, oldest first.
func (b *CommandBuilder) History(l model.Location) []model.Optional[int] {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.history.Get(l)
	out := make([]model.Optional[int], len(h))
	copy(out, h)
	return out
}

func (b *CommandBuilder) push(l model.Location, v model.Optional[int]) {
	h := append(b.history.Get(l), v)
	if len(h) > HistorySize {
		h = h[len(h)-HistorySize:]
	}
	b.history.Set(l, h)
}

// smoothed is the minimum of the set entries of the history of l.
func (b *CommandBuilder) smoothed(l model.Location) model.Optional[int] {
	res := model.None[int]()
	for _, v := range b.history.Get(l) {
		a, ok := v.Get()
		if !ok {
			continue
		}
		if cur, set := res.Get(); !set || a < cur {
			res = model.Some(a)
		}
	}
	return res
}

func wallboxCommands(l model.Location, target model.Optional[int], state model.SystemState) []model.PowerCommand {
	amps, ok := target.Get()
	if !ok {
		return nil
	}
	measured, known := state.WallboxPower.Get(l).Get()
	measuredAmps := 0
	if known {
		measuredAmps = PowerToAmps(measured)
		if measuredAmps == amps {
			return nil
		}
	}

	current := model.CurrentCommand(l)
	startStop := model.StartStopCommand(l)

	if amps < MinStopAmps {
		if measuredAmps > 0 {
			// a stopped wallbox always restarts from the minimum current
			return []model.PowerCommand{
				{Type: current, Value: MinStartAmps},
				{Type: startStop, Value: 0},
			}
		}
		return nil
	}

	cmds := []model.PowerCommand{{Type: current, Value: amps}}
	if status, ok := state.WallboxStatus.Get(l).Get(); ok && status.AwaitingStart() && amps >= MinStartAmps {
		cmds = append(cmds, model.PowerCommand{Type: startStop, Value: 1})
	}
	return cmds
}
