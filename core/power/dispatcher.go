package power

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/monitoring"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
)

var topicSuffixes = map[model.CommandType]string{
	model.CmdInsideCurrent:         "evcharger/40/SetCurrent",
	model.CmdInsideStartStop:       "evcharger/40/StartStop",
	model.CmdOutsideCurrent:        "evcharger/41/SetCurrent",
	model.CmdOutsideStartStop:      "evcharger/41/StartStop",
	model.CmdBatteryMaxChargePower: "settings/0/Settings/CGwacs/MaxChargePower",
}

// TopicSuffix returns the device address of a command type, relative to the
// broker write prefix.
func TopicSuffix(t model.CommandType) (string, bool) {
	s, ok := topicSuffixes[t]
	return s, ok
}

// Dispatcher publishes power commands to the devices.
type Dispatcher struct {
	pub    coremqtt.Publisher
	prefix string
	cfg    Config
	log    logger.Logger
}

// NewDispatcher creates a Dispatcher publishing below writePrefix
// (for example "W/102c6b9cfab9/").
func NewDispatcher(pub coremqtt.Publisher, writePrefix string, cfg Config, log logger.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, prefix: writePrefix, cfg: cfg, log: log}
}

// Enabled reports whether commands are really published.
func (d *Dispatcher) Enabled() bool { return d.cfg.Enabled }

// Topic returns the full topic of a command type.
func (d *Dispatcher) Topic(t model.CommandType) (string, bool) {
	s, ok := TopicSuffix(t)
	if !ok {
		return "", false
	}
	return d.prefix + s, true
}

// Dispatch publishes every command. Failures are logged and counted but not
// retried: the next cycle sends the command again while the device state
// still disagrees with the target.
func (d *Dispatcher) Dispatch(ctx context.Context, cmds []model.PowerCommand) {
	for _, cmd := range cmds {
		topic, ok := d.Topic(cmd.Type)
		if !ok || !d.cfg.Enabled || d.pub == nil {
			d.log.Infof("simulating command %s", cmd)
			commandsTotal.WithLabelValues(cmd.Type.String(), "simulated").Inc()
			continue
		}
		if err := d.publish(ctx, topic, cmd.Value); err != nil {
			d.log.Errorf("command %s on %s failed: %v", cmd, topic, err)
			publishFailures.WithLabelValues(cmd.Type.String()).Inc()
			monitoring.CaptureException(err, map[string]string{"command": cmd.Type.String()})
			continue
		}
		d.log.Infof("running command %s on %s", cmd, topic)
		commandsTotal.WithLabelValues(cmd.Type.String(), "published").Inc()
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic string, value int) error {
	payload, err := ValuePayload(value)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout())
	defer cancel()
	if err := d.pub.Publish(pctx, topic, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// ValuePayload encodes the {"value": N} body understood by the Victron GX.
func ValuePayload(v any) ([]byte, error) {
	return json.Marshal(struct {
		Value any `json:"value"`
	}{Value: v})
}
