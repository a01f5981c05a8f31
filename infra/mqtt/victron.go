package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/events"
	"github.com/kilianp07/hems/core/logger"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/internal/eventbus"
)

// VictronConfig locates the Victron GX device on the broker.
type VictronConfig struct {
	PortalID         string `json:"portal_id"`
	WallSwitchTopic  string `json:"wall_switch_topic"`
	KeepaliveSeconds int    `json:"keepalive_seconds"`
}

// SetDefaults applies sane defaults.
func (c *VictronConfig) SetDefaults() {
	if c.WallSwitchTopic == "" {
		c.WallSwitchTopic = "shellyplusi4-083af2013a04/events/rpc"
	}
	if c.KeepaliveSeconds == 0 {
		c.KeepaliveSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c VictronConfig) Validate() error {
	if c.PortalID == "" {
		return fmt.Errorf("victron: portal_id is required")
	}
	if strings.ContainsAny(c.PortalID, "/#+") {
		return fmt.Errorf("victron: invalid portal_id %q", c.PortalID)
	}
	if c.KeepaliveSeconds < 0 {
		return fmt.Errorf("victron: keepalive_seconds must not be negative")
	}
	return nil
}

// ReadPrefix is the prefix of notification topics.
func (c VictronConfig) ReadPrefix() string { return "N/" + c.PortalID + "/" }

// WritePrefix is the prefix of the topics that change device settings.
func (c VictronConfig) WritePrefix() string { return "W/" + c.PortalID + "/" }

// KeepaliveTopic is the topic the GX device needs a request on to keep
// publishing notifications.
func (c VictronConfig) KeepaliveTopic() string { return "R/" + c.PortalID + "/system/0/Serial" }

// KeepaliveInterval returns the keepalive period.
func (c VictronConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}

// Keepalive publishes one keepalive request.
func Keepalive(ctx context.Context, pub coremqtt.Publisher, cfg VictronConfig) error {
	return pub.Publish(ctx, cfg.KeepaliveTopic(), []byte(strconv.Itoa(rand.IntN(10000000))))
}

type binding struct {
	metric string
	apply  func(s *VictronSubscriber, v model.Optional[float64])
}

func scalar(f telemetry.Field) func(*VictronSubscriber, model.Optional[float64]) {
	return func(s *VictronSubscriber, v model.Optional[float64]) { s.store.Set(f, v) }
}

func wallboxPower(l model.Location) func(*VictronSubscriber, model.Optional[float64]) {
	return func(s *VictronSubscriber, v model.Optional[float64]) { s.store.SetWallboxPower(l, v) }
}

func wallboxStatus(l model.Location) func(*VictronSubscriber, model.Optional[float64]) {
	return func(s *VictronSubscriber, v model.Optional[float64]) {
		st := model.None[model.ChargerStatus]()
		if f, ok := v.Get(); ok {
			st = model.Some(model.ChargerStatus(int(f)))
		}
		s.store.SetWallboxStatus(l, st)
	}
}

func wallboxCurrent(l model.Location) func(*VictronSubscriber, model.Optional[float64]) {
	return func(s *VictronSubscriber, v model.Optional[float64]) {
		s.store.SetWallboxCurrent(l, v)
		if a, ok := v.Get(); ok && s.bus != nil {
			s.bus.Publish(events.SetCurrentEvent{Location: l, Amps: a, Time: s.now()})
		}
	}
}

var victronTopics = map[string]binding{
	"battery/512/System/MaxCellVoltage":                      {"battery_max_cell_voltage", nil},
	"battery/512/System/MinCellVoltage":                      {"battery_min_cell_voltage", nil},
	"battery/512/Dc/0/Current":                               {"battery_current", nil},
	"battery/512/Dc/0/Power":                                 {"battery_power", scalar(telemetry.BatteryPower)},
	"battery/512/Dc/0/Voltage":                               {"battery_voltage", nil},
	"battery/512/Dc/0/Temperature":                           {"battery_temperature", nil},
	"battery/512/Soc":                                        {"battery_soc", scalar(telemetry.BatterySOC)},
	"system/0/Ac/Grid/L1/Power":                              {"grid_power", scalar(telemetry.GridPower)},
	"system/0/Ac/Consumption/L1/Power":                       {"consumption_power", nil},
	"settings/0/Settings/CGwacs/BatteryLife/MinimumSocLimit": {"battery_min_soc", scalar(telemetry.BatteryMinSOC)},
	"settings/0/Settings/CGwacs/MaxChargePower":              {"battery_max_charge_power", scalar(telemetry.BatteryMaxChargePower)},
	"system/0/Ac/PvOnGrid/L1/Power":                          {"pv_inverter_power", scalar(telemetry.PVInverterPower)},
	"system/0/Dc/Pv/Power":                                   {"pv_charger_power", nil},
	"evcharger/40/Ac/Power":                                  {"car_charge_inside_power", wallboxPower(model.Inside)},
	"evcharger/41/Ac/Power":                                  {"car_charge_outside_power", wallboxPower(model.Outside)},
	"evcharger/40/Status":                                    {"car_charge_inside_status", wallboxStatus(model.Inside)},
	"evcharger/41/Status":                                    {"car_charge_outside_status", wallboxStatus(model.Outside)},
	"evcharger/40/SetCurrent":                                {"car_charge_inside_current", wallboxCurrent(model.Inside)},
	"evcharger/41/SetCurrent":                                {"car_charge_outside_current", wallboxCurrent(model.Outside)},
	"temperature/24/Temperature":                             {"shed_temperature", nil},
}

// VictronSubscriber feeds GX notifications and wall-switch presses into the
// telemetry store, the metrics recorder and the event bus.
type VictronSubscriber struct {
	sub   coremqtt.Subscriber
	cfg   VictronConfig
	store *telemetry.Store
	rec   coremetrics.TelemetryRecorder
	bus   *eventbus.Bus
	log   logger.Logger
	now   func() time.Time
}

// NewVictronSubscriber creates a subscriber. rec and bus may be nil.
func NewVictronSubscriber(sub coremqtt.Subscriber, cfg VictronConfig, store *telemetry.Store,
	rec coremetrics.TelemetryRecorder, bus *eventbus.Bus, log logger.Logger) *VictronSubscriber {
	if rec == nil {
		rec = coremetrics.NopSink{}
	}
	return &VictronSubscriber{sub: sub, cfg: cfg, store: store, rec: rec, bus: bus, log: log, now: time.Now}
}

// Topics returns every topic the subscriber listens to.
func (v *VictronSubscriber) Topics() []string {
	out := make([]string, 0, len(victronTopics)+1)
	for suffix := range victronTopics {
		out = append(out, v.cfg.ReadPrefix()+suffix)
	}
	if v.cfg.WallSwitchTopic != "" {
		out = append(out, v.cfg.WallSwitchTopic)
	}
	return out
}

// Start subscribes to every topic.
func (v *VictronSubscriber) Start() error {
	for _, t := range v.Topics() {
		if err := v.sub.Subscribe(t, v.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle routes one message. It is the coremqtt.Handler registered for all
// topics.
func (v *VictronSubscriber) Handle(topic string, payload []byte) {
	if topic == v.cfg.WallSwitchTopic {
		v.handleSwitch(payload)
		return
	}
	suffix, ok := strings.CutPrefix(topic, v.cfg.ReadPrefix())
	if !ok {
		return
	}
	b, ok := victronTopics[suffix]
	if !ok {
		return
	}
	val, err := DecodeValue(payload)
	if err != nil {
		errorsTotal.WithLabelValues("decode").Inc()
		v.log.Warnf("decode %s: %v", topic, err)
		return
	}
	if b.apply != nil {
		b.apply(v, val)
	}
	if err := v.rec.RecordTelemetry(coremetrics.TelemetryEvent{Name: b.metric, Value: val, Time: v.now()}); err != nil {
		v.log.Errorf("record %s: %v", b.metric, err)
	}
}

type switchMessage struct {
	Params struct {
		Events []struct {
			ID    int    `json:"id"`
			Event string `json:"event"`
		} `json:"events"`
	} `json:"params"`
}

func (v *VictronSubscriber) handleSwitch(payload []byte) {
	var msg switchMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		errorsTotal.WithLabelValues("decode").Inc()
		v.log.Warnf("decode wall switch: %v", err)
		return
	}
	for _, e := range msg.Params.Events {
		n, ok := chargemode.PressCount(e.Event)
		if !ok {
			continue
		}
		v.log.Infow("wall switch pressed", map[string]any{"button": e.ID, "presses": n})
		if v.bus != nil {
			v.bus.Publish(events.WallSwitchEvent{ButtonID: e.ID, Presses: n, Time: v.now()})
		}
	}
}

// DecodeValue parses a GX notification payload. A null value decodes to an
// unset Optional.
func DecodeValue(payload []byte) (model.Optional[float64], error) {
	var msg struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.None[float64](), err
	}
	return model.FromPtr(msg.Value), nil
}
