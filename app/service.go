// Package app wires the controller together: MQTT transport, telemetry,
// charge modes, the control loop, scheduled tasks and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/hems/api"
	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/events"
	coreforecast "github.com/kilianp07/hems/core/forecast"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/monitoring"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
	"github.com/kilianp07/hems/core/power"
	"github.com/kilianp07/hems/core/prices"
	"github.com/kilianp07/hems/core/soclimit"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/infra/forecast"
	"github.com/kilianp07/hems/infra/logger"
	_ "github.com/kilianp07/hems/infra/metrics"
	"github.com/kilianp07/hems/infra/modestore"
	infmon "github.com/kilianp07/hems/infra/monitoring"
	"github.com/kilianp07/hems/infra/mqtt"
	"github.com/kilianp07/hems/infra/omie"
	"github.com/kilianp07/hems/infra/scheduler"
	"github.com/kilianp07/hems/internal/eventbus"
)

// Task names.
const (
	TaskSOCMorning = "soc_morning"
	TaskSOCEvening = "soc_evening"
	TaskForecast   = "forecast"
	TaskPrices     = "prices"
	TaskKeepalive  = "keepalive"
)

// Service owns every long running component.
type Service struct {
	cfg    *config.Config
	client coremqtt.Client
	log    logger.Logger

	Store      *telemetry.Store
	Switcher   *chargemode.Switcher
	Loop       *ControlLoop
	Dispatcher *power.Dispatcher
	Forecast   *coreforecast.Cache
	Prices     *prices.Cache
	SOC        *soclimit.Task
	Scheduler  *scheduler.Scheduler

	bus       *eventbus.Bus
	modeBus   *eventbus.TypedBus[events.ModeChangedEvent]
	sink      coremetrics.MetricsSink
	modes     *modestore.SQLiteStore
	cycles    cyclelog.LogStore
	victron   *mqtt.VictronSubscriber
	handler   *chargemode.Handler
	refresher *coreforecast.Refresher
	pricer    *prices.Refresher
	http      *http.Server
}

// New connects to the broker and creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	svc, err := NewWithClient(cfg, client)
	if err != nil {
		client.Disconnect()
		return nil, err
	}
	return svc, nil
}

// NewWithClient creates a Service on an existing MQTT client.
func NewWithClient(cfg *config.Config, client coremqtt.Client) (*Service, error) {
	logger.SetConsole(cfg.Log.Console)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	log := logger.New("service")

	mon, err := infmon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		client:   client,
		log:      log,
		Store:    telemetry.NewStore(),
		Forecast: coreforecast.NewCache(),
		Prices:   prices.NewCache(),
		bus:      eventbus.New("device"),
		modeBus:  eventbus.NewTyped[events.ModeChangedEvent]("modes"),
		sink:     sink,
	}
	if err := s.openStorage(); err != nil {
		_ = s.Close()
		return nil, err
	}

	writePrefix := cfg.Victron.WritePrefix()
	s.Dispatcher = power.NewDispatcher(client, writePrefix, cfg.Control, logger.New("dispatcher"))
	s.Switcher = chargemode.NewSwitcher(s.Store, s.modes, coremetrics.ChargeModes(sink), s.modeBus, logger.New("chargemode"))
	s.handler = chargemode.NewHandler(s.Switcher, s.Dispatcher, logger.New("chargemode"))
	s.victron = mqtt.NewVictronSubscriber(client, cfg.Victron, s.Store, coremetrics.Telemetry(sink), s.bus, logger.New("victron"))
	s.Loop = NewControlLoop(s.Store, s.Dispatcher, sink, s.cycles, cfg.Control.Interval(), logger.New("control"))
	s.SOC = soclimit.NewTask(client, writePrefix, cfg.Control, s.Forecast,
		soclimit.SOCFunc(func() model.Optional[float64] { return s.Store.Get(telemetry.BatterySOC) }),
		logger.New("soclimit"))
	if cfg.Forecast.Enabled {
		s.refresher = coreforecast.NewRefresher(forecast.NewSolarClient(cfg.Forecast), s.Forecast,
			coremetrics.Forecasts(sink), logger.New("forecast"))
	}
	if cfg.Prices.Enabled {
		s.pricer = prices.NewRefresher(omie.NewClient(cfg.Prices), s.Prices,
			coremetrics.Prices(sink), logger.New("prices"))
	}
	if err := s.schedule(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if cfg.HTTP.Enabled {
		srv := &api.Server{
			Conn:   client,
			Store:  s.Store,
			Loop:   s.Loop,
			Modes:  s.Switcher,
			Cycles: s.cycles,
			Tasks:  s.Scheduler,
			Token:  cfg.HTTP.Token,
		}
		if s.pricer != nil {
			srv.Prices = s.Prices
		}
		s.http = api.NewServer(cfg.HTTP.Address, srv)
	}
	return s, nil
}

func (s *Service) openStorage() error {
	modes, err := modestore.NewSQLiteStore(s.cfg.Storage.ModesPath)
	if err != nil {
		return fmt.Errorf("mode store: %w", err)
	}
	s.modes = modes
	cycles, err := cyclelog.New(s.cfg.Storage.CycleLog)
	if err != nil {
		return fmt.Errorf("cycle log: %w", err)
	}
	s.cycles = cycles
	return nil
}

func (s *Service) schedule() error {
	sched, err := scheduler.New(logger.New("scheduler"), time.Duration(s.cfg.Tasks.TaskTimeoutSecs)*time.Second)
	if err != nil {
		return err
	}
	s.Scheduler = sched
	tasks := s.cfg.Tasks
	if err := sched.AddCron(TaskSOCMorning, tasks.SOCMorningCron, func(ctx context.Context) error {
		_, err := s.SOC.RunMorning(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := sched.AddCron(TaskSOCEvening, tasks.SOCEveningCron, func(ctx context.Context) error {
		_, err := s.SOC.RunEvening(ctx)
		return err
	}); err != nil {
		return err
	}
	if s.refresher != nil {
		if err := sched.AddCron(TaskForecast, tasks.ForecastCron, s.refresher.Refresh); err != nil {
			return err
		}
	}
	if s.pricer != nil {
		if err := sched.AddCron(TaskPrices, tasks.PricesCron, s.pricer.Refresh); err != nil {
			return err
		}
	}
	victron := s.cfg.Victron
	return sched.AddInterval(TaskKeepalive, victron.KeepaliveInterval(), func(ctx context.Context) error {
		return mqtt.Keepalive(ctx, s.client, victron)
	})
}

// Run starts every component and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if modes, err := s.Switcher.Load(ctx); err != nil {
		s.log.Errorf("restore charge modes: %v", err)
	} else {
		s.log.Infof("charge modes restored: inside=%s outside=%s", modes.Get(model.Inside), modes.Get(model.Outside))
	}
	if err := s.victron.Start(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if !s.Dispatcher.Enabled() {
		s.log.Warnf("power control disabled, commands are only logged")
	}

	go s.handler.Run(ctx, s.bus)
	go s.Loop.Run(ctx, s.modeBus)
	if err := s.Scheduler.Start(ctx); err != nil {
		return err
	}
	if s.refresher != nil {
		go func() {
			if err := s.Scheduler.RunNow(ctx, TaskForecast); err != nil {
				s.log.Warnf("initial forecast: %v", err)
			}
		}()
	}
	if s.pricer != nil {
		go func() {
			if err := s.Scheduler.RunNow(ctx, TaskPrices); err != nil {
				s.log.Warnf("initial prices: %v", err)
			}
		}()
	}
	if err := s.Scheduler.RunNow(ctx, TaskKeepalive); err != nil {
		s.log.Warnf("initial keepalive: %v", err)
	}

	errCh := make(chan error, 1)
	if s.http != nil {
		go func() {
			s.log.Infof("http api listening on %s", s.http.Addr)
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.http != nil {
		if serr := s.http.Shutdown(shutdown); serr != nil {
			s.log.Warnf("http shutdown: %v", serr)
		}
	}
	s.Scheduler.Stop(shutdown)
	return err
}

// Close releases the storage, the metrics sink and the broker connection.
func (s *Service) Close() error {
	var errs []error
	if s.modes != nil {
		errs = append(errs, s.modes.Close())
	}
	if s.cycles != nil {
		errs = append(errs, s.cycles.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if d, ok := s.client.(interface{ Disconnect() }); ok {
		d.Disconnect()
	}
	s.bus.Close()
	s.modeBus.Close()
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}
