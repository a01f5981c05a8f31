package chargemode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/events"
	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/model"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/infra/logger"
	"github.com/kilianp07/hems/internal/eventbus"
)

type memStore struct {
	mu      sync.Mutex
	saved   model.PerLocation[model.Optional[model.ChargeMode]]
	saves   int
	saveErr error
	loadErr error
}

func (m *memStore) Load(context.Context) (model.PerLocation[model.Optional[model.ChargeMode]], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, m.loadErr
}

func (m *memStore) Save(_ context.Context, modes model.PerLocation[model.ChargeMode]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, l := range model.Locations {
		m.saved.Set(l, model.Some(modes.Get(l)))
	}
	return nil
}

type modeRecorder struct {
	mu  sync.Mutex
	evs []coremetrics.ChargeModeEvent
}

func (r *modeRecorder) RecordChargeMode(ev coremetrics.ChargeModeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	cmds []model.PowerCommand
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmds []model.PowerCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmds = append(d.cmds, cmds...)
}

func newTestSwitcher(store Store) (*Switcher, *telemetry.Store, *modeRecorder, *eventbus.TypedBus[events.ModeChangedEvent]) {
	state := telemetry.NewStore()
	rec := &modeRecorder{}
	bus := eventbus.NewTyped[events.ModeChangedEvent]("modes-test")
	return NewSwitcher(state, store, rec, bus, logger.NopLogger{}), state, rec, bus
}

func TestSwitcherSet(t *testing.T) {
	store := &memStore{}
	sw, state, rec, bus := newTestSwitcher(store)
	changes := bus.Subscribe()

	require.NoError(t, sw.Set(context.Background(), model.Outside, model.ModeNight, SourceAPI))

	assert.Equal(t, model.ModeNight, state.ChargeModes().Get(model.Outside))
	assert.Equal(t, model.Some(model.ModeNight), store.saved.Get(model.Outside))
	assert.Equal(t, model.Some(model.ModeSunOnly), store.saved.Get(model.Inside))
	require.Len(t, rec.evs, 1)
	assert.Equal(t, SourceAPI, rec.evs[0].Source)

	ev := <-changes
	assert.Equal(t, model.Outside, ev.Location)
	assert.Equal(t, model.ModeNight, ev.Mode)
}

func TestSwitcherRejectsInvalid(t *testing.T) {
	store := &memStore{}
	sw, state, _, _ := newTestSwitcher(store)

	err := sw.Set(context.Background(), model.Inside, model.ChargeMode(17), SourceAPI)
	assert.ErrorIs(t, err, ErrInvalidMode)
	err = sw.Set(context.Background(), model.Location(4), model.ModeOn, SourceAPI)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	assert.Equal(t, model.ModeSunOnly, state.ChargeModes().Get(model.Inside))
	assert.Zero(t, store.saves)
}

func TestSwitcherSetKeepsModeWhenSaveFails(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	sw, state, _, _ := newTestSwitcher(store)

	err := sw.Set(context.Background(), model.Inside, model.ModeOff, SourceAPI)
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorIs(t, err, ErrNotPersisted)
	assert.Equal(t, model.ModeOff, state.ChargeModes().Get(model.Inside))
}

func TestSwitcherLoad(t *testing.T) {
	store := &memStore{}
	store.saved.Set(model.Inside, model.Some(model.ModeOn))
	sw, state, rec, _ := newTestSwitcher(store)

	modes, err := sw.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.NewPerLocation(model.ModeOn, model.ModeSunOnly), modes)
	assert.Equal(t, modes, state.ChargeModes())
	assert.Len(t, rec.evs, 2)
	assert.Zero(t, store.saves)

	store.loadErr = errors.New("locked")
	_, err = sw.Load(context.Background())
	assert.Error(t, err)
}

func TestSwitcherWithoutStore(t *testing.T) {
	sw := NewSwitcher(telemetry.NewStore(), nil, nil, nil, logger.NopLogger{})
	require.NoError(t, sw.Set(context.Background(), model.Inside, model.ModeESSOnly, SourceCLI))
	modes, err := sw.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ModeSunOnly, modes.Get(model.Inside))
}

func TestModeForPress(t *testing.T) {
	tests := []struct {
		button, presses int
		loc             model.Location
		mode            model.ChargeMode
	}{
		{0, 1, model.Inside, model.ModeESSOnly},
		{0, 2, model.Inside, model.ModeSunOnly},
		{0, 3, model.Inside, model.ModeOff},
		{1, 1, model.Inside, model.ModeNight},
		{1, 2, model.Inside, model.ModeOn},
		{1, 3, model.Inside, model.ModeManual},
		{2, 1, model.Outside, model.ModeNight},
		{2, 2, model.Outside, model.ModeOn},
		{2, 3, model.Outside, model.ModeManual},
		{3, 1, model.Outside, model.ModeESSOnly},
		{3, 2, model.Outside, model.ModeSunOnly},
		{3, 3, model.Outside, model.ModeOff},
	}
	for _, tt := range tests {
		l, m, ok := ModeForPress(tt.button, tt.presses)
		require.True(t, ok)
		assert.Equal(t, tt.loc, l, "button %d x%d", tt.button, tt.presses)
		assert.Equal(t, tt.mode, m, "button %d x%d", tt.button, tt.presses)
	}
	_, _, ok := ModeForPress(4, 1)
	assert.False(t, ok)
	_, _, ok = ModeForPress(0, 4)
	assert.False(t, ok)
}

func TestPressCount(t *testing.T) {
	n, ok := PressCount("double_push")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = PressCount("long_push")
	assert.False(t, ok)
}

func TestHandlerWallSwitch(t *testing.T) {
	store := &memStore{}
	sw, state, _, _ := newTestSwitcher(store)
	h := NewHandler(sw, &recordingDispatcher{}, logger.NopLogger{})

	h.Handle(context.Background(), events.WallSwitchEvent{ButtonID: 2, Presses: 2})
	assert.Equal(t, model.ModeOn, state.ChargeModes().Get(model.Outside))

	h.Handle(context.Background(), events.WallSwitchEvent{ButtonID: 9, Presses: 1})
	h.Handle(context.Background(), "unrelated")
	assert.Equal(t, 1, store.saves)
}

func TestHandlerManualOverride(t *testing.T) {
	sw, state, _, _ := newTestSwitcher(&memStore{})
	disp := &recordingDispatcher{}
	h := NewHandler(sw, disp, logger.NopLogger{})

	h.Handle(context.Background(), events.SetCurrentEvent{Location: model.Inside, Amps: 10})
	assert.Empty(t, disp.cmds)

	h.Handle(context.Background(), events.SetCurrentEvent{Location: model.Inside, Amps: 6})
	assert.Equal(t, model.ModeManual, state.ChargeModes().Get(model.Inside))
	assert.Equal(t, []model.PowerCommand{{Type: model.CmdInsideCurrent, Value: 7}}, disp.cmds)
}

func TestHandlerRun(t *testing.T) {
	sw, state, _, _ := newTestSwitcher(&memStore{})
	h := NewHandler(sw, &recordingDispatcher{}, logger.NopLogger{})
	bus := eventbus.New("device-test")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return bus.Publish(events.WallSwitchEvent{ButtonID: 3, Presses: 3}) > 0
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return state.ChargeModes().Get(model.Outside) == model.ModeOff
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not stop")
	}
}
