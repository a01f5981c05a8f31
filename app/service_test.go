package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/chargemode"
	"github.com/kilianp07/hems/core/cyclelog"
	"github.com/kilianp07/hems/core/model"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
	"github.com/kilianp07/hems/core/telemetry"
	"github.com/kilianp07/hems/infra/modestore"
	"github.com/kilianp07/hems/infra/scheduler"
)

type fakeClient struct {
	mu       sync.Mutex
	handlers map[string]coremqtt.Handler
	sent     map[string][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]coremqtt.Handler{}, sent: map[string][]string{}}
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[topic] = append(f.sent[topic], string(payload))
	return nil
}

func (f *fakeClient) Subscribe(topic string, h coremqtt.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) deliver(topic, payload string) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(topic, []byte(payload))
	}
	return ok
}

func (f *fakeClient) published(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for t, msgs := range f.sent {
		if strings.HasPrefix(t, prefix) {
			n += len(msgs)
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Victron.PortalID = "102c6b9cfab9"
	cfg.Storage.ModesPath = filepath.Join(dir, "modes.db")
	cfg.Storage.CycleLog = cyclelog.Config{Backend: "jsonl", Path: filepath.Join(dir, "cycles.jsonl")}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceRun(t *testing.T) {
	cfg := testConfig(t)
	client := newFakeClient()
	svc, err := NewWithClient(cfg, client)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// subscriptions and the first keepalive happen on start
	require.Eventually(t, func() bool {
		return client.deliver("N/102c6b9cfab9/battery/512/Soc", `{"value":55}`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.Some(55.0), svc.Store.Get(telemetry.BatterySOC))
	require.Eventually(t, func() bool {
		return client.published(cfg.Victron.KeepaliveTopic()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		if err := svc.Switcher.Set(ctx, model.Outside, model.ModeOn, chargemode.SourceAPI); err != nil {
			return false
		}
		_, ok := svc.Loop.Last()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// control is disabled by default, nothing is written to the devices
	assert.Zero(t, client.published(cfg.Victron.WritePrefix()))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	require.NoError(t, svc.Close())

	store, err := modestore.NewSQLiteStore(cfg.Storage.ModesPath)
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Some(model.ModeOn), saved.Get(model.Outside))

	cycles, err := cyclelog.New(cfg.Storage.CycleLog)
	require.NoError(t, err)
	defer cycles.Close()
	recs, err := cycles.Query(context.Background(), cyclelog.Query{})
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestServiceLoadsPrices(t *testing.T) {
	today := time.Now().Format("02/01/2006")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Fecha;Periodo;ES;PT;\n" + today + ";2;94,95;94,95;\n"))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Prices.Enabled = true
	cfg.Prices.URL = srv.URL
	svc, err := NewWithClient(cfg, newFakeClient())
	require.NoError(t, err)
	defer svc.Close()

	assert.Contains(t, svc.Scheduler.Tasks(), scheduler.TaskInfo{Name: TaskPrices, Type: scheduler.TypeCron, Schedule: "0 0 * * * *"})
	require.NoError(t, svc.Scheduler.RunNow(context.Background(), TaskPrices))
	entries := svc.Prices.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Time.Hour())
	assert.False(t, svc.Prices.Fetched().IsZero())
}

func TestServiceRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "loud"
	_, err := NewWithClient(cfg, newFakeClient())
	assert.Error(t, err)
}
