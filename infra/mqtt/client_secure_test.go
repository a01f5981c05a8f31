package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/hems/core/monitoring"
	coremqtt "github.com/kilianp07/hems/core/mqtt"
)

type countingMonitor struct{ exceptions int }

func (m *countingMonitor) CaptureException(error, map[string]string) { m.exceptions++ }
func (m *countingMonitor) CapturePanic(any)                          {}
func (m *countingMonitor) Flush(time.Duration)                       {}

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

func newMockPahoClient(t *testing.T, mc *mockClient, cfg Config) *PahoClient {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
	cli, err := NewPahoClient(cfg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return cli
}

func TestQoSSettings(t *testing.T) {
	mc := &mockClient{}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: map[string]byte{"command": 2, "telemetry": 1}}
	cli := newMockPahoClient(t, mc, cfg)
	if err := cli.Subscribe("N/x/#", func(string, []byte) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(mc.subscribed) == 0 || mc.subscribed[0].qos != 1 {
		t.Fatalf("subscribe qos not applied")
	}
	if err := cli.Publish(context.Background(), "W/x/evcharger/40/SetCurrent", []byte(`{"value":6}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) == 0 || mc.published[0].qos != 2 {
		t.Fatalf("publish qos not applied")
	}
	if got := testutil.ToFloat64(messagesSent); got != 1 {
		t.Fatalf("sent counter = %v", got)
	}
}

func TestClientIDFallback(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if !strings.HasPrefix(opts.ClientID, "hems-") {
		t.Fatalf("client id = %q", opts.ClientID)
	}
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}
	cli := newMockPahoClient(t, mc, cfg)
	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
	cli.Disconnect()
	if len(mc.published) != 0 {
		t.Fatalf("unexpected publish on disconnect")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	cli := newMockPahoClient(t, mc, Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	if err := cli.Publish(context.Background(), "t", []byte("1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected retries")
	}
}

func TestRetryExhausted(t *testing.T) {
	mon := &countingMonitor{}
	monitoring.Init(mon)
	t.Cleanup(func() { monitoring.Init(monitoring.NopMonitor{}) })

	mc := &mockClient{publishErrs: []error{fmt.Errorf("a"), fmt.Errorf("b")}}
	cli := newMockPahoClient(t, mc, Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	if err := cli.Publish(context.Background(), "t", []byte("1")); err == nil {
		t.Fatalf("expected error")
	}
	if got := testutil.ToFloat64(errorsTotal.WithLabelValues("publish")); got != 1 {
		t.Fatalf("publish errors = %v", got)
	}
	if mon.exceptions != 0 {
		t.Fatalf("publish failure reported %d times by the client", mon.exceptions)
	}
}

func TestPublishTimeout(t *testing.T) {
	mc := &mockClient{block: true}
	cli := newMockPahoClient(t, mc, Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 3, BackoffMS: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := cli.Publish(ctx, "t", []byte("1"))
	if !errors.Is(err, coremqtt.ErrPublishTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(mc.published) != 1 {
		t.Fatalf("timeout must not be retried")
	}
}

func TestPublishNotConnected(t *testing.T) {
	mc := &mockClient{}
	cli := newMockPahoClient(t, mc, Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	mc.disconnected = true
	if err := cli.Publish(context.Background(), "t", nil); !errors.Is(err, coremqtt.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
}

func TestSubscriptionsRestoredOnReconnect(t *testing.T) {
	mc := &mockClient{}
	cli := newMockPahoClient(t, mc, Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	var got []string
	if err := cli.Subscribe("N/x/battery/512/Soc", func(topic string, p []byte) { got = append(got, topic+" "+string(p)) }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mc.opts.OnConnectionLost(mc, fmt.Errorf("gone"))
	if testutil.ToFloat64(connectionStatus) != 0 {
		t.Fatalf("status should be 0 after loss")
	}
	mc.opts.OnConnect(mc)
	if len(mc.subscribed) != 2 {
		t.Fatalf("expected resubscribe, got %d subscriptions", len(mc.subscribed))
	}
	if testutil.ToFloat64(connectionStatus) != 1 {
		t.Fatalf("status should be 1 after reconnect")
	}
	mc.deliver("N/x/battery/512/Soc", []byte(`{"value":80}`))
	if len(got) != 1 || got[0] != `N/x/battery/512/Soc {"value":80}` {
		t.Fatalf("handler not called: %v", got)
	}
	if testutil.ToFloat64(messagesReceived) != 1 {
		t.Fatalf("received counter not incremented")
	}
}

func TestConfigValidate(t *testing.T) {
	c := Config{}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	c.QoS = map[string]byte{"command": 3}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected qos error")
	}
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts       *paho.ClientOptions
	subscribed []struct {
		topic string
		qos   byte
	}
	published []struct {
		topic string
		qos   byte
	}
	publishErrs  []error
	handlers     map[string]paho.MessageHandler
	block        bool
	disconnected bool
}

func (m *mockClient) deliver(topic string, payload []byte) {
	if h := m.handlers[topic]; h != nil {
		h(m, mockMessage{topic: topic, p: payload})
	}
}

func (m *mockClient) IsConnected() bool { return !m.disconnected }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic string
		qos   byte
	}{topic, qos})
	if m.block {
		return &blockingToken{}
	}
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	if m.handlers == nil {
		m.handlers = make(map[string]paho.MessageHandler)
	}
	m.handlers[topic] = cb
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type blockingToken struct{}

func (blockingToken) Wait() bool                     { select {} }
func (blockingToken) WaitTimeout(time.Duration) bool { return false }
func (blockingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (blockingToken) Error() error                   { return nil }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
