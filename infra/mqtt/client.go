package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremqtt "github.com/kilianp07/hems/core/mqtt"
	"github.com/kilianp07/hems/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker           string          `json:"broker"`
	ClientID         string          `json:"client_id"`
	Username         string          `json:"username"`
	Password         string          `json:"password"`
	UseTLS           bool            `json:"use_tls"`
	ClientCert       string          `json:"client_cert"`
	ClientKey        string          `json:"client_key"`
	CABundle         string          `json:"ca_bundle"`
	AuthMethod       string          `json:"auth_method"`
	QoS              map[string]byte `json:"qos"`
	LWTTopic         string          `json:"lwt_topic"`
	LWTPayload       string          `json:"lwt_payload"`
	LWTQoS           byte            `json:"lwt_qos"`
	LWTRetain        bool            `json:"lwt_retain"`
	MaxRetries       int             `json:"max_retries"`
	BackoffMS        int             `json:"backoff_ms"`
	ConnectTimeoutMS int             `json:"connect_timeout_ms"`
	TLSConfig        *tls.Config     `json:"-"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 10000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("mqtt: max_retries must not be negative")
	}
	for k, q := range c.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt: qos %q must be 0, 1 or 2", k)
		}
	}
	return nil
}

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 0
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient implements core/mqtt.Client using Eclipse Paho.
type PahoClient struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	mu   sync.Mutex
	subs map[string]coremqtt.Handler
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker. Subscriptions registered
// through Subscribe are restored after every reconnect.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{cfg: cfg, logger: log, subs: make(map[string]coremqtt.Handler)}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		connectionStatus.Set(1)
		pc.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
		connectionStatus.Set(0)
		errorsTotal.WithLabelValues("connection_lost").Inc()
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pc.cli = c
	token := c.Connect()
	if !token.WaitTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		errorsTotal.WithLabelValues("connect").Inc()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	id := cfg.ClientID
	if id == "" {
		id = "hems-" + uuid.NewString()
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(id)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// IsConnected reports whether the broker connection is up.
func (p *PahoClient) IsConnected() bool {
	return p.cli != nil && p.cli.IsConnected()
}

// Publish sends payload to topic, retrying with exponential backoff until
// MaxRetries is exhausted or ctx expires. Failures are returned, not
// reported; the caller owns error monitoring.
func (p *PahoClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.IsConnected() {
		errorsTotal.WithLabelValues("publish").Inc()
		return coremqtt.ErrNotConnected
	}
	backoff := time.Duration(p.cfg.BackoffMS) * time.Millisecond
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err = p.publishOnce(ctx, topic, payload); err == nil {
			messagesSent.Inc()
			p.logger.Debugf("published %s to %s", payload, topic)
			return nil
		}
		if errors.Is(err, coremqtt.ErrPublishTimeout) {
			break
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			err = fmt.Errorf("%w: %v", coremqtt.ErrPublishTimeout, ctx.Err())
			attempt = p.cfg.MaxRetries
		case <-time.After(backoff * time.Duration(1<<attempt)):
		}
	}
	errorsTotal.WithLabelValues("publish").Inc()
	return err
}

func (p *PahoClient) publishOnce(ctx context.Context, topic string, payload []byte) error {
	token := p.cli.Publish(topic, p.cfg.qos("command"), false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", coremqtt.ErrPublishTimeout, ctx.Err())
	}
}

// Subscribe registers h for topic. The subscription is sent immediately
// when connected and again after each reconnect.
func (p *PahoClient) Subscribe(topic string, h coremqtt.Handler) error {
	p.mu.Lock()
	p.subs[topic] = h
	p.mu.Unlock()
	if !p.IsConnected() {
		return nil
	}
	return p.subscribe(p.cli, topic, h)
}

func (p *PahoClient) subscribe(c pahoClient, topic string, h coremqtt.Handler) error {
	cb := func(_ paho.Client, msg paho.Message) {
		messagesReceived.Inc()
		h(msg.Topic(), msg.Payload())
	}
	token := c.Subscribe(topic, p.cfg.qos("telemetry"), cb)
	token.Wait()
	if err := token.Error(); err != nil {
		errorsTotal.WithLabelValues("subscribe").Inc()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (p *PahoClient) resubscribe(c pahoClient) {
	p.mu.Lock()
	subs := make(map[string]coremqtt.Handler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	p.mu.Unlock()
	for t, h := range subs {
		if err := p.subscribe(c, t, h); err != nil {
			p.logger.Errorf("resubscribe: %v", err)
		}
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	connectionStatus.Set(0)
}
