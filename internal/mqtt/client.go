// Package mqtt provides the message bus connection used to publish readings
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"floradaemon/internal/report"
)

// Default timeouts
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	disconnectQuiesce     = 250 // ms
)

var (
	// ErrNotConnected is returned when publishing without a live connection
	ErrNotConnected = errors.New("MQTT client is not connected")

	// ErrPublishTimeout is returned when the broker does not acknowledge in time
	ErrPublishTimeout = errors.New("timed out waiting for publish acknowledgment")
)

// Config holds MQTT client configuration
type Config struct {
	Host      string        // broker hostname
	Port      int           // broker port
	ClientID  string        // unique client ID, generated when empty
	Username  string        // optional
	Password  string        // optional
	KeepAlive time.Duration // keepalive interval

	UseTLS      bool
	TLSCACert   string // CA bundle path, system pool when empty
	TLSCertFile string // client certificate, optional
	TLSKeyFile  string // client key, optional

	Will *report.Message // last will, optional

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// BrokerURL returns the paho broker address for the configuration.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Client wraps the paho client. It owns a single broker session.
type Client struct {
	client   mqtt.Client
	config   Config
	tls      *tls.Config
	mu       sync.RWMutex
	logger   zerolog.Logger
	isActive bool
	identity string
}

// New creates a new MQTT client. It does not connect.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT broker hostname is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "floradaemon-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}

	c := &Client{
		config:   cfg,
		logger:   logger,
		identity: cfg.Username,
	}

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		c.tls = tlsConfig
	}

	c.client = mqtt.NewClient(c.options(cfg.Username, cfg.Password))
	return c, nil
}

// options builds paho options for the given credentials.
func (c *Client) options(username, password string) *mqtt.ClientOptions {
	cfg := c.config

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)

	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	if c.tls != nil {
		opts.SetTLSConfig(c.tls)
	}
	if cfg.Will != nil {
		opts.SetBinaryWill(cfg.Will.Topic, cfg.Will.Payload, cfg.Will.QoS, cfg.Will.Retain)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("Connection lost")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Str("broker", cfg.BrokerURL()).Msg("MQTT connection established")
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logger.Info().Msg("Attempting to reconnect...")
	})

	// Auto-reconnect settings
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)

	return opts
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCACert != "" {
		pem, err := os.ReadFile(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read tls_ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls_ca_cert %s contains no certificates", cfg.TLSCACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls_certfile/tls_keyfile: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.isActive {
		return nil // Already connected
	}

	c.logger.Info().Str("broker", c.config.BrokerURL()).Msg("Connecting to MQTT broker ...")

	token := c.client.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timed out", c.config.BrokerURL())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.BrokerURL(), err)
	}

	c.isActive = true
	return nil
}

// Disconnect closes connection to MQTT broker. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	if !c.isActive {
		return
	}

	c.client.Disconnect(disconnectQuiesce)
	c.isActive = false
	c.logger.Info().Msg("Disconnected from broker")
}

// SwitchIdentity reconnects under another username with no password.
// Used by conventions where every device authenticates separately.
func (c *Client) SwitchIdentity(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == username && c.isActive {
		return nil
	}

	c.disconnectLocked()
	c.client = mqtt.NewClient(c.options(username, ""))
	c.identity = username
	return c.connectLocked()
}

// Publish sends msg and waits for the broker acknowledgment or the publish timeout.
func (c *Client) Publish(msg report.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive {
		return ErrNotConnected
	}

	token := c.client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("publish to %s: %w", msg.Topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", msg.Topic, err)
	}

	c.logger.Debug().
		Str("topic", msg.Topic).
		Uint8("qos", msg.QoS).
		Bool("retained", msg.Retain).
		Msg("Published")

	return nil
}

// IsConnected returns true if client is connected to broker
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive && c.client.IsConnected()
}

// GetConfig returns the current MQTT configuration
func (c *Client) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}
