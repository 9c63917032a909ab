// Package mqtt wraps the paho client for the gate's message bus link.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Client wraps the MQTT client with application-specific functionality.
type Client struct {
	client       paho.Client
	enabled      bool
	log          logrus.FieldLogger
	qos          byte
	onConnect    func()
	onDisconnect func()
	onMessage    func(topic string, payload []byte)
}

// Config holds MQTT connection settings.
type Config struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	QoS        byte   `yaml:"qos"`
}

// Will is the message the broker publishes if the link drops uncleanly.
type Will struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handlers holds callback functions for MQTT events.
type Handlers struct {
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func(topic string, payload []byte)
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string, will *Will, handlers Handlers, log logrus.FieldLogger) (*Client, error) {
	c := &Client{
		log:          log,
		qos:          cfg.QoS,
		onConnect:    handlers.OnConnect,
		onDisconnect: handlers.OnDisconnect,
		onMessage:    handlers.OnMessage,
	}

	if cfg.Host == "" {
		log.Info("MQTT disabled (no host configured)")
		return c, nil
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", cfg.QoS)
	}
	c.enabled = true

	var broker string
	var tlsConfig *tls.Config

	if cfg.CACert != "" || cfg.ClientCert != "" {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		if cfg.Port == 0 {
			cfg.Port = 1883
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		log.Warn("MQTT using non-TLS connection")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect).
		SetDefaultPublishHandler(c.handleMessage)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	if will != nil {
		opts.SetBinaryWill(will.Topic, will.Payload, cfg.QoS, will.Retained)
	}

	c.client = paho.NewClient(opts)
	return c, nil
}

// RouteLogs sends the paho library's own diagnostics to l.
func RouteLogs(l *logrus.Logger) {
	paho.ERROR = log.New(l.WriterLevel(logrus.ErrorLevel), "[MQTT] ", 0)
	paho.CRITICAL = log.New(l.WriterLevel(logrus.ErrorLevel), "[MQTT CRIT] ", 0)
	paho.WARN = log.New(l.WriterLevel(logrus.WarnLevel), "[MQTT] ", 0)
	if l.IsLevelEnabled(logrus.TraceLevel) {
		paho.DEBUG = log.New(l.WriterLevel(logrus.TraceLevel), "[MQTT] ", 0)
	}
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect connects to the MQTT broker. If disabled, calls onConnect immediately.
func (c *Client) Connect() error {
	if !c.enabled {
		// Without a broker the link is reported as up so the indicator
		// does not sit in the connection lost pattern.
		if c.onConnect != nil {
			c.onConnect()
		}
		return nil
	}

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// Subscribe subscribes to a topic. No-op if disabled.
func (c *Client) Subscribe(topic string) error {
	if !c.enabled {
		return nil
	}
	if token := c.client.Subscribe(topic, c.qos, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes a message to a topic without waiting for delivery.
// No-op if disabled.
func (c *Client) Publish(topic string, payload []byte, retained bool) {
	if !c.enabled {
		return
	}
	token := c.client.Publish(topic, c.qos, retained, payload)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			c.log.WithError(token.Error()).WithField("topic", topic).Warn("MQTT publish failed")
		}
	}()
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// IsConnected reports whether the broker link is up. Always true when
// disabled.
func (c *Client) IsConnected() bool {
	if !c.enabled {
		return true
	}
	return c.client.IsConnectionOpen()
}

func (c *Client) handleConnect(client paho.Client) {
	c.log.Info("MQTT connection established")
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(client paho.Client, err error) {
	c.log.WithError(err).Warn("MQTT connection lost")
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

func (c *Client) handleMessage(client paho.Client, msg paho.Message) {
	if c.onMessage != nil {
		c.onMessage(msg.Topic(), msg.Payload())
	}
}
