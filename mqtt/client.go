package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/eddielth/bambu-status/config"
	"github.com/eddielth/bambu-status/logger"
)

// Client is the printer's local MQTT connection
type Client struct {
	client  paho.Client
	config  config.PrinterConfig
	topic   string
	handler MessageHandler
}

// MessageHandler is the callback function type for handling MQTT messages
type MessageHandler func(topic string, payload []byte)

// Manager owns the client and the pipeline it feeds
type Manager struct {
	client   *Client
	pipeline *Pipeline
}

// NewManager creates a listener for the configured printer
func NewManager(cfg config.PrinterConfig, pipeline *Pipeline) (*Manager, error) {
	client, err := newClient(cfg, pipeline.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT client: %w", err)
	}

	return &Manager{
		client:   client,
		pipeline: pipeline,
	}, nil
}

// Start connects; the report topic is subscribed on every (re)connect
func (m *Manager) Start() error {
	if err := m.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to printer MQTT broker: %w", err)
	}
	return nil
}

// Stop disconnects from the printer
func (m *Manager) Stop() {
	m.client.Disconnect()
}

// ReportTopic is the topic the printer publishes its status on
func ReportTopic(serial string) string {
	return "device/" + serial + "/report"
}

// SerialFromTopic extracts the printer serial from a device/{serial}/... topic
func SerialFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "device" && parts[1] != "" {
		return parts[1]
	}
	return ""
}

// BrokerURL returns the TLS broker address of the printer
func BrokerURL(cfg config.PrinterConfig) string {
	return fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)
}

func newClient(cfg config.PrinterConfig, handler MessageHandler) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("printer host cannot be empty")
	}
	if cfg.Serial == "" {
		return nil, fmt.Errorf("printer serial cannot be empty")
	}

	c := &Client{
		config:  cfg,
		topic:   ReportTopic(cfg.Serial),
		handler: handler,
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("bambu-status-%d", time.Now().Unix())
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.AccessCode)

	// the printer presents a self-signed certificate
	opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify})

	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("connected to printer %s", cfg.Serial)
		if err := c.Subscribe(c.topic); err != nil {
			logger.Error("failed to subscribe to %s: %v", c.topic, err)
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info("trying to reconnect to printer...")
	})

	c.client = paho.NewClient(opts)
	return c, nil
}

// Connect connects to the printer's broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to %s timed out", BrokerURL(c.config))
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully connected to MQTT broker: %s", BrokerURL(c.config))
	return nil
}

// Subscribe subscribes to topic and routes messages to the handler
func (c *Client) Subscribe(topic string) error {
	token := c.client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("successfully subscribed to topic: %s", topic)
	return nil
}

// Disconnect disconnects from the broker
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}
