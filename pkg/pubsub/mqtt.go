package pubsub

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrConnectTimeout = errors.New("mqtt connection timeout")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// MessageHandler получает входящие сообщения подписки
type MessageHandler = func(topic string, payload []byte)

// Config - параметры подключения к брокеру
type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Client - MQTT клиент с повторной подпиской после переподключения
type Client struct {
	cfg    Config
	client mqtt.Client

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	stats    Stats
}

// Stats содержит счётчики клиента
type Stats struct {
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Errors    uint64 `json:"errors"`
	Connected bool   `json:"connected"`
}

func NewClient(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "holter-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}

	c := &Client{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mc mqtt.Client) {
		c.mu.Lock()
		c.stats.Connected = true
		c.mu.Unlock()
		log.Printf("[INFO] MQTT connected to %s as %s", cfg.Broker, cfg.ClientID)
		c.resubscribe()
	}
	opts.OnConnectionLost = func(mc mqtt.Client, err error) {
		c.mu.Lock()
		c.stats.Connected = false
		c.mu.Unlock()
		log.Printf("[WARN] MQTT connection lost, waiting for automatic reconnection: %v", err)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect подключается к брокеру с ограниченным ожиданием
func (c *Client) Connect() error {
	log.Printf("[INFO] Connecting to MQTT broker %s", c.cfg.Broker)

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.incErrors()
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		c.incErrors()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		c.incErrors()
		return fmt.Errorf("publish failed: %w", err)
	}

	c.mu.Lock()
	c.stats.Published++
	c.mu.Unlock()
	return nil
}

// Subscribe регистрирует обработчик; после переподключения подписка восстанавливается
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// подпишемся в OnConnect
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.Lock()
		c.stats.Received++
		c.mu.Unlock()
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("subscribe to %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	log.Printf("[INFO] Subscribed to %s", topic)
	return nil
}

func (c *Client) resubscribe() {
	c.mu.RLock()
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for topic, h := range c.handlers {
		handlers[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range handlers {
		if err := c.subscribe(topic, h); err != nil {
			log.Printf("[ERROR] %v", err)
		}
	}
}

// Service проверяет соединение. Доставку сообщений paho ведет в своих горутинах.
func (c *Client) Service() error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	log.Printf("[INFO] MQTT disconnected")
}

func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Client) incErrors() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}
