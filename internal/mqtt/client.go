package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/geoshout/geoshout-backend/internal/config"
	"github.com/geoshout/geoshout-backend/internal/metrics"
	"github.com/geoshout/geoshout-backend/pkg/pool"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

// MessageHandler функция обработки валидной MQTT публикации
type MessageHandler func(ctx context.Context, post *PostPayload) error

// Client MQTT клиент для приема публикаций сообщений с устройств,
// которые не держат HTTP соединение. Подписывается на {prefix}/post.
type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    *utils.Logger
	parser    *Parser
	handler   MessageHandler
	workers   *pool.WorkerPool
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	mu        sync.RWMutex
}

// NewClient создает новый MQTT клиент
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger, handler MessageHandler) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:  cfg,
		logger:  logger,
		parser:  NewParser(logger),
		handler: handler,
		workers: pool.NewWorkerPool(cfg.WorkerPool, cfg.WorkerPool*4),
		ctx:     ctx,
		cancel:  cancel,
	}

	topic := cfg.TopicPrefix + "/post"

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	// Callback при подключении, подписка восстанавливается после reconnect
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()

		c.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		if token := client.Subscribe(topic, 1, c.messageHandler()); token.Wait() && token.Error() != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": topic,
				"error": token.Error(),
			}).Error("Failed to subscribe to topic")
		} else {
			c.logger.WithField("topic", topic).Info("Subscribed to MQTT topic")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	c.client = mqtt.NewClient(opts)

	return c, nil
}

// Connect подключается к MQTT брокеру и запускает воркеры
func (c *Client) Connect() error {
	c.logger.WithField("broker", c.config.URL).Info("Connecting to MQTT broker")

	c.workers.Start(c.ctx)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	// Ждем подтверждения подключения
	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return errors.New("connection timeout")
		case <-ticker.C:
			if c.IsConnected() {
				return nil
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// Disconnect отключается от брокера и дожидается обработки принятых сообщений
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")

	if c.client.IsConnected() {
		c.client.Disconnect(1000)
	}

	c.workers.Stop()
	c.cancel()
	c.logger.Info("MQTT client disconnected")
}

// IsConnected проверяет статус подключения
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// messageHandler создает обработчик входящих MQTT сообщений
func (c *Client) messageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		metrics.MQTTMessagesReceived.Inc()
		payload := msg.Payload()

		c.logger.WithFields(map[string]interface{}{
			"topic":        msg.Topic(),
			"payload_size": len(payload),
		}).Debug("Received MQTT message")

		post, err := c.parser.Parse(payload)
		if err != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": msg.Topic(),
				"error": err,
			}).Warn("Rejected MQTT payload")
			metrics.MQTTRejected.WithLabelValues("invalid_payload").Inc()
			return
		}

		err = c.workers.Submit(func(ctx context.Context) {
			if err := c.handler(ctx, post); err != nil {
				c.logger.WithField("error", err).Error("Failed to process MQTT message")
				metrics.MQTTRejected.WithLabelValues("handler_error").Inc()
			}
		})
		if err != nil {
			c.logger.WithField("error", err).Warn("MQTT worker queue full, dropping message")
			metrics.MQTTRejected.WithLabelValues("queue_full").Inc()
		}
	}
}
