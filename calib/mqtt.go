package calib

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RunHandler is called when a check run is requested over MQTT.
// payload is the raw message body.
type RunHandler func(payload []byte)

// MQTTClient manages the MQTT connection and the run-request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	runHandler  RunHandler
	isConnected bool
	mu          sync.RWMutex
}

// RunTopic is the topic that triggers a check run
func RunTopic(prefix string) string {
	return fmt.Sprintf("%s/run", prefix)
}

// NewMQTTClient creates a client for the configured broker and starts
// connecting in the background. With no broker configured MQTT is disabled
// and nil is returned.
func NewMQTTClient(config MQTTConfig, handler RunHandler) (*MQTTClient, error) {
	if config.Broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}
	if config.PublishPrefix == "" {
		return nil, fmt.Errorf("MQTT enabled but no publish prefix configured")
	}

	client := &MQTTClient{
		config:     config,
		runHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)

	clientID := config.ClientID
	if clientID == "" {
		clientID = "calibcheck"
	}
	opts.SetClientID(clientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the run topic whenever the connection is (re)established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := RunTopic(c.config.PublishPrefix)
	log.Printf("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createRunHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", topic)
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

func (c *MQTTClient) createRunHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		log.Printf("Received run request (topic: %s, size: %d bytes)", msg.Topic(), len(msg.Payload()))
		if c.runHandler != nil {
			c.runHandler(msg.Payload())
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client
// This is used for testing with mock clients
func newMQTTClientWithMock(client mqtt.Client, config MQTTConfig, handler RunHandler) *MQTTClient {
	return &MQTTClient{
		client:     client,
		config:     config,
		runHandler: handler,
	}
}
