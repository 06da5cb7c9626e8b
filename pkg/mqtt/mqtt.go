package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bikefleet/relay/pkg/file"
	"github.com/codeGROOVE-dev/retry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is reported by publish tokens issued while the broker connection is down.
var ErrNotConnected = errors.New("mqtt: not connected to broker")

// MQTTClient defines the interface for an MQTT client.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Options holds the connection settings for the broker link.
type Options struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	CACertificate     string        // optional path to a PEM CA certificate, enables TLS
	KeepAlive         time.Duration // keepalive ping interval
	ConnectTimeout    time.Duration // timeout for a single connect attempt
	ReconnectInterval time.Duration // upper bound between reconnect attempts after a connection loss
	ConnectAttempts   uint          // attempts for the initial connection before giving up
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// MqttService holds one broker connection and replays subscriptions on every (re)connect.
type MqttService struct {
	client     MQTTClient
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]subscription
}

// NewMqttService creates a new MqttService instance.
func NewMqttService(fileClient file.FileOperations, logger zerolog.Logger) *MqttService {
	return &MqttService{
		fileClient:    fileClient,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
}

// WithClient replaces the underlying client, used to run the service against a mock.
func (s *MqttService) WithClient(client MQTTClient) *MqttService {
	s.client = client
	return s
}

// Initialize sets up the MQTT client and connects, retrying the first connection with backoff.
func (s *MqttService) Initialize(opts Options) error {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	if opts.CACertificate != "" {
		tlsConfig, err := s.tlsConfig(opts.CACertificate)
		if err != nil {
			return err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)
	clientOpts.SetKeepAlive(opts.KeepAlive)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetMaxReconnectInterval(opts.ReconnectInterval)
	clientOpts.SetOnConnectHandler(s.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	clientOpts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.logger.Info().Str("broker", opts.Broker).Msg("Reconnecting to MQTT broker")
	})

	s.client = mqtt.NewClient(clientOpts)

	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(func() error {
		token := s.Connect()
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	},
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(opts.ReconnectInterval),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Uint("attempt", n+1).Str("broker", opts.Broker).Msg("MQTT connect failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", opts.Broker, err)
	}

	return nil
}

func (s *MqttService) tlsConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := s.fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}

	return &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12}, nil
}

// onConnect replays every registered subscription; clean sessions drop them on reconnect.
func (s *MqttService) onConnect(_ mqtt.Client) {
	s.logger.Info().Msg("Connected to MQTT broker")

	s.mu.RLock()
	subs := make(map[string]subscription, len(s.subscriptions))
	for topic, sub := range s.subscriptions {
		subs[topic] = sub
	}
	s.mu.RUnlock()

	for topic, sub := range subs {
		token := s.client.Subscribe(topic, sub.qos, sub.handler)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to resubscribe to MQTT topic")
			continue
		}
		s.logger.Info().Str("topic", topic).Msg("Subscribed to MQTT topic")
	}
}

// Connect connects to the MQTT broker.
func (s *MqttService) Connect() mqtt.Token {
	return s.client.Connect()
}

// IsConnectionOpen reports whether the broker connection is currently usable.
func (s *MqttService) IsConnectionOpen() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// Publish sends a message to the specified topic. While disconnected the
// returned token is already complete with ErrNotConnected.
func (s *MqttService) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if !s.IsConnectionOpen() {
		return NewCompletedToken(ErrNotConnected)
	}
	return s.client.Publish(topic, qos, retained, payload)
}

// Subscribe registers the handler for topic and subscribes immediately when connected.
// The subscription is replayed after every reconnect.
func (s *MqttService) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	s.mu.Lock()
	s.subscriptions[topic] = subscription{qos: qos, handler: callback}
	s.mu.Unlock()

	if !s.IsConnectionOpen() {
		return NewCompletedToken(nil)
	}
	return s.client.Subscribe(topic, qos, callback)
}

// Unsubscribe unsubscribes from the specified topics.
func (s *MqttService) Unsubscribe(topics ...string) mqtt.Token {
	s.mu.Lock()
	for _, topic := range topics {
		delete(s.subscriptions, topic)
	}
	s.mu.Unlock()

	if !s.IsConnectionOpen() {
		return NewCompletedToken(nil)
	}
	return s.client.Unsubscribe(topics...)
}

// Disconnect gracefully disconnects the MQTT client.
func (s *MqttService) Disconnect(quiesce uint) {
	if s.client != nil {
		s.client.Disconnect(quiesce)
	}
}
