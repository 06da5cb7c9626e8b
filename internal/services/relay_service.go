package services

import (
	"errors"
	"sync"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/bikefleet/relay/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ReportProcessor applies a parsed report to the device state table.
type ReportProcessor interface {
	Process(deviceID string, payload map[string]any) (models.DeviceState, bool)
}

// Broadcaster delivers a parsed broker message to real-time clients.
type Broadcaster interface {
	Broadcast(topic string, payload any) int
}

// RelayService subscribes to the report and response topics of a group and
// hands every message to the telemetry processor and the websocket fanout.
// Messages are processed one at a time, in arrival order, on a single worker.
type RelayService struct {
	// Configuration Fields
	prefix    string
	group     string
	qos       int
	queueSize int

	// Dependencies
	mqttClient mqtt.MQTTClient
	processor  ReportProcessor
	fanout     Broadcaster
	logger     zerolog.Logger

	// Internal state management
	mu      sync.RWMutex
	pool    *utils.WorkerPool
	running bool
}

// NewRelayService initializes a new RelayService.
func NewRelayService(prefix, group string, qos, queueSize int, mqttClient mqtt.MQTTClient,
	processor ReportProcessor, fanout Broadcaster, logger zerolog.Logger) *RelayService {

	return &RelayService{
		prefix:     prefix,
		group:      group,
		qos:        qos,
		queueSize:  queueSize,
		mqttClient: mqttClient,
		processor:  processor,
		fanout:     fanout,
		logger:     logger,
	}
}

// Topics returns the subscription filters of the relay.
func (rs *RelayService) Topics() []string {
	return []string{
		utils.BuildTopic(rs.prefix, constants.TopicTypeResponse, rs.group, constants.TopicWildcard),
		utils.BuildTopic(rs.prefix, constants.TopicTypeReport, rs.group, constants.TopicWildcard),
	}
}

// Start subscribes to the response and report topics.
func (rs *RelayService) Start() error {
	rs.mu.Lock()
	if rs.running {
		rs.mu.Unlock()
		return errors.New("relay service is already running")
	}
	rs.pool = utils.NewWorkerPool(1, rs.queueSize)
	rs.running = true
	rs.mu.Unlock()

	for _, topic := range rs.Topics() {
		token := rs.mqttClient.Subscribe(topic, byte(rs.qos), rs.HandleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			rs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
			rs.shutdownPool()
			return err
		}
		rs.logger.Info().Str("topic", topic).Msg("Subscribed to MQTT topic")
	}

	return nil
}

// Stop unsubscribes and waits for queued messages to be processed.
func (rs *RelayService) Stop() error {
	rs.mu.RLock()
	running := rs.running
	rs.mu.RUnlock()
	if !running {
		return errors.New("relay service is not running")
	}

	token := rs.mqttClient.Unsubscribe(rs.Topics()...)
	token.Wait()
	unsubscribeErr := token.Error()
	if unsubscribeErr != nil {
		rs.logger.Error().Err(unsubscribeErr).Msg("Failed to unsubscribe from MQTT topics")
	}

	rs.shutdownPool()
	rs.logger.Info().Msg("RelayService stopped")
	return unsubscribeErr
}

func (rs *RelayService) shutdownPool() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.pool != nil {
		rs.pool.Shutdown()
		rs.pool = nil
	}
	rs.running = false
}

// HandleMessage queues an inbound broker message without blocking the MQTT client.
func (rs *RelayService) HandleMessage(_ MQTT.Client, msg MQTT.Message) {
	topic := msg.Topic()
	payload := append([]byte(nil), msg.Payload()...)

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if !rs.running {
		rs.logger.Warn().Str("topic", topic).Msg("Received message but relay is stopped, ignoring")
		return
	}

	if !rs.pool.TrySubmit(func() { rs.ProcessMessage(topic, payload) }) {
		rs.logger.Warn().Str("topic", topic).Msg("Relay queue full, dropping message")
	}
}

// ProcessMessage parses one broker message, updates device state for reports
// and rebroadcasts it to the websocket clients. Malformed JSON is dropped.
func (rs *RelayService) ProcessMessage(topic string, payload []byte) {
	var parsed any
	if err := json.Unmarshal(payload, &parsed); err != nil {
		rs.logger.Warn().Err(err).Str("topic", topic).Msg("Invalid JSON from MQTT, dropping message")
		return
	}

	info, ok := utils.ParseTopic(topic)
	if !ok {
		rs.logger.Debug().Str("topic", topic).Msg("Topic without device segment, ignoring")
		return
	}

	object, isObject := parsed.(map[string]any)

	switch info.Type {
	case constants.TopicTypeReport:
		if isObject {
			rs.processor.Process(info.DeviceID, object)
		}
	case constants.TopicTypeResponse:
		if isObject {
			rs.logAck(info.DeviceID, object)
		}
	}

	rs.fanout.Broadcast(topic, parsed)
}

// logAck records a command acknowledgement. Acknowledgements are not
// correlated with issued commands.
func (rs *RelayService) logAck(deviceID string, payload map[string]any) {
	tid, _ := payload["tid"].(string)
	code, _ := utils.NumberField(payload, "code")
	rs.logger.Info().
		Str("device_id", deviceID).
		Str("tid", tid).
		Int("code", int(code)).
		Msg("Command acknowledged")
}
