package services

import (
	"errors"
	"fmt"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/bikefleet/relay/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrEmptyDeviceID is returned when a command targets no device.
var ErrEmptyDeviceID = errors.New("device id is required")

// Dispatch describes a published command. Token completes when the broker
// acknowledges the publish or the publish fails.
type Dispatch struct {
	TransactionID string
	DeviceID      string
	Topic         string
	Envelope      models.CommandEnvelope
	Token         MQTT.Token
}

// CommandService publishes lock, unlock and reset commands to bikes.
// Commands are fire-and-forget: the device acknowledgement is never awaited.
type CommandService struct {
	// Configuration Fields
	prefix string
	group  string
	qos    int

	// Dependencies
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger
	newTID     func() string
}

// NewCommandService initializes a new CommandService with given parameters.
func NewCommandService(prefix, group string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *CommandService {
	return &CommandService{
		prefix:     prefix,
		group:      group,
		qos:        qos,
		mqttClient: mqttClient,
		logger:     logger,
		newTID:     uuid.NewString,
	}
}

// Unlock starts a trip on deviceID.
func (cs *CommandService) Unlock(deviceID string) (*Dispatch, error) {
	return cs.Send(deviceID, constants.CommandCodeLock, map[string]any{constants.ParamDefend: constants.DefendUnlock})
}

// Lock ends the trip on deviceID.
func (cs *CommandService) Lock(deviceID string) (*Dispatch, error) {
	return cs.Send(deviceID, constants.CommandCodeLock, map[string]any{constants.ParamDefend: constants.DefendLock})
}

// Reset returns deviceID to its station.
func (cs *CommandService) Reset(deviceID string) (*Dispatch, error) {
	return cs.Send(deviceID, constants.CommandCodeReset, nil)
}

// Send publishes a command with a fresh transaction id and returns without
// waiting for the broker. The outcome of the publish is logged when known.
func (cs *CommandService) Send(deviceID string, code int, params map[string]any) (*Dispatch, error) {
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	envelope := models.CommandEnvelope{
		Code:          code,
		TransactionID: cs.newTID(),
		Params:        params,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize command: %w", err)
	}

	topic := utils.BuildTopic(cs.prefix, constants.TopicTypeCommand, cs.group, deviceID)
	token := cs.mqttClient.Publish(topic, byte(cs.qos), false, payload)

	logger := cs.logger.With().
		Str("device_id", deviceID).
		Int("cmd", code).
		Str("tid", envelope.TransactionID).
		Str("topic", topic).
		Logger()

	mqtt.OnComplete(token, func(err error) {
		if err != nil {
			logger.Error().Err(err).Msg("Failed to publish command")
			return
		}
		logger.Info().Msg("Command sent")
	})

	return &Dispatch{
		TransactionID: envelope.TransactionID,
		DeviceID:      deviceID,
		Topic:         topic,
		Envelope:      envelope,
		Token:         token,
	}, nil
}
