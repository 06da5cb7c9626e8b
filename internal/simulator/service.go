package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/bikefleet/relay/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrNotRunning is returned when an event is sent to a stopped simulator.
var ErrNotRunning = errors.New("simulator service is not running")

const eventQueueSize = 16

// Service runs one simulated bike. A single goroutine owns the Machine;
// ticks, commands and displacements are applied on it in arrival order.
type Service struct {
	// Configuration Fields
	deviceID     string
	prefix       string
	group        string
	qos          int
	tickInterval time.Duration

	// Dependencies
	machine    *Machine
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	events  chan func(*Machine)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewService creates a simulator for deviceID.
func NewService(deviceID, prefix, group string, qos int, tickInterval time.Duration,
	machine *Machine, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *Service {

	return &Service{
		deviceID:     deviceID,
		prefix:       prefix,
		group:        group,
		qos:          qos,
		tickInterval: tickInterval,
		machine:      machine,
		mqttClient:   mqttClient,
		logger:       logger.With().Str("device_id", deviceID).Logger(),
		events:       make(chan func(*Machine), eventQueueSize),
	}
}

// CommandTopic is the topic the simulator listens on.
func (s *Service) CommandTopic() string {
	return utils.BuildTopic(s.prefix, constants.TopicTypeCommand, s.group, s.deviceID)
}

// Start subscribes to the command topic and starts the simulation loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("simulator service is already running")
	}

	topic := s.CommandTopic()
	token := s.mqttClient.Subscribe(topic, byte(s.qos), s.HandleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	s.logger.Info().Str("topic", topic).Msg("Subscribed to command topic")

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.logger.Info().Dur("tick", s.tickInterval).Msg("Simulator started")
	return nil
}

// Stop unsubscribes and stops the simulation loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	token := s.mqttClient.Unsubscribe(s.CommandTopic())
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to unsubscribe from command topic")
		return err
	}

	s.logger.Info().Msg("Simulator stopped")
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case apply := <-s.events:
			s.transition(apply)
		case now := <-ticker.C:
			s.transition(func(m *Machine) {
				if report, ok := m.Tick(now); ok {
					s.publishReport(report)
				}
			})
		}
	}
}

// transition applies one event and logs status changes.
func (s *Service) transition(apply func(*Machine)) {
	before := s.machine.status
	apply(s.machine)
	if after := s.machine.status; after != before {
		s.logger.Info().
			Str("from", string(before)).
			Str("to", string(after)).
			Float64("lat", s.machine.position.Lat).
			Float64("lng", s.machine.position.Lng).
			Msg("Trip status changed")
	}
}

// submit hands an event to the loop.
func (s *Service) submit(event func(*Machine)) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	ctx := s.ctx
	s.mu.Unlock()

	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ErrNotRunning
	}
}

// HandleCommand is the MQTT handler of the command topic. Recognised
// commands are applied and acknowledged; anything else is logged and dropped.
func (s *Service) HandleCommand(_ MQTT.Client, msg MQTT.Message) {
	var cmd models.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		s.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Invalid command payload, dropping")
		return
	}

	err := s.submit(func(m *Machine) {
		if !m.Apply(cmd) {
			s.logger.Warn().Int("cmd", cmd.Code).Str("tid", cmd.TransactionID).Msg("Unknown command, not acknowledged")
			return
		}
		s.logger.Info().Int("cmd", cmd.Code).Str("tid", cmd.TransactionID).Msg("Command applied")
		s.publishAck(cmd.TransactionID)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("tid", cmd.TransactionID).Msg("Command received while stopped, ignoring")
	}
}

// Displace moves the bike without a command. Theft detection notices it on the next tick.
func (s *Service) Displace(dLat, dLng float64) error {
	return s.submit(func(m *Machine) {
		m.Displace(dLat, dLng)
		s.logger.Warn().Float64("d_lat", dLat).Float64("d_lng", dLng).Msg("Bike displaced")
	})
}

// Snapshot returns the machine state as seen by the loop.
func (s *Service) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.submit(func(m *Machine) { reply <- m.Snapshot() }); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ErrNotRunning
	}
}

func (s *Service) publishAck(tid string) {
	topic := utils.BuildTopic(s.prefix, constants.TopicTypeResponse, s.group, s.deviceID)
	s.publish(topic, models.CommandAck{TransactionID: tid, Code: constants.AckCodeSuccess})
}

func (s *Service) publishReport(report models.Report) {
	topic := utils.BuildTopic(s.prefix, constants.TopicTypeReport, s.group, s.deviceID)
	s.publish(topic, report)
}

func (s *Service) publish(topic string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to serialize message")
		return
	}

	token := s.mqttClient.Publish(topic, byte(s.qos), false, payload)
	mqtt.OnComplete(token, func(err error) {
		if err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish message")
			return
		}
		s.logger.Debug().Str("topic", topic).Msg("Message published")
	})
}
