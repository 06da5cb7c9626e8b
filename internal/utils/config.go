package utils

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/pkg/file"
	"github.com/bikefleet/relay/pkg/mqtt"
	"github.com/joeshaw/envdecode"
)

// Config represents the structure of the configuration file. Every field can
// be overridden by the environment variable named in its env tag.
type Config struct {
	MQTT struct {
		Broker            string        `yaml:"broker" env:"MQTT_HOST"`                           // MQTT broker address
		ClientID          string        `yaml:"client_id" env:"MQTT_CLIENT_ID"`                   // MQTT client ID prefix, a UUID is appended
		Username          string        `yaml:"username" env:"MQTT_USER"`                         // Broker username
		Password          string        `yaml:"password" env:"MQTT_PASS"`                         // Broker password
		CACertificate     string        `yaml:"ca_certificate" env:"MQTT_CA_CERT"`                // Path to the CA certificate, enables TLS
		Prefix            string        `yaml:"prefix" env:"MQTT_PREFIX"`                         // First topic segment
		Group             string        `yaml:"group" env:"MQTT_GROUP"`                           // Device group, third topic segment
		QOS               int           `yaml:"qos" env:"MQTT_QOS"`                               // QoS for commands and subscriptions
		KeepAlive         time.Duration `yaml:"keep_alive" env:"MQTT_KEEP_ALIVE"`                 // Keepalive interval
		ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"MQTT_CONNECT_TIMEOUT"`       // Timeout for a single connect attempt
		ReconnectInterval time.Duration `yaml:"reconnect_interval" env:"MQTT_RECONNECT_INTERVAL"` // Delay between reconnect attempts
		ConnectAttempts   uint          `yaml:"connect_attempts" env:"MQTT_CONNECT_ATTEMPTS"`     // Initial connection attempts before exiting
	} `yaml:"mqtt"`

	HTTP struct {
		Port            int           `yaml:"port" env:"PORT"`                              // Listening port of the REST and websocket server
		StaticDir       string        `yaml:"static_dir" env:"STATIC_DIR"`                  // Directory served at /, disabled when empty
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"` // Grace period for in-flight requests
	} `yaml:"http"`

	Relay struct {
		QueueSize int `yaml:"queue_size" env:"RELAY_QUEUE_SIZE"` // Broker messages buffered before dropping
	} `yaml:"relay"`

	Fanout struct {
		ClientQueueSize int           `yaml:"client_queue_size" env:"FANOUT_CLIENT_QUEUE_SIZE"` // Envelopes buffered per websocket client
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"FANOUT_WRITE_TIMEOUT"`         // Deadline for a single websocket write
	} `yaml:"fanout"`

	Simulator struct {
		DeviceID       string        `yaml:"device_id" env:"DEVICE_ID"`                 // Identifier of the simulated bike
		StartLat       float64       `yaml:"start_lat" env:"SIM_START_LAT"`             // Station the bike starts from and resets to
		StartLng       float64       `yaml:"start_lng" env:"SIM_START_LNG"`             //
		TargetLat      float64       `yaml:"target_lat" env:"SIM_TARGET_LAT"`           // Station a trip rides to
		TargetLng      float64       `yaml:"target_lng" env:"SIM_TARGET_LNG"`           //
		TickInterval   time.Duration `yaml:"tick_interval" env:"SIM_TICK"`              // Simulation step and report interval
		ProgressStep   float64       `yaml:"progress_step" env:"SIM_PROGRESS_STEP"`     // Trip fraction covered per tick
		TripSpeed      float64       `yaml:"trip_speed" env:"SIM_TRIP_SPEED"`           // Speed reported while riding
		DriftThreshold float64       `yaml:"drift_threshold" env:"SIM_DRIFT_THRESHOLD"` // Degrees a locked bike may drift before raising the alarm
		JoltLat        float64       `yaml:"jolt_lat" env:"SIM_JOLT_LAT"`               // Displacement applied on SIGUSR1
		JoltLng        float64       `yaml:"jolt_lng" env:"SIM_JOLT_LNG"`               //
	} `yaml:"simulator"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`   // zerolog level name
		Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"` // Human readable console output
	} `yaml:"log"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// environment overrides and fills in defaults. A missing file is not an error.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config

	exists, err := fileClient.IsFileExists(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", filename, err)
	}
	if exists {
		if err := fileClient.ReadYamlFile(filename, &config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if err := envdecode.Decode(&config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment overrides: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "bikefleet"
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = constants.DefaultTopicPrefix
	}
	if c.MQTT.Group == "" {
		c.MQTT.Group = constants.DefaultGroup
	}
	if c.MQTT.QOS == 0 {
		c.MQTT.QOS = 1
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.ReconnectInterval == 0 {
		c.MQTT.ReconnectInterval = 3 * time.Second
	}
	if c.MQTT.ConnectAttempts == 0 {
		c.MQTT.ConnectAttempts = 5
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 5 * time.Second
	}

	if c.Relay.QueueSize == 0 {
		c.Relay.QueueSize = 256
	}
	if c.Fanout.ClientQueueSize == 0 {
		c.Fanout.ClientQueueSize = 64
	}
	if c.Fanout.WriteTimeout == 0 {
		c.Fanout.WriteTimeout = 10 * time.Second
	}

	sim := &c.Simulator
	if sim.DeviceID == "" {
		sim.DeviceID = "SIMBIKE01"
	}
	if sim.StartLat == 0 && sim.StartLng == 0 {
		sim.StartLat, sim.StartLng = 19.284, -99.655
	}
	if sim.TargetLat == 0 && sim.TargetLng == 0 {
		sim.TargetLat, sim.TargetLng = 19.290, -99.650
	}
	if sim.TickInterval == 0 {
		sim.TickInterval = time.Second
	}
	if sim.ProgressStep == 0 {
		sim.ProgressStep = 0.02
	}
	if sim.TripSpeed == 0 {
		sim.TripSpeed = 10
	}
	if sim.DriftThreshold == 0 {
		sim.DriftThreshold = 0.0001
	}
	if sim.JoltLat == 0 && sim.JoltLng == 0 {
		sim.JoltLat, sim.JoltLng = 0.0005, 0.0005
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the relay or simulator cannot run with.
func (c *Config) Validate() error {
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if c.Simulator.ProgressStep <= 0 || c.Simulator.ProgressStep > 1 {
		return fmt.Errorf("simulator.progress_step must be in (0, 1], got %v", c.Simulator.ProgressStep)
	}
	if c.Simulator.DriftThreshold <= 0 {
		return fmt.Errorf("simulator.drift_threshold must be positive, got %v", c.Simulator.DriftThreshold)
	}
	if c.Simulator.TickInterval <= 0 {
		return fmt.Errorf("simulator.tick_interval must be positive, got %v", c.Simulator.TickInterval)
	}
	return nil
}

// BrokerOptions returns the broker link settings with clientID as the client identifier.
func (c *Config) BrokerOptions(clientID string) mqtt.Options {
	return mqtt.Options{
		Broker:            c.MQTT.Broker,
		ClientID:          clientID,
		Username:          c.MQTT.Username,
		Password:          c.MQTT.Password,
		CACertificate:     c.MQTT.CACertificate,
		KeepAlive:         c.MQTT.KeepAlive,
		ConnectTimeout:    c.MQTT.ConnectTimeout,
		ReconnectInterval: c.MQTT.ReconnectInterval,
		ConnectAttempts:   c.MQTT.ConnectAttempts,
	}
}
