package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bikefleet/relay/internal/api"
	"github.com/bikefleet/relay/internal/service_registry"
	"github.com/bikefleet/relay/internal/services"
	"github.com/bikefleet/relay/internal/state_managers"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/bikefleet/relay/pkg/file"
	"github.com/bikefleet/relay/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	fileClient := file.NewFileService()

	// Load configuration from file and environment
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := utils.NewLogger(config.Log.Level, config.Log.Pretty, "relay")

	// Generate a unique MQTT Client ID by appending a UUID
	clientID := config.MQTT.ClientID + "-relay-" + uuid.New().String()
	log.Info().Msgf("Using MQTT Client ID: %s", clientID)

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient, log.With().Str("service", "mqtt").Logger())
	if err := mqttClient.Initialize(config.BrokerOptions(clientID)); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	store := state_managers.NewDeviceStateManager(log)
	processor := services.NewTelemetryProcessor(store, log.With().Str("service", "telemetry").Logger())
	hub := services.NewHub(config.Fanout.ClientQueueSize, config.Fanout.WriteTimeout, log.With().Str("service", "fanout").Logger())
	commands := services.NewCommandService(config.MQTT.Prefix, config.MQTT.Group, config.MQTT.QOS, mqttClient,
		log.With().Str("service", "commands").Logger())

	relay := services.NewRelayService(config.MQTT.Prefix, config.MQTT.Group, config.MQTT.QOS, config.Relay.QueueSize,
		mqttClient, processor, hub, log.With().Str("service", "relay").Logger())

	handler := api.NewHandler(commands, store, hub, mqttClient, log.With().Str("service", "api").Logger())
	server := api.NewServer(fmt.Sprintf(":%d", config.HTTP.Port), config.HTTP.ShutdownTimeout,
		api.NewRouter(handler, config.HTTP.StaticDir, log), log.With().Str("service", "http").Logger())

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(log)
	serviceRegistry.RegisterService("relay", relay)
	serviceRegistry.RegisterService("http", server)

	if err := serviceRegistry.StartServices(); err != nil {
		mqttClient.Disconnect(250)
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	hub.Close()
	mqttClient.Disconnect(250)
}
