//go:build !windows

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bikefleet/relay/internal/service_registry"
	"github.com/bikefleet/relay/internal/simulator"
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

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := utils.NewLogger(config.Log.Level, config.Log.Pretty, "simulator")
	sim := config.Simulator

	clientID := config.MQTT.ClientID + "-sim-" + uuid.New().String()
	log.Info().Msgf("Using MQTT Client ID: %s", clientID)

	mqttClient := mqtt.NewMqttService(fileClient, log.With().Str("service", "mqtt").Logger())
	if err := mqttClient.Initialize(config.BrokerOptions(clientID)); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	machine := simulator.NewMachine(simulator.Settings{
		Start:          simulator.Position{Lat: sim.StartLat, Lng: sim.StartLng},
		Target:         simulator.Position{Lat: sim.TargetLat, Lng: sim.TargetLng},
		ProgressStep:   sim.ProgressStep,
		TripSpeed:      sim.TripSpeed,
		DriftThreshold: sim.DriftThreshold,
	})
	bike := simulator.NewService(sim.DeviceID, config.MQTT.Prefix, config.MQTT.Group, config.MQTT.QOS,
		sim.TickInterval, machine, mqttClient, log.With().Str("service", "simulator").Logger())

	serviceRegistry := service_registry.NewServiceRegistry(log)
	serviceRegistry.RegisterService("simulator", bike)

	if err := serviceRegistry.StartServices(); err != nil {
		mqttClient.Disconnect(250)
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Str("device_id", sim.DeviceID).Msg("Simulated bike parked, send SIGUSR1 to move it without unlocking")

	// SIGUSR1 jolts the bike; SIGINT and SIGTERM stop the process
	joltCh := make(chan os.Signal, 1)
	signal.Notify(joltCh, syscall.SIGUSR1)
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-joltCh:
			if err := bike.Displace(sim.JoltLat, sim.JoltLng); err != nil {
				log.Warn().Err(err).Msg("Failed to displace bike")
			}
		case <-stopCh:
			log.Info().Msg("Shutting down gracefully...")
			if err := serviceRegistry.StopServices(); err != nil {
				log.Error().Err(err).Msg("Failed to stop services cleanly")
			}
			mqttClient.Disconnect(250)
			return
		}
	}
}
