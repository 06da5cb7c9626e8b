package services_test

import (
	"testing"

	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/services"
	"github.com/bikefleet/relay/internal/state_managers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor() (*services.TelemetryProcessor, *state_managers.DeviceStateManager) {
	store := state_managers.NewDeviceStateManager(zerolog.Nop())
	return services.NewTelemetryProcessor(store, zerolog.Nop()), store
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		alarm float64
		want  models.TripStatus
	}{
		{"alarm wins over speed", 25, 1, models.StatusStolen},
		{"alarm while parked", 0, 1, models.StatusStolen},
		{"moving", 10, 0, models.StatusInUse},
		{"parked", 0, 0, models.StatusIdle},
		{"negative speed", -1, 0, models.StatusIdle},
		{"unknown alarm value", 5, 2, models.StatusInUse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, services.DeriveStatus(tt.speed, tt.alarm))
		})
	}
}

// TestTelemetryProcessor_Process_FlatReport covers the reference report of a riding bike.
func TestTelemetryProcessor_Process_FlatReport(t *testing.T) {
	// Setup
	p, store := newProcessor()

	// Execute
	_, ok := p.Process("BIKE1", map[string]any{
		"latitude":  19.284,
		"longitude": -99.655,
		"speed":     10.0,
	})

	// Assert
	require.True(t, ok)
	state, err := store.Get("BIKE1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInUse, state.State)
	assert.Equal(t, 19.284, state.GPS.Lat)
	assert.Equal(t, -99.655, state.GPS.Lng)
	assert.Equal(t, 10.0, state.GPS.Speed)
	assert.Equal(t, 0.0, state.GPS.Alarm)
	assert.NotZero(t, state.GPS.Time)
	assert.False(t, state.LastUpdate.IsZero())
}

// TestTelemetryProcessor_Process_NestingIsIrrelevant checks that flat and nested reports map identically.
func TestTelemetryProcessor_Process_NestingIsIrrelevant(t *testing.T) {
	fields := map[string]any{
		"latitude":  19.29,
		"longitude": -99.65,
		"speed":     0.0,
		"alarm":     1.0,
		"timestamp": 1700000000000.0,
	}

	p, _ := newProcessor()
	flat, ok := p.Process("BIKE1", fields)
	require.True(t, ok)
	nested, ok := p.Process("BIKE1", map[string]any{"c": 56.0, "param": fields})
	require.True(t, ok)

	assert.Equal(t, flat.State, nested.State)
	assert.Equal(t, flat.GPS, nested.GPS)
	assert.Equal(t, models.StatusStolen, nested.State)
	assert.Equal(t, int64(1700000000000), nested.GPS.Time)
}

// TestTelemetryProcessor_Process_OverwritesWithoutMerge checks that stale fields never survive a newer report.
func TestTelemetryProcessor_Process_OverwritesWithoutMerge(t *testing.T) {
	// Setup
	p, store := newProcessor()
	_, _ = p.Process("BIKE1", map[string]any{"latitude": 1.0, "longitude": 2.0, "speed": 12.0, "alarm": 1.0, "timestamp": 5.0})

	// Execute
	second := map[string]any{"latitude": 3.0, "longitude": 4.0, "timestamp": 9.0}
	_, ok := p.Process("BIKE1", second)
	require.True(t, ok)

	// Assert
	got, err := store.Get("BIKE1")
	require.NoError(t, err)

	alone, _ := newProcessor()
	want, _ := alone.Process("BIKE1", second)

	assert.Equal(t, want.GPS, got.GPS)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, models.StatusIdle, got.State)
}

func TestTelemetryProcessor_Process_MissingCoordinates(t *testing.T) {
	p, store := newProcessor()

	_, ok := p.Process("BIKE1", map[string]any{"latitude": 1.0, "speed": 3.0})
	assert.False(t, ok)

	_, ok = p.Process("BIKE1", map[string]any{"latitude": "19.2", "longitude": -99.6})
	assert.False(t, ok)

	assert.Equal(t, 0, store.Count())
}
