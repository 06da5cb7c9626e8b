package simulator_test

import (
	"testing"
	"time"

	"github.com/bikefleet/relay/internal/mocks"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/simulator"
	"github.com/bikefleet/relay/pkg/mqtt"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload []byte
}

var settings = simulator.Settings{
	Start:          simulator.Position{Lat: 19.284, Lng: -99.655},
	Target:         simulator.Position{Lat: 19.290, Lng: -99.650},
	ProgressStep:   0.02,
	TripSpeed:      10,
	DriftThreshold: 0.0001,
}

// startSimulator starts a simulator for SIM1 against a mock client and
// returns a channel receiving every publish.
func startSimulator(t *testing.T, tick time.Duration) (*simulator.Service, chan published) {
	t.Helper()

	out := make(chan published, 256)
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "ecu/cd/ecu/SIM1", byte(1), mock.Anything).Return(mqtt.NewCompletedToken(nil))
	client.On("Unsubscribe", []string{"ecu/cd/ecu/SIM1"}).Return(mqtt.NewCompletedToken(nil))
	client.On("Publish", mock.Anything, byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) {
			out <- published{topic: args.String(0), payload: args.Get(3).([]byte)}
		}).
		Return(mqtt.NewCompletedToken(nil))

	s := simulator.NewService("SIM1", "ecu", "ecu", 1, tick, simulator.NewMachine(settings), client, zerolog.Nop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s, out
}

func command(t *testing.T, cmd models.CommandEnvelope) *mocks.MockMessage {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	return mocks.NewMockMessage("ecu/cd/ecu/SIM1", payload)
}

func expectPublish(t *testing.T, out chan published) published {
	t.Helper()
	select {
	case p := <-out:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("expected a publish")
		return published{}
	}
}

// TestService_HandleCommand_UnlockIsAcknowledged tests that a command is applied and acknowledged with its tid.
func TestService_HandleCommand_UnlockIsAcknowledged(t *testing.T) {
	// Setup
	s, out := startSimulator(t, time.Hour)

	// Execute
	s.HandleCommand(nil, command(t, models.CommandEnvelope{Code: 4, TransactionID: "t-1", Params: map[string]any{"defend": 0}}))

	// Assert
	ack := expectPublish(t, out)
	assert.Equal(t, "ecu/rsp/ecu/SIM1", ack.topic)
	assert.JSONEq(t, `{"tid":"t-1","code":0}`, string(ack.payload))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, models.StatusInUse, snap.Status)
	assert.True(t, snap.Moving)
}

func TestService_HandleCommand_UnknownNotAcknowledged(t *testing.T) {
	s, out := startSimulator(t, time.Hour)

	s.HandleCommand(nil, command(t, models.CommandEnvelope{Code: 12, TransactionID: "t-2"}))
	s.HandleCommand(nil, mocks.NewMockMessage("ecu/cd/ecu/SIM1", []byte("not json")))

	_, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, out)
}

// TestService_TicksPublishReports tests that a riding bike reports on the report topic every tick.
func TestService_TicksPublishReports(t *testing.T) {
	s, out := startSimulator(t, 10*time.Millisecond)

	s.HandleCommand(nil, command(t, models.CommandEnvelope{Code: 4, TransactionID: "t-3", Params: map[string]any{"defend": 0}}))
	assert.Equal(t, "ecu/rsp/ecu/SIM1", expectPublish(t, out).topic)

	p := expectPublish(t, out)
	assert.Equal(t, "ecu/rpt/ecu/SIM1", p.topic)

	var report models.Report
	require.NoError(t, json.Unmarshal(p.payload, &report))
	assert.Equal(t, 56, report.Code)
	assert.Equal(t, 10.0, report.Params.Speed)
	assert.Equal(t, 0, report.Params.Alarm)
}

func TestService_DisplaceRaisesTheft(t *testing.T) {
	s, out := startSimulator(t, 10*time.Millisecond)

	require.NoError(t, s.Displace(0.001, 0.001))

	p := expectPublish(t, out)
	assert.Equal(t, "ecu/rpt/ecu/SIM1", p.topic)

	var report models.Report
	require.NoError(t, json.Unmarshal(p.payload, &report))
	assert.Equal(t, 1, report.Params.Alarm)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, models.StatusStolen, snap.Status)
}

func TestService_StartStop(t *testing.T) {
	s, _ := startSimulator(t, time.Hour)

	err := s.Start()
	require.Error(t, err)
	assert.Equal(t, "simulator service is already running", err.Error())

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), simulator.ErrNotRunning)
	assert.ErrorIs(t, s.Displace(1, 1), simulator.ErrNotRunning)

	_, err = s.Snapshot()
	assert.ErrorIs(t, err, simulator.ErrNotRunning)
}
