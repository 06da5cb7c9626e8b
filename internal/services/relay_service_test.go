package services_test

import (
	"sync"
	"testing"

	"github.com/bikefleet/relay/internal/mocks"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/services"
	"github.com/bikefleet/relay/internal/state_managers"
	"github.com/bikefleet/relay/pkg/mqtt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type broadcast struct {
	topic   string
	payload any
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []broadcast
}

func (b *recordingBroadcaster) Broadcast(topic string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{topic: topic, payload: payload})
	return 1
}

func (b *recordingBroadcaster) messages() []broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcast(nil), b.sent...)
}

func newRelay(client mqtt.MQTTClient) (*services.RelayService, *state_managers.DeviceStateManager, *recordingBroadcaster) {
	store := state_managers.NewDeviceStateManager(zerolog.Nop())
	processor := services.NewTelemetryProcessor(store, zerolog.Nop())
	fanout := &recordingBroadcaster{}
	return services.NewRelayService("ecu", "ecu", 1, 16, client, processor, fanout, zerolog.Nop()), store, fanout
}

func TestRelayService_Topics(t *testing.T) {
	rs, _, _ := newRelay(new(mocks.MockMQTTClient))
	assert.Equal(t, []string{"ecu/rsp/ecu/+", "ecu/rpt/ecu/+"}, rs.Topics())
}

// TestRelayService_ProcessMessage_Report tests that a report updates the store and reaches the clients.
func TestRelayService_ProcessMessage_Report(t *testing.T) {
	// Setup
	rs, store, fanout := newRelay(new(mocks.MockMQTTClient))

	// Execute
	rs.ProcessMessage("ecu/rpt/ecu/BIKE1", []byte(`{"c":56,"param":{"latitude":19.284,"longitude":-99.655,"speed":10,"alarm":0,"timestamp":1}}`))

	// Assert
	state, err := store.Get("BIKE1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInUse, state.State)
	assert.Equal(t, 19.284, state.GPS.Lat)

	sent := fanout.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ecu/rpt/ecu/BIKE1", sent[0].topic)
}

// TestRelayService_ProcessMessage_Response tests that acknowledgements are rebroadcast but never stored.
func TestRelayService_ProcessMessage_Response(t *testing.T) {
	rs, store, fanout := newRelay(new(mocks.MockMQTTClient))

	rs.ProcessMessage("ecu/rsp/ecu/BIKE1", []byte(`{"tid":"abc","code":0}`))

	assert.Equal(t, 0, store.Count())
	sent := fanout.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, map[string]any{"tid": "abc", "code": 0.0}, sent[0].payload)
}

func TestRelayService_ProcessMessage_MalformedJSONDropped(t *testing.T) {
	rs, store, fanout := newRelay(new(mocks.MockMQTTClient))

	rs.ProcessMessage("ecu/rpt/ecu/BIKE1", []byte(`{"latitude":`))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, fanout.messages())
}

func TestRelayService_ProcessMessage_NoDeviceSegment(t *testing.T) {
	rs, store, fanout := newRelay(new(mocks.MockMQTTClient))

	rs.ProcessMessage("ecu/rpt/ecu", []byte(`{"latitude":1,"longitude":2}`))
	rs.ProcessMessage("ecu/rpt/ecu/", []byte(`{"latitude":1,"longitude":2}`))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, fanout.messages())
}

// TestRelayService_StartStop tests subscription handling and that queued messages are drained on Stop.
func TestRelayService_StartStop(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "ecu/rsp/ecu/+", byte(1), mock.Anything).Return(mqtt.NewCompletedToken(nil)).Once()
	client.On("Subscribe", "ecu/rpt/ecu/+", byte(1), mock.Anything).Return(mqtt.NewCompletedToken(nil)).Once()
	client.On("Unsubscribe", []string{"ecu/rsp/ecu/+", "ecu/rpt/ecu/+"}).Return(mqtt.NewCompletedToken(nil)).Once()
	rs, store, fanout := newRelay(client)

	// Execute
	require.NoError(t, rs.Start())
	err := rs.Start()
	require.Error(t, err)
	assert.Equal(t, "relay service is already running", err.Error())

	rs.HandleMessage(nil, mocks.NewMockMessage("ecu/rpt/ecu/BIKE2", []byte(`{"latitude":1,"longitude":2,"alarm":1}`)))
	require.NoError(t, rs.Stop())

	// Assert
	state, err := store.Get("BIKE2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStolen, state.State)
	assert.Len(t, fanout.messages(), 1)

	err = rs.Stop()
	require.Error(t, err)
	assert.Equal(t, "relay service is not running", err.Error())
	client.AssertExpectations(t)
}

func TestRelayService_HandleMessage_IgnoredWhenStopped(t *testing.T) {
	rs, store, fanout := newRelay(new(mocks.MockMQTTClient))

	rs.HandleMessage(nil, mocks.NewMockMessage("ecu/rpt/ecu/BIKE1", []byte(`{"latitude":1,"longitude":2}`)))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, fanout.messages())
}

func TestRelayService_Start_SubscribeFailure(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "ecu/rsp/ecu/+", byte(1), mock.Anything).Return(mqtt.NewCompletedToken(mqtt.ErrNotConnected))
	rs, _, _ := newRelay(client)

	err := rs.Start()

	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	rs.HandleMessage(nil, mocks.NewMockMessage("ecu/rpt/ecu/BIKE1", []byte(`{}`)))
}
