package state_managers

import (
	"errors"
	"sort"

	"github.com/bikefleet/relay/internal/models"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

// ErrDeviceNotFound is returned for a device that never sent a report.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStateStore is the per-device state table shared by the telemetry
// processor and the query handlers.
type DeviceStateStore interface {
	Put(state models.DeviceState)
	Get(deviceID string) (models.DeviceState, error)
	Location(deviceID string) (models.GPS, error)
	Count() int
}

// DeviceStateManager keeps the latest state of every device in memory.
// Entries are overwritten on each report and never evicted.
type DeviceStateManager struct {
	states cmap.ConcurrentMap[string, models.DeviceState]
	logger zerolog.Logger
}

// NewDeviceStateManager initializes an empty DeviceStateManager.
func NewDeviceStateManager(logger zerolog.Logger) *DeviceStateManager {
	return &DeviceStateManager{
		states: cmap.New[models.DeviceState](),
		logger: logger,
	}
}

// Put replaces the stored state of state.DeviceID.
func (sm *DeviceStateManager) Put(state models.DeviceState) {
	if _, existed := sm.states.Get(state.DeviceID); !existed {
		sm.logger.Info().Str("device_id", state.DeviceID).Msg("Tracking new device")
	}
	sm.states.Set(state.DeviceID, state)
}

// Get returns the state of deviceID or ErrDeviceNotFound.
func (sm *DeviceStateManager) Get(deviceID string) (models.DeviceState, error) {
	state, ok := sm.states.Get(deviceID)
	if !ok {
		return models.DeviceState{}, ErrDeviceNotFound
	}
	return state, nil
}

// Location returns the last GPS fix of deviceID or ErrDeviceNotFound.
func (sm *DeviceStateManager) Location(deviceID string) (models.GPS, error) {
	state, err := sm.Get(deviceID)
	if err != nil {
		return models.GPS{}, err
	}
	return state.GPS, nil
}

// Count returns the number of tracked devices.
func (sm *DeviceStateManager) Count() int {
	return sm.states.Count()
}

// DeviceIDs returns the tracked device identifiers in lexical order.
func (sm *DeviceStateManager) DeviceIDs() []string {
	ids := sm.states.Keys()
	sort.Strings(ids)
	return ids
}
