package services

import (
	"time"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/state_managers"
	"github.com/bikefleet/relay/internal/utils"
	"github.com/rs/zerolog"
)

// TelemetryProcessor turns report payloads into device states.
type TelemetryProcessor struct {
	store  state_managers.DeviceStateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewTelemetryProcessor creates a TelemetryProcessor writing into store.
func NewTelemetryProcessor(store state_managers.DeviceStateStore, logger zerolog.Logger) *TelemetryProcessor {
	return &TelemetryProcessor{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// DeriveStatus maps the alarm flag and speed of a report to a trip status.
func DeriveStatus(speed, alarm float64) models.TripStatus {
	switch {
	case alarm == constants.AlarmRaised:
		return models.StatusStolen
	case speed > 0:
		return models.StatusInUse
	default:
		return models.StatusIdle
	}
}

// Process applies a report payload to the state of deviceID. The GPS fields
// are read from the nested "param" object when present, otherwise from the
// payload itself. Payloads without latitude or longitude are ignored and
// Process returns false.
func (p *TelemetryProcessor) Process(deviceID string, payload map[string]any) (models.DeviceState, bool) {
	fields := payload
	if nested, ok := payload["param"].(map[string]any); ok {
		fields = nested
	}

	lat, hasLat := utils.NumberField(fields, "latitude")
	lng, hasLng := utils.NumberField(fields, "longitude")
	if !hasLat || !hasLng {
		p.logger.Debug().Str("device_id", deviceID).Msg("Report without coordinates, ignoring")
		return models.DeviceState{}, false
	}

	speed, _ := utils.NumberField(fields, "speed")
	alarm, _ := utils.NumberField(fields, "alarm")

	now := p.now()
	fixTime := now.UnixMilli()
	if ts, ok := utils.NumberField(fields, "timestamp"); ok && ts != 0 {
		fixTime = int64(ts)
	}

	state := models.DeviceState{
		DeviceID: deviceID,
		State:    DeriveStatus(speed, alarm),
		GPS: models.GPS{
			Lat:   lat,
			Lng:   lng,
			Speed: speed,
			Alarm: alarm,
			Time:  fixTime,
		},
		LastUpdate: now,
	}
	p.store.Put(state)

	p.logger.Info().
		Str("device_id", deviceID).
		Float64("lat", lat).
		Float64("lng", lng).
		Float64("speed", speed).
		Str("state", string(state.State)).
		Msg("GPS report processed")

	return state, true
}
