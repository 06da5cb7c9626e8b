package simulator

import (
	"math"
	"time"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/utils"
)

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Settings configures the motion and theft detection of a Machine.
type Settings struct {
	Start          Position // station the bike is parked at and reset to
	Target         Position // station a trip rides to
	ProgressStep   float64  // trip fraction covered per tick, in (0, 1]
	TripSpeed      float64  // speed reported while riding
	DriftThreshold float64  // degrees a locked bike may move per tick before it counts as stolen
}

// Snapshot is a copy of the machine state.
type Snapshot struct {
	Status     models.TripStatus `json:"status"`
	Position   Position          `json:"position"`
	LastSample Position          `json:"lastSample"`
	Progress   float64           `json:"progress"`
	Moving     bool              `json:"moving"`
	Telemetry  bool              `json:"telemetry"`
}

// Machine is the state of one simulated bike. It is not safe for concurrent
// use; Service owns it from a single goroutine.
type Machine struct {
	settings Settings

	status     models.TripStatus
	position   Position
	origin     Position
	lastSample Position
	progress   float64
	moving     bool
	telemetry  bool
}

// NewMachine returns an idle, locked machine parked at the start position.
func NewMachine(settings Settings) *Machine {
	return &Machine{
		settings:   settings,
		status:     models.StatusIdle,
		position:   settings.Start,
		origin:     settings.Start,
		lastSample: settings.Start,
	}
}

// Unlock starts a trip from the current position towards the target.
func (m *Machine) Unlock() {
	m.status = models.StatusInUse
	m.origin = m.position
	m.lastSample = m.position
	m.progress = 0
	m.moving = true
	m.telemetry = true
}

// Lock ends the trip where the bike currently is.
func (m *Machine) Lock() {
	m.status = models.StatusIdle
	m.moving = false
	m.telemetry = false
	m.lastSample = m.position
}

// Reset parks the bike back at the start position.
func (m *Machine) Reset() {
	m.status = models.StatusIdle
	m.moving = false
	m.telemetry = false
	m.position = m.settings.Start
	m.origin = m.settings.Start
	m.lastSample = m.settings.Start
	m.progress = 0
}

// Apply executes a received command. It reports false for commands the bike
// does not understand, which are left unacknowledged.
func (m *Machine) Apply(cmd models.CommandEnvelope) bool {
	switch cmd.Code {
	case constants.CommandCodeLock:
		defend, ok := utils.NumberField(cmd.Params, constants.ParamDefend)
		if !ok {
			return false
		}
		switch defend {
		case constants.DefendUnlock:
			m.Unlock()
		case constants.DefendLock:
			m.Lock()
		default:
			return false
		}
	case constants.CommandCodeReset:
		m.Reset()
	default:
		return false
	}
	return true
}

// Displace moves the bike without a command, like someone carrying it off.
func (m *Machine) Displace(dLat, dLng float64) {
	m.position.Lat += dLat
	m.position.Lng += dLng
}

// Tick advances the simulation by one step. It returns the report to publish
// and whether telemetry was enabled during the tick.
func (m *Machine) Tick(now time.Time) (models.Report, bool) {
	emit := m.telemetry

	if m.moving {
		m.advance()
		m.lastSample = m.position
	}

	if m.status == models.StatusIdle && m.drifted() {
		m.status = models.StatusStolen
		m.telemetry = true
	}
	m.lastSample = m.position

	emit = emit || m.telemetry
	if !emit {
		return models.Report{}, false
	}
	return m.report(now), true
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Status:     m.status,
		Position:   m.position,
		LastSample: m.lastSample,
		Progress:   m.progress,
		Moving:     m.moving,
		Telemetry:  m.telemetry,
	}
}

func (m *Machine) advance() {
	m.progress += m.settings.ProgressStep
	if m.progress >= 1-1e-9 {
		m.progress = 1
		m.position = m.settings.Target
		m.moving = false
		m.telemetry = false
		m.status = models.StatusIdle
		return
	}

	ease := easeInOutQuad(m.progress)
	m.position = Position{
		Lat: m.origin.Lat + (m.settings.Target.Lat-m.origin.Lat)*ease,
		Lng: m.origin.Lng + (m.settings.Target.Lng-m.origin.Lng)*ease,
	}
}

// drifted reports whether the position moved further than the threshold on
// either axis since the last sample.
func (m *Machine) drifted() bool {
	return math.Abs(m.position.Lat-m.lastSample.Lat) > m.settings.DriftThreshold ||
		math.Abs(m.position.Lng-m.lastSample.Lng) > m.settings.DriftThreshold
}

func (m *Machine) report(now time.Time) models.Report {
	speed := 0.0
	if m.moving {
		speed = m.settings.TripSpeed
	}
	alarm := 0
	if m.status == models.StatusStolen {
		alarm = constants.AlarmRaised
	}

	return models.Report{
		Code: constants.ReportCodeGPS,
		Params: models.ReportParams{
			Latitude:  m.position.Lat,
			Longitude: m.position.Lng,
			Speed:     speed,
			Alarm:     alarm,
			Timestamp: now.UnixMilli(),
		},
	}
}

func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}
