package models

import "time"

// TripStatus is the lifecycle state of a bike.
type TripStatus string

const (
	// StatusIdle means the bike is parked and locked.
	StatusIdle TripStatus = "IDLE"
	// StatusInUse means the bike is unlocked and riding.
	StatusInUse TripStatus = "IN_USE"
	// StatusStolen means the bike moved while locked.
	StatusStolen TripStatus = "STOLEN"
)

// GPS is the last known fix of a bike as seen by the relay.
type GPS struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Speed float64 `json:"speed"`
	Alarm float64 `json:"alarm"`
	Time  int64   `json:"time"` // milliseconds since the Unix epoch
}

// DeviceState is the relay's view of one bike, rebuilt from every report.
type DeviceState struct {
	DeviceID   string     `json:"deviceId"`
	State      TripStatus `json:"state"`
	GPS        GPS        `json:"gps"`
	LastUpdate time.Time  `json:"lastUpdate"`
}
