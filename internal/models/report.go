package models

// ReportParams carries the GPS fix of a periodic report.
type ReportParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Alarm     int     `json:"alarm"`
	Timestamp int64   `json:"timestamp"` // milliseconds since the Unix epoch
}

// Report is the periodic telemetry message a bike publishes on its report topic.
type Report struct {
	Code   int          `json:"c"`
	Params ReportParams `json:"param"`
}
