package models

// Envelope is pushed to every real-time client for each broker message.
type Envelope struct {
	Topic    string `json:"topic"`
	Type     string `json:"type"`
	Group    string `json:"group"`
	DeviceID string `json:"deviceId"`
	Payload  any    `json:"payload"`
}
