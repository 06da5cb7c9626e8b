package models

// CommandEnvelope is the message published to a bike's command topic.
type CommandEnvelope struct {
	Code          int            `json:"c"`               // Command code, see constants.CommandCode*
	TransactionID string         `json:"tid"`             // Correlates the device acknowledgement
	Params        map[string]any `json:"param,omitempty"` // Optional command parameters
}

// CommandAck is published by a bike on its response topic after receiving a command.
type CommandAck struct {
	TransactionID string `json:"tid"`
	Code          int    `json:"code"`
}
