package models

// CommandResponse is returned by the REST command endpoints.
type CommandResponse struct {
	Status        string `json:"status"`
	Command       int    `json:"cmd"`
	Defend        *int   `json:"defend,omitempty"`
	TransactionID string `json:"tid"`
	DeviceID      string `json:"deviceId"`
}

// ErrorResponse is the body of every non-2xx REST response.
type ErrorResponse struct {
	Error         string `json:"error"`
	TransactionID string `json:"tid,omitempty"`
	DeviceID      string `json:"deviceId,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Broker  string `json:"broker"`
	Clients int    `json:"clients"`
	Devices int    `json:"devices"`
}
