package api

import (
	"errors"
	"net/http"

	"github.com/bikefleet/relay/internal/constants"
	"github.com/bikefleet/relay/internal/models"
	"github.com/bikefleet/relay/internal/services"
	"github.com/bikefleet/relay/internal/state_managers"
	"github.com/bikefleet/relay/pkg/mqtt"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Commander issues commands to bikes.
type Commander interface {
	Unlock(deviceID string) (*services.Dispatch, error)
	Lock(deviceID string) (*services.Dispatch, error)
	Reset(deviceID string) (*services.Dispatch, error)
}

// ClientRegistry accepts websocket clients for the real-time feed.
type ClientRegistry interface {
	Register(conn *websocket.Conn)
	ClientCount() int
}

// BrokerStatus reports whether the broker connection is up.
type BrokerStatus interface {
	IsConnectionOpen() bool
}

// Handler serves the REST and websocket surface of the relay.
type Handler struct {
	commands Commander
	states   state_managers.DeviceStateStore
	clients  ClientRegistry
	broker   BrokerStatus
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler.
func NewHandler(commands Commander, states state_managers.DeviceStateStore, clients ClientRegistry,
	broker BrokerStatus, logger zerolog.Logger) *Handler {

	return &Handler{
		commands: commands,
		states:   states,
		clients:  clients,
		broker:   broker,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Unlock handles POST /bike/{id}/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.commands.Unlock)
}

// Lock handles POST /bike/{id}/lock.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.commands.Lock)
}

// Reset handles POST /bike/{id}/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, h.commands.Reset)
}

// dispatch sends a command and answers without waiting for the bike. A
// publish that already failed, because the broker is unreachable, is a 503.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, send func(string) (*services.Dispatch, error)) {
	deviceID := mux.Vars(r)["id"]

	d, err := send(deviceID)
	if errors.Is(err, services.ErrEmptyDeviceID) {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to build command")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: err.Error(), DeviceID: deviceID})
		return
	}

	if err := mqtt.ImmediateError(d.Token); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
			Error:         err.Error(),
			TransactionID: d.TransactionID,
			DeviceID:      deviceID,
		})
		return
	}

	resp := models.CommandResponse{
		Status:        "sent",
		Command:       d.Envelope.Code,
		TransactionID: d.TransactionID,
		DeviceID:      deviceID,
	}
	if defend, ok := d.Envelope.Params[constants.ParamDefend].(int); ok {
		resp.Defend = &defend
	}
	writeJSON(w, http.StatusOK, resp)
}

// Location handles GET /bike/{id}/location.
func (h *Handler) Location(w http.ResponseWriter, r *http.Request) {
	gps, err := h.states.Location(mux.Vars(r)["id"])
	if errors.Is(err, state_managers.ErrDeviceNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "no location recorded"})
		return
	}
	writeJSON(w, http.StatusOK, gps)
}

// State handles GET /bike/{id}/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Get(mux.Vars(r)["id"])
	if errors.Is(err, state_managers.ErrDeviceNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "bike not registered"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	broker := "disconnected"
	if h.broker.IsConnectionOpen() {
		broker = "connected"
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Broker:  broker,
		Clients: h.clients.ClientCount(),
		Devices: h.states.Count(),
	})
}

// Websocket upgrades the request and hands the connection to the fanout.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	h.clients.Register(conn)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
