package api

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// NewRouter wires the relay routes. When staticDir is set its files are
// served at /. A websocket handshake on / joins the real-time feed.
func NewRouter(h *Handler, staticDir string, logger zerolog.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger(logger))

	bike := router.PathPrefix("/bike/{id}").Subrouter()
	bike.HandleFunc("/unlock", h.Unlock).Methods(http.MethodPost)
	bike.HandleFunc("/lock", h.Lock).Methods(http.MethodPost)
	bike.HandleFunc("/reset", h.Reset).Methods(http.MethodPost)
	bike.HandleFunc("/location", h.Location).Methods(http.MethodGet)
	bike.HandleFunc("/state", h.State).Methods(http.MethodGet)

	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/ws", h.Websocket)
	router.Path("/").MatcherFunc(isWebsocketHandshake).HandlerFunc(h.Websocket)

	if staticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(router))
}

func isWebsocketHandshake(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// requestLogger emits one log line per request. httpsnoop keeps the
// Hijacker of the wrapped writer so websocket upgrades pass through.
func requestLogger(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", m.Code).
				Dur("duration", m.Duration).
				Int64("bytes", m.Written).
				Msg("HTTP request")
		})
	}
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}

var _ handlers.RecoveryHandlerLogger = recoveryLogger{}
