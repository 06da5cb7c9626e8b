package api

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartStop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	s := NewServer("127.0.0.1:0", time.Second, handler, zerolog.Nop())

	require.NoError(t, s.Start())
	err := s.Start()
	require.Error(t, err)
	assert.Equal(t, "http server is already running", err.Error())

	resp, err := http.Get("http://" + s.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, s.Stop())
	err = s.Stop()
	require.Error(t, err)
	assert.Equal(t, "http server is not running", err.Error())
}

func TestServer_StartBindFailure(t *testing.T) {
	first := NewServer("127.0.0.1:0", time.Second, http.NotFoundHandler(), zerolog.Nop())
	require.NoError(t, first.Start())
	defer first.Stop()

	second := NewServer(first.Addr().String(), time.Second, http.NotFoundHandler(), zerolog.Nop())
	err := second.Start()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
