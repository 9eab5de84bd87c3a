//go:build integration

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	httpbinImage = "mccutchen/go-httpbin:v2.15.0"
	httpbinPort  = "8080/tcp"
)

// setupHTTPBin starts an echo server standing in for n8n.
func setupHTTPBin(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        httpbinImage,
		ExposedPorts: []string{httpbinPort},
		WaitingFor:   wait.ForHTTP("/status/200").WithPort(nat.Port(httpbinPort)).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start httpbin container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(httpbinPort))
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestIntegrationRelay(t *testing.T) {
	ctx := context.Background()
	base := setupHTTPBin(ctx, t)

	webhook := NewWebhook(base+"/anything/webhook/chat", base, 30*time.Second, 5*time.Second)
	app := New(webhook, t.TempDir(), zerolog.Nop())
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	t.Run("Health online", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "online", health.N8NStatus)
	})

	t.Run("Chat reaches the webhook", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/chat", "application/json",
			bytes.NewBufferString(`{"message": "hello from integration", "sessionId": "it-1"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var chat ChatResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
		// httpbin echoes the request, which carries none of the reply fields
		assert.Contains(t, chat.Response, "'chatInput': 'hello from integration'")
		assert.Contains(t, chat.Response, "'sessionId': 'it-1'")
	})

	t.Run("Upstream status is passed through", func(t *testing.T) {
		app := New(NewWebhook(base+"/status/503", base, 30*time.Second, 5*time.Second), t.TempDir(), zerolog.Nop())

		w := httptest.NewRecorder()
		app.HandleChat(w, httptest.NewRequest("POST", "/chat", bytes.NewBufferString(`{"message": "hi"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
