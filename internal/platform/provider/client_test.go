package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelrise/enhance-api/internal/config"
	"github.com/pixelrise/enhance-api/internal/platform/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *provider.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := provider.NewClient(config.ProviderConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)

	return client
}

func TestNewClientValidation(t *testing.T) {
	t.Run("missing base url", func(t *testing.T) {
		_, err := provider.NewClient(config.ProviderConfig{APIKey: "k"}, nil)
		assert.ErrorIs(t, err, provider.ErrInvalidConfig)
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := provider.NewClient(config.ProviderConfig{BaseURL: "https://x"}, nil)
		assert.ErrorIs(t, err, provider.ErrInvalidConfig)
	})
}

func TestCheckOnceSuccess(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs/status", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","outputs":["https://cdn/x.png"]}`))
	})

	status := client.CheckOnce(context.Background(), "job-1", []string{"final_image"})

	assert.Equal(t, provider.StateSuccess, status.State)
	assert.JSONEq(t, `["https://cdn/x.png"]`, string(status.Outputs))
	assert.Equal(t, "job-1", gotBody["job_id"])
	assert.Equal(t, []any{"final_image"}, gotBody["output_keys"])
}

func TestCheckOnceFailedPassesThroughError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":"out of GPU memory"}`))
	})

	status := client.CheckOnce(context.Background(), "job-1", nil)

	assert.Equal(t, provider.StateFailed, status.State)
	assert.Equal(t, "out of GPU memory", status.ErrorMessage)
}

func TestCheckOnceRunning(t *testing.T) {
	for _, s := range []string{"running", "queued", "pending", "processing"} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"` + s + `"}`))
		})

		status := client.CheckOnce(context.Background(), "job-1", nil)
		assert.Equal(t, provider.StateRunning, status.State, s)
	}
}

func TestCheckOnceTransientErrorsMapToRunning(t *testing.T) {
	t.Run("server error status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		status := client.CheckOnce(context.Background(), "job-1", nil)
		assert.Equal(t, provider.StateRunning, status.State)
	})

	t.Run("malformed response body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":`))
		})

		status := client.CheckOnce(context.Background(), "job-1", nil)
		assert.Equal(t, provider.StateRunning, status.State)
	})

	t.Run("unknown status value", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"paused"}`))
		})

		status := client.CheckOnce(context.Background(), "job-1", nil)
		assert.Equal(t, provider.StateRunning, status.State)
	})

	t.Run("unreachable server", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close() // connection refused from here on

		client, err := provider.NewClient(config.ProviderConfig{
			BaseURL:        server.URL,
			APIKey:         "test-key",
			RequestTimeout: time.Second,
		}, nil)
		require.NoError(t, err)

		status := client.CheckOnce(context.Background(), "job-1", nil)
		assert.Equal(t, provider.StateRunning, status.State)
	})
}
