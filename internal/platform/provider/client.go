package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pixelrise/enhance-api/internal/config"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
)

// ErrInvalidConfig indicates the provider client configuration is unusable.
var ErrInvalidConfig = errors.New("invalid provider configuration")

// JobState is the normalized verdict for one provider job.
type JobState string

// Possible job states
const (
	StateSuccess JobState = "success"
	StateFailed  JobState = "failed"
	StateRunning JobState = "running"
)

// JobStatus is the normalized result of one status query.
// Outputs is the provider's raw output payload, decoded lazily by
// NormalizeOutputs; ErrorMessage carries the provider's failure text when
// State is StateFailed.
type JobStatus struct {
	State        JobState
	Outputs      json.RawMessage
	ErrorMessage string
}

// statusRequest is the wire format of a status query.
type statusRequest struct {
	JobID      string   `json:"job_id"`
	OutputKeys []string `json:"output_keys,omitempty"`
}

// statusResponse is the wire format of the provider's answer.
type statusResponse struct {
	Status  string          `json:"status"`
	Outputs json.RawMessage `json:"outputs,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client queries the render provider for job status.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a provider Client from configuration.
func NewClient(cfg config.ProviderConfig, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL cannot be empty", ErrInvalidConfig)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     log.With(slog.String("component", "provider_client")),
	}, nil
}

// CheckOnce asks the provider for the current status of one job.
//
// Provider-reported failures pass through with the provider's error text.
// Any communication or parse problem maps to StateRunning — "try again
// later" — never to StateFailed.
func (c *Client) CheckOnce(
	ctx context.Context,
	providerJobID string,
	expectedOutputKeys []string,
) JobStatus {
	log := logger.FromContextOrDefault(ctx, c.logger)

	body, err := json.Marshal(statusRequest{
		JobID:      providerJobID,
		OutputKeys: expectedOutputKeys,
	})
	if err != nil {
		log.Warn("failed to encode status request",
			slog.String("provider_job_id", providerJobID),
			slog.String("error", err.Error()))
		return JobStatus{State: StateRunning}
	}

	url := c.baseURL + "/v1/jobs/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Warn("failed to build status request",
			slog.String("provider_job_id", providerJobID),
			slog.String("error", err.Error()))
		return JobStatus{State: StateRunning}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("provider status request failed",
			slog.String("provider_job_id", providerJobID),
			slog.String("error", err.Error()))
		return JobStatus{State: StateRunning}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("provider returned non-success status code",
			slog.String("provider_job_id", providerJobID),
			slog.Int("status_code", resp.StatusCode))
		return JobStatus{State: StateRunning}
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Warn("failed to decode provider status response",
			slog.String("provider_job_id", providerJobID),
			slog.String("error", err.Error()))
		return JobStatus{State: StateRunning}
	}

	switch decoded.Status {
	case "success", "succeeded", "completed":
		return JobStatus{State: StateSuccess, Outputs: decoded.Outputs}
	case "failed", "error":
		return JobStatus{State: StateFailed, ErrorMessage: decoded.Error}
	case "running", "queued", "pending", "processing":
		return JobStatus{State: StateRunning}
	default:
		log.Warn("provider reported unknown job status",
			slog.String("provider_job_id", providerJobID),
			slog.String("status", decoded.Status))
		return JobStatus{State: StateRunning}
	}
}
