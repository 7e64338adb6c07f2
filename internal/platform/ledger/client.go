// Package ledger adapts the external credit-ledger service that tracks
// users' prepaid balances. The task id doubles as the debit's idempotency
// key, so replays of the same debit are safe on the ledger side as well.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/config"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
)

// ErrInvalidConfig indicates the ledger client configuration is unusable.
var ErrInvalidConfig = errors.New("invalid ledger configuration")

// ErrDebitFailed indicates the ledger rejected or could not process a debit.
var ErrDebitFailed = errors.New("credit debit failed")

// debitRequest is the wire format of a debit call.
type debitRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int       `json:"amount"`
	TaskID uuid.UUID `json:"task_id"`
	Memo   string    `json:"memo,omitempty"`
}

// Client issues debits against the credit-ledger service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a ledger Client from configuration.
func NewClient(cfg config.LedgerConfig, log *slog.Logger) (*Client, error) {
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
		logger:     log.With(slog.String("component", "ledger_client")),
	}, nil
}

// Debit charges amount credits to the user's balance for the given task.
// The task id is sent as the idempotency key, so the ledger can deduplicate
// retries. Callers finalizing a task must treat a returned error as
// non-fatal to the task's completion.
func (c *Client) Debit(
	ctx context.Context,
	userID uuid.UUID,
	amount int,
	taskID uuid.UUID,
	memo string,
) error {
	log := logger.FromContextOrDefault(ctx, c.logger)

	body, err := json.Marshal(debitRequest{
		UserID: userID,
		Amount: amount,
		TaskID: taskID,
		Memo:   memo,
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrDebitFailed, err)
	}

	url := c.baseURL + "/v1/credits/debit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDebitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", taskID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDebitFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the log; the caller only needs
		// the sentinel.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("ledger rejected debit",
			slog.String("task_id", taskID.String()),
			slog.Int("status_code", resp.StatusCode),
			slog.String("detail", string(detail)))
		return fmt.Errorf("%w: status %d", ErrDebitFailed, resp.StatusCode)
	}

	return nil
}
