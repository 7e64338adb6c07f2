package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pixelrise/enhance-api/internal/api/shared"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/redact"
	"github.com/pixelrise/enhance-api/internal/service/reconcile"
)

// SweepRunner runs one bounded reconciliation sweep. Zero-valued config
// fields fall back to the runner's configured bounds.
type SweepRunner interface {
	SweepWith(ctx context.Context, cfg reconcile.SweepConfig) (reconcile.Summary, error)
}

// SweepHandler exposes the internal sweep trigger endpoint.
type SweepHandler struct {
	sweeper SweepRunner
	secret  string
	logger  *slog.Logger
}

// NewSweepHandler creates a new SweepHandler. An empty secret disables the
// endpoint: every request is rejected until one is configured.
func NewSweepHandler(sweeper SweepRunner, secret string, logger *slog.Logger) *SweepHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SweepHandler")
	}

	return &SweepHandler{
		sweeper: sweeper,
		secret:  secret,
		logger:  logger.With(slog.String("component", "sweep_handler")),
	}
}

// HandleSweep handles POST /internal/sweep requests. Callers authenticate
// with the X-Sweep-Secret header; the comparison is constant-time. The
// request body is optional and may override the sweep bounds for this one
// invocation.
func (h *SweepHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	if h.secret == "" {
		log.Warn("sweep request rejected: no sweep secret configured")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Sweep endpoint disabled")
		return
	}

	provided := r.Header.Get("X-Sweep-Secret")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		log.Warn("sweep request rejected: invalid credentials")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid sweep credentials")
		return
	}

	// An absent body means "use the configured bounds".
	var req SweepRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		log.Warn("invalid sweep request body", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Validation error", err)
		return
	}

	summary, err := h.sweeper.SweepWith(r.Context(), reconcile.SweepConfig{
		FetchLimit:  req.FetchLimit,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SweepResponse{
		Scanned:   summary.Scanned,
		Completed: summary.Completed,
		Failed:    summary.Failed,
		Running:   summary.Running,
		Errors:    summary.Errors,
		ElapsedMS: summary.Elapsed.Milliseconds(),
	})
}
