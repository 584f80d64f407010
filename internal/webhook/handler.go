// Package webhook exposes the HTTP surface: the event endpoint the ledger
// platform calls, and the gain/loss trigger.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crossbooks/crossbooks/internal/dispatch"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/jobs"
)

// Dispatcher handles one decoded event.
type Dispatcher interface {
	Handle(ctx context.Context, ev *event.Event) (*dispatch.Result, error)
}

// Enqueuer schedules background gain/loss runs.
type Enqueuer interface {
	EnqueueGainLossUpdate(ctx context.Context, payload jobs.GainLossPayload) error
}

// Handler serves the webhook routes.
type Handler struct {
	dispatcher Dispatcher
	enqueuer   Enqueuer
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler constructs the webhook handler.
func NewHandler(dispatcher Dispatcher, enqueuer Enqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		enqueuer:   enqueuer,
		validate:   validator.New(),
		logger:     logger,
	}
}

// MountRoutes attaches the webhook routes. The platform posts events to the
// mount root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleEvent)
	r.Post("/gainloss", h.handleGainLoss)
}

// handleEvent processes one platform event. The platform retries non-200
// responses, so failures are reported in the body with a 200 status; the
// record of what happened lands in the caller's activity log either way.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, "invalid event payload: "+err.Error())
		return
	}
	if err := h.validate.Struct(&ev); err != nil {
		h.writeError(w, "invalid event: "+err.Error())
		return
	}

	result, err := h.dispatcher.Handle(r.Context(), &ev)
	if err != nil {
		h.logger.Error("event handling failed",
			slog.String("type", string(ev.Type)),
			slog.Any("error", err))
		h.writeError(w, err.Error())
		return
	}
	h.writeJSON(w, struct {
		Result *dispatch.Result `json:"result"`
	}{Result: result})
}

type gainLossRequest struct {
	BookID string `json:"bookId" validate:"required"`
	Date   string `json:"date" validate:"required"`
}

// handleGainLoss schedules a background gain/loss reconciliation run.
func (h *Handler) handleGainLoss(w http.ResponseWriter, r *http.Request) {
	var req gainLossRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request payload: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, "invalid request: "+err.Error())
		return
	}
	payload := jobs.GainLossPayload{BookID: req.BookID, Date: req.Date}
	if err := h.enqueuer.EnqueueGainLossUpdate(r.Context(), payload); err != nil {
		h.logger.Error("gain/loss enqueue failed",
			slog.String("book_id", req.BookID),
			slog.Any("error", err))
		h.writeError(w, err.Error())
		return
	}
	h.writeJSON(w, struct {
		Result string `json:"result"`
	}{Result: "scheduled"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response encode failed", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string) {
	h.writeJSON(w, struct {
		Error string `json:"error"`
	}{Error: msg})
}
