package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/aks-o/voxlink-sub007/internal/provisioning/domain"
)

// ProvisioningService is the application surface the HTTP layer depends on.
type ProvisioningService interface {
	Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.AvailableNumber, bool, error)
	Reserve(ctx context.Context, number, callerID string) (*domain.Reservation, error)
	Activate(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	ProviderHealth() map[string]domain.ProviderHealth
}

type Handler struct {
	svc      ProvisioningService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(svc ProvisioningService, logger *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger.With("handler", "provisioning"),
	}
}

// RegisterRoutes mounts the provisioning API on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/numbers/search", h.handleSearch)
	r.Post("/reservations", h.handleReserve)
	r.Get("/reservations/{reservationID}", h.handleGetReservation)
	r.Post("/reservations/{reservationID}/activate", h.handleActivate)
	r.Delete("/reservations/{reservationID}", h.handleRelease)
	r.Get("/providers/health", h.handleProviderHealth)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, logger, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSONError(w, logger, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	numbers, degraded, err := h.svc.Search(ctx, req.toCriteria())
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	if numbers == nil {
		numbers = []domain.AvailableNumber{}
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{Numbers: numbers, Degraded: degraded})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, logger, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeJSONError(w, logger, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Reserve(ctx, req.Number, req.CallerID)
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	res, err := h.svc.GetReservation(ctx, chi.URLParam(r, "reservationID"))
	if err != nil {
		h.writeError(w, logger, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	if err := h.svc.Activate(ctx, chi.URLParam(r, "reservationID")); err != nil {
		h.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	if err := h.svc.Release(ctx, chi.URLParam(r, "reservationID")); err != nil {
		h.writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, ProviderHealthResponse{Providers: h.svc.ProviderHealth()})
}

func (h *Handler) requestLogger(ctx context.Context) *slog.Logger {
	return h.logger.With("request_id", chi_middleware.GetReqID(ctx))
}

// writeError translates domain errors into HTTP status codes. An open circuit
// carries a Retry-After header so clients can back off.
func (h *Handler) writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var open *domain.CircuitOpenError
	switch {
	case errors.As(err, &open):
		if secs := int(open.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		h.writeJSONError(w, logger, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrValidation):
		h.writeJSONError(w, logger, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		h.writeJSONError(w, logger, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyReserved):
		h.writeJSONError(w, logger, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrStaleReservation):
		h.writeJSONError(w, logger, err.Error(), http.StatusGone)
	case errors.Is(err, domain.ErrProviderUnavailable):
		h.writeJSONError(w, logger, err.Error(), http.StatusBadGateway)
	default:
		logger.Error("unhandled error in provisioning handler", "error", err)
		h.writeJSONError(w, logger, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, logger *slog.Logger, message string, status int) {
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", message)
	} else {
		logger.Debug("request rejected", "status", status, "error", message)
	}
	h.writeJSON(w, status, errorResponse{Error: message})
}
