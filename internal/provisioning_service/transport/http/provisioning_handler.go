package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/virtnum/golang_services/internal/provisioning_service/app"
	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// ProvisioningHandler exposes the trigger, status and processor control
// surfaces over HTTP.
type ProvisioningHandler struct {
	svc      *app.ProvisioningService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewProvisioningHandler(svc *app.ProvisioningService, logger *slog.Logger, validate *validator.Validate) *ProvisioningHandler {
	return &ProvisioningHandler{svc: svc, logger: logger, validate: validate}
}

// RegisterRoutes mounts the number and queue routes.
func (h *ProvisioningHandler) RegisterRoutes(r chi.Router) {
	r.Post("/numbers", h.RegisterPurchase)
	r.Get("/numbers/{numberID}/status", h.NumberStatus)
	r.Post("/numbers/{numberID}/retry", h.RetryNumber)
	r.Post("/numbers/{numberID}/cancel", h.CancelNumber)
	r.Post("/numbers/{numberID}/suspend", h.SuspendNumber)
	r.Post("/numbers/{numberID}/reactivate", h.ReactivateNumber)
	r.Put("/numbers/{numberID}/forwarding", h.UpdateForwarding)
	r.Get("/queue/stats", h.QueueStats)
}

// RegisterProcessorRoutes mounts the processor control surface.
func (h *ProvisioningHandler) RegisterProcessorRoutes(r chi.Router) {
	r.Post("/processor/start", h.StartProcessor)
	r.Post("/processor/stop", h.StopProcessor)
	r.Get("/processor/status", h.ProcessorStatus)
	r.Post("/processor/process-one", h.ProcessOne)
}

func (h *ProvisioningHandler) RegisterPurchase(w http.ResponseWriter, r *http.Request) {
	var req RegisterPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid customer_id")
		return
	}

	number, err := h.svc.RegisterPurchase(r.Context(), customerID, req.PhoneNumber, domain.ForwardingConfig{
		Type:        forwardingType(req.ForwardingType),
		Destination: req.ForwardingDestination,
		SMSEnabled:  req.SMSEnabled,
	})
	if err != nil {
		h.mapDomainError(w, r, err, "register purchase")
		return
	}
	h.writeJSON(w, http.StatusCreated, number)
}

func (h *ProvisioningHandler) NumberStatus(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	view, err := h.svc.NumberStatus(r.Context(), numberID)
	if err != nil {
		h.mapDomainError(w, r, err, "number status")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *ProvisioningHandler) RetryNumber(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RetryNumber(r.Context(), numberID); err != nil {
		h.mapDomainError(w, r, err, "retry number")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry enqueued"})
}

func (h *ProvisioningHandler) CancelNumber(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RequestCancellation(r.Context(), numberID); err != nil {
		h.mapDomainError(w, r, err, "cancel number")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation enqueued"})
}

func (h *ProvisioningHandler) SuspendNumber(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RequestSuspend(r.Context(), numberID); err != nil {
		h.mapDomainError(w, r, err, "suspend number")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "suspend enqueued"})
}

func (h *ProvisioningHandler) ReactivateNumber(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RequestReactivate(r.Context(), numberID); err != nil {
		h.mapDomainError(w, r, err, "reactivate number")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "reactivate enqueued"})
}

func (h *ProvisioningHandler) UpdateForwarding(w http.ResponseWriter, r *http.Request) {
	numberID, ok := h.numberID(w, r)
	if !ok {
		return
	}
	var req UpdateForwardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err := h.svc.UpdateForwarding(r.Context(), numberID, domain.ForwardingConfig{
		Type:        forwardingType(req.ForwardingType),
		Destination: req.ForwardingDestination,
		SMSEnabled:  req.SMSEnabled,
	})
	if err != nil {
		h.mapDomainError(w, r, err, "update forwarding")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "update enqueued"})
}

func (h *ProvisioningHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.QueueCounts(r.Context())
	if err != nil {
		h.mapDomainError(w, r, err, "queue stats")
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *ProvisioningHandler) StartProcessor(w http.ResponseWriter, r *http.Request) {
	// The processor outlives the request; start it against the background
	// context, not r.Context().
	if err := h.svc.Processor().Start(context.Background()); err != nil {
		h.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Processor().Status())
}

func (h *ProvisioningHandler) StopProcessor(w http.ResponseWriter, r *http.Request) {
	stopCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.svc.Processor().Stop(stopCtx); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Processor().Status())
}

func (h *ProvisioningHandler) ProcessorStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Processor().Status())
}

func (h *ProvisioningHandler) ProcessOne(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Processor().ProcessOne(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingTasks) {
			h.writeJSON(w, http.StatusOK, ProcessOneResponse{Processed: false})
			return
		}
		h.mapDomainError(w, r, err, "process one")
		return
	}
	h.writeJSON(w, http.StatusOK, ProcessOneResponse{
		Processed: true,
		TaskID:    task.ID.String(),
		Action:    string(task.Action),
	})
}

func (h *ProvisioningHandler) numberID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "numberID"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid number ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ProvisioningHandler) mapDomainError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	var validationErr *domain.ValidationError
	var transitionErr *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "number not found")
	case errors.Is(err, domain.ErrNumberNotRetryable):
		h.writeError(w, r, http.StatusConflict, "number is not in failed status")
	case errors.Is(err, domain.ErrNumberCancelled):
		h.writeError(w, r, http.StatusConflict, "number is cancelled")
	case errors.As(err, &validationErr):
		h.writeError(w, r, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &transitionErr):
		h.writeError(w, r, http.StatusConflict, transitionErr.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Operation failed", "operation", operation, "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (h *ProvisioningHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response body", "error", err)
	}
}

func (h *ProvisioningHandler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "Request failed", "status", status, "path", r.URL.Path, "error", msg)
	}
	h.writeJSON(w, status, ErrorResponse{Error: msg})
}

func forwardingType(s string) domain.ForwardingType {
	if s == "" {
		return domain.ForwardingNone
	}
	return domain.ForwardingType(s)
}
