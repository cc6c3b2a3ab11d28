package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtnum/golang_services/internal/provisioning_service/adapters/telephonyprovider"
	"github.com/virtnum/golang_services/internal/provisioning_service/app"
	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
	"github.com/virtnum/golang_services/internal/provisioning_service/repository/memory"
)

type handlerTestComponents struct {
	router  chi.Router
	svc     *app.ProvisioningService
	numbers *memory.NumberRepository
}

// setupHandlerTest wires a full service stack behind the HTTP surface, with
// the deterministic mock provider standing in for the real one.
func setupHandlerTest(t *testing.T) handlerTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	numbers := memory.NewNumberRepository()
	tasks := memory.NewTaskRepository(numbers)
	adapter := telephonyprovider.NewMockProvider(logger, "mock-test", 0, 0, 0)

	processor := app.NewQueueProcessor(tasks, numbers, adapter, nil, app.DefaultRetryPolicy(), app.ProcessorConfig{
		PollingInterval:    10 * time.Millisecond,
		AdapterCallTimeout: time.Second,
		StaleClaimAfter:    10 * time.Minute,
	}, logger)
	svc := app.NewProvisioningService(tasks, numbers, processor, nil, logger)

	handler := NewProvisioningHandler(svc, logger, validator.New())
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
		handler.RegisterProcessorRoutes(r)
	})

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = processor.Stop(stopCtx)
	})

	return handlerTestComponents{router: router, svc: svc, numbers: numbers}
}

func (c handlerTestComponents) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestProvisioningHandler_RegisterPurchase(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		comps := setupHandlerTest(t)
		rec := comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
			CustomerID:  uuid.NewString(),
			PhoneNumber: "+15550001234",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		number := decodeBody[domain.PurchasedNumber](t, rec)
		assert.Equal(t, domain.NumberStatusPending, number.Status)
		assert.Equal(t, "+15550001234", number.PhoneNumber)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		comps := setupHandlerTest(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/numbers", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		comps.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ValidationFailures", func(t *testing.T) {
		comps := setupHandlerTest(t)

		rec := comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
			CustomerID:  "not-a-uuid",
			PhoneNumber: "+15550001234",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
			CustomerID:  uuid.NewString(),
			PhoneNumber: "555-not-e164",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
			CustomerID:     uuid.NewString(),
			PhoneNumber:    "+15550001234",
			ForwardingType: "fax",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProvisioningHandler_NumberLifecycleOverHTTP(t *testing.T) {
	comps := setupHandlerTest(t)

	rec := comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
		CustomerID:  uuid.NewString(),
		PhoneNumber: "+15550001234",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	number := decodeBody[domain.PurchasedNumber](t, rec)

	// Drive the queued provision synchronously through the control surface.
	rec = comps.request(t, http.MethodPost, "/api/v1/processor/process-one", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	processed := decodeBody[ProcessOneResponse](t, rec)
	assert.True(t, processed.Processed)
	assert.Equal(t, string(domain.ActionProvision), processed.Action)

	rec = comps.request(t, http.MethodGet, fmt.Sprintf("/api/v1/numbers/%s/status", number.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[app.NumberStatusView](t, rec)
	assert.Equal(t, domain.NumberStatusActive, view.Status)
	assert.True(t, view.IsActive)
	assert.NotEmpty(t, view.ExternalID)

	// Empty queue now.
	rec = comps.request(t, http.MethodPost, "/api/v1/processor/process-one", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	processed = decodeBody[ProcessOneResponse](t, rec)
	assert.False(t, processed.Processed)

	// Cancellation: accepted, then confirmed by the next processed task.
	rec = comps.request(t, http.MethodPost, fmt.Sprintf("/api/v1/numbers/%s/cancel", number.ID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = comps.request(t, http.MethodPost, "/api/v1/processor/process-one", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = comps.request(t, http.MethodGet, fmt.Sprintf("/api/v1/numbers/%s/status", number.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[app.NumberStatusView](t, rec)
	assert.Equal(t, domain.NumberStatusCancelled, view.Status)

	// Cancelled numbers reject further work.
	rec = comps.request(t, http.MethodPost, fmt.Sprintf("/api/v1/numbers/%s/cancel", number.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = comps.request(t, http.MethodPost, fmt.Sprintf("/api/v1/numbers/%s/retry", number.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProvisioningHandler_ErrorMapping(t *testing.T) {
	comps := setupHandlerTest(t)

	rec := comps.request(t, http.MethodGet, fmt.Sprintf("/api/v1/numbers/%s/status", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "number not found", errBody.Error)

	rec = comps.request(t, http.MethodGet, "/api/v1/numbers/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Suspending a number that has not been provisioned yet is a conflict.
	created := comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
		CustomerID:  uuid.NewString(),
		PhoneNumber: "+15550001234",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	number := decodeBody[domain.PurchasedNumber](t, created)

	rec = comps.request(t, http.MethodPost, fmt.Sprintf("/api/v1/numbers/%s/suspend", number.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProvisioningHandler_QueueStats(t *testing.T) {
	comps := setupHandlerTest(t)

	rec := comps.request(t, http.MethodPost, "/api/v1/numbers", RegisterPurchaseRequest{
		CustomerID:  uuid.NewString(),
		PhoneNumber: "+15550001234",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = comps.request(t, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decodeBody[domain.TaskCounts](t, rec)
	assert.Equal(t, 1, counts.Pending)
}

func TestProvisioningHandler_ProcessorControl(t *testing.T) {
	comps := setupHandlerTest(t)

	rec := comps.request(t, http.MethodGet, "/api/v1/processor/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[app.ProcessorStatus](t, rec)
	assert.Equal(t, app.ProcessorStopped, status.State)

	rec = comps.request(t, http.MethodPost, "/api/v1/processor/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second start reports the conflict instead of spawning another loop.
	rec = comps.request(t, http.MethodPost, "/api/v1/processor/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = comps.request(t, http.MethodPost, "/api/v1/processor/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decodeBody[app.ProcessorStatus](t, rec)
	assert.Equal(t, app.ProcessorStopped, status.State)
}

func TestAdminAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Use(AdminAuthMiddleware("sekrit", logger))
	router.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	testCases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"MissingHeader", "", http.StatusUnauthorized},
		{"NotBearer", "Basic sekrit", http.StatusUnauthorized},
		{"WrongToken", "Bearer wrong", http.StatusUnauthorized},
		{"ValidToken", "Bearer sekrit", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}
