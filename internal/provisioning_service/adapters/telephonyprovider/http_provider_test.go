package telephonyprovider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPProvider(logger, server.URL, "test-key", server.Client())
}

func TestHTTPProvider_Provision(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesResource", func(t *testing.T) {
		p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/numbers", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body provisionRequestBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "+15550001234", body.PhoneNumber)
			assert.Equal(t, "num-1", body.IdempotencyKey)

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(provisionResponseBody{ResourceID: "ext-42", Status: "active"})
		})

		externalID, err := p.Provision(ctx, ProvisionRequest{NumberID: "num-1", PhoneNumber: "+15550001234"})
		require.NoError(t, err)
		assert.Equal(t, "ext-42", externalID)
	})

	t.Run("VerifiesExistingResource", func(t *testing.T) {
		p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/numbers/ext-42", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		})

		externalID, err := p.Provision(ctx, ProvisionRequest{NumberID: "num-1", PhoneNumber: "+15550001234", ExternalID: "ext-42"})
		require.NoError(t, err)
		assert.Equal(t, "ext-42", externalID)
	})

	t.Run("MissingResourceIDIsPermanent", func(t *testing.T) {
		p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(provisionResponseBody{Message: "queued for review"})
		})

		_, err := p.Provision(ctx, ProvisionRequest{NumberID: "num-1", PhoneNumber: "+15550001234"})
		assert.True(t, IsPermanent(err))
	})
}

func TestHTTPProvider_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	statusCases := []struct {
		name      string
		status    int
		transient bool
	}{
		{"ServerErrorIsTransient", http.StatusInternalServerError, true},
		{"BadGatewayIsTransient", http.StatusBadGateway, true},
		{"RateLimitIsTransient", http.StatusTooManyRequests, true},
		{"BadRequestIsPermanent", http.StatusBadRequest, false},
		{"NotFoundIsPermanent", http.StatusNotFound, false},
		{"ConflictIsPermanent", http.StatusConflict, false},
	}

	for _, tc := range statusCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestHTTPProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(errorResponseBody{Code: tc.status, Message: "provider says no"})
			})

			err := p.Cancel(ctx, "ext-42")
			require.Error(t, err)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Contains(t, pe.Message, "provider says no")
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}

	t.Run("NetworkErrorIsTransient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close() // connection refused from here on
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		p := NewHTTPProvider(logger, server.URL, "test-key", nil)

		err := p.Suspend(ctx, "ext-42")
		assert.True(t, IsTransient(err))
	})
}
