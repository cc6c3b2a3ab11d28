package telephonyprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// HTTPProvider talks to a REST-style telephony provider API.
//
// The Transient/Permanent split is intentionally mechanical: network errors,
// timeouts and 5xx responses are transient; 4xx responses are permanent. Do
// not encode provider-specific status-code folklore here; adjust the mapping
// through the response body's error code if a real provider contract
// requires it.
type HTTPProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPProvider creates an HTTPProvider. A nil httpClient gets a default
// with a 10s timeout.
func NewHTTPProvider(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		logger:     logger.With("provider", "http"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

func (p *HTTPProvider) GetName() string { return "http" }

type provisionRequestBody struct {
	PhoneNumber    string `json:"phone_number"`
	IdempotencyKey string `json:"idempotency_key"`
	ForwardingType string `json:"forwarding_type"`
	Destination    string `json:"destination,omitempty"`
	SMSEnabled     bool   `json:"sms_enabled"`
}

type provisionResponseBody struct {
	ResourceID string `json:"resource_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

type errorResponseBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *HTTPProvider) Provision(ctx context.Context, req ProvisionRequest) (string, error) {
	// Idempotency: a retried provision for a number that already holds an
	// external resource verifies it instead of creating a duplicate.
	if req.ExternalID != "" {
		if err := p.do(ctx, "provision", http.MethodGet, "/v1/numbers/"+req.ExternalID, nil, nil); err != nil {
			return "", err
		}
		p.logger.InfoContext(ctx, "Existing provider resource verified, skipping create",
			"external_id", req.ExternalID, "number", req.PhoneNumber)
		return req.ExternalID, nil
	}

	body := provisionRequestBody{
		PhoneNumber:    req.PhoneNumber,
		IdempotencyKey: req.NumberID,
		ForwardingType: string(req.Forwarding.Type),
		Destination:    req.Forwarding.Destination,
		SMSEnabled:     req.Forwarding.SMSEnabled,
	}
	var resp provisionResponseBody
	if err := p.do(ctx, "provision", http.MethodPost, "/v1/numbers", body, &resp); err != nil {
		return "", err
	}
	if resp.ResourceID == "" {
		return "", Permanent("provision", 0, "provider returned no resource_id: "+resp.Message, nil)
	}
	return resp.ResourceID, nil
}

func (p *HTTPProvider) UpdateConfig(ctx context.Context, externalID string, cfg domain.ForwardingConfig) error {
	body := provisionRequestBody{
		ForwardingType: string(cfg.Type),
		Destination:    cfg.Destination,
		SMSEnabled:     cfg.SMSEnabled,
	}
	return p.do(ctx, "update", http.MethodPut, "/v1/numbers/"+externalID+"/config", body, nil)
}

func (p *HTTPProvider) Cancel(ctx context.Context, externalID string) error {
	return p.do(ctx, "cancel", http.MethodDelete, "/v1/numbers/"+externalID, nil, nil)
}

func (p *HTTPProvider) Suspend(ctx context.Context, externalID string) error {
	return p.do(ctx, "suspend", http.MethodPost, "/v1/numbers/"+externalID+"/suspend", nil, nil)
}

func (p *HTTPProvider) Reactivate(ctx context.Context, externalID string) error {
	return p.do(ctx, "reactivate", http.MethodPost, "/v1/numbers/"+externalID+"/reactivate", nil, nil)
}

// do performs one provider API call and classifies the outcome.
func (p *HTTPProvider) do(ctx context.Context, operation, method, path string, reqBody, respBody any) error {
	var reader io.Reader
	if reqBody != nil {
		jsonBytes, err := json.Marshal(reqBody)
		if err != nil {
			return Permanent(operation, 0, "failed to marshal request body", err)
		}
		reader = bytes.NewReader(jsonBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return Permanent(operation, 0, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Network failures and timeouts are retryable.
		if errors.Is(err, context.Canceled) {
			return Transient(operation, 0, "request cancelled", err)
		}
		return Transient(operation, 0, "provider request failed", err)
	}
	defer httpResp.Body.Close()

	p.logger.DebugContext(ctx, "Provider API call finished",
		"operation", operation, "method", method, "path", path,
		"status", httpResp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return Transient(operation, httpResp.StatusCode, "failed to read provider response", err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		if respBody != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, respBody); err != nil {
				return Permanent(operation, httpResp.StatusCode, "malformed provider response", err)
			}
		}
		return nil
	case httpResp.StatusCode >= 500:
		return Transient(operation, httpResp.StatusCode, providerMessage(raw), nil)
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return Transient(operation, httpResp.StatusCode, providerMessage(raw), nil)
	default:
		return Permanent(operation, httpResp.StatusCode, providerMessage(raw), nil)
	}
}

func providerMessage(raw []byte) string {
	var errResp errorResponseBody
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Message != "" {
		return fmt.Sprintf("provider error %d: %s", errResp.Code, errResp.Message)
	}
	if len(raw) == 0 {
		return "provider returned an empty error body"
	}
	return string(raw)
}
