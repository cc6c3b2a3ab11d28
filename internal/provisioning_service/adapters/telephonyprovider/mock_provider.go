package telephonyprovider

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtnum/golang_services/internal/provisioning_service/domain"
)

// MockProvider is a simulated telephony provider for development and tests.
// It remembers the resources it "created" so idempotent re-provisioning and
// later lifecycle calls behave like a real provider.
type MockProvider struct {
	logger       *slog.Logger
	name         string
	failRate     float64 // chance to simulate a transient failure (0.0 to 1.0)
	minLatencyMs int
	maxLatencyMs int

	mu        sync.Mutex
	resources map[string]string // externalID -> phone number
}

// NewMockProvider creates a MockProvider. A failRate of 0 makes it fully
// deterministic.
func NewMockProvider(logger *slog.Logger, name string, failRate float64, minLatencyMs, maxLatencyMs int) *MockProvider {
	if name == "" {
		name = "mock-telephony"
	}
	return &MockProvider{
		logger:       logger.With("provider", name),
		name:         name,
		failRate:     failRate,
		minLatencyMs: minLatencyMs,
		maxLatencyMs: maxLatencyMs,
		resources:    make(map[string]string),
	}
}

func (p *MockProvider) GetName() string { return p.name }

func (p *MockProvider) simulate(ctx context.Context, operation string) error {
	if p.maxLatencyMs > 0 {
		latency := p.minLatencyMs
		if p.maxLatencyMs > p.minLatencyMs {
			latency += rand.Intn(p.maxLatencyMs - p.minLatencyMs + 1)
		}
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return Transient(operation, 0, "simulated call cancelled", ctx.Err())
		}
	}
	if rand.Float64() < p.failRate {
		return Transient(operation, 503, "simulated provider outage", nil)
	}
	return nil
}

func (p *MockProvider) Provision(ctx context.Context, req ProvisionRequest) (string, error) {
	if err := p.simulate(ctx, "provision"); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Idempotency: verify an existing resource instead of creating another.
	if req.ExternalID != "" {
		if _, ok := p.resources[req.ExternalID]; ok {
			p.logger.InfoContext(ctx, "MockProvider: resource already exists, skipping create",
				"external_id", req.ExternalID, "number", req.PhoneNumber)
			return req.ExternalID, nil
		}
		return "", Permanent("provision", 404, fmt.Sprintf("unknown external resource %q", req.ExternalID), nil)
	}

	externalID := "mock-" + uuid.NewString()
	p.resources[externalID] = req.PhoneNumber
	p.logger.InfoContext(ctx, "MockProvider: number provisioned (simulated)",
		"number", req.PhoneNumber, "external_id", externalID, "forwarding", string(req.Forwarding.Type))
	return externalID, nil
}

func (p *MockProvider) UpdateConfig(ctx context.Context, externalID string, cfg domain.ForwardingConfig) error {
	if err := p.simulate(ctx, "update"); err != nil {
		return err
	}
	return p.requireResource(ctx, "update", externalID)
}

func (p *MockProvider) Cancel(ctx context.Context, externalID string) error {
	if err := p.simulate(ctx, "cancel"); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Cancelling an already-removed resource is a success, not an error.
	delete(p.resources, externalID)
	p.logger.InfoContext(ctx, "MockProvider: number cancelled (simulated)", "external_id", externalID)
	return nil
}

func (p *MockProvider) Suspend(ctx context.Context, externalID string) error {
	if err := p.simulate(ctx, "suspend"); err != nil {
		return err
	}
	return p.requireResource(ctx, "suspend", externalID)
}

func (p *MockProvider) Reactivate(ctx context.Context, externalID string) error {
	if err := p.simulate(ctx, "reactivate"); err != nil {
		return err
	}
	return p.requireResource(ctx, "reactivate", externalID)
}

func (p *MockProvider) requireResource(ctx context.Context, operation, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.resources[externalID]; !ok {
		return Permanent(operation, 404, fmt.Sprintf("unknown external resource %q", externalID), nil)
	}
	p.logger.InfoContext(ctx, "MockProvider: operation applied (simulated)",
		"operation", operation, "external_id", externalID)
	return nil
}
