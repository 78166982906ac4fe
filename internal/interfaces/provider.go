package interfaces

import (
	"context"

	"github.com/store3d/forge/internal/models"
)

// ProviderStatus is the coarse state a provider reports for a generation
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusSucceeded ProviderStatus = "succeeded"
	ProviderStatusFailed    ProviderStatus = "failed"
)

// ProviderUpdate is one observation of a provider-side generation. The
// provider is async in practice; the worker polls it across ticks.
type ProviderUpdate struct {
	Status        ProviderStatus
	ProviderJobID string
	Progress      int // 0-100, best effort
	Result        *models.GenerationResult
	ErrorMessage  string
}

// GenerationProvider is the capability that turns a prompt or source image
// into a 3D asset. Start submits the work, Poll observes it.
type GenerationProvider interface {
	Name() string
	Start(ctx context.Context, job *models.Job) (*ProviderUpdate, error)
	Poll(ctx context.Context, job *models.Job) (*ProviderUpdate, error)
}
