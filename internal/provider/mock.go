package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

// Prompt markers the mock provider reacts to. Used by tests and local
// development to exercise the failure paths.
const (
	MarkerFatal     = "[mock:fatal]"
	MarkerTransient = "[mock:transient]"
)

// MockProvider simulates an asynchronous generation service in memory.
// Start registers the job, each Poll advances progress by a fixed step, and
// the generation succeeds once progress reaches 100.
type MockProvider struct {
	mu       sync.Mutex
	progress map[string]int
	step     int
}

// NewMockProvider creates a mock provider advancing 50% per poll
func NewMockProvider() *MockProvider {
	return &MockProvider{
		progress: make(map[string]int),
		step:     50,
	}
}

// WithStep overrides the per-poll progress step
func (p *MockProvider) WithStep(step int) *MockProvider {
	if step > 0 {
		p.step = step
	}
	return p
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) Start(ctx context.Context, job *models.Job) (*interfaces.ProviderUpdate, error) {
	if strings.Contains(job.Prompt, MarkerFatal) {
		return nil, Fatal(fmt.Errorf("prompt rejected"))
	}
	if strings.Contains(job.Prompt, MarkerTransient) {
		return nil, Transient(fmt.Errorf("service busy"))
	}

	providerJobID := "mock-" + job.ID

	p.mu.Lock()
	p.progress[providerJobID] = 0
	p.mu.Unlock()

	return &interfaces.ProviderUpdate{
		Status:        interfaces.ProviderStatusPending,
		ProviderJobID: providerJobID,
		Progress:      0,
	}, nil
}

func (p *MockProvider) Poll(ctx context.Context, job *models.Job) (*interfaces.ProviderUpdate, error) {
	if job.ProviderJobID == "" {
		return nil, Fatal(fmt.Errorf("job has no provider job id"))
	}

	p.mu.Lock()
	current, ok := p.progress[job.ProviderJobID]
	if !ok {
		// Unknown to this instance (e.g. process restart); resume from the
		// job's own progress.
		current = job.Progress
	}
	current += p.step
	if current > 100 {
		current = 100
	}
	p.progress[job.ProviderJobID] = current
	p.mu.Unlock()

	if current < 100 {
		return &interfaces.ProviderUpdate{
			Status:        interfaces.ProviderStatusPending,
			ProviderJobID: job.ProviderJobID,
			Progress:      current,
		}, nil
	}

	return &interfaces.ProviderUpdate{
		Status:        interfaces.ProviderStatusSucceeded,
		ProviderJobID: job.ProviderJobID,
		Progress:      100,
		Result: &models.GenerationResult{
			ModelURL:   fmt.Sprintf("mock://models/%s.glb", job.ID),
			PreviewURL: fmt.Sprintf("mock://previews/%s.png", job.ID),
			Format:     "glb",
		},
	}, nil
}
