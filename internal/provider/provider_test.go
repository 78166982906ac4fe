package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
)

func TestErrorClassification(t *testing.T) {
	transient := Transient(errors.New("timeout"))
	fatal := Fatal(errors.New("bad input"))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestNew_SelectsProvider(t *testing.T) {
	p, err := New(&common.ProviderConfig{Default: "mock"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = New(&common.ProviderConfig{Default: ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	_, err = New(&common.ProviderConfig{Default: "remote"}, nil)
	require.Error(t, err) // no base URL configured

	p, err = New(&common.ProviderConfig{
		Default: "remote",
		Remote:  common.RemoteProviderConfig{BaseURL: "http://localhost:9999"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "remote", p.Name())

	_, err = New(&common.ProviderConfig{Default: "unknown"}, nil)
	require.Error(t, err)
}

func TestMockProvider_Lifecycle(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()
	job := &models.Job{ID: "job-1", Prompt: "a chair"}

	update, err := p.Start(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusPending, update.Status)
	assert.Equal(t, "mock-job-1", update.ProviderJobID)

	job.ProviderJobID = update.ProviderJobID

	update, err = p.Poll(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusPending, update.Status)
	assert.Equal(t, 50, update.Progress)

	update, err = p.Poll(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusSucceeded, update.Status)
	require.NotNil(t, update.Result)
	assert.Equal(t, "mock://models/job-1.glb", update.Result.ModelURL)
}

func TestMockProvider_Markers(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	_, err := p.Start(ctx, &models.Job{ID: "j", Prompt: MarkerFatal + " nope"})
	assert.True(t, IsFatal(err))

	_, err = p.Start(ctx, &models.Job{ID: "j", Prompt: MarkerTransient + " later"})
	assert.True(t, IsTransient(err))
}

func TestMockProvider_ResumesFromJobProgress(t *testing.T) {
	// Simulates a restart: the provider instance has no memory of the job
	p := NewMockProvider()
	ctx := context.Background()

	job := &models.Job{ID: "job-1", ProviderJobID: "mock-job-1", Progress: 50}
	update, err := p.Poll(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusSucceeded, update.Status)
}

func TestClient_StartAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/generations":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id": "gen-42", "status": "pending", "progress": 0}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/generations/gen-42":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id": "gen-42", "status": "succeeded", "progress": 100, "model_url": "https://cdn.example.com/m.glb", "format": "glb"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	ctx := context.Background()

	job := &models.Job{ID: "job-1", Mode: models.ModeTextTo3D, Prompt: "a chair"}
	update, err := client.Start(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusPending, update.Status)
	assert.Equal(t, "gen-42", update.ProviderJobID)

	job.ProviderJobID = update.ProviderJobID
	update, err = client.Poll(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ProviderStatusSucceeded, update.Status)
	require.NotNil(t, update.Result)
	assert.Equal(t, "https://cdn.example.com/m.glb", update.Result.ModelURL)
}

func TestClient_StatusMapping(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ctx := context.Background()
	job := &models.Job{ID: "job-1", Mode: models.ModeTextTo3D}

	// Throttling and server errors are transient
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		status = code
		_, err := client.Start(ctx, job)
		assert.True(t, IsTransient(err), "status %d should be transient", code)
	}

	// Client errors are fatal
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity} {
		status = code
		_, err := client.Start(ctx, job)
		assert.True(t, IsFatal(err), "status %d should be fatal", code)
	}
}

func TestClient_PollRequiresProviderJobID(t *testing.T) {
	client := NewClient("http://localhost:9999", "")
	_, err := client.Poll(context.Background(), &models.Job{ID: "job-1"})
	assert.True(t, IsFatal(err))
}
