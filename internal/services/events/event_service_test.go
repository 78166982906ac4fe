package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/interfaces"
)

func TestSubscribe_RejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	err := svc.Subscribe(interfaces.EventJobCreated, nil)
	assert.Error(t, err)
}

func TestPublish_DeliversToSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, handler))

	err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated})
	require.NoError(t, err)

	// Delivery is async
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublish_IgnoresUnsubscribedTypes(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed})
	assert.NoError(t, err)
}

func TestPublishSync_AggregatesErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("delivery failed")
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted})
	assert.Error(t, err)
}

func TestClose_DropsSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var calls atomic.Int32
	require.NoError(t, svc.Subscribe(interfaces.EventJobCreated, func(ctx context.Context, event interfaces.Event) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, svc.Close())

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCreated})
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load())
}
