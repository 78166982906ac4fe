package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/models"
	"github.com/store3d/forge/internal/services/bridge"
	badgerstorage "github.com/store3d/forge/internal/storage/badger"
)

const testBridgeToken = "tok_bridge_test"

func setupBridgeHandler(t *testing.T) *BridgeHandler {
	t.Helper()

	logger := arbor.NewLogger()
	manager, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Errorf("Failed to close storage: %v", err)
		}
	})

	ctx := context.Background()
	require.NoError(t, manager.UserStorage().SaveUser(ctx, &models.User{
		ID:          "user-1",
		Email:       "user-1@example.com",
		BridgeToken: testBridgeToken,
	}))

	svc := bridge.NewService(common.NewDefaultConfig(), manager.BridgeStorage(), manager.UserStorage(), logger)

	// A completed job with a queued delivery awaiting pickup
	require.NoError(t, svc.HandleJobCompleted(ctx, interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: &models.Job{
			ID:     "job-1",
			UserID: "user-1",
			Result: &models.GenerationResult{ModelURL: "mock://models/job-1.glb", Format: "glb"},
		},
	}))

	return NewBridgeHandler(svc, logger)
}

func doAck(h *BridgeHandler, jobID, body, token string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/dcc/blender/jobs/"+jobID+"/ack", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	h.AckDeliveryHandler(rec, req)
	return rec
}

func TestAckDeliveryHandler_AddonHandshake(t *testing.T) {
	h := setupBridgeHandler(t)

	// The addon acks by job id: picked before the download, imported after
	rec := doAck(h, "job-1", `{"status": "picked", "message": "Picked by Blender addon."}`, testBridgeToken)
	require.Equal(t, 200, rec.Code, "picked ack: %s", rec.Body.String())

	rec = doAck(h, "job-1", `{"status": "imported", "message": "Imported to Blender."}`, testBridgeToken)
	require.Equal(t, 200, rec.Code, "imported ack: %s", rec.Body.String())

	var delivery models.BridgeDelivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &delivery))
	assert.Equal(t, models.BridgeDeliveryImported, delivery.Status)
	assert.Equal(t, "job-1", delivery.JobID)
}

func TestAckDeliveryHandler_ErrorStatusMapsToFailed(t *testing.T) {
	h := setupBridgeHandler(t)

	rec := doAck(h, "job-1", `{"status": "error", "message": "Import failed: bad mesh"}`, testBridgeToken)
	require.Equal(t, 200, rec.Code, "error ack: %s", rec.Body.String())

	var delivery models.BridgeDelivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &delivery))
	assert.Equal(t, models.BridgeDeliveryFailed, delivery.Status)
	assert.Equal(t, "Import failed: bad mesh", delivery.Message)
}

func TestAckDeliveryHandler_Rejections(t *testing.T) {
	h := setupBridgeHandler(t)

	// Unknown status
	rec := doAck(h, "job-1", `{"status": "done"}`, testBridgeToken)
	assert.Equal(t, 400, rec.Code)

	// Unknown job
	rec = doAck(h, "job-9", `{"status": "picked"}`, testBridgeToken)
	assert.Equal(t, 404, rec.Code)

	// Missing token
	rec = doAck(h, "job-1", `{"status": "picked"}`, "")
	assert.Equal(t, 401, rec.Code)
}
