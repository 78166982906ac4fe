package badger

import (
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
)

// setupTestDB creates a throwaway Badger database for a test
func setupTestDB(t *testing.T) (*BadgerDB, func()) {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{
		Path: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}
}
