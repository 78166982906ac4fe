// -----------------------------------------------------------------------
// Queue Adapter - backend selection and process-wide default
// -----------------------------------------------------------------------

package queue

import (
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
)

// Backend names accepted by the configuration switch
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

var (
	defaultAdapter interfaces.QueueAdapter
	defaultMu      sync.Mutex
)

// NewAdapter constructs the queue backend selected by config. Selecting the
// durable backend without a database handle is a startup-time fatal error in
// production and a logged in-memory fallback otherwise.
func NewAdapter(cfg *common.QueueConfig, environment string, db *badgerdb.DB, logger arbor.ILogger) (interfaces.QueueAdapter, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		logger.Info().Msg("Using in-memory queue backend (single instance only)")
		return NewMemoryAdapter(logger), nil

	case BackendBadger:
		if db == nil {
			if environment == "production" {
				return nil, fmt.Errorf("queue backend %q selected but no badger database configured", cfg.Backend)
			}
			logger.Warn().Msg("Badger queue backend selected without a database; falling back to in-memory")
			return NewMemoryAdapter(logger), nil
		}
		return NewBadgerAdapter(db, cfg, logger)

	default:
		return nil, fmt.Errorf("unknown queue backend: %q", cfg.Backend)
	}
}

// Default returns the process-wide adapter, or nil if not initialized
func Default() interfaces.QueueAdapter {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultAdapter
}

// SetDefault installs the process-wide adapter, constructed once at startup
func SetDefault(adapter interfaces.QueueAdapter) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultAdapter = adapter
}

// ResetDefault clears the process-wide adapter. Test hook.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAdapter != nil {
		_ = defaultAdapter.Close()
	}
	defaultAdapter = nil
}

// Backoff returns the exponential retry delay for the given attempt number,
// doubling from base and capped at max. Attempt counts from 1.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
