package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
)

// queueEntry is the internal structure stored per runnable unit
type queueEntry struct {
	EntryID    string    `json:"entry_id"`
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	VisibleAt  time.Time `json:"visible_at"`
}

// failureRecord is one row of the bounded failed-entry history
type failureRecord struct {
	JobID    string    `json:"job_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// BadgerAdapter implements a durable queue backend on BadgerDB. Entries
// survive restarts; the visibility index keeps them ordered by due time.
// Failed-entry history is trimmed to a bounded depth.
type BadgerAdapter struct {
	db              *badgerdb.DB
	queueName       string
	failureLogDepth int
	logger          arbor.ILogger
}

// NewBadgerAdapter creates a durable Badger-backed queue adapter
func NewBadgerAdapter(db *badgerdb.DB, cfg *common.QueueConfig, logger arbor.ILogger) (*BadgerAdapter, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	name := cfg.Name
	if name == "" {
		name = "forge_jobs"
	}
	depth := cfg.FailureLogDepth
	if depth <= 0 {
		depth = 200
	}

	return &BadgerAdapter{
		db:              db,
		queueName:       name,
		failureLogDepth: depth,
		logger:          logger,
	}, nil
}

func (a *BadgerAdapter) Enqueue(ctx context.Context, jobID string, opts *interfaces.EnqueueOptions) error {
	return a.db.Update(func(txn *badgerdb.Txn) error {
		// Dedup key under the stable job id makes re-enqueue a no-op
		dedupKey := a.dedupKey(jobID)
		if _, err := txn.Get(dedupKey); err == nil {
			return nil
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}

		entryID := uuid.New().String()
		if err := a.writeEntry(txn, jobID, entryID, delayOf(opts)); err != nil {
			return err
		}
		return txn.Set(dedupKey, []byte(entryID))
	})
}

func (a *BadgerAdapter) Ack(ctx context.Context, jobID string) error {
	return a.db.Update(func(txn *badgerdb.Txn) error {
		return a.removeJob(txn, jobID)
	})
}

func (a *BadgerAdapter) Fail(ctx context.Context, jobID string, reason string) error {
	err := a.db.Update(func(txn *badgerdb.Txn) error {
		if err := a.removeJob(txn, jobID); err != nil {
			return err
		}

		record := failureRecord{JobID: jobID, Reason: reason, FailedAt: time.Now()}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal failure record: %w", err)
		}
		key := []byte(fmt.Sprintf("queue:%s:failed:%020d:%s", a.queueName, record.FailedAt.UnixNano(), jobID))
		if err := txn.Set(key, data); err != nil {
			return err
		}

		return a.trimFailureLog(txn)
	})
	if err != nil {
		return err
	}

	a.logger.Warn().Str("job_id", jobID).Str("reason", reason).Msg("Job removed from queue after failure")
	return nil
}

func (a *BadgerAdapter) Retry(ctx context.Context, jobID string, opts *interfaces.EnqueueOptions) error {
	// Fresh entry id; deliberately no dedup key so the retry cannot collide
	// with the guard protecting the original enqueue.
	return a.db.Update(func(txn *badgerdb.Txn) error {
		return a.writeEntry(txn, jobID, uuid.New().String(), delayOf(opts))
	})
}

func (a *BadgerAdapter) Depth(ctx context.Context) (int, error) {
	count := 0
	err := a.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:entry:", a.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close is a no-op; the database handle is managed externally
func (a *BadgerAdapter) Close() error {
	return nil
}

// Helpers

func (a *BadgerAdapter) writeEntry(txn *badgerdb.Txn, jobID, entryID string, delay time.Duration) error {
	now := time.Now()
	entry := queueEntry{
		EntryID:    entryID,
		JobID:      jobID,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	if err := txn.Set(a.entryKey(jobID, entryID), data); err != nil {
		return err
	}
	return txn.Set(a.indexKey(entry.VisibleAt, entryID), []byte(jobID))
}

// removeJob deletes every entry, index key and the dedup key for a job
func (a *BadgerAdapter) removeJob(txn *badgerdb.Txn, jobID string) error {
	opts := badgerdb.DefaultIteratorOptions
	prefix := []byte(fmt.Sprintf("queue:%s:entry:%s:", a.queueName, jobID))
	it := txn.NewIterator(opts)

	type victim struct {
		entryKey []byte
		indexKey []byte
	}
	var victims []victim

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var entry queueEntry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			it.Close()
			return err
		}
		victims = append(victims, victim{
			entryKey: item.KeyCopy(nil),
			indexKey: a.indexKey(entry.VisibleAt, entry.EntryID),
		})
	}
	it.Close()

	for _, v := range victims {
		if err := txn.Delete(v.entryKey); err != nil {
			return err
		}
		if err := txn.Delete(v.indexKey); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
	}

	if err := txn.Delete(a.dedupKey(jobID)); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	return nil
}

// trimFailureLog deletes the oldest failure records beyond the configured
// depth so failed-job history does not grow unbounded.
func (a *BadgerAdapter) trimFailureLog(txn *badgerdb.Txn) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := []byte(fmt.Sprintf("queue:%s:failed:", a.queueName))
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	// Keys sort oldest first; drop from the front
	excess := len(keys) - a.failureLogDepth
	for i := 0; i < excess; i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

func (a *BadgerAdapter) entryKey(jobID, entryID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:entry:%s:%s", a.queueName, jobID, entryID))
}

func (a *BadgerAdapter) dedupKey(jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dedup:%s", a.queueName, jobID))
}

func (a *BadgerAdapter) indexKey(visibleAt time.Time, entryID string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", a.queueName, visibleAt.UnixNano(), entryID))
}
