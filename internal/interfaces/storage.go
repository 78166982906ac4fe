package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/store3d/forge/internal/models"
)

// ErrInsufficientFunds is returned by LedgerStorage when a debit would take
// a user balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// JobListOptions filters job listings
type JobListOptions struct {
	UserID   string
	Status   string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobStorage persists generation jobs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// GetEligibleJobs returns non-terminal jobs due for worker action at
	// now, FIFO by creation time, at most limit.
	GetEligibleJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)

	// GetQueueRelevantJobs returns all jobs contributing to the queue
	// snapshot, FIFO by creation time.
	GetQueueRelevantJobs(ctx context.Context) ([]*models.Job, error)

	// GetStaleJobs returns in-flight jobs not updated since the threshold
	GetStaleJobs(ctx context.Context, threshold time.Time) ([]*models.Job, error)

	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// LedgerStorage is the transactional substrate of the token ledger. Both
// methods couple the idempotency-key check, the balance mutation and the
// event append in a single store transaction.
type LedgerStorage interface {
	// AppendEvent inserts the event and applies its delta to the user
	// balance, unless an event with the same idempotency key already
	// exists, in which case nothing is written and applied is false.
	// Returns ErrInsufficientFunds when the delta would overdraw.
	AppendEvent(ctx context.Context, ev *models.TokenEvent) (applied bool, balanceAfter int, err error)

	// Settle writes the job settlement marker and, when this call is the
	// first writer, the accompanying event. When the marker already exists
	// nothing is written; existing reports which kind won.
	Settle(ctx context.Context, markerKey string, kind models.TokenEventType, ev *models.TokenEvent) (applied bool, existing models.TokenEventType, balanceAfter int, err error)

	// GetEventByKey fetches a single event by idempotency key
	GetEventByKey(ctx context.Context, key string) (*models.TokenEvent, error)

	// ListEvents returns a user's ledger, newest first
	ListEvents(ctx context.Context, userID string, limit int) ([]*models.TokenEvent, error)
}

// JobEventStorage persists the per-transition audit trail
type JobEventStorage interface {
	AppendJobEvent(ctx context.Context, ev *models.JobEvent) error
	ListJobEvents(ctx context.Context, jobID string) ([]*models.JobEvent, error)
}

// UserStorage persists user accounts
type UserStorage interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByBridgeToken(ctx context.Context, token string) (*models.User, error)
}

// BridgeStorage persists DCC bridge deliveries and pair codes
type BridgeStorage interface {
	SaveDelivery(ctx context.Context, d *models.BridgeDelivery) error
	GetDelivery(ctx context.Context, id string) (*models.BridgeDelivery, error)
	GetDeliveryByJobID(ctx context.Context, jobID string) (*models.BridgeDelivery, error)
	ListDeliveries(ctx context.Context, userID string, status models.BridgeDeliveryStatus) ([]*models.BridgeDelivery, error)
	SavePairCode(ctx context.Context, code *models.PairCode) error
	GetPairCode(ctx context.Context, code string) (*models.PairCode, error)
	DeletePairCode(ctx context.Context, code string) error
}

// StorageManager aggregates the storage interfaces over one database
type StorageManager interface {
	JobStorage() JobStorage
	LedgerStorage() LedgerStorage
	JobEventStorage() JobEventStorage
	UserStorage() UserStorage
	BridgeStorage() BridgeStorage

	// DB returns the underlying database handle
	DB() interface{}

	Close() error
}
