package evidence

import "context"

// Repository stores evidence rows. Reads outside InTx see committed state.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, id int64) (*Evidence, error)
	// ListByPermit orders by timestamp descending.
	ListByPermit(ctx context.Context, permitID int64) ([]Evidence, error)
	Stats(ctx context.Context, permitID int64) (Stats, error)
	Permit(ctx context.Context, permitID int64) (*PermitRef, error)
}

// Tx is the transactional view used by the coordinator.
type Tx interface {
	// LockPermit returns permit.ErrNotFound when the permit does not exist.
	LockPermit(ctx context.Context, permitID int64) (*PermitRef, error)
	Insert(ctx context.Context, e *Evidence) error
	GetForUpdate(ctx context.Context, id int64) (*Evidence, error)
	UpdateDetails(ctx context.Context, id int64, category Category, description string) error
	Delete(ctx context.Context, id int64) error
	SetSWMSPath(ctx context.Context, permitID int64, path string) error
}
