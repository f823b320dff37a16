package permit

import (
	"context"
	"time"
)

// StatusChange carries the columns written together with a status change.
type StatusChange struct {
	RejectionReason *string
	EndTime         *time.Time
}

// Repository is the permit store. Reads outside InTx see committed state.
type Repository interface {
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Get(ctx context.Context, id int64) (*Permit, error)
	Details(ctx context.Context, id int64) (*Details, error)
	List(ctx context.Context, f Filter) ([]Permit, error)
}

// Tx is the transactional view used by the workflow.
type Tx interface {
	Create(ctx context.Context, p *Permit, team []TeamMember) error
	// GetForUpdate loads and locks the permit row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id int64) (*Permit, error)
	// UpdateDraft rewrites the editable columns and replaces the team.
	UpdateDraft(ctx context.Context, p *Permit, team []TeamMember) error
	// Delete removes the permit and its children, returning stored file
	// URLs that referenced it.
	Delete(ctx context.Context, id int64) ([]string, error)

	// CompareAndSetStatus moves id from expected to next. Zero affected rows
	// yields ErrConcurrentUpdate.
	CompareAndSetStatus(ctx context.Context, id int64, expected, next Status, change StatusChange) error

	CreateApprovals(ctx context.Context, permitID int64, roles []ApproverRole) error
	Approvals(ctx context.Context, permitID int64) ([]Approval, error)
	// DecideApproval settles a Pending approval. A non-pending row yields ErrConcurrentUpdate.
	DecideApproval(ctx context.Context, approvalID int64, decision Decision, approverID int64, comments, signature string, at time.Time) error

	InsertClosure(ctx context.Context, c *Closure) error

	InsertExtension(ctx context.Context, e *Extension) error
	PendingExtension(ctx context.Context, permitID int64) (*Extension, error)
	DecideExtension(ctx context.Context, extensionID int64, decision Decision, deciderID int64, comments string, at time.Time) error
}

// ApprovalPolicy resolves the roles that must sign a permit.
type ApprovalPolicy interface {
	RequiredRoles(ctx context.Context, p *Permit) ([]ApproverRole, error)
}
