package pg

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"safeworks.org/ptw/internal/permit"
)

const permitColumns = `id, serial, site_id, created_by, vendor_id, permit_type, location, description,
	start_time, end_time, receiver_name, receiver_signature, swms_path, status, rejection_reason,
	created_at, updated_at`

const approvalColumns = `id, permit_id, approver_id, role, status, comments, signature, approved_at, created_at`

const extensionColumns = `id, permit_id, requested_by, new_end_time, reason, status, decided_by, decided_at, comments, created_at`

type permitRepo struct{ s *Store }

type permitTx struct{ tx *sqlx.Tx }

func (r permitRepo) InTx(ctx context.Context, fn func(tx permit.Tx) error) error {
	return r.s.inTx(ctx, func(tx *sqlx.Tx) error { return fn(permitTx{tx}) })
}

func (r permitRepo) Get(ctx context.Context, id int64) (*permit.Permit, error) {
	var p permit.Permit
	err := r.s.db.GetContext(ctx, &p, `select `+permitColumns+` from permits where id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permit.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select permit")
	}
	return &p, nil
}

func (r permitRepo) Details(ctx context.Context, id int64) (*permit.Details, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &permit.Details{
		Permit:     *p,
		Team:       []permit.TeamMember{},
		Approvals:  []permit.Approval{},
		Extensions: []permit.Extension{},
	}
	if err := r.s.db.SelectContext(ctx, &d.Team, `
		select id, permit_id, worker_name, worker_role, badge_id, is_qualified
		from permit_team_members where permit_id = $1 order by id
	`, id); err != nil {
		return nil, errors.Wrap(err, "select team")
	}
	if err := r.s.db.SelectContext(ctx, &d.Approvals,
		`select `+approvalColumns+` from permit_approvals where permit_id = $1 order by id`, id); err != nil {
		return nil, errors.Wrap(err, "select approvals")
	}
	if err := r.s.db.SelectContext(ctx, &d.Extensions,
		`select `+extensionColumns+` from permit_extensions where permit_id = $1 order by id`, id); err != nil {
		return nil, errors.Wrap(err, "select extensions")
	}
	var c permit.Closure
	err = r.s.db.GetContext(ctx, &c, `
		select id, permit_id, closed_by, closed_at, housekeeping_done, tools_removed,
		       locks_removed, area_restored, remarks
		from permit_closures where permit_id = $1
	`, id)
	switch {
	case err == nil:
		d.Closure = &c
	case !errors.Is(err, sql.ErrNoRows):
		return nil, errors.Wrap(err, "select closure")
	}
	return d, nil
}

func (r permitRepo) List(ctx context.Context, f permit.Filter) ([]permit.Permit, error) {
	var statuses []string
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	out := []permit.Permit{}
	err := r.s.db.SelectContext(ctx, &out, `
		select `+permitColumns+` from permits
		where ($1::text[] is null or status = any($1))
		  and ($2::bigint = 0 or site_id = $2)
		  and ($3::bigint = 0 or created_by = $3)
		order by id desc
		limit $4
	`, pq.Array(statuses), f.SiteID, f.CreatedBy, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list permits")
	}
	return out, nil
}

// refErr maps foreign key failures on site, vendor or user references.
func refErr(err error, what string) error {
	if isCode(err, pgErrForeignKeyViolation) {
		return errors.Wrap(permit.ErrUnknownReference, what)
	}
	return errors.Wrap(err, what)
}

func (t permitTx) insertTeam(ctx context.Context, permitID int64, team []permit.TeamMember) error {
	for _, m := range team {
		if _, err := t.tx.ExecContext(ctx, `
			insert into permit_team_members (permit_id, worker_name, worker_role, badge_id, is_qualified)
			values ($1, $2, $3, $4, $5)
		`, permitID, m.Name, m.Role, m.BadgeID, m.Qualified); err != nil {
			return errors.Wrap(err, "insert team member")
		}
	}
	return nil
}

func (t permitTx) Create(ctx context.Context, p *permit.Permit, team []permit.TeamMember) error {
	err := t.tx.QueryRowxContext(ctx, `
		insert into permits (serial, site_id, created_by, vendor_id, permit_type, location, description,
		                     start_time, end_time, receiver_name, receiver_signature, status, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		returning id
	`, p.Serial, p.SiteID, p.CreatedBy, p.VendorID, p.Type, p.Location, p.Description,
		p.StartTime, p.EndTime, p.ReceiverName, p.ReceiverSignature, p.Status, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return refErr(err, "insert permit")
	}
	return t.insertTeam(ctx, p.ID, team)
}

func (t permitTx) GetForUpdate(ctx context.Context, id int64) (*permit.Permit, error) {
	var p permit.Permit
	err := t.tx.GetContext(ctx, &p, `select `+permitColumns+` from permits where id = $1 for update`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permit.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock permit")
	}
	return &p, nil
}

func (t permitTx) UpdateDraft(ctx context.Context, p *permit.Permit, team []permit.TeamMember) error {
	res, err := t.tx.ExecContext(ctx, `
		update permits
		set site_id = $2, vendor_id = $3, permit_type = $4, location = $5, description = $6,
		    start_time = $7, end_time = $8, receiver_name = $9, receiver_signature = $10, updated_at = $11
		where id = $1 and status = 'Draft'
	`, p.ID, p.SiteID, p.VendorID, p.Type, p.Location, p.Description,
		p.StartTime, p.EndTime, p.ReceiverName, p.ReceiverSignature, p.UpdatedAt)
	if err != nil {
		return refErr(err, "update permit")
	}
	if err := affected(res, nil, permit.ErrConcurrentUpdate, "update permit"); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `delete from permit_team_members where permit_id = $1`, p.ID); err != nil {
		return errors.Wrap(err, "clear team")
	}
	return t.insertTeam(ctx, p.ID, team)
}

func (t permitTx) Delete(ctx context.Context, id int64) ([]string, error) {
	var files []string
	if err := t.tx.SelectContext(ctx, &files, `
		select file_path from evidences where permit_id = $1
		union all
		select swms_path from permits where id = $1 and swms_path <> ''
	`, id); err != nil {
		return nil, errors.Wrap(err, "select permit files")
	}
	res, err := t.tx.ExecContext(ctx, `delete from permits where id = $1`, id)
	if err := affected(res, err, permit.ErrNotFound, "delete permit"); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (t permitTx) CompareAndSetStatus(ctx context.Context, id int64, expected, next permit.Status, change permit.StatusChange) error {
	res, err := t.tx.ExecContext(ctx, `
		update permits
		set status = $3,
		    rejection_reason = coalesce($4, rejection_reason),
		    end_time = coalesce($5, end_time),
		    updated_at = now()
		where id = $1 and status = $2
	`, id, expected, next, change.RejectionReason, change.EndTime)
	return affected(res, err, permit.ErrConcurrentUpdate, "update permit status")
}

func (t permitTx) CreateApprovals(ctx context.Context, permitID int64, roles []permit.ApproverRole) error {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into permit_approvals (permit_id, role, status)
		select $1, unnest($2::text[]), 'Pending'
	`, permitID, pq.Array(names))
	if isCode(err, pgErrUniqueViolation) {
		return errors.Wrap(permit.ErrConcurrentUpdate, "pending approval exists")
	}
	return errors.Wrap(err, "insert approvals")
}

func (t permitTx) Approvals(ctx context.Context, permitID int64) ([]permit.Approval, error) {
	var out []permit.Approval
	if err := t.tx.SelectContext(ctx, &out,
		`select `+approvalColumns+` from permit_approvals where permit_id = $1 order by id`, permitID); err != nil {
		return nil, errors.Wrap(err, "select approvals")
	}
	return out, nil
}

func (t permitTx) DecideApproval(ctx context.Context, approvalID int64, decision permit.Decision, approverID int64, comments, signature string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		update permit_approvals
		set status = $2, approver_id = $3, comments = $4, signature = $5, approved_at = $6
		where id = $1 and status = 'Pending'
	`, approvalID, decision, approverID, comments, signature, at)
	return affected(res, err, permit.ErrConcurrentUpdate, "decide approval")
}

func (t permitTx) InsertClosure(ctx context.Context, c *permit.Closure) error {
	err := t.tx.QueryRowxContext(ctx, `
		insert into permit_closures (permit_id, closed_by, closed_at, housekeeping_done, tools_removed,
		                             locks_removed, area_restored, remarks)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, c.PermitID, c.ClosedBy, c.ClosedAt, c.Housekeeping, c.ToolsRemoved, c.LocksRemoved, c.AreaRestored, c.Remarks,
	).Scan(&c.ID)
	if isCode(err, pgErrUniqueViolation) {
		return permit.ErrAlreadyClosed
	}
	if err != nil {
		return refErr(err, "insert closure")
	}
	return nil
}

func (t permitTx) InsertExtension(ctx context.Context, e *permit.Extension) error {
	err := t.tx.QueryRowxContext(ctx, `
		insert into permit_extensions (permit_id, requested_by, new_end_time, reason, status, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, e.PermitID, e.RequestedBy, e.NewEndTime, e.Reason, e.Status, e.CreatedAt).Scan(&e.ID)
	if isCode(err, pgErrUniqueViolation) {
		return errors.Wrap(permit.ErrConcurrentUpdate, "pending extension exists")
	}
	if err != nil {
		return refErr(err, "insert extension")
	}
	return nil
}

func (t permitTx) PendingExtension(ctx context.Context, permitID int64) (*permit.Extension, error) {
	var e permit.Extension
	err := t.tx.GetContext(ctx, &e,
		`select `+extensionColumns+` from permit_extensions where permit_id = $1 and status = 'Pending' for update`, permitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permit.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select pending extension")
	}
	return &e, nil
}

func (t permitTx) DecideExtension(ctx context.Context, extensionID int64, decision permit.Decision, deciderID int64, comments string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		update permit_extensions
		set status = $2, decided_by = $3, comments = $4, decided_at = $5
		where id = $1 and status = 'Pending'
	`, extensionID, decision, deciderID, comments, at)
	return affected(res, err, permit.ErrConcurrentUpdate, "decide extension")
}
