package pg

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/permit"
)

const evidenceColumns = `id, permit_id, file_path, phase, category, description, "timestamp",
	latitude, longitude, uploaded_by, created_at`

type evidenceRepo struct{ s *Store }

type evidenceTx struct{ tx *sqlx.Tx }

func (r evidenceRepo) InTx(ctx context.Context, fn func(tx evidence.Tx) error) error {
	return r.s.inTx(ctx, func(tx *sqlx.Tx) error { return fn(evidenceTx{tx}) })
}

func (r evidenceRepo) Get(ctx context.Context, id int64) (*evidence.Evidence, error) {
	var e evidence.Evidence
	err := r.s.db.GetContext(ctx, &e, `select `+evidenceColumns+` from evidences where id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, evidence.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select evidence")
	}
	return &e, nil
}

func (r evidenceRepo) ListByPermit(ctx context.Context, permitID int64) ([]evidence.Evidence, error) {
	out := []evidence.Evidence{}
	if err := r.s.db.SelectContext(ctx, &out, `
		select `+evidenceColumns+` from evidences
		where permit_id = $1
		order by "timestamp" desc, id desc
	`, permitID); err != nil {
		return nil, errors.Wrap(err, "list evidence")
	}
	return out, nil
}

func (r evidenceRepo) Stats(ctx context.Context, permitID int64) (evidence.Stats, error) {
	stats := evidence.Stats{ByCategory: []evidence.CategoryCount{}}
	if err := r.s.db.SelectContext(ctx, &stats.ByCategory, `
		select category, count(*) as count
		from evidences
		where permit_id = $1
		group by category
		order by count desc, category
	`, permitID); err != nil {
		return evidence.Stats{}, errors.Wrap(err, "evidence stats")
	}
	for _, c := range stats.ByCategory {
		stats.Total += c.Count
	}
	return stats, nil
}

func (r evidenceRepo) Permit(ctx context.Context, permitID int64) (*evidence.PermitRef, error) {
	return permitRef(ctx, r.s.db, permitID, "")
}

func permitRef(ctx context.Context, q sqlx.QueryerContext, permitID int64, suffix string) (*evidence.PermitRef, error) {
	var p evidence.PermitRef
	err := sqlx.GetContext(ctx, q, &p, `select id, created_by, status, swms_path from permits where id = $1`+suffix, permitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permit.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select permit")
	}
	return &p, nil
}

func (t evidenceTx) LockPermit(ctx context.Context, permitID int64) (*evidence.PermitRef, error) {
	return permitRef(ctx, t.tx, permitID, " for update")
}

func (t evidenceTx) Insert(ctx context.Context, e *evidence.Evidence) error {
	err := t.tx.QueryRowxContext(ctx, `
		insert into evidences (permit_id, file_path, phase, category, description, "timestamp",
		                       latitude, longitude, uploaded_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning id
	`, e.PermitID, e.FilePath, e.Phase, e.Category, e.Description, e.Timestamp,
		e.Latitude, e.Longitude, e.UploadedBy, e.CreatedAt,
	).Scan(&e.ID)
	switch {
	case isCode(err, pgErrForeignKeyViolation):
		return errors.Wrap(permit.ErrNotFound, "insert evidence")
	case isCode(err, pgErrUniqueViolation):
		return errors.Wrap(evidence.ErrDuplicatePath, "insert evidence")
	}
	return errors.Wrap(err, "insert evidence")
}

func (t evidenceTx) GetForUpdate(ctx context.Context, id int64) (*evidence.Evidence, error) {
	var e evidence.Evidence
	err := t.tx.GetContext(ctx, &e, `select `+evidenceColumns+` from evidences where id = $1 for update`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, evidence.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock evidence")
	}
	return &e, nil
}

func (t evidenceTx) UpdateDetails(ctx context.Context, id int64, category evidence.Category, description string) error {
	res, err := t.tx.ExecContext(ctx, `update evidences set category = $2, description = $3 where id = $1`, id, category, description)
	return affected(res, err, evidence.ErrNotFound, "update evidence")
}

func (t evidenceTx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `delete from evidences where id = $1`, id)
	return affected(res, err, evidence.ErrNotFound, "delete evidence")
}

func (t evidenceTx) SetSWMSPath(ctx context.Context, permitID int64, path string) error {
	res, err := t.tx.ExecContext(ctx, `update permits set swms_path = $2, updated_at = now() where id = $1`, permitID, path)
	return affected(res, err, permit.ErrNotFound, "set swms path")
}
