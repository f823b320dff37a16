package pg

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"safeworks.org/ptw/internal/directory"
)

const userColumns = `id, login_id, name, email, role, department, site_id, signature, password_hash, created_at`

type directoryRepo struct{ s *Store }

// writeErr maps constraint failures on reference data.
func writeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case isCode(err, pgErrUniqueViolation):
		return errors.Wrap(directory.ErrDuplicate, what)
	case isCode(err, pgErrForeignKeyViolation):
		return errors.Wrap(directory.ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}

func readErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ErrNotFound
	}
	return errors.Wrap(err, what)
}

func (r directoryRepo) CreateUser(ctx context.Context, u *directory.User) error {
	err := r.s.db.QueryRowxContext(ctx, `
		insert into users (login_id, name, email, role, department, site_id, signature, password_hash, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning id
	`, u.LoginID, u.Name, u.Email, u.Role, u.Department, u.SiteID, u.Signature, u.PasswordHash, u.CreatedAt).Scan(&u.ID)
	return writeErr(err, "insert user")
}

func (r directoryRepo) UserByID(ctx context.Context, id int64) (*directory.User, error) {
	var u directory.User
	if err := r.s.db.GetContext(ctx, &u, `select `+userColumns+` from users where id = $1`, id); err != nil {
		return nil, readErr(err, "select user")
	}
	return &u, nil
}

func (r directoryRepo) UserByLogin(ctx context.Context, loginID string) (*directory.User, error) {
	var u directory.User
	if err := r.s.db.GetContext(ctx, &u, `select `+userColumns+` from users where lower(login_id) = lower($1)`, loginID); err != nil {
		return nil, readErr(err, "select user by login")
	}
	return &u, nil
}

func (r directoryRepo) ListUsers(ctx context.Context) ([]directory.User, error) {
	out := []directory.User{}
	if err := r.s.db.SelectContext(ctx, &out, `select `+userColumns+` from users order by id`); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return out, nil
}

func (r directoryRepo) CreateSite(ctx context.Context, s *directory.Site) error {
	err := r.s.db.QueryRowxContext(ctx, `
		insert into sites (name, code, address, created_at) values ($1, $2, $3, $4) returning id
	`, s.Name, s.Code, s.Address, s.CreatedAt).Scan(&s.ID)
	return writeErr(err, "insert site")
}

func (r directoryRepo) SiteByID(ctx context.Context, id int64) (*directory.Site, error) {
	var s directory.Site
	if err := r.s.db.GetContext(ctx, &s, `select id, name, code, address, created_at from sites where id = $1`, id); err != nil {
		return nil, readErr(err, "select site")
	}
	return &s, nil
}

func (r directoryRepo) ListSites(ctx context.Context) ([]directory.Site, error) {
	out := []directory.Site{}
	if err := r.s.db.SelectContext(ctx, &out, `select id, name, code, address, created_at from sites order by name`); err != nil {
		return nil, errors.Wrap(err, "list sites")
	}
	return out, nil
}

func (r directoryRepo) CreateVendor(ctx context.Context, v *directory.Vendor) error {
	err := r.s.db.QueryRowxContext(ctx, `
		insert into vendors (name, contact_name, email, phone, created_at) values ($1, $2, $3, $4, $5) returning id
	`, v.Name, v.ContactName, v.Email, v.Phone, v.CreatedAt).Scan(&v.ID)
	return writeErr(err, "insert vendor")
}

func (r directoryRepo) VendorByID(ctx context.Context, id int64) (*directory.Vendor, error) {
	var v directory.Vendor
	if err := r.s.db.GetContext(ctx, &v, `select id, name, contact_name, email, phone, created_at from vendors where id = $1`, id); err != nil {
		return nil, readErr(err, "select vendor")
	}
	return &v, nil
}

func (r directoryRepo) ListVendors(ctx context.Context) ([]directory.Vendor, error) {
	out := []directory.Vendor{}
	if err := r.s.db.SelectContext(ctx, &out, `select id, name, contact_name, email, phone, created_at from vendors order by name`); err != nil {
		return nil, errors.Wrap(err, "list vendors")
	}
	return out, nil
}
