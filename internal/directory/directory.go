// Package directory manages users, sites and vendors and issues login tokens.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"safeworks.org/ptw/internal/apperr"
	"safeworks.org/ptw/internal/audit"
	"safeworks.org/ptw/internal/auth"
)

var (
	ErrNotFound  = errors.New("directory: not found")
	ErrDuplicate = errors.New("directory: already exists")
)

// User is an account that can sign in.
type User struct {
	ID           int64     `db:"id" json:"id"`
	LoginID      string    `db:"login_id" json:"login_id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Role         auth.Role `db:"role" json:"role"`
	Department   string    `db:"department" json:"department,omitempty"`
	SiteID       *int64    `db:"site_id" json:"site_id,omitempty"`
	Signature    string    `db:"signature" json:"signature,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Identity returns the token identity of u.
func (u *User) Identity() auth.Identity {
	return auth.Identity{ID: u.ID, Role: u.Role, Name: u.Name}
}

// Site is a work location.
type Site struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	Address   string    `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Vendor is a contractor company.
type Vendor struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ContactName string    `db:"contact_name" json:"contact_name,omitempty"`
	Email       string    `db:"email" json:"email,omitempty"`
	Phone       string    `db:"phone" json:"phone,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Repository persists reference data.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByLogin(ctx context.Context, loginID string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	CreateSite(ctx context.Context, s *Site) error
	SiteByID(ctx context.Context, id int64) (*Site, error)
	ListSites(ctx context.Context) ([]Site, error)

	CreateVendor(ctx context.Context, v *Vendor) error
	VendorByID(ctx context.Context, id int64) (*Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
}

// Service wraps the repository with validation, hashing and login.
type Service struct {
	repo     Repository
	tokens   *auth.Tokens
	validate *validator.Validate
	now      func() time.Time
}

func NewService(repo Repository, tokens *auth.Tokens) *Service {
	return &Service{repo: repo, tokens: tokens, validate: apperr.NewValidator(), now: time.Now}
}

// NewUser is the input of CreateUser.
type NewUser struct {
	LoginID    string    `json:"login_id" validate:"required,max=64"`
	Name       string    `json:"name" validate:"required"`
	Email      string    `json:"email" validate:"required,email"`
	Role       auth.Role `json:"role" validate:"required"`
	Department string    `json:"department"`
	SiteID     *int64    `json:"site_id" validate:"omitempty,gt=0"`
	Signature  string    `json:"signature"`
	Password   string    `json:"password" validate:"required,min=8"`
}

// NewSite is the input of CreateSite.
type NewSite struct {
	Name    string `json:"name" validate:"required"`
	Code    string `json:"code" validate:"required,max=32"`
	Address string `json:"address"`
}

// NewVendor is the input of CreateVendor.
type NewVendor struct {
	Name        string `json:"name" validate:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	const op = "directory.create_user"
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.FromValidation(op, err)
	}
	if !in.Role.Valid() {
		return nil, apperr.Validation(op, nil, "unknown role %q", in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation(op, err, "%s", err.Error())
	}
	u := &User{
		LoginID:      strings.TrimSpace(in.LoginID),
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Role:         in.Role,
		Department:   in.Department,
		SiteID:       in.SiteID,
		Signature:    in.Signature,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, classify(op, err, "user")
	}
	_ = audit.LogEvent(ctx, "user.created", map[string]any{"user_id": u.ID, "role": u.Role})
	return u, nil
}

func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.UserByID(ctx, id)
	if err != nil {
		return nil, classify("directory.user", err, "user")
	}
	return u, nil
}

func (s *Service) Users(ctx context.Context) ([]User, error) {
	out, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, classify("directory.users", err, "user")
	}
	return out, nil
}

func (s *Service) CreateSite(ctx context.Context, in NewSite) (*Site, error) {
	const op = "directory.create_site"
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.FromValidation(op, err)
	}
	site := &Site{Name: strings.TrimSpace(in.Name), Code: strings.TrimSpace(in.Code), Address: in.Address, CreatedAt: s.now().UTC()}
	if err := s.repo.CreateSite(ctx, site); err != nil {
		return nil, classify(op, err, "site")
	}
	_ = audit.LogEvent(ctx, "site.created", map[string]any{"site_id": site.ID})
	return site, nil
}

func (s *Service) Site(ctx context.Context, id int64) (*Site, error) {
	site, err := s.repo.SiteByID(ctx, id)
	if err != nil {
		return nil, classify("directory.site", err, "site")
	}
	return site, nil
}

func (s *Service) Sites(ctx context.Context) ([]Site, error) {
	out, err := s.repo.ListSites(ctx)
	if err != nil {
		return nil, classify("directory.sites", err, "site")
	}
	return out, nil
}

func (s *Service) CreateVendor(ctx context.Context, in NewVendor) (*Vendor, error) {
	const op = "directory.create_vendor"
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.FromValidation(op, err)
	}
	v := &Vendor{
		Name:        strings.TrimSpace(in.Name),
		ContactName: in.ContactName,
		Email:       in.Email,
		Phone:       in.Phone,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateVendor(ctx, v); err != nil {
		return nil, classify(op, err, "vendor")
	}
	_ = audit.LogEvent(ctx, "vendor.created", map[string]any{"vendor_id": v.ID})
	return v, nil
}

func (s *Service) Vendor(ctx context.Context, id int64) (*Vendor, error) {
	v, err := s.repo.VendorByID(ctx, id)
	if err != nil {
		return nil, classify("directory.vendor", err, "vendor")
	}
	return v, nil
}

func (s *Service) Vendors(ctx context.Context) ([]Vendor, error) {
	out, err := s.repo.ListVendors(ctx)
	if err != nil {
		return nil, classify("directory.vendors", err, "vendor")
	}
	return out, nil
}

// Login checks credentials and issues a bearer token. Unknown users and
// wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, loginID, password string) (*LoginResult, error) {
	const op = "directory.login"
	loginID = strings.TrimSpace(loginID)
	if loginID == "" || password == "" {
		return nil, apperr.Validation(op, nil, "login_id and password are required")
	}
	u, err := s.repo.UserByLogin(ctx, loginID)
	if errors.Is(err, ErrNotFound) {
		_ = auth.VerifyPassword("", password)
		return nil, apperr.E(apperr.KindUnauthenticated, op, auth.ErrInvalidCredentials, "invalid login or password")
	}
	if err != nil {
		return nil, classify(op, err, "user")
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"login_id": loginID})
		return nil, apperr.E(apperr.KindUnauthenticated, op, err, "invalid login or password")
	}
	token, exp, err := s.tokens.Generate(u.Identity())
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, op, err, "failed to issue token")
	}
	_ = audit.LogEvent(auth.ContextWithIdentity(ctx, u.Identity()), "auth.login", map[string]any{"login_id": loginID})
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func classify(op string, err error, what string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(op, err, "%s not found", what)
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict(op, err, "%s already exists", what)
	}
	return apperr.Persistence(op, err, "%s storage failed", what)
}
