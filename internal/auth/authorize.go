package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/obs"
)

// Action names an operation subject to authorization.
type Action string

const (
	ActPermitCreate       Action = "permit:create"
	ActPermitRead         Action = "permit:read"
	ActPermitUpdate       Action = "permit:update"
	ActPermitDelete       Action = "permit:delete"
	ActPermitSubmit       Action = "permit:submit"
	ActPermitApprove      Action = "permit:approve"
	ActPermitReject       Action = "permit:reject"
	ActPermitExtend       Action = "permit:extend"
	ActPermitDecideExtend Action = "permit:extension_decide"
	ActPermitSuspend      Action = "permit:suspend"
	ActPermitResume       Action = "permit:resume"
	ActPermitClose        Action = "permit:close"
	ActPermitCancel       Action = "permit:cancel"
	ActEvidenceRead       Action = "evidence:read"
	ActEvidenceUpload     Action = "evidence:upload"
	ActEvidenceUpdate     Action = "evidence:update"
	ActEvidenceDelete     Action = "evidence:delete"
	ActUploadDocument     Action = "upload:document"
	ActReportExport       Action = "report:export"
	ActDirectoryRead      Action = "directory:read"
	ActDirectoryWrite     Action = "directory:write"
)

// Scope tells the enforcer whether the caller owns the resource.
type Scope string

const (
	ScopeOwn   Scope = "own"
	ScopeOther Scope = "other"
	scopeAny         = "any"
)

const rbacModel = `
[request_definition]
r = sub, act, scope

[policy_definition]
p = sub, act, scope

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.act, p.act) && (p.scope == "any" || r.scope == p.scope)
`

// DefaultPolicy grants each role its actions. Rows are (role, action pattern, scope).
var DefaultPolicy = [][]string{
	{string(RoleAdmin), "*", scopeAny},

	{string(RoleRequester), "permit:create", scopeAny},
	{string(RoleRequester), "permit:read", scopeAny},
	{string(RoleRequester), "permit:update", string(ScopeOwn)},
	{string(RoleRequester), "permit:delete", string(ScopeOwn)},
	{string(RoleRequester), "permit:submit", string(ScopeOwn)},
	{string(RoleRequester), "permit:extend", string(ScopeOwn)},
	{string(RoleRequester), "permit:close", string(ScopeOwn)},
	{string(RoleRequester), "permit:cancel", string(ScopeOwn)},
	{string(RoleRequester), "evidence:*", string(ScopeOwn)},
	{string(RoleRequester), "evidence:read", scopeAny},
	{string(RoleRequester), "upload:document", scopeAny},
	{string(RoleRequester), "directory:read", scopeAny},

	{string(RoleApproverAreaManager), "permit:read", scopeAny},
	{string(RoleApproverAreaManager), "permit:approve", scopeAny},
	{string(RoleApproverAreaManager), "permit:reject", scopeAny},
	{string(RoleApproverAreaManager), "permit:extension_decide", scopeAny},
	{string(RoleApproverAreaManager), "permit:suspend", scopeAny},
	{string(RoleApproverAreaManager), "permit:resume", scopeAny},
	{string(RoleApproverAreaManager), "evidence:read", scopeAny},
	{string(RoleApproverAreaManager), "upload:document", scopeAny},
	{string(RoleApproverAreaManager), "report:export", scopeAny},
	{string(RoleApproverAreaManager), "directory:read", scopeAny},

	{string(RoleApproverSafety), "permit:read", scopeAny},
	{string(RoleApproverSafety), "permit:approve", scopeAny},
	{string(RoleApproverSafety), "permit:reject", scopeAny},
	{string(RoleApproverSafety), "permit:extension_decide", scopeAny},
	{string(RoleApproverSafety), "permit:suspend", scopeAny},
	{string(RoleApproverSafety), "permit:resume", scopeAny},
	{string(RoleApproverSafety), "evidence:read", scopeAny},
	{string(RoleApproverSafety), "upload:document", scopeAny},
	{string(RoleApproverSafety), "report:export", scopeAny},
	{string(RoleApproverSafety), "directory:read", scopeAny},

	{string(RoleSupervisor), "permit:read", scopeAny},
	{string(RoleSupervisor), "permit:approve", scopeAny},
	{string(RoleSupervisor), "permit:reject", scopeAny},
	{string(RoleSupervisor), "permit:suspend", scopeAny},
	{string(RoleSupervisor), "permit:resume", scopeAny},
	{string(RoleSupervisor), "permit:close", scopeAny},
	{string(RoleSupervisor), "evidence:read", scopeAny},
	{string(RoleSupervisor), "evidence:upload", scopeAny},
	{string(RoleSupervisor), "upload:document", scopeAny},
	{string(RoleSupervisor), "report:export", scopeAny},
	{string(RoleSupervisor), "directory:read", scopeAny},

	{string(RoleWorker), "permit:read", scopeAny},
	{string(RoleWorker), "evidence:read", scopeAny},
	{string(RoleWorker), "evidence:upload", scopeAny},
	{string(RoleWorker), "upload:document", scopeAny},
	{string(RoleWorker), "directory:read", scopeAny},
}

// Authorizer evaluates role policies with casbin.
type Authorizer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	logger   *logrus.Entry
}

// NewAuthorizer builds an enforcer seeded with the given policy rows.
// A nil policy falls back to DefaultPolicy.
func NewAuthorizer(policy [][]string) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("auth: load model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("auth: init enforcer: %w", err)
	}
	if policy == nil {
		policy = DefaultPolicy
	}
	if len(policy) > 0 {
		if _, err := enf.AddPolicies(policy); err != nil {
			return nil, fmt.Errorf("auth: load policies: %w", err)
		}
	}
	return &Authorizer{enforcer: enf, logger: obs.Component("authz")}, nil
}

// Check reports whether the identity may perform act in the given scope.
func (a *Authorizer) Check(id Identity, act Action, scope Scope) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ok, err := a.enforcer.Enforce(string(id.Role), string(act), string(scope))
	if err != nil {
		return false, fmt.Errorf("auth: enforce failed: %w", err)
	}
	return ok, nil
}

// Authorize returns ErrForbidden when the request is denied.
func (a *Authorizer) Authorize(ctx context.Context, id Identity, act Action, scope Scope) error {
	ok, err := a.Check(id, act, scope)
	if err != nil {
		return err
	}
	if !ok {
		a.logger.WithContext(ctx).WithFields(logrus.Fields{
			"user_id": id.ID,
			"role":    id.Role,
			"action":  act,
			"scope":   scope,
		}).Warn("authz denied request")
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, id.Role, act)
	}
	return nil
}

// ScopeFor returns ScopeOwn when the caller is the owner.
func ScopeFor(id Identity, ownerID int64) Scope {
	if id.ID == ownerID {
		return ScopeOwn
	}
	return ScopeOther
}
