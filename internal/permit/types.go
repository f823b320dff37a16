// Package permit holds the permit domain: records, the lifecycle state
// machine, repository contracts and the workflow orchestrator.
package permit

import (
	"time"
)

// Status is a lifecycle state.
type Status string

const (
	StatusDraft              Status = "Draft"
	StatusPendingApproval    Status = "Pending_Approval"
	StatusActive             Status = "Active"
	StatusExtensionRequested Status = "Extension_Requested"
	StatusSuspended          Status = "Suspended"
	StatusClosed             Status = "Closed"
	StatusCancelled          Status = "Cancelled"
	StatusRejected           Status = "Rejected"
)

// Statuses lists every state.
var Statuses = []Status{
	StatusDraft, StatusPendingApproval, StatusActive, StatusExtensionRequested,
	StatusSuspended, StatusClosed, StatusCancelled, StatusRejected,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no trigger leaves s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusRejected
}

// Type is the kind of work a permit authorizes.
type Type string

const (
	TypeGeneral       Type = "General"
	TypeHeight        Type = "Height"
	TypeHotWork       Type = "Hot_Work"
	TypeElectrical    Type = "Electrical"
	TypeConfinedSpace Type = "Confined_Space"
)

func (t Type) Valid() bool {
	switch t {
	case TypeGeneral, TypeHeight, TypeHotWork, TypeElectrical, TypeConfinedSpace:
		return true
	}
	return false
}

// ApproverRole is the role an approval is required from.
type ApproverRole string

const (
	RoleAreaManager   ApproverRole = "Area_Manager"
	RoleSafetyOfficer ApproverRole = "Safety_Officer"
	RoleSiteLead      ApproverRole = "Site_Lead"
)

// ApproverRoles is the canonical ordering used whenever roles are listed.
var ApproverRoles = []ApproverRole{RoleAreaManager, RoleSafetyOfficer, RoleSiteLead}

func (r ApproverRole) Valid() bool {
	switch r {
	case RoleAreaManager, RoleSafetyOfficer, RoleSiteLead:
		return true
	}
	return false
}

// SortRoles dedupes roles and orders them canonically. Unknown roles are dropped.
func SortRoles(roles []ApproverRole) []ApproverRole {
	seen := make(map[ApproverRole]bool, len(roles))
	for _, r := range roles {
		seen[r] = true
	}
	out := make([]ApproverRole, 0, len(seen))
	for _, r := range ApproverRoles {
		if seen[r] {
			out = append(out, r)
		}
	}
	return out
}

// Decision is the state of an approval or extension request.
type Decision string

const (
	DecisionPending  Decision = "Pending"
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

// Permit is a work authorization record.
type Permit struct {
	ID                int64     `db:"id" json:"id"`
	Serial            string    `db:"serial" json:"serial"`
	SiteID            int64     `db:"site_id" json:"site_id"`
	CreatedBy         int64     `db:"created_by" json:"created_by"`
	VendorID          *int64    `db:"vendor_id" json:"vendor_id,omitempty"`
	Type              Type      `db:"permit_type" json:"permit_type"`
	Location          string    `db:"location" json:"location"`
	Description       string    `db:"description" json:"description"`
	StartTime         time.Time `db:"start_time" json:"start_time"`
	EndTime           time.Time `db:"end_time" json:"end_time"`
	ReceiverName      string    `db:"receiver_name" json:"receiver_name"`
	ReceiverSignature string    `db:"receiver_signature" json:"receiver_signature,omitempty"`
	SWMSPath          string    `db:"swms_path" json:"swms_path,omitempty"`
	Status            Status    `db:"status" json:"status"`
	RejectionReason   string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// DurationHours is the planned work window in hours.
func (p Permit) DurationHours() float64 {
	return p.EndTime.Sub(p.StartTime).Hours()
}

// Approval is a role-scoped sign-off.
type Approval struct {
	ID         int64        `db:"id" json:"id"`
	PermitID   int64        `db:"permit_id" json:"permit_id"`
	ApproverID *int64       `db:"approver_id" json:"approver_id,omitempty"`
	Role       ApproverRole `db:"role" json:"role"`
	Status     Decision     `db:"status" json:"status"`
	Comments   string       `db:"comments" json:"comments,omitempty"`
	Signature  string       `db:"signature" json:"signature,omitempty"`
	ApprovedAt *time.Time   `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// TeamMember is a worker listed on a permit.
type TeamMember struct {
	ID        int64  `db:"id" json:"id"`
	PermitID  int64  `db:"permit_id" json:"permit_id"`
	Name      string `db:"worker_name" json:"worker_name" validate:"required"`
	Role      string `db:"worker_role" json:"worker_role"`
	BadgeID   string `db:"badge_id" json:"badge_id,omitempty"`
	Qualified bool   `db:"is_qualified" json:"is_qualified"`
}

// Checklist is the closure checklist.
type Checklist struct {
	Housekeeping bool `db:"housekeeping_done" json:"housekeeping_done"`
	ToolsRemoved bool `db:"tools_removed" json:"tools_removed"`
	LocksRemoved bool `db:"locks_removed" json:"locks_removed"`
	AreaRestored bool `db:"area_restored" json:"area_restored"`
}

// Closure is the terminal checklist record.
type Closure struct {
	ID       int64     `db:"id" json:"id"`
	PermitID int64     `db:"permit_id" json:"permit_id"`
	ClosedBy int64     `db:"closed_by" json:"closed_by"`
	ClosedAt time.Time `db:"closed_at" json:"closed_at"`
	Checklist
	Remarks string `db:"remarks" json:"remarks,omitempty"`
}

// Extension is a request to move a permit's end time.
type Extension struct {
	ID          int64      `db:"id" json:"id"`
	PermitID    int64      `db:"permit_id" json:"permit_id"`
	RequestedBy int64      `db:"requested_by" json:"requested_by"`
	NewEndTime  time.Time  `db:"new_end_time" json:"new_end_time"`
	Reason      string     `db:"reason" json:"reason"`
	Status      Decision   `db:"status" json:"status"`
	DecidedBy   *int64     `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt   *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	Comments    string     `db:"comments" json:"comments,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Details is a permit with its owned children.
type Details struct {
	Permit
	Team       []TeamMember `json:"team"`
	Approvals  []Approval   `json:"approvals"`
	Extensions []Extension  `json:"extensions"`
	Closure    *Closure     `json:"closure,omitempty"`
}

// Filter narrows permit listings. Zero values match everything.
type Filter struct {
	Statuses  []Status
	SiteID    int64
	CreatedBy int64
	Limit     int
}
