package auth

// Role is the user role carried in tokens and stored on users.
type Role string

const (
	RoleAdmin               Role = "Admin"
	RoleRequester           Role = "Requester"
	RoleApproverAreaManager Role = "Approver_AreaManager"
	RoleApproverSafety      Role = "Approver_Safety"
	RoleWorker              Role = "Worker"
	RoleSupervisor          Role = "Supervisor"
)

// Roles lists every known user role.
var Roles = []Role{
	RoleAdmin, RoleRequester, RoleApproverAreaManager,
	RoleApproverSafety, RoleWorker, RoleSupervisor,
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRequester, RoleApproverAreaManager, RoleApproverSafety, RoleWorker, RoleSupervisor:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
