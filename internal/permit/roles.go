package permit

import "safeworks.org/ptw/internal/auth"

// ApprovalRolesFor maps a user role to the approval roles it may sign.
func ApprovalRolesFor(r auth.Role) []ApproverRole {
	switch r {
	case auth.RoleAdmin:
		return ApproverRoles
	case auth.RoleApproverAreaManager:
		return []ApproverRole{RoleAreaManager}
	case auth.RoleApproverSafety:
		return []ApproverRole{RoleSafetyOfficer}
	case auth.RoleSupervisor:
		return []ApproverRole{RoleSiteLead}
	}
	return nil
}

// CanSign reports whether a user role may sign approvals for the given role.
func CanSign(r auth.Role, role ApproverRole) bool {
	for _, v := range ApprovalRolesFor(r) {
		if v == role {
			return true
		}
	}
	return false
}
