package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermEntryManage   Permission = "entry:manage"
	PermSystemRead    Permission = "system:read"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermSystemRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermSystemRead,
	},
	RoleAdmin: {
		PermDeviceRead,
		PermDeviceOperate,
		PermEntryManage,
		PermSystemRead,
	},
}

// HasPermission returns true if role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
