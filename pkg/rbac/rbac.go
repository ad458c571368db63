package rbac

// Permissions checked by the HTTP API.
const (
	PermissionReadEmails     = "emails:read"
	PermissionReadAudit      = "audit:read"
	PermissionSubmitCommand  = "commands:submit"
	PermissionManageEmails   = "emails:manage"
	PermissionManageSettings = "settings:manage"
)

// Roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadEmails,
		PermissionReadAudit,
	},
	RoleOperator: {
		PermissionReadEmails,
		PermissionReadAudit,
		PermissionSubmitCommand,
		PermissionManageEmails,
	},
	RoleAdmin: {
		PermissionReadEmails,
		PermissionReadAudit,
		PermissionSubmitCommand,
		PermissionManageEmails,
		PermissionManageSettings,
	},
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission checks whether role grants permission.
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}
