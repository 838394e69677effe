package authorization

import "strings"

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
	RoleViewer  Role = "viewer"
)

var Roles = []Role{RoleAdmin, RoleManager, RoleUser, RoleViewer}

func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser, RoleViewer:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// DefaultPermissions is the permission set a new user of role receives when
// the creator supplies none. Admins hold every permission through policy and
// get an empty explicit set.
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleManager:
		return NewPermissionSet(
			ContactsRead, ContactsWrite,
			AccountsRead, AccountsWrite,
			TransactionsRead, TransactionsWrite,
			ReportsRead, ReportsExport,
			UsersRead,
		)
	case RoleUser:
		return NewPermissionSet(
			ContactsRead, ContactsWrite,
			AccountsRead, AccountsWrite,
			TransactionsRead, TransactionsWrite,
			ReportsRead,
		)
	case RoleViewer:
		return NewPermissionSet(ContactsRead, AccountsRead, TransactionsRead, ReportsRead)
	default:
		return NewPermissionSet()
	}
}
