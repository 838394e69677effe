package authorization

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidPermission = errors.New("invalid permission")
	ErrImmutableRole     = errors.New("role permissions cannot be changed")
	ErrInvalidOrg        = errors.New("invalid organization")
)

// Permission is one entry of the fixed allow-list.
type Permission string

const (
	ContactsRead      Permission = "contacts:read"
	ContactsWrite     Permission = "contacts:write"
	AccountsRead      Permission = "accounts:read"
	AccountsWrite     Permission = "accounts:write"
	TransactionsRead  Permission = "transactions:read"
	TransactionsWrite Permission = "transactions:write"
	ReportsRead       Permission = "reports:read"
	ReportsExport     Permission = "reports:export"
	UsersRead         Permission = "users:read"
	UsersManage       Permission = "users:manage"
	APIKeysManage     Permission = "api_keys:manage"
	SettingsManage    Permission = "settings:manage"
	AuditRead         Permission = "audit:read"
)

var AllPermissions = []Permission{
	ContactsRead, ContactsWrite,
	AccountsRead, AccountsWrite,
	TransactionsRead, TransactionsWrite,
	ReportsRead, ReportsExport,
	UsersRead, UsersManage,
	APIKeysManage, SettingsManage, AuditRead,
}

var knownPermissions = func() map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(AllPermissions))
	for _, perm := range AllPermissions {
		out[perm] = struct{}{}
	}
	return out
}()

func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

func (p Permission) String() string {
	return string(p)
}

func ParsePermission(raw string) (Permission, error) {
	perm := Permission(strings.ToLower(strings.TrimSpace(raw)))
	if !perm.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, strings.TrimSpace(raw))
	}
	return perm, nil
}

// PermissionSet holds interned permissions.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
	return set
}

// ParsePermissions validates every entry against the allow-list.
func ParsePermissions(raw []string) (PermissionSet, error) {
	set := make(PermissionSet, len(raw))
	for _, value := range raw {
		perm, err := ParsePermission(value)
		if err != nil {
			return nil, err
		}
		set[perm] = struct{}{}
	}
	return set, nil
}

// PermissionsFromStored interns stored values, skipping entries that are no
// longer on the allow-list.
func PermissionsFromStored(raw []string) PermissionSet {
	set := make(PermissionSet, len(raw))
	for _, value := range raw {
		if perm := Permission(value); perm.Valid() {
			set[perm] = struct{}{}
		}
	}
	return set
}

func (s PermissionSet) Has(perm Permission) bool {
	_, ok := s[perm]
	return ok
}

// Slice returns the permissions in a stable order.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for perm := range s {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, perm := range perms {
		out[i] = string(perm)
	}
	return out
}
