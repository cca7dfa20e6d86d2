// Package rbac resolves the staff actor asserted by the upstream proxy and gates routes by role.
package rbac

import "strings"

// Known roles.
const (
	RoleAdmin = "ADMIN"
	RoleStaff = "STAFF"
)

// Header names set by the authenticating proxy.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// NormalizeRole upper-cases and trims a role name.
func NormalizeRole(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func normalizeRoles(roles []string) map[string]struct{} {
	unique := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = NormalizeRole(r)
		if r == "" {
			continue
		}
		unique[r] = struct{}{}
	}
	return unique
}
