package models

type UserRole string

const (
	RoleViewer   UserRole = "VIEWER"
	RoleEditor   UserRole = "EDITOR"
	RoleApprover UserRole = "APPROVER"
	RoleAdmin    UserRole = "ADMIN"
)

var roleTier = map[UserRole]int{
	RoleViewer:   1,
	RoleEditor:   2,
	RoleApprover: 3,
	RoleAdmin:    4,
}

func IsValidRole(role UserRole) bool {
	_, ok := roleTier[role]
	return ok
}

func IsValidRoleList(roles []UserRole) bool {
	if len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if !IsValidRole(role) {
			return false
		}
	}
	return true
}

// NormalizeRoles removes duplicates and unknown roles.
func NormalizeRoles(roles []UserRole) []UserRole {
	seen := make(map[UserRole]bool, len(roles))
	normalized := make([]UserRole, 0, len(roles))
	for _, role := range roles {
		if !IsValidRole(role) || seen[role] {
			continue
		}
		seen[role] = true
		normalized = append(normalized, role)
	}
	return normalized
}

// EnsureDefaultRole guarantees every user carries at least the viewer role.
func EnsureDefaultRole(roles []UserRole) []UserRole {
	for _, role := range roles {
		if role == RoleViewer {
			return roles
		}
	}
	return append(roles, RoleViewer)
}

// HighestRole returns the most privileged role in the list.
func HighestRole(roles []UserRole) UserRole {
	highest := RoleViewer
	for _, role := range roles {
		if roleTier[role] > roleTier[highest] {
			highest = role
		}
	}
	return highest
}

// HasAtLeast reports whether any of the roles meets the required tier.
func HasAtLeast(roles []UserRole, required UserRole) bool {
	for _, role := range roles {
		if roleTier[role] >= roleTier[required] {
			return true
		}
	}
	return false
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	Roles        []UserRole `json:"roles"`
}
