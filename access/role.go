package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is the closed set of portal roles.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleInstructor    Role = "instructor"
	RoleLearner       Role = "learner"
)

var roles = []Role{RoleAdministrator, RoleInstructor, RoleLearner}

// legacy values still stored in older user_profiles rows
var roleAliases = map[string]Role{
	"admin":   RoleAdministrator,
	"teacher": RoleInstructor,
	"student": RoleLearner,
}

// Roles returns every role in declaration order.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// ParseRole validates raw input at the boundary. Matching is case-insensitive and
// accepts the legacy profile values.
func ParseRole(raw string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))

	for _, r := range roles {
		if string(r) == normalized {
			return r, nil
		}
	}

	if r, ok := roleAliases[normalized]; ok {
		return r, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
