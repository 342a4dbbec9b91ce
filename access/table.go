package access

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingRole = errors.New("role missing from permission table")
	ErrEmptyArea   = errors.New("empty feature area")
)

// Table maps every role to the feature areas it may access. It is built once and
// never mutated afterwards, so it is safe for concurrent readers without locking.
type Table struct {
	grants map[Role][]FeatureArea
	index  map[Role]map[FeatureArea]struct{}
}

// NewTable copies grants into a new table. Every role must be present; an empty list
// is allowed and grants nothing. Duplicate areas are collapsed, keeping first position.
func NewTable(grants map[Role][]FeatureArea) (*Table, error) {
	t := &Table{
		grants: make(map[Role][]FeatureArea, len(roles)),
		index:  make(map[Role]map[FeatureArea]struct{}, len(roles)),
	}

	for role := range grants {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, string(role))
		}
	}

	for _, role := range roles {
		list, ok := grants[role]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRole, role)
		}

		seen := make(map[FeatureArea]struct{}, len(list))
		ordered := make([]FeatureArea, 0, len(list))
		for _, area := range list {
			if area == "" {
				return nil, fmt.Errorf("%w: role %s", ErrEmptyArea, role)
			}
			if _, dup := seen[area]; dup {
				continue
			}
			seen[area] = struct{}{}
			ordered = append(ordered, area)
		}

		t.grants[role] = ordered
		t.index[role] = seen
	}

	return t, nil
}

// NewTableFromConfig builds a table from raw role and area names, as found in
// configuration. Unknown names are rejected so a typo cannot silently revoke access.
func NewTableFromConfig(raw map[string][]string) (*Table, error) {
	grants := make(map[Role][]FeatureArea, len(raw))

	for name, list := range raw {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}

		areas := make([]FeatureArea, 0, len(list))
		for _, name := range list {
			if strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("%w: role %s", ErrEmptyArea, role)
			}
			area, err := ParseArea(name)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			areas = append(areas, area)
		}
		grants[role] = append(grants[role], areas...)
	}

	return NewTable(grants)
}

// DefaultTable is the portal's built-in permission table.
func DefaultTable() *Table {
	t, err := NewTable(map[Role][]FeatureArea{
		RoleAdministrator: {
			AreaDashboard, AreaFlashcards, AreaQuiz, AreaCommunity, AreaRanking,
			AreaCalendar, AreaUploads, AreaClasses, AreaMembers, AreaSettings,
		},
		RoleInstructor: {
			AreaDashboard, AreaFlashcards, AreaQuiz, AreaCommunity, AreaRanking,
			AreaCalendar, AreaUploads, AreaClasses,
		},
		RoleLearner: {
			AreaDashboard, AreaFlashcards, AreaQuiz, AreaCommunity, AreaRanking,
			AreaCalendar,
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// HasPermission reports whether area is granted to role. Roles outside the
// enumeration have no grants; validate input with ParseRole first.
func (t *Table) HasPermission(role Role, area FeatureArea) bool {
	granted, ok := t.index[role]
	if !ok {
		return false
	}
	_, ok = granted[area]
	return ok
}

// AllowedPages returns a copy of the areas granted to role, in table order.
func (t *Table) AllowedPages(role Role) []FeatureArea {
	list, ok := t.grants[role]
	if !ok {
		return nil
	}
	out := make([]FeatureArea, len(list))
	copy(out, list)
	return out
}

// Snapshot returns a deep copy of the whole table.
func (t *Table) Snapshot() map[Role][]FeatureArea {
	out := make(map[Role][]FeatureArea, len(t.grants))
	for role := range t.grants {
		out[role] = t.AllowedPages(role)
	}
	return out
}
