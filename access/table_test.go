package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable_HasPermission(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		role Role
		area FeatureArea
		want bool
	}{
		{RoleLearner, "membros", false},
		{RoleAdministrator, "membros", true},
		{RoleInstructor, "membros", false},
		{RoleInstructor, AreaClasses, true},
		{RoleLearner, AreaFlashcards, true},
		{RoleLearner, AreaSettings, false},
		{RoleAdministrator, AreaSettings, true},
		{RoleAdministrator, "unknown-area", false},
	}

	for _, tt := range tests {
		got := table.HasPermission(tt.role, tt.area)
		assert.Equalf(t, tt.want, got, "HasPermission(%s, %s)", tt.role, tt.area)
	}
}

func TestDefaultTable_EveryListedAreaIsPermitted(t *testing.T) {
	table := DefaultTable()

	for _, role := range Roles() {
		allowed := table.AllowedPages(role)
		require.NotEmpty(t, allowed, "role %s", role)

		listed := make(map[FeatureArea]bool, len(allowed))
		for _, area := range allowed {
			listed[area] = true
			assert.True(t, table.HasPermission(role, area), "%s should access %s", role, area)
		}

		for _, area := range Areas() {
			if !listed[area] {
				assert.False(t, table.HasPermission(role, area), "%s should not access %s", role, area)
			}
		}
	}
}

func TestAllowedPages_ReturnsCopy(t *testing.T) {
	table := DefaultTable()

	first := table.AllowedPages(RoleLearner)
	require.NotEmpty(t, first)
	first[0] = AreaMembers
	first = append(first, AreaSettings)

	second := table.AllowedPages(RoleLearner)
	assert.Equal(t, AreaDashboard, second[0])
	assert.NotContains(t, second, AreaSettings)
	assert.False(t, table.HasPermission(RoleLearner, AreaMembers))
}

func TestAllowedPages_InvalidRole(t *testing.T) {
	table := DefaultTable()

	assert.Nil(t, table.AllowedPages(Role("guest")))
	assert.False(t, table.HasPermission(Role("guest"), AreaDashboard))
}

func TestNewTable_RequiresEveryRole(t *testing.T) {
	_, err := NewTable(map[Role][]FeatureArea{
		RoleAdministrator: {AreaDashboard},
		RoleLearner:       {AreaDashboard},
	})
	require.ErrorIs(t, err, ErrMissingRole)
}

func TestNewTable_RejectsUnknownRole(t *testing.T) {
	_, err := NewTable(map[Role][]FeatureArea{
		RoleAdministrator: {AreaDashboard},
		RoleInstructor:    {AreaDashboard},
		RoleLearner:       {AreaDashboard},
		Role("guest"):     {AreaDashboard},
	})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewTable_RejectsEmptyArea(t *testing.T) {
	_, err := NewTable(map[Role][]FeatureArea{
		RoleAdministrator: {AreaDashboard, ""},
		RoleInstructor:    {},
		RoleLearner:       {},
	})
	require.ErrorIs(t, err, ErrEmptyArea)
}

func TestNewTable_CopiesInputAndDeduplicates(t *testing.T) {
	admin := []FeatureArea{AreaDashboard, AreaMembers, AreaDashboard}
	table, err := NewTable(map[Role][]FeatureArea{
		RoleAdministrator: admin,
		RoleInstructor:    {AreaDashboard},
		RoleLearner:       {},
	})
	require.NoError(t, err)

	admin[1] = AreaQuiz

	assert.Equal(t, []FeatureArea{AreaDashboard, AreaMembers}, table.AllowedPages(RoleAdministrator))
	assert.False(t, table.HasPermission(RoleAdministrator, AreaQuiz))
	assert.Empty(t, table.AllowedPages(RoleLearner))
}

func TestNewTableFromConfig(t *testing.T) {
	table, err := NewTableFromConfig(map[string][]string{
		"admin":   {"membros", "dashboard"},
		"teacher": {"dashboard"},
		"learner": {"dashboard", "quiz"},
	})
	require.NoError(t, err)

	assert.True(t, table.HasPermission(RoleAdministrator, AreaMembers))
	assert.True(t, table.HasPermission(RoleLearner, AreaQuiz))
	assert.False(t, table.HasPermission(RoleInstructor, AreaQuiz))

	_, err = NewTableFromConfig(map[string][]string{"owner": {"dashboard"}})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewTableFromConfig_RejectsUnknownArea(t *testing.T) {
	_, err := NewTableFromConfig(map[string][]string{
		"administrator": {"dashboard"},
		"instructor":    {"dashboard"},
		"learner":       {"flashcard", "dashbaord"},
	})
	require.ErrorIs(t, err, ErrUnknownArea)
	assert.Contains(t, err.Error(), "learner")

	_, err = NewTableFromConfig(map[string][]string{
		"administrator": {"dashboard"},
		"instructor":    {" "},
		"learner":       {"dashboard"},
	})
	assert.ErrorIs(t, err, ErrEmptyArea)
}

func TestParseArea(t *testing.T) {
	area, err := ParseArea(" Membros ")
	require.NoError(t, err)
	assert.Equal(t, AreaMembers, area)

	_, err = ParseArea("members")
	assert.ErrorIs(t, err, ErrUnknownArea)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	table := DefaultTable()

	snap := table.Snapshot()
	snap[RoleLearner][0] = AreaMembers
	delete(snap, RoleAdministrator)

	assert.False(t, table.HasPermission(RoleLearner, AreaMembers))
	assert.NotEmpty(t, table.AllowedPages(RoleAdministrator))
}
