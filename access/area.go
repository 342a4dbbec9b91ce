package access

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownArea = errors.New("unknown feature area")

// FeatureArea names a section of the portal gated by the permission table.
type FeatureArea string

const (
	AreaDashboard  FeatureArea = "dashboard"
	AreaFlashcards FeatureArea = "flashcards"
	AreaQuiz       FeatureArea = "quiz"
	AreaCommunity  FeatureArea = "comunidade"
	AreaRanking    FeatureArea = "ranking"
	AreaCalendar   FeatureArea = "calendario"
	AreaUploads    FeatureArea = "uploads"
	AreaClasses    FeatureArea = "turmas"
	AreaMembers    FeatureArea = "membros"
	AreaSettings   FeatureArea = "configuracoes"
)

var areas = []FeatureArea{
	AreaDashboard,
	AreaFlashcards,
	AreaQuiz,
	AreaCommunity,
	AreaRanking,
	AreaCalendar,
	AreaUploads,
	AreaClasses,
	AreaMembers,
	AreaSettings,
}

// Areas returns the feature areas known to the portal.
func Areas() []FeatureArea {
	out := make([]FeatureArea, len(areas))
	copy(out, areas)
	return out
}

// ParseArea validates a feature area name read from configuration or a request.
func ParseArea(raw string) (FeatureArea, error) {
	normalized := FeatureArea(strings.ToLower(strings.TrimSpace(raw)))
	for _, area := range areas {
		if area == normalized {
			return area, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArea, raw)
}
