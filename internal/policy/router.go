package policy

import "epl-engine/internal/models"

// Router decides which scenario engines are applicable for a candidate.
// Pure lookup and branch: no side effects.
type Router struct{}

// Route returns the applicable scenarios. A candidate matching an existing
// same-symbol position is never routed to the new-position engine; the
// ignore referee is always included as the fallback path.
func (Router) Route(candidate models.SignalCandidate, position *models.PositionInfo) []Scenario {
	switch {
	case position == nil:
		return []Scenario{ScenarioNewPosition, ScenarioIgnore}
	case position.Direction == candidate.Direction:
		return []Scenario{ScenarioStrengthening, ScenarioIgnore}
	default:
		return []Scenario{ScenarioReplacement, ScenarioIgnore}
	}
}
