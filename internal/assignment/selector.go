package assignment

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"golang.org/x/text/cases"
)

// Score weights. Capacity headroom and utilization dominate; team priority
// and rule bonuses contribute the rest. Weights sum to 1.0 with the rule
// bonus entering as (bonus-1) * weightRuleBonus.
const (
	weightCapacity    = 0.3
	weightUtilization = 0.3
	weightPriority    = 0.2
	weightRuleBonus   = 0.2
)

// Rule bonus factors, multiplicative and clamped >= 1.0.
const (
	bonusZoneMatch       = 1.3
	bonusShiftMatch      = 1.15
	bonusCapabilityMatch = 1.2
)

// ZoneRule maps a location keyword found in incident text to a geographic
// zone tag. A team matching the zone (by tag or by name) earns the zone bonus.
type ZoneRule struct {
	LocationKeyword string
	Zone            string
}

// DefaultZoneRules returns the built-in geographic routing rules.
func DefaultZoneRules() []ZoneRule {
	return []ZoneRule{
		{LocationKeyword: "north", Zone: "north"},
		{LocationKeyword: "south", Zone: "south"},
		{LocationKeyword: "east", Zone: "east"},
		{LocationKeyword: "west", Zone: "west"},
		{LocationKeyword: "central", Zone: "central"},
		{LocationKeyword: "industrial", Zone: "industrial"},
	}
}

// TeamScore is one candidate's scoring breakdown, kept for audit detail.
type TeamScore struct {
	Team             *domain.Team `json:"-"`
	TeamID           string       `json:"team_id"`
	CapacityScore    float64      `json:"capacity_score"`
	UtilizationScore float64      `json:"utilization_score"`
	PriorityScore    float64      `json:"priority_score"`
	RuleBonus        float64      `json:"rule_bonus"`
	Final            float64      `json:"final"`
}

// Selector scores and ranks eligible teams for an incident.
type Selector struct {
	validator *Validator
	zones     []ZoneRule
	rng       *rand.Rand
	now       func() time.Time
	folder    cases.Caser
}

// NewSelector creates a selector. The rand source is injected so tests can
// seed tie-breaking; pass rand.New(rand.NewSource(time.Now().UnixNano()))
// in production wiring.
func NewSelector(validator *Validator, zones []ZoneRule, rng *rand.Rand) *Selector {
	return &Selector{
		validator: validator,
		zones:     zones,
		rng:       rng,
		now:       time.Now,
		folder:    cases.Fold(),
	}
}

// WithClock overrides the wall clock, used by shift-preference tests.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// SelectBestTeam filters candidates through the validator's eligibility
// checks, scores the survivors, and returns the top scorer. Ties are broken
// by uniform random choice among the tied top scorers rather than slice
// order, so no team is systematically favored by listing position.
func (s *Selector) SelectBestTeam(ctx context.Context, candidates []*domain.Team, incident *domain.Incident, category domain.AssignmentCategory) (*domain.Team, []TeamScore, error) {
	var eligible []*domain.Team
	for _, team := range candidates {
		if err := s.validator.ValidateEligibility(ctx, team, category); err != nil {
			continue
		}
		eligible = append(eligible, team)
	}
	if len(eligible) == 0 {
		return nil, nil, ErrNoEligibleTeam
	}

	scores := s.scoreTeams(eligible, incident, category)

	best := scores[0].Final
	for _, sc := range scores[1:] {
		if sc.Final > best {
			best = sc.Final
		}
	}

	var top []TeamScore
	for _, sc := range scores {
		if sc.Final == best {
			top = append(top, sc)
		}
	}

	winner := top[s.rng.Intn(len(top))]
	return winner.Team, scores, nil
}

// scoreTeams computes the weighted score for every eligible team.
func (s *Selector) scoreTeams(teams []*domain.Team, incident *domain.Incident, category domain.AssignmentCategory) []TeamScore {
	// Capacity headroom is normalized against the best headroom among
	// candidates so the score stays in [0,1] regardless of fleet size.
	maxHeadroom := 0
	for _, t := range teams {
		if h := t.MaxCapacity - t.CurrentCapacity; h > maxHeadroom {
			maxHeadroom = h
		}
	}

	location := s.folder.String(incident.Location + " " + incident.Description)
	now := s.now()

	scores := make([]TeamScore, 0, len(teams))
	for _, t := range teams {
		sc := TeamScore{Team: t, TeamID: t.ID}

		if maxHeadroom > 0 {
			sc.CapacityScore = float64(t.MaxCapacity-t.CurrentCapacity) / float64(maxHeadroom)
		}
		if t.MaxCapacity > 0 {
			sc.UtilizationScore = 1 - float64(t.CurrentCapacity)/float64(t.MaxCapacity)
		}
		sc.PriorityScore = float64(t.PriorityLevel) / 5

		sc.RuleBonus = s.ruleBonus(t, location, category, now)

		sc.Final = weightCapacity*sc.CapacityScore +
			weightUtilization*sc.UtilizationScore +
			weightPriority*sc.PriorityScore +
			weightRuleBonus*(sc.RuleBonus-1)

		scores = append(scores, sc)
	}
	return scores
}

// ruleBonus combines geographic, time-of-day and capability signals into a
// multiplicative factor >= 1.0.
func (s *Selector) ruleBonus(team *domain.Team, location string, category domain.AssignmentCategory, now time.Time) float64 {
	bonus := 1.0

	if zone := s.matchZone(location); zone != "" && s.teamInZone(team, zone) {
		bonus *= bonusZoneMatch
	}

	if team.Shift.Matches(now) {
		bonus *= bonusShiftMatch
	}

	if len(category.RequiredCapabilities) > 0 {
		for _, tag := range category.RequiredCapabilities {
			if team.HasCapability(tag) {
				bonus *= bonusCapabilityMatch
				break
			}
		}
	}

	return bonus
}

// matchZone returns the first configured zone whose location keyword appears
// in the folded incident text.
func (s *Selector) matchZone(location string) string {
	for _, rule := range s.zones {
		if strings.Contains(location, rule.LocationKeyword) {
			return rule.Zone
		}
	}
	return ""
}

// teamInZone matches by explicit zone tag first, then by team name.
func (s *Selector) teamInZone(team *domain.Team, zone string) bool {
	if team.Zone != "" {
		return strings.EqualFold(team.Zone, zone)
	}
	return strings.Contains(s.folder.String(team.Name), zone)
}
