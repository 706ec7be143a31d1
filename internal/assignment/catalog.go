package assignment

import (
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
)

// DefaultCategories returns the built-in category catalog in priority order.
// The categorizer checks categories in this order and the scheduler processes
// batches in this order. Keyword lists are plain data so rules can be extended
// without touching matching logic.
func DefaultCategories() []domain.AssignmentCategory {
	return []domain.AssignmentCategory{
		{
			Code:                  domain.CategoryCritical,
			SLATarget:             4 * time.Hour,
			MaxAssignmentsPerTeam: 2,
			RequiredCapabilities:  []string{"emergency-response", "heavy-equipment"},
			Keywords: []string{
				"emergency", "overflow", "overflowing", "burst", "flooding",
				"flood", "collapse", "collapsed", "raw sewage", "health hazard",
				"gushing", "explosion",
			},
		},
		{
			Code:                  domain.CategoryHigh,
			SLATarget:             8 * time.Hour,
			MaxAssignmentsPerTeam: 3,
			RequiredCapabilities:  []string{"pipe-repair"},
			Keywords: []string{
				"blocked", "blockage", "backup", "backing up", "leak", "leaking",
				"broken pipe", "manhole", "strong smell", "multiple houses",
			},
		},
		{
			Code:                  domain.CategoryMedium,
			SLATarget:             24 * time.Hour,
			MaxAssignmentsPerTeam: 5,
			Keywords: []string{
				"slow drain", "draining slowly", "gurgling", "partial blockage",
				"bad smell", "odour", "odor", "single house", "toilet",
			},
		},
		{
			Code:                  domain.CategoryLow,
			SLATarget:             72 * time.Hour,
			MaxAssignmentsPerTeam: 8,
			Keywords: []string{
				"minor", "small leak", "drip", "dripping", "cover loose",
				"cosmetic", "inspection", "maintenance request",
			},
		},
	}
}

// CategoryByCode looks up a category in the catalog. Returns false if the
// code is unknown.
func CategoryByCode(catalog []domain.AssignmentCategory, code domain.CategoryCode) (domain.AssignmentCategory, bool) {
	for _, c := range catalog {
		if c.Code == code {
			return c, true
		}
	}
	return domain.AssignmentCategory{}, false
}
