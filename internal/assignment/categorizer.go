package assignment

import (
	"fmt"
	"strings"

	"github.com/civicgrid/drainflow/internal/domain"
	"golang.org/x/text/cases"
)

// Categorizer classifies free-text incident content into a priority tier.
// Matching is plain keyword containment over case-folded text: deterministic
// by design so categorization stays testable and auditable.
type Categorizer struct {
	catalog []domain.AssignmentCategory
	folder  cases.Caser
}

// NewCategorizer creates a categorizer over the given category catalog.
// Catalog order is priority order: the first category with a match wins.
func NewCategorizer(catalog []domain.AssignmentCategory) *Categorizer {
	return &Categorizer{
		catalog: catalog,
		folder:  cases.Fold(),
	}
}

// NewDefaultCategorizer creates a categorizer over the built-in catalog.
func NewDefaultCategorizer() *Categorizer {
	return NewCategorizer(DefaultCategories())
}

// Categorize classifies an incident. The first category (in catalog order)
// with at least one keyword hit wins; if nothing matches, the result defaults
// to medium. The returned reasoning names the matched keywords and is meant
// to be persisted on the incident.
func (c *Categorizer) Categorize(incident *domain.Incident) domain.CategoryResult {
	text := c.fold(incident.Title + " " + incident.Description + " " + incident.Location)

	for _, category := range c.catalog {
		matched := matchKeywords(text, category.Keywords)
		if len(matched) == 0 {
			continue
		}
		return domain.CategoryResult{
			Category:  category,
			Matched:   matched,
			Reasoning: fmt.Sprintf("matched %s keywords: %s", category.Code, strings.Join(matched, ", ")),
		}
	}

	fallback, ok := CategoryByCode(c.catalog, domain.CategoryMedium)
	if !ok && len(c.catalog) > 0 {
		fallback = c.catalog[len(c.catalog)-1]
	}
	return domain.CategoryResult{
		Category:  fallback,
		Reasoning: "no keywords matched, defaulted to " + string(fallback.Code),
	}
}

// fold lowercases text using Unicode case folding, matching how keywords are
// declared in the catalog.
func (c *Categorizer) fold(s string) string {
	return c.folder.String(s)
}

// matchKeywords returns the keywords contained in text, in declaration order.
// Multi-word keywords match as substrings so phrases like "raw sewage" work.
func matchKeywords(text string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
