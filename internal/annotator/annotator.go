package annotator

import (
	"fmt"
	"strings"

	"etlpulse/internal/summary"
)

const maxSuggestions = 3

// Annotation is the best-guess business domain for a dataset
type Annotation struct {
	Type           string   `json:"type"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Score          int      `json:"score"`
	Confidence     float64  `json:"confidence"`
	MatchedMetrics []string `json:"matched_metrics"`
	KPIFocus       []string `json:"kpi_focus"`
	Charts         []string `json:"visualization_preferences"`
	Suggestions    []string `json:"suggestions"`
}

// Annotator scores column names against a list of profiles
type Annotator struct {
	profiles []Profile
}

// New creates an annotator. With no profiles the defaults are used.
func New(profiles []Profile) *Annotator {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	return &Annotator{profiles: profiles}
}

// Profiles returns the profiles in match order
func (a *Annotator) Profiles() []Profile {
	out := make([]Profile, len(a.profiles))
	copy(out, a.profiles)
	return out
}

// AnnotateSummary annotates using the column names of a summary
func (a *Annotator) AnnotateSummary(s summary.Summary) Annotation {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return a.Annotate(names)
}

// Annotate picks the highest scoring profile. Each expected column fragment
// found in some column name scores 1, each primary metric scores 2. The
// first profile wins ties and a zero score falls back to generic.
func (a *Annotator) Annotate(columns []string) Annotation {
	lower := make([]string, len(columns))
	for i, c := range columns {
		lower[i] = strings.ToLower(c)
	}

	best, bestScore := a.generic(), 0
	for _, p := range a.profiles {
		if p.ID == Generic {
			continue
		}
		if score := scoreProfile(p, lower); score > bestScore {
			best, bestScore = p, score
		}
	}

	ann := Annotation{
		Type:           best.ID,
		Name:           best.Name,
		Description:    best.Description,
		Score:          bestScore,
		Confidence:     confidence(best, lower),
		MatchedMetrics: []string{},
		KPIFocus:       append([]string{}, best.KPIFocus...),
		Charts:         append([]string{}, best.Charts...),
		Suggestions:    suggestions(best, lower),
	}
	for _, m := range best.PrimaryMetrics {
		if anyContains(lower, m) {
			ann.MatchedMetrics = append(ann.MatchedMetrics, m)
		}
	}
	return ann
}

func (a *Annotator) generic() Profile {
	for _, p := range a.profiles {
		if p.ID == Generic {
			return p
		}
	}
	return Profile{ID: Generic, Name: "Generic Dataset"}
}

func scoreProfile(p Profile, columns []string) int {
	score := 0
	for _, frag := range p.Expected.all() {
		if anyContains(columns, frag) {
			score++
		}
	}
	for _, m := range p.PrimaryMetrics {
		if anyContains(columns, m) {
			score += 2
		}
	}
	return score
}

// confidence is the share of a profile's expected fragments present, capped at 1
func confidence(p Profile, columns []string) float64 {
	expected := p.Expected.all()
	if len(expected) == 0 {
		return 0
	}
	matches := 0
	for _, frag := range expected {
		if anyContains(columns, frag) {
			matches++
		}
	}
	c := float64(matches) / float64(len(expected))
	if c > 1 {
		return 1
	}
	return c
}

func suggestions(p Profile, columns []string) []string {
	out := []string{}
	for _, m := range p.PrimaryMetrics {
		if !anyContains(columns, m) {
			out = append(out, fmt.Sprintf("Consider adding a '%s' column for better analysis", m))
		}
	}
	if len(p.Expected.Date) > 0 {
		hasDate := false
		for _, d := range p.Expected.Date {
			if anyContains(columns, d) {
				hasDate = true
				break
			}
		}
		if !hasDate {
			out = append(out, "Consider adding date/time columns for temporal analysis")
		}
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func anyContains(columns []string, fragment string) bool {
	fragment = strings.ToLower(fragment)
	for _, c := range columns {
		if strings.Contains(c, fragment) {
			return true
		}
	}
	return false
}
