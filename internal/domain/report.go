package domain

import (
	"sort"
	"time"
)

// FundingDuration returns how long the project took to collect its target.
// Only meaningful for closed projects, where CloseDate is always present.
func (p *Project) FundingDuration() time.Duration {
	if p.CloseDate == nil {
		return 0
	}
	return p.CloseDate.Sub(p.CreateDate)
}

// RankByDuration orders closed projects by funding duration, fastest first by
// default. The sort is stable, so projects with equal durations keep their
// input order. The input slice is not modified.
func RankByDuration(projects []Project, descending bool) []Project {
	ranked := make([]Project, len(projects))
	copy(ranked, projects)
	sort.SliceStable(ranked, func(i, j int) bool {
		if descending {
			return ranked[i].FundingDuration() > ranked[j].FundingDuration()
		}
		return ranked[i].FundingDuration() < ranked[j].FundingDuration()
	})
	return ranked
}
