package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func closedProject(name string, createdAt time.Time, duration time.Duration) Project {
	closedAt := createdAt.Add(duration)
	return Project{
		Name: name,
		FundableState: FundableState{
			FullAmount:     100,
			InvestedAmount: 100,
			FullyInvested:  true,
			CreateDate:     createdAt,
			CloseDate:      &closedAt,
		},
	}
}

func rankedNames(projects []Project) []string {
	names := make([]string, len(projects))
	for i := range projects {
		names[i] = projects[i].Name
	}
	return names
}

func TestRankByDuration_FastestFirst(t *testing.T) {
	base := time.Now()
	projects := []Project{
		closedProject("slow", base, 72*time.Hour),
		closedProject("fast", base, time.Hour),
		closedProject("medium", base, 24*time.Hour),
	}

	ranked := RankByDuration(projects, false)

	assert.Equal(t, []string{"fast", "medium", "slow"}, rankedNames(ranked))
	// Input order untouched.
	assert.Equal(t, []string{"slow", "fast", "medium"}, rankedNames(projects))
}

func TestRankByDuration_Descending(t *testing.T) {
	base := time.Now()
	projects := []Project{
		closedProject("fast", base, time.Hour),
		closedProject("slow", base, 72*time.Hour),
	}

	ranked := RankByDuration(projects, true)

	assert.Equal(t, []string{"slow", "fast"}, rankedNames(ranked))
}

func TestRankByDuration_StableForEqualDurations(t *testing.T) {
	base := time.Now()
	projects := []Project{
		closedProject("first", base, time.Hour),
		closedProject("second", base.Add(time.Minute), time.Hour),
		closedProject("third", base.Add(2*time.Minute), time.Hour),
	}

	ranked := RankByDuration(projects, false)

	assert.Equal(t, []string{"first", "second", "third"}, rankedNames(ranked))
}
