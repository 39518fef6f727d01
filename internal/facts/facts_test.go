package facts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetDecayStatus(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ageDays int
		stage   Stage
		inject  bool
		thresh  float64
	}{
		{name: "new fact", ageDays: 0, stage: StageFresh, inject: true, thresh: 0.0},
		{name: "last fresh day", ageDays: 59, stage: StageFresh, inject: true, thresh: 0.0},
		{name: "first aging day", ageDays: 60, stage: StageAging, inject: true, thresh: 0.3},
		{name: "last aging day", ageDays: 89, stage: StageAging, inject: true, thresh: 0.3},
		{name: "first low priority day", ageDays: 90, stage: StageLowPriority, inject: true, thresh: 0.7},
		{name: "last low priority day", ageDays: 119, stage: StageLowPriority, inject: true, thresh: 0.7},
		{name: "first stale day", ageDays: 120, stage: StageStale, inject: false, thresh: 1.0},
		{name: "ancient", ageDays: 1000, stage: StageStale, inject: false, thresh: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			confirmed := now.AddDate(0, 0, -tt.ageDays)
			st := GetDecayStatus(confirmed, now)
			assert.Equal(t, tt.stage, st.Stage)
			assert.Equal(t, tt.inject, st.Inject)
			assert.InDelta(t, tt.thresh, st.RelevanceThreshold, 1e-9)
		})
	}
}

func TestValidDomain(t *testing.T) {
	assert.True(t, ValidDomain(DomainHealth))
	assert.True(t, ValidDomain(DomainProjects))
	assert.False(t, ValidDomain(Domain("weather")))
	assert.False(t, ValidDomain(Domain("")))
}

func TestShouldExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{name: "too short", in: "ok gracias", want: false},
		{name: "greeting", in: "buenas tardes", want: false},
		{name: "statement with fact", in: "mi hermana se mudó a Valencia la semana pasada", want: true},
		{name: "pure question", in: "¿cuál es la capital de Francia?", want: false},
		{name: "personal question", in: "¿te conté que mi perro se llama Rocky?", want: true},
		{name: "preference", in: "prefiero el café sin azúcar por las mañanas", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldExtract(tt.in))
		})
	}
}

func TestFactActive(t *testing.T) {
	f := &Fact{}
	assert.True(t, f.Active())
	f.Stale = true
	assert.False(t, f.Active())
	f = &Fact{Archived: true}
	assert.False(t, f.Active())
}
