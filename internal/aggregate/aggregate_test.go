package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audit-aggregator/internal/adapter"
	"audit-aggregator/internal/model"
	"audit-aggregator/internal/policy"
)

var started = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

const branches = `{"ts":"2025-01-10T00:00:00Z","op":"create","task":"A","status":"success"}
{"ts":"2025-01-11T00:00:00Z","op":"validate","task":"B","status":"fail"}
{"ts":"2025-03-01T00:00:00Z","op":"validate","task":"C","status":"warn"}
`

const commits = `2025-01-12 00:00:00 UTC - git - INFO - [s1] - [UPDATE] A - SUCCESS: ok
plain words only
`

func batchOf(source, content string) *model.Batch {
	res := adapter.ParseString(content, adapter.DefaultOptions())
	return &model.Batch{
		Source:   source,
		Format:   string(res.Format),
		Records:  res.Records,
		Failures: res.Failures,
		Stats:    res.Stats,
	}
}

func newRun(t *testing.T) *Run {
	t.Helper()
	r, err := NewRun(Options{
		Policy: &policy.Policy{
			CrossRef:         []policy.CrossRefRule{{Name: "branch-vs-commit", Left: "branches*", Right: "commits/*"}},
			CriticalStatuses: []string{"FAIL"},
		},
		StalenessDays: 30,
		Started:       started,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Consume(ctx, batchOf("commits/main.log", commits)))
	require.NoError(t, r.Consume(ctx, batchOf("branches.jsonl", branches)))
	require.NoError(t, r.Consume(ctx, &model.Batch{Source: "missing.log", SkipReason: "permission denied"}))
	return r
}

func TestReportCounts(t *testing.T) {
	rep := newRun(t).Report()

	assert.Equal(t, 5, rep.TotalEvents)
	assert.Equal(t, 3, rep.TasksWithLogs)
	assert.Equal(t, map[string]int{"CREATE": 1, "VALIDATE": 2, "UPDATE": 1, "UNKNOWN": 1}, rep.Operations)
	assert.Equal(t, map[string]int{"SUCCESS": 2, "FAIL": 1, "WARN": 1, "INFO": 1}, rep.Statuses)
	assert.Equal(t, 1, rep.Sessions["s1"])
	assert.Equal(t, 4, rep.Sessions[model.Unknown])
	assert.Equal(t, 1.0, rep.ParseSuccessRate)
	assert.Equal(t, 1, rep.RecoveredEvents)
	assert.Equal(t, 1, rep.EstimatedEvents)

	assert.Equal(t, 1, rep.CriticalErrors)
	assert.Equal(t, 75.0, rep.HealthScore)

	require.NoError(t, Validate(rep))
}

func TestReportTaskSummaries(t *testing.T) {
	rep := newRun(t).Report()
	require.Len(t, rep.Tasks, 4)

	names := make([]string, 0, len(rep.Tasks))
	for _, ts := range rep.Tasks {
		names = append(names, ts.Entity)
	}
	assert.Equal(t, []string{"A", "B", "C", model.Unknown}, names)

	a := rep.Tasks[0]
	assert.Equal(t, 2, a.Count)
	assert.Equal(t, 1.0, a.SuccessRate)
	assert.Equal(t, model.StatusSuccess, a.MaxSeverity)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), *a.FirstSeen)
	assert.Equal(t, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), *a.LastSeen)

	assert.Equal(t, model.StatusFail, rep.Tasks[1].MaxSeverity)
	assert.Equal(t, model.StatusWarn, rep.Tasks[2].MaxSeverity)

	// estimated timestamp 는 first/last 에 들어가지 않는다
	unknown := rep.Tasks[3]
	assert.Nil(t, unknown.FirstSeen)
	assert.Nil(t, unknown.LastSeen)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *rep.LastEvent)
}

func TestReportWarnings(t *testing.T) {
	rep := newRun(t).Report()

	byKind := map[string][]string{}
	for _, w := range rep.Warnings {
		byKind[w.Kind] = append(byKind[w.Kind], w.Entity+w.Source)
	}

	assert.Equal(t, []string{"missing.log"}, byKind[WarnSourceSkipped])
	assert.Len(t, byKind[WarnEstimated], 1)
	assert.Equal(t, []string{"A", "B"}, byKind[WarnStale])
	assert.Equal(t, []string{"Bbranches.jsonl", "Cbranches.jsonl"}, byKind[WarnGap])
}

func TestReportIsIdempotent(t *testing.T) {
	first, err := newRun(t).Report().JSON()
	require.NoError(t, err)
	second, err := newRun(t).Report().JSON()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.NotContains(t, string(first), "run_id")
}

func TestEventsSorted(t *testing.T) {
	events := newRun(t).Events()
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
	assert.True(t, events[4].TimestampEstimated)
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, 100.0, HealthScore(0, 0))
	assert.Equal(t, 100.0, HealthScore(0, 7))
	assert.Equal(t, 0.0, HealthScore(1, 0))
	assert.Equal(t, 66.67, HealthScore(1, 3))
	assert.Equal(t, 0.0, HealthScore(5, 3))
	assert.Less(t, HealthScore(1, 1000), 100.0)
}

func TestEmptyRun(t *testing.T) {
	r, err := NewRun(Options{Started: started})
	require.NoError(t, err)

	rep := r.Report()
	assert.Zero(t, rep.TotalEvents)
	assert.Equal(t, 100.0, rep.HealthScore)
	assert.Zero(t, rep.ParseSuccessRate)
	require.NoError(t, Validate(rep))

	b, err := rep.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"tasks": []`)
}

func TestValidateDetectsViolations(t *testing.T) {
	rep := newRun(t).Report()
	rep.Operations["CREATE"]++
	rep.HealthScore = 120
	rep.ParseStatistics.FailedLines++

	err := Validate(rep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidReport))
	assert.Contains(t, err.Error(), "operation counts")
	assert.Contains(t, err.Error(), "health_score")
	assert.Contains(t, err.Error(), "parsed")
}

func TestMarkdownRendersSameData(t *testing.T) {
	rep := newRun(t).Report()
	md := rep.Markdown()

	assert.True(t, strings.HasPrefix(md, "# Audit Log Report"))
	assert.Contains(t, md, "| total_events | 5 |")
	assert.Contains(t, md, "| health_score | 75.00 |")
	assert.Contains(t, md, "| VALIDATE | 2 |")
	assert.Contains(t, md, "| missing.log | skipped |")
	assert.Contains(t, md, "**gap** (branch-vs-commit)")
}

func TestNewRunRejectsBadPolicy(t *testing.T) {
	_, err := NewRun(Options{Policy: &policy.Policy{FieldSynonyms: map[string][]string{"nope": {"x"}}}})
	assert.Error(t, err)
}
