// internal/aggregate/report.go
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"audit-aggregator/internal/model"
	"audit-aggregator/internal/policy"
)

// Warning 종류
const (
	WarnGap           = "gap"
	WarnStale         = "stale"
	WarnSourceSkipped = "source_skipped"
	WarnEstimated     = "timestamp_estimated"
)

// Report
// ------------------------------------------------------------
// 집계 결과. JSON 보고서와 markdown 렌더링 모두 이 구조체 하나에서 나온다.
//
// 같은 입력이면 byte 단위로 같은 보고서가 나와야 하므로
// 실행 시각, run id 같은 값은 여기에 넣지 않는다.
type Report struct {
	TotalEvents      int                   `json:"total_events"`
	TasksWithLogs    int                   `json:"tasks_with_logs"`
	Operations       map[string]int        `json:"operations"`
	Statuses         map[string]int        `json:"statuses"`
	Sessions         map[string]int        `json:"sessions"`
	ParseSuccessRate float64               `json:"parse_success_rate"`
	ParseStatistics  model.ParseStatistics `json:"parse_statistics"`
	HealthScore      float64               `json:"health_score"`
	CriticalErrors   int                   `json:"critical_errors"`
	RecoveredEvents  int                   `json:"recovered_events"`
	EstimatedEvents  int                   `json:"estimated_timestamps"`
	FirstEvent       *time.Time            `json:"first_event,omitempty"`
	LastEvent        *time.Time            `json:"last_event,omitempty"`
	Tasks            []TaskSummary         `json:"tasks"`
	Sources          []SourceSummary       `json:"sources"`
	Warnings         []Warning             `json:"warnings"`
}

// TaskSummary 는 entity 하나에 대한 요약.
type TaskSummary struct {
	Entity       string         `json:"entity"`
	Count        int            `json:"count"`
	SuccessCount int            `json:"success_count"`
	SuccessRate  float64        `json:"success_rate"`
	FirstSeen    *time.Time     `json:"first_seen,omitempty"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
	MaxSeverity  model.Status   `json:"max_severity"`
	Operations   map[string]int `json:"operations"`
}

// SourceSummary : 소스 파일 하나의 파싱 결과 또는 건너뛴 이유.
type SourceSummary struct {
	Path            string                 `json:"path"`
	Format          string                 `json:"format,omitempty"`
	Stats           *model.ParseStatistics `json:"stats,omitempty"`
	Failures        []model.ParseFailure   `json:"failures,omitempty"`
	FailuresOmitted int                    `json:"failures_omitted,omitempty"`
	Skipped         string                 `json:"skipped,omitempty"`
}

// Warning 은 hard error 가 아닌 일관성 경고.
type Warning struct {
	Kind    string `json:"kind"`
	Rule    string `json:"rule,omitempty"`
	Entity  string `json:"entity,omitempty"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// JSON 은 보고서의 정규 직렬화. map key 는 정렬된다.
func (r *Report) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Report
//
// 누적된 이벤트로 보고서를 만든다.
//  1. 이벤트 정렬 (timestamp, source, line)
//  2. operation / status / session 별 카운트 (서로 독립적인 세 축)
//  3. entity 별 요약 + max severity
//  4. health score, staleness, cross-reference gap
func (r *Run) Report() *Report {
	events := r.Events()
	critical := criticalSet(r.opts.Policy.CriticalStatuses)

	rep := &Report{
		TotalEvents:      len(events),
		Operations:       make(map[string]int),
		Statuses:         make(map[string]int),
		Sessions:         make(map[string]int),
		ParseStatistics:  r.stats,
		ParseSuccessRate: round(r.stats.SuccessRate, 4),
		Tasks:            []TaskSummary{},
		Sources:          append([]SourceSummary{}, r.sources...),
		Warnings:         []Warning{},
	}
	sort.SliceStable(rep.Sources, func(i, j int) bool { return rep.Sources[i].Path < rep.Sources[j].Path })

	tasks := make(map[string]*TaskSummary)
	var newest time.Time

	for i := range events {
		ev := &events[i]
		rep.Operations[ev.Operation]++
		rep.Statuses[string(ev.Status)]++
		rep.Sessions[ev.SessionID]++
		if ev.Recovered {
			rep.RecoveredEvents++
		}

		ts, ok := tasks[ev.Entity]
		if !ok {
			ts = &TaskSummary{Entity: ev.Entity, MaxSeverity: ev.Status, Operations: make(map[string]int)}
			tasks[ev.Entity] = ts
		}
		ts.Count++
		ts.Operations[ev.Operation]++
		if ev.Status == model.StatusSuccess {
			ts.SuccessCount++
		}
		ts.MaxSeverity = model.MaxStatus(ts.MaxSeverity, ev.Status)

		if ev.TimestampEstimated {
			rep.EstimatedEvents++
			continue
		}
		t := ev.Timestamp
		if ts.FirstSeen == nil || t.Before(*ts.FirstSeen) {
			ts.FirstSeen = &t
		}
		if ts.LastSeen == nil || t.After(*ts.LastSeen) {
			ts.LastSeen = &t
		}
		if rep.FirstEvent == nil || t.Before(*rep.FirstEvent) {
			rep.FirstEvent = &t
		}
		if t.After(newest) {
			newest = t
		}
	}
	if !newest.IsZero() {
		rep.LastEvent = &newest
	}

	for _, ts := range tasks {
		ts.SuccessRate = round(float64(ts.SuccessCount)/float64(ts.Count), 4)
		if critical[ts.MaxSeverity] {
			rep.CriticalErrors++
		}
		if ts.Entity != model.Unknown {
			rep.TasksWithLogs++
		}
		rep.Tasks = append(rep.Tasks, *ts)
	}
	sort.Slice(rep.Tasks, func(i, j int) bool { return rep.Tasks[i].Entity < rep.Tasks[j].Entity })

	rep.HealthScore = HealthScore(rep.CriticalErrors, len(tasks))

	rep.Warnings = append(rep.Warnings, skippedWarnings(rep.Sources)...)
	if rep.EstimatedEvents > 0 {
		rep.Warnings = append(rep.Warnings, Warning{
			Kind:    WarnEstimated,
			Message: fmt.Sprintf("%d events had no parseable timestamp and were excluded from first/last", rep.EstimatedEvents),
		})
	}
	rep.Warnings = append(rep.Warnings, staleWarnings(rep.Tasks, newest, r.opts.StalenessDays)...)
	rep.Warnings = append(rep.Warnings, gapWarnings(events, r.opts.Policy.CrossRef)...)

	return rep
}

// HealthScore
//
// 100 * (1 - critical / max(1, groups)), [0,100] 으로 clamp.
// critical 이 0 이면 100, 하나라도 있으면 반드시 감소한다.
func HealthScore(critical, groups int) float64 {
	score := round(100*(1-float64(critical)/float64(max(1, groups))), 2)
	score = math.Min(100, math.Max(0, score))
	if critical > 0 && score == 100 {
		// 반올림으로 100 이 되는 경우
		score = 99.99
	}
	return score
}

func sortEvents(events []model.LogEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Line < b.Line
	})
}

func criticalSet(statuses []string) map[model.Status]bool {
	set := make(map[model.Status]bool, len(statuses))
	for _, s := range statuses {
		set[model.Status(strings.ToUpper(strings.TrimSpace(s)))] = true
	}
	if len(set) == 0 {
		set[model.StatusFail] = true
	}
	return set
}

func skippedWarnings(sources []SourceSummary) []Warning {
	var out []Warning
	for _, s := range sources {
		if s.Skipped == "" {
			continue
		}
		out = append(out, Warning{
			Kind:    WarnSourceSkipped,
			Source:  s.Path,
			Message: "source skipped: " + s.Skipped,
		})
	}
	return out
}

// staleWarnings : run 안의 가장 최신 이벤트 기준으로 days 이상 소식이 없는 task.
func staleWarnings(tasks []TaskSummary, newest time.Time, days int) []Warning {
	if days <= 0 || newest.IsZero() {
		return nil
	}
	cutoff := newest.Add(-time.Duration(days) * 24 * time.Hour)

	var out []Warning
	for _, t := range tasks {
		if t.LastSeen == nil || t.Entity == model.Unknown || !t.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, Warning{
			Kind:    WarnStale,
			Entity:  t.Entity,
			Message: fmt.Sprintf("no events for more than %d days (last seen %s)", days, t.LastSeen.Format(time.RFC3339)),
		})
	}
	return out
}

// gapWarnings
//
// rule.Left 소스에 등장한 entity 가 rule.Right 소스에 없으면 경고.
// "unknown" entity 는 비교 대상이 아니다.
func gapWarnings(events []model.LogEvent, rules []policy.CrossRefRule) []Warning {
	var out []Warning
	for _, rule := range rules {
		left := make(map[string]string) // entity → 처음 등장한 source
		right := make(map[string]bool)

		for _, ev := range events {
			if ev.Entity == model.Unknown {
				continue
			}
			if policy.Matches(rule.Left, ev.Source) {
				if _, ok := left[ev.Entity]; !ok {
					left[ev.Entity] = ev.Source
				}
			}
			if policy.Matches(rule.Right, ev.Source) {
				right[ev.Entity] = true
			}
		}

		missing := make([]string, 0, len(left))
		for e := range left {
			if !right[e] {
				missing = append(missing, e)
			}
		}
		sort.Strings(missing)

		for _, e := range missing {
			out = append(out, Warning{
				Kind:    WarnGap,
				Rule:    rule.Name,
				Entity:  e,
				Source:  left[e],
				Message: fmt.Sprintf("%s referenced in %q sources but absent from %q sources", e, rule.Left, rule.Right),
			})
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
