// internal/aggregate/markdown.go
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Markdown 은 Report 를 사람이 읽는 표 형태로 렌더링한다.
// JSON 과 같은 Report 값에서 나오므로 두 표현의 내용은 항상 같다.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.Grow(2048)

	sb.WriteString("# Audit Log Report\n\n")

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| metric | value |\n|---|---|\n")
	row(&sb, "total_events", r.TotalEvents)
	row(&sb, "tasks_with_logs", r.TasksWithLogs)
	row(&sb, "parse_success_rate", fmt.Sprintf("%.2f%%", r.ParseSuccessRate*100))
	row(&sb, "health_score", fmt.Sprintf("%.2f", r.HealthScore))
	row(&sb, "critical_errors", r.CriticalErrors)
	row(&sb, "recovered_events", r.RecoveredEvents)
	row(&sb, "estimated_timestamps", r.EstimatedEvents)
	row(&sb, "first_event", stamp(r.FirstEvent))
	row(&sb, "last_event", stamp(r.LastEvent))

	s := r.ParseStatistics
	sb.WriteString("\n## Parse Statistics\n\n")
	sb.WriteString("| total | parsed | failed | corrupted | skipped |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d |\n", s.TotalLines, s.ParsedLines, s.FailedLines, s.CorruptedLines, s.SkippedLines)

	counts(&sb, "Operations", "operation", r.Operations)
	counts(&sb, "Statuses", "status", r.Statuses)

	sb.WriteString("\n## Tasks\n\n")
	if len(r.Tasks) == 0 {
		sb.WriteString("_none_\n")
	} else {
		sb.WriteString("| entity | count | success_rate | max_severity | first_seen | last_seen |\n|---|---|---|---|---|---|\n")
		for _, t := range r.Tasks {
			fmt.Fprintf(&sb, "| %s | %d | %.2f%% | %s | %s | %s |\n",
				cell(t.Entity), t.Count, t.SuccessRate*100, t.MaxSeverity, stamp(t.FirstSeen), stamp(t.LastSeen))
		}
	}

	sb.WriteString("\n## Sources\n\n")
	sb.WriteString("| path | format | total | parsed | failed | success_rate |\n|---|---|---|---|---|---|\n")
	for _, src := range r.Sources {
		if src.Skipped != "" {
			fmt.Fprintf(&sb, "| %s | skipped | - | - | - | %s |\n", cell(src.Path), cell(src.Skipped))
			continue
		}
		st := src.Stats
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %d | %.2f%% |\n",
			cell(src.Path), src.Format, st.TotalLines, st.ParsedLines, st.FailedLines, st.SuccessRate*100)
	}

	sb.WriteString("\n## Warnings\n\n")
	if len(r.Warnings) == 0 {
		sb.WriteString("_none_\n")
	}
	for _, w := range r.Warnings {
		if w.Rule != "" {
			fmt.Fprintf(&sb, "- **%s** (%s) %s\n", w.Kind, w.Rule, w.Message)
			continue
		}
		fmt.Fprintf(&sb, "- **%s** %s\n", w.Kind, w.Message)
	}

	return sb.String()
}

func row(sb *strings.Builder, k string, v any) {
	fmt.Fprintf(sb, "| %s | %v |\n", k, v)
}

func counts(sb *strings.Builder, title, col string, m map[string]int) {
	fmt.Fprintf(sb, "\n## %s\n\n| %s | count |\n|---|---|\n", title, col)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "| %s | %d |\n", cell(k), m[k])
	}
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// 표 셀 안의 '|' 와 개행 이스케이프
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
