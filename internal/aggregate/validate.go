// internal/aggregate/validate.go
package aggregate

import (
	"errors"
	"fmt"
)

// ErrInvalidReport : 보고서가 내부 불변식을 위반했다.
var ErrInvalidReport = errors.New("invalid report")

// Validate
//
// 보고서의 구조적 불변식을 검사한다. 위반 사항은 전부 모아서 돌려준다.
//   - operation / status 카운트 합 == total_events
//   - parsed + failed == total (파싱 보존 법칙)
//   - parse_success_rate ∈ [0,1], health_score ∈ [0,100]
//   - tasks 는 entity 기준 정렬 + 중복 없음, count 합 == total_events
func Validate(r *Report) error {
	if r == nil {
		return fmt.Errorf("%w: nil report", ErrInvalidReport)
	}

	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidReport}, args...)...))
	}

	if n := sum(r.Operations); n != r.TotalEvents {
		bad("operation counts sum to %d, total_events is %d", n, r.TotalEvents)
	}
	if n := sum(r.Statuses); n != r.TotalEvents {
		bad("status counts sum to %d, total_events is %d", n, r.TotalEvents)
	}
	if !r.ParseStatistics.Balanced() {
		bad("parsed %d + failed %d != total %d",
			r.ParseStatistics.ParsedLines, r.ParseStatistics.FailedLines, r.ParseStatistics.TotalLines)
	}
	if r.ParseSuccessRate < 0 || r.ParseSuccessRate > 1 {
		bad("parse_success_rate %v out of range", r.ParseSuccessRate)
	}
	if r.HealthScore < 0 || r.HealthScore > 100 {
		bad("health_score %v out of range", r.HealthScore)
	}
	if r.CriticalErrors == 0 && r.HealthScore != 100 {
		bad("health_score %v with no critical errors", r.HealthScore)
	}

	count := 0
	for i, t := range r.Tasks {
		count += t.Count
		if i > 0 && r.Tasks[i-1].Entity >= t.Entity {
			bad("tasks not sorted or duplicated at %q", t.Entity)
		}
		if t.SuccessCount > t.Count {
			bad("task %q success_count %d > count %d", t.Entity, t.SuccessCount, t.Count)
		}
	}
	if count != r.TotalEvents {
		bad("task counts sum to %d, total_events is %d", count, r.TotalEvents)
	}

	return errors.Join(errs...)
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
