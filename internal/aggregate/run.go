// internal/aggregate/run.go
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"audit-aggregator/internal/model"
	"audit-aggregator/internal/normalize"
	"audit-aggregator/internal/policy"
)

// 소스별로 보고서에 남기는 failure 샘플 수
const maxReportedFailures = 20

// Options
//
// 집계 정책 상수. health score 공식의 입력(critical status),
// staleness 기준일은 모두 여기서 주입된다.
type Options struct {
	Policy        *policy.Policy
	Synonyms      *normalize.SynonymTable
	StalenessDays int
	Started       time.Time // zero 이면 time.Now()
}

// Run
// ------------------------------------------------------------
// 한 번의 집계 실행에 대한 명시적인 상태(context object).
// 패키지 레벨 전역 상태는 없으며, 호출자가 Run 을 소유한다.
//
// Consume 은 단일 consumer 에서만 호출된다는 전제이므로 lock 이 없다.
// Report 는 consumer 가 끝난 뒤(queue drain 이후) 호출한다.
type Run struct {
	ID      string
	Started time.Time

	opts       Options
	normalizer *normalize.Normalizer

	events  []model.LogEvent
	sources []SourceSummary
	stats   model.ParseStatistics
}

// NewRun 은 정책으로부터 synonym table 을 만들고 Run 을 초기화한다.
func NewRun(opts Options) (*Run, error) {
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	table := opts.Synonyms
	if table == nil {
		var err error
		table, err = normalize.FromPolicy(opts.Policy)
		if err != nil {
			return nil, fmt.Errorf("build synonym table: %w", err)
		}
	}

	started := opts.Started.UTC()
	return &Run{
		ID:         uuid.NewString(),
		Started:    started,
		opts:       opts,
		normalizer: normalize.New(table, started),
	}, nil
}

// Consume 은 queue handler 시그니처를 따른다.
func (r *Run) Consume(_ context.Context, b *model.Batch) error {
	if b == nil {
		return fmt.Errorf("nil batch")
	}
	if b.Skipped() {
		r.SkipSource(b.Source, b.SkipReason)
		return nil
	}
	r.AddSource(b)
	return nil
}

// AddSource 는 파싱된 소스 하나를 정규화해서 누적한다.
func (r *Run) AddSource(b *model.Batch) {
	r.events = append(r.events, r.normalizer.NormalizeAll(b.Records, b.Source)...)

	stats := b.Stats
	stats.Finalize()
	r.stats.Add(stats)

	sum := SourceSummary{
		Path:   b.Source,
		Format: b.Format,
		Stats:  &stats,
	}
	if n := len(b.Failures); n > 0 {
		keep := min(n, maxReportedFailures)
		sum.Failures = append([]model.ParseFailure(nil), b.Failures[:keep]...)
		sum.FailuresOmitted = n - keep
	}
	r.sources = append(r.sources, sum)
}

// SkipSource 는 읽지 못한 소스를 기록한다. run 은 계속 진행된다.
func (r *Run) SkipSource(source, reason string) {
	r.sources = append(r.sources, SourceSummary{Path: source, Skipped: reason})
}

// Stats : 지금까지 누적된 전체 파싱 통계.
func (r *Run) Stats() model.ParseStatistics {
	return r.stats
}

// SourceCount 는 (읽음, 건너뜀) 소스 수를 돌려준다.
func (r *Run) SourceCount() (read, skipped int) {
	for _, s := range r.sources {
		if s.Skipped != "" {
			skipped++
		} else {
			read++
		}
	}
	return read, skipped
}

// Events 는 (timestamp, source, line) 순으로 정렬된 이벤트 사본.
func (r *Run) Events() []model.LogEvent {
	out := append([]model.LogEvent(nil), r.events...)
	sortEvents(out)
	return out
}
