// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"audit-aggregator/internal/adapter"
	"audit-aggregator/internal/aggregate"
	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"
	"audit-aggregator/internal/model"
	"audit-aggregator/internal/policy"
	"audit-aggregator/internal/worker"

	"github.com/rs/zerolog/log"
)

// ErrNoInput : log dir 을 읽을 수 없거나, 읽을 수 있는 소스가 하나도 없다.
var ErrNoInput = errors.New("no readable input")

// Result 는 한 번의 집계 실행 결과.
type Result struct {
	Run    *aggregate.Run
	Report *aggregate.Report
	Drain  worker.DrainReport
}

// Pipeline
// ------------------------------------------------------------
// discovery → adapter(파싱) → ingestion queue → Run.Consume(정규화/집계) → Report
//
// 파싱은 ParseWorkers 개의 producer 가 동시에 하고,
// 정규화/집계는 queue 뒤의 단일 consumer 가 한다.
// producer 가 consumer 보다 빠르면 Enqueue 의 backpressure 가 걸린다.
type Pipeline struct {
	cfg     config.Config
	policy  *policy.Policy
	metrics *metrics.Metrics

	// Started 는 run 시작 시각 (timestamp 추정값). zero 이면 time.Now().
	Started time.Time
	// Exclude 는 discovery 에서 제외할 경로 (출력 파일 등).
	Exclude []string
}

func New(cfg config.Config, p *policy.Policy, m *metrics.Metrics) *Pipeline {
	if p == nil {
		p = policy.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{cfg: cfg, policy: p, metrics: m}
}

// AggregateDir 는 root 를 discovery 한 뒤 Run 을 실행한다.
func (p *Pipeline) AggregateDir(ctx context.Context, root string) (*Result, error) {
	exclude := append([]string{p.cfg.SpoolDir, p.cfg.ArchiveDir}, p.Exclude...)

	sources, err := Discover(root, p.cfg.Patterns, exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInput, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no files matching %v under %s", ErrNoInput, p.cfg.Patterns, root)
	}
	log.Info().Str("dir", root).Int("sources", len(sources)).Msg("sources discovered")

	return p.Run(ctx, sources)
}

// Run 은 주어진 소스를 모두 파싱/집계해서 보고서를 만든다.
//
// 읽지 못한 소스는 skip 으로 기록하고 계속 진행한다.
// 모든 소스를 읽지 못했으면 ErrNoInput.
// consumer 의 처리 에러는 Result.Drain 에 담기고 여기서 에러로 올리지 않는다.
func (p *Pipeline) Run(ctx context.Context, sources []Source) (*Result, error) {
	run, err := aggregate.NewRun(aggregate.Options{
		Policy:        p.policy,
		StalenessDays: p.cfg.StalenessDays,
		Started:       p.Started,
	})
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("run_id", run.ID).Logger()

	mgr := worker.NewManager(worker.OptionsFrom(p.cfg), p.metrics, run.Consume)
	mgr.Start(ctx)

	enqueueErr := p.produce(ctx, mgr, sources)

	drain := mgr.Shutdown()
	if err := drain.Err(); err != nil {
		logger.Error().Err(err).Int("processed", drain.Processed).Msg("batch processing errors")
	}
	if enqueueErr != nil {
		return nil, fmt.Errorf("enqueue sources: %w", enqueueErr)
	}

	read, skipped := run.SourceCount()
	if read == 0 {
		return nil, fmt.Errorf("%w: all %d sources unreadable", ErrNoInput, skipped)
	}

	rep := run.Report()
	logger.Info().
		Int("sources", read).
		Int("skipped", skipped).
		Int("events", rep.TotalEvents).
		Float64("parse_success_rate", rep.ParseSuccessRate).
		Float64("health_score", rep.HealthScore).
		Msg("aggregation complete")

	return &Result{Run: run, Report: rep, Drain: drain}, nil
}

// produce 는 ParseWorkers 개 goroutine 으로 소스를 파싱해서 queue 에 넣는다.
// 첫 enqueue 실패에서 나머지 producer 도 멈춘다.
func (p *Pipeline) produce(ctx context.Context, mgr *worker.Manager, sources []Source) error {
	workers := p.cfg.ParseWorkers
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, len(sources))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Source)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				if err := mgr.Enqueue(ctx, p.load(src)); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
			}
		}()
	}

feed:
	for _, src := range sources {
		select {
		case jobs <- src:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// load 는 소스 하나를 읽고 파싱한다. 실패하면 SkipReason 이 채워진 batch.
func (p *Pipeline) load(src Source) *model.Batch {
	res, err := adapter.ParseFile(src.Path, adapter.Options{Recovery: p.cfg.Recovery})
	if err != nil {
		reason := skipReason(err)
		atomic.AddInt64(&p.metrics.SourcesSkippedTotal, 1)
		log.Warn().Err(err).Str("source", src.Rel).Str("reason", reason).Msg("source skipped")
		return &model.Batch{Source: src.Rel, SkipReason: reason}
	}

	atomic.AddInt64(&p.metrics.SourcesReadTotal, 1)
	atomic.AddInt64(&p.metrics.LinesTotal, int64(res.Stats.TotalLines))
	atomic.AddInt64(&p.metrics.LinesParsedTotal, int64(res.Stats.ParsedLines))
	atomic.AddInt64(&p.metrics.LinesFailedTotal, int64(res.Stats.FailedLines))
	atomic.AddInt64(&p.metrics.LinesRecoveredTotal, int64(res.Stats.CorruptedLines))

	log.Debug().
		Str("source", src.Rel).
		Str("format", string(res.Format)).
		Int("records", len(res.Records)).
		Int("failures", len(res.Failures)).
		Msg("source parsed")

	return &model.Batch{
		Source:   src.Rel,
		Format:   string(res.Format),
		Records:  res.Records,
		Failures: res.Failures,
		Stats:    res.Stats,
	}
}

// skipReason 은 보고서에 남길 짧은 사유. 절대경로가 섞이지 않게 한다.
func skipReason(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "not found"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Op + ": " + pe.Err.Error()
	}
	return err.Error()
}
