// internal/worker/manager.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"audit-aggregator/internal/config"
	"audit-aggregator/internal/metrics"
	"audit-aggregator/internal/model"

	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull : enqueue 1회 시도가 timeout 안에 자리를 얻지 못했다.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrQueueClosed : Shutdown 이후의 enqueue.
	ErrQueueClosed = errors.New("ingestion queue closed")
)

// RetryError
//
// backoff 재시도 예산을 모두 쓴 enqueue 실패.
// Err 는 마지막 시도의 원인이다 (보통 ErrQueueFull).
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("enqueue failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retryable 은 나중에 다시 시도하면 성공할 수 있는 실패인지 알려준다.
func (e *RetryError) Retryable() bool { return errors.Is(e.Err, ErrQueueFull) }

// Handler 는 dequeue 된 batch 하나를 처리한다. 단일 goroutine 에서만 호출된다.
type Handler func(ctx context.Context, b *model.Batch) error

// Options : queue 크기와 timeout / backoff 정책.
type Options struct {
	QueueSize      int
	EnqueueTimeout time.Duration
	EnqueueRetries int
	DequeueTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// OptionsFrom 은 config 값으로 Options 를 만든다. backoff 는 200ms 시작, 2s 상한.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		QueueSize:      cfg.QueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		EnqueueRetries: cfg.EnqueueRetries,
		DequeueTimeout: cfg.DequeueTimeout,
		BackoffBase:    200 * time.Millisecond,
		BackoffMax:     2 * time.Second,
	}
}

// DrainReport 는 Shutdown 결과. 처리 중 발생한 에러는 raise 하지 않고 여기 모은다.
type DrainReport struct {
	Processed int
	Errors    []error
}

// Err 는 모든 처리 에러를 하나로 합친다. 에러가 없으면 nil.
func (r DrainReport) Err() error {
	return errors.Join(r.Errors...)
}

// Manager
// ------------------------------------------------------------
// 파싱(ingestion)과 정규화/집계(processing)를 분리하는 bounded queue.
//
//   - producer 여럿이 Enqueue 로 batch 를 넣는다
//   - consumeLoop 하나가 순서대로 꺼내 Handler 를 호출한다
//     (집계 상태를 동시에 건드리는 goroutine 이 없으므로 lock 이 필요 없다)
//   - queue 가 가득 차면 timeout 만큼 기다리고, exponential backoff 로
//     EnqueueRetries 번까지 재시도한 뒤 *RetryError 로 실패한다
//   - Shutdown 은 queue 를 닫고 남은 batch 를 모두 처리한 뒤 돌아온다
type Manager struct {
	opts    Options
	metrics *metrics.Metrics
	handler Handler

	queue chan *model.Batch

	// closed 와 close(queue) 를 보호한다. 송신 측은 RLock 을 잡고 보낸다.
	mu     sync.RWMutex
	closed bool

	ctx context.Context

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// consumer goroutine 만 쓰고, wg.Wait 이후에만 읽는다
	processed int
	errs      []error
}

// NewManager 는 queue 를 만든다. 소비는 Start 이후에 시작된다.
func NewManager(opts Options, m *metrics.Metrics, h Handler) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.EnqueueRetries <= 0 {
		opts.EnqueueRetries = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 200 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if m == nil {
		m = metrics.New()
	}
	return &Manager{
		opts:    opts,
		metrics: m,
		handler: h,
		queue:   make(chan *model.Batch, opts.QueueSize),
	}
}

// Start 는 consumer goroutine 을 띄운다. 여러 번 호출해도 한 번만 동작한다.
// ctx 는 Handler 에 그대로 전달된다.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.ctx = ctx
		m.wg.Add(1)
		go m.consumeLoop()
	})
}

// Len 은 현재 queue 에 대기 중인 batch 수.
func (m *Manager) Len() int {
	return len(m.queue)
}

// Enqueue
//
// batch 를 queue 에 넣는다.
// 가득 찬 경우: EnqueueTimeout 대기 → 실패 시 backoff(200ms, 400ms, ... 최대 2s) 후 재시도.
// 반환 에러:
//   - *RetryError (ErrQueueFull 래핑) : 재시도 예산 소진
//   - ErrQueueClosed                  : Shutdown 이후
//   - ctx.Err()                       : 호출자 취소
func (m *Manager) Enqueue(ctx context.Context, b *model.Batch) error {
	var lastErr error
	backoff := m.opts.BackoffBase

	for attempt := 1; attempt <= m.opts.EnqueueRetries; attempt++ {
		err := m.tryEnqueue(ctx, b)
		if err == nil {
			atomic.AddInt64(&m.metrics.QueueEnqueuedTotal, 1)
			return nil
		}
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		lastErr = err

		if attempt == m.opts.EnqueueRetries {
			break
		}
		atomic.AddInt64(&m.metrics.QueueEnqueueRetriesTotal, 1)
		log.Debug().
			Str("source", b.Source).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("queue full, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > m.opts.BackoffMax {
				backoff = m.opts.BackoffMax
			}
		}
	}

	atomic.AddInt64(&m.metrics.QueueRejectedTotal, 1)
	return &RetryError{Attempts: m.opts.EnqueueRetries, Err: lastErr}
}

func (m *Manager) tryEnqueue(ctx context.Context, b *model.Batch) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrQueueClosed
	}

	// 자리가 있으면 timer 없이 바로 넣는다
	select {
	case m.queue <- b:
		return nil
	default:
	}

	timer := time.NewTimer(m.opts.EnqueueTimeout)
	defer timer.Stop()

	select {
	case m.queue <- b:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown
//
// 새 enqueue 를 막고 queue 를 닫은 뒤, 남은 batch 를 모두 처리할 때까지 기다린다.
// 처리 중 에러/panic 은 DrainReport 로 돌려주고 raise 하지 않는다.
// 여러 번 호출해도 안전하다.
func (m *Manager) Shutdown() DrainReport {
	// Start 없이 Shutdown 된 경우에도 쌓인 batch 는 처리한다
	m.Start(context.Background())

	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
	})
	m.wg.Wait()

	return DrainReport{
		Processed: m.processed,
		Errors:    append([]error(nil), m.errs...),
	}
}

// consumeLoop 는 queue 가 닫히고 비워질 때까지 batch 를 하나씩 처리한다.
// DequeueTimeout 동안 아무것도 없으면 debug 로그만 남기고 계속 기다린다.
func (m *Manager) consumeLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(m.opts.DequeueTimeout)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.opts.DequeueTimeout)
	}

	for {
		select {
		case b, ok := <-m.queue:
			if !ok {
				log.Debug().Int("processed", m.processed).Msg("queue drained")
				return
			}
			m.process(b)
			reset()

		case <-timer.C:
			atomic.AddInt64(&m.metrics.QueueDequeueTimeoutsTotal, 1)
			log.Debug().Dur("timeout", m.opts.DequeueTimeout).Msg("dequeue timeout, still waiting")
			timer.Reset(m.opts.DequeueTimeout)
		}
	}
}

func (m *Manager) process(b *model.Batch) {
	source := ""
	if b != nil {
		source = b.Source
	}
	err := m.safeHandle(source, b)

	m.processed++
	atomic.AddInt64(&m.metrics.QueueProcessedTotal, 1)

	if err != nil {
		atomic.AddInt64(&m.metrics.QueueErrorsTotal, 1)
		m.errs = append(m.errs, err)
		log.Error().Err(err).Str("source", source).Msg("batch processing failed")
	}
}

// safeHandle 은 Handler 의 panic 을 에러로 바꾼다.
func (m *Manager) safeHandle(source string, b *model.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process %s: panic: %v", source, r)
		}
	}()

	if err := m.handler(m.ctx, b); err != nil {
		return fmt.Errorf("process %s: %w", source, err)
	}
	return nil
}
