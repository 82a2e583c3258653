package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 한 번의 집계 실행 동안 누적되는 카운터 모음이다.
// --print-metrics 로 실행 마지막에 text 형식으로 출력된다.
type Metrics struct {
	// ======================
	// 소스 / 파싱
	// ======================

	// SourcesReadTotal
	// - 읽기에 성공해서 adapter 를 통과한 소스 파일 수.
	SourcesReadTotal int64

	// SourcesSkippedTotal
	// - 없거나 읽을 수 없어서 건너뛴 소스 수. 보고서 warnings 와 같은 값.
	SourcesSkippedTotal int64

	// LinesTotal / LinesParsedTotal / LinesFailedTotal / LinesRecoveredTotal
	// - 전체 data-bearing 라인 기준. parsed + failed == total 이 항상 성립한다.
	// - recovered 는 parsed 중 fallback 추출기로 살린 수.
	LinesTotal          int64
	LinesParsedTotal    int64
	LinesFailedTotal    int64
	LinesRecoveredTotal int64

	// ======================
	// ingestion queue
	// ======================

	// QueueEnqueuedTotal
	// - queue 에 들어간 batch 수.
	QueueEnqueuedTotal int64

	// QueueEnqueueRetriesTotal
	// - queue 가 가득 차서 backoff 후 다시 시도한 횟수.
	// - 이 값이 계속 크면 queue.size 가 작거나 consumer 가 느리다는 뜻.
	QueueEnqueueRetriesTotal int64

	// QueueRejectedTotal
	// - 재시도 예산을 모두 쓰고 최종적으로 거절된 batch 수.
	QueueRejectedTotal int64

	// QueueProcessedTotal / QueueErrorsTotal
	// - consumer 가 처리한 batch 수와 그 중 에러(panic 포함)로 끝난 수.
	QueueProcessedTotal int64
	QueueErrorsTotal    int64

	// QueueDequeueTimeoutsTotal
	// - 빈 queue 에서 dequeue timeout 이 난 횟수 (debug 로그와 같은 시점).
	QueueDequeueTimeoutsTotal int64

	// ======================
	// S3 / spool / archive
	// ======================

	// S3ObjectsStoredTotal
	// - S3 에 성공 저장된 object 수 (보고서, markdown, snapshot, spool 재업로드 포함).
	S3ObjectsStoredTotal int64

	// S3PutErrorsTotal
	// - PutObject 실패 "시도" 수. retry 3 회가 모두 실패하면 +3.
	S3PutErrorsTotal int64

	// SpoolFilesStoredTotal / SpoolFilesReuploadedTotal / SpoolFilesExpiredTotal / SpoolFilesDroppedTotal
	// - 업로드 실패로 로컬 spool 에 저장된 파일, 다음 실행에서 재업로드된 파일,
	//   TTL 또는 용량 제한으로 지워진 파일, 용량이 모자라 저장조차 못한 파일.
	SpoolFilesStoredTotal     int64
	SpoolFilesReuploadedTotal int64
	SpoolFilesExpiredTotal    int64
	SpoolFilesDroppedTotal    int64

	// SpoolFilesCurrent / SpoolSizeBytes
	// - 현재 spool 디렉토리의 data 파일 수와 총 용량 (gauge).
	SpoolFilesCurrent int64
	SpoolSizeBytes    int64

	// ArchiveEventsWrittenTotal / ArchiveFilesPrunedTotal
	// - JSONL.gz archive 에 기록된 이벤트 수, 보존 기간이 지나 삭제된 archive 파일 수.
	ArchiveEventsWrittenTotal int64
	ArchiveFilesPrunedTotal   int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "sources_read_total=%d\n", atomic.LoadInt64(&m.SourcesReadTotal))
	fmt.Fprintf(&sb, "sources_skipped_total=%d\n", atomic.LoadInt64(&m.SourcesSkippedTotal))
	fmt.Fprintf(&sb, "lines_total=%d\n", atomic.LoadInt64(&m.LinesTotal))
	fmt.Fprintf(&sb, "lines_parsed_total=%d\n", atomic.LoadInt64(&m.LinesParsedTotal))
	fmt.Fprintf(&sb, "lines_failed_total=%d\n", atomic.LoadInt64(&m.LinesFailedTotal))
	fmt.Fprintf(&sb, "lines_recovered_total=%d\n", atomic.LoadInt64(&m.LinesRecoveredTotal))

	fmt.Fprintf(&sb, "queue_enqueued_total=%d\n", atomic.LoadInt64(&m.QueueEnqueuedTotal))
	fmt.Fprintf(&sb, "queue_enqueue_retries_total=%d\n", atomic.LoadInt64(&m.QueueEnqueueRetriesTotal))
	fmt.Fprintf(&sb, "queue_rejected_total=%d\n", atomic.LoadInt64(&m.QueueRejectedTotal))
	fmt.Fprintf(&sb, "queue_processed_total=%d\n", atomic.LoadInt64(&m.QueueProcessedTotal))
	fmt.Fprintf(&sb, "queue_errors_total=%d\n", atomic.LoadInt64(&m.QueueErrorsTotal))
	fmt.Fprintf(&sb, "queue_dequeue_timeouts_total=%d\n", atomic.LoadInt64(&m.QueueDequeueTimeoutsTotal))

	fmt.Fprintf(&sb, "s3_objects_stored_total=%d\n", atomic.LoadInt64(&m.S3ObjectsStoredTotal))
	fmt.Fprintf(&sb, "s3_put_errors_total=%d\n", atomic.LoadInt64(&m.S3PutErrorsTotal))

	fmt.Fprintf(&sb, "spool_files_stored_total=%d\n", atomic.LoadInt64(&m.SpoolFilesStoredTotal))
	fmt.Fprintf(&sb, "spool_files_reuploaded_total=%d\n", atomic.LoadInt64(&m.SpoolFilesReuploadedTotal))
	fmt.Fprintf(&sb, "spool_files_expired_total=%d\n", atomic.LoadInt64(&m.SpoolFilesExpiredTotal))
	fmt.Fprintf(&sb, "spool_files_dropped_total=%d\n", atomic.LoadInt64(&m.SpoolFilesDroppedTotal))
	fmt.Fprintf(&sb, "spool_files_current=%d\n", atomic.LoadInt64(&m.SpoolFilesCurrent))
	fmt.Fprintf(&sb, "spool_size_bytes=%d\n", atomic.LoadInt64(&m.SpoolSizeBytes))

	fmt.Fprintf(&sb, "archive_events_written_total=%d\n", atomic.LoadInt64(&m.ArchiveEventsWrittenTotal))
	fmt.Fprintf(&sb, "archive_files_pruned_total=%d\n", atomic.LoadInt64(&m.ArchiveFilesPrunedTotal))

	return sb.String()
}
