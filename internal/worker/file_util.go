// internal/worker/file_util.go
package worker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// file_util.go
// ------------------------------------------------------------
// archive / spool 파일명과 S3 key 규칙.
//
// 파일명 규칙:
//
//	<unix>_<instance>_<counter><ext>
//
// 예:
//
//	1764721594_ci-runner-3_000042.jsonl.gz
//
// 문자열 정렬이 곧 시간 순 정렬이므로 spool 재업로드(오래된 것 먼저),
// 용량 초과 시 eviction, TTL 판단에 그대로 쓴다.
var globalCounter uint64

// NextCounter 는 프로세스 안에서 겹치지 않는 순번 (1e6 에서 wrap).
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 now 기준 파일명을 만든다.
func NewFilename(instanceID string, now time.Time, ext string) string {
	return fmt.Sprintf("%d_%s_%06d%s", now.Unix(), instanceID, NextCounter(), ext)
}

// BuildS3Key
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 파티션은 UTC 기준이다.
func BuildS3Key(prefix, filename string, now time.Time) string {
	u := now.UTC()
	key := fmt.Sprintf("dt=%s/hr=%s/%s", u.Format("2006-01-02"), u.Format("15"), filename)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// extractUnixFromFilename 은 파일명 prefix 의 Unix seconds 를 읽는다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}

// expired 는 파일명 timestamp 기준으로 maxAge 가 지났는지 판단한다.
// timestamp 를 읽을 수 없는 파일은 만료로 보지 않는다.
func expired(name string, now time.Time, maxAge time.Duration) (time.Duration, bool) {
	if maxAge <= 0 {
		return 0, false
	}
	sec, ok := extractUnixFromFilename(name)
	if !ok {
		return 0, false
	}
	age := now.Sub(time.Unix(sec, 0))
	return age, age > maxAge
}
