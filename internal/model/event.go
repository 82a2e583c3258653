// internal/model/event.go
package model

import "time"

// Status
// ------------------------------------------------------------
// 정규화된 이벤트 상태 값. 원본 로그의 level/result/status 표기가
// 무엇이든 normalizer 를 거치면 아래 다섯 값 중 하나가 된다.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
	StatusWarn    Status = "WARN"
	StatusInfo    Status = "INFO"
	StatusSkip    Status = "SKIP"
)

// 알려진 operation 태그. 이 외의 값도 대문자로 그대로 유지된다.
const (
	OpCreate   = "CREATE"
	OpValidate = "VALIDATE"
	OpDelete   = "DELETE"
	OpUpdate   = "UPDATE"
	OpAudit    = "AUDIT"
	OpSystem   = "SYSTEM"
	OpUnknown  = "UNKNOWN"
)

// Unknown 은 session/entity 가 비어있을 때 사용하는 자리표시 값.
const Unknown = "unknown"

// severity 순서: SUCCESS < INFO < SKIP < WARN < FAIL
// "max severity" 계산에만 쓰이며 이벤트 정렬에는 쓰지 않는다.
var severityRank = map[Status]int{
	StatusSuccess: 0,
	StatusInfo:    1,
	StatusSkip:    2,
	StatusWarn:    3,
	StatusFail:    4,
}

// Severity 는 상태의 심각도 순위를 반환한다. 알 수 없는 값은 INFO 취급.
func (s Status) Severity() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return severityRank[StatusInfo]
}

// Valid 는 다섯 개 정규 상태 중 하나인지 확인한다.
func (s Status) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxStatus 는 두 상태 중 심각도가 높은 쪽을 반환한다.
func MaxStatus(a, b Status) Status {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// LogEvent
// ------------------------------------------------------------
// 모든 소스가 최종적으로 매핑되는 정규(canonical) 이벤트.
// Adapter → Normalizer → Aggregator 까지 이 구조체 하나로 흐른다.
//
// Source/Line 은 정렬의 tie-breaker 이자 디버깅용 위치 정보이다.
type LogEvent struct {
	Timestamp          time.Time      `json:"timestamp"`
	SessionID          string         `json:"session_id"`
	Operation          string         `json:"operation"`
	Entity             string         `json:"entity"`
	Status             Status         `json:"status"`
	Message            string         `json:"message"`
	SourceFormat       string         `json:"source_format"`
	Source             string         `json:"source"`
	Line               int            `json:"line"`
	Recovered          bool           `json:"recovered"`
	TimestampEstimated bool           `json:"timestamp_estimated,omitempty"`
	RawExtra           map[string]any `json:"raw_extra,omitempty"`
}
