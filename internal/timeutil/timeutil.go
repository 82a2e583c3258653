// internal/timeutil/timeutil.go
package timeutil

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// 허용하는 timestamp 입력 형식 (시도 순서대로).
// zone 이 없는 형식은 UTC 로 간주한다.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
}

// epoch 숫자 해석 경계.
// msThreshold 이상이면 milliseconds, minEpoch 미만(1973 이전)은 timestamp 로 보지 않는다.
const (
	msThreshold = 1e10
	minEpoch    = 1e8
)

// Parse
//
// 문자열 timestamp 를 UTC time.Time 으로 변환한다.
//   - "YYYY-MM-DD HH:MM:SS" (+ ",mmm" 또는 ".mmm", 선택적 " UTC")
//   - ISO-8601 (zone 유무 무관)
//   - epoch seconds / milliseconds 숫자 문자열
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	s = strings.TrimSpace(strings.TrimSuffix(s, " UTC"))

	// python logging 스타일 ",123" millis 를 "." 로 통일
	if i := strings.LastIndexByte(s, ','); i > 0 && allDigits(s[i+1:]) {
		s = s[:i] + "." + s[i+1:]
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FromEpoch(f)
	}
	return time.Time{}, false
}

// ParseValue 는 JSON 에서 디코딩된 임의 값을 처리한다 (string / float64 / int 계열).
func ParseValue(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return Parse(x)
	case float64:
		return FromEpoch(x)
	case int64:
		return FromEpoch(float64(x))
	case int:
		return FromEpoch(float64(x))
	default:
		return time.Time{}, false
	}
}

// FromEpoch 는 seconds 또는 milliseconds epoch 를 변환한다.
func FromEpoch(f float64) (time.Time, bool) {
	if f < minEpoch || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= msThreshold {
		ms := int64(f)
		return time.UnixMilli(ms).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Format 은 보고서/스냅샷에서 쓰는 UTC ISO-8601 표기.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
