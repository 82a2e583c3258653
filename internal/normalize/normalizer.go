// internal/normalize/normalizer.go
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"audit-aggregator/internal/model"
	"audit-aggregator/internal/timeutil"
)

// raw_extra 에 보존하는 원본 값 키
const (
	extraStatusRaw    = "status_raw"
	extraTimestampRaw = "timestamp_raw"
)

// Normalizer
// ------------------------------------------------------------
// adapter 가 만든 RawRecord 를 canonical LogEvent 로 변환한다.
//
// runStart 는 timestamp 를 해석할 수 없을 때 대신 쓰는 값이며
// 이 경우 이벤트에 TimestampEstimated 가 표시된다.
// Normalizer 는 상태를 갖지 않으므로 여러 goroutine 에서 공유해도 된다.
type Normalizer struct {
	table    *SynonymTable
	runStart time.Time
}

// New : table 이 nil 이면 기본 테이블을 쓴다.
func New(table *SynonymTable, runStart time.Time) *Normalizer {
	if table == nil {
		table = DefaultSynonyms()
	}
	return &Normalizer{table: table, runStart: runStart.UTC()}
}

// Normalize 는 레코드 하나를 이벤트 하나로 바꾼다. 실패하지 않는다.
func (n *Normalizer) Normalize(rec model.RawRecord, source string) model.LogEvent {
	picked, extra := n.pick(rec.Fields)

	ev := model.LogEvent{
		SessionID:    orUnknown(stringify(picked[FieldSession])),
		Operation:    n.table.Operation(stringify(picked[FieldOperation])),
		Entity:       orUnknown(stringify(picked[FieldEntity])),
		Message:      strings.TrimSpace(stringify(picked[FieldMessage])),
		SourceFormat: rec.Format,
		Source:       source,
		Line:         rec.Line,
		Recovered:    rec.Recovered,
	}

	if ts, ok := timeutil.ParseValue(picked[FieldTimestamp]); ok {
		ev.Timestamp = ts
	} else {
		ev.Timestamp = n.runStart
		ev.TimestampEstimated = true
		if raw := stringify(picked[FieldTimestamp]); raw != "" {
			extra[extraTimestampRaw] = raw
		}
	}

	rawStatus := stringify(picked[FieldStatus])
	status, known := n.table.Status(rawStatus)
	ev.Status = status
	if !known {
		extra[extraStatusRaw] = rawStatus
	}

	if len(extra) > 0 {
		ev.RawExtra = extra
	}
	return ev
}

// NormalizeAll 은 한 소스의 레코드 전체를 순서대로 변환한다.
func (n *Normalizer) NormalizeAll(recs []model.RawRecord, source string) []model.LogEvent {
	out := make([]model.LogEvent, 0, len(recs))
	for _, rec := range recs {
		out = append(out, n.Normalize(rec, source))
	}
	return out
}

// pick
//
// canonical 필드별로 우선순위가 가장 높은 원본 키의 값을 고른다.
// 값이 비어있는 키는 건너뛰고 다음 synonym 을 본다.
// 고르지 않은 나머지 키는 전부 extra 로 간다.
func (n *Normalizer) pick(fields map[string]any) (map[string]any, map[string]any) {
	// 대소문자만 다른 키가 여럿이면 정렬 순서상 앞의 것이 인덱스를 차지한다
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lower := make(map[string]string, len(keys))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, dup := lower[lk]; !dup {
			lower[lk] = k
		}
	}

	picked := make(map[string]any, len(canonicalFields))
	used := make(map[string]bool, len(canonicalFields))

	for _, canon := range canonicalFields {
		for _, syn := range n.table.fields[canon] {
			orig, ok := lower[syn]
			if !ok || used[orig] {
				continue
			}
			if stringify(fields[orig]) == "" {
				continue
			}
			picked[canon] = fields[orig]
			used[orig] = true
			break
		}
	}

	extra := make(map[string]any)
	for _, k := range keys {
		if !used[k] {
			extra[k] = fields[k]
		}
	}
	return picked, extra
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return model.Unknown
	}
	return s
}
