// internal/adapter/recovery.go
package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"audit-aggregator/internal/model"

	json "github.com/goccy/go-json"
)

// extractor
// ------------------------------------------------------------
// recovery chain 의 한 단계. clean parse 에 실패한 라인에서
// 최대한 값을 긁어낸다. 각 extractor 는 순수 함수이며
// 값을 하나도 얻지 못하면 ok=false 를 반환한다.
//
// 체인은 정보량이 많은 순서로 정렬되어 있고, 호출자는
// 처음 성공한 extractor 의 결과를 쓴다.
type extractor struct {
	name string
	fn   func(line string) (map[string]any, bool)
}

var recoveryChain = []extractor{
	{"partial_json", extractPartialJSON},
	{"structured_prefix", extractStructuredPrefix},
	{"tokens", extractTokens},
	{"unknown", extractUnknown},
}

// recoverLine 은 체인을 순서대로 시도한다.
func recoverLine(line string) (map[string]any, string, bool) {
	for _, ex := range recoveryChain {
		if fields, ok := ex.fn(line); ok {
			return fields, ex.name, true
		}
	}
	return nil, "", false
}

var (
	// "key": value  (value = 문자열 / 숫자 / bool / null)
	jsonPairRe = regexp.MustCompile(`"([A-Za-z_@][\w@.\-]*)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?|true|false|null)`)

	// 잘린 마지막 문자열 값: "message": "abc...   (닫는 따옴표 없음)
	danglingStrRe = regexp.MustCompile(`"([A-Za-z_@][\w@.\-]*)"\s*:\s*"((?:[^"\\]|\\.)*)$`)
)

// extractPartialJSON 은 깨진/잘린 JSON 객체에서 key:value 쌍을 긁어낸다.
func extractPartialJSON(line string) (map[string]any, bool) {
	if !strings.Contains(line, `"`) || !strings.Contains(line, ":") {
		return nil, false
	}

	fields := make(map[string]any)
	for _, m := range jsonPairRe.FindAllStringSubmatch(line, -1) {
		if _, dup := fields[m[1]]; dup {
			continue
		}
		fields[m[1]] = decodeScalar(m[2])
	}

	if m := danglingStrRe.FindStringSubmatch(line); m != nil {
		if _, dup := fields[m[1]]; !dup {
			fields[m[1]] = m[2]
		}
	}

	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

func decodeScalar(tok string) any {
	switch {
	case tok == "null":
		return nil
	case tok == "true":
		return true
	case tok == "false":
		return false
	case strings.HasPrefix(tok, `"`):
		var s string
		if err := json.Unmarshal([]byte(tok), &s); err == nil {
			return s
		}
		return strings.Trim(tok, `"`)
	default:
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return f
		}
		return tok
	}
}

// extractStructuredPrefix 는 structured text 의 앞부분만 맞는 라인을 살린다.
// timestamp 와 최소 한 개의 필드가 더 맞아야 한다.
func extractStructuredPrefix(line string) (map[string]any, bool) {
	s := tokenizeStructured(line)
	if s.Matched < 2 {
		return nil, false
	}
	return s.Fields, true
}

var (
	timestampTokRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	bracketOpRe    = regexp.MustCompile(`\[([A-Z][A-Z_]{2,})\]`)
	bareOpRe       = regexp.MustCompile(`\b(CREATE|VALIDATE|DELETE|UPDATE|AUDIT|SYSTEM)\b`)
	statusTokRe    = regexp.MustCompile(`(?i)\b(SUCCESS|SUCCEEDED|FAILED|FAILURE|FAIL|ERROR|WARNING|WARN|SKIPPED|SKIP)\b`)
)

// extractTokens 는 timestamp / operation / status 토큰을 각각 독립적으로 찾는다.
// 하나라도 찾으면 성공이며, 원문 전체를 message 로 남긴다.
func extractTokens(line string) (map[string]any, bool) {
	fields := make(map[string]any, 4)

	if ts := timestampTokRe.FindString(line); ts != "" {
		fields["timestamp"] = ts
	}
	if m := bracketOpRe.FindStringSubmatch(line); m != nil {
		fields["operation"] = m[1]
	} else if m := bareOpRe.FindStringSubmatch(line); m != nil {
		fields["operation"] = m[1]
	}
	if m := statusTokRe.FindStringSubmatch(line); m != nil {
		fields["status"] = m[1]
	}

	if len(fields) == 0 {
		return nil, false
	}
	fields["message"] = trimLine(line)
	return fields, true
}

// extractUnknown 은 마지막 단계. 글자/숫자가 하나라도 있으면
// operation=UNKNOWN 이벤트로 원문을 보존한다.
func extractUnknown(line string) (map[string]any, bool) {
	if !hasPrintable(line) {
		return nil, false
	}
	return map[string]any{
		"operation": model.OpUnknown,
		"message":   trimLine(line),
	}, true
}
