// internal/adapter/text.go
package adapter

import (
	"strings"
	"unicode"

	"audit-aggregator/internal/timeutil"
)

// structured text 라인 형식:
//
//	TIMESTAMP UTC - COMPONENT - LEVEL - [SESSION_ID] - [OPERATION] ENTITY - STATUS: MESSAGE
//
// 예:
//
//	2025-01-15 10:30:45 UTC - smartrepo - INFO - [s-91ac] - [CREATE] P18P5S2 - SUCCESS: task created
//
// 하나의 거대한 정규식 대신 " - " 구분자 기준 고정 필드 tokenizer 를 쓴다.
// 앞쪽 필드만 맞는 라인도 맞는 만큼은 값이 나온다.
const (
	fieldSep        = " - "
	structuredParts = 6
)

// structuredFields 는 tokenizer 결과. Matched 는 앞에서부터 검증에 성공한 필드 수.
type structuredFields struct {
	Fields  map[string]any
	Matched int
}

func (s structuredFields) complete() bool {
	return s.Matched == structuredParts
}

// tokenizeStructured
// ------------------------------------------------------------
// 각 필드를 순서대로 검증하며, 처음으로 검증에 실패한 필드에서 멈춘다.
// 멈춘 지점 이후의 텍스트는 message 로 보관해서 정보를 버리지 않는다.
// 첫 필드(timestamp)부터 틀리면 Matched == 0.
func tokenizeStructured(line string) structuredFields {
	parts := strings.SplitN(trimLine(line), fieldSep, structuredParts)
	out := structuredFields{Fields: make(map[string]any, 8)}

	for i, part := range parts {
		part = strings.TrimSpace(part)
		if !acceptField(i, part, out.Fields) {
			if out.Matched > 0 {
				out.Fields["message"] = strings.Join(parts[i:], fieldSep)
			}
			return out
		}
		out.Matched++
	}
	return out
}

// acceptField 는 i 번째 위치의 필드를 검증하고 성공 시 fields 에 기록한다.
func acceptField(i int, part string, fields map[string]any) bool {
	switch i {
	case 0:
		ts := strings.TrimSpace(strings.TrimSuffix(part, "UTC"))
		if _, ok := timeutil.Parse(ts); !ok {
			return false
		}
		fields["timestamp"] = ts
	case 1:
		if part == "" {
			return false
		}
		fields["component"] = part
	case 2:
		if !isWord(part) {
			return false
		}
		fields["level"] = part
	case 3:
		inner, rest, ok := bracketed(part)
		if !ok || rest != "" {
			return false
		}
		if inner != "" {
			fields["session_id"] = inner
		}
	case 4:
		op, entity, ok := bracketed(part)
		if !ok || op == "" {
			return false
		}
		fields["operation"] = op
		if entity != "" {
			fields["entity"] = entity
		}
	case 5:
		status, msg, ok := strings.Cut(part, ":")
		status = strings.TrimSpace(status)
		if !ok || !isWord(status) {
			return false
		}
		fields["status"] = status
		fields["message"] = strings.TrimSpace(msg)
	}
	return true
}

// bracketed 는 "[inner] rest" 를 분해한다.
func bracketed(s string) (inner, rest string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", "", false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[1:end]), strings.TrimSpace(s[end+1:]), true
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '_' {
			return false
		}
	}
	return true
}

// parseStructuredLine 은 모든 필드가 맞는 경우에만 clean parse 로 인정한다.
func parseStructuredLine(line string) (map[string]any, bool) {
	s := tokenizeStructured(line)
	if !s.complete() {
		return nil, false
	}
	return s.Fields, true
}
