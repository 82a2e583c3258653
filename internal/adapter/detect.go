// internal/adapter/detect.go
package adapter

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// detector
//
// 형식 감지는 순서가 있는 predicate 체인이다.
// 새 형식이 생기면 switch 를 늘리는 대신 여기에 한 줄 추가한다.
// 첫 번째로 match 한 detector 의 형식이 선택된다.
type detector struct {
	format Format
	match  func(content []byte) bool
}

var detectors = []detector{
	{FormatJSONArray, looksLikeJSONArray},
	{FormatJSONDocument, looksLikeJSONDocument},
	{FormatJSONL, looksLikeJSONL},
	{FormatText, looksLikeStructuredText},
}

// Detect 는 content 의 형식을 추정한다. 항상 어떤 형식이든 반환한다.
func Detect(content []byte) Format {
	for _, d := range detectors {
		if d.match(content) {
			return d.format
		}
	}
	return FormatText
}

func looksLikeJSONArray(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// 이벤트 배열을 감싸는 wrapper 객체에서 찾는 키 (우선순위 순)
var documentKeys = []string{"events", "logs", "entries", "records"}

func looksLikeJSONDocument(content []byte) bool {
	_, ok := documentArray(content)
	return ok
}

// documentArray 는 {"events": [...]} 형태의 문서에서 배열 부분을 꺼낸다.
func documentArray(content []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, false
	}

	for _, key := range documentKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			return raw, true
		}
	}
	return nil, false
}

// looksLikeJSONL : 첫 data-bearing 라인이 '{' 로 시작하면 JSONL 로 본다.
func looksLikeJSONL(content []byte) bool {
	var found bool
	forEachLine(content, func(_ int, line string) bool {
		switch classifyLine(line) {
		case lineBlank, lineComment:
			return true
		}
		found = trimLine(line)[0] == '{'
		return false
	})
	return found
}

// looksLikeStructuredText 는 체인의 마지막 단계로 무엇이든 받아들인다.
// 비정형 텍스트도 recovery chain 이 처리한다.
func looksLikeStructuredText([]byte) bool {
	return true
}
