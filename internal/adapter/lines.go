// internal/adapter/lines.go
package adapter

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"audit-aggregator/internal/model"

	json "github.com/goccy/go-json"
)

type lineKind int

const (
	lineData lineKind = iota
	lineBlank
	lineComment
)

// classifyLine
//
// data-bearing 여부 판정. 이 정책은 success rate 의 분모를 결정하므로
// 바꾸면 이전 run 과 수치가 달라진다.
//   - blank   : 공백 문자만 있는 라인
//   - comment : trim 후 '#' 또는 '//' 로 시작하는 라인
func classifyLine(line string) lineKind {
	t := trimLine(line)
	switch {
	case t == "":
		return lineBlank
	case strings.HasPrefix(t, "#"), strings.HasPrefix(t, "//"):
		return lineComment
	default:
		return lineData
	}
}

func trimLine(line string) string {
	return strings.TrimSpace(line)
}

// forEachLine 은 1-based 라인 번호와 함께 각 라인을 넘긴다.
// fn 이 false 를 반환하면 중단한다. CRLF 를 처리한다.
func forEachLine(content []byte, fn func(n int, line string) bool) {
	n := 0
	for len(content) > 0 {
		n++
		var line []byte
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			line, content = content, nil
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if !fn(n, string(line)) {
			return
		}
	}
}

// parseLines 는 JSONL / structured text 공통 라인 파서.
func parseLines(content []byte, format Format, opts Options) Result {
	c := &collector{res: Result{Format: format}}
	parseLinesInto(c, content, format, opts, 0)
	return c.res
}

// parseLinesInto 는 offset 만큼 라인 번호를 밀어서 기록한다.
// 닫힌 JSON 배열 뒤에 남은 꼬리 텍스트 처리에도 쓰인다.
func parseLinesInto(c *collector, content []byte, format Format, opts Options, offset int) {
	forEachLine(content, func(n int, line string) bool {
		switch classifyLine(line) {
		case lineBlank, lineComment:
			c.skip()
			return true
		}

		if rec, ok := parseLine(line, format, opts); ok {
			rec.Line = n + offset
			c.record(rec)
		} else {
			c.fail(n+offset, line, failureReason(opts))
		}
		return true
	})
}

func failureReason(opts Options) string {
	if opts.Recovery {
		return "no extractable content"
	}
	return "unparsable line (recovery disabled)"
}

// lineParser 는 clean parse 를 시도하는 1차 파서.
type lineParser struct {
	format Format
	parse  func(line string) (map[string]any, bool)
}

var (
	jsonLineParser = lineParser{FormatJSONL, parseJSONObjectLine}
	textLineParser = lineParser{FormatText, parseStructuredLine}
)

// 감지된 형식에 따라 1차 파서의 시도 순서만 다르다.
// 섞인 파일(JSONL 사이의 텍스트 라인 등)도 clean 하게 읽힌다.
func primaryParsers(format Format) []lineParser {
	if format == FormatJSONL {
		return []lineParser{jsonLineParser, textLineParser}
	}
	return []lineParser{textLineParser, jsonLineParser}
}

// parseLine
// ------------------------------------------------------------
// data-bearing 라인 하나를 RawRecord 로 만든다.
//  1. 1차 파서(clean parse)
//  2. recovery chain (Options.Recovery 일 때만)
//
// 어느 단계에서도 값을 얻지 못하면 false.
func parseLine(line string, format Format, opts Options) (model.RawRecord, bool) {
	for _, p := range primaryParsers(format) {
		if fields, ok := p.parse(line); ok {
			return model.RawRecord{Fields: fields, Format: string(p.format), Raw: line}, true
		}
	}

	if !opts.Recovery {
		return model.RawRecord{}, false
	}

	if fields, name, ok := recoverLine(line); ok {
		return model.RawRecord{
			Fields:    fields,
			Format:    string(format),
			Raw:       line,
			Recovered: true,
			Extractor: name,
		}, true
	}
	return model.RawRecord{}, false
}

// parseJSONObjectLine 은 한 줄짜리 JSON 객체를 파싱한다.
// 배열을 한 줄에 한 element 씩 쓴 파일을 위해 끝의 ',' 는 잘라낸다.
func parseJSONObjectLine(line string) (map[string]any, bool) {
	t := strings.TrimRight(trimLine(line), ",")
	if len(t) < 2 || t[0] != '{' {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(t), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// hasPrintable 은 제어문자를 제외하고 글자나 숫자가 하나라도 있는지 본다.
// 이것조차 없으면 진짜 parse failure 이다.
func hasPrintable(s string) bool {
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
