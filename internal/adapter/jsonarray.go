// internal/adapter/jsonarray.go
package adapter

import (
	"bytes"

	"audit-aggregator/internal/model"

	json "github.com/goccy/go-json"
)

// parseJSONArray
// ------------------------------------------------------------
// 최상위 JSON 배열을 element 단위로 파싱한다.
// 전체를 한 번에 Unmarshal 하지 않고 element 경계를 직접 찾기 때문에
// 잘린(truncated) 배열에서도 완결된 element 는 clean record 로 남는다.
//
//   - 객체 element      : clean record
//   - 문자열 element    : 라인 파서로 처리 (structured text 일 수 있음)
//   - 그 외 scalar      : failure
//   - 깨진 element      : recovery chain
//   - 닫히지 않은 꼬리  : 하나의 data-bearing 레코드로 recovery chain
//   - 배열 뒤의 텍스트  : 라인 단위로 계속 처리
//
// element 번호(1-based)가 Line 필드에 들어간다.
func parseJSONArray(content []byte, format Format, opts Options) Result {
	c := &collector{res: Result{Format: format}}
	parseArrayInto(c, content, format, opts)
	return c.res
}

func parseArrayInto(c *collector, content []byte, format Format, opts Options) {
	elems, rest, closed := splitArray(content)

	for i, elem := range elems {
		parseElement(c, i+1, elem, format, opts)
	}

	n := len(elems)
	if len(rest) == 0 {
		return
	}

	if !closed {
		// 잘린 마지막 element - 줄바꿈이 섞여 있어도 하나의 레코드로 본다.
		parseBroken(c, n+1, string(rest), format, opts)
		return
	}

	// 닫힌 배열 뒤에 붙은 텍스트도 버리지 않는다.
	parseLinesInto(c, rest, FormatText, opts, n)
}

func parseElement(c *collector, n int, elem []byte, format Format, opts Options) {
	raw := string(elem)

	switch elem[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(elem, &m); err == nil && m != nil {
			c.record(model.RawRecord{Fields: m, Format: string(format), Line: n, Raw: raw})
			return
		}
		parseBroken(c, n, raw, format, opts)

	case '"':
		var s string
		if err := json.Unmarshal(elem, &s); err != nil {
			parseBroken(c, n, raw, format, opts)
			return
		}
		if classifyLine(s) != lineData {
			c.fail(n, raw, "blank or comment string element")
			return
		}
		if rec, ok := parseLine(s, FormatText, opts); ok {
			rec.Line = n
			c.record(rec)
			return
		}
		c.fail(n, raw, failureReason(opts))

	default:
		var v any
		if err := json.Unmarshal(elem, &v); err == nil {
			c.fail(n, raw, "non-object array element")
			return
		}
		parseBroken(c, n, raw, format, opts)
	}
}

// parseBroken 은 JSON 으로 읽히지 않는 element/꼬리에 recovery chain 을 적용한다.
func parseBroken(c *collector, n int, raw string, format Format, opts Options) {
	if opts.Recovery {
		if fields, name, ok := recoverLine(raw); ok {
			c.record(model.RawRecord{
				Fields:    fields,
				Format:    string(format),
				Line:      n,
				Raw:       raw,
				Recovered: true,
				Extractor: name,
			})
			return
		}
	}
	c.fail(n, raw, failureReason(opts))
}

// splitArray
//
// '[' 이후의 최상위 element 경계를 문자열/중첩 깊이를 추적하면서 찾는다.
//   - closed=true  : ']' 로 정상 종료. rest 는 ']' 뒤의 나머지
//   - closed=false : 종료되지 않음. rest 는 마지막 미완성 element
func splitArray(b []byte) (elems [][]byte, rest []byte, closed bool) {
	start := bytes.IndexByte(b, '[')
	if start < 0 {
		return nil, bytes.TrimSpace(b), false
	}

	var (
		depth  int
		inStr  bool
		escape bool
		from   = start + 1
	)

	push := func(to int) {
		if e := bytes.TrimSpace(b[from:to]); len(e) > 0 {
			elems = append(elems, e)
		}
	}

	for i := start + 1; i < len(b); i++ {
		ch := b[i]

		if inStr {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch ch {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case ']':
			if depth > 0 {
				depth--
				continue
			}
			push(i)
			return elems, bytes.TrimSpace(b[i+1:]), true
		case ',':
			if depth == 0 {
				push(i)
				from = i + 1
			}
		}
	}

	return elems, bytes.TrimSpace(b[from:]), false
}

// parseJSONDocument 는 {"events": [...]} 래퍼를 벗기고 배열로 처리한다.
func parseJSONDocument(content []byte, opts Options) Result {
	arr, ok := documentArray(content)
	if !ok {
		return parseLines(content, FormatText, opts)
	}
	return parseJSONArray(arr, FormatJSONDocument, opts)
}
