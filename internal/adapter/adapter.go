// internal/adapter/adapter.go
package adapter

import (
	"bytes"

	"audit-aggregator/internal/model"
)

// Format 은 원본 로그의 형식(= 레코드를 만들어낸 adapter 이름)이다.
type Format string

const (
	FormatJSONArray    Format = "json_array"
	FormatJSONDocument Format = "json_document"
	FormatJSONL        Format = "jsonl"
	FormatText         Format = "text"
)

// Options
//
// Recovery 가 false 이면 fallback 추출 체인을 건너뛰고
// clean parse 에 실패한 라인은 모두 failure 로 집계된다.
// Format 이 비어있으면 내용 기반으로 자동 감지한다.
type Options struct {
	Recovery bool
	Format   Format
}

// DefaultOptions : 자동 감지 + recovery 활성화.
func DefaultOptions() Options {
	return Options{Recovery: true}
}

// Result
// ------------------------------------------------------------
// 하나의 원본(파일/텍스트)에 대한 파싱 결과.
//
// 보장: len(Records) + len(Failures) == Stats.TotalLines
// adapter 는 malformed 입력에 대해 절대 에러를 반환하지 않고
// Failures 로 구조화해서 돌려준다.
type Result struct {
	Format   Format
	Records  []model.RawRecord
	Failures []model.ParseFailure
	Stats    model.ParseStatistics
}

// Parse 는 raw content 를 감지된(또는 지정된) 형식으로 파싱한다.
// 순수 함수이며 로그를 남기지 않는다.
func Parse(content []byte, opts Options) Result {
	content = sanitizeContent(content)

	format := opts.Format
	if format == "" {
		format = Detect(content)
	}

	var res Result
	switch format {
	case FormatJSONArray:
		res = parseJSONArray(content, FormatJSONArray, opts)
	case FormatJSONDocument:
		res = parseJSONDocument(content, opts)
	case FormatJSONL:
		res = parseLines(content, FormatJSONL, opts)
	default:
		res = parseLines(content, FormatText, opts)
	}

	res.Stats.Finalize()
	return res
}

// ParseString 은 테스트와 stdin 입력용 편의 함수.
func ParseString(content string, opts Options) Result {
	return Parse([]byte(content), opts)
}

// collector 는 레코드/실패를 쌓으면서 통계를 함께 맞춘다.
// 모든 adapter 는 이 타입을 통해서만 결과를 기록하므로
// 보존 법칙이 구조적으로 유지된다.
type collector struct {
	res Result
}

func (c *collector) skip() {
	c.res.Stats.SkippedLines++
}

func (c *collector) record(rec model.RawRecord) {
	c.res.Stats.TotalLines++
	c.res.Stats.ParsedLines++
	if rec.Recovered {
		c.res.Stats.CorruptedLines++
	}
	c.res.Records = append(c.res.Records, rec)
}

func (c *collector) fail(line int, raw, reason string) {
	c.res.Stats.TotalLines++
	c.res.Stats.FailedLines++
	c.res.Failures = append(c.res.Failures, model.ParseFailure{
		Line:   line,
		Raw:    truncate(raw, maxFailureRaw),
		Reason: reason,
	})
}

// 실패 레코드에 보관할 원문 최대 길이
const maxFailureRaw = 512

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sanitizeContent 는 BOM 과 NUL 바이트를 제거한다.
// 라인 경계는 건드리지 않으므로 라인 번호가 바뀌지 않는다.
func sanitizeContent(b []byte) []byte {
	b = bytes.TrimPrefix(b, utf8BOM)
	if bytes.IndexByte(b, 0) >= 0 {
		b = bytes.ReplaceAll(b, []byte{0}, nil)
	}
	return b
}
