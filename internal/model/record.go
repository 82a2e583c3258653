// internal/model/record.go
package model

// RawRecord
// ------------------------------------------------------------
// adapter 가 만들어내는 중간 산출물. 키는 adapter 마다 다르며
// (JSON 원본 키, text tokenizer 의 고정 필드명 등)
// normalizer 가 synonym table 로 LogEvent 에 매핑한다.
type RawRecord struct {
	Fields    map[string]any // adapter 별 원본 키/값
	Format    string         // 생성한 adapter (json_array, jsonl, text ...)
	Line      int            // 1-based 라인 번호 (array 는 element 순번)
	Raw       string         // 원본 라인 / element 텍스트
	Recovered bool           // fallback 추출기로 복원된 경우 true
	Extractor string         // 복원에 성공한 추출기 이름 (clean parse 는 빈 값)
}

// ParseFailure 는 어떤 추출기로도 살릴 수 없었던 단일 레코드.
type ParseFailure struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// ParseStatistics
// ------------------------------------------------------------
// 한 소스(또는 전체 run)의 파싱 회계.
//
// 불변식: ParsedLines + FailedLines == TotalLines
//   - TotalLines 는 data-bearing 라인만 센다 (빈 줄, 주석 줄 제외)
//   - CorruptedLines 는 ParsedLines 중 복원(recovery)으로 살린 수
//   - SkippedLines 는 분모에서 제외된 빈 줄/주석 줄 수
type ParseStatistics struct {
	TotalLines     int     `json:"total_lines"`
	ParsedLines    int     `json:"parsed_lines"`
	FailedLines    int     `json:"failed_lines"`
	CorruptedLines int     `json:"corrupted_lines"`
	SkippedLines   int     `json:"skipped_lines"`
	SuccessRate    float64 `json:"success_rate"`
}

// Finalize 는 SuccessRate 를 다시 계산한다. TotalLines 가 0 이면 0.
func (s *ParseStatistics) Finalize() {
	if s.TotalLines == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.ParsedLines) / float64(s.TotalLines)
}

// Add 는 다른 통계를 합산한 뒤 SuccessRate 를 갱신한다.
func (s *ParseStatistics) Add(o ParseStatistics) {
	s.TotalLines += o.TotalLines
	s.ParsedLines += o.ParsedLines
	s.FailedLines += o.FailedLines
	s.CorruptedLines += o.CorruptedLines
	s.SkippedLines += o.SkippedLines
	s.Finalize()
}

// Balanced 는 보존 법칙(parsed + failed == total)이 성립하는지 확인한다.
func (s ParseStatistics) Balanced() bool {
	return s.ParsedLines+s.FailedLines == s.TotalLines
}
