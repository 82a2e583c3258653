// internal/model/batch.go
package model

// Batch
//
// 하나의 소스 파일을 파싱한 결과. ingestion queue 의 payload 이며
// 단일 consumer 가 이를 정규화해서 aggregation run 에 반영한다.
//
// SkipReason 이 비어있지 않으면 소스를 읽지 못한 것이고
// 나머지 필드는 비어있다.
type Batch struct {
	Source     string // log dir 기준 상대경로 ('/' 구분)
	Format     string
	Records    []RawRecord
	Failures   []ParseFailure
	Stats      ParseStatistics
	SkipReason string
}

// Skipped 는 읽지 못한 소스인지 여부.
func (b *Batch) Skipped() bool {
	return b.SkipReason != ""
}
