// internal/worker/encoder.go
package worker

import (
	"audit-aggregator/internal/model"
	"audit-aggregator/internal/pool"

	json "github.com/goccy/go-json"
)

// Encoder 는 정규화된 이벤트 목록을 JSONL → gzip 으로 직렬화한다.
//
//   - goccy/go-json 인코더를 gzip.Writer 에 직결
//   - gzip.Writer + bytes.Buffer 는 pool 에서 재사용
//   - 결과는 새 []byte 로 복사해서 호출자에게 소유권을 넘긴다
//     (pool 버퍼를 그대로 반환하면 다음 사용 때 내용이 덮인다)
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeEventsJSONLGZ 는 이벤트마다 한 줄씩 JSON 으로 쓰고 gzip 으로 닫는다.
func (e *Encoder) EncodeEventsJSONLGZ(events []model.LogEvent) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GetGzip(buf)
	defer pool.PutGzip(gz)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}

	// Close 시 gzip footer 가 써지면서 스트림이 완성된다
	if err := gz.Close(); err != nil {
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}
