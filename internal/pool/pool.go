package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// archive JSONL.gz 인코딩에서 쓰는 버퍼/gzip.Writer 재사용.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - gzip 결과를 담는 임시 버퍼 (초기 256KB)
	//   - MaxBufferCap 초과 버퍼는 풀에 넣지 않는다
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용. archive 는 한 번 쓰고 오래 보관하므로
	//     속도보다 크기를 조금 더 신경 써서 DefaultCompression 을 쓴다.
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
			return w
		},
	}
)

// Pool 에 되돌려줄 최대 버퍼 용량
const MaxBufferCap = 4 * 1024 * 1024 // 4MB

// GetBuffer : 비워진 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초대형 버퍼는 GC 에 맡긴다
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// GetGzip 은 buf 에 연결된 gzip.Writer 를 꺼낸다.
func GetGzip(buf *bytes.Buffer) *gzip.Writer {
	gz := GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	return gz
}

// PutGzip : Close 이후에 반환한다.
func PutGzip(gz *gzip.Writer) {
	GzipPool.Put(gz)
}
