// internal/adapter/reader.go
package adapter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// gzip magic number
var gzipMagic = []byte{0x1f, 0x8b}

// 단일 로그 파일 최대 크기 (압축 해제 후). 초과분은 읽지 않는다.
const MaxSourceBytes = 256 << 20

// ReadSource
//
// 로그 파일을 읽어 raw content 를 반환한다.
// 확장자가 아니라 magic byte 로 gzip 여부를 판단한다
// (daily rotation 된 *.log.1 이 gzip 인 경우 등).
//
// 파일이 없거나 읽을 수 없으면 에러 - 이 경우 aggregator 는
// 해당 소스만 건너뛰고 계속 진행한다.
func ReadSource(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readAll(f)
}

func readAll(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(len(gzipMagic))
	if err == nil && bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		return readLimited(gz)
	}

	return readLimited(br)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ParseFile 은 ReadSource + Parse.
func ParseFile(path string, opts Options) (Result, error) {
	data, err := ReadSource(path)
	if err != nil {
		return Result{}, err
	}
	return Parse(data, opts), nil
}

// ParseReader 는 stdin 등 스트림 입력용.
func ParseReader(r io.Reader, opts Options) (Result, error) {
	data, err := readAll(r)
	if err != nil {
		return Result{}, err
	}
	return Parse(data, opts), nil
}
