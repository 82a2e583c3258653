// internal/snapshot/snapshot.go
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Version 은 지원하는 유일한 스냅샷 포맷 버전.
const Version = "1.0"

// Metadata 필드 순서가 곧 파일 상의 순서이다.
type Metadata struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Checksum  string `json:"checksum"`
}

// Snapshot
// ------------------------------------------------------------
// { "data": ..., "metadata": { version, timestamp, checksum } }
//
// Data 는 canonical JSON (key 정렬, 공백 없음) 이다.
// 한 번 checksum 이 계산되면 내용은 바뀌지 않는다. 검증에 실패한 스냅샷은
// 고쳐 쓰지 않고 원본 로그에서 다시 만든다.
type Snapshot struct {
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
}

// Decode 는 data 를 v 로 디코딩한다.
func (s *Snapshot) Decode(v any) error {
	return json.Unmarshal(s.Data, v)
}

// Canonical
//
// JSON 바이트를 정규형으로 바꾼다.
// 숫자는 json.Number 로 읽어 원문 표기를 그대로 유지하고,
// 다시 인코딩하면서 key 정렬 + 공백 제거가 적용된다.
func Canonical(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return json.Marshal(v)
}

// Checksum 은 canonical JSON 의 SHA-256 hex.
func Checksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Create 는 현재 시각으로 스냅샷을 만든다.
func Create(path string, data any) (*Snapshot, error) {
	return CreateAt(path, data, time.Now())
}

// CreateAt
//
// data 를 canonical JSON 으로 직렬화하고 checksum 을 계산한 뒤
// 같은 디렉토리의 임시 파일에 쓰고 rename 한다 (atomic write).
// 중간에 실패하면 기존 파일은 그대로 남는다.
func CreateAt(path string, data any, now time.Time) (*Snapshot, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &Error{Path: path, Op: "encode", Err: err}
	}
	canon, err := Canonical(raw)
	if err != nil {
		return nil, &Error{Path: path, Op: "encode", Err: err}
	}

	snap := &Snapshot{
		Data: canon,
		Metadata: Metadata{
			Version:   Version,
			Timestamp: now.UTC().Format(time.RFC3339Nano),
			Checksum:  Checksum(canon),
		},
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return nil, &Error{Path: path, Op: "encode", Err: err}
	}
	body = append(body, '\n')

	if err := writeAtomic(path, body); err != nil {
		return nil, &Error{Path: path, Op: "write", Err: err}
	}
	return snap, nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(body); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// 파일에서 읽을 때는 필드 존재 여부를 구분해야 하므로 pointer 를 쓴다.
type fileMetadata struct {
	Version   *string `json:"version"`
	Timestamp *string `json:"timestamp"`
	Checksum  *string `json:"checksum"`
}

// Load
//
// 스냅샷을 읽고 검증한다. 검증은 all-or-nothing 이다.
//   - 파일 없음 / 읽기 실패 / JSON 아님       → *Error
//   - data 또는 metadata 누락                → *ValidationError
//   - version != "1.0"                       → *ValidationError
//   - timestamp 가 ISO-8601 이 아님          → *ValidationError
//   - checksum 누락 또는 재계산 값과 불일치  → *ValidationError
func Load(path string) (*Snapshot, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Op: "read", Err: err}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, &Error{Path: path, Op: "decode", Err: err}
	}

	data, ok := top["data"]
	if !ok {
		return nil, invalid(path, "missing data")
	}
	metaRaw, ok := top["metadata"]
	if !ok {
		return nil, invalid(path, "missing metadata")
	}

	var meta fileMetadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, invalid(path, "metadata is not an object: %v", err)
	}

	if meta.Version == nil {
		return nil, invalid(path, "missing version")
	}
	if *meta.Version != Version {
		return nil, invalid(path, "unsupported version %q", *meta.Version)
	}
	if meta.Timestamp == nil {
		return nil, invalid(path, "missing timestamp")
	}
	if _, ok := parseISO(*meta.Timestamp); !ok {
		return nil, invalid(path, "timestamp %q is not ISO-8601", *meta.Timestamp)
	}
	if meta.Checksum == nil || *meta.Checksum == "" {
		return nil, invalid(path, "missing checksum")
	}

	canon, err := Canonical(data)
	if err != nil {
		return nil, invalid(path, "data is not valid JSON: %v", err)
	}
	if sum := Checksum(canon); !strings.EqualFold(sum, *meta.Checksum) {
		return nil, invalid(path, "checksum mismatch: recorded %s, computed %s", *meta.Checksum, sum)
	}

	return &Snapshot{
		Data: canon,
		Metadata: Metadata{
			Version:   *meta.Version,
			Timestamp: *meta.Timestamp,
			Checksum:  strings.ToLower(*meta.Checksum),
		},
	}, nil
}

// LoadInto 는 Load 후 data 를 v 로 디코딩한다.
func LoadInto(path string, v any) (*Metadata, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := snap.Decode(v); err != nil {
		return nil, &Error{Path: path, Op: "decode data", Err: err}
	}
	return &snap.Metadata, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseISO(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
