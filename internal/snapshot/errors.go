// internal/snapshot/errors.go
package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshot 은 모든 스냅샷 실패의 공통 sentinel.
	ErrSnapshot = errors.New("snapshot error")

	// ErrValidation 은 파일은 읽었지만 무결성/스키마 검증에 실패한 경우.
	ErrValidation = errors.New("snapshot validation failed")
)

// Error : 파일이 없거나 읽을 수 없거나 JSON 이 아닌 경우.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrSnapshot }

// ValidationError
//
// version / timestamp / checksum 검증 실패.
// errors.Is(err, ErrValidation) 과 errors.Is(err, ErrSnapshot) 모두 참이다.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("snapshot %s invalid: %s", e.Path, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == ErrSnapshot
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
