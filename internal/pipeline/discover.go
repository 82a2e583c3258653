// internal/pipeline/discover.go
package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"audit-aggregator/internal/policy"
)

// Source 는 수집 대상 로그 파일 하나.
type Source struct {
	Path string // 실제로 여는 경로
	Rel  string // log dir 기준 상대경로 ('/' 구분). 보고서에는 이 값만 남는다.
}

// Discover
//
// root 아래를 재귀적으로 돌면서 patterns 중 하나에 맞는 파일을 모은다.
// 패턴은 상대경로 또는 파일명에 매칭된다 (policy.Matches).
//
//   - '.' 으로 시작하는 디렉토리(.audit-spool, .git 등)는 들어가지 않는다
//   - exclude 에 있는 경로(archive / spool dir, 출력 파일)는 건너뛴다
//   - 결과는 Rel 기준으로 정렬된다
//
// root 자체를 읽을 수 없으면 에러.
func Discover(root string, patterns []string, exclude []string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		if e == "" {
			continue
		}
		if abs, err := filepath.Abs(e); err == nil {
			skip[abs] = struct{}{}
		}
	}
	excluded := func(p string) bool {
		abs, err := filepath.Abs(p)
		if err != nil {
			return false
		}
		_, ok := skip[abs]
		return ok
	}

	var out []Source
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// 하위 디렉토리 하나를 못 읽는 것은 전체 실패가 아니다
			return nil
		}
		if d.IsDir() {
			if p != root && (strings.HasPrefix(d.Name(), ".") || excluded(p)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || excluded(p) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(patterns, rel) {
			return nil
		}
		out = append(out, Source{Path: p, Rel: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

// Explicit 는 사용자가 직접 지정한 파일 목록을 Source 로 만든다.
// 존재 여부는 확인하지 않는다. 없는 파일은 파싱 단계에서 skip 으로 기록된다.
func Explicit(root string, names []string) []Source {
	out := make([]Source, 0, len(names))
	for _, n := range names {
		p := n
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, n)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(p)
		}
		out = append(out, Source{Path: p, Rel: filepath.ToSlash(rel)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if policy.Matches(pat, rel) {
			return true
		}
	}
	return false
}
