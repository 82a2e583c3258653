// internal/policy/policy.go
package policy

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy
//
// 운영자가 YAML 로 조정하는 집계 정책.
// 런타임 파라미터(큐 크기, 타임아웃 등)는 config 패키지가,
// "데이터를 어떻게 해석할지"는 이 파일이 담당한다.
//
//	field_synonyms:
//	  entity: [task_id, task]
//	value_synonyms:
//	  operation: { AUDIT: [audit, AUDIT_LOG] }
//	  status:    { FAIL: [broken] }
//	crossref:
//	  - name: branch-vs-commit
//	    left: "branches*"
//	    right: "commits*"
//	critical_statuses: [FAIL]
type Policy struct {
	FieldSynonyms    map[string][]string `yaml:"field_synonyms"`
	ValueSynonyms    ValueSynonyms       `yaml:"value_synonyms"`
	CrossRef         []CrossRefRule      `yaml:"crossref"`
	CriticalStatuses []string            `yaml:"critical_statuses"`
}

// ValueSynonyms : canonical 값 → 원본 표기 목록.
type ValueSynonyms struct {
	Operation map[string][]string `yaml:"operation"`
	Status    map[string][]string `yaml:"status"`
}

// CrossRefRule
//
// Left 패턴에 해당하는 소스에 등장한 entity 가
// Right 패턴 소스에 하나도 없으면 gap 경고를 만든다.
// 패턴은 log dir 기준 상대경로에 대한 glob (path.Match) 이며,
// 디렉토리 없이 쓰면 파일명에도 매칭된다.
type CrossRefRule struct {
	Name  string `yaml:"name"`
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// Matches 는 상대경로 rel 이 pattern 에 해당하는지 판단한다.
func Matches(pattern, rel string) bool {
	rel = strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "./")
	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(rel))
	return ok
}

// Default 는 정책 파일이 없을 때의 기본값.
func Default() *Policy {
	return &Policy{CriticalStatuses: []string{"FAIL"}}
}

// Load
//
// path 가 비어있으면 Default() 를 돌려준다.
// 파일이 있는데 읽거나 해석할 수 없으면 에러 - 잘못된 정책으로
// 조용히 집계하는 것보다 실행을 멈추는 쪽이 낫다.
func Load(file string) (*Policy, error) {
	if file == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", file, err)
	}
	return Parse(data)
}

// Parse 는 YAML 바이트를 Policy 로 만든다.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	p.CriticalStatuses = nil

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(p.CriticalStatuses) == 0 {
		p.CriticalStatuses = []string{"FAIL"}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) validate() error {
	for i, r := range p.CrossRef {
		if r.Left == "" || r.Right == "" {
			return fmt.Errorf("crossref[%d] %q: left and right patterns are required", i, r.Name)
		}
		for _, pat := range []string{r.Left, r.Right} {
			if _, err := path.Match(pat, ""); err != nil {
				return fmt.Errorf("crossref[%d] %q: bad pattern %q: %w", i, r.Name, pat, err)
			}
		}
	}
	return nil
}
