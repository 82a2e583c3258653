// internal/normalize/synonyms.go
package normalize

import (
	"fmt"
	"strings"

	"audit-aggregator/internal/model"
	"audit-aggregator/internal/policy"
)

// canonical 필드 이름. 이 순서대로 매핑을 진행한다.
const (
	FieldTimestamp = "timestamp"
	FieldSession   = "session_id"
	FieldOperation = "operation"
	FieldEntity    = "entity"
	FieldStatus    = "status"
	FieldMessage   = "message"
)

var canonicalFields = []string{
	FieldTimestamp, FieldSession, FieldOperation, FieldEntity, FieldStatus, FieldMessage,
}

// SynonymTable
// ------------------------------------------------------------
// 원본 키 → canonical 필드, 원본 값 → canonical 값 매핑.
//
// 매핑은 total 이어야 한다: 하나의 원본 키는 정확히 하나의 canonical
// 필드에만 속한다. 같은 canonical 에 여러 원본 키가 있으면 앞에 있는
// 키가 우선이며, 밀려난 키의 값은 raw_extra 로 보존된다.
// 키/값 비교는 대소문자를 구분하지 않는다.
type SynonymTable struct {
	fields     map[string][]string     // canonical → 원본 키 (우선순위 순, lower-case)
	operations map[string]string       // lower(원본 값) → canonical operation
	statuses   map[string]model.Status // lower(원본 값) → canonical status
}

// DefaultSynonyms 는 기본 매핑 테이블을 만든다.
func DefaultSynonyms() *SynonymTable {
	t := &SynonymTable{
		fields: map[string][]string{
			FieldTimestamp: {"timestamp", "ts", "time", "@timestamp", "datetime", "date"},
			FieldSession:   {"session_id", "session", "sessionid", "sid", "run_id"},
			FieldOperation: {"operation", "op", "action", "event", "event_type", "type"},
			FieldEntity:    {"entity", "task_id", "taskid", "task", "file", "path", "component", "target", "subject"},
			FieldStatus:    {"status", "result", "outcome", "level", "severity"},
			FieldMessage:   {"message", "msg", "detail", "details", "description", "error"},
		},
		operations: make(map[string]string),
		statuses:   make(map[string]model.Status),
	}

	for canon, values := range map[string][]string{
		model.OpCreate:   {"create", "created", "add", "added", "new", "insert"},
		model.OpValidate: {"validate", "validated", "validation", "check", "verify"},
		model.OpDelete:   {"delete", "deleted", "remove", "removed", "rm"},
		model.OpUpdate:   {"update", "updated", "modify", "modified", "edit"},
		model.OpAudit:    {"audit", "audit_log", "auditlog", "audit-log"},
		model.OpSystem:   {"system", "sys"},
		model.OpUnknown:  {"unknown"},
	} {
		for _, v := range values {
			t.operations[v] = canon
		}
	}

	for canon, values := range map[model.Status][]string{
		model.StatusSuccess: {"success", "succeeded", "ok", "pass", "passed", "done", "completed", "complete"},
		model.StatusFail:    {"fail", "failed", "failure", "error", "err", "critical", "fatal"},
		model.StatusWarn:    {"warn", "warning"},
		model.StatusInfo:    {"info", "debug", "notice", "trace"},
		model.StatusSkip:    {"skip", "skipped", "ignored", "ignore"},
	} {
		for _, v := range values {
			t.statuses[v] = canon
		}
	}
	return t
}

// FromPolicy 는 기본 테이블 위에 정책 파일의 override 를 덮어쓴다.
func FromPolicy(p *policy.Policy) (*SynonymTable, error) {
	t := DefaultSynonyms()
	if p == nil {
		return t, nil
	}

	for canon, keys := range p.FieldSynonyms {
		if err := t.AddFieldSynonyms(canon, keys...); err != nil {
			return nil, err
		}
	}
	for canon, values := range p.ValueSynonyms.Operation {
		t.AddOperationSynonyms(canon, values...)
	}
	for canon, values := range p.ValueSynonyms.Status {
		if err := t.AddStatusSynonyms(model.Status(strings.ToUpper(canon)), values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AddFieldSynonyms
//
// keys 를 canonical 필드의 최우선 순위로 추가한다.
// 이미 다른 canonical 에 속한 키는 그쪽에서 제거된다 (totality 유지).
func (t *SynonymTable) AddFieldSynonyms(canonical string, keys ...string) error {
	if _, ok := t.fields[canonical]; !ok {
		return fmt.Errorf("unknown canonical field %q", canonical)
	}

	lowered := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		lowered = append(lowered, k)
		for canon, list := range t.fields {
			t.fields[canon] = without(list, k)
		}
	}
	t.fields[canonical] = append(lowered, t.fields[canonical]...)
	return nil
}

// AddOperationSynonyms : 원본 값들을 canonical operation 으로 매핑한다.
func (t *SynonymTable) AddOperationSynonyms(canonical string, values ...string) {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	for _, v := range values {
		t.operations[strings.ToLower(strings.TrimSpace(v))] = canonical
	}
}

// AddStatusSynonyms : 원본 값들을 canonical status 로 매핑한다.
func (t *SynonymTable) AddStatusSynonyms(canonical model.Status, values ...string) error {
	if !canonical.Valid() {
		return fmt.Errorf("unknown canonical status %q", canonical)
	}
	for _, v := range values {
		t.statuses[strings.ToLower(strings.TrimSpace(v))] = canonical
	}
	return nil
}

// FieldOf 는 원본 키가 어느 canonical 필드에 속하는지 알려준다.
func (t *SynonymTable) FieldOf(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, canon := range canonicalFields {
		for _, k := range t.fields[canon] {
			if k == key {
				return canon, true
			}
		}
	}
	return "", false
}

// Operation 은 원본 값을 canonical operation 으로 바꾼다.
// 테이블에 없는 값은 대문자로 정리해서 그대로 쓰고, 빈 값은 UNKNOWN.
func (t *SynonymTable) Operation(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.OpUnknown
	}
	if canon, ok := t.operations[strings.ToLower(v)]; ok {
		return canon
	}
	return strings.ToUpper(strings.ReplaceAll(v, " ", "_"))
}

// Status 는 원본 값을 canonical status 로 바꾼다.
// known=false 이면 알 수 없는 값이어서 INFO 로 대체된 것이다.
func (t *SynonymTable) Status(v string) (status model.Status, known bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.StatusInfo, true
	}
	if s, ok := t.statuses[strings.ToLower(v)]; ok {
		return s, true
	}
	return model.StatusInfo, false
}

func without(list []string, k string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != k {
			out = append(out, v)
		}
	}
	return out
}
