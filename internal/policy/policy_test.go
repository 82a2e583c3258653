package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
field_synonyms:
  entity: [task_ref]
value_synonyms:
  operation:
    AUDIT: [audit, AUDIT_LOG]
  status:
    FAIL: [broken]
crossref:
  - name: branch-vs-commit
    left: "branches*"
    right: "commits/*.log"
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"task_ref"}, p.FieldSynonyms["entity"])
	assert.Equal(t, []string{"audit", "AUDIT_LOG"}, p.ValueSynonyms.Operation["AUDIT"])
	assert.Equal(t, []string{"broken"}, p.ValueSynonyms.Status["FAIL"])
	require.Len(t, p.CrossRef, 1)
	assert.Equal(t, "branch-vs-commit", p.CrossRef[0].Name)
	assert.Equal(t, []string{"FAIL"}, p.CriticalStatuses)
}

func TestParseRejectsIncompleteRule(t *testing.T) {
	_, err := Parse([]byte("crossref:\n  - name: x\n    left: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("crossref:\n  - name: x\n    left: '[a'\n    right: b\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"FAIL"}, p.CriticalStatuses)

	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte("critical_statuses: [FAIL, WARN]\n"), 0o600))
	p, err = Load(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"FAIL", "WARN"}, p.CriticalStatuses)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("branches*", "meta/branches.json"))
	assert.True(t, Matches("commits/*.log", "commits/2025-01.log"))
	assert.False(t, Matches("commits/*.log", "daily/commits.json"))
	assert.True(t, Matches("*.log", "./daily/a.log"))
}
