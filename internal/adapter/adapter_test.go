package adapter

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredLine = "2025-01-15 10:30:45 UTC - smartrepo - INFO - [s-91ac] - [CREATE] P18P5S2 - SUCCESS: task created - step 1"

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Format
	}{
		{"array", "  [ {\"a\":1} ]", FormatJSONArray},
		{"truncated array", "[{\"a\":1}, {\"b\"", FormatJSONArray},
		{"document", `{"version": 2, "events": [{"a":1}]}`, FormatJSONDocument},
		{"jsonl", "# header\n\n{\"a\":1}\n{\"b\":2}\n", FormatJSONL},
		{"object without events is jsonl", `{"a": 1}`, FormatJSONL},
		{"text", structuredLine, FormatText},
		{"empty", "", FormatText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Detect([]byte(tc.content)))
		})
	}
}

func TestMixedRecoveryScenario(t *testing.T) {
	content := strings.Join([]string{
		`{"timestamp":"2025-01-15T10:30:45Z","operation":"CREATE","entity":"t1","status":"SUCCESS"}`,
		`{"timestamp": "2025-01-15T10:31:00Z", "operation": "CREATE", "entity": "t2", "mess`,
		`@@@ ~~~ !!! %%%`,
	}, "\n")

	res := ParseString(content, DefaultOptions())

	assert.Equal(t, FormatJSONL, res.Format)
	assert.Equal(t, 3, res.Stats.TotalLines)
	assert.Equal(t, 2, res.Stats.ParsedLines)
	assert.Equal(t, 1, res.Stats.FailedLines)
	assert.Equal(t, 1, res.Stats.CorruptedLines)
	assert.InDelta(t, 0.667, res.Stats.SuccessRate, 0.001)

	require.Len(t, res.Records, 2)
	assert.False(t, res.Records[0].Recovered)
	assert.True(t, res.Records[1].Recovered)
	assert.Equal(t, "partial_json", res.Records[1].Extractor)
	assert.Equal(t, "CREATE", res.Records[1].Fields["operation"])
	assert.Equal(t, "t2", res.Records[1].Fields["entity"])

	require.Len(t, res.Failures, 1)
	assert.Equal(t, 3, res.Failures[0].Line)
}

func TestBlankAndCommentLinesExcluded(t *testing.T) {
	content := "\n   \n# comment\n// another\n" + structuredLine + "\n\t\n"
	res := ParseString(content, DefaultOptions())

	assert.Equal(t, 1, res.Stats.TotalLines)
	assert.Equal(t, 1, res.Stats.ParsedLines)
	assert.Equal(t, 5, res.Stats.SkippedLines)
	assert.Equal(t, 1.0, res.Stats.SuccessRate)
	assert.Equal(t, 5, res.Records[0].Line)
}

func TestStructuredTextFullParse(t *testing.T) {
	res := ParseString(structuredLine, DefaultOptions())
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.False(t, rec.Recovered)
	assert.Equal(t, "text", rec.Format)
	assert.Equal(t, "2025-01-15 10:30:45", rec.Fields["timestamp"])
	assert.Equal(t, "smartrepo", rec.Fields["component"])
	assert.Equal(t, "INFO", rec.Fields["level"])
	assert.Equal(t, "s-91ac", rec.Fields["session_id"])
	assert.Equal(t, "CREATE", rec.Fields["operation"])
	assert.Equal(t, "P18P5S2", rec.Fields["entity"])
	assert.Equal(t, "SUCCESS", rec.Fields["status"])
	assert.Equal(t, "task created - step 1", rec.Fields["message"])
}

func TestStructuredTextPartialMatch(t *testing.T) {
	line := "2025-01-15 10:30:45 UTC - smartrepo - WARNING - session lost here"
	res := ParseString(line, DefaultOptions())
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.True(t, rec.Recovered)
	assert.Equal(t, "structured_prefix", rec.Extractor)
	assert.Equal(t, "WARNING", rec.Fields["level"])
	assert.Equal(t, "session lost here", rec.Fields["message"])
}

func TestTokenAndUnknownExtractors(t *testing.T) {
	res := ParseString("garbled ### [VALIDATE] ... FAILED at 2025-01-15T10:30:45Z\nplain words only", DefaultOptions())
	require.Len(t, res.Records, 2)

	assert.Equal(t, "tokens", res.Records[0].Extractor)
	assert.Equal(t, "VALIDATE", res.Records[0].Fields["operation"])
	assert.Equal(t, "FAILED", res.Records[0].Fields["status"])
	assert.Equal(t, "2025-01-15T10:30:45Z", res.Records[0].Fields["timestamp"])

	assert.Equal(t, "unknown", res.Records[1].Extractor)
	assert.Equal(t, "UNKNOWN", res.Records[1].Fields["operation"])
	assert.Equal(t, "plain words only", res.Records[1].Fields["message"])
}

func TestRecoveryDisabled(t *testing.T) {
	content := structuredLine + "\nplain words only\n{\"operation\": \"CREATE\""
	res := ParseString(content, Options{Recovery: false})

	assert.Equal(t, 3, res.Stats.TotalLines)
	assert.Equal(t, 1, res.Stats.ParsedLines)
	assert.Equal(t, 2, res.Stats.FailedLines)
	assert.Zero(t, res.Stats.CorruptedLines)
}

func TestJSONArrayElements(t *testing.T) {
	content := `[
  {"ts": "2025-01-15T10:30:45Z", "op": "create", "task": "a"},
  "` + structuredLine + `",
  42,
  {"op": "delete", "task": "b"},
]
trailing text line`

	res := ParseString(content, DefaultOptions())

	assert.Equal(t, FormatJSONArray, res.Format)
	assert.Equal(t, 5, res.Stats.TotalLines)
	assert.Equal(t, 4, res.Stats.ParsedLines)
	assert.Equal(t, 1, res.Stats.FailedLines)
	assert.True(t, res.Stats.Balanced())

	require.Len(t, res.Records, 4)
	assert.Equal(t, "json_array", res.Records[0].Format)
	assert.Equal(t, "text", res.Records[1].Format)
	assert.Equal(t, 4, res.Records[2].Line)
	assert.Equal(t, 5, res.Records[3].Line)
	assert.Equal(t, "non-object array element", res.Failures[0].Reason)
}

func TestTruncatedJSONArray(t *testing.T) {
	content := `[{"operation":"CREATE","entity":"a"},{"operation":"DELETE","entity":"b"},{"operation": "VALIDATE", "enti`

	res := ParseString(content, DefaultOptions())

	assert.Equal(t, 3, res.Stats.TotalLines)
	assert.Equal(t, 3, res.Stats.ParsedLines)
	assert.Equal(t, 1, res.Stats.CorruptedLines)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "VALIDATE", res.Records[2].Fields["operation"])
	assert.True(t, res.Records[2].Recovered)
}

func TestJSONDocumentWrapper(t *testing.T) {
	content := `{"generated": "x", "events": [{"op": "audit"}, {"op": "AUDIT_LOG"}]}`
	res := ParseString(content, DefaultOptions())

	assert.Equal(t, FormatJSONDocument, res.Format)
	assert.Equal(t, 2, res.Stats.ParsedLines)
	assert.Equal(t, "json_document", res.Records[0].Format)
}

func TestSplitArrayHandlesNestingAndStrings(t *testing.T) {
	elems, rest, closed := splitArray([]byte(`[{"a":"x,]y","b":[1,2]}, {"c":{"d":"\"}"}}] tail`))
	assert.True(t, closed)
	assert.Len(t, elems, 2)
	assert.Equal(t, "tail", string(rest))
}

func TestParseFileGzipIsSniffed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rotated.log.1")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(structuredLine + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	res, err := ParseFile(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.ParsedLines)
	assert.Equal(t, "P18P5S2", res.Records[0].Fields["entity"])
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.log"), DefaultOptions())
	assert.Error(t, err)
}

func lineGen() gopter.Gen {
	return gen.OneConstOf(
		"",
		"   ",
		"# comment",
		"@@@ ~~~",
		"plain words",
		structuredLine,
		"2025-01-15 10:30:45 UTC - core - ERROR",
		`{"operation": "CREATE", "entity": "x"}`,
		`{"operation": "CREATE", "ent`,
		`"tricky", ] [ {`,
		`42,`,
	)
}

// noise 문자열은 임의 유니코드 - 어디에 끼워 넣어도 보존 법칙은 유지돼야 한다.
func buildContent(lines []string, noise string, asArray bool) string {
	lines = append(lines, noise)
	content := strings.Join(lines, "\n")
	if asArray {
		content = "[" + content
	}
	return content
}

func TestConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("records + failures == data-bearing lines", prop.ForAll(
		func(lines []string, noise string, asArray bool, recovery bool) bool {
			res := ParseString(buildContent(lines, noise, asArray), Options{Recovery: recovery})
			return res.Stats.Balanced() &&
				len(res.Records) == res.Stats.ParsedLines &&
				len(res.Failures) == res.Stats.FailedLines
		},
		gen.SliceOf(lineGen()),
		gen.AnyString(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestRecoveryMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("recovery never lowers parsed_lines", prop.ForAll(
		func(lines []string, noise string, asArray bool) bool {
			content := buildContent(lines, noise, asArray)
			with := ParseString(content, Options{Recovery: true})
			without := ParseString(content, Options{Recovery: false})
			return with.Stats.ParsedLines >= without.Stats.ParsedLines &&
				with.Stats.TotalLines == without.Stats.TotalLines
		},
		gen.SliceOf(lineGen()),
		gen.AnyString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
