package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityOrdering(t *testing.T) {
	order := []Status{StatusSuccess, StatusInfo, StatusSkip, StatusWarn, StatusFail}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Severity(), order[i].Severity(), "%s < %s", order[i-1], order[i])
	}
}

func TestMaxStatus(t *testing.T) {
	assert.Equal(t, StatusFail, MaxStatus(StatusWarn, StatusFail))
	assert.Equal(t, StatusWarn, MaxStatus(StatusWarn, StatusSkip))
	assert.Equal(t, StatusInfo, MaxStatus(StatusSuccess, StatusInfo))
}

func TestUnknownStatusRanksAsInfo(t *testing.T) {
	assert.Equal(t, StatusInfo.Severity(), Status("bogus").Severity())
	assert.False(t, Status("bogus").Valid())
	assert.True(t, StatusSkip.Valid())
}

func TestParseStatisticsFinalize(t *testing.T) {
	var s ParseStatistics
	s.Finalize()
	assert.Zero(t, s.SuccessRate)

	s.Add(ParseStatistics{TotalLines: 3, ParsedLines: 2, FailedLines: 1, CorruptedLines: 1})
	s.Add(ParseStatistics{TotalLines: 1, ParsedLines: 1, SkippedLines: 4})

	assert.True(t, s.Balanced())
	assert.Equal(t, 4, s.TotalLines)
	assert.Equal(t, 4, s.SkippedLines)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-9)
}
