package questions

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrep(t *testing.T) {
	prep, err := parsePrep(`{"questions": ["Q1", "Q2"], "research_summary": "summary"}`)
	require.NoError(t, err)
	require.Equal(t, []string{"Q1", "Q2"}, prep.Questions)
	require.Equal(t, "summary", prep.ResearchSummary)

	prep, err = parsePrep("```json\n{\"questions\": [\"Q1\"], \"research_summary\": \"\"}\n```")
	require.NoError(t, err)
	require.Equal(t, []string{"Q1"}, prep.Questions)

	_, err = parsePrep(`{"questions": [], "research_summary": "empty"}`)
	require.Error(t, err)

	_, err = parsePrep("not json")
	require.Error(t, err)
}
