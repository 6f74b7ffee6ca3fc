package interview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAngle(t *testing.T) {
	require.Equal(t, AngleTechnical, ResolveAngle("technical", "narrative"))
	require.Equal(t, AngleReflective, ResolveAngle("", "reflective"))
	require.Equal(t, DefaultAngle, ResolveAngle("", ""))
	require.Equal(t, DefaultAngle, ResolveAngle("dramatic", ""))
	require.Equal(t, AngleCelebratory, ResolveAngle(" Celebratory ", ""))
}

func TestResolveSecondary(t *testing.T) {
	sec := ResolveSecondary(AngleNarrative, "technical", "")
	require.NotNil(t, sec)
	require.Equal(t, AngleTechnical, *sec)

	require.Nil(t, ResolveSecondary(AngleNarrative, "narrative", ""))
	require.Nil(t, ResolveSecondary(AngleNarrative, "", ""))
	require.Nil(t, ResolveSecondary(AngleNarrative, "bogus", ""))
}

func TestAssembleInstructions(t *testing.T) {
	sec := AngleInvestigative
	got := AssembleInstructions(AngleNarrative, &sec, "the factory fire of 1998",
		[]string{"Where were you that night?", "Who called you first?"},
		"Local paper coverage attached.")

	require.Contains(t, got, "the factory fire of 1998")
	require.Contains(t, got, AngleNarrative.Instructions())
	require.Contains(t, got, AngleInvestigative.Instructions())
	require.Contains(t, got, "1. Where were you that night?")
	require.Contains(t, got, "Local paper coverage attached.")
}
