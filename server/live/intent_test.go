package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuleClassifier(t *testing.T) {
	ctx := context.Background()
	c := NewRuleClassifier()

	tests := []struct {
		input string
		want  ControlIntent
	}{
		{"Could you slow down a bit?", IntentSlowDown},
		{"You're going too fast for me", IntentSlowDown},
		{"Please speed up", IntentSpeedUp},
		{"this is too slow", IntentSpeedUp},
		{"Actually, scratch that", IntentStrike},
		{"Strike that from the record", IntentStrike},
		{"Forget I said that", IntentStrike},
		{"We went down the mountain slowly", IntentNone},
		{"", IntentNone},
	}
	for _, tt := range tests {
		got, err := c.Classify(ctx, tt.input)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "input: %q", tt.input)
	}
}

func TestParseIntentResponse(t *testing.T) {
	got, err := parseIntentResponse(`{"intent": "slow_down"}`)
	require.NoError(t, err)
	require.Equal(t, IntentSlowDown, got)

	got, err = parseIntentResponse("```json\n{\"intent\": \"strike\"}\n```")
	require.NoError(t, err)
	require.Equal(t, IntentStrike, got)

	got, err = parseIntentResponse(`{"intent": "shout"}`)
	require.NoError(t, err)
	require.Equal(t, IntentNone, got)

	_, err = parseIntentResponse("not json")
	require.Error(t, err)
}

func TestControlStateClamping(t *testing.T) {
	s := NewControlState()
	require.Equal(t, 1.0, s.SpeechRate())

	for i := 0; i < 10; i++ {
		s.AdjustSpeechRate(-SpeechRateStep)
	}
	require.Equal(t, MinSpeechRate, s.SpeechRate())

	for i := 0; i < 20; i++ {
		s.AdjustSpeechRate(SpeechRateStep)
	}
	require.Equal(t, MaxSpeechRate, s.SpeechRate())
}

func TestPauseRegistry(t *testing.T) {
	r := NewPauseRegistry()
	ch := r.Register("sess-1")

	require.True(t, r.RequestPause("sess-1"))
	// Second request while one is pending is coalesced.
	require.False(t, r.RequestPause("sess-1"))

	select {
	case <-ch:
	default:
		t.Fatal("pause request not delivered")
	}

	r.Release("sess-1")
	require.True(t, r.RequestPause("sess-1"))
}
