package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	p := &Profile{
		Mode:   "dev",
		Data:   t.TempDir(),
		Driver: "sqlite",
	}
	p.FromEnv()
	require.NoError(t, p.Validate())

	require.Equal(t, 2, p.Workers)
	require.Equal(t, 30*time.Second, p.LeaseDuration)
	require.Equal(t, 10*time.Second, p.HeartbeatInterval)
	require.Equal(t, 1200*time.Millisecond, p.AckDeadline)
	require.Equal(t, 2, p.StrikeLookback)
	require.Equal(t, 2*time.Minute, p.FinalizeGrace)
	require.NotEmpty(t, p.DSN)
	require.Equal(t, p.LLMModel, p.LLMIntentModel)
}

func TestValidateClampsHeartbeat(t *testing.T) {
	p := &Profile{
		Mode:              "dev",
		Data:              t.TempDir(),
		Driver:            "sqlite",
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		Workers:           4,
		MaxAttempts:       5,
		StrikeLookback:    3,
	}
	require.NoError(t, p.Validate())

	require.Equal(t, 10*time.Second, p.HeartbeatInterval)
	require.Equal(t, 4, p.Workers)
	require.Equal(t, 5, p.MaxAttempts)
	require.Equal(t, 3, p.StrikeLookback)
}

func TestValidateClampsFloor(t *testing.T) {
	p := &Profile{
		Mode:           "dev",
		Data:           t.TempDir(),
		Driver:         "sqlite",
		Workers:        0,
		MaxAttempts:    0,
		StrikeLookback: 0,
	}
	require.NoError(t, p.Validate())
	require.Equal(t, 1, p.Workers)
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 2, p.StrikeLookback)
}

func TestValidateUnknownMode(t *testing.T) {
	p := &Profile{Mode: "weird", Data: t.TempDir(), Driver: "sqlite"}
	require.NoError(t, p.Validate())
	require.Equal(t, "demo", p.Mode)
}
