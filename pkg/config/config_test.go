package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", s.Addr)
	require.Equal(t, 16, s.MaxTurns)
	require.Equal(t, time.Second, s.PollInterval)
	require.True(t, s.ImagesEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OUBLIETTE_ADDR", ":9999")
	t.Setenv("OUBLIETTE_MAX_TURNS", "30")
	t.Setenv("OUBLIETTE_POLL_INTERVAL", "250ms")

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9999", s.Addr)
	require.Equal(t, 30, s.MaxTurns)
	require.Equal(t, 250*time.Millisecond, s.PollInterval)
}

func TestValidateRequiresNarratorCredentials(t *testing.T) {
	s := &Settings{}
	require.Error(t, s.Validate())

	s.OpenAIAPIKey = "sk-test"
	require.Error(t, s.Validate())

	s.NarratorID = "asst_123"
	require.NoError(t, s.Validate())
}
