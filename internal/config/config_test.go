package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"conversion-job-service/internal/progress"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, int64(50<<20), cfg.MaxAudioBytes)
	require.Equal(t, []string{"*"}, cfg.AllowedHosts)
	require.Equal(t, ".zip", cfg.OutputExt)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout)
	require.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	require.Equal(t, progress.DefaultWeights(), cfg.StageWeights)
	require.Empty(t, cfg.RedisAddr)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("WORKERS", "0")
	t.Setenv("MAX_AUDIO_BYTES", "1048576")
	t.Setenv("ALLOWED_HOSTS", "example.com, *.example.org")
	t.Setenv("CREATE_DESTINATION", "true")
	t.Setenv("OUTPUT_EXT", "epub")
	t.Setenv("STAGE_WEIGHTS", "fetch-source=1,ingest-audio=1,assemble-output=2")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("NAMER_LOCK_DIR", "/var/lib/conversion/locks")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	require.Equal(t, 0, cfg.Workers)
	require.Equal(t, int64(1<<20), cfg.MaxAudioBytes)
	require.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedHosts)
	require.True(t, cfg.CreateDestination)
	require.Equal(t, ".epub", cfg.OutputExt)
	require.Equal(t, 5*time.Second, cfg.FetchTimeout)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	require.Equal(t, "/var/lib/conversion/locks", cfg.NamerLockDir)
	require.Equal(t, []progress.StageWeight{
		{Stage: "fetch-source", Weight: 1},
		{Stage: "ingest-audio", Weight: 1},
		{Stage: "assemble-output", Weight: 2},
	}, cfg.StageWeights)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"negative workers", "WORKERS", "-1"},
		{"zero audio limit", "MAX_AUDIO_BYTES", "0"},
		{"bad level", "LOG_LEVEL", "loud"},
		{"weight without stage", "STAGE_WEIGHTS", "0.5"},
		{"negative weight", "STAGE_WEIGHTS", "fetch-source=-1,ingest-audio=1,assemble-output=1"},
		{"zero weights", "STAGE_WEIGHTS", "fetch-source=0,ingest-audio=0,assemble-output=0"},
		{"unknown stage names", "STAGE_WEIGHTS", "fetch=1,ingest=1,assemble=1"},
		{"missing stage", "STAGE_WEIGHTS", "fetch-source=1,ingest-audio=1"},
		{"stages out of order", "STAGE_WEIGHTS", "ingest-audio=1,fetch-source=1,assemble-output=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
