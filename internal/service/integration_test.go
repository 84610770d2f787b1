package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"conversion-job-service/internal/engine/local"
	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/naming"
	"conversion-job-service/internal/service"
	"conversion-job-service/internal/validation"
)

const mib = 1024 * 1024

const bookPage = `<html><head><title>A Book</title></head>
<body><h1>Chapter 1</h1><p>It was a dark night.</p><p>Then it rained.</p></body></html>`

// writeAudio creates a sparse ID3-tagged mp3 of the given size.
func writeAudio(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	return p
}

func newRealController(t *testing.T) *service.Controller {
	t.Helper()
	c, err := service.New(service.Options{
		Engine:    local.New(local.Config{}, zerolog.Nop()),
		Namer:     naming.NewLocalNamer(),
		Validator: validation.New(validation.Config{MaxAudioBytes: 50 * mib}),
		Workers:   2,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
	})
	return c
}

func TestEndToEnd_ConvertsDocumentAndAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(bookPage))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(dest, 0o755))
	req := entity.JobRequest{
		SourceURL:      srv.URL + "/book.html",
		AudioPath:      writeAudio(t, dir, "voice.mp3", 2*mib),
		DestinationDir: dest,
	}

	c := newRealController(t)
	require.True(t, c.Validate(req).Valid)

	id, err := c.Submit(context.Background(), req)
	require.NoError(t, err)

	job := wait(t, c, id)
	require.Equal(t, entity.StateCompleted, job.State, "job error: %+v", job.Error)
	require.Equal(t, entity.StageAssembleOutput, job.Stage)
	require.Equal(t, 100.0, job.Progress)
	require.Greater(t, job.Result.ItemCount, 0)
	require.Equal(t, filepath.Join(dest, "book.zip"), job.Result.OutputPath)
	require.FileExists(t, job.Result.OutputPath)
	requireOutcome(t, job)

	events, err := c.Events(id, 0)
	require.NoError(t, err)
	var (
		states []entity.JobState
		stages []string
		last   float64
	)
	for _, ev := range events {
		switch ev.Type {
		case service.EventTypeState:
			states = append(states, ev.State)
		case service.EventTypeStage:
			stages = append(stages, ev.Stage)
		}
		require.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
	}
	require.Equal(t, []entity.JobState{entity.StateReady, entity.StateProcessing, entity.StateCompleted}, states)
	require.Equal(t, entity.Stages, stages)
	require.Equal(t, 100.0, last)

	// the same request again must not overwrite the first package
	id2, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	job2 := wait(t, c, id2)
	require.Equal(t, entity.StateCompleted, job2.State)
	require.Equal(t, filepath.Join(dest, "book-1.zip"), job2.Result.OutputPath)

	staged, err := filepath.Glob(filepath.Join(dest, ".staging-*"))
	require.NoError(t, err)
	require.Empty(t, staged)
}

func TestEndToEnd_OversizedAudioCreatesNoJob(t *testing.T) {
	dir := t.TempDir()
	req := entity.JobRequest{
		SourceURL:      "https://example.com/book.html",
		AudioPath:      writeAudio(t, dir, "huge.mp3", 500*mib),
		DestinationDir: dir,
	}

	c := newRealController(t)

	res := c.Validate(req)
	require.False(t, res.Valid)
	require.True(t, res.HasReason(validation.FieldAudio, entity.ReasonSize))
	require.NotEmpty(t, res.Suggestions)
	require.Contains(t, res.Suggestions[0], "50 MiB")

	id, err := c.Submit(context.Background(), req)
	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	require.False(t, verr.Result.Valid)
	require.Contains(t, verr.Result.Message, "500 MiB")
	require.Zero(t, id)
	require.Empty(t, c.List())
}
