package validation_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/validation"
)

const mb = 1024 * 1024

// writeMP3 creates an ID3-tagged file of the given size.
func writeMP3(t *testing.T, dir, name string, size int64) string {
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

func newValidator() *validation.Validator {
	return validation.New(validation.Config{
		AllowedHosts:  []string{"*.example.com", "example.com"},
		MaxAudioBytes: 50 * mb,
	})
}

func TestValidate_AcceptsWellFormedRequest(t *testing.T) {
	dir := t.TempDir()
	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "https://docs.example.com/book.html",
		AudioPath:      writeMP3(t, dir, "voice.mp3", 2*mb),
		DestinationDir: dir,
	})

	require.True(t, res.Valid, "problems: %+v", res.Problems)
	require.Empty(t, res.Suggestions)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "not a url",
		AudioPath:      writeMP3(t, dir, "huge.mp3", 500*mb),
		DestinationDir: dir,
	})

	require.False(t, res.Valid)
	require.True(t, res.HasReason(validation.FieldSource, entity.ReasonMalformed))
	require.True(t, res.HasReason(validation.FieldAudio, entity.ReasonSize))
	require.Len(t, res.Suggestions, 2)
	require.Contains(t, res.Suggestions[0], "absolute URL")
	require.Contains(t, res.Suggestions[1], "50 MiB")
}

func TestValidate_OversizedAudioMentionsLimit(t *testing.T) {
	dir := t.TempDir()
	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "https://example.com/book",
		AudioPath:      writeMP3(t, dir, "huge.mp3", 500*mb),
		DestinationDir: dir,
	})

	require.False(t, res.Valid)
	require.Len(t, res.Problems, 1)
	require.Equal(t, entity.ReasonSize, res.Problems[0].Reason)
	require.Contains(t, res.Message, "500 MiB")
	require.Contains(t, res.Suggestions[0], "50 MiB")
}

func TestValidate_RequiredFields(t *testing.T) {
	res := newValidator().Validate(entity.JobRequest{})

	require.False(t, res.Valid)
	require.True(t, res.HasReason(validation.FieldSource, entity.ReasonRequired))
	require.True(t, res.HasReason(validation.FieldAudio, entity.ReasonRequired))
	require.True(t, res.HasReason(validation.FieldDestination, entity.ReasonRequired))
	require.Len(t, res.Suggestions, 3)
}

func TestValidate_SourceHostNotAllowed(t *testing.T) {
	dir := t.TempDir()
	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "https://evil.test/book",
		AudioPath:      writeMP3(t, dir, "voice.mp3", mb),
		DestinationDir: dir,
	})

	require.False(t, res.Valid)
	require.True(t, res.HasReason(validation.FieldSource, entity.ReasonHost))
	require.Contains(t, res.Suggestions[0], "*.example.com")
}

func TestValidate_HostGlobs(t *testing.T) {
	dir := t.TempDir()
	audio := writeMP3(t, dir, "voice.mp3", mb)
	v := newValidator()

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://example.com/book", true},
		{"https://EXAMPLE.com:8443/book", true},
		{"https://cdn.example.com/book", true},
		{"https://a.b.example.com/book", true},
		{"https://notexample.com/book", false},
		{"https://example.com.evil.test/book", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			res := v.Validate(entity.JobRequest{SourceURL: tt.url, AudioPath: audio, DestinationDir: dir})
			require.Equal(t, !tt.allowed, res.HasReason(validation.FieldSource, entity.ReasonHost))
		})
	}
}

func TestValidate_SourceSchemeMustBeHTTP(t *testing.T) {
	dir := t.TempDir()
	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "ftp://example.com/book",
		AudioPath:      writeMP3(t, dir, "voice.mp3", mb),
		DestinationDir: dir,
	})

	require.True(t, res.HasReason(validation.FieldSource, entity.ReasonMalformed))
}

func TestValidate_AudioReasons(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	text := filepath.Join(dir, "notes.mp3")
	require.NoError(t, os.WriteFile(text, []byte(strings.Repeat("plain text notes\n", 20)), 0o644))

	unsupported := writeMP3(t, dir, "voice.xyz", mb)

	cases := []struct {
		name   string
		path   string
		reason string
	}{
		{"missing", filepath.Join(dir, "nope.mp3"), entity.ReasonMissing},
		{"directory", dir, entity.ReasonUnreadable},
		{"empty", empty, entity.ReasonEmpty},
		{"text content", text, entity.ReasonFormat},
		{"extension", unsupported, entity.ReasonFormat},
	}

	v := newValidator()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := v.Validate(entity.JobRequest{
				SourceURL:      "https://example.com/book",
				AudioPath:      tc.path,
				DestinationDir: dir,
			})
			require.False(t, res.Valid)
			require.True(t, res.HasReason(validation.FieldAudio, tc.reason), "problems: %+v", res.Problems)
		})
	}
}

func TestValidate_Destination(t *testing.T) {
	dir := t.TempDir()
	audio := writeMP3(t, dir, "voice.mp3", mb)
	missing := filepath.Join(dir, "out", "nested")

	res := newValidator().Validate(entity.JobRequest{
		SourceURL:      "https://example.com/book",
		AudioPath:      audio,
		DestinationDir: missing,
	})
	require.True(t, res.HasReason(validation.FieldDestination, entity.ReasonMissing))
	_, err := os.Stat(missing)
	require.True(t, os.IsNotExist(err))

	creating := validation.New(validation.Config{MaxAudioBytes: 50 * mb, CreateDestination: true})
	res = creating.Validate(entity.JobRequest{
		SourceURL:      "https://example.com/book",
		AudioPath:      audio,
		DestinationDir: missing,
	})
	require.True(t, res.Valid, "problems: %+v", res.Problems)
	info, err := os.Stat(missing)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	res = newValidator().Validate(entity.JobRequest{
		SourceURL:      "https://example.com/book",
		AudioPath:      audio,
		DestinationDir: audio,
	})
	require.True(t, res.HasReason(validation.FieldDestination, entity.ReasonNotDir))
}
