// Package validation checks job requests before any background work starts.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"conversion-job-service/internal/entity"
)

const (
	FieldSource      = "source_url"
	FieldAudio       = "audio_path"
	FieldDestination = "destination_dir"
)

// DefaultFormats is the supported audio container set.
var DefaultFormats = []string{"mp3", "wav", "flac", "ogg", "m4a", "aac", "opus"}

type Config struct {
	AllowedHosts      []string // glob patterns, "*" allows any host
	Formats           []string
	MaxAudioBytes     int64
	CreateDestination bool
}

type Validator struct {
	cfg      Config
	formats  map[string]struct{}
	validate *validator.Validate
}

func New(cfg Config) *Validator {
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = []string{"*"}
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = DefaultFormats
	}

	formats := make(map[string]struct{}, len(cfg.Formats))
	for _, f := range cfg.Formats {
		formats[strings.ToLower(strings.TrimPrefix(f, "."))] = struct{}{}
	}

	return &Validator{
		cfg:      cfg,
		formats:  formats,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate reports every problem with req. The only side effect is creating
// the destination directory when that is permitted.
func (v *Validator) Validate(req entity.JobRequest) entity.ValidationResult {
	var problems []entity.Problem
	problems = append(problems, v.checkTags(req)...)

	if !hasField(problems, FieldSource) {
		problems = append(problems, v.checkSource(req.SourceURL)...)
	}
	if !hasField(problems, FieldAudio) {
		problems = append(problems, v.checkAudio(req.AudioPath)...)
	}
	if !hasField(problems, FieldDestination) {
		problems = append(problems, v.checkDestination(req.DestinationDir)...)
	}

	if len(problems) == 0 {
		return entity.ValidationResult{Valid: true, Suggestions: []string{}}
	}

	res := entity.ValidationResult{
		Valid:       false,
		Message:     summary(problems),
		Problems:    problems,
		Suggestions: make([]string, 0, len(problems)),
	}
	for _, p := range problems {
		if s := v.suggestion(p); s != "" {
			res.Suggestions = append(res.Suggestions, s)
		}
	}
	return res
}

func (v *Validator) checkTags(req entity.JobRequest) []entity.Problem {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []entity.Problem{{Field: FieldSource, Reason: entity.ReasonMalformed, Message: err.Error()}}
	}

	out := make([]entity.Problem, 0, len(verrs))
	for _, fe := range verrs {
		field := tagField(fe.StructField())
		reason := entity.ReasonMalformed
		if fe.Tag() == "required" {
			reason = entity.ReasonRequired
		}
		out = append(out, entity.Problem{
			Field:   field,
			Reason:  reason,
			Message: fmt.Sprintf("%s failed on '%s' validation", field, fe.Tag()),
		})
	}
	return out
}

func (v *Validator) checkSource(raw string) []entity.Problem {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return []entity.Problem{{Field: FieldSource, Reason: entity.ReasonMalformed, Message: "source must be an absolute http(s) URL"}}
	}

	host := strings.ToLower(u.Hostname())
	for _, pattern := range v.cfg.AllowedHosts {
		if ok, _ := path.Match(strings.ToLower(pattern), host); ok {
			return nil
		}
	}
	return []entity.Problem{{Field: FieldSource, Reason: entity.ReasonHost, Message: fmt.Sprintf("host %q is not allowed", host)}}
}

func (v *Validator) checkAudio(p string) []entity.Problem {
	var problems []entity.Problem
	add := func(reason, msg string) {
		problems = append(problems, entity.Problem{Field: FieldAudio, Reason: reason, Message: msg})
	}

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			add(entity.ReasonMissing, fmt.Sprintf("audio file %s does not exist", p))
		} else {
			add(entity.ReasonUnreadable, fmt.Sprintf("audio file %s cannot be accessed: %v", p, err))
		}
		return problems
	}
	if !info.Mode().IsRegular() {
		add(entity.ReasonUnreadable, fmt.Sprintf("audio path %s is not a regular file", p))
		return problems
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if _, ok := v.formats[ext]; !ok {
		add(entity.ReasonFormat, fmt.Sprintf("audio format %q is not supported", ext))
	}

	if info.Size() == 0 {
		add(entity.ReasonEmpty, "audio file is empty")
		return problems
	}
	if v.cfg.MaxAudioBytes > 0 && info.Size() > v.cfg.MaxAudioBytes {
		add(entity.ReasonSize, fmt.Sprintf("audio file is %s, limit is %s", humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(v.cfg.MaxAudioBytes))))
	}

	mime, err := sniff(p)
	if err != nil {
		add(entity.ReasonUnreadable, fmt.Sprintf("audio file cannot be read: %v", err))
		return problems
	}
	if !looksLikeAudio(mime) && !hasReason(problems, entity.ReasonFormat) {
		add(entity.ReasonFormat, fmt.Sprintf("audio file content is %s", mime.String()))
	}
	return problems
}

func (v *Validator) checkDestination(dir string) []entity.Problem {
	bad := func(reason, msg string) []entity.Problem {
		return []entity.Problem{{Field: FieldDestination, Reason: reason, Message: msg}}
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !v.cfg.CreateDestination {
			return bad(entity.ReasonMissing, fmt.Sprintf("destination %s does not exist", dir))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return bad(entity.ReasonNotWritable, fmt.Sprintf("destination %s cannot be created: %v", dir, err))
		}
	case err != nil:
		return bad(entity.ReasonNotWritable, fmt.Sprintf("destination %s cannot be accessed: %v", dir, err))
	case !info.IsDir():
		return bad(entity.ReasonNotDir, fmt.Sprintf("destination %s is not a directory", dir))
	}

	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return bad(entity.ReasonNotWritable, fmt.Sprintf("destination %s is not writable", dir))
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(name)
	return nil
}

func (v *Validator) suggestion(p entity.Problem) string {
	switch p.Field {
	case FieldSource:
		switch p.Reason {
		case entity.ReasonHost:
			return fmt.Sprintf("use a source URL whose host matches one of: %s", strings.Join(v.cfg.AllowedHosts, ", "))
		default:
			return "provide the source as an absolute URL, e.g. https://example.com/book.html"
		}
	case FieldAudio:
		switch p.Reason {
		case entity.ReasonRequired:
			return "provide the path of the audio file to ingest"
		case entity.ReasonMissing:
			return "check that the audio file path exists"
		case entity.ReasonUnreadable:
			return "make sure the audio file is a regular file readable by the service"
		case entity.ReasonEmpty:
			return "choose an audio file that is not empty"
		case entity.ReasonFormat:
			return fmt.Sprintf("convert the audio to a supported format: %s", strings.Join(v.cfg.Formats, ", "))
		case entity.ReasonSize:
			return fmt.Sprintf("reduce the audio file size below the %s limit", humanize.IBytes(uint64(v.cfg.MaxAudioBytes)))
		}
	case FieldDestination:
		switch p.Reason {
		case entity.ReasonRequired:
			return "provide a destination directory"
		case entity.ReasonMissing:
			return "create the destination directory first"
		case entity.ReasonNotDir:
			return "choose a directory, not a file, as destination"
		default:
			return "choose a destination directory the service can write to"
		}
	}
	return ""
}

func sniff(p string) (*mimetype.MIME, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return mimetype.DetectReader(io.LimitReader(f, 3072))
}

// looksLikeAudio rejects content that is positively something else. Raw
// streams without a recognised header pass and are left to the engine.
func looksLikeAudio(m *mimetype.MIME) bool {
	if m == nil {
		return true
	}
	s := m.String()
	return strings.HasPrefix(s, "audio/") ||
		strings.HasPrefix(s, "video/") ||
		m.Is("application/ogg") ||
		m.Is("application/octet-stream")
}

func tagField(structField string) string {
	switch structField {
	case "SourceURL":
		return FieldSource
	case "AudioPath":
		return FieldAudio
	case "DestinationDir":
		return FieldDestination
	default:
		return strings.ToLower(structField)
	}
}

func summary(problems []entity.Problem) string {
	if len(problems) == 1 {
		return problems[0].Message
	}
	return fmt.Sprintf("%d problems found: %s (and %d more)", len(problems), problems[0].Message, len(problems)-1)
}

func hasField(problems []entity.Problem, field string) bool {
	for _, p := range problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

func hasReason(problems []entity.Problem, reason string) bool {
	for _, p := range problems {
		if p.Reason == reason {
			return true
		}
	}
	return false
}
