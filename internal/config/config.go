package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/progress"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr          string
	Workers           int
	MaxAudioBytes     int64
	AllowedHosts      []string
	CreateDestination bool
	OutputExt         string
	StageWeights      []progress.StageWeight
	FetchTimeout      time.Duration
	RedisAddr         string
	RedisKeyPrefix    string
	NameTTL           time.Duration
	NamerLockDir      string
	LogLevel          zerolog.Level
	EventHistory      int
	ShutdownTimeout   time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("workers", 4)
	v.SetDefault("max_audio_bytes", int64(50<<20))
	v.SetDefault("allowed_hosts", "*")
	v.SetDefault("create_destination", false)
	v.SetDefault("output_ext", ".zip")
	v.SetDefault("stage_weights", "")
	v.SetDefault("fetch_timeout", 30*time.Second)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_key_prefix", "conversion:names")
	v.SetDefault("name_ttl", 24*time.Hour)
	v.SetDefault("namer_lock_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("event_history", 1000)
	v.SetDefault("shutdown_timeout", 15*time.Second)
}

// Load reads the configuration from environment variables such as
// HTTP_ADDR or WORKERS. Unset variables fall back to defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:          v.GetString("http_addr"),
		Workers:           v.GetInt("workers"),
		MaxAudioBytes:     v.GetInt64("max_audio_bytes"),
		AllowedHosts:      splitList(v.GetString("allowed_hosts")),
		CreateDestination: v.GetBool("create_destination"),
		OutputExt:         v.GetString("output_ext"),
		FetchTimeout:      v.GetDuration("fetch_timeout"),
		RedisAddr:         v.GetString("redis_addr"),
		RedisKeyPrefix:    v.GetString("redis_key_prefix"),
		NameTTL:           v.GetDuration("name_ttl"),
		NamerLockDir:      v.GetString("namer_lock_dir"),
		EventHistory:      v.GetInt("event_history"),
		ShutdownTimeout:   v.GetDuration("shutdown_timeout"),
	}

	if cfg.HTTPAddr == "" {
		return Config{}, fmt.Errorf("config: HTTP_ADDR is empty")
	}
	if cfg.Workers < 0 {
		return Config{}, fmt.Errorf("config: WORKERS must be >= 0, got %d", cfg.Workers)
	}
	if cfg.MaxAudioBytes <= 0 {
		return Config{}, fmt.Errorf("config: MAX_AUDIO_BYTES must be positive, got %d", cfg.MaxAudioBytes)
	}
	if cfg.FetchTimeout <= 0 {
		return Config{}, fmt.Errorf("config: FETCH_TIMEOUT must be positive")
	}
	if cfg.OutputExt != "" && !strings.HasPrefix(cfg.OutputExt, ".") {
		cfg.OutputExt = "." + cfg.OutputExt
	}

	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("log_level")))
	if err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	weights, err := parseWeights(v.GetString("stage_weights"))
	if err != nil {
		return Config{}, fmt.Errorf("config: STAGE_WEIGHTS: %w", err)
	}
	cfg.StageWeights = weights

	return cfg, nil
}

// parseWeights reads "stage=weight,stage=weight". An empty string yields
// the default weights.
func parseWeights(raw string) ([]progress.StageWeight, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return progress.DefaultWeights(), nil
	}

	var out []progress.StageWeight
	for _, part := range splitList(raw) {
		stage, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: want stage=weight", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", part, err)
		}
		out = append(out, progress.StageWeight{Stage: strings.TrimSpace(stage), Weight: w})
	}

	if err := progress.MatchStages(out, entity.Stages); err != nil {
		return nil, err
	}
	if _, err := progress.NewAggregator(out); err != nil {
		return nil, err
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
