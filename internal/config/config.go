// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// DefaultPath is used when neither --config nor COMMITCAST_CONFIG is set.
const DefaultPath = "config.yml"

// Config holds the validated application configuration.
type Config struct {
	DiscordToken string `yaml:"discord_token" validate:"required"`
	ChannelID    string `yaml:"channel_id" validate:"required,numeric"`
	GitHubToken  string `yaml:"github_token"`

	// PollIntervalSeconds is the file representation; PollInterval is
	// authoritative after Load.
	PollIntervalSeconds *int          `yaml:"poll_interval"`
	PollInterval        time.Duration `yaml:"-" label:"poll_interval" validate:"gt=0"`

	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `yaml:"log_format" validate:"oneof=text json"`

	Repos []Repo `yaml:"repos" validate:"min=1,dive"`

	intervalFromEnv bool
}

// Repo is one watched repository branch.
type Repo struct {
	Owner     string `yaml:"owner" validate:"required,excludesall=/"`
	Name      string `yaml:"name" validate:"required,excludesall=/"`
	Branch    string `yaml:"branch" validate:"required"`
	ChannelID string `yaml:"channel_id" validate:"omitempty,numeric"`
}

// Target converts r to its domain form.
func (r Repo) Target() model.RepositoryTarget {
	return model.RepositoryTarget{
		Owner:     r.Owner,
		Name:      r.Name,
		Branch:    r.Branch,
		ChannelID: r.ChannelID,
	}
}

// ResolvePath returns flagValue if set, else COMMITCAST_CONFIG, else DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v, ok := os.LookupEnv("COMMITCAST_CONFIG"); ok && v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. Unknown keys are rejected.
//
// Environment overrides: COMMITCAST_DISCORD_TOKEN, COMMITCAST_GITHUB_TOKEN,
// COMMITCAST_POLL_INTERVAL (Go duration, e.g. "2m"), COMMITCAST_LISTEN_ADDR,
// COMMITCAST_DB_PATH, COMMITCAST_LOG_LEVEL.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. It is Load without the file.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("COMMITCAST_DISCORD_TOKEN"); ok {
		c.DiscordToken = v
	}
	if v, ok := os.LookupEnv("COMMITCAST_GITHUB_TOKEN"); ok {
		c.GitHubToken = v
	}
	if v, ok := os.LookupEnv("COMMITCAST_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMMITCAST_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		c.PollInterval = parsed
		c.intervalFromEnv = true
	}
	if v, ok := os.LookupEnv("COMMITCAST_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv("COMMITCAST_DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("COMMITCAST_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if !c.intervalFromEnv {
		if c.PollIntervalSeconds != nil {
			c.PollInterval = time.Duration(*c.PollIntervalSeconds) * time.Second
		} else {
			c.PollInterval = model.DefaultPollInterval
		}
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	for i := range c.Repos {
		if c.Repos[i].Branch == "" {
			c.Repos[i].Branch = model.DefaultBranch
		}
	}
}

func (c *Config) validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(yamlFieldName)

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describe(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]int, len(c.Repos))
	for i, r := range c.Repos {
		slug := r.Target().Slug()
		if first, ok := seen[slug]; ok {
			return fmt.Errorf("invalid configuration: repos[%d] duplicates repos[%d] (%s)", i, first, slug)
		}
		seen[slug] = i
	}
	return nil
}

// Settings returns the immutable monitor settings derived from c.
func (c *Config) Settings() model.MonitorSettings {
	targets := make([]model.RepositoryTarget, 0, len(c.Repos))
	for _, r := range c.Repos {
		targets = append(targets, r.Target())
	}

	return model.MonitorSettings{
		PollInterval:     c.PollInterval,
		DefaultChannelID: c.ChannelID,
		SourceAPIToken:   c.GitHubToken,
		Targets:          targets,
	}
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// yamlFieldName reports fields by their YAML key in validation errors.
func yamlFieldName(f reflect.StructField) string {
	if label := f.Tag.Get("label"); label != "" {
		return label
	}
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.repos[0].owner"; drop the root type.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "numeric":
			msgs = append(msgs, field+" must be a numeric id")
		case "gt":
			msgs = append(msgs, field+" must be positive")
		case "min":
			msgs = append(msgs, field+" must have at least "+fe.Param()+" entry")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		case "excludesall":
			msgs = append(msgs, field+" must not contain '/'")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
