package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// MaxResumeHops is the maximum number of required actions followed within one attempt.
	MaxResumeHops = 5

	// ChallengeTimeout bounds a single 3DS challenge presentation.
	ChallengeTimeout = 60 * time.Second

	// HTTPTimeout is the per-request timeout of the backend client.
	HTTPTimeout = 15 * time.Second

	// StatusPollInterval is the delay between status polls of a redirect flow.
	StatusPollInterval = 2 * time.Second

	// StatusPollTimeout caps how long a redirect flow may stay pending.
	StatusPollTimeout = 5 * time.Minute

	// APIVersion is sent as X-Api-Version on every backend call.
	APIVersion = "2.2"

	// MockBackendAddr is the default listen address of the mock backend.
	MockBackendAddr = ":8080"

	// EnvPrefix namespaces environment overrides (NIMBUS_HTTP_TIMEOUT, ...).
	EnvPrefix = "NIMBUS"
)

// Settings holds the tunables of one SDK instance.
type Settings struct {
	HTTPTimeout        time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	ChallengeTimeout   time.Duration `mapstructure:"challenge_timeout" validate:"gt=0"`
	MaxResumeHops      int           `mapstructure:"max_resume_hops" validate:"min=1,max=20"`
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval" validate:"gt=0"`
	StatusPollTimeout  time.Duration `mapstructure:"status_poll_timeout" validate:"gtfield=StatusPollInterval"`
	RequestorAppURL    string        `mapstructure:"requestor_app_url" validate:"omitempty,url"`
	RedisURL           string        `mapstructure:"redis_url" validate:"omitempty,url"`
	MockBackendAddr    string        `mapstructure:"mock_backend_addr"`
	LogLevel           string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		HTTPTimeout:        HTTPTimeout,
		ChallengeTimeout:   ChallengeTimeout,
		MaxResumeHops:      MaxResumeHops,
		StatusPollInterval: StatusPollInterval,
		StatusPollTimeout:  StatusPollTimeout,
		MockBackendAddr:    MockBackendAddr,
		LogLevel:           "info",
	}
}

// Load reads settings from an optional yaml file and NIMBUS_* environment
// variables on top of Default. An empty path skips the file.
func Load(path string) (Settings, error) {
	def := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_timeout", def.HTTPTimeout)
	v.SetDefault("challenge_timeout", def.ChallengeTimeout)
	v.SetDefault("max_resume_hops", def.MaxResumeHops)
	v.SetDefault("status_poll_interval", def.StatusPollInterval)
	v.SetDefault("status_poll_timeout", def.StatusPollTimeout)
	v.SetDefault("requestor_app_url", def.RequestorAppURL)
	v.SetDefault("redis_url", def.RedisURL)
	v.SetDefault("mock_backend_addr", def.MockBackendAddr)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
