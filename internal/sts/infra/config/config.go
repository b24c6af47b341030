package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// BackendCacheSize bounds each backend enforcement cache (persistent
	// and ephemeral contexts are sized independently).
	BackendCacheSize uint `koanf:"backend_cache_size" validate:"required,gte=1"`

	// DBPath is the location of the persisted user-policy database.
	DBPath string `koanf:"db_path" validate:"required"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// MaxAge is the lifetime, in seconds, carried by enforcement
	// directives the engine issues for user declarations.
	MaxAge uint64 `koanf:"max_age" validate:"required,gte=1"`

	// Port is the loopback port the control API binds to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65535"`
}

// DEFAULT_APP_CONFIG defines the default configuration for the
// enforcement daemon.
var DEFAULT_APP_CONFIG = AppConfig{
	BackendCacheSize: 4096,
	DBPath:           "/var/lib/stsguard/policy.db",
	Env:              "prod",
	LogLevel:         "info",
	MaxAge:           63072000,
	Port:             8275,
}

// envLoader is a function that loads environment variables with the
// prefix "STS_". It transforms the keys to lowercase and removes the
// prefix, and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "STS_",
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, "STS_")), value
		},
	}), nil)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	// Load default values using structs provider.
	k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)

	// Load environment variables with prefix "STS_".
	err := envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	// Unmarshal the loaded configuration into AppConfig struct.
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Validate the configuration.
	validate := validator.New(validator.WithRequiredStructEnabled())

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
