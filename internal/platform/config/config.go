package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development" validate:"required"`
	Port      string `env:"PORT" default:"3000" validate:"required,numeric"`
	LogLevel  string `env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	// StaticDir holds the browser client. Empty disables static hosting.
	StaticDir string `env:"STATIC_DIR" validate:"omitempty,dir"`

	// AllowedOrigins is a space separated list. Empty accepts any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" validate:"dive,url"`

	MaxConnections      int     `env:"MAX_CONNECTIONS" default:"10000" validate:"gt=0"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"50" validate:"gt=0,ltefield=MaxConnections"`
	ConnectRate         float64 `env:"CONNECT_RATE" default:"10" validate:"gt=0"`
	ConnectBurst        int     `env:"CONNECT_BURST" default:"20" validate:"gt=0"`
	MessageRate         float64 `env:"MESSAGE_RATE" default:"0" validate:"gte=0"`
	MessageBurst        int     `env:"MESSAGE_BURST" default:"40" validate:"gt=0"`
	MaxFrameBytes       int64   `env:"MAX_FRAME_BYTES" default:"1048576" validate:"gte=512"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var fieldValidator = newValidator()

// newValidator reports field errors under their environment variable names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("env"), ",")
		return name
	})
	return v
}

func validate(cfg *Config) error {
	if err := fieldValidator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describe(fieldErrs[0])
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.AppEnv == "production" && len(cfg.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must be set in production")
	}

	return nil
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "dir":
		return fmt.Errorf("%s must be an existing directory, got %q", fe.Field(), fe.Value())
	case "url":
		return fmt.Errorf("%s entries must be absolute origins, got %q", fe.Field(), fe.Value())
	case "ltefield":
		return fmt.Errorf("%s must not exceed MAX_CONNECTIONS", fe.Field())
	default:
		return fmt.Errorf("%s is invalid (%s=%s)", fe.Field(), fe.Tag(), fe.Param())
	}
}
