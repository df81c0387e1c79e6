package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is read from CHAT_* environment variables.
type Config struct {
	Addr     string `env:"CHAT_ADDR,default=:8080" validate:"required"`
	DBDriver string `env:"CHAT_DB_DRIVER,default=sqlite3" validate:"oneof=sqlite3 postgres"`
	DBSource string `env:"CHAT_DB_SOURCE,default=coursechat.db" validate:"required"`

	JWTSecret string        `env:"CHAT_JWT_SECRET,required=true" validate:"min=16"`
	JWTIssuer string        `env:"CHAT_JWT_ISSUER,default=coursechat" validate:"required"`
	TokenTTL  time.Duration `env:"CHAT_TOKEN_TTL,default=24h" validate:"gt=0"`

	AuthTimeout     time.Duration `env:"CHAT_AUTH_TIMEOUT,default=30s" validate:"gt=0"`
	PingPeriod      time.Duration `env:"CHAT_PING_PERIOD,default=30s" validate:"gt=0"`
	WriteWait       time.Duration `env:"CHAT_WRITE_WAIT,default=10s" validate:"gt=0"`
	SendBuffer      int           `env:"CHAT_SEND_BUFFER,default=256" validate:"gt=0"`
	MaxMessageBytes int64         `env:"CHAT_MAX_MESSAGE_BYTES,default=65536" validate:"gt=0"`
	HistoryLimit    int           `env:"CHAT_HISTORY_LIMIT,default=200" validate:"gt=0"`
	UnreadLimit     int           `env:"CHAT_UNREAD_LIMIT,default=50" validate:"gt=0"`
	// Origins are separated by "|". Empty accepts same-host requests only.
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS"`

	// RedisAddr enables the Redis presence mirror when set.
	RedisAddr string `env:"CHAT_REDIS_ADDR"`

	LogLevel      string        `env:"CHAT_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	ShutdownGrace time.Duration `env:"CHAT_SHUTDOWN_GRACE,default=10s" validate:"gt=0"`
}

// Load parses environ (os.Environ format) and validates the result.
func Load(environ []string) (*Config, error) {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.AllowedOrigins = trimOrigins(cfg.AllowedOrigins)

	if err := validator.New().Struct(&cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("invalid config: %s failed %q", fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// FromEnvironment loads the process environment, filling unset variables from
// the dotenv file at path when it exists.
func FromEnvironment(path string) (*Config, error) {
	environ, err := withDotenv(os.Environ(), path)
	if err != nil {
		return nil, err
	}
	return Load(environ)
}

// withDotenv appends the file's variables that environ does not set.
func withDotenv(environ []string, path string) ([]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return environ, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	set := make(map[string]struct{}, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		set[key] = struct{}{}
	}
	out := append([]string(nil), environ...)
	for key, value := range values {
		if _, ok := set[key]; !ok {
			out = append(out, key+"="+value)
		}
	}
	return out, nil
}

func trimOrigins(origins []string) []string {
	out := origins[:0]
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
