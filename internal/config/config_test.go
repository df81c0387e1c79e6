package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const secret = "CHAT_JWT_SECRET=0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{secret})
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "sqlite3", cfg.DBDriver)
	require.Equal(t, 30*time.Second, cfg.AuthTimeout)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 256, cfg.SendBuffer)
	require.Equal(t, int64(65536), cfg.MaxMessageBytes)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.AllowedOrigins)
	require.Empty(t, cfg.RedisAddr)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load([]string{
		secret,
		"CHAT_ADDR=127.0.0.1:9000",
		"CHAT_DB_DRIVER=postgres",
		"CHAT_DB_SOURCE=host=localhost dbname=chat sslmode=disable",
		"CHAT_AUTH_TIMEOUT=5s",
		"CHAT_ALLOWED_ORIGINS=https://a.example| https://b.example |",
		"CHAT_LOG_LEVEL=DEBUG",
		"CHAT_REDIS_ADDR=localhost:6379",
	})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, "postgres", cfg.DBDriver)
	require.Equal(t, "host=localhost dbname=chat sslmode=disable", cfg.DBSource)
	require.Equal(t, 5*time.Second, cfg.AuthTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{name: "missing secret", environ: nil},
		{name: "short secret", environ: []string{"CHAT_JWT_SECRET=short"}},
		{name: "unknown driver", environ: []string{secret, "CHAT_DB_DRIVER=mysql"}},
		{name: "bad duration", environ: []string{secret, "CHAT_AUTH_TIMEOUT=soon"}},
		{name: "zero buffer", environ: []string{secret, "CHAT_SEND_BUFFER=0"}},
		{name: "bad level", environ: []string{secret, "CHAT_LOG_LEVEL=loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.environ)
			require.Error(t, err)
		})
	}
}

func TestDotenvFillsUnsetVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "CHAT_JWT_SECRET=from-dotenv-0123456789\nCHAT_ADDR=:9999\n# comment\nCHAT_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	environ, err := withDotenv([]string{"CHAT_ADDR=:7000"}, path)
	require.NoError(t, err)
	cfg, err := Load(environ)
	require.NoError(t, err)

	require.Equal(t, ":7000", cfg.Addr, "the environment wins over the file")
	require.Equal(t, "from-dotenv-0123456789", cfg.JWTSecret)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestDotenvMissingFile(t *testing.T) {
	environ, err := withDotenv([]string{secret}, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	require.Equal(t, []string{secret}, environ)
}
