package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:     AppConfig{Environment: "development"},
		Logger:  LoggerConfig{Level: "info"},
		Data:    DataConfig{Dir: "/some/path"},
		Store:   StoreConfig{Driver: DriverBadger},
		Catalog: CatalogConfig{BaseURL: DefaultCatalogBaseURL, PageSize: 5},
	}
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "DATA_DIR", "STORE_DRIVER", "DATABASE_URL",
		"ACCESS_TOKEN_DURATION", "SESSION_DURATION", "SERVER_PORT",
		"SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT",
		"CORS_ORIGINS", "CATALOG_BASE_URL", "CATALOG_TIMEOUT", "CATALOG_PAGE_SIZE",
		"CATALOG_CACHE_TTL", "CATALOG_RATE", "CATALOG_BURST",
		"SESSION_IDLE_TIMEOUT", "READY_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_AllLogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"DEBUG", true}, // case insensitive
		{"trace", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_StoreDriver(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		wantErr string
	}{
		{"badger", DriverBadger, "", ""},
		{"sqlite", DriverSQLite, "", ""},
		{"postgres with dsn", DriverPostgres, "postgres://localhost/bookshelf", ""},
		{"postgres without dsn", DriverPostgres, "", "DATABASE_URL is required"},
		{"unknown", "mongo", "", "invalid store driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Store = StoreConfig{Driver: tt.driver, DatabaseURL: tt.dsn}

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CatalogPageSize(t *testing.T) {
	cfg := validConfig()
	cfg.Catalog.PageSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page size")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)

	homeDir, _ := os.UserHomeDir() //nolint:errcheck // Test setup
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, filepath.Join(homeDir, ".bookshelf"), cfg.Data.Dir)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DefaultCatalogBaseURL, cfg.Catalog.BaseURL)
	assert.Equal(t, 5, cfg.Catalog.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.InDelta(t, 5.0, cfg.Catalog.RateLimit, 0.0001)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenDuration)
	assert.Equal(t, 720*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sessions.ReadyTimeout)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("CATALOG_PAGE_SIZE", "20")
	t.Setenv("STORE_DRIVER", "SQLite")

	cfg, err := Load([]string{
		"-env-file", filepath.Join(t.TempDir(), "missing.env"),
		"-log-level", "debug",
		"-catalog-url", "http://catalog.local/",
		"-data-dir", t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 20, cfg.Catalog.PageSize)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "http://catalog.local", cfg.Catalog.BaseURL, "trailing slash is trimmed")
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("READY_TIMEOUT", "soon")

	_, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ready timeout")
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ENV=staging\nCATALOG_BURST=3\n"), 0o600))

	cfg, err := Load([]string{"-env-file", envFile})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, 3, cfg.Catalog.Burst)
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir() //nolint:errcheck // Test setup

	tests := []struct {
		name string
		in   string
		def  string
		want string
	}{
		{"empty uses default", "", "/default", "/default"},
		{"tilde", "~/my-data", "", filepath.Join(homeDir, "my-data")},
		{"absolute", "/absolute/path/to/data", "", "/absolute/path/to/data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandPath(tt.in, tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("relative becomes absolute", func(t *testing.T) {
		got, err := expandPath("relative/path", "")
		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(got))
		assert.Contains(t, got, "relative/path")
	})
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, splitList(" http://a, ,http://b "))
	assert.Nil(t, splitList(""))
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "VALID_KEY=valid_value\nINVALID LINE WITHOUT EQUALS\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	err := loadEnvFile(envFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadEnvFile_ExistingEnvVarsNotOverwritten(t *testing.T) {
	t.Setenv("BOOKSHELF_TEST_VAR", "original-value")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`BOOKSHELF_TEST_VAR="new-value"`), 0o600))

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "original-value", os.Getenv("BOOKSHELF_TEST_VAR"))
}
