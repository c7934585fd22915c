package config

import (
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig builds a default configuration the way the binaries do at
// startup: Load on a missing path falls through to the defaults.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(validConfig(t)))
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log level", func(c *Config) { c.App.LogLevel = "trace" }},
		{"unknown environment", func(c *Config) { c.App.Environment = "qa" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"pool bounds inverted", func(c *Config) {
			c.Database.MinPoolSize = 20
			c.Database.MaxPoolSize = 5
		}},
		{"bias date wrong format", func(c *Config) { c.Bias.Date = "20250125" }},
		{"split ratios exceed one", func(c *Config) {
			c.Training.TrainRatio = 0.80
			c.Training.CalibrationRatio = 0.15
		}},
		{"production without ssl", func(c *Config) {
			c.App.Environment = "production"
			c.Database.SSLMode = "disable"
		}},
		{"production on mock store", func(c *Config) {
			c.App.Environment = "production"
			c.Database.SSLMode = "require"
			c.Database.Mode = "mock"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAllowsEmptyBiasDate(t *testing.T) {
	cfg := validConfig(t)
	cfg.Bias.Date = ""
	require.NoError(t, Validate(cfg))

	cfg.Bias.Date = "2025-01-25"
	require.NoError(t, Validate(cfg))
}

func TestParseSecretDataFromString(t *testing.T) {
	out := &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"database_user":"svc_keiba","database_password":"hunter2"}`),
	}
	secrets, err := parseSecretData(out)
	require.NoError(t, err)
	assert.Equal(t, "svc_keiba", secrets.DatabaseUser)
	assert.Equal(t, "hunter2", secrets.DatabasePassword)
}

func TestParseSecretDataFromBinary(t *testing.T) {
	out := &secretsmanager.GetSecretValueOutput{
		SecretBinary: []byte(`{"database_password":"hunter2"}`),
	}
	secrets, err := parseSecretData(out)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secrets.DatabasePassword)
	assert.Empty(t, secrets.DatabaseUser)
}

func TestParseSecretDataRequiresPayload(t *testing.T) {
	_, err := parseSecretData(&secretsmanager.GetSecretValueOutput{})
	assert.Error(t, err)
}

func TestOverlaySecretsKeepsConfigForEmptyFields(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.User = "from_file"
	cfg.Database.Password = "file_pass"

	overlaySecretsOnConfig(cfg, &SecretsOverlay{DatabasePassword: "rotated"})
	assert.Equal(t, "from_file", cfg.Database.User)
	assert.Equal(t, "rotated", cfg.Database.Password)

	overlaySecretsOnConfig(cfg, &SecretsOverlay{})
	assert.Equal(t, "from_file", cfg.Database.User)
	assert.Equal(t, "rotated", cfg.Database.Password)
}
