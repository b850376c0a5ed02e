package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigMergesEnvOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  host: localhost\n  port: 5432\nmq:\n  url: amqp://base\n")
	writeFile(t, dir, "production.yaml", "db:\n  host: db.internal\n")

	cfgMap, err := LoadConfig("production", dir)
	require.NoError(t, err)

	var out struct {
		DB DBConfig `yaml:"db"`
		MQ MQConfig `yaml:"mq"`
	}
	require.NoError(t, Decode(cfgMap, &out))

	assert.Equal(t, "db.internal", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "amqp://base", out.MQ.URL)
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  password: ${DB_SECRET}\n  user: ${MAILPILOT_UNSET_VAR}\n")
	writeFile(t, dir, "secrets.env", "DB_SECRET=\"s3cret\"\n")

	cfgMap, err := LoadConfig("local", dir)
	require.NoError(t, err)

	var out struct {
		DB DBConfig `yaml:"db"`
	}
	require.NoError(t, Decode(cfgMap, &out))

	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, "${MAILPILOT_UNSET_VAR}", out.DB.User)
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestMergeMapsNested(t *testing.T) {
	dst := map[string]interface{}{"a": map[string]interface{}{"x": 1, "y": 2}, "b": 1}
	src := map[string]interface{}{"a": map[string]interface{}{"y": 3}}

	merged := mergeMaps(dst, src)

	assert.Equal(t, map[string]interface{}{"x": 1, "y": 3}, merged["a"])
	assert.Equal(t, 1, merged["b"])
}

func TestOverrideDBFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "envhost")
	t.Setenv("DB_PORT", "6543")

	cfg := DBConfig{Host: "localhost", Port: 5432}
	OverrideDBFromEnv(&cfg)

	assert.Equal(t, "envhost", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
}
