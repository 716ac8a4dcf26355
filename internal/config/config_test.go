package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {
			"server_address": ":9000",
			"active_provider": "openai",
			"min_workers": 2,
			"max_workers": 8
		},
		"databases": {
			"sqlite3": {"dsn": "data/app.db"},
			"mysql": {"host": "db.internal", "port": 3306, "username": "svc", "db_name": "chat"}
		},
		"providers": {
			"openai": {"api_key": "sk-test", "model": "gpt-4o-mini"}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "openai", cfg.BasicConfig.ActiveProvider)
	assert.Equal(t, 2, cfg.BasicConfig.MinWorkers)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)

	// relative sqlite DSNs resolve next to the config file
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data/app.db"), cfg.Databases["sqlite3"].DSN)
	// hosted databases keep their DSN field untouched
	assert.Equal(t, "db.internal", cfg.Databases["mysql"].Host)
}

func TestLoadKeepsSpecialDSNs(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"active_provider": "openai"},
		"databases": {
			"sqlite3": {"dsn": ":memory:"},
			"sqlite_uri": {"dsn": "file:test.db?cache=shared"}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "file:test.db?cache=shared", cfg.Databases["sqlite_uri"].DSN)
}

func TestLoadRequiresActiveProvider(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {}}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active_provider")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}
