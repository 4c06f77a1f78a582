package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "olivaw.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 25, cfg.Engine.MaxSteps)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("should load values from the file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "olivaw.json")
		content := `{
			"engine": {"max_steps": 10, "max_history_turns": 5},
			"auth": [{"id": "p1", "provider": "openai", "api_key": "sk-test", "priority": 1}]
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Engine.MaxSteps)
		assert.Equal(t, 5, cfg.Engine.MaxHistoryTurns)
		require.Len(t, cfg.Auth, 1)
		assert.Equal(t, "p1", cfg.Auth[0].ID)
		// Untouched sections keep their defaults.
		assert.Contains(t, cfg.Providers, "anthropic")
	})

	t.Run("should reject malformed files", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "olivaw.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestSave(t *testing.T) {
	t.Run("should round-trip through save and load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "olivaw.json")
		loader := NewLoader(path)

		cfg := DefaultConfig()
		cfg.Engine.MaxSteps = 7
		cfg.Auth = []AuthProfileConfig{
			{ID: "main", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
		}
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 7, loaded.Engine.MaxSteps)
		require.Len(t, loaded.Auth, 1)
		assert.Equal(t, "main", loaded.Auth[0].ID)
	})
}
