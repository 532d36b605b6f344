package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath(t *testing.T) {
	t.Run("uses ESCALCTL_CONFIG env var when set", func(t *testing.T) {
		customPath := "/custom/path/config.yaml"
		t.Setenv(EnvConfigPath, customPath)
		assert.Equal(t, customPath, DefaultConfigPath())
	})

	t.Run("uses user config dir when ESCALCTL_CONFIG not set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")

		result := DefaultConfigPath()
		assert.True(t, strings.HasSuffix(result, filepath.Join("escalctl", "config.yaml")) ||
			strings.HasSuffix(result, filepath.Join(".escalctl", "config.yaml")),
			"unexpected path: %s", result)
	})
}
