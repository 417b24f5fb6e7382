package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cachefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesHumanReadableDurations(t *testing.T) {
	path := writeConfig(t, `
sourceRoot: /mnt/slow
cacheRoot: /var/cache/cachefs
preloadOpen: 1500ms
cleanAfter: 6h
cleanInterval: 45m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.PreloadOpen)
	assert.Equal(t, 6*time.Hour, cfg.CleanAfter)
	assert.Equal(t, 45*time.Minute, cfg.CleanInterval)
}

func TestLoadOmittedDurationsKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
sourceRoot: /mnt/slow
cacheRoot: /var/cache/cachefs
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.PreloadOpen, cfg.PreloadOpen)
	assert.Equal(t, def.CleanAfter, cfg.CleanAfter)
	assert.Equal(t, def.CleanInterval, cfg.CleanInterval)
}

func TestLoadRejectsUnparseableDuration(t *testing.T) {
	path := writeConfig(t, `
sourceRoot: /mnt/slow
cacheRoot: /var/cache/cachefs
cleanAfter: 21600
`)

	_, err := Load(path)
	assert.Error(t, err, "a bare number is not a valid Go duration string and must be rejected, not silently read as nanoseconds")
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	path := writeConfig(t, `
sourceRoot: /mnt/slow
cacheRoot: /var/cache/cachefs
preloadSiblings: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.PreloadSiblings)
	assert.Equal(t, Default().PreloadRead, cfg.PreloadRead)
}
