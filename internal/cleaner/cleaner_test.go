package cleaner

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanEvictsOnlyStaleNonIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))

	old := filepath.Join(root, "a", "02.flac")
	fresh := filepath.Join(root, "a", "03.flac")
	kept := filepath.Join(root, "a", "01.flac")

	for _, p := range []string{old, fresh, kept} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))
	require.NoError(t, os.Chtimes(kept, oldTime, oldTime))

	evict, err := Scan(root, regexp.MustCompile(`^01\.flac$`), time.Hour)
	require.NoError(t, err)

	assert.Contains(t, evict, string(filepath.Separator)+filepath.Join("a", "02.flac"))
	assert.NotContains(t, evict, string(filepath.Separator)+filepath.Join("a", "01.flac"), "ignore filter must protect 01.flac")
	assert.NotContains(t, evict, string(filepath.Separator)+filepath.Join("a", "03.flac"), "fresh file must survive")
}

func TestScanMissingRootErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"), nil, time.Hour)
	assert.Error(t, err)
}
