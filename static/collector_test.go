package static

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSource(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCollector_CopiesSourcesIntoRoot(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeSource(t, src, "css/site.css", "body { margin: 0 }")
	writeSource(t, src, "js/app.js", "console.log('hi')")
	writeSource(t, src, "robots.txt", "User-agent: *")

	collector := NewCollector([]string{src}, root, false, zap.NewNop().Sugar())
	result, err := collector.Collect()
	require.NoError(t, err)

	assert.Equal(t, 3, result.Copied)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.PostProcessed)

	data, err := os.ReadFile(filepath.Join(root, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0 }", string(data))
}

func TestCollector_SecondRunSkipsUnchangedFiles(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeSource(t, src, "css/site.css", "body { margin: 0 }")
	writeSource(t, src, "js/app.js", "console.log('hi')")

	collector := NewCollector([]string{src}, root, false, zap.NewNop().Sugar())

	first, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 2, first.Copied)

	second, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, second.Copied)
	assert.Equal(t, 2, second.Skipped)
}

func TestCollector_ChangedFileIsRecopied(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeSource(t, src, "css/site.css", "body { margin: 0 }")

	collector := NewCollector([]string{src}, root, false, zap.NewNop().Sugar())
	_, err := collector.Collect()
	require.NoError(t, err)

	// Same size, newer mtime: the destination is stale
	writeSource(t, src, "css/site.css", "body { margin: 1 }")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(src, "css", "site.css"), future, future))

	result, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Copied)

	data, err := os.ReadFile(filepath.Join(root, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 1 }", string(data))
}

func TestCollector_FirstSourceWinsOnCollision(t *testing.T) {
	app := t.TempDir()
	vendor := t.TempDir()
	root := t.TempDir()
	writeSource(t, app, "css/site.css", "app version")
	writeSource(t, vendor, "css/site.css", "vendor version")
	writeSource(t, vendor, "css/vendor.css", "vendor only")

	collector := NewCollector([]string{app, vendor}, root, false, zap.NewNop().Sugar())
	result, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Copied)

	data, err := os.ReadFile(filepath.Join(root, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "app version", string(data))
}

func TestCollector_MissingSourceFails(t *testing.T) {
	collector := NewCollector([]string{filepath.Join(t.TempDir(), "nope")}, t.TempDir(), false, zap.NewNop().Sugar())
	_, err := collector.Collect()
	require.Error(t, err)
}

func TestCollector_ManifestMode(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeSource(t, src, "css/site.css", "body { margin: 0 }")

	collector := NewCollector([]string{src}, root, true, zap.NewNop().Sugar())
	result, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Copied)
	assert.Equal(t, 1, result.PostProcessed)

	manifest, err := LoadManifest(root)
	require.NoError(t, err)
	hashed, ok := manifest["css/site.css"]
	require.True(t, ok)
	assert.Regexp(t, `^css/site\.[0-9a-f]{12}\.css$`, hashed)

	// The hashed copy exists and matches the original
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(hashed)))
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0 }", string(data))

	// Re-running rewrites neither the file nor the hashed copy
	second, err := collector.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, second.Copied)
	assert.Equal(t, 0, second.PostProcessed)
}

func TestCollector_ManifestChangesWithContent(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	writeSource(t, src, "app.js", "v1")

	collector := NewCollector([]string{src}, root, true, zap.NewNop().Sugar())
	_, err := collector.Collect()
	require.NoError(t, err)

	before, err := LoadManifest(root)
	require.NoError(t, err)

	writeSource(t, src, "app.js", "v2 longer content")
	_, err = collector.Collect()
	require.NoError(t, err)

	after, err := LoadManifest(root)
	require.NoError(t, err)
	assert.NotEqual(t, before["app.js"], after["app.js"])
}

func TestLoadManifest_MissingIsEmpty(t *testing.T) {
	manifest, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, manifest)
}

func TestLoadManifest_CorruptFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestName), []byte("{not json"), 0644))

	_, err := LoadManifest(root)
	require.Error(t, err)
}

func TestWriteManifest_Format(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, writeManifest(root, map[string]string{"a.css": "a.abc123def456.css"}))

	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	require.NoError(t, err)

	var mf manifestFile
	require.NoError(t, json.Unmarshal(data, &mf))
	assert.Equal(t, 1, mf.Version)
	assert.Equal(t, "a.abc123def456.css", mf.Paths["a.css"])
}

func TestHashedName(t *testing.T) {
	tests := []struct {
		rel      string
		hash     string
		expected string
	}{
		{"css/site.css", "abc123", "css/site.abc123.css"},
		{"robots.txt", "ff00ff", "robots.ff00ff.txt"},
		{"LICENSE", "1234ab", "LICENSE.1234ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, hashedName(tt.rel, tt.hash))
	}
}
