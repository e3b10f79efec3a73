package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArtifactStore_ContentAddressed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalArtifactStore(dir, "http://localhost:8000/")
	require.NoError(t, err)
	ctx := testContext(t)

	name1, url1, err := store.Put(ctx, "image/png", []byte("pixels"))
	require.NoError(t, err)
	name2, url2, err := store.Put(ctx, "image/png", []byte("pixels"))
	require.NoError(t, err)

	assert.Equal(t, name1, name2)
	assert.Equal(t, url1, url2)
	assert.True(t, strings.HasSuffix(name1, ".png"))
	assert.Len(t, strings.TrimSuffix(name1, ".png"), 16)
	assert.Equal(t, "http://localhost:8000/static/assets/"+name1, url1)

	data, err := os.ReadFile(filepath.Join(dir, name1))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestLocalArtifactStore_RejectsEmpty(t *testing.T) {
	store, err := NewLocalArtifactStore(t.TempDir(), "")
	require.NoError(t, err)

	_, _, err = store.Put(testContext(t), "image/png", nil)
	assert.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".webp", extensionFor("IMAGE/WEBP"))
	assert.Equal(t, ".bin", extensionFor("application/octet-stream"))
}
