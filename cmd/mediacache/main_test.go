package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KiB", formatSize(1536))
	assert.Equal(t, "64.0 MiB", formatSize(64<<20))
}

func TestFetchAndCacheCommands(t *testing.T) {
	// Arrange: a PNG on disk, served through the file source.
	dir := t.TempDir()
	t.Setenv("MEDIACACHE_CACHE_DISK_PATH", filepath.Join(dir, "media.db"))
	t.Setenv("MEDIACACHE_PROVIDER_FILE_DIR", filepath.Join(dir, "files"))
	t.Setenv("MEDIACACHE_LOG_LEVEL", "error")

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2))))
	picture := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(picture, img.Bytes(), 0o644))
	out := filepath.Join(dir, "out.png")

	run := func(args ...string) string {
		t.Helper()
		widthFlag, heightFlag, outFlag = 0, 0, ""
		var stdout bytes.Buffer
		root := NewRootCmd()
		root.SetOut(&stdout)
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		return stdout.String()
	}

	// Act
	run("fetch", "file://"+picture, "--out", out)
	stats := run("cache", "stats")
	run("cache", "clear")
	cleared := run("cache", "stats")

	// Assert
	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, img.Bytes(), written)
	assert.Contains(t, stats, "disk:")
	assert.Contains(t, stats, "1 items")
	assert.Contains(t, cleared, "0 items")
}

func TestFetchSizeRequiresBothDimensions(t *testing.T) {
	widthFlag, heightFlag = 10, 0
	t.Cleanup(func() { widthFlag, heightFlag = 0, 0 })
	_, err := fetchSize()
	assert.Error(t, err)
}
