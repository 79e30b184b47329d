package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSecretAbsentMeansDisabled(t *testing.T) {
	t.Setenv(EnvCacheSecret, "")
	secret, ok := CacheSecret()
	assert.Empty(t, secret)
	assert.False(t, ok)
}

func TestCacheSecretPresent(t *testing.T) {
	t.Setenv(EnvCacheSecret, "s3cr3t")
	secret, ok := CacheSecret()
	assert.Equal(t, "s3cr3t", secret)
	assert.True(t, ok)
}

func TestGetMaxParallelFallsBackOnInvalid(t *testing.T) {
	t.Setenv(EnvMaxParallel, "not-a-number")
	assert.Equal(t, 4, GetMaxParallel(4))

	t.Setenv(EnvMaxParallel, "0")
	assert.Equal(t, 4, GetMaxParallel(4))

	t.Setenv(EnvMaxParallel, "8")
	assert.Equal(t, 8, GetMaxParallel(4))
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"52428800": 52428800,
		"50K":      50 * 1024,
		"50MB":     50 * 1024 * 1024,
		"1G":       1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseByteSize("nonsense")
	assert.Error(t, err)
}

func TestParseDurationClamped(t *testing.T) {
	assert.Equal(t, 5*time.Minute, ParseDurationClamped("X", "", 5*time.Minute, time.Minute, time.Hour))
	assert.Equal(t, time.Minute, ParseDurationClamped("X", "1s", 5*time.Minute, time.Minute, time.Hour))
	assert.Equal(t, time.Hour, ParseDurationClamped("X", "3h", 5*time.Minute, time.Minute, time.Hour))
	assert.Equal(t, 90*time.Second, ParseDurationClamped("X", "90s", 5*time.Minute, time.Minute, time.Hour))
}

func TestNewLayoutDefaultsCacheUnderBakeDir(t *testing.T) {
	root := "/srv/myproject"
	l := NewLayout(root)
	assert.Equal(t, filepath.Join(root, ".bake"), l.BakeDir)
	assert.Equal(t, filepath.Join(root, ".bake", "cache"), l.CacheDir)
	assert.Equal(t, filepath.Join(l.CacheDir, "blobs"), l.BlobsDir)
	assert.Equal(t, filepath.Join(l.CacheDir, "ac"), l.ACDir)
}

func TestNewLayoutHonorsCacheDirOverride(t *testing.T) {
	t.Setenv(EnvCacheDir, "/tmp/shared-bake-cache")
	l := NewLayout("/srv/myproject")
	assert.Equal(t, "/tmp/shared-bake-cache", l.CacheDir)
}

func TestLogPath(t *testing.T) {
	got := LogPath("/srv/myproject/cookbooks/build", "app")
	assert.Equal(t, "/srv/myproject/cookbooks/build/.bake/logs/app.log", got)
}
