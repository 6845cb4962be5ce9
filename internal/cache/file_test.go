package cache_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/pinpoint/internal/cache"
	"github.com/UnknownOlympus/pinpoint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	defer filet.CleanUp(t)
	logger := slog.Default()
	ctx := t.Context()

	t.Run("missing file yields empty cache", func(t *testing.T) {
		dir := filet.TmpDir(t, "")

		store, err := cache.Open(filepath.Join(dir, "geocode_cache.json"), logger)

		require.NoError(t, err)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("empty file yields empty cache", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		filet.File(t, path, "")

		store, err := cache.Open(path, logger)

		require.NoError(t, err)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("malformed file fails loudly", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		filet.File(t, path, `{"broken": `)

		store, err := cache.Open(path, logger)

		require.Error(t, err)
		require.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to parse cache file")
	})

	t.Run("null document fails at load", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		filet.File(t, path, "null")

		store, err := cache.Open(path, logger)

		require.ErrorIs(t, err, cache.ErrNotAnObject)
		require.Nil(t, store)
	})

	t.Run("invalid entries fail at load", func(t *testing.T) {
		for name, content := range map[string]string{
			"latitude out of range": `{"q": {"lat": 95, "lng": 34.7818}}`,
			"missing longitude":     `{"q": {"lat": 32.0853}}`,
			"empty object":          `{"q": {}}`,
		} {
			t.Run(name, func(t *testing.T) {
				dir := filet.TmpDir(t, "")
				path := filepath.Join(dir, "geocode_cache.json")
				filet.File(t, path, content)

				store, err := cache.Open(path, logger)

				require.ErrorIs(t, err, cache.ErrInvalidEntry)
				require.Nil(t, store)
				assert.Contains(t, err.Error(), "failed to parse cache file")
			})
		}
	})

	t.Run("existing entries and misses are loaded", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		filet.File(t, path, `{
  "123 Main St, ישראל": {"lat": 32.0853, "lng": 34.7818},
  "nowhere, ישראל": null
}`)

		store, err := cache.Open(path, logger)
		require.NoError(t, err)
		assert.Equal(t, 2, store.Len())

		coords, found, err := store.Get(ctx, "123 Main St, ישראל")
		require.NoError(t, err)
		require.True(t, found)
		require.NotNil(t, coords)
		assert.InEpsilon(t, 32.0853, coords.Latitude, 0.000001)
		assert.InEpsilon(t, 34.7818, coords.Longitude, 0.000001)

		coords, found, err = store.Get(ctx, "nowhere, ישראל")
		require.NoError(t, err)
		assert.True(t, found, "a null entry is a confirmed miss")
		assert.Nil(t, coords)

		coords, found, err = store.Get(ctx, "never asked")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, coords)
	})
}

func TestFileStore_Put(t *testing.T) {
	defer filet.CleanUp(t)
	logger := slog.Default()
	ctx := t.Context()

	t.Run("every put is persisted immediately", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		store, err := cache.Open(path, logger)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, "123 Main St, ישראל", &models.Coordinates{Latitude: 32.0853, Longitude: 34.7818}))

		reloaded, err := cache.Open(path, logger)
		require.NoError(t, err)
		coords, found, err := reloaded.Get(ctx, "123 Main St, ישראל")
		require.NoError(t, err)
		require.True(t, found)
		assert.InEpsilon(t, 32.0853, coords.Latitude, 0.000001)

		require.NoError(t, store.Put(ctx, "nowhere, ישראל", nil))

		reloaded, err = cache.Open(path, logger)
		require.NoError(t, err)
		coords, found, err = reloaded.Get(ctx, "nowhere, ישראל")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, coords)
	})

	t.Run("existing keys are never overwritten", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		store, err := cache.Open(path, logger)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, "q", nil))
		require.NoError(t, store.Put(ctx, "q", &models.Coordinates{Latitude: 1, Longitude: 2}))

		coords, found, err := store.Get(ctx, "q")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, coords)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("document keeps non-ASCII keys readable", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		path := filepath.Join(dir, "geocode_cache.json")
		store, err := cache.Open(path, logger)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, "דיזנגוף 99, ישראל", nil))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"דיזנגוף 99, ישראל": null`)
	})

	t.Run("write failure is reported", func(t *testing.T) {
		dir := filet.TmpDir(t, "")
		store, err := cache.Open(filepath.Join(dir, "missing", "geocode_cache.json"), logger)
		require.NoError(t, err)

		err = store.Put(ctx, "q", nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to write cache file")
	})
}
