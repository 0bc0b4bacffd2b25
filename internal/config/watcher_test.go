package config

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unimem.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "nvapi-test"
	require.NoError(t, loader.Save(cfg))

	var reloads atomic.Int32
	var gotPort atomic.Int32
	w, err := NewWatcher(loader, zerolog.Nop(), func(next *Config) {
		gotPort.Store(int32(next.Server.Port))
		reloads.Add(1)
	})
	require.NoError(t, err)
	defer w.Stop()

	cfg.Server.Port = 9090
	require.NoError(t, loader.Save(cfg))

	require.Eventually(t, func() bool { return reloads.Load() > 0 },
		5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(9090), gotPort.Load())
}

func TestWatcherKeepsPreviousOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unimem.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "nvapi-test"
	require.NoError(t, loader.Save(cfg))

	var reloads atomic.Int32
	w, err := NewWatcher(loader, zerolog.Nop(), func(*Config) {
		reloads.Add(1)
	})
	require.NoError(t, err)
	defer w.Stop()

	// A config that fails validation must not reach the callback.
	cfg.Server.Port = -1
	require.NoError(t, loader.Save(cfg))

	time.Sleep(time.Second)
	assert.Equal(t, int32(0), reloads.Load())
}
