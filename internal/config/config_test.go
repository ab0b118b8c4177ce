package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, DefaultStaticCache, cfg.StaticCache)
	require.Equal(t, DefaultDynamicCache, cfg.DynamicCache)
	require.Equal(t, DefaultManifest, cfg.Manifest)
	require.Equal(t, DefaultAPICachePatterns, cfg.APICachePatterns)
	require.Equal(t, "memory", cfg.StoreBackend)
	require.Equal(t, 5*time.Second, cfg.ConnectivityInterval)
	require.Zero(t, cfg.ReplayAlertAfter)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STATIC_MANIFEST", "/, /app.js ,")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CONNECTIVITY_INTERVAL", "250ms")
	t.Setenv("REPLAY_ALERT_AFTER", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"/", "/app.js"}, cfg.Manifest)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 250*time.Millisecond, cfg.ConnectivityInterval)
	require.Equal(t, 3, cfg.ReplayAlertAfter)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	doc := "static_cache: unipass-static-v2\nmanifest:\n  - /\n  - /manifest.json\napi_cache_patterns:\n  - /api/plans\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("EDGE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "unipass-static-v2", cfg.StaticCache)
	require.Equal(t, DefaultDynamicCache, cfg.DynamicCache)
	require.Equal(t, []string{"/", "/manifest.json"}, cfg.Manifest)
	require.Equal(t, []string{"/api/plans"}, cfg.APICachePatterns)
}

func TestValidateRejectsBadBackends(t *testing.T) {
	t.Setenv("STORE_BACKEND", "badger")
	_, err := Load()
	require.ErrorContains(t, err, "DATA_DIR")

	t.Setenv("STORE_BACKEND", "sqlite")
	_, err = Load()
	require.ErrorContains(t, err, "unknown STORE_BACKEND")
}

func TestValidateRejectsSharedCacheName(t *testing.T) {
	t.Setenv("STATIC_CACHE", "same")
	t.Setenv("DYNAMIC_CACHE", "same")
	_, err := Load()
	require.Error(t, err)
}
