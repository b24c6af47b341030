package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httpsfirst/stsguard/internal/sts/infra/config"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		BackendCacheSize: 64,
		DBPath:           filepath.Join(t.TempDir(), "policy.db"),
		Env:              "dev",
		LogLevel:         "error",
		MaxAge:           300,
		Port:             0,
	}
}

func TestBuildApplication(t *testing.T) {
	cfg := testConfig(t)

	app, err := buildApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)
	defer app.store.Close()

	assert.NotNil(t, app.engine)
	assert.NotNil(t, app.control)
	assert.Equal(t, 0, app.store.Len())
}

func TestBuildApplication_BadDBPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "nested", "policy.db")

	_, err := buildApplication(cfg)
	assert.Error(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 18275

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
