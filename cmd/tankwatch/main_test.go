package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/config"
	"github.com/banshee-data/tankwatch/internal/feeder"
)

func TestOverridesApply(t *testing.T) {
	cfg := config.Empty()
	cfg.StreamURL = config.String("rtsp://tank.local/stream")

	err := overrides{
		DBPath:    "/var/lib/tankwatch/runs.db",
		OutputDir: "/srv/tankwatch",
		AutoFeed:  "ready",
	}.apply(cfg)
	require.NoError(t, err)

	assert.Equal(t, "rtsp://tank.local/stream", cfg.GetStreamURL())
	assert.Equal(t, "/var/lib/tankwatch/runs.db", cfg.GetDBPath())
	assert.Equal(t, "/srv/tankwatch", cfg.GetOutputDir())
	assert.Equal(t, feeder.AutoReady, cfg.GetAutoFeed())
}

func TestOverridesApply_Empty(t *testing.T) {
	cfg := config.Empty()
	require.NoError(t, overrides{}.apply(cfg))
	assert.Equal(t, config.DefaultDBPath, cfg.GetDBPath())
	assert.Equal(t, feeder.AutoDetected, cfg.GetAutoFeed())
}

func TestOverridesApply_BadAutoFeed(t *testing.T) {
	cfg := config.Empty()
	assert.Error(t, overrides{AutoFeed: "always"}.apply(cfg))
	assert.Nil(t, cfg.AutoFeed)
}
