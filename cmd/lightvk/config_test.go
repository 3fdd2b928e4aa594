package main

import (
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
	assert.Equal(t, 0, cfg.Frames)
	assert.Equal(t, 5*time.Second, cfg.WaitTimeout)
	assert.False(t, cfg.Validation)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, time.Second/60, cfg.framePeriod())
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-width", "1280", "-height", "720",
		"-frames", "1000", "-fps", "0",
		"-validation", "-log-level", "debug",
		"-mesh", "cube.obj", "-mtl", "cube.mtl",
		"-pipeline-cache", "",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 720, cfg.Height)
	assert.Equal(t, 1000, cfg.Frames)
	assert.True(t, cfg.Validation)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "cube.obj", cfg.Mesh)
	assert.Equal(t, "cube.mtl", cfg.Material)
	assert.Empty(t, cfg.PipelineCache)
	assert.Zero(t, cfg.framePeriod())
}

func TestParseConfigRejects(t *testing.T) {
	for name, args := range map[string][]string{
		"zero width":      {"-width", "0"},
		"negative frames": {"-frames", "-1"},
		"negative fps":    {"-fps", "-5"},
		"negative wait":   {"-wait-timeout", "-1s"},
		"no shader":       {"-vert", ""},
		"mtl alone":       {"-mtl", "cube.mtl"},
		"bad level":       {"-log-level", "loud"},
		"stray argument":  {"extra"},
		"unknown flag":    {"-fullscreen"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseConfigHelp(t *testing.T) {
	_, err := parseConfig([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}
