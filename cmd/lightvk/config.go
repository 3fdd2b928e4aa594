package main

import (
	"flag"
	"io"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Width, Height int

	// Frames stops the run after this many presented frames. Zero
	// runs until the window is closed.
	Frames int
	FPS    int

	WaitTimeout time.Duration
	Validation  bool

	VertexShader   string
	FragmentShader string

	Mesh     string
	Material string

	PipelineCache string
	LogLevel      slog.Level
}

func parseConfig(args []string, output io.Writer) (Config, error) {
	var cfg Config
	var logLevel string

	fs := flag.NewFlagSet("lightvk", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&cfg.Width, "width", 800, "window width")
	fs.IntVar(&cfg.Height, "height", 600, "window height")
	fs.IntVar(&cfg.Frames, "frames", 0, "stop after this many frames, 0 runs until the window is closed")
	fs.IntVar(&cfg.FPS, "fps", 60, "frame rate cap, 0 disables pacing")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", 5*time.Second, "longest wait for a frame slot before giving up, 0 waits forever")
	fs.BoolVar(&cfg.Validation, "validation", false, "enable the Khronos validation layer")
	fs.StringVar(&cfg.VertexShader, "vert", "shaders/triangle.vert.spv", "vertex shader SPIR-V")
	fs.StringVar(&cfg.FragmentShader, "frag", "shaders/triangle.frag.spv", "fragment shader SPIR-V")
	fs.StringVar(&cfg.Mesh, "mesh", "", "Wavefront OBJ mesh to draw instead of the triangle")
	fs.StringVar(&cfg.Material, "mtl", "", "material library for -mesh")
	fs.StringVar(&cfg.PipelineCache, "pipeline-cache", "pipeline_cache_data.bin", "pipeline cache file, empty disables")
	fs.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, errors.Newf("unexpected arguments %q", fs.Args())
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return cfg, errors.Wrapf(err, "-log-level %q", logLevel)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return errors.Newf("window size %dx%d must be positive", c.Width, c.Height)
	case c.Frames < 0:
		return errors.Newf("-frames %d is negative", c.Frames)
	case c.FPS < 0:
		return errors.Newf("-fps %d is negative", c.FPS)
	case c.WaitTimeout < 0:
		return errors.Newf("-wait-timeout %s is negative", c.WaitTimeout)
	case c.VertexShader == "" || c.FragmentShader == "":
		return errors.New("both -vert and -frag are required")
	case c.Material != "" && c.Mesh == "":
		return errors.WithHint(errors.New("-mtl given without -mesh"), "pass the OBJ file with -mesh")
	}
	return nil
}

// framePeriod is the minimum time between frames, or zero when
// pacing is off.
func (c Config) framePeriod() time.Duration {
	if c.FPS == 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}
