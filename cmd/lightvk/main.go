// Command lightvk opens a window and draws a static mesh with the
// frame engine until the window is closed or a frame limit is hit.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/unknowall/LightVK/driver/vk"
	"github.com/unknowall/LightVK/frame"
	"github.com/unknowall/LightVK/mesh"
	"github.com/unknowall/LightVK/mesh/obj"
	"github.com/unknowall/LightVK/scene"
)

//go:generate glslc shaders/triangle.vert -o shaders/triangle.vert.spv
//go:generate glslc shaders/triangle.frag -o shaders/triangle.frag.spv

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg    Config
	logger *slog.Logger

	window *sdl.Window
	device *vk.Device
	scene  *scene.Orchestrator
	engine *frame.Engine
}

func (app *App) Run() (err error) {
	vertShader, err := os.ReadFile(app.cfg.VertexShader)
	if err != nil {
		return errors.WithHint(errors.Wrap(err, "read vertex shader"), "compile the shaders with go generate ./cmd/lightvk")
	}
	fragShader, err := os.ReadFile(app.cfg.FragmentShader)
	if err != nil {
		return errors.WithHint(errors.Wrap(err, "read fragment shader"), "compile the shaders with go generate ./cmd/lightvk")
	}

	m := mesh.Triangle()
	if app.cfg.Mesh != "" {
		m, err = obj.Load(app.cfg.Mesh, app.cfg.Material)
		if err != nil {
			return err
		}
	}

	if err := app.initWindow(); err != nil {
		return err
	}
	defer app.cleanupWindow()

	app.device, err = vk.Open(vk.Config{
		Window:         app.window,
		AppName:        "LightVK",
		Validation:     app.cfg.Validation,
		VertexShader:   vertShader,
		FragmentShader: fragShader,
		PipelineCache:  app.cfg.PipelineCache,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, app.device.CloseAfter(app.engineErr()))
	}()

	sceneCfg := scene.DefaultConfig()
	sceneCfg.Mesh = m
	sceneCfg.Logger = app.logger
	app.scene, err = scene.Setup(app.device, sceneCfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, app.scene.TeardownAfter(app.engineErr()))
	}()

	waitTimeout := app.cfg.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = frame.NoTimeout
	}
	app.engine, err = frame.NewEngine(app.device, app.scene.Surface(), app.scene, frame.Config{
		WaitTimeout: waitTimeout,
		ClearColor:  mgl32.Vec4{0, 0, 0, 1},
	})
	if err != nil {
		return err
	}

	loopErr := app.mainLoop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := app.engine.Shutdown(ctx)
	app.logStats()

	return errors.CombineErrors(loopErr, shutdownErr)
}

// engineErr is the error the engine stopped on, if any. After one,
// the device may be hung and must not be waited on.
func (app *App) engineErr() error {
	if app.engine == nil {
		return nil
	}
	return app.engine.Err()
}

func (app *App) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}

	window, err := sdl.CreateWindow("LightVK", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.cfg.Width), int32(app.cfg.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return err
	}
	app.window = window
	return nil
}

func (app *App) cleanupWindow() {
	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}

func (app *App) mainLoop() error {
	rendering := true
	period := app.cfg.framePeriod()

appLoop:
	for app.cfg.Frames == 0 || app.engine.Frame() < uint64(app.cfg.Frames) {
		start := hrtime.Now()

		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
					app.engine.Invalidate()
				case sdl.WINDOWEVENT_RESIZED:
					w, h := app.window.GetSize()
					rendering = w > 0 && h > 0
					app.engine.Invalidate()
				}
			}
		}

		if !rendering {
			sdl.Delay(100)
			continue
		}

		if err := app.engine.DrawFrame(); err != nil {
			return err
		}

		if elapsed := hrtime.Since(start); elapsed < period {
			time.Sleep(period - elapsed)
		}
	}

	return nil
}

func (app *App) logStats() {
	stats := app.engine.Stats()
	app.logger.Info("run finished",
		"frames", stats.Frames,
		"submissions", stats.Submissions,
		"rebuilds", stats.Rebuilds,
		"stale_acquires", stats.StaleAcquires,
		"stale_presents", stats.StalePresents,
		"mean_frame", stats.MeanFrame(),
		"max_frame", stats.MaxFrame,
		"mean_wait", stats.MeanWait(),
		"max_wait", stats.MaxWait)
}

func main() {
	runtime.LockOSThread()

	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	frame.SetLogger(logger)

	app := &App{cfg: cfg, logger: logger}
	if err := app.Run(); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
