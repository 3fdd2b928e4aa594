// Package frame drives the per-frame loop: wait for a slot, acquire a
// swap image, record and submit, present.
package frame

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"golang.org/x/sync/errgroup"

	"github.com/unknowall/LightVK/driver"
)

// NoTimeout makes the slot wait block until the GPU is done with the
// slot.
const NoTimeout = driver.NoTimeout

// DefaultWaitTimeout is the slot wait bound used by DefaultConfig.
// A zero Config.WaitTimeout is not replaced by it; zero polls.
const DefaultWaitTimeout = 5 * time.Second

// ErrClosed is returned by DrawFrame after Shutdown.
var ErrClosed = errors.New("frame: engine is shut down")

// Scene is the set of static resources the engine draws with.
type Scene interface {
	RenderPass() driver.RenderPass
	Pipeline() driver.Pipeline
	VertexBuffer() driver.Buffer
	VertexCount() int

	// Rebuild recreates the swap surface and anything that depends
	// on its extent. It is only called with the device idle.
	Rebuild() error
}

type Config struct {
	// WaitTimeout bounds how long DrawFrame waits for a slot to be
	// released by the GPU. Zero polls. NoTimeout waits forever.
	WaitTimeout time.Duration
	ClearColor  mgl32.Vec4
}

// DefaultConfig clears to opaque black and waits at most
// DefaultWaitTimeout for a slot.
func DefaultConfig() Config {
	return Config{
		WaitTimeout: DefaultWaitTimeout,
		ClearColor:  mgl32.Vec4{0, 0, 0, 1},
	}
}

// Engine owns the frame slots and the frame counter. It must be used
// from a single goroutine.
type Engine struct {
	dev   driver.Device
	surf  driver.Surface
	scene Scene
	cfg   Config
	rec   Recorder

	slots []Slot
	frame uint64

	stale  bool
	err    error
	closed bool
	stats  Stats
}

// NewEngine creates one slot per image of surf.
func NewEngine(dev driver.Device, surf driver.Surface, scene Scene, cfg Config) (*Engine, error) {
	if dev == nil || surf == nil || scene == nil {
		return nil, errors.New("frame: device, surface and scene are required")
	}

	slots, err := createSlots(dev, surf.ImageCount())
	if err != nil {
		return nil, errors.Wrap(err, "frame: create slots")
	}

	e := &Engine{
		dev:   dev,
		surf:  surf,
		scene: scene,
		cfg:   cfg,
		rec:   NewRecorder(dev),
		slots: slots,
	}
	e.stats.SlotWaits = make([]uint64, len(slots))

	Logger().Info("frame engine ready", "slots", len(slots), "extent", surf.Extent().String())
	return e, nil
}

// Frame returns the number of frames presented so far.
func (e *Engine) Frame() uint64 { return e.frame }

// Slot returns the index of the slot the next frame will use.
func (e *Engine) Slot() int {
	if len(e.slots) == 0 {
		return 0
	}
	return int(e.frame % uint64(len(e.slots)))
}

func (e *Engine) SlotCount() int { return len(e.slots) }

func (e *Engine) Stats() Stats { return e.stats.clone() }

// Err returns the error that stopped the engine, if any, including a
// failed Shutdown drain.
func (e *Engine) Err() error { return e.err }

// Invalidate marks the swap surface as stale. The next DrawFrame
// rebuilds it before touching any slot.
func (e *Engine) Invalidate() {
	e.stale = true
}

func (e *Engine) fail(err error) error {
	e.err = err
	Logger().Error("frame engine stopped", "frame", e.frame, "err", err)
	return err
}

// DrawFrame renders and presents one frame. A stale surface is
// rebuilt and reported as success; the frame counter only advances
// when a frame is presented. Any other error is fatal: it is returned
// from this and every later call without issuing more GPU work.
func (e *Engine) DrawFrame() error {
	if e.err != nil {
		return e.err
	}
	if e.closed {
		return ErrClosed
	}

	if e.stale {
		if err := e.rebuild(); err != nil {
			return e.fail(err)
		}
	}

	start := hrtime.Now()
	idx := e.Slot()
	slot := e.slots[idx]
	step := func(name string, err error) error {
		return errors.Wrapf(err, "frame %d slot %d: %s", e.frame, idx, name)
	}

	if err := e.dev.WaitCompletion(slot.InFlight, e.cfg.WaitTimeout); err != nil {
		if errors.Is(err, driver.ErrTimeout) {
			err = errors.WithHint(err, "the device did not finish the slot's previous frame; it may be hung")
		}
		return e.fail(step("wait", err))
	}
	e.stats.observeWait(idx, hrtime.Since(start))

	if err := e.dev.ResetCompletion(slot.InFlight); err != nil {
		return e.fail(step("reset fence", err))
	}

	image, err := e.surf.AcquireNext(slot.ImageAvailable)
	if errors.Is(err, driver.ErrSurfaceStale) {
		e.stats.StaleAcquires++
		Logger().Warn("surface stale on acquire", "frame", e.frame, "slot", idx)
		return e.recover()
	} else if err != nil {
		return e.fail(step("acquire", err))
	}

	Logger().Debug("frame", "frame", e.frame, "slot", idx, "image", image)

	err = e.rec.Record(slot.Cmd, Target{
		RenderPass:   e.scene.RenderPass(),
		Framebuffer:  e.surf.Framebuffer(image),
		Pipeline:     e.scene.Pipeline(),
		VertexBuffer: e.scene.VertexBuffer(),
		VertexCount:  e.scene.VertexCount(),
		Extent:       e.surf.Extent(),
		ClearColor:   e.cfg.ClearColor,
	})
	if err != nil {
		return e.fail(step("record", err))
	}

	err = e.dev.Submit(e.dev.GraphicsQueue(), driver.SubmitInfo{
		Wait:       []driver.Semaphore{slot.ImageAvailable},
		WaitStages: []driver.PipelineStage{driver.StageColorAttachmentOutput},
		Buffers:    []driver.CommandBuffer{slot.Cmd},
		Signal:     []driver.Semaphore{slot.RenderFinished},
		Completion: slot.InFlight,
	})
	if err != nil {
		return e.fail(step("submit", err))
	}
	e.stats.Submissions++

	err = e.surf.Present(e.dev.PresentQueue(), image, slot.RenderFinished)
	if errors.Is(err, driver.ErrSurfaceStale) {
		e.stats.StalePresents++
		Logger().Warn("surface stale on present", "frame", e.frame, "slot", idx)
		return e.recover()
	} else if err != nil {
		return e.fail(step("present", err))
	}

	e.frame++
	e.stats.observeFrame(hrtime.Since(start))
	return nil
}

func (e *Engine) recover() error {
	if err := e.rebuild(); err != nil {
		return e.fail(err)
	}
	return nil
}

// rebuild drains the device, rebuilds the scene and replaces every
// slot. Fresh slots start with signaled fences, which also covers a
// fence that was reset for a frame that never got submitted.
func (e *Engine) rebuild() error {
	if err := e.dev.WaitIdle(); err != nil {
		return errors.Wrap(err, "rebuild: wait idle")
	}
	if err := e.scene.Rebuild(); err != nil {
		return errors.Wrap(err, "rebuild: scene")
	}

	slots, err := createSlots(e.dev, e.surf.ImageCount())
	if err != nil {
		return errors.Wrap(err, "rebuild")
	}
	old := e.slots
	e.slots = slots
	releaseSlots(e.dev, old)

	e.stale = false
	e.stats.Rebuilds++
	e.stats.SlotWaits = make([]uint64, len(slots))

	Logger().Info("surface rebuilt", "frame", e.frame, "slots", len(slots), "extent", e.surf.Extent().String())
	return nil
}

// Run draws frames until n have been attempted or ctx is done. n <= 0
// means no limit.
func (e *Engine) Run(ctx context.Context, n int) error {
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.DrawFrame(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown waits for every in-flight frame and releases the slots.
// If the engine stopped on an error the wait is skipped, since the
// device may never complete. A wait that fails or is cut short by ctx
// becomes the engine's error, so Err tells callers not to wait on the
// device either. Calling Shutdown again has no effect.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	var err error
	if e.err == nil {
		err = e.drain(ctx)
		if err != nil {
			e.err = err
		}
	}

	releaseSlots(e.dev, e.slots)
	e.slots = nil

	Logger().Info("frame engine shut down",
		"frames", e.stats.Frames,
		"rebuilds", e.stats.Rebuilds,
		"mean_frame", e.stats.MeanFrame().String(),
		"mean_wait", e.stats.MeanWait().String())
	return err
}

func (e *Engine) drain(ctx context.Context) error {
	timeout := e.cfg.WaitTimeout
	if timeout <= 0 {
		timeout = NoTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), 0))
	}

	var g errgroup.Group
	for i, s := range e.slots {
		i, fence := i, s.InFlight
		g.Go(func() error {
			return errors.Wrapf(e.dev.WaitCompletion(fence, timeout), "slot %d", i)
		})
	}

	// A deadline already bounds every wait, so only cancellation
	// abandons them. Abandoned waits end on their own timeout.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrap(ctx.Err(), "drain")
		}
		err = <-done
	}
	if err != nil {
		return errors.Wrap(err, "drain")
	}

	return errors.Wrap(e.dev.WaitIdle(), "drain: wait idle")
}
