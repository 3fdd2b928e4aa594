// Package scene builds the static resources a frame draws with and
// tears them down again in reverse order.
package scene

import (
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
	"github.com/unknowall/LightVK/mesh"
)

type Config struct {
	Mesh        mesh.Mesh
	Descriptors []driver.DescriptorBinding

	// Logger receives lifecycle messages. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig draws the built-in triangle and declares a single
// combined image sampler for the fragment stage.
func DefaultConfig() Config {
	return Config{
		Mesh: mesh.Triangle(),
		Descriptors: []driver.DescriptorBinding{
			{Binding: 0, Type: driver.DescriptorCombinedImageSampler, Count: 1, Stages: driver.ShaderFragment},
		},
	}
}

// Orchestrator owns the render pass, swap surface, vertex buffer,
// descriptor set and pipeline of a scene. It implements frame.Scene.
type Orchestrator struct {
	f   driver.Factory
	cfg Config
	log *slog.Logger

	renderPass     driver.RenderPass
	surface        driver.SwapSurface
	vertexBuffer   driver.Buffer
	vertexCount    int
	descriptorSet  driver.DescriptorSet
	pipeline       driver.Pipeline
	pipelineExtent driver.Extent2D

	release []func()
	torn    bool
}

func (o *Orchestrator) push(fn func()) {
	o.release = append(o.release, fn)
}

func (o *Orchestrator) releaseAll() {
	for i := len(o.release) - 1; i >= 0; i-- {
		o.release[i]()
	}
	o.release = nil
}

// Setup creates every resource of the scene. If any step fails,
// whatever was already created is released before returning.
func Setup(f driver.Factory, cfg Config) (*Orchestrator, error) {
	o := &Orchestrator{f: f, cfg: cfg, log: cfg.Logger}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := o.setup(); err != nil {
		o.releaseAll()
		o.torn = true
		return nil, err
	}

	o.log.Info("scene ready",
		"vertices", o.vertexCount,
		"images", o.surface.ImageCount(),
		"extent", o.pipelineExtent.String())
	return o, nil
}

func (o *Orchestrator) setup() error {
	vertices, err := o.cfg.Mesh.Bytes()
	if err != nil {
		return errors.Wrap(err, "scene")
	}

	o.renderPass, err = o.f.CreateRenderPass(driver.RenderPassInfo{
		Load:          driver.LoadOpClear,
		Store:         driver.StoreOpStore,
		InitialLayout: driver.LayoutUndefined,
		FinalLayout:   driver.LayoutPresentSrc,
	})
	if err != nil {
		return errors.Wrap(err, "scene: render pass")
	}
	o.push(func() { o.f.DestroyRenderPass(o.renderPass) })

	o.surface, err = o.f.CreateSwapSurface(o.renderPass)
	if err != nil {
		return errors.Wrap(err, "scene: swap surface")
	}
	o.push(func() { o.surface.Destroy() })

	o.vertexBuffer, err = o.f.CreateVertexBuffer(vertices)
	if err != nil {
		return errors.Wrap(err, "scene: vertex buffer")
	}
	o.vertexCount = o.cfg.Mesh.VertexCount()
	o.push(func() { o.f.DestroyBuffer(o.vertexBuffer) })

	o.descriptorSet, err = o.f.CreateDescriptorSet(o.cfg.Descriptors)
	if err != nil {
		return errors.Wrap(err, "scene: descriptor set")
	}
	o.push(func() { o.f.DestroyDescriptorSet(o.descriptorSet) })

	o.pipeline, err = o.createPipeline()
	if err != nil {
		return err
	}
	o.push(func() { o.f.DestroyPipeline(o.pipeline) })

	return nil
}

func (o *Orchestrator) createPipeline() (driver.Pipeline, error) {
	extent := o.surface.Extent()
	p, err := o.f.CreatePipeline(driver.PipelineInfo{
		RenderPass:    o.renderPass,
		DescriptorSet: o.descriptorSet,
		Vertex:        mesh.Layout(),
		Topology:      driver.TopologyTriangleList,
		Extent:        extent,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "scene: pipeline for %s", extent)
	}
	o.pipelineExtent = extent
	return p, nil
}

func (o *Orchestrator) RenderPass() driver.RenderPass       { return o.renderPass }
func (o *Orchestrator) Surface() driver.SwapSurface         { return o.surface }
func (o *Orchestrator) VertexBuffer() driver.Buffer         { return o.vertexBuffer }
func (o *Orchestrator) VertexCount() int                    { return o.vertexCount }
func (o *Orchestrator) DescriptorSet() driver.DescriptorSet { return o.descriptorSet }
func (o *Orchestrator) Pipeline() driver.Pipeline           { return o.pipeline }

// Rebuild recreates the swap surface. The pipeline bakes in the
// viewport, so it is recreated as well if the extent changed.
// The device must be idle.
func (o *Orchestrator) Rebuild() error {
	if o.torn {
		return errors.New("scene: rebuild after teardown")
	}
	if err := o.surface.Rebuild(); err != nil {
		return errors.Wrap(err, "scene: rebuild swap surface")
	}

	if o.surface.Extent() == o.pipelineExtent {
		return nil
	}

	old := o.pipeline
	p, err := o.createPipeline()
	if err != nil {
		return err
	}
	o.pipeline = p
	o.f.DestroyPipeline(old)

	o.log.Info("pipeline recreated", "extent", o.pipelineExtent.String())
	return nil
}

// Teardown waits for the device to go idle, then releases every
// resource in reverse creation order. Resources are released even if
// the wait fails. Calling Teardown again has no effect.
func (o *Orchestrator) Teardown() error {
	return o.TeardownAfter(nil)
}

// TeardownAfter is Teardown for a device that may have stopped on
// cause. If cause is not nil the idle wait is skipped, since a hung
// device would never report idle, and resources are released at once.
func (o *Orchestrator) TeardownAfter(cause error) error {
	if o.torn {
		return nil
	}
	o.torn = true

	var err error
	if cause == nil {
		err = errors.Wrap(o.f.WaitIdle(), "scene: teardown")
	} else {
		o.log.Warn("releasing scene without waiting for the device", "cause", cause)
	}
	o.releaseAll()

	o.log.Info("scene torn down")
	return err
}
