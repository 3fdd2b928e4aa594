package drivertest

import (
	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
)

// DefaultExtent is the extent of surfaces created by
// CreateSwapSurface.
var DefaultExtent = driver.Extent2D{Width: 800, Height: 600}

// DefaultImageCount is the image count of surfaces created by
// CreateSwapSurface.
var DefaultImageCount = 2

func (d *Device) create(op, kind string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(op); err != nil {
		return 0, err
	}
	h := d.handle()
	d.resources[h] = kind
	d.log("%s %d", op, h)
	return h, nil
}

func (d *Device) destroy(op string, h uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.resources[h]; !ok {
		d.violate("%s: unknown or destroyed handle %d", op, h)
		return
	}
	delete(d.resources, h)
	d.log("%s %d", op, h)
}

func (d *Device) CreateRenderPass(info driver.RenderPassInfo) (driver.RenderPass, error) {
	if info.FinalLayout != driver.LayoutPresentSrc {
		return 0, errors.New("drivertest: render pass must end in present layout")
	}
	h, err := d.create("CreateRenderPass", "render pass")
	return driver.RenderPass(h), err
}

func (d *Device) DestroyRenderPass(rp driver.RenderPass) {
	d.destroy("DestroyRenderPass", uint64(rp))
}

func (d *Device) CreateSwapSurface(rp driver.RenderPass) (driver.SwapSurface, error) {
	h, err := d.create("CreateSwapSurface", "surface")
	if err != nil {
		return nil, err
	}
	s := NewSurface(DefaultImageCount, DefaultExtent)
	s.onDestroy = func() { d.destroy("DestroySwapSurface", h) }
	d.mu.Lock()
	d.surfaces = append(d.surfaces, s)
	d.mu.Unlock()
	return s, nil
}

// Surfaces returns every surface created by CreateSwapSurface.
func (d *Device) Surfaces() []*Surface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Surface(nil), d.surfaces...)
}

func (d *Device) CreateVertexBuffer(data []byte) (driver.Buffer, error) {
	if len(data) == 0 {
		return 0, errors.New("drivertest: empty vertex data")
	}
	h, err := d.create("CreateVertexBuffer", "buffer")
	return driver.Buffer(h), err
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	d.destroy("DestroyBuffer", uint64(b))
}

func (d *Device) CreateDescriptorSet(bindings []driver.DescriptorBinding) (driver.DescriptorSet, error) {
	h, err := d.create("CreateDescriptorSet", "descriptor set")
	return driver.DescriptorSet(h), err
}

func (d *Device) DestroyDescriptorSet(ds driver.DescriptorSet) {
	d.destroy("DestroyDescriptorSet", uint64(ds))
}

func (d *Device) CreatePipeline(info driver.PipelineInfo) (driver.Pipeline, error) {
	if info.Extent.Empty() {
		return 0, errors.Newf("drivertest: empty pipeline extent %s", info.Extent)
	}
	h, err := d.create("CreatePipeline", "pipeline")
	return driver.Pipeline(h), err
}

func (d *Device) DestroyPipeline(p driver.Pipeline) {
	d.destroy("DestroyPipeline", uint64(p))
}

// LiveResources reports how many factory objects have not been
// destroyed.
func (d *Device) LiveResources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resources)
}
