package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
)

// Target is everything a frame's command buffer draws with.
type Target struct {
	RenderPass   driver.RenderPass
	Framebuffer  driver.Framebuffer
	Pipeline     driver.Pipeline
	VertexBuffer driver.Buffer
	VertexCount  int
	Extent       driver.Extent2D
	ClearColor   [4]float32
}

func (t Target) validate() error {
	switch {
	case t.VertexCount <= 0:
		return errors.Newf("invalid vertex count %d", t.VertexCount)
	case t.Extent.Empty():
		return errors.Newf("invalid extent %s", t.Extent)
	case t.Framebuffer == 0:
		return errors.New("null framebuffer")
	}
	return nil
}

// Recorder fills a command buffer with a single clear-and-draw
// render pass. Recording touches nothing but the buffer, so the
// same buffer and target always produce the same commands.
type Recorder struct {
	dev driver.Device
}

func NewRecorder(dev driver.Device) Recorder {
	return Recorder{dev: dev}
}

// Record resets buf and records into it. buf must not be in use by
// the device.
func (r Recorder) Record(buf driver.CommandBuffer, t Target) error {
	if err := t.validate(); err != nil {
		return errors.Wrap(err, "record")
	}

	if err := r.dev.ResetRecording(buf); err != nil {
		return errors.Wrap(err, "reset command buffer")
	}
	if err := r.dev.BeginRecording(buf); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	err := r.dev.CmdBeginRenderPass(buf, driver.RenderPassBegin{
		RenderPass:  t.RenderPass,
		Framebuffer: t.Framebuffer,
		Area:        t.Extent,
		ClearColor:  t.ClearColor,
	})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	r.dev.CmdBindPipeline(buf, t.Pipeline)
	r.dev.CmdBindVertexBuffers(buf, 0, []driver.Buffer{t.VertexBuffer}, []int{0})
	r.dev.CmdDraw(buf, t.VertexCount, 1, 0, 0)
	r.dev.CmdEndRenderPass(buf)

	if err := r.dev.EndRecording(buf); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	return nil
}
