package vk

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/unknowall/LightVK/driver"
)

func (d *Device) GraphicsQueue() driver.Queue { return graphicsQueue }
func (d *Device) PresentQueue() driver.Queue  { return presentQueue }

func (d *Device) queue(q driver.Queue) (core1_0.Queue, error) {
	switch q {
	case graphicsQueue:
		return d.graphicsQueue, nil
	case presentQueue:
		return d.presentQueue, nil
	}
	return nil, errors.Newf("vk: unknown queue %d", q)
}

func (d *Device) CreateCommandBuffers(n int) ([]driver.CommandBuffer, error) {
	buffers, res, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: n,
	})
	if err != nil {
		return nil, check(res, err, "allocate command buffers")
	}

	handles := make([]driver.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = driver.CommandBuffer(d.put(buffer))
	}
	return handles, nil
}

func (d *Device) FreeCommandBuffers(bufs []driver.CommandBuffer) {
	var buffers []core1_0.CommandBuffer
	for _, h := range bufs {
		if buffer, ok := d.take(uint64(h)).(core1_0.CommandBuffer); ok {
			buffers = append(buffers, buffer)
		}
	}
	if len(buffers) > 0 {
		d.device.FreeCommandBuffers(buffers)
	}
}

func (d *Device) ResetRecording(cb driver.CommandBuffer) error {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		return err
	}
	res, err := buffer.Reset(0)
	return check(res, err, "reset command buffer")
}

func (d *Device) BeginRecording(cb driver.CommandBuffer) error {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		return err
	}
	res, err := buffer.Begin(core1_0.CommandBufferBeginInfo{})
	return check(res, err, "begin command buffer")
}

func (d *Device) EndRecording(cb driver.CommandBuffer) error {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		return err
	}
	res, err := buffer.End()
	return check(res, err, "end command buffer")
}

func (d *Device) CmdBeginRenderPass(cb driver.CommandBuffer, begin driver.RenderPassBegin) error {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		return err
	}
	renderPass, err := lookup[core1_0.RenderPass](d, uint64(begin.RenderPass))
	if err != nil {
		return err
	}
	framebuffer, err := lookup[core1_0.Framebuffer](d, uint64(begin.Framebuffer))
	if err != nil {
		return err
	}

	return buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  renderPass,
		Framebuffer: framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: core1_0.Extent2D{Width: begin.Area.Width, Height: begin.Area.Height},
		},
		ClearValues: []core1_0.ClearValue{
			core1_0.ClearValueFloat(begin.ClearColor),
		},
	})
}

// The remaining Cmd* calls cannot fail in Vulkan; a bad handle is a
// programming error and is only logged.

func (d *Device) CmdBindPipeline(cb driver.CommandBuffer, p driver.Pipeline) {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		d.log.Error("bind pipeline", "err", err)
		return
	}
	pipeline, err := lookup[*pipelineObject](d, uint64(p))
	if err != nil {
		d.log.Error("bind pipeline", "err", err)
		return
	}
	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, pipeline.pipeline)
}

func (d *Device) CmdBindVertexBuffers(cb driver.CommandBuffer, first int, bufs []driver.Buffer, offsets []int) {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		d.log.Error("bind vertex buffers", "err", err)
		return
	}

	vertexBuffers := make([]core1_0.Buffer, 0, len(bufs))
	for _, h := range bufs {
		b, err := lookup[*bufferObject](d, uint64(h))
		if err != nil {
			d.log.Error("bind vertex buffers", "err", err)
			return
		}
		vertexBuffers = append(vertexBuffers, b.buffer)
	}
	buffer.CmdBindVertexBuffers(first, vertexBuffers, offsets)
}

func (d *Device) CmdDraw(cb driver.CommandBuffer, vertexCount, instanceCount int, firstVertex, firstInstance uint32) {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		d.log.Error("draw", "err", err)
		return
	}
	buffer.CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdEndRenderPass(cb driver.CommandBuffer) {
	buffer, err := lookup[core1_0.CommandBuffer](d, uint64(cb))
	if err != nil {
		d.log.Error("end render pass", "err", err)
		return
	}
	buffer.CmdEndRenderPass()
}

func pipelineStage(s driver.PipelineStage) core1_0.PipelineStageFlags {
	switch s {
	case driver.StageTopOfPipe:
		return core1_0.PipelineStageTopOfPipe
	case driver.StageBottomOfPipe:
		return core1_0.PipelineStageBottomOfPipe
	default:
		return core1_0.PipelineStageColorAttachmentOutput
	}
}

func (d *Device) Submit(q driver.Queue, info driver.SubmitInfo) error {
	queue, err := d.queue(q)
	if err != nil {
		return err
	}

	var submit core1_0.SubmitInfo
	for i, h := range info.Wait {
		semaphore, err := lookup[core1_0.Semaphore](d, uint64(h))
		if err != nil {
			return err
		}
		submit.WaitSemaphores = append(submit.WaitSemaphores, semaphore)

		stage := driver.StageColorAttachmentOutput
		if i < len(info.WaitStages) {
			stage = info.WaitStages[i]
		}
		submit.WaitDstStageMask = append(submit.WaitDstStageMask, pipelineStage(stage))
	}
	for _, h := range info.Buffers {
		buffer, err := lookup[core1_0.CommandBuffer](d, uint64(h))
		if err != nil {
			return err
		}
		submit.CommandBuffers = append(submit.CommandBuffers, buffer)
	}
	for _, h := range info.Signal {
		semaphore, err := lookup[core1_0.Semaphore](d, uint64(h))
		if err != nil {
			return err
		}
		submit.SignalSemaphores = append(submit.SignalSemaphores, semaphore)
	}

	var fence core1_0.Fence
	if info.Completion != 0 {
		fence, err = lookup[core1_0.Fence](d, uint64(info.Completion))
		if err != nil {
			return err
		}
	}

	res, err := queue.Submit(fence, []core1_0.SubmitInfo{submit})
	return check(res, err, "queue submit")
}

func (d *Device) WaitCompletion(f driver.Fence, timeout time.Duration) error {
	fence, err := lookup[core1_0.Fence](d, uint64(f))
	if err != nil {
		return err
	}
	if timeout == driver.NoTimeout {
		timeout = common.NoTimeout
	}
	if timeout < 0 {
		timeout = 0
	}

	res, err := d.device.WaitForFences(true, timeout, []core1_0.Fence{fence})
	if err != nil || res == core1_0.VKTimeout {
		return check(res, err, "wait for fence")
	}
	return nil
}

func (d *Device) ResetCompletion(f driver.Fence) error {
	fence, err := lookup[core1_0.Fence](d, uint64(f))
	if err != nil {
		return err
	}
	res, err := d.device.ResetFences([]core1_0.Fence{fence})
	return check(res, err, "reset fence")
}

func (d *Device) CreateSignal() (driver.Semaphore, error) {
	semaphore, res, err := d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return 0, check(res, err, "create semaphore")
	}
	return driver.Semaphore(d.put(semaphore)), nil
}

func (d *Device) DestroySignal(s driver.Semaphore) {
	if semaphore, ok := d.take(uint64(s)).(core1_0.Semaphore); ok {
		semaphore.Destroy(nil)
	}
}

func (d *Device) CreateCompletionMarker(signaled bool) (driver.Fence, error) {
	info := core1_0.FenceCreateInfo{}
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.device.CreateFence(nil, info)
	if err != nil {
		return 0, check(res, err, "create fence")
	}
	return driver.Fence(d.put(fence)), nil
}

func (d *Device) DestroyCompletionMarker(f driver.Fence) {
	if fence, ok := d.take(uint64(f)).(core1_0.Fence); ok {
		fence.Destroy(nil)
	}
}

func (d *Device) WaitIdle() error {
	res, err := d.device.WaitIdle()
	return check(res, err, "device wait idle")
}
