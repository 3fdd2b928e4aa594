// Package driver defines the boundary between the frame engine and
// the graphics API that executes its work.
//
// Objects are referred to by opaque handles. The zero value of every
// handle type is the null handle. Implementations are expected to map
// handles to their own objects; callers never look inside them.
package driver

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// NoTimeout makes a completion wait block until the marker is
// signaled.
const NoTimeout time.Duration = math.MaxInt64

// ErrSurfaceStale means that the swap surface no longer matches the
// window it presents to, typically after a resize. It is recoverable
// by rebuilding the surface.
var ErrSurfaceStale = errors.New("driver: swap surface is stale")

// ErrTimeout means that a completion wait did not finish within its
// bound. The engine treats it as a device hang.
var ErrTimeout = errors.New("driver: completion wait timed out")

// ErrDeviceLost means that the device can no longer execute work.
var ErrDeviceLost = errors.New("driver: device lost")

type (
	Queue         uint64
	CommandBuffer uint64
	Semaphore     uint64
	Fence         uint64
	RenderPass    uint64
	Framebuffer   uint64
	Pipeline      uint64
	Buffer        uint64
	DescriptorSet uint64
)

// Commands is the set of drawing commands a command buffer can
// record. They are only valid between BeginRecording and
// EndRecording.
type Commands interface {
	CmdBeginRenderPass(cb CommandBuffer, begin RenderPassBegin) error
	CmdBindPipeline(cb CommandBuffer, p Pipeline)
	CmdBindVertexBuffers(cb CommandBuffer, first int, bufs []Buffer, offsets []int)
	CmdDraw(cb CommandBuffer, vertexCount, instanceCount int, firstVertex, firstInstance uint32)
	CmdEndRenderPass(cb CommandBuffer)
}

// Device is the engine's view of a logical device and its queues.
type Device interface {
	Commands

	// CreateCommandBuffers allocates n resettable primary command
	// buffers from a single pool.
	CreateCommandBuffers(n int) ([]CommandBuffer, error)
	FreeCommandBuffers(bufs []CommandBuffer)

	ResetRecording(cb CommandBuffer) error
	BeginRecording(cb CommandBuffer) error
	EndRecording(cb CommandBuffer) error

	// Submit enqueues recorded work and returns without waiting
	// for it to execute. info.Completion, if not null, is signaled
	// when the work finishes.
	Submit(q Queue, info SubmitInfo) error

	// WaitCompletion blocks until f is signaled or timeout
	// elapses. A zero timeout polls. It returns ErrTimeout if the
	// marker was not signaled in time.
	WaitCompletion(f Fence, timeout time.Duration) error
	ResetCompletion(f Fence) error

	CreateSignal() (Semaphore, error)
	DestroySignal(s Semaphore)
	CreateCompletionMarker(signaled bool) (Fence, error)
	DestroyCompletionMarker(f Fence)

	// WaitIdle blocks until all queues have drained.
	WaitIdle() error

	GraphicsQueue() Queue
	PresentQueue() Queue
}

// Surface is an ordered set of presentable images, each with a
// framebuffer compatible with the render pass the surface was
// created for.
type Surface interface {
	// AcquireNext requests the next presentable image. It returns
	// the image index without waiting for the image to become
	// writable; available is signaled when it does.
	// It returns ErrSurfaceStale if the surface must be rebuilt.
	AcquireNext(available Semaphore) (int, error)

	// Present queues imageIndex for display once wait is signaled.
	// It returns ErrSurfaceStale if the surface must be rebuilt.
	Present(q Queue, imageIndex int, wait Semaphore) error

	ImageCount() int
	Framebuffer(imageIndex int) Framebuffer
	Extent() Extent2D
}

// SwapSurface is a Surface whose image set can be recreated.
type SwapSurface interface {
	Surface

	// Rebuild destroys the image set and creates a new one that
	// matches the current window. The device must be idle.
	Rebuild() error
	Destroy()
}

// Factory creates the static resources of a scene.
type Factory interface {
	CreateRenderPass(info RenderPassInfo) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)

	CreateSwapSurface(rp RenderPass) (SwapSurface, error)

	// CreateVertexBuffer uploads data to a device-local vertex
	// buffer through a host-visible staging buffer.
	CreateVertexBuffer(data []byte) (Buffer, error)
	DestroyBuffer(b Buffer)

	CreateDescriptorSet(bindings []DescriptorBinding) (DescriptorSet, error)
	DestroyDescriptorSet(ds DescriptorSet)

	CreatePipeline(info PipelineInfo) (Pipeline, error)
	DestroyPipeline(p Pipeline)

	WaitIdle() error
}
