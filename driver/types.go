package driver

import "fmt"

type Extent2D struct {
	Width, Height int
}

func (e Extent2D) Empty() bool { return e.Width <= 0 || e.Height <= 0 }

func (e Extent2D) String() string { return fmt.Sprintf("%dx%d", e.Width, e.Height) }

type PipelineStage int

const (
	StageTopOfPipe PipelineStage = iota
	StageColorAttachmentOutput
	StageBottomOfPipe
)

// SubmitInfo describes one queue submission. WaitStages holds one
// stage per entry of Wait.
type SubmitInfo struct {
	Wait       []Semaphore
	WaitStages []PipelineStage
	Buffers    []CommandBuffer
	Signal     []Semaphore
	Completion Fence
}

// RenderPassBegin begins rp on fb, clearing the whole of Area to
// ClearColor.
type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Extent2D
	ClearColor  [4]float32
}

type LoadOp int

const (
	LoadOpDontCare LoadOp = iota
	LoadOpClear
	LoadOpLoad
)

type StoreOp int

const (
	StoreOpDontCare StoreOp = iota
	StoreOpStore
)

type ImageLayout int

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutPresentSrc
)

// RenderPassInfo describes a single-subpass render pass with one
// color attachment in the surface format.
type RenderPassInfo struct {
	Load          LoadOp
	Store         StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

type DescriptorType int

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorCombinedImageSampler
)

type ShaderStage int

const (
	ShaderVertex ShaderStage = 1 << iota
	ShaderFragment
)

type DescriptorBinding struct {
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStage
}

type Format int

const (
	FormatUndefined Format = iota
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
)

type VertexAttribute struct {
	Location int
	Format   Format
	Offset   int
}

type VertexLayout struct {
	Stride     int
	Attributes []VertexAttribute
}

type Topology int

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
)

// PipelineInfo describes a graphics pipeline with fixed viewport and
// scissor covering Extent, no blending and single sampling.
type PipelineInfo struct {
	RenderPass    RenderPass
	DescriptorSet DescriptorSet
	Vertex        VertexLayout
	Topology      Topology
	Extent        Extent2D
}
