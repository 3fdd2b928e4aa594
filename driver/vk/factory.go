package vk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/unknowall/LightVK/driver"
)

type bufferObject struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
}

type descriptorObject struct {
	layout core1_0.DescriptorSetLayout
	pool   core1_0.DescriptorPool
	set    core1_0.DescriptorSet
}

type pipelineObject struct {
	pipeline core1_0.Pipeline
	layout   core1_0.PipelineLayout
}

func imageLayout(l driver.ImageLayout) core1_0.ImageLayout {
	switch l {
	case driver.LayoutColorAttachment:
		return core1_0.ImageLayoutColorAttachmentOptimal
	case driver.LayoutPresentSrc:
		return khr_swapchain.ImageLayoutPresentSrc
	default:
		return core1_0.ImageLayoutUndefined
	}
}

func loadOp(op driver.LoadOp) core1_0.AttachmentLoadOp {
	switch op {
	case driver.LoadOpClear:
		return core1_0.AttachmentLoadOpClear
	case driver.LoadOpLoad:
		return core1_0.AttachmentLoadOpLoad
	default:
		return core1_0.AttachmentLoadOpDontCare
	}
}

func storeOp(op driver.StoreOp) core1_0.AttachmentStoreOp {
	if op == driver.StoreOpStore {
		return core1_0.AttachmentStoreOpStore
	}
	return core1_0.AttachmentStoreOpDontCare
}

func (d *Device) CreateRenderPass(info driver.RenderPassInfo) (driver.RenderPass, error) {
	renderPass, res, err := d.device.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         d.surfaceFormat.Format,
				Samples:        core1_0.Samples1,
				LoadOp:         loadOp(info.Load),
				StoreOp:        storeOp(info.Store),
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  imageLayout(info.InitialLayout),
				FinalLayout:    imageLayout(info.FinalLayout),
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return 0, check(res, err, "create render pass")
	}
	return driver.RenderPass(d.put(renderPass)), nil
}

func (d *Device) DestroyRenderPass(rp driver.RenderPass) {
	if renderPass, ok := d.take(uint64(rp)).(core1_0.RenderPass); ok {
		renderPass.Destroy(nil)
	}
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.physicalDevice.MemoryProperties()
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find any suitable memory type")
}

func (d *Device) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*bufferObject, error) {
	buffer, _, err := d.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, err
	}
	obj := &bufferObject{buffer: buffer}

	memRequirements := buffer.MemoryRequirements()
	memoryTypeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		obj.destroy()
		return nil, err
	}

	obj.memory, _, err = d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		obj.destroy()
		return nil, err
	}

	_, err = buffer.BindBufferMemory(obj.memory, 0)
	if err != nil {
		obj.destroy()
		return nil, err
	}
	return obj, nil
}

func (b *bufferObject) destroy() {
	if b.buffer != nil {
		b.buffer.Destroy(nil)
	}
	if b.memory != nil {
		b.memory.Free(nil)
	}
}

func writeData(memory core1_0.DeviceMemory, offset int, data []byte) error {
	memoryPtr, _, err := memory.Map(offset, len(data), 0)
	if err != nil {
		return err
	}
	defer memory.Unmap()

	copy(unsafe.Slice((*byte)(memoryPtr), len(data)), data)
	return nil
}

func (d *Device) CreateVertexBuffer(data []byte) (driver.Buffer, error) {
	if len(data) == 0 {
		return 0, errors.New("vk: empty vertex buffer")
	}

	staging, err := d.createBuffer(len(data), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return 0, errors.Wrap(err, "vk: create staging buffer")
	}
	defer staging.destroy()

	if err := writeData(staging.memory, 0, data); err != nil {
		return 0, errors.Wrap(err, "vk: write staging buffer")
	}

	vertex, err := d.createBuffer(len(data), core1_0.BufferUsageTransferDst|core1_0.BufferUsageVertexBuffer, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return 0, errors.Wrap(err, "vk: create vertex buffer")
	}

	if err := d.copyBuffer(staging.buffer, vertex.buffer, len(data)); err != nil {
		vertex.destroy()
		return 0, errors.Wrap(err, "vk: upload vertex buffer")
	}
	return driver.Buffer(d.put(vertex)), nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	if buffer, ok := d.take(uint64(b)).(*bufferObject); ok {
		buffer.destroy()
	}
}

// copyBuffer records a one-time copy on the graphics queue and waits
// for the queue to drain.
func (d *Device) copyBuffer(srcBuffer core1_0.Buffer, dstBuffer core1_0.Buffer, size int) error {
	buffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return err
	}
	defer d.device.FreeCommandBuffers(buffers)

	buffer := buffers[0]
	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return err
	}

	err = buffer.CmdCopyBuffer(srcBuffer, dstBuffer, []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	})
	if err != nil {
		return err
	}

	_, err = buffer.End()
	if err != nil {
		return err
	}

	_, err = d.graphicsQueue.Submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	if err != nil {
		return err
	}

	res, err := d.graphicsQueue.WaitIdle()
	return check(res, err, "graphics queue wait idle")
}

func descriptorType(t driver.DescriptorType) core1_0.DescriptorType {
	if t == driver.DescriptorUniformBuffer {
		return core1_0.DescriptorTypeUniformBuffer
	}
	return core1_0.DescriptorTypeCombinedImageSampler
}

func shaderStages(s driver.ShaderStage) core1_0.ShaderStageFlags {
	var flags core1_0.ShaderStageFlags
	if s&driver.ShaderVertex != 0 {
		flags |= core1_0.StageVertex
	}
	if s&driver.ShaderFragment != 0 {
		flags |= core1_0.StageFragment
	}
	return flags
}

// CreateDescriptorSet creates a layout for bindings and allocates one
// set for it from a pool sized to match.
func (d *Device) CreateDescriptorSet(bindings []driver.DescriptorBinding) (driver.DescriptorSet, error) {
	obj := &descriptorObject{}

	var layoutBindings []core1_0.DescriptorSetLayoutBinding
	counts := map[core1_0.DescriptorType]int{}
	for _, b := range bindings {
		t := descriptorType(b.Type)
		layoutBindings = append(layoutBindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  t,
			DescriptorCount: b.Count,

			StageFlags: shaderStages(b.Stages),
		})
		counts[t] += b.Count
	}

	var err error
	obj.layout, _, err = d.device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: layoutBindings,
	})
	if err != nil {
		return 0, errors.Wrap(err, "vk: create descriptor set layout")
	}

	var poolSizes []core1_0.DescriptorPoolSize
	for _, t := range []core1_0.DescriptorType{core1_0.DescriptorTypeUniformBuffer, core1_0.DescriptorTypeCombinedImageSampler} {
		if counts[t] > 0 {
			poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{Type: t, DescriptorCount: counts[t]})
		}
	}
	if len(poolSizes) == 0 {
		// A pool needs at least one size even for an empty layout.
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1})
	}

	obj.pool, _, err = d.device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   1,
		PoolSizes: poolSizes,
	})
	if err != nil {
		obj.destroy()
		return 0, errors.Wrap(err, "vk: create descriptor pool")
	}

	sets, _, err := d.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: obj.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{obj.layout},
	})
	if err != nil {
		obj.destroy()
		return 0, errors.Wrap(err, "vk: allocate descriptor set")
	}
	obj.set = sets[0]

	return driver.DescriptorSet(d.put(obj)), nil
}

// destroy releases the pool, which frees the set with it.
func (o *descriptorObject) destroy() {
	if o.pool != nil {
		o.pool.Destroy(nil)
	}
	if o.layout != nil {
		o.layout.Destroy(nil)
	}
}

func (d *Device) DestroyDescriptorSet(ds driver.DescriptorSet) {
	if obj, ok := d.take(uint64(ds)).(*descriptorObject); ok {
		obj.destroy()
	}
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func vertexFormat(f driver.Format) (core1_0.Format, error) {
	switch f {
	case driver.FormatRG32Float:
		return core1_0.FormatR32G32SignedFloat, nil
	case driver.FormatRGB32Float:
		return core1_0.FormatR32G32B32SignedFloat, nil
	case driver.FormatRGBA32Float:
		return core1_0.FormatR32G32B32A32SignedFloat, nil
	}
	return core1_0.FormatUndefined, errors.Newf("vk: unsupported vertex format %d", f)
}

func topology(t driver.Topology) core1_0.PrimitiveTopology {
	switch t {
	case driver.TopologyTriangleStrip:
		return core1_0.PrimitiveTopologyTriangleStrip
	case driver.TopologyLineList:
		return core1_0.PrimitiveTopologyLineList
	default:
		return core1_0.PrimitiveTopologyTriangleList
	}
}

func (d *Device) createShaderModule(code []byte) (core1_0.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("vk: invalid SPIR-V module of %d bytes", len(code))
	}
	module, _, err := d.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	return module, err
}

func (d *Device) CreatePipeline(info driver.PipelineInfo) (driver.Pipeline, error) {
	if info.Extent.Empty() {
		return 0, errors.New("vk: pipeline with empty extent")
	}
	renderPass, err := lookup[core1_0.RenderPass](d, uint64(info.RenderPass))
	if err != nil {
		return 0, err
	}

	vertShader, err := d.createShaderModule(d.cfg.VertexShader)
	if err != nil {
		return 0, errors.Wrap(err, "vk: vertex shader")
	}
	defer vertShader.Destroy(nil)

	fragShader, err := d.createShaderModule(d.cfg.FragmentShader)
	if err != nil {
		return 0, errors.Wrap(err, "vk: fragment shader")
	}
	defer fragShader.Destroy(nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions: []core1_0.VertexInputBindingDescription{
			{
				Binding:   0,
				Stride:    info.Vertex.Stride,
				InputRate: core1_0.VertexInputRateVertex,
			},
		},
	}
	for _, attr := range info.Vertex.Attributes {
		format, err := vertexFormat(attr.Format)
		if err != nil {
			return 0, err
		}
		vertexInput.VertexAttributeDescriptions = append(vertexInput.VertexAttributeDescriptions, core1_0.VertexInputAttributeDescription{
			Binding:  0,
			Location: attr.Location,
			Format:   format,
			Offset:   attr.Offset,
		})
	}

	extent := core1_0.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height}

	var setLayouts []core1_0.DescriptorSetLayout
	if info.DescriptorSet != 0 {
		ds, err := lookup[*descriptorObject](d, uint64(info.DescriptorSet))
		if err != nil {
			return 0, err
		}
		setLayouts = append(setLayouts, ds.layout)
	}

	obj := &pipelineObject{}
	obj.layout, _, err = d.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: setLayouts,
	})
	if err != nil {
		return 0, errors.Wrap(err, "vk: create pipeline layout")
	}

	start := hrtime.Now()
	pipelines, _, err := d.device.CreateGraphicsPipelines(d.pipelineCache, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{
					Stage:  core1_0.StageVertex,
					Module: vertShader,
					Name:   "main",
				},
				{
					Stage:  core1_0.StageFragment,
					Module: fragShader,
					Name:   "main",
				},
			},
			VertexInputState: vertexInput,
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology:               topology(info.Topology),
				PrimitiveRestartEnable: false,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{
					{
						X:        0,
						Y:        0,
						Width:    float32(extent.Width),
						Height:   float32(extent.Height),
						MinDepth: 0,
						MaxDepth: 1,
					},
				},
				Scissors: []core1_0.Rect2D{
					{
						Offset: core1_0.Offset2D{X: 0, Y: 0},
						Extent: extent,
					},
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				DepthClampEnable:        false,
				RasterizerDiscardEnable: false,

				PolygonMode: core1_0.PolygonModeFill,
				FrontFace:   core1_0.FrontFaceClockwise,

				DepthBiasEnable: false,

				LineWidth: 1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				SampleShadingEnable:  false,
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOpEnabled: false,
				LogicOp:        core1_0.LogicOpCopy,

				BlendConstants: [4]float32{0, 0, 0, 0},
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						BlendEnabled:   false,
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			Layout:            obj.layout,
			RenderPass:        renderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	})
	if err != nil {
		obj.layout.Destroy(nil)
		return 0, errors.Wrap(err, "vk: create graphics pipeline")
	}
	obj.pipeline = pipelines[0]

	d.log.Debug("pipeline created", "extent", info.Extent.String(), "elapsed", hrtime.Since(start))
	return driver.Pipeline(d.put(obj)), nil
}

func (d *Device) DestroyPipeline(p driver.Pipeline) {
	if obj, ok := d.take(uint64(p)).(*pipelineObject); ok {
		obj.pipeline.Destroy(nil)
		obj.layout.Destroy(nil)
	}
}
