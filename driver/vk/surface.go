package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/unknowall/LightVK/driver"
)

type swapSurface struct {
	d          *Device
	renderPass core1_0.RenderPass

	swapchain    khr_swapchain.Swapchain
	extent       core1_0.Extent2D
	imageViews   []core1_0.ImageView
	framebuffers []driver.Framebuffer

	// suboptimal is set when acquire succeeded on a surface that no
	// longer matches the window. The image is still drawn and
	// presented; the present then reports the surface stale.
	suboptimal bool
	destroyed  bool
}

func (d *Device) CreateSwapSurface(rp driver.RenderPass) (driver.SwapSurface, error) {
	renderPass, err := lookup[core1_0.RenderPass](d, uint64(rp))
	if err != nil {
		return nil, err
	}

	s := &swapSurface{d: d, renderPass: renderPass}
	if err := s.create(); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

func (s *swapSurface) create() error {
	d := s.d
	support, err := d.querySwapChainSupport(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "vk: query swapchain support")
	}

	drawableWidth, drawableHeight := d.cfg.Window.VulkanGetDrawableSize()
	extent := chooseSwapExtent(support.Capabilities, int(drawableWidth), int(drawableHeight))
	if extent.Width == 0 || extent.Height == 0 {
		return errors.WithHint(
			errors.New("vk: window has no drawable area"),
			"do not draw while the window is minimized")
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	if *d.families.GraphicsFamily != *d.families.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *d.families.GraphicsFamily, *d.families.PresentFamily)
	}

	swapchain, _, err := d.swapchainExtension.CreateSwapchain(d.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    chooseImageCount(support.Capabilities),
		ImageFormat:      d.surfaceFormat.Format,
		ImageColorSpace:  d.surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    chooseSwapPresentMode(support.PresentModes),
		Clipped:        true,
	})
	if err != nil {
		return errors.Wrap(err, "vk: create swapchain")
	}
	s.swapchain = swapchain
	s.extent = extent

	images, _, err := swapchain.SwapchainImages()
	if err != nil {
		return errors.Wrap(err, "vk: swapchain images")
	}

	for _, image := range images {
		view, _, err := d.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   d.surfaceFormat.Format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return errors.Wrap(err, "vk: create image view")
		}
		s.imageViews = append(s.imageViews, view)

		framebuffer, _, err := d.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: s.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				view,
			},
			Width:  extent.Width,
			Height: extent.Height,
		})
		if err != nil {
			return errors.Wrap(err, "vk: create framebuffer")
		}
		s.framebuffers = append(s.framebuffers, driver.Framebuffer(d.put(framebuffer)))
	}

	d.log.Info("swapchain created",
		"images", len(images),
		"width", extent.Width,
		"height", extent.Height)
	return nil
}

func (s *swapSurface) cleanup() {
	for _, h := range s.framebuffers {
		if framebuffer, ok := s.d.take(uint64(h)).(core1_0.Framebuffer); ok {
			framebuffer.Destroy(nil)
		}
	}
	s.framebuffers = nil

	for _, view := range s.imageViews {
		view.Destroy(nil)
	}
	s.imageViews = nil

	if s.swapchain != nil {
		s.swapchain.Destroy(nil)
		s.swapchain = nil
	}
	s.suboptimal = false
}

func (s *swapSurface) AcquireNext(available driver.Semaphore) (int, error) {
	semaphore, err := lookup[core1_0.Semaphore](s.d, uint64(available))
	if err != nil {
		return 0, err
	}

	imageIndex, res, err := s.swapchain.AcquireNextImage(common.NoTimeout, semaphore, nil)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return 0, check(res, err, "acquire next image")
	case err != nil:
		return 0, check(res, err, "acquire next image")
	case res == khr_swapchain.VKSuboptimal:
		s.suboptimal = true
	}
	return imageIndex, nil
}

func (s *swapSurface) Present(q driver.Queue, imageIndex int, wait driver.Semaphore) error {
	queue, err := s.d.queue(q)
	if err != nil {
		return err
	}
	semaphore, err := lookup[core1_0.Semaphore](s.d, uint64(wait))
	if err != nil {
		return err
	}

	res, err := s.d.swapchainExtension.QueuePresent(queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal || err != nil {
		return check(res, err, "queue present")
	}
	if s.suboptimal {
		s.suboptimal = false
		return check(khr_swapchain.VKSuboptimal, nil, "queue present")
	}
	return nil
}

func (s *swapSurface) ImageCount() int { return len(s.framebuffers) }

func (s *swapSurface) Framebuffer(imageIndex int) driver.Framebuffer {
	if imageIndex < 0 || imageIndex >= len(s.framebuffers) {
		return 0
	}
	return s.framebuffers[imageIndex]
}

func (s *swapSurface) Extent() driver.Extent2D {
	return driver.Extent2D{Width: s.extent.Width, Height: s.extent.Height}
}

func (s *swapSurface) Rebuild() error {
	if s.destroyed {
		return errors.New("vk: rebuild of destroyed swap surface")
	}
	s.cleanup()
	return s.create()
}

func (s *swapSurface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.cleanup()
}

func chooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

func chooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseSwapExtent uses the surface's current extent when it has one,
// and otherwise clamps the window's drawable size to the supported
// range.
func chooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	actualExtent := core1_0.Extent2D{
		Width:  drawableWidth,
		Height: drawableHeight,
	}

	if capabilities.MinImageExtent.Width > actualExtent.Width {
		actualExtent.Width = capabilities.MinImageExtent.Width
	}
	if capabilities.MaxImageExtent.Width < actualExtent.Width {
		actualExtent.Width = capabilities.MaxImageExtent.Width
	}

	if capabilities.MinImageExtent.Height > actualExtent.Height {
		actualExtent.Height = capabilities.MinImageExtent.Height
	}
	if capabilities.MaxImageExtent.Height < actualExtent.Height {
		actualExtent.Height = capabilities.MaxImageExtent.Height
	}

	return actualExtent
}

func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}
