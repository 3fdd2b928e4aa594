// Package vk implements the driver interfaces on Vulkan, drawing to
// an SDL2 window.
package vk

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2"

	"github.com/unknowall/LightVK/driver"
	"github.com/unknowall/LightVK/pipecache"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

const (
	graphicsQueue driver.Queue = 1
	presentQueue  driver.Queue = 2
)

var (
	_ driver.Device  = (*Device)(nil)
	_ driver.Factory = (*Device)(nil)
)

type Config struct {
	Window  *sdl.Window
	AppName string

	// Validation enables the Khronos validation layer and routes its
	// messages to Logger.
	Validation bool

	// VertexShader and FragmentShader are SPIR-V modules with a
	// "main" entry point.
	VertexShader   []byte
	FragmentShader []byte

	// PipelineCache is the file the pipeline cache is loaded from
	// and saved to on Close. Empty disables persistence.
	PipelineCache string

	Logger *slog.Logger
}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

type SwapChainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// Device owns the Vulkan instance, surface, logical device and
// command pool, and maps driver handles to Vulkan objects.
type Device struct {
	cfg Config
	log *slog.Logger

	loader         core.Loader
	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	surface        khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	families       QueueFamilyIndices

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	swapchainExtension khr_swapchain.Extension
	surfaceFormat      khr_surface.SurfaceFormat

	commandPool   core1_0.CommandPool
	pipelineCache core1_0.PipelineCache
	cacheOwner    pipecache.Device

	mu      sync.RWMutex
	next    uint64
	objects map[uint64]any
}

// Open brings up Vulkan on cfg.Window. On failure everything created
// so far is destroyed.
func Open(cfg Config) (*Device, error) {
	if cfg.Window == nil {
		return nil, errors.New("vk: no window")
	}
	d := &Device{
		cfg:     cfg,
		log:     cfg.Logger,
		objects: make(map[uint64]any),
	}
	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create loader", d.createLoader},
		{"create instance", d.createInstance},
		{"setup debug messenger", d.setupDebugMessenger},
		{"create surface", d.createSurface},
		{"pick physical device", d.pickPhysicalDevice},
		{"create logical device", d.createLogicalDevice},
		{"create command pool", d.createCommandPool},
		{"create pipeline cache", d.createPipelineCache},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			d.Close()
			return nil, errors.Wrapf(err, "vk: %s", step.name)
		}
	}

	d.log.Info("vulkan device ready",
		"graphics_family", *d.families.GraphicsFamily,
		"present_family", *d.families.PresentFamily,
		"format", d.surfaceFormat.Format)
	return d, nil
}

func (d *Device) createLoader() error {
	var err error
	d.loader, err = core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return err
}

func (d *Device) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    d.cfg.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "LightVK",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := d.cfg.Window.VulkanGetInstanceExtensions()
	extensions, _, err := d.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("cannot initialize sdl: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if d.cfg.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if d.cfg.Validation {
		layers, _, err := d.loader.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.WithHint(
					errors.Newf("validation layer %s not available", layer),
					"install the LunarG Vulkan SDK or run without -validation")
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instance, _, err = d.loader.CreateInstance(nil, instanceOptions)
	return err
}

func (d *Device) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *Device) setupDebugMessenger() error {
	if !d.cfg.Validation {
		return nil
	}

	var err error
	debugLoader := ext_debug_utils.CreateExtensionFromInstance(d.instance)
	d.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(d.instance, nil, d.debugMessengerOptions())
	return err
}

func (d *Device) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	d.log.Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}

func (d *Device) createSurface() error {
	surfaceLoader := khr_surface.CreateExtensionFromInstance(d.instance)

	surface, err := vkng_sdl2.CreateSurface(d.instance, surfaceLoader, d.cfg.Window)
	if err != nil {
		return err
	}

	d.surface = surface
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		if d.isDeviceSuitable(device) {
			d.physicalDevice = device
			break
		}
	}

	if d.physicalDevice == nil {
		return errors.New("failed to find a suitable GPU")
	}

	support, err := d.querySwapChainSupport(d.physicalDevice)
	if err != nil {
		return err
	}
	d.surfaceFormat = chooseSwapSurfaceFormat(support.Formats)

	d.families, err = d.findQueueFamilies(d.physicalDevice)
	return err
}

func (d *Device) isDeviceSuitable(device core1_0.PhysicalDevice) bool {
	indices, err := d.findQueueFamilies(device)
	if err != nil {
		return false
	}

	if !d.checkDeviceExtensionSupport(device) {
		return false
	}

	swapChainSupport, err := d.querySwapChainSupport(device)
	if err != nil {
		return false
	}

	return indices.IsComplete() && len(swapChainSupport.Formats) > 0 && len(swapChainSupport.PresentModes) > 0
}

func (d *Device) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (d *Device) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := device.QueueFamilyProperties()
	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := d.surface.PhysicalDeviceSurfaceSupport(device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (d *Device) querySwapChainSupport(device core1_0.PhysicalDevice) (SwapChainSupportDetails, error) {
	var details SwapChainSupportDetails
	var err error

	details.Capabilities, _, err = d.surface.PhysicalDeviceSurfaceCapabilities(device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = d.surface.PhysicalDeviceSurfaceFormats(device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = d.surface.PhysicalDeviceSurfacePresentModes(device)
	return details, err
}

func (d *Device) createLogicalDevice() error {
	uniqueQueueFamilies := []int{*d.families.GraphicsFamily}
	if uniqueQueueFamilies[0] != *d.families.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *d.families.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Required on portability implementations such as MoltenVK
	extensions, _, err := d.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.device, _, err = d.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	d.graphicsQueue = d.device.GetQueue(*d.families.GraphicsFamily, 0)
	d.presentQueue = d.device.GetQueue(*d.families.PresentFamily, 0)
	d.swapchainExtension = khr_swapchain.CreateExtensionFromDevice(d.device)
	return nil
}

func (d *Device) createCommandPool() error {
	pool, _, err := d.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *d.families.GraphicsFamily,
	})
	if err != nil {
		return err
	}

	d.commandPool = pool
	return nil
}

func (d *Device) createPipelineCache() error {
	props, err := d.physicalDevice.Properties()
	if err != nil {
		return err
	}
	d.cacheOwner = pipecache.Device{
		VendorID: props.VendorID,
		DeviceID: props.DeviceID,
		UUID:     props.PipelineCacheUUID,
	}

	var data []byte
	if d.cfg.PipelineCache != "" {
		data, err = pipecache.Load(d.cfg.PipelineCache, d.cacheOwner)
		if err != nil {
			d.log.Warn("discarding pipeline cache", "path", d.cfg.PipelineCache, "err", err)
		} else if data == nil {
			d.log.Info("pipeline cache miss", "path", d.cfg.PipelineCache)
		}
	}

	d.pipelineCache, _, err = d.device.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: data,
	})
	return err
}

func (d *Device) storePipelineCache() error {
	if d.pipelineCache == nil || d.cfg.PipelineCache == "" {
		return nil
	}

	data, _, err := d.pipelineCache.CacheData()
	if err != nil {
		return errors.Wrap(err, "vk: read pipeline cache")
	}
	if err := pipecache.Store(d.cfg.PipelineCache, data); err != nil {
		return err
	}
	d.log.Info("pipeline cache written", "path", d.cfg.PipelineCache, "bytes", len(data))
	return nil
}

// Close waits for the device, saves the pipeline cache and destroys
// every object Open created. Scene resources and swap surfaces must
// already be destroyed.
func (d *Device) Close() error {
	return d.CloseAfter(nil)
}

// CloseAfter is Close for a device that may have stopped on cause.
// If cause is not nil the device is neither waited on nor asked for
// its pipeline cache; every object is destroyed right away.
func (d *Device) CloseAfter(cause error) error {
	var err error
	if cause != nil {
		d.log.Warn("closing device without waiting for it", "cause", cause)
	} else if d.device != nil {
		if _, waitErr := d.device.WaitIdle(); waitErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(waitErr, "vk: wait idle"))
		}
	}

	if d.pipelineCache != nil {
		if cause == nil {
			err = errors.CombineErrors(err, d.storePipelineCache())
		}
		d.pipelineCache.Destroy(nil)
		d.pipelineCache = nil
	}

	d.mu.Lock()
	leaked := len(d.objects)
	d.mu.Unlock()
	if leaked > 0 {
		d.log.Warn("closing device with live objects", "count", leaked)
	}

	if d.commandPool != nil {
		d.commandPool.Destroy(nil)
		d.commandPool = nil
	}

	if d.device != nil {
		d.device.Destroy(nil)
		d.device = nil
	}

	if d.debugMessenger != nil {
		d.debugMessenger.Destroy(nil)
		d.debugMessenger = nil
	}

	if d.surface != nil {
		d.surface.Destroy(nil)
		d.surface = nil
	}

	if d.instance != nil {
		d.instance.Destroy(nil)
		d.instance = nil
	}

	return err
}
