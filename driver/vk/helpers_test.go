package vk

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/unknowall/LightVK/driver"
)

func TestChooseSwapExtent(t *testing.T) {
	caps := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: 1024, Height: 768},
		MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
	}
	assert.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, chooseSwapExtent(caps, 10, 10))

	caps.CurrentExtent = core1_0.Extent2D{Width: -1, Height: -1}
	assert.Equal(t, core1_0.Extent2D{Width: 800, Height: 600}, chooseSwapExtent(caps, 800, 600))
	assert.Equal(t, core1_0.Extent2D{Width: 4096, Height: 1}, chooseSwapExtent(caps, 9000, 0))
}

func TestChooseImageCount(t *testing.T) {
	for _, tc := range []struct {
		min, max, want int
	}{
		{min: 2, max: 0, want: 3},
		{min: 2, max: 8, want: 3},
		{min: 3, max: 3, want: 3},
		{min: 1, max: 2, want: 2},
	} {
		caps := &khr_surface.SurfaceCapabilities{MinImageCount: tc.min, MaxImageCount: tc.max}
		assert.Equal(t, tc.want, chooseImageCount(caps), "min=%d max=%d", tc.min, tc.max)
	}
}

func TestChooseSwapSurfaceFormat(t *testing.T) {
	other := khr_surface.SurfaceFormat{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	srgb := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}

	assert.Equal(t, srgb, chooseSwapSurfaceFormat([]khr_surface.SurfaceFormat{other, srgb}))
	assert.Equal(t, other, chooseSwapSurfaceFormat([]khr_surface.SurfaceFormat{other}))
}

func TestChooseSwapPresentMode(t *testing.T) {
	assert.Equal(t, khr_surface.PresentModeMailbox,
		chooseSwapPresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}))
	assert.Equal(t, khr_surface.PresentModeFIFO,
		chooseSwapPresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO}))
}

func TestBytesToBytecode(t *testing.T) {
	code := bytesToBytecode([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00})
	assert.Equal(t, []uint32{0x07230203, 1}, code)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, check(core1_0.VKSuccess, nil, "op"))

	err := check(khr_swapchain.VKErrorOutOfDate, errors.New("out of date"), "acquire")
	assert.ErrorIs(t, err, driver.ErrSurfaceStale)

	err = check(khr_swapchain.VKSuboptimal, nil, "present")
	assert.ErrorIs(t, err, driver.ErrSurfaceStale)

	err = check(core1_0.VKTimeout, nil, "wait")
	assert.ErrorIs(t, err, driver.ErrTimeout)

	err = check(core1_0.VKErrorDeviceLost, errors.New("lost"), "submit")
	assert.True(t, errors.Is(err, driver.ErrDeviceLost))
	assert.Contains(t, err.Error(), "vk: submit")

	err = check(core1_0.VKErrorOutOfHostMemory, errors.New("oom"), "submit")
	require.Error(t, err)
	assert.False(t, errors.Is(err, driver.ErrSurfaceStale))
}

func TestVertexFormat(t *testing.T) {
	f, err := vertexFormat(driver.FormatRGB32Float)
	require.NoError(t, err)
	assert.Equal(t, core1_0.FormatR32G32B32SignedFloat, f)

	_, err = vertexFormat(driver.FormatUndefined)
	assert.Error(t, err)
}

func TestShaderStages(t *testing.T) {
	assert.Equal(t, core1_0.StageVertex, shaderStages(driver.ShaderVertex))
	assert.Equal(t, core1_0.StageVertex|core1_0.StageFragment, shaderStages(driver.ShaderVertex|driver.ShaderFragment))
}

func TestHandles(t *testing.T) {
	d := &Device{objects: make(map[uint64]any)}

	h := d.put("render pass")
	assert.NotZero(t, h)
	assert.NotEqual(t, h, d.put("pipeline"))

	v, err := lookup[string](d, h)
	require.NoError(t, err)
	assert.Equal(t, "render pass", v)

	_, err = lookup[int](d, h)
	assert.Error(t, err, "wrong type")

	assert.Equal(t, "render pass", d.take(h))
	_, err = lookup[string](d, h)
	assert.Error(t, err)
	assert.Nil(t, d.take(h))
}
