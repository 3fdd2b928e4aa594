package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/unknowall/LightVK/driver"
)

// check maps a Vulkan result onto the driver error taxonomy. Results
// that are not errors pass through as nil.
func check(res common.VkResult, err error, op string) error {
	switch res {
	case khr_swapchain.VKErrorOutOfDate, khr_swapchain.VKSuboptimal:
		return errors.Wrapf(driver.ErrSurfaceStale, "vk: %s: %v", op, res)
	case core1_0.VKTimeout:
		return errors.Wrapf(driver.ErrTimeout, "vk: %s", op)
	case core1_0.VKErrorDeviceLost:
		if err == nil {
			err = errors.Newf("%v", res)
		}
		return errors.Mark(errors.Wrapf(err, "vk: %s", op), driver.ErrDeviceLost)
	}
	return errors.Wrapf(err, "vk: %s", op)
}
