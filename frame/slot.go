package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
)

// Slot is the synchronization state of one frame in flight.
// InFlight starts signaled so the first wait on a slot returns at
// once.
type Slot struct {
	ImageAvailable driver.Semaphore
	RenderFinished driver.Semaphore
	InFlight       driver.Fence
	Cmd            driver.CommandBuffer
}

// createSlots builds n slots. The command buffers come from a single
// allocation and slot i owns buffer i.
func createSlots(dev driver.Device, n int) ([]Slot, error) {
	if n < 1 {
		return nil, errors.Newf("slot count %d", n)
	}

	bufs, err := dev.CreateCommandBuffers(n)
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffers")
	}

	slots := make([]Slot, 0, n)
	fail := func(err error) ([]Slot, error) {
		destroySlots(dev, slots)
		dev.FreeCommandBuffers(bufs)
		return nil, err
	}

	for i := 0; i < n; i++ {
		s := Slot{Cmd: bufs[i]}

		s.ImageAvailable, err = dev.CreateSignal()
		if err != nil {
			return fail(errors.Wrapf(err, "slot %d: image available semaphore", i))
		}
		s.RenderFinished, err = dev.CreateSignal()
		if err != nil {
			dev.DestroySignal(s.ImageAvailable)
			return fail(errors.Wrapf(err, "slot %d: render finished semaphore", i))
		}
		s.InFlight, err = dev.CreateCompletionMarker(true)
		if err != nil {
			dev.DestroySignal(s.RenderFinished)
			dev.DestroySignal(s.ImageAvailable)
			return fail(errors.Wrapf(err, "slot %d: in-flight fence", i))
		}

		slots = append(slots, s)
	}

	return slots, nil
}

// destroySlots releases the sync objects of slots in reverse order.
// Command buffers are left to releaseSlots.
func destroySlots(dev driver.Device, slots []Slot) {
	for i := len(slots) - 1; i >= 0; i-- {
		dev.DestroyCompletionMarker(slots[i].InFlight)
		dev.DestroySignal(slots[i].RenderFinished)
		dev.DestroySignal(slots[i].ImageAvailable)
	}
}

func releaseSlots(dev driver.Device, slots []Slot) {
	if len(slots) == 0 {
		return
	}
	destroySlots(dev, slots)

	bufs := make([]driver.CommandBuffer, len(slots))
	for i, s := range slots {
		bufs[i] = s.Cmd
	}
	dev.FreeCommandBuffers(bufs)
}
