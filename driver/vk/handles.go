package vk

import (
	"github.com/cockroachdb/errors"
)

// put registers obj and returns its handle. Handles start at 1 so the
// zero handle stays null.
func (d *Device) put(obj any) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.objects[d.next] = obj
	return d.next
}

func (d *Device) take(h uint64) any {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj := d.objects[h]
	delete(d.objects, h)
	return obj
}

func lookup[T any](d *Device, h uint64) (T, error) {
	d.mu.RLock()
	obj, ok := d.objects[h]
	d.mu.RUnlock()

	v, isT := obj.(T)
	if !ok || !isT {
		var zero T
		return zero, errors.Newf("vk: unknown handle %d (%T)", h, zero)
	}
	return v, nil
}
