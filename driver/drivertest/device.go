// Package drivertest provides an in-memory driver.Device and
// driver.Factory that record every call and check command buffer
// reuse rules.
package drivertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unknowall/LightVK/driver"
)

const (
	GraphicsQueue driver.Queue = 1
	PresentQueue  driver.Queue = 2
)

// Submission is one recorded call to Submit.
type Submission struct {
	Queue       driver.Queue
	Info        driver.SubmitInfo
	Framebuffer driver.Framebuffer
}

type fence struct {
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f
}

func (f *fence) signal() {
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

type recording struct {
	open     bool
	ended    bool
	commands []string
	fb       driver.Framebuffer
}

// Device is a fake device. The zero value is not usable; use
// NewDevice.
type Device struct {
	mu sync.Mutex

	// AutoComplete signals a submission's completion marker as soon
	// as it is submitted.
	AutoComplete bool

	// Fail maps an operation name to the error it returns. Names
	// match the method names, e.g. "Submit" or "CreatePipeline".
	Fail map[string]error

	next       uint64
	fences     map[driver.Fence]*fence
	signals    map[driver.Semaphore]bool
	buffers    map[driver.CommandBuffer]*recording
	pending    map[driver.CommandBuffer]driver.Fence
	resources  map[uint64]string
	surfaces   []*Surface
	events     []string
	waits      map[driver.Fence]int
	submits    []Submission
	recordings map[driver.CommandBuffer][][]string
	violations []string
}

func NewDevice() *Device {
	return &Device{
		AutoComplete: true,
		Fail:         make(map[string]error),
		fences:       make(map[driver.Fence]*fence),
		signals:      make(map[driver.Semaphore]bool),
		buffers:      make(map[driver.CommandBuffer]*recording),
		pending:      make(map[driver.CommandBuffer]driver.Fence),
		resources:    make(map[uint64]string),
		waits:        make(map[driver.Fence]int),
		recordings:   make(map[driver.CommandBuffer][][]string),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) log(format string, args ...any) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) fail(op string) error {
	if err, ok := d.Fail[op]; ok {
		return errors.Wrapf(err, "drivertest: %s", op)
	}
	return nil
}

func (d *Device) GraphicsQueue() driver.Queue { return GraphicsQueue }
func (d *Device) PresentQueue() driver.Queue  { return PresentQueue }

func (d *Device) CreateCommandBuffers(n int) ([]driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateCommandBuffers"); err != nil {
		return nil, err
	}
	bufs := make([]driver.CommandBuffer, n)
	for i := range bufs {
		bufs[i] = driver.CommandBuffer(d.handle())
		d.buffers[bufs[i]] = &recording{}
	}
	d.log("CreateCommandBuffers %d", n)
	return bufs, nil
}

func (d *Device) FreeCommandBuffers(bufs []driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range bufs {
		if f, ok := d.pending[cb]; ok {
			d.violate("command buffer %d freed while fence %d pending", cb, f)
		}
		delete(d.buffers, cb)
		delete(d.pending, cb)
	}
	d.log("FreeCommandBuffers %d", len(bufs))
}

// checkReuse reports a violation if cb is still owned by a submission
// whose completion has not been observed.
func (d *Device) checkReuse(cb driver.CommandBuffer, op string) {
	if f, ok := d.pending[cb]; ok {
		d.violate("%s on command buffer %d before fence %d was observed", op, cb, f)
	}
}

func (d *Device) ResetRecording(cb driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.buffers[cb]
	if !ok {
		return errors.Newf("drivertest: unknown command buffer %d", cb)
	}
	d.checkReuse(cb, "reset")
	*r = recording{}
	return d.fail("ResetRecording")
}

func (d *Device) BeginRecording(cb driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.buffers[cb]
	if !ok {
		return errors.Newf("drivertest: unknown command buffer %d", cb)
	}
	d.checkReuse(cb, "begin")
	*r = recording{open: true}
	return d.fail("BeginRecording")
}

func (d *Device) EndRecording(cb driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.buffers[cb]
	if !ok || !r.open {
		return errors.Newf("drivertest: command buffer %d is not recording", cb)
	}
	if err := d.fail("EndRecording"); err != nil {
		return err
	}
	r.open = false
	r.ended = true
	d.recordings[cb] = append(d.recordings[cb], append([]string(nil), r.commands...))
	return nil
}

func (d *Device) cmd(cb driver.CommandBuffer, format string, args ...any) *recording {
	r, ok := d.buffers[cb]
	if !ok || !r.open {
		d.violate("command on buffer %d outside recording", cb)
		return nil
	}
	r.commands = append(r.commands, fmt.Sprintf(format, args...))
	return r
}

func (d *Device) CmdBeginRenderPass(cb driver.CommandBuffer, begin driver.RenderPassBegin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.cmd(cb, "BeginRenderPass rp=%d fb=%d area=%s clear=%v",
		begin.RenderPass, begin.Framebuffer, begin.Area, begin.ClearColor)
	if r != nil {
		r.fb = begin.Framebuffer
	}
	return nil
}

func (d *Device) CmdBindPipeline(cb driver.CommandBuffer, p driver.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmd(cb, "BindPipeline %d", p)
}

func (d *Device) CmdBindVertexBuffers(cb driver.CommandBuffer, first int, bufs []driver.Buffer, offsets []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmd(cb, "BindVertexBuffers first=%d bufs=%v offsets=%v", first, bufs, offsets)
}

func (d *Device) CmdDraw(cb driver.CommandBuffer, vertexCount, instanceCount int, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmd(cb, "Draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdEndRenderPass(cb driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cmd(cb, "EndRenderPass")
}

func (d *Device) Submit(q driver.Queue, info driver.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("Submit"); err != nil {
		return err
	}
	if len(info.Wait) != len(info.WaitStages) {
		d.violate("submit: %d wait semaphores with %d stages", len(info.Wait), len(info.WaitStages))
	}
	sub := Submission{Queue: q, Info: info}
	for _, cb := range info.Buffers {
		r, ok := d.buffers[cb]
		if !ok || !r.ended {
			d.violate("submit: command buffer %d not recorded", cb)
			continue
		}
		sub.Framebuffer = r.fb
		if info.Completion != 0 {
			d.pending[cb] = info.Completion
		}
	}
	if info.Completion != 0 {
		f, ok := d.fences[info.Completion]
		if !ok {
			return errors.Newf("drivertest: unknown fence %d", info.Completion)
		}
		if f.signaled {
			d.violate("submit: fence %d already signaled", info.Completion)
		}
		if d.AutoComplete {
			f.signal()
		}
	}
	d.submits = append(d.submits, sub)
	d.log("Submit")
	return nil
}

// observe records that f was seen signaled, releasing every command
// buffer it guarded.
func (d *Device) observe(f driver.Fence) {
	d.waits[f]++
	for cb, pf := range d.pending {
		if pf == f {
			delete(d.pending, cb)
		}
	}
}

func (d *Device) WaitCompletion(f driver.Fence, timeout time.Duration) error {
	d.mu.Lock()
	if err := d.fail("WaitCompletion"); err != nil {
		d.mu.Unlock()
		return err
	}
	st, ok := d.fences[f]
	if !ok {
		d.mu.Unlock()
		return errors.Newf("drivertest: unknown fence %d", f)
	}
	if st.signaled {
		d.observe(f)
		d.mu.Unlock()
		return nil
	}
	if timeout <= 0 {
		d.mu.Unlock()
		return errors.Wrapf(driver.ErrTimeout, "fence %d", f)
	}
	done := st.done
	d.mu.Unlock()

	var expired <-chan time.Time
	if timeout != driver.NoTimeout {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-done:
	case <-expired:
		return errors.Wrapf(driver.ErrTimeout, "fence %d", f)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.observe(f)
	return nil
}

func (d *Device) ResetCompletion(f driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.fences[f]
	if !ok {
		return errors.Newf("drivertest: unknown fence %d", f)
	}
	if !st.signaled {
		return nil
	}
	d.fences[f] = newFence(false)
	return d.fail("ResetCompletion")
}

// Complete signals f as if the work guarding it had finished.
func (d *Device) Complete(f driver.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.fences[f]; ok {
		st.signal()
	}
}

func (d *Device) CreateSignal() (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateSignal"); err != nil {
		return 0, err
	}
	s := driver.Semaphore(d.handle())
	d.signals[s] = true
	return s, nil
}

func (d *Device) DestroySignal(s driver.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.signals, s)
}

func (d *Device) CreateCompletionMarker(signaled bool) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("CreateCompletionMarker"); err != nil {
		return 0, err
	}
	f := driver.Fence(d.handle())
	d.fences[f] = newFence(signaled)
	return f, nil
}

func (d *Device) DestroyCompletionMarker(f driver.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
}

// WaitIdle completes every outstanding submission.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("WaitIdle"); err != nil {
		return err
	}
	for _, cbFence := range d.pending {
		if st, ok := d.fences[cbFence]; ok {
			st.signal()
		}
	}
	d.pending = make(map[driver.CommandBuffer]driver.Fence)
	d.log("WaitIdle")
	return nil
}

func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submits...)
}

// Recordings returns every completed recording of cb, oldest first.
func (d *Device) Recordings(cb driver.CommandBuffer) [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.recordings[cb]...)
}

// Waits returns how many times f was observed signaled.
func (d *Device) Waits(f driver.Fence) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waits[f]
}

func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// Violations lists every reuse or ordering rule broken so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live reports the number of semaphores, fences and command buffers
// that have not been destroyed.
func (d *Device) Live() (signals, fences, buffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.signals), len(d.fences), len(d.buffers)
}
