package frame

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknowall/LightVK/driver"
	"github.com/unknowall/LightVK/driver/drivertest"
)

func testTarget() Target {
	return Target{
		RenderPass:   4,
		Framebuffer:  1001,
		Pipeline:     5,
		VertexBuffer: 6,
		VertexCount:  3,
		Extent:       driver.Extent2D{Width: 800, Height: 600},
		ClearColor:   [4]float32{0, 0, 0, 1},
	}
}

func newRecorderBuffer(t *testing.T) (*drivertest.Device, driver.CommandBuffer) {
	t.Helper()
	dev := drivertest.NewDevice()
	bufs, err := dev.CreateCommandBuffers(1)
	require.NoError(t, err)
	return dev, bufs[0]
}

func TestRecorderSequence(t *testing.T) {
	dev, cb := newRecorderBuffer(t)

	require.NoError(t, NewRecorder(dev).Record(cb, testTarget()))

	rec := dev.Recordings(cb)
	require.Len(t, rec, 1)
	assert.Equal(t, []string{
		"BeginRenderPass rp=4 fb=1001 area=800x600 clear=[0 0 0 1]",
		"BindPipeline 5",
		"BindVertexBuffers first=0 bufs=[6] offsets=[0]",
		"Draw 3 1 0 0",
		"EndRenderPass",
	}, rec[0])
	assert.Empty(t, dev.Violations())
}

func TestRecorderIsIdempotent(t *testing.T) {
	dev, cb := newRecorderBuffer(t)
	r := NewRecorder(dev)

	require.NoError(t, r.Record(cb, testTarget()))
	require.NoError(t, r.Record(cb, testTarget()))

	rec := dev.Recordings(cb)
	require.Len(t, rec, 2)
	assert.Equal(t, rec[0], rec[1])
}

func TestRecorderUsesTargetFramebuffer(t *testing.T) {
	dev, cb := newRecorderBuffer(t)
	r := NewRecorder(dev)

	target := testTarget()
	require.NoError(t, r.Record(cb, target))
	target.Framebuffer = 1002
	require.NoError(t, r.Record(cb, target))

	rec := dev.Recordings(cb)
	require.Len(t, rec, 2)
	assert.Contains(t, rec[0][0], "fb=1001")
	assert.Contains(t, rec[1][0], "fb=1002")
}

func TestRecorderRejectsInvalidTargets(t *testing.T) {
	for name, mutate := range map[string]func(*Target){
		"no vertices":    func(t *Target) { t.VertexCount = 0 },
		"empty extent":   func(t *Target) { t.Extent = driver.Extent2D{} },
		"no framebuffer": func(t *Target) { t.Framebuffer = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			dev, cb := newRecorderBuffer(t)
			target := testTarget()
			mutate(&target)

			require.Error(t, NewRecorder(dev).Record(cb, target))
			assert.Empty(t, dev.Recordings(cb))
		})
	}
}

func TestRecorderDeviceErrors(t *testing.T) {
	for op, step := range map[string]string{
		"ResetRecording": "reset command buffer",
		"BeginRecording": "begin command buffer",
		"EndRecording":   "end command buffer",
	} {
		t.Run(op, func(t *testing.T) {
			dev, cb := newRecorderBuffer(t)
			cause := errors.New("device rejected " + op)
			dev.Fail[op] = cause

			err := NewRecorder(dev).Record(cb, testTarget())
			require.Error(t, err)
			assert.True(t, errors.Is(err, cause), "got %v", err)
			assert.Contains(t, err.Error(), step)
			assert.Empty(t, dev.Recordings(cb))
		})
	}
}
