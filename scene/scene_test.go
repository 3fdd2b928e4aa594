package scene

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknowall/LightVK/driver"
	"github.com/unknowall/LightVK/driver/drivertest"
	"github.com/unknowall/LightVK/frame"
	"github.com/unknowall/LightVK/mesh"
)

// ops strips handles from the device event log, keeping only the
// factory calls.
func ops(dev *drivertest.Device) []string {
	var out []string
	for _, ev := range dev.Events() {
		op := strings.Fields(ev)[0]
		if strings.HasPrefix(op, "Create") && op != "CreateCommandBuffers" ||
			strings.HasPrefix(op, "Destroy") || op == "WaitIdle" {
			out = append(out, op)
		}
	}
	return out
}

func TestSetupOrder(t *testing.T) {
	dev := drivertest.NewDevice()

	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateRenderPass",
		"CreateSwapSurface",
		"CreateVertexBuffer",
		"CreateDescriptorSet",
		"CreatePipeline",
	}, ops(dev))
	assert.Equal(t, 3, o.VertexCount())
	assert.NotZero(t, o.RenderPass())
	assert.NotZero(t, o.Pipeline())
	assert.NotZero(t, o.VertexBuffer())
	assert.NotZero(t, o.DescriptorSet())
	assert.Equal(t, drivertest.DefaultExtent, o.Surface().Extent())
}

func TestTeardownReverseOrder(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	created := len(ops(dev))

	require.NoError(t, o.Teardown())
	require.NoError(t, o.Teardown())

	assert.Equal(t, []string{
		"WaitIdle",
		"DestroyPipeline",
		"DestroyDescriptorSet",
		"DestroyBuffer",
		"DestroySwapSurface",
		"DestroyRenderPass",
	}, ops(dev)[created:])
	assert.Zero(t, dev.LiveResources())
	assert.Empty(t, dev.Violations())
}

func TestSetupFailureReleasesCreated(t *testing.T) {
	dev := drivertest.NewDevice()
	dev.Fail["CreateDescriptorSet"] = errors.New("out of pool memory")

	_, err := Setup(dev, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "descriptor set")

	assert.Equal(t, []string{
		"CreateRenderPass",
		"CreateSwapSurface",
		"CreateVertexBuffer",
		"DestroyBuffer",
		"DestroySwapSurface",
		"DestroyRenderPass",
	}, ops(dev))
	assert.Zero(t, dev.LiveResources())
}

func TestSetupRejectsEmptyMesh(t *testing.T) {
	dev := drivertest.NewDevice()
	_, err := Setup(dev, Config{Mesh: mesh.Mesh{}})
	require.Error(t, err)
	assert.Empty(t, ops(dev))
}

func TestRebuildKeepsPipelineWhenExtentUnchanged(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	p := o.Pipeline()

	require.NoError(t, o.Rebuild())

	assert.Equal(t, p, o.Pipeline())
	assert.Equal(t, 1, dev.Surfaces()[0].Rebuilds())
}

func TestRebuildRecreatesPipelineOnResize(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	p := o.Pipeline()

	dev.Surfaces()[0].RebuildExtent = driver.Extent2D{Width: 1024, Height: 768}
	require.NoError(t, o.Rebuild())

	assert.NotEqual(t, p, o.Pipeline())
	assert.Contains(t, dev.Events(), fmt.Sprintf("DestroyPipeline %d", p))

	require.NoError(t, o.Teardown())
	assert.Zero(t, dev.LiveResources())
	assert.Empty(t, dev.Violations())
}

func TestRebuildAfterTeardown(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, o.Teardown())

	assert.Error(t, o.Rebuild())
}

func TestSceneDrivesEngine(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	surf := dev.Surfaces()[0]

	e, err := frame.NewEngine(dev, o.Surface(), o, frame.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), 4))
	surf.RebuildExtent = driver.Extent2D{Width: 640, Height: 480}
	surf.RebuildImages = 3
	e.Invalidate()
	require.NoError(t, e.Run(context.Background(), 6))

	assert.Equal(t, uint64(10), e.Frame())
	assert.Equal(t, 3, e.SlotCount())
	assert.Len(t, dev.Submissions(), 10)
	assert.Len(t, surf.Presentations(), 10)

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, o.Teardown())

	signals, fences, buffers := dev.Live()
	assert.Zero(t, signals+fences+buffers)
	assert.Zero(t, dev.LiveResources())
	assert.Empty(t, dev.Violations())
}

func TestTeardownAfterEngineHangSkipsWaitIdle(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)

	cfg := frame.DefaultConfig()
	cfg.WaitTimeout = 0
	e, err := frame.NewEngine(dev, o.Surface(), o, cfg)
	require.NoError(t, err)
	dev.AutoComplete = false

	err = e.Run(context.Background(), 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, driver.ErrTimeout), "got %v", err)
	mark := len(dev.Events())

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, o.TeardownAfter(e.Err()))

	after := dev.Events()[mark:]
	assert.NotContains(t, after, "WaitIdle")
	var released []string
	for _, ev := range after {
		if op := strings.Fields(ev)[0]; strings.HasPrefix(op, "Destroy") {
			released = append(released, op)
		}
	}
	assert.Contains(t, released, "DestroyPipeline")
	assert.Contains(t, released, "DestroyRenderPass")
	assert.Zero(t, dev.LiveResources())
}

func TestTeardownAfterNilWaits(t *testing.T) {
	dev := drivertest.NewDevice()
	o, err := Setup(dev, DefaultConfig())
	require.NoError(t, err)
	created := len(ops(dev))

	require.NoError(t, o.TeardownAfter(nil))

	assert.Equal(t, "WaitIdle", ops(dev)[created])
	assert.Zero(t, dev.LiveResources())
}

func TestSetupLogs(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	o, err := Setup(drivertest.NewDevice(), cfg)
	require.NoError(t, err)
	require.NoError(t, o.Teardown())

	assert.Contains(t, buf.String(), "scene ready")
	assert.Contains(t, buf.String(), "scene torn down")
}
