package mesh

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unknowall/LightVK/driver"
)

func TestLayout(t *testing.T) {
	l := Layout()
	assert.Equal(t, 24, l.Stride)
	assert.Equal(t, []driver.VertexAttribute{
		{Location: 0, Format: driver.FormatRGB32Float, Offset: 0},
		{Location: 1, Format: driver.FormatRGB32Float, Offset: 12},
	}, l.Attributes)
}

func TestTriangleBytes(t *testing.T) {
	m := Triangle()
	require.Equal(t, 3, m.VertexCount())

	b, err := m.Bytes()
	require.NoError(t, err)
	require.Len(t, b, 3*Layout().Stride)

	f := func(i int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	// second vertex: position (0.5, -0.5, 0), color green
	assert.Equal(t, []float32{0.5, -0.5, 0, 0, 1, 0}, []float32{f(6), f(7), f(8), f(9), f(10), f(11)})
}

func TestBytesRejectsPartialTriangles(t *testing.T) {
	_, err := Mesh{}.Bytes()
	assert.Error(t, err)

	_, err = Mesh{Vertices: Triangle().Vertices[:2]}.Bytes()
	assert.Error(t, err)
}
