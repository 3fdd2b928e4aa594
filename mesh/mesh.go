// Package mesh holds the static geometry drawn every frame.
package mesh

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/unknowall/LightVK/driver"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
}

// Layout describes Vertex to the pipeline: location 0 is the
// position, location 1 the color.
func Layout() driver.VertexLayout {
	v := Vertex{}
	return driver.VertexLayout{
		Stride: int(unsafe.Sizeof(v)),
		Attributes: []driver.VertexAttribute{
			{Location: 0, Format: driver.FormatRGB32Float, Offset: int(unsafe.Offsetof(v.Position))},
			{Location: 1, Format: driver.FormatRGB32Float, Offset: int(unsafe.Offsetof(v.Color))},
		},
	}
}

// Mesh is a non-indexed triangle list.
type Mesh struct {
	Vertices []Vertex
}

func Triangle() Mesh {
	return Mesh{Vertices: []Vertex{
		{Position: mgl32.Vec3{-0.5, -0.5, 0}, Color: mgl32.Vec3{1, 0, 0}},
		{Position: mgl32.Vec3{0.5, -0.5, 0}, Color: mgl32.Vec3{0, 1, 0}},
		{Position: mgl32.Vec3{0, 0.5, 0}, Color: mgl32.Vec3{0, 0, 1}},
	}}
}

func (m Mesh) VertexCount() int { return len(m.Vertices) }

// Bytes packs the vertices in the layout described by Layout.
func (m Mesh) Bytes() ([]byte, error) {
	if len(m.Vertices) == 0 {
		return nil, errors.New("mesh: no vertices")
	}
	if len(m.Vertices)%3 != 0 {
		return nil, errors.Newf("mesh: %d vertices is not a whole number of triangles", len(m.Vertices))
	}

	buf := &bytes.Buffer{}
	buf.Grow(binary.Size(m.Vertices))
	if err := binary.Write(buf, binary.LittleEndian, m.Vertices); err != nil {
		return nil, errors.Wrap(err, "mesh: encode vertices")
	}
	return buf.Bytes(), nil
}
