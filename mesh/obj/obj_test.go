package obj

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `o quad
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
usemtl red
f 1 2 3 4
`

const redMTL = `newmtl red
Kd 1 0 0
`

func TestDecodeTriangulatesFaces(t *testing.T) {
	m, err := Decode(strings.NewReader(quadOBJ), strings.NewReader(redMTL))
	require.NoError(t, err)
	require.Equal(t, 6, m.VertexCount())

	want := []mgl32.Vec3{
		{-1, -1, 0}, {1, -1, 0}, {1, 1, 0},
		{-1, -1, 0}, {1, 1, 0}, {-1, 1, 0},
	}
	for i, v := range m.Vertices {
		assert.Equal(t, want[i], v.Position, "vertex %d", i)
		assert.Equal(t, mgl32.Vec3{1, 0, 0}, v.Color, "vertex %d", i)
	}
}

func TestDecodeWithoutMaterials(t *testing.T) {
	plain := strings.Replace(quadOBJ, "usemtl red\n", "", 1)
	m, err := Decode(strings.NewReader(plain), nil)
	require.NoError(t, err)
	for _, v := range m.Vertices {
		assert.Equal(t, mgl32.Vec3{1, 1, 1}, v.Color)
	}
}

func TestDecodeRejectsEmptyMesh(t *testing.T) {
	_, err := Decode(strings.NewReader("o empty\nv 0 0 0\n"), nil)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	objPath := filepath.Join(dir, "quad.obj")
	require.NoError(t, os.WriteFile(objPath, []byte(quadOBJ), 0o644))

	m, err := Load(objPath, "")
	require.NoError(t, err)
	assert.Equal(t, 6, m.VertexCount())

	_, err = Load(filepath.Join(dir, "missing.obj"), "")
	assert.Error(t, err)
}
