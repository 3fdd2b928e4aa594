// Package obj loads a mesh.Mesh from Wavefront OBJ data.
package obj

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	g3nobj "github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/unknowall/LightVK/mesh"
)

// Decode reads every object in r and flattens it into a triangle
// list. Polygons are fanned from their first vertex. Vertex colors
// come from the diffuse color of the face material, or white. mtl
// may be nil.
func Decode(r io.Reader, mtl io.Reader) (mesh.Mesh, error) {
	if mtl == nil {
		mtl = strings.NewReader("")
	}

	decoder, err := g3nobj.DecodeReader(r, mtl)
	if err != nil {
		return mesh.Mesh{}, errors.Wrap(err, "obj: decode")
	}

	var m mesh.Mesh
	for _, object := range decoder.Objects {
		for _, face := range object.Faces {
			color := faceColor(decoder, face)
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					v, err := position(decoder, face.Vertices[corner])
					if err != nil {
						return mesh.Mesh{}, errors.Wrapf(err, "obj: object %q", object.Name)
					}
					m.Vertices = append(m.Vertices, mesh.Vertex{Position: v, Color: color})
				}
			}
		}
	}

	if len(m.Vertices) == 0 {
		return mesh.Mesh{}, errors.New("obj: no faces")
	}
	return m, nil
}

func position(decoder *g3nobj.Decoder, index int) (mgl32.Vec3, error) {
	if index < 0 || index*3+2 >= len(decoder.Vertices) {
		return mgl32.Vec3{}, errors.Newf("vertex index %d out of range", index)
	}
	return mgl32.Vec3{
		decoder.Vertices[index*3],
		decoder.Vertices[index*3+1],
		decoder.Vertices[index*3+2],
	}, nil
}

func faceColor(decoder *g3nobj.Decoder, face g3nobj.Face) mgl32.Vec3 {
	mat, ok := decoder.Materials[face.Material]
	if !ok || mat == nil {
		return mgl32.Vec3{1, 1, 1}
	}
	return mgl32.Vec3{mat.Diffuse.R, mat.Diffuse.G, mat.Diffuse.B}
}

// Load decodes the OBJ file at objPath. mtlPath may be empty.
func Load(objPath, mtlPath string) (mesh.Mesh, error) {
	objFile, err := os.Open(objPath)
	if err != nil {
		return mesh.Mesh{}, errors.Wrap(err, "obj: open mesh")
	}
	defer objFile.Close()

	var mtl io.Reader
	if mtlPath != "" {
		mtlFile, err := os.Open(mtlPath)
		if err != nil {
			return mesh.Mesh{}, errors.Wrap(err, "obj: open materials")
		}
		defer mtlFile.Close()
		mtl = mtlFile
	}

	return Decode(objFile, mtl)
}
