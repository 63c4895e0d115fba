// Package asset reads and writes the mesh blob and material description consumed by the renderer.
package asset

import (
	"github.com/cockroachdb/errors"
)

// Topology is how the vertices of a mesh form primitives
type Topology uint32

const (
	TopologyPoints Topology = iota
	TopologyLines
	TopologyTriangles
)

var topologyMapping = map[Topology]string{
	TopologyPoints:    "Points",
	TopologyLines:     "Lines",
	TopologyTriangles: "Triangles",
}

func (t Topology) String() string {
	str, ok := topologyMapping[t]
	if !ok {
		return "Unknown"
	}
	return str
}

// MeshFlags marks the optional streams present in a mesh
type MeshFlags uint32

const (
	MeshHasNormals MeshFlags = 1 << iota
	MeshHasUVs
	MeshHasIndices
)

// Mesh is one mesh as stored in a blob. Normals and UVs are either empty or have one entry per
// position. Indices, when present, list triangles.
type Mesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Indices   []uint32
	BoneCount uint32
	Topology  Topology
}

func (m *Mesh) Flags() MeshFlags {
	var flags MeshFlags
	if len(m.Normals) > 0 {
		flags |= MeshHasNormals
	}
	if len(m.UVs) > 0 {
		flags |= MeshHasUVs
	}
	if len(m.Indices) > 0 {
		flags |= MeshHasIndices
	}
	return flags
}

func (m *Mesh) Validate() error {
	if m.Topology != TopologyTriangles {
		return errors.Wrapf(ErrUnsupportedTopology, "topology %s", m.Topology)
	}
	if len(m.Positions) == 0 {
		return ErrMissingPositions
	}
	if len(m.Normals) > 0 && len(m.Normals) != len(m.Positions) {
		return errors.Wrapf(ErrFileFormat, "%d normals for %d positions", len(m.Normals), len(m.Positions))
	}
	if len(m.UVs) > 0 && len(m.UVs) != len(m.Positions) {
		return errors.Wrapf(ErrFileFormat, "%d texture coordinates for %d positions", len(m.UVs), len(m.Positions))
	}
	if len(m.Indices)%3 != 0 {
		return errors.Wrapf(ErrNonTriangularFace, "%d indices do not form whole triangles", len(m.Indices))
	}
	for _, index := range m.Indices {
		if int(index) >= len(m.Positions) {
			return errors.Wrapf(ErrFileFormat, "index %d is past the last of %d vertices", index, len(m.Positions))
		}
	}
	if len(m.Indices) == 0 && len(m.Positions)%3 != 0 {
		return errors.Wrapf(ErrNonTriangularFace, "%d unindexed vertices do not form whole triangles", len(m.Positions))
	}
	return nil
}

// SourceMesh is a mesh as it comes out of a scene file, before it is flattened into a Mesh
type SourceMesh struct {
	Name      string
	Topology  Topology
	Positions [][3]float32
	Normals   [][3]float32
	// UVs holds UVComponents values per vertex
	UVs          []float32
	UVComponents int
	// Faces lists the corners of each face as vertex indices
	Faces     [][]uint32
	BoneCount uint32
}

// Convert flattens a source mesh into a Mesh. Only triangle meshes with two-component texture
// coordinates can be converted.
func Convert(source SourceMesh) (Mesh, error) {
	if source.Topology != TopologyTriangles {
		return Mesh{}, errors.Wrapf(ErrUnsupportedTopology, "mesh %q has topology %s", source.Name, source.Topology)
	}
	if len(source.Positions) == 0 {
		return Mesh{}, errors.Wrapf(ErrMissingPositions, "mesh %q", source.Name)
	}

	mesh := Mesh{
		Positions: source.Positions,
		Normals:   source.Normals,
		BoneCount: source.BoneCount,
		Topology:  TopologyTriangles,
	}

	if len(source.UVs) > 0 {
		if source.UVComponents != 2 {
			return Mesh{}, errors.Wrapf(ErrUVComponents, "mesh %q has %d", source.Name, source.UVComponents)
		}
		if len(source.UVs) != 2*len(source.Positions) {
			return Mesh{}, errors.Wrapf(ErrFileFormat, "mesh %q has %d texture coordinate values for %d vertices",
				source.Name, len(source.UVs), len(source.Positions))
		}
		mesh.UVs = make([][2]float32, len(source.Positions))
		for i := range mesh.UVs {
			mesh.UVs[i] = [2]float32{source.UVs[2*i], source.UVs[2*i+1]}
		}
	}

	if len(source.Faces) > 0 {
		mesh.Indices = make([]uint32, 0, 3*len(source.Faces))
		for faceIndex, face := range source.Faces {
			if len(face) != 3 {
				return Mesh{}, errors.Wrapf(ErrNonTriangularFace, "mesh %q face %d has %d corners", source.Name, faceIndex, len(face))
			}
			mesh.Indices = append(mesh.Indices, face...)
		}
	}

	err := mesh.Validate()
	if err != nil {
		return Mesh{}, errors.Wrapf(err, "mesh %q", source.Name)
	}
	return mesh, nil
}
