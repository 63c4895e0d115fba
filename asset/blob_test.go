package asset_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/asset"
)

func triangle() asset.Mesh {
	return asset.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Topology:  asset.TopologyTriangles,
	}
}

func quad() asset.Mesh {
	return asset.Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		UVs:       [][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 2, 3, 0},
		BoneCount: 2,
		Topology:  asset.TopologyTriangles,
	}
}

func TestMeshBlobRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, asset.WriteMeshes(&buf, "abc", []asset.Mesh{quad(), triangle()}))

	data := buf.Bytes()
	require.Equal(t, "MSH1", string(data[:4]))
	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(data[8:12]))
	require.Equal(t, []byte{'a', 'b', 'c', 0}, data[12:16])

	// 16 bytes of header and description, then two 36 byte records
	quadSize := uint64(4*12 + 4*12 + 4*8 + 6*4)
	triangleSize := uint64(3 * 12)
	require.Equal(t, uint64(88), binary.LittleEndian.Uint64(data[16:24]))
	require.Equal(t, quadSize, binary.LittleEndian.Uint64(data[24:32]))
	require.Len(t, data, 88+int(quadSize+triangleSize))

	header, meshes, err := asset.ReadMeshes(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "abc", header.Description)
	require.Equal(t, []asset.MeshRecord{
		{
			Offset:      88,
			Size:        quadSize,
			VertexCount: 4,
			BoneCount:   2,
			IndexCount:  6,
			Flags:       asset.MeshHasNormals | asset.MeshHasUVs | asset.MeshHasIndices,
			Topology:    asset.TopologyTriangles,
		},
		{
			Offset:      88 + quadSize,
			Size:        triangleSize,
			VertexCount: 3,
			Topology:    asset.TopologyTriangles,
		},
	}, header.Records)
	require.Equal(t, []asset.Mesh{quad(), triangle()}, meshes)
}

func TestMeshBlobDefaultDescription(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, asset.WriteMeshes(&buf, "", nil))

	header, err := asset.ReadMeshHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, asset.DefaultMeshDescription, header.Description)
	require.Empty(t, header.Records)
}

func TestWriteMeshesValidates(t *testing.T) {
	lines := triangle()
	lines.Topology = asset.TopologyLines

	brokenFace := quad()
	brokenFace.Indices = []uint32{0, 1, 2, 3}

	outOfRange := quad()
	outOfRange.Indices = []uint32{0, 1, 9}

	missingNormals := quad()
	missingNormals.Normals = missingNormals.Normals[:2]

	testCases := map[string]struct {
		mesh asset.Mesh
		err  error
	}{
		"Topology":       {lines, asset.ErrUnsupportedTopology},
		"NoPositions":    {asset.Mesh{Topology: asset.TopologyTriangles}, asset.ErrMissingPositions},
		"PartialFace":    {brokenFace, asset.ErrNonTriangularFace},
		"IndexRange":     {outOfRange, asset.ErrFileFormat},
		"NormalCount":    {missingNormals, asset.ErrFileFormat},
		"UnindexedShape": {asset.Mesh{Positions: [][3]float32{{0, 0, 0}}, Topology: asset.TopologyTriangles}, asset.ErrNonTriangularFace},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := asset.WriteMeshes(&buf, "", []asset.Mesh{testCase.mesh})
			require.ErrorIs(t, err, testCase.err)
		})
	}
}

func TestReadMeshesRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, asset.WriteMeshes(&buf, "test", []asset.Mesh{quad()}))
	valid := buf.Bytes()

	corrupt := func(mutate func(data []byte) []byte) []byte {
		return mutate(bytes.Clone(valid))
	}

	testCases := map[string][]byte{
		"Empty":     {},
		"Magic":     corrupt(func(data []byte) []byte { data[3] = '2'; return data }),
		"Truncated": corrupt(func(data []byte) []byte { return data[:len(data)-1] }),
		"Offset": corrupt(func(data []byte) []byte {
			binary.LittleEndian.PutUint64(data[16:24], 12)
			return data
		}),
		"Size": corrupt(func(data []byte) []byte {
			binary.LittleEndian.PutUint64(data[24:32], 8)
			return data
		}),
		"Topology": corrupt(func(data []byte) []byte {
			binary.LittleEndian.PutUint32(data[48:52], uint32(asset.TopologyPoints))
			return data
		}),
	}

	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			_, _, err := asset.ReadMeshes(bytes.NewReader(data))
			require.Error(t, err)
			if name == "Topology" {
				require.ErrorIs(t, err, asset.ErrUnsupportedTopology)
			} else {
				require.ErrorIs(t, err, asset.ErrFileFormat)
			}
		})
	}
}

// forgedBlob is a header claiming a single mesh with vertexCount positions and no stream data
func forgedBlob(t *testing.T, vertexCount uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString(asset.MeshMagic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []uint32{1, 0}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, asset.MeshRecord{
		Offset:      48,
		Size:        uint64(vertexCount) * 12,
		VertexCount: vertexCount,
		Topology:    asset.TopologyTriangles,
	}))
	require.Equal(t, 48, buf.Len())
	return buf.Bytes()
}

func allocatedBytes(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestReadMeshesBoundsForgedCounts(t *testing.T) {
	for _, count := range []uint32{1 << 26, math.MaxUint32} {
		data := forgedBlob(t, count)

		header, err := asset.ReadMeshHeader(bytes.NewReader(data))
		require.NoError(t, err)
		require.Equal(t, count, header.Records[0].VertexCount)

		allocated := allocatedBytes(func() {
			_, _, err = asset.ReadMeshes(bytes.NewReader(data))
		})
		require.ErrorIs(t, err, asset.ErrFileFormat)
		require.Less(t, allocated, uint64(8<<20))
	}
}

func TestReadMeshHeaderBoundsForgedMeshCount(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(asset.MeshMagic)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []uint32{1 << 20, 0}))

	var err error
	allocated := allocatedBytes(func() {
		_, err = asset.ReadMeshHeader(bytes.NewReader(buf.Bytes()))
	})
	require.ErrorIs(t, err, asset.ErrFileFormat)
	require.Less(t, allocated, uint64(8<<20))
}

func TestConvert(t *testing.T) {
	mesh, err := asset.Convert(asset.SourceMesh{
		Name:         "quad",
		Topology:     asset.TopologyTriangles,
		Positions:    quad().Positions,
		Normals:      quad().Normals,
		UVs:          []float32{0, 0, 1, 0, 1, 1, 0, 1},
		UVComponents: 2,
		Faces:        [][]uint32{{0, 1, 2}, {2, 3, 0}},
		BoneCount:    2,
	})
	require.NoError(t, err)
	require.Equal(t, quad(), mesh)
}

func TestConvertErrors(t *testing.T) {
	positions := quad().Positions

	testCases := map[string]struct {
		source asset.SourceMesh
		err    error
	}{
		"Topology": {
			asset.SourceMesh{Topology: asset.TopologyLines, Positions: positions},
			asset.ErrUnsupportedTopology,
		},
		"Positions": {
			asset.SourceMesh{Topology: asset.TopologyTriangles},
			asset.ErrMissingPositions,
		},
		"Quad": {
			asset.SourceMesh{Topology: asset.TopologyTriangles, Positions: positions, Faces: [][]uint32{{0, 1, 2, 3}}},
			asset.ErrNonTriangularFace,
		},
		"UVComponents": {
			asset.SourceMesh{
				Topology:     asset.TopologyTriangles,
				Positions:    positions,
				UVs:          make([]float32, 12),
				UVComponents: 3,
				Faces:        [][]uint32{{0, 1, 2}},
			},
			asset.ErrUVComponents,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := asset.Convert(testCase.source)
			require.ErrorIs(t, err, testCase.err)
		})
	}
}
