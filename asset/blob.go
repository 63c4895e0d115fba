package asset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
)

// MeshMagic starts every mesh blob
const MeshMagic = "MSH1"

// DefaultMeshDescription is written into blobs when no description is given
const DefaultMeshDescription = "mesh blob: per mesh, positions f32x3, then normals f32x3, uvs f32x2 and indices u32 when flagged, little endian"

const (
	maxMeshCount         = 1 << 20
	maxDescriptionLength = 1 << 16
	// readChunkSize bounds how far an allocation can run ahead of the bytes read into it
	readChunkSize = 64 << 10

	recordSize   = 8 + 8 + 5*4
	positionSize = 3 * 4
	normalSize   = 3 * 4
	uvSize       = 2 * 4
	indexSize    = 4
)

// MeshRecord is the fixed-size metadata stored for each mesh. Offset is counted from the start of
// the blob and Size covers every stream of the mesh.
type MeshRecord struct {
	Offset      uint64
	Size        uint64
	VertexCount uint32
	BoneCount   uint32
	IndexCount  uint32
	Flags       MeshFlags
	Topology    Topology
}

func (r MeshRecord) streamSize() uint64 {
	vertices := uint64(r.VertexCount)
	size := vertices * positionSize
	if r.Flags&MeshHasNormals != 0 {
		size += vertices * normalSize
	}
	if r.Flags&MeshHasUVs != 0 {
		size += vertices * uvSize
	}
	if r.Flags&MeshHasIndices != 0 {
		size += uint64(r.IndexCount) * indexSize
	}
	return size
}

// MeshHeader is everything in a blob ahead of the mesh streams
type MeshHeader struct {
	Description string
	Records     []MeshRecord
}

// formatError reports a read failure as ErrFileFormat, keeping err as detail
func formatError(err error, what string) error {
	return errors.WithSecondaryError(errors.Wrapf(ErrFileFormat, "failed to read %s", what), err)
}

func padding(length int) int {
	return (4 - length%4) % 4
}

func headerSize(descriptionLength, meshCount int) int {
	return len(MeshMagic) + 4 + 4 + descriptionLength + padding(descriptionLength) + meshCount*recordSize
}

// WriteMeshes writes meshes to w as a blob. An empty description is replaced with
// DefaultMeshDescription.
func WriteMeshes(w io.Writer, description string, meshes []Mesh) error {
	if description == "" {
		description = DefaultMeshDescription
	}
	if len(description) > maxDescriptionLength {
		return errors.Wrapf(ErrFileFormat, "description is %d bytes long", len(description))
	}

	records := make([]MeshRecord, len(meshes))
	offset := uint64(headerSize(len(description), len(meshes)))
	for i := range meshes {
		mesh := &meshes[i]
		err := mesh.Validate()
		if err != nil {
			return errors.Wrapf(err, "mesh %d", i)
		}

		records[i] = MeshRecord{
			Offset:      offset,
			VertexCount: uint32(len(mesh.Positions)),
			BoneCount:   mesh.BoneCount,
			IndexCount:  uint32(len(mesh.Indices)),
			Flags:       mesh.Flags(),
			Topology:    mesh.Topology,
		}
		records[i].Size = records[i].streamSize()
		offset += records[i].Size
	}

	out := bufio.NewWriter(w)
	_, err := out.WriteString(MeshMagic)
	if err != nil {
		return err
	}
	err = binary.Write(out, binary.LittleEndian, []uint32{uint32(len(meshes)), uint32(len(description))})
	if err != nil {
		return err
	}
	_, err = out.WriteString(description)
	if err != nil {
		return err
	}
	_, err = out.Write(make([]byte, padding(len(description))))
	if err != nil {
		return err
	}

	err = binary.Write(out, binary.LittleEndian, records)
	if err != nil {
		return err
	}

	for i := range meshes {
		mesh := &meshes[i]
		err = binary.Write(out, binary.LittleEndian, mesh.Positions)
		if err == nil && len(mesh.Normals) > 0 {
			err = binary.Write(out, binary.LittleEndian, mesh.Normals)
		}
		if err == nil && len(mesh.UVs) > 0 {
			err = binary.Write(out, binary.LittleEndian, mesh.UVs)
		}
		if err == nil && len(mesh.Indices) > 0 {
			err = binary.Write(out, binary.LittleEndian, mesh.Indices)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to write mesh %d", i)
		}
	}

	return out.Flush()
}

// ReadMeshHeader reads the description and mesh records at the start of a blob
func ReadMeshHeader(r io.Reader) (*MeshHeader, error) {
	var magic [4]byte
	_, err := io.ReadFull(r, magic[:])
	if err != nil {
		return nil, formatError(err, "magic")
	}
	if string(magic[:]) != MeshMagic {
		return nil, errors.Wrapf(ErrFileFormat, "unexpected magic %q", magic[:])
	}

	var counts [2]uint32
	err = binary.Read(r, binary.LittleEndian, &counts)
	if err != nil {
		return nil, formatError(err, "counts")
	}
	meshCount, descriptionLength := int(counts[0]), int(counts[1])
	if meshCount > maxMeshCount {
		return nil, errors.Wrapf(ErrFileFormat, "blob claims %d meshes", meshCount)
	}
	if descriptionLength > maxDescriptionLength {
		return nil, errors.Wrapf(ErrFileFormat, "blob claims a description of %d bytes", descriptionLength)
	}

	description := make([]byte, descriptionLength+padding(descriptionLength))
	_, err = io.ReadFull(r, description)
	if err != nil {
		return nil, formatError(err, "description")
	}

	records, err := readStream[MeshRecord](r, meshCount)
	if err != nil {
		return nil, formatError(err, "mesh records")
	}

	offset := uint64(headerSize(descriptionLength, meshCount))
	for i, record := range records {
		if record.Offset != offset {
			return nil, errors.Wrapf(ErrFileFormat, "mesh %d starts at %d instead of %d", i, record.Offset, offset)
		}
		if record.Size != record.streamSize() {
			return nil, errors.Wrapf(ErrFileFormat, "mesh %d has %d bytes of streams instead of %d", i, record.Size, record.streamSize())
		}
		if record.Topology != TopologyTriangles {
			return nil, errors.Wrapf(ErrUnsupportedTopology, "mesh %d has topology %s", i, record.Topology)
		}
		offset += record.Size
	}

	return &MeshHeader{
		Description: string(description[:descriptionLength]),
		Records:     records,
	}, nil
}

// readStream reads count values in chunks, so a forged count fails on a short read instead of
// allocating the whole stream up front
func readStream[T any](r io.Reader, count int) ([]T, error) {
	var zero T
	chunk := max(1, readChunkSize/binary.Size(zero))

	values := make([]T, 0, min(count, chunk))
	for len(values) < count {
		start := len(values)
		n := min(count-start, chunk)
		values = slices.Grow(values, n)[:start+n]

		err := binary.Read(r, binary.LittleEndian, values[start:])
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// ReadMeshes reads a whole blob
func ReadMeshes(r io.Reader) (*MeshHeader, []Mesh, error) {
	in := bufio.NewReader(r)
	header, err := ReadMeshHeader(in)
	if err != nil {
		return nil, nil, err
	}

	meshes := make([]Mesh, len(header.Records))
	for i, record := range header.Records {
		mesh := &meshes[i]
		mesh.BoneCount = record.BoneCount
		mesh.Topology = record.Topology

		mesh.Positions, err = readStream[[3]float32](in, int(record.VertexCount))
		if err == nil && record.Flags&MeshHasNormals != 0 {
			mesh.Normals, err = readStream[[3]float32](in, int(record.VertexCount))
		}
		if err == nil && record.Flags&MeshHasUVs != 0 {
			mesh.UVs, err = readStream[[2]float32](in, int(record.VertexCount))
		}
		if err == nil && record.Flags&MeshHasIndices != 0 {
			mesh.Indices, err = readStream[uint32](in, int(record.IndexCount))
		}
		if err != nil {
			return nil, nil, formatError(err, fmt.Sprintf("mesh %d", i))
		}

		err = mesh.Validate()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "mesh %d", i)
		}
	}

	return header, meshes, nil
}
