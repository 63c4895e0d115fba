package asset

import "github.com/cockroachdb/errors"

var (
	// ErrUnsupportedTopology is returned for meshes that are not triangle lists
	ErrUnsupportedTopology = errors.New("unsupported primitive topology")
	// ErrNonTriangularFace is returned for faces that do not have exactly three corners
	ErrNonTriangularFace = errors.New("face is not a triangle")
	// ErrMissingPositions is returned for meshes without vertex positions
	ErrMissingPositions = errors.New("mesh has no vertex positions")
	// ErrUVComponents is returned when texture coordinates do not have two components
	ErrUVComponents = errors.New("texture coordinates must have two components")
	// ErrFileFormat is returned when a mesh blob or material description is malformed
	ErrFileFormat = errors.New("malformed asset file")
)
