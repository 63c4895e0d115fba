package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/core/v2/common"
)

// AccessFlags says how a sub-unit uses a resource
type AccessFlags int32

var accessFlagsMapping = common.NewFlagStringMapping[AccessFlags]()

func (f AccessFlags) Register(str string) {
	accessFlagsMapping.Register(f, str)
}
func (f AccessFlags) String() string {
	return accessFlagsMapping.FlagsToString(f)
}

const (
	AccessSampled AccessFlags = 1 << iota
	AccessStorage
	AccessColorAttachment
	AccessDepthStencilAttachment
	AccessVertex
	AccessIndex
	AccessIndirect
	AccessUniform
	AccessTransferSrc
	AccessTransferDst
)

// StageFlags hints at the pipeline stages a sub-unit touches a resource from
type StageFlags int32

var stageFlagsMapping = common.NewFlagStringMapping[StageFlags]()

func (f StageFlags) Register(str string) {
	stageFlagsMapping.Register(f, str)
}
func (f StageFlags) String() string {
	return stageFlagsMapping.FlagsToString(f)
}

const (
	StageVertex StageFlags = 1 << iota
	StageFragment
	StageCompute
	StageTransfer
)

func init() {
	AccessSampled.Register("Sampled")
	AccessStorage.Register("Storage")
	AccessColorAttachment.Register("ColorAttachment")
	AccessDepthStencilAttachment.Register("DepthStencilAttachment")
	AccessVertex.Register("Vertex")
	AccessIndex.Register("Index")
	AccessIndirect.Register("Indirect")
	AccessUniform.Register("Uniform")
	AccessTransferSrc.Register("TransferSrc")
	AccessTransferDst.Register("TransferDst")

	StageVertex.Register("Vertex")
	StageFragment.Register("Fragment")
	StageCompute.Register("Compute")
	StageTransfer.Register("Transfer")
}

// Use is a resource touched by a sub-unit
type Use struct {
	Resource string
	Access   AccessFlags
	Stage    StageFlags
}

// SubUnit is a render or dispatch step inside a pass
type SubUnit struct {
	Name string
	Uses []Use
}

const (
	bufferAccess = AccessStorage | AccessVertex | AccessIndex | AccessIndirect | AccessUniform |
		AccessTransferSrc | AccessTransferDst
	textureAccess = AccessSampled | AccessStorage | AccessColorAttachment | AccessDepthStencilAttachment |
		AccessTransferSrc | AccessTransferDst
)

func bufferUsage(access AccessFlags) (gputypes.BufferUsage, AccessFlags) {
	var usage gputypes.BufferUsage
	if access&AccessStorage != 0 {
		usage |= gputypes.BufferUsageStorage
	}
	if access&AccessVertex != 0 {
		usage |= gputypes.BufferUsageVertex
	}
	if access&AccessIndex != 0 {
		usage |= gputypes.BufferUsageIndex
	}
	if access&AccessIndirect != 0 {
		usage |= gputypes.BufferUsageIndirect
	}
	if access&AccessUniform != 0 {
		usage |= gputypes.BufferUsageUniform
	}
	if access&AccessTransferSrc != 0 {
		usage |= gputypes.BufferUsageCopySrc
	}
	if access&AccessTransferDst != 0 {
		usage |= gputypes.BufferUsageCopyDst
	}
	return usage, access &^ bufferAccess
}

func textureUsage(access AccessFlags) (gputypes.TextureUsage, AccessFlags) {
	var usage gputypes.TextureUsage
	if access&AccessSampled != 0 {
		usage |= gputypes.TextureUsageTextureBinding
	}
	if access&AccessStorage != 0 {
		usage |= gputypes.TextureUsageStorageBinding
	}
	if access&(AccessColorAttachment|AccessDepthStencilAttachment) != 0 {
		usage |= gputypes.TextureUsageRenderAttachment
	}
	if access&AccessTransferSrc != 0 {
		usage |= gputypes.TextureUsageCopySrc
	}
	if access&AccessTransferDst != 0 {
		usage |= gputypes.TextureUsageCopyDst
	}
	return usage, access &^ textureAccess
}

// BufferUsageFor returns the buffer usage needed for access. Access that has no meaning for a
// buffer is reported as ErrInvalidAccess.
func BufferUsageFor(access AccessFlags) (gputypes.BufferUsage, error) {
	usage, invalid := bufferUsage(access)
	if invalid != 0 {
		return 0, errors.Wrapf(ErrInvalidAccess, "buffer cannot be used as %s", invalid)
	}
	return usage, nil
}

// TextureUsageFor returns the texture usage needed for access. Access that has no meaning for a
// texture is reported as ErrInvalidAccess.
func TextureUsageFor(access AccessFlags) (gputypes.TextureUsage, error) {
	usage, invalid := textureUsage(access)
	if invalid != 0 {
		return 0, errors.Wrapf(ErrInvalidAccess, "texture cannot be used as %s", invalid)
	}
	return usage, nil
}
