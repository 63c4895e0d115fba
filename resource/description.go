package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/foundry/memory"
)

// BufferDescription holds the creation parameters of a buffer. Two buffers with equal
// descriptions are interchangeable.
type BufferDescription struct {
	Size   int
	Usage  gputypes.BufferUsage
	Memory memory.Usage
}

func (d BufferDescription) Validate() error {
	if d.Size < 1 {
		return errors.Wrapf(ErrInvalidDescription, "buffer size is %d", d.Size)
	}
	if !d.Memory.IsValid() {
		return errors.Wrapf(ErrInvalidDescription, "unknown memory usage %d", d.Memory)
	}
	return nil
}

// TextureDescription holds the creation parameters of a texture. Two textures with equal
// descriptions are interchangeable.
type TextureDescription struct {
	Format      gputypes.TextureFormat
	Dimension   gputypes.TextureDimension
	Size        gputypes.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Usage       gputypes.TextureUsage
	Memory      memory.Usage
}

func (d TextureDescription) Validate() error {
	if d.Format == gputypes.TextureFormatUndefined {
		return errors.Wrap(ErrInvalidDescription, "texture format is undefined")
	}
	if d.Size.Width == 0 || d.Size.Height == 0 || d.Size.DepthOrArrayLayers == 0 {
		return errors.Wrapf(ErrInvalidDescription, "texture extent %dx%dx%d is empty",
			d.Size.Width, d.Size.Height, d.Size.DepthOrArrayLayers)
	}
	if d.MipLevels == 0 {
		return errors.Wrap(ErrInvalidDescription, "texture must have at least one mip level")
	}
	if d.ArrayLayers == 0 {
		return errors.Wrap(ErrInvalidDescription, "texture must have at least one array layer")
	}
	if !d.Memory.IsValid() {
		return errors.Wrapf(ErrInvalidDescription, "unknown memory usage %d", d.Memory)
	}
	return nil
}
