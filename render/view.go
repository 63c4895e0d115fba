package render

import (
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/resource"
)

// resourceView resolves graph resource names for recorders. It is rebuilt every tick once the
// resource tables are final, and recorders only read from it.
type resourceView struct {
	manager  *resource.Manager
	buffers  map[string]resource.BufferHandle
	textures map[string]resource.TextureHandle
}

var _ framegraph.Resources = &resourceView{}

func (v *resourceView) Buffer(name string) (resource.NativeBuffer, bool) {
	h, ok := v.buffers[name]
	if !ok {
		return nil, false
	}
	return v.manager.Buffers.Lookup(h)
}

func (v *resourceView) Texture(name string) (resource.NativeTexture, bool) {
	h, ok := v.textures[name]
	if !ok {
		return nil, false
	}
	return v.manager.Textures.Lookup(h)
}
