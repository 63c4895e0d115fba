// Package restest provides an in-process resource.Device for tests and dry runs
package restest

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/resource"
)

const (
	BufferAlignment  = 256
	TextureAlignment = 4096
)

// Object is the native buffer or texture handed out by FakeDevice
type Object struct {
	ID        int
	Name      string
	Texture   bool
	Memory    *memory.Allocation
	Destroyed bool
	// Uploaded holds the bytes written by UploadSync, for buffers that are not host visible
	Uploaded []byte
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%d", o.Name, o.ID)
}

// FakeDevice implements resource.Device and records every object it creates
type FakeDevice struct {
	mutex  sync.Mutex
	nextID int
	live   map[int]*Object

	// FailCreate makes creation of the named resources fail
	FailCreate map[string]error
	// DedicatedTextures reports textures at or above this size as preferring dedicated memory.
	// Zero never does.
	DedicatedTextures int

	Created     int
	Destroyed   int
	UploadCount int
}

var _ resource.Device = &FakeDevice{}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		live:       make(map[int]*Object),
		FailCreate: make(map[string]error),
	}
}

// TexelSize is the number of bytes a texel of format takes in FakeDevice memory
func TexelSize(format gputypes.TextureFormat) int {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	default:
		return 8
	}
}

// TextureSize is the number of bytes FakeDevice asks for to back a texture, including its mip chain
func TextureSize(description resource.TextureDescription) int {
	width, height, depth := int(description.Size.Width), int(description.Size.Height), int(description.Size.DepthOrArrayLayers)
	size := 0
	for level := uint32(0); level < description.MipLevels; level++ {
		size += width * height * depth
		width = max(width/2, 1)
		height = max(height/2, 1)
		if description.Dimension == gputypes.TextureDimension3D {
			depth = max(depth/2, 1)
		}
	}
	return size * int(description.ArrayLayers) * TexelSize(description.Format)
}

func (d *FakeDevice) create(name string, texture bool) (*Object, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err, ok := d.FailCreate[name]; ok {
		return nil, err
	}

	d.nextID++
	d.Created++
	obj := &Object{ID: d.nextID, Name: name, Texture: texture}
	d.live[obj.ID] = obj
	return obj, nil
}

func (d *FakeDevice) bind(native any, alloc *memory.Allocation) error {
	obj := native.(*Object)
	if obj.Memory != nil {
		return errors.Errorf("%s is already bound", obj)
	}
	obj.Memory = alloc
	return nil
}

func (d *FakeDevice) destroy(native any) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	obj := native.(*Object)
	if obj.Destroyed {
		panic(fmt.Sprintf("%s destroyed twice", obj))
	}
	obj.Destroyed = true
	delete(d.live, obj.ID)
	d.Destroyed++
}

func (d *FakeDevice) CreateBuffer(name string, description resource.BufferDescription) (resource.NativeBuffer, memory.Requirements, error) {
	obj, err := d.create(name, false)
	if err != nil {
		return nil, memory.Requirements{}, err
	}

	return obj, memory.Requirements{
		MemoryRequirements: core1_0.MemoryRequirements{
			Size:      description.Size,
			Alignment: BufferAlignment,
		},
	}, nil
}

func (d *FakeDevice) BindBufferMemory(buffer resource.NativeBuffer, alloc *memory.Allocation) error {
	return d.bind(buffer, alloc)
}

func (d *FakeDevice) DestroyBuffer(buffer resource.NativeBuffer) {
	d.destroy(buffer)
}

func (d *FakeDevice) CreateTexture(name string, description resource.TextureDescription) (resource.NativeTexture, memory.Requirements, error) {
	obj, err := d.create(name, true)
	if err != nil {
		return nil, memory.Requirements{}, err
	}

	size := TextureSize(description)
	requirements := memory.Requirements{
		MemoryRequirements: core1_0.MemoryRequirements{
			Size:      size,
			Alignment: TextureAlignment,
		},
	}
	if d.DedicatedTextures > 0 && size >= d.DedicatedTextures {
		requirements.Dedicated = memory.DedicatedPreferred
	}
	return obj, requirements, nil
}

func (d *FakeDevice) BindTextureMemory(texture resource.NativeTexture, alloc *memory.Allocation) error {
	return d.bind(texture, alloc)
}

func (d *FakeDevice) DestroyTexture(texture resource.NativeTexture) {
	d.destroy(texture)
}

func (d *FakeDevice) UploadSync(buffer resource.NativeBuffer, alloc *memory.Allocation, ranges []resource.UploadRange) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	obj := buffer.(*Object)
	if obj.Destroyed {
		return errors.Errorf("upload to destroyed %s", obj)
	}
	if obj.Uploaded == nil {
		obj.Uploaded = make([]byte, alloc.Size())
	}
	for _, r := range ranges {
		copy(obj.Uploaded[r.Offset:], r.Data)
	}
	d.UploadCount++
	return nil
}

// LiveCount is the number of objects that have not been destroyed
func (d *FakeDevice) LiveCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.live)
}
