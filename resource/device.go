package resource

import "github.com/vkngwrapper/foundry/memory"

// NativeBuffer is the backend's buffer object
type NativeBuffer any

// NativeTexture is the backend's texture object
type NativeTexture any

// UploadRange is a run of bytes copied into a buffer at Offset
type UploadRange struct {
	Offset int
	Data   []byte
}

// Device creates and destroys the backend objects behind buffers and textures. Creation returns
// the object unbound, along with what it needs from the memory pool.
type Device interface {
	CreateBuffer(name string, description BufferDescription) (NativeBuffer, memory.Requirements, error)
	BindBufferMemory(buffer NativeBuffer, alloc *memory.Allocation) error
	DestroyBuffer(buffer NativeBuffer)

	CreateTexture(name string, description TextureDescription) (NativeTexture, memory.Requirements, error)
	BindTextureMemory(texture NativeTexture, alloc *memory.Allocation) error
	DestroyTexture(texture NativeTexture)

	// UploadSync copies ranges into a buffer whose memory is not host visible, typically through a
	// staging buffer. It returns once the copy has completed.
	UploadSync(buffer NativeBuffer, alloc *memory.Allocation, ranges []UploadRange) error
}
