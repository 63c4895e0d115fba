package resource

import "fmt"

// BufferHandle identifies a buffer in a Manager. The low 32 bits index the slot table and the
// high 32 bits hold the slot's generation, which changes every time the slot is reclaimed, so a
// handle kept past reclamation stops resolving instead of aliasing the slot's next occupant. The
// zero value is never a valid handle.
type BufferHandle uint64

// TextureHandle identifies a texture in a Manager. It is packed the same way as BufferHandle.
type TextureHandle uint64

type handle interface {
	~uint64
}

func makeHandle[H handle](index, generation uint32) H {
	return H(uint64(generation)<<32 | uint64(index))
}

func splitHandle[H handle](h H) (index, generation uint32) {
	return uint32(h), uint32(uint64(h) >> 32)
}

func (h BufferHandle) Index() uint32      { return uint32(h) }
func (h BufferHandle) Generation() uint32 { return uint32(h >> 32) }
func (h BufferHandle) IsValid() bool      { return h.Generation() != 0 }

func (h BufferHandle) String() string {
	return fmt.Sprintf("buffer(%d/%d)", h.Index(), h.Generation())
}

func (h TextureHandle) Index() uint32      { return uint32(h) }
func (h TextureHandle) Generation() uint32 { return uint32(h >> 32) }
func (h TextureHandle) IsValid() bool      { return h.Generation() != 0 }

func (h TextureHandle) String() string {
	return fmt.Sprintf("texture(%d/%d)", h.Index(), h.Generation())
}
