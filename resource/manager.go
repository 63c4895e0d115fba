// Package resource hands out stable handles for buffers and textures and defers their destruction
// until the device has finished with them.
package resource

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/memory"
)

const defaultTableCapacity = 64

// Options configures a Manager
type Options struct {
	// DedicatedTextures gives every texture a driver allocation of its own when the device does
	// not already ask for one
	DedicatedTextures bool
	// TableCapacity is how many slots each table reserves up front
	TableCapacity int
}

// Manager owns every buffer and texture of a renderer. Resources are retired rather than
// destroyed, and FlushRetired reclaims them once the transfer queue has resolved past the
// fence stamp captured by the Advance that preceded their retirement.
type Manager struct {
	Buffers  *BufferTable
	Textures *TextureTable

	logger *slog.Logger
	device Device
	pool   *memory.Pool
	fences fence.Source
}

func New(logger *slog.Logger, device Device, pool *memory.Pool, fences fence.Source, options Options) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if device == nil || pool == nil || fences == nil {
		return nil, errors.New("a resource manager requires a device, a memory pool and a fence source")
	}

	capacity := options.TableCapacity
	if capacity <= 0 {
		capacity = defaultTableCapacity
	}

	m := &Manager{
		logger: logger,
		device: device,
		pool:   pool,
		fences: fences,
	}

	m.Buffers = newTable[BufferHandle](logger, pool, fences, kindOps[BufferDescription, NativeBuffer]{
		kind:     "buffer",
		validate: BufferDescription.Validate,
		usage:    func(d BufferDescription) memory.Usage { return d.Memory },
		create:   device.CreateBuffer,
		bind:     device.BindBufferMemory,
		destroy:  device.DestroyBuffer,
	}, capacity)

	m.Textures = newTable[TextureHandle](logger, pool, fences, kindOps[TextureDescription, NativeTexture]{
		kind:     "texture",
		validate: TextureDescription.Validate,
		usage:    func(d TextureDescription) memory.Usage { return d.Memory },
		create: func(name string, description TextureDescription) (NativeTexture, memory.Requirements, error) {
			texture, requirements, err := device.CreateTexture(name, description)
			if err == nil && options.DedicatedTextures && requirements.Dedicated == memory.DedicatedNone {
				requirements.Dedicated = memory.DedicatedPreferred
			}
			return texture, requirements, err
		},
		bind:    device.BindTextureMemory,
		destroy: device.DestroyTexture,
	}, capacity)

	return m, nil
}

// Advance snapshots the pending transfer fence stamp. Everything retired until the next Advance is
// stamped with it. It is called once per tick, before any resource is retired.
func (m *Manager) Advance() {
	stamp := m.fences.PendingFenceStamp(fence.QueueTransfer)
	m.Buffers.advance(stamp)
	m.Textures.advance(stamp)
}

// FlushRetired reclaims every buffer and texture whose retirement the transfer queue has resolved
// past, and returns how many were reclaimed
func (m *Manager) FlushRetired() (int, error) {
	buffers, bufferErr := m.Buffers.FlushRetired()
	textures, textureErr := m.Textures.FlushRetired()
	return buffers + textures, errors.CombineErrors(bufferErr, textureErr)
}

// UploadSync copies ranges into a live buffer. Host-visible buffers are written through their
// persistent mapping, anything else goes through the device.
func (m *Manager) UploadSync(h BufferHandle, ranges []UploadRange) error {
	s, ok := m.Buffers.slot(h, slotLive)
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "upload to %s", h)
	}

	total := 0
	for _, r := range ranges {
		if r.Offset < 0 || r.Offset+len(r.Data) > s.description.Size {
			return errors.Wrapf(ErrUploadOutOfRange, "buffer %q of %d bytes cannot take %d bytes at offset %d",
				s.name, s.description.Size, len(r.Data), r.Offset)
		}
		total += len(r.Data)
	}

	mapped := s.allocation.Bytes()
	if mapped != nil {
		for _, r := range ranges {
			copy(mapped[r.Offset:], r.Data)
		}
	} else {
		err := m.device.UploadSync(s.native, s.allocation, ranges)
		if err != nil {
			return errors.Wrapf(err, "failed to upload to buffer %q", s.name)
		}
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "uploaded buffer data",
		slog.String("name", s.name),
		slog.Int("ranges", len(ranges)),
		slog.String("size", humanize.IBytes(uint64(total))),
		slog.Bool("mapped", mapped != nil))
	return nil
}

// Destroy reclaims every resource, live or retired, without consulting fences. The caller must
// have waited for every queue to go idle.
func (m *Manager) Destroy() error {
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "destroying resources",
		slog.Int("buffers", m.Buffers.Len()+m.Buffers.RetiredLen()),
		slog.Int("textures", m.Textures.Len()+m.Textures.RetiredLen()))

	return errors.CombineErrors(m.Buffers.destroy(), m.Textures.destroy())
}
