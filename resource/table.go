package resource

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/memory"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotLive
	slotRetired
)

type slot[D comparable, N any] struct {
	generation uint32
	state      slotState

	name        string
	description D
	native      N
	allocation  *memory.Allocation

	// stamp is the pending transfer fence stamp the resource was retired at
	stamp uint64
}

// kindOps connects a table to the backend calls for one kind of resource
type kindOps[D comparable, N any] struct {
	kind     string
	validate func(D) error
	usage    func(D) memory.Usage
	create   func(name string, description D) (N, memory.Requirements, error)
	bind     func(native N, alloc *memory.Allocation) error
	destroy  func(native N)
}

// Table maps handles of one resource kind to their backend objects and memory. Every slot is
// either free, live or retired. A live slot is reachable by handle and by name. A retired slot is
// reachable only by handle through Restore, and is reclaimed by FlushRetired once the transfer
// queue has resolved past the stamp it was retired at.
//
// A Table is driven from a single goroutine. Lookups against a table that is not being mutated
// may be made from any goroutine.
type Table[H handle, D comparable, N any] struct {
	logger *slog.Logger
	pool   *memory.Pool
	fences fence.Source
	ops    kindOps[D, N]

	slots       []slot[D, N]
	freeIndices []uint32
	live        *swiss.Map[string, uint32]
	retired     []uint32

	frameStamp uint64
}

// BufferTable is the Table holding a Manager's buffers
type BufferTable = Table[BufferHandle, BufferDescription, NativeBuffer]

// TextureTable is the Table holding a Manager's textures
type TextureTable = Table[TextureHandle, TextureDescription, NativeTexture]

func newTable[H handle, D comparable, N any](logger *slog.Logger, pool *memory.Pool, fences fence.Source, ops kindOps[D, N], capacity int) *Table[H, D, N] {
	return &Table[H, D, N]{
		logger: logger,
		pool:   pool,
		fences: fences,
		ops:    ops,
		slots:  make([]slot[D, N], 0, capacity),
		live:   swiss.NewMap[string, uint32](uint32(capacity)),
	}
}

func (t *Table[H, D, N]) advance(stamp uint64) {
	t.frameStamp = stamp
}

func (t *Table[H, D, N]) slot(h H, state slotState) (*slot[D, N], bool) {
	index, generation := splitHandle(h)
	if generation == 0 || int(index) >= len(t.slots) {
		return nil, false
	}

	s := &t.slots[index]
	if s.generation != generation || s.state != state {
		return nil, false
	}
	return s, true
}

// Create builds a new resource called name. A live resource that already has the name is retired
// first, so earlier handles to it keep working until it is reclaimed.
func (t *Table[H, D, N]) Create(name string, description D) (H, error) {
	err := t.ops.validate(description)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %q", t.ops.kind, name)
	}

	if index, ok := t.live.Get(name); ok {
		t.retireIndex(index)
	}

	native, requirements, err := t.ops.create(name, description)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s %q", t.ops.kind, name)
	}

	alloc, err := t.pool.Alloc(t.ops.usage(description), requirements)
	if err != nil {
		t.ops.destroy(native)
		return 0, errors.Wrapf(err, "failed to allocate memory for %s %q", t.ops.kind, name)
	}
	alloc.SetName(name)

	err = t.ops.bind(native, alloc)
	if err != nil {
		t.ops.destroy(native)
		return 0, errors.CombineErrors(
			errors.Wrapf(err, "failed to bind memory to %s %q", t.ops.kind, name),
			t.pool.Free(alloc))
	}

	var index uint32
	if count := len(t.freeIndices); count > 0 {
		index = t.freeIndices[count-1]
		t.freeIndices = t.freeIndices[:count-1]
	} else {
		if len(t.slots) == math.MaxUint32 {
			t.ops.destroy(native)
			return 0, errors.CombineErrors(
				errors.Newf("%s table is full", t.ops.kind),
				t.pool.Free(alloc))
		}
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot[D, N]{generation: 1})
	}

	s := &t.slots[index]
	s.state = slotLive
	s.name = name
	s.description = description
	s.native = native
	s.allocation = alloc
	t.live.Put(name, index)

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "created resource",
		slog.String("kind", t.ops.kind),
		slog.String("name", name),
		slog.Int("index", int(index)),
		slog.Int("generation", int(s.generation)),
		slog.Int("memoryType", alloc.MemoryTypeIndex()),
		slog.Bool("dedicated", alloc.IsDedicated()))

	return makeHandle[H](index, s.generation), nil
}

func (t *Table[H, D, N]) retireIndex(index uint32) {
	s := &t.slots[index]
	s.state = slotRetired
	s.stamp = t.frameStamp
	t.live.Delete(s.name)
	t.retired = append(t.retired, index)
}

// Retire moves a live resource to the retired set, stamped with the pending transfer fence stamp
// captured by the last Advance. It returns false if h is not live.
func (t *Table[H, D, N]) Retire(h H) bool {
	index, _ := splitHandle(h)
	if _, ok := t.slot(h, slotLive); !ok {
		return false
	}
	t.retireIndex(index)
	return true
}

// RetireByName retires the live resource called name. It returns false if there is none.
func (t *Table[H, D, N]) RetireByName(name string) bool {
	index, ok := t.live.Get(name)
	if !ok {
		return false
	}
	t.retireIndex(index)
	return true
}

// Restore brings a retired resource back to life under its old name. It returns false if h is
// not retired, or if another live resource has since taken the name.
func (t *Table[H, D, N]) Restore(h H) bool {
	s, ok := t.slot(h, slotRetired)
	if !ok || t.live.Has(s.name) {
		return false
	}

	index, _ := splitHandle(h)
	t.retired = slices.DeleteFunc(t.retired, func(i uint32) bool { return i == index })
	s.state = slotLive
	s.stamp = 0
	t.live.Put(s.name, index)
	return true
}

// FindOrCreate returns the live resource called name if its description matches. A live
// resource with a different description is retired and replaced. A retired resource with the
// name and a matching description is restored rather than recreated.
func (t *Table[H, D, N]) FindOrCreate(name string, description D) (H, error) {
	if index, ok := t.live.Get(name); ok {
		s := &t.slots[index]
		if s.description == description {
			return makeHandle[H](index, s.generation), nil
		}
		return t.Create(name, description)
	}

	for i := len(t.retired) - 1; i >= 0; i-- {
		index := t.retired[i]
		s := &t.slots[index]
		if s.name != name || s.description != description {
			continue
		}

		h := makeHandle[H](index, s.generation)
		t.Restore(h)
		return h, nil
	}

	return t.Create(name, description)
}

// FlushRetired reclaims every retired resource whose stamp the transfer queue has resolved past
// and returns how many were reclaimed. Entries that failed to reclaim are still removed.
func (t *Table[H, D, N]) FlushRetired() (int, error) {
	resolved := t.fences.ResolvedFenceStamp(fence.QueueTransfer)

	var err error
	reclaimed := 0
	t.retired = slices.DeleteFunc(t.retired, func(index uint32) bool {
		if t.slots[index].stamp >= resolved {
			return false
		}
		err = errors.CombineErrors(err, t.reclaim(index))
		reclaimed++
		return true
	})

	if reclaimed > 0 {
		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "reclaimed retired resources",
			slog.String("kind", t.ops.kind),
			slog.Int("count", reclaimed),
			slog.Uint64("resolved", resolved),
			slog.Int("remaining", len(t.retired)))
	}
	return reclaimed, err
}

func (t *Table[H, D, N]) reclaim(index uint32) error {
	s := &t.slots[index]
	t.ops.destroy(s.native)
	err := t.pool.Free(s.allocation)
	if err != nil {
		err = errors.Wrapf(err, "failed to free memory of %s %q", t.ops.kind, s.name)
	}

	generation := s.generation + 1
	if generation == 0 {
		generation = 1
	}
	*s = slot[D, N]{generation: generation}
	t.freeIndices = append(t.freeIndices, index)
	return err
}

// destroy retires every live resource and reclaims everything regardless of fence stamps. The
// caller must have waited for the device to go idle.
func (t *Table[H, D, N]) destroy() error {
	var err error
	for index := range t.slots {
		if t.slots[index].state != slotFree {
			err = errors.CombineErrors(err, t.reclaim(uint32(index)))
		}
	}
	t.retired = t.retired[:0]
	t.live.Clear()
	return err
}

// Lookup returns the backend object behind a live handle
func (t *Table[H, D, N]) Lookup(h H) (N, bool) {
	s, ok := t.slot(h, slotLive)
	if !ok {
		var zero N
		return zero, false
	}
	return s.native, true
}

// LookupByName returns the handle of the live resource called name
func (t *Table[H, D, N]) LookupByName(name string) (H, bool) {
	index, ok := t.live.Get(name)
	if !ok {
		return 0, false
	}
	return makeHandle[H](index, t.slots[index].generation), true
}

// Allocation returns the memory bound to a live handle
func (t *Table[H, D, N]) Allocation(h H) (*memory.Allocation, bool) {
	s, ok := t.slot(h, slotLive)
	if !ok {
		return nil, false
	}
	return s.allocation, true
}

// Description returns the description a live handle was created with
func (t *Table[H, D, N]) Description(h H) (D, bool) {
	s, ok := t.slot(h, slotLive)
	if !ok {
		var zero D
		return zero, false
	}
	return s.description, true
}

// Name returns the name of a live or retired handle
func (t *Table[H, D, N]) Name(h H) (string, bool) {
	s, ok := t.slot(h, slotLive)
	if !ok {
		s, ok = t.slot(h, slotRetired)
	}
	if !ok {
		return "", false
	}
	return s.name, true
}

// IsLive reports whether h refers to a live resource
func (t *Table[H, D, N]) IsLive(h H) bool {
	_, ok := t.slot(h, slotLive)
	return ok
}

// IsRetired reports whether h refers to a resource waiting to be reclaimed
func (t *Table[H, D, N]) IsRetired(h H) bool {
	_, ok := t.slot(h, slotRetired)
	return ok
}

// Len is the number of live resources
func (t *Table[H, D, N]) Len() int {
	return t.live.Count()
}

// RetiredLen is the number of resources waiting to be reclaimed
func (t *Table[H, D, N]) RetiredLen() int {
	return len(t.retired)
}

// Each calls callback for every live resource until it returns false
func (t *Table[H, D, N]) Each(callback func(h H, name string, description D) bool) {
	for index := range t.slots {
		s := &t.slots[index]
		if s.state != slotLive {
			continue
		}
		if !callback(makeHandle[H](uint32(index), s.generation), s.name, s.description) {
			return
		}
	}
}
