package render_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/memory/memtest"
	"github.com/vkngwrapper/foundry/render"
	"github.com/vkngwrapper/foundry/resource"
	"github.com/vkngwrapper/foundry/resource/restest"
)

type submission struct {
	queue    fence.Queue
	stamp    uint64
	commands framegraph.CommandList
}

// fakeBackend completes every submission as soon as it is enqueued, unless it is holding them
type fakeBackend struct {
	mutex       sync.Mutex
	timeline    *fence.Timeline
	submissions []submission
	held        []submission
	hold        bool
	fail        error
}

func (b *fakeBackend) EnqueueCommands(queue fence.Queue, stamp uint64, commands framegraph.CommandList) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.fail != nil {
		return b.fail
	}

	s := submission{queue: queue, stamp: stamp, commands: commands}
	b.submissions = append(b.submissions, s)
	if b.hold {
		b.held = append(b.held, s)
		return nil
	}
	return b.timeline.Signal(queue, stamp)
}

// release completes every held submission and stops holding new ones
func (b *fakeBackend) release(t *testing.T) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, s := range b.held {
		require.NoError(t, b.timeline.Signal(s.queue, s.stamp))
	}
	b.held = nil
	b.hold = false
}

type fixture struct {
	device   *restest.FakeDevice
	timeline *fence.Timeline
	backend  *fakeBackend
	manager  *resource.Manager
	renderer *render.Renderer
}

func newFixture(t *testing.T, options render.Options) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pool, err := memory.New(logger, memtest.NewDiscreteDevice(256<<20, 256<<20, 16<<20), memory.CreateOptions{
		BlockSize: 16 << 20,
	})
	require.NoError(t, err)

	device := restest.NewFakeDevice()
	timeline := fence.NewTimeline(logger)
	manager, err := resource.New(logger, device, pool, timeline, resource.Options{})
	require.NoError(t, err)

	backend := &fakeBackend{timeline: timeline}
	renderer, err := render.New(logger, backend, manager, timeline, options)
	require.NoError(t, err)

	return &fixture{
		device:   device,
		timeline: timeline,
		backend:  backend,
		manager:  manager,
		renderer: renderer,
	}
}

func target(width, height uint32) framegraph.ResourceDescription {
	return framegraph.TextureResource(resource.TextureDescription{
		Format:      gputypes.TextureFormatRGBA8Unorm,
		Dimension:   gputypes.TextureDimension2D,
		Size:        gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Memory:      memory.UsageGPUOnly,
	})
}

// recordName records the pass name after checking that every texture it reads resolves
func recordName(name string, textures ...string) framegraph.Recorder {
	return func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
		for _, texture := range textures {
			if _, ok := resources.Texture(texture); !ok {
				return nil, errors.Newf("%s is not available", texture)
			}
		}
		return name, nil
	}
}

func frame(shadowSize uint32) []framegraph.Pass {
	return []framegraph.Pass{
		framegraph.TransferPass{
			Name: "Upload",
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Create("instances", framegraph.BufferResource(resource.BufferDescription{
							Size:   4096,
							Usage:  gputypes.BufferUsageCopyDst,
							Memory: memory.UsageGPUOnly,
						})),
					},
					Record: recordName("Upload"),
				}, nil
			},
		},
		framegraph.GraphicPass{
			Name: "Shadow",
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Read("instances"),
						framegraph.Create("shadowMap", target(shadowSize, shadowSize)),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "depth",
						Uses: []framegraph.Use{
							{Resource: "shadowMap", Access: framegraph.AccessDepthStencilAttachment},
							{Resource: "instances", Access: framegraph.AccessVertex},
						},
					}},
					Record: recordName("Shadow", "shadowMap"),
				}, nil
			},
		},
		framegraph.ComputePass{
			Name: "Light",
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Read("shadowMap"),
						framegraph.Create("lighting", target(64, 64)),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "resolve",
						Uses: []framegraph.Use{
							{Resource: "shadowMap", Access: framegraph.AccessSampled},
							{Resource: "lighting", Access: framegraph.AccessStorage},
						},
					}},
					Record: recordName("Light", "shadowMap", "lighting"),
				}, nil
			},
		},
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := render.New(nil, nil, nil, nil, render.Options{})
	require.Error(t, err)
}

func TestQueueFor(t *testing.T) {
	queue, err := render.QueueFor(framegraph.KindGraphic)
	require.NoError(t, err)
	require.Equal(t, fence.QueueGraphic, queue)

	queue, err = render.QueueFor(framegraph.KindCompute)
	require.NoError(t, err)
	require.Equal(t, fence.QueueCompute, queue)

	queue, err = render.QueueFor(framegraph.KindTransfer)
	require.NoError(t, err)
	require.Equal(t, fence.QueueTransfer, queue)

	_, err = render.QueueFor(framegraph.Kind(42))
	require.Error(t, err)
}

func TestTickBeforeConfigure(t *testing.T) {
	f := newFixture(t, render.Options{})

	_, err := f.renderer.Tick(context.Background())
	require.ErrorIs(t, err, render.ErrNotConfigured)
	require.Nil(t, f.renderer.Resources())
}

func TestTickSubmitsInOrder(t *testing.T) {
	f := newFixture(t, render.Options{Workers: 2})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))
	require.Equal(t, []string{"Upload", "Shadow", "Light"}, f.renderer.Graph().Order())

	stats, err := f.renderer.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, render.TickStats{Recorded: 3, Submitted: 3}, stats)

	require.Equal(t, []submission{
		{queue: fence.QueueTransfer, stamp: 1, commands: "Upload"},
		{queue: fence.QueueGraphic, stamp: 1, commands: "Shadow"},
		{queue: fence.QueueCompute, stamp: 1, commands: "Light"},
	}, f.backend.submissions)

	shadowMap, ok := f.manager.Textures.LookupByName("shadowMap")
	require.True(t, ok)
	description, ok := f.manager.Textures.Description(shadowMap)
	require.True(t, ok)
	require.Equal(t, gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding, description.Usage)

	instances, ok := f.manager.Buffers.LookupByName("instances")
	require.True(t, ok)
	bufferDescription, ok := f.manager.Buffers.Description(instances)
	require.True(t, ok)
	require.Equal(t, gputypes.BufferUsageCopyDst|gputypes.BufferUsageVertex, bufferDescription.Usage)

	_, ok = f.renderer.Resources().Texture("lighting")
	require.True(t, ok)
	_, ok = f.renderer.Resources().Buffer("shadowMap")
	require.False(t, ok)
}

func TestTickReusesResources(t *testing.T) {
	f := newFixture(t, render.Options{})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))

	for i := 0; i < 5; i++ {
		_, err := f.renderer.Tick(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, 3, f.device.Created)
	require.Equal(t, uint64(5), f.timeline.PendingFenceStamp(fence.QueueTransfer))
}

func TestReconfigureReplacesResources(t *testing.T) {
	f := newFixture(t, render.Options{})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))
	_, err := f.renderer.Tick(context.Background())
	require.NoError(t, err)

	// A bigger shadow map replaces the old one, which waits out the transfer queue
	f.backend.hold = true
	require.NoError(t, f.renderer.Configure(frame(1024), "Light"))
	stats, err := f.renderer.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Reclaimed)
	require.Equal(t, 1, f.manager.Textures.RetiredLen())
	require.Equal(t, 4, f.device.Created)

	f.backend.release(t)
	stats, err = f.renderer.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Reclaimed)
	require.Equal(t, 0, f.manager.Textures.RetiredLen())

	// Dropping the lighting pass retires what only it owned
	require.NoError(t, f.renderer.Configure(frame(1024), "Shadow"))
	require.Equal(t, 1, f.manager.Textures.RetiredLen())
	_, ok := f.manager.Textures.LookupByName("lighting")
	require.False(t, ok)
}

func TestConfigureErrorKeepsGraph(t *testing.T) {
	f := newFixture(t, render.Options{})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))
	graph := f.renderer.Graph()

	err := f.renderer.Configure(frame(512), "Missing")
	require.ErrorIs(t, err, framegraph.ErrMissingPass)
	require.Same(t, graph, f.renderer.Graph())
}

func TestTickRecordFailure(t *testing.T) {
	f := newFixture(t, render.Options{})

	boom := errors.New("boom")
	passes := append(frame(512), framegraph.ComputePass{
		Name: "Broken",
		Setup: func() (framegraph.SetupResult, error) {
			return framegraph.SetupResult{
				Resources: []framegraph.Declaration{framegraph.Read("lighting")},
				Record: func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
					return nil, boom
				},
			}, nil
		},
	})
	require.NoError(t, f.renderer.Configure(passes, "Broken"))

	_, err := f.renderer.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.backend.submissions)
}

func TestTickEnqueueFailure(t *testing.T) {
	f := newFixture(t, render.Options{})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))

	boom := errors.New("device lost")
	f.backend.fail = boom
	_, err := f.renderer.Tick(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRecordingIsBounded(t *testing.T) {
	f := newFixture(t, render.Options{Workers: 2})

	var running, peak atomic.Int32
	recorder := func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
		current := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return "work", nil
	}

	var passes []framegraph.Pass
	var reads []framegraph.Declaration
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		passes = append(passes, framegraph.ComputePass{
			Name: name,
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{framegraph.Create(name, framegraph.BufferResource(resource.BufferDescription{
						Size:   256,
						Memory: memory.UsageGPUOnly,
					}))},
					Record: recorder,
				}, nil
			},
		})
		reads = append(reads, framegraph.Read(name))
	}
	passes = append(passes, framegraph.TransferPass{
		Name: "Gather",
		Setup: func() (framegraph.SetupResult, error) {
			return framegraph.SetupResult{Resources: reads, Record: recorder}, nil
		},
	})
	require.NoError(t, f.renderer.Configure(passes, "Gather"))

	stats, err := f.renderer.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, stats.Recorded)
	require.Equal(t, 7, stats.Submitted)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClose(t *testing.T) {
	f := newFixture(t, render.Options{})
	require.NoError(t, f.renderer.Configure(frame(512), "Light"))
	_, err := f.renderer.Tick(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.renderer.Close(ctx))
	require.Equal(t, 0, f.device.LiveCount())
	require.Nil(t, f.renderer.Graph())
}
