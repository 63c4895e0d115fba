// Package simulate runs the renderer against in-memory devices, so that the allocator and the
// resource lifecycle can be exercised and measured without a GPU.
package simulate

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/memory/memtest"
	"github.com/vkngwrapper/foundry/memutils"
	"github.com/vkngwrapper/foundry/render"
	"github.com/vkngwrapper/foundry/resource"
	"github.com/vkngwrapper/foundry/resource/restest"
)

const (
	defaultDeviceHeapSize = 1 << 30
	defaultHostHeapSize   = 256 << 20
	defaultSharedHeapSize = 256 << 20
)

// Options configures a simulation run. Heap sizes default to a discrete GPU with a large
// device-local heap and a small host-visible device-local window.
type Options struct {
	Ticks int
	// Latency is how many ticks a submission stays in flight before the device signals it
	Latency int
	Workers int

	DeviceHeapSize int
	HostHeapSize   int
	SharedHeapSize int

	Pool              memory.CreateOptions
	DedicatedTextures bool
	// DetailedStats includes every block in Report.PoolStats
	DetailedStats bool
}

// Report summarizes a simulation run. Memory figures are taken before the renderer is closed.
type Report struct {
	Ticks        int
	Reconfigured int
	Recorded     int
	Submitted    int
	Reclaimed    int
	Uploaded     int

	Peak  memutils.Statistics
	Final memutils.Statistics

	LiveBuffers  int
	LiveTextures int
	// Leaked counts the native objects and driver allocations still alive after shutdown
	Leaked int

	PoolStats string
}

// latentBackend holds every submission for a number of ticks before signalling it
type latentBackend struct {
	timeline *fence.Timeline
	latency  int
	tick     int
	inflight []inflight
}

type inflight struct {
	queue fence.Queue
	stamp uint64
	due   int
}

func (b *latentBackend) EnqueueCommands(queue fence.Queue, stamp uint64, commands framegraph.CommandList) error {
	if b.latency <= 0 {
		return b.timeline.Signal(queue, stamp)
	}
	b.inflight = append(b.inflight, inflight{queue: queue, stamp: stamp, due: b.tick + b.latency})
	return nil
}

// advance signals every submission that is due by tick
func (b *latentBackend) advance(tick int) error {
	b.tick = tick

	remaining := b.inflight[:0]
	for _, submission := range b.inflight {
		if submission.due > tick {
			remaining = append(remaining, submission)
			continue
		}
		err := b.timeline.Signal(submission.queue, submission.stamp)
		if err != nil {
			return err
		}
	}
	b.inflight = remaining
	return nil
}

func (b *latentBackend) drain() error {
	for _, submission := range b.inflight {
		err := b.timeline.Signal(submission.queue, submission.stamp)
		if err != nil {
			return err
		}
	}
	b.inflight = nil
	return nil
}

// Run renders scene for options.Ticks ticks and reports what the allocator and resource manager
// did along the way
func Run(ctx context.Context, logger *slog.Logger, scene Scene, options Options) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if options.Ticks < 1 {
		return nil, errors.Newf("a simulation needs at least one tick, got %d", options.Ticks)
	}

	if options.DeviceHeapSize <= 0 {
		options.DeviceHeapSize = defaultDeviceHeapSize
	}
	if options.HostHeapSize <= 0 {
		options.HostHeapSize = defaultHostHeapSize
	}
	if options.SharedHeapSize <= 0 {
		options.SharedHeapSize = defaultSharedHeapSize
	}

	memoryDevice := memtest.NewDiscreteDevice(options.DeviceHeapSize, options.HostHeapSize, options.SharedHeapSize)
	pool, err := memory.New(logger, memoryDevice, options.Pool)
	if err != nil {
		return nil, err
	}

	device := restest.NewFakeDevice()
	timeline := fence.NewTimeline(logger)
	manager, err := resource.New(logger, device, pool, timeline, resource.Options{DedicatedTextures: options.DedicatedTextures})
	if err != nil {
		return nil, errors.CombineErrors(err, pool.Destroy())
	}

	backend := &latentBackend{timeline: timeline, latency: options.Latency}
	renderer, err := render.New(logger, backend, manager, timeline, render.Options{Workers: options.Workers})
	if err != nil {
		return nil, errors.CombineErrors(err, pool.Destroy())
	}

	report := &Report{}
	runErr := run(ctx, scene, renderer, manager, pool, backend, options, report)

	report.Final = pool.Statistics()
	report.LiveBuffers = manager.Buffers.Len()
	report.LiveTextures = manager.Textures.Len()
	report.PoolStats = pool.BuildStatsString(options.DetailedStats)

	err = backend.drain()
	if err == nil {
		err = renderer.Close(ctx)
	}
	err = errors.CombineErrors(runErr, errors.CombineErrors(err, pool.Destroy()))
	report.Leaked = device.LiveCount() + memoryDevice.LiveCount()

	logger.LogAttrs(ctx, slog.LevelInfo, "simulation finished",
		slog.Int("ticks", report.Ticks),
		slog.Int("submitted", report.Submitted),
		slog.Int("reclaimed", report.Reclaimed),
		slog.String("peakMemory", humanize.IBytes(uint64(report.Peak.BlockBytes))),
		slog.Int("leaked", report.Leaked))
	return report, err
}

func run(
	ctx context.Context,
	scene Scene,
	renderer *render.Renderer,
	manager *resource.Manager,
	pool *memory.Pool,
	backend *latentBackend,
	options Options,
	report *Report,
) error {
	uploader, _ := scene.(Uploader)

	for tick := 0; tick < options.Ticks; tick++ {
		err := ctx.Err()
		if err != nil {
			return err
		}

		err = backend.advance(tick)
		if err != nil {
			return err
		}

		passes, root, changed := scene.Frame(tick)
		if changed || tick == 0 {
			err = renderer.Configure(passes, root)
			if err != nil {
				return errors.Wrapf(err, "failed to configure tick %d", tick)
			}
			report.Reconfigured++
		}

		stats, err := renderer.Tick(ctx)
		if err != nil {
			return errors.Wrapf(err, "tick %d failed", tick)
		}
		report.Ticks++
		report.Recorded += stats.Recorded
		report.Submitted += stats.Submitted
		report.Reclaimed += stats.Reclaimed

		if uploader != nil {
			for _, upload := range uploader.Uploads(tick) {
				h, ok := manager.Buffers.LookupByName(upload.Buffer)
				if !ok {
					return errors.Newf("tick %d uploads to missing buffer %q", tick, upload.Buffer)
				}
				err = manager.UploadSync(h, []resource.UploadRange{{Data: upload.Data}})
				if err != nil {
					return err
				}
				report.Uploaded += len(upload.Data)
			}
		}

		usage := pool.Statistics()
		if usage.BlockBytes > report.Peak.BlockBytes {
			report.Peak = usage
		}
	}
	return nil
}
