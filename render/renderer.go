// Package render drives a compiled frame graph once per tick: it realises the graph's resources,
// records every pass in parallel and submits the results in order.
package render

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/foundry/fence"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/resource"
	"golang.org/x/sync/errgroup"
)

// ErrNotConfigured is returned by Tick before a graph has been configured
var ErrNotConfigured = errors.New("renderer has no frame graph")

// Options configures a Renderer
type Options struct {
	// Workers bounds how many passes are recorded at once. Zero uses GOMAXPROCS.
	Workers int
}

// TickStats describes the work done by one Tick
type TickStats struct {
	Recorded  int
	Submitted int
	Reclaimed int
}

// Renderer is driven from a single goroutine. Resource bookkeeping happens on that goroutine and
// only recording fans out to workers.
//
// Retired resources are reclaimed once the transfer queue resolves past their retirement stamp,
// and graphic and compute submissions are not consulted. A Backend must not signal a transfer
// stamp before the graphic and compute work submitted ahead of it in the same tick has finished
// reading those resources.
type Renderer struct {
	logger    *slog.Logger
	backend   Backend
	resources *resource.Manager
	fences    *fence.Timeline
	workers   int

	graph *framegraph.Graph
	view  *resourceView
}

func New(logger *slog.Logger, backend Backend, resources *resource.Manager, fences *fence.Timeline, options Options) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil || resources == nil || fences == nil {
		return nil, errors.New("a renderer requires a backend, a resource manager and a fence timeline")
	}

	workers := options.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Renderer{
		logger:    logger,
		backend:   backend,
		resources: resources,
		fences:    fences,
		workers:   workers,
	}, nil
}

// Configure compiles passes and makes the result the graph for subsequent ticks. On a compile
// error the previous graph is kept. Resources owned by the previous graph that the new one no
// longer owns are retired.
func (r *Renderer) Configure(passes []framegraph.Pass, root string) error {
	graph, err := framegraph.Compile(passes, root)
	if err != nil {
		return err
	}

	if r.graph != nil {
		retired := 0
		for _, old := range r.graph.Resources() {
			if !old.IsOwned() {
				continue
			}
			current, ok := graph.Resource(old.Name)
			if ok && current.IsOwned() && current.Description.IsBuffer() == old.Description.IsBuffer() {
				continue
			}

			if old.Description.IsBuffer() && r.resources.Buffers.RetireByName(old.Name) {
				retired++
			}
			if old.Description.IsTexture() && r.resources.Textures.RetireByName(old.Name) {
				retired++
			}
		}

		if retired > 0 {
			r.logger.LogAttrs(context.Background(), slog.LevelDebug, "retired resources dropped from the frame graph",
				slog.Int("count", retired))
		}
	}

	r.graph = graph
	r.view = nil

	r.logger.LogAttrs(context.Background(), slog.LevelInfo, "configured frame graph",
		slog.String("root", root),
		slog.Any("order", graph.Order()),
		slog.Int("resources", len(graph.Resources())))
	return nil
}

// Graph returns the configured graph, or nil
func (r *Renderer) Graph() *framegraph.Graph {
	return r.graph
}

func (r *Renderer) realise() (*resourceView, error) {
	view := &resourceView{
		manager:  r.resources,
		buffers:  make(map[string]resource.BufferHandle),
		textures: make(map[string]resource.TextureHandle),
	}

	for _, info := range r.graph.Resources() {
		if !info.IsOwned() {
			continue
		}

		switch {
		case info.Description.IsBuffer():
			description := *info.Description.Buffer
			description.Usage = info.BufferUsage
			h, err := r.resources.Buffers.FindOrCreate(info.Name, description)
			if err != nil {
				return nil, err
			}
			view.buffers[info.Name] = h
		case info.Description.IsTexture():
			description := *info.Description.Texture
			description.Usage = info.TextureUsage
			h, err := r.resources.Textures.FindOrCreate(info.Name, description)
			if err != nil {
				return nil, err
			}
			view.textures[info.Name] = h
		}
	}

	return view, nil
}

// Tick renders one frame. Resources are realised, every scheduled pass is recorded and the
// recordings are enqueued in compiled order, each submission taking a fence stamp on the queue
// of its pass. Retired resources whose stamps have resolved are reclaimed at the end.
func (r *Renderer) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats
	if r.graph == nil {
		return stats, ErrNotConfigured
	}

	r.resources.Advance()

	view, err := r.realise()
	if err != nil {
		return stats, errors.Wrap(err, "failed to realise frame graph resources")
	}
	r.view = view

	order := r.graph.Order()
	lists := make([]framegraph.CommandList, len(order))
	recorded := make([]bool, len(order))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)
	for index, name := range order {
		setup, _ := r.graph.Setup(name)
		if setup.Record == nil {
			continue
		}

		stats.Recorded++
		group.Go(func() error {
			list, err := setup.Record(groupCtx, view)
			if err != nil {
				return errors.Wrapf(err, "failed to record pass %q", name)
			}
			lists[index] = list
			recorded[index] = true
			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		return stats, err
	}

	for index, name := range order {
		if !recorded[index] {
			continue
		}

		pass, _ := r.graph.Pass(name)
		queue, err := QueueFor(pass.Kind())
		if err != nil {
			return stats, err
		}

		stamp := r.fences.Submit(queue)
		err = r.backend.EnqueueCommands(queue, stamp, lists[index])
		if err != nil {
			return stats, errors.Wrapf(err, "failed to enqueue pass %q on the %s queue", name, queue)
		}
		stats.Submitted++
	}

	stats.Reclaimed, err = r.resources.FlushRetired()
	if err != nil {
		return stats, err
	}

	r.logger.LogAttrs(ctx, slog.LevelDebug, "rendered frame",
		slog.Int("recorded", stats.Recorded),
		slog.Int("submitted", stats.Submitted),
		slog.Int("reclaimed", stats.Reclaimed))
	return stats, nil
}

// Resources returns the view the last Tick's recorders saw, or nil before the first Tick after
// Configure
func (r *Renderer) Resources() framegraph.Resources {
	if r.view == nil {
		return nil
	}
	return r.view
}

// WaitIdle blocks until every queue has finished its submitted work
func (r *Renderer) WaitIdle(ctx context.Context) error {
	r.logger.LogAttrs(ctx, slog.LevelInfo, "waiting for the device to go idle")
	return r.fences.WaitAllIdle(ctx)
}

// Close waits for the device to go idle and destroys every resource
func (r *Renderer) Close(ctx context.Context) error {
	err := r.WaitIdle(ctx)
	if err != nil {
		return err
	}

	r.graph = nil
	r.view = nil
	return r.resources.Destroy()
}
