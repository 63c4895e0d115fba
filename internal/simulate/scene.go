package simulate

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/resource"
)

// Scene supplies the frame graph rendered at each tick. The renderer is reconfigured whenever
// changed is true, and always on the first tick.
type Scene interface {
	Frame(tick int) (passes []framegraph.Pass, root string, changed bool)
}

// Upload is data written to a named buffer after a tick
type Upload struct {
	Buffer string
	Data   []byte
}

// Uploader is implemented by scenes that write buffer contents every tick
type Uploader interface {
	Uploads(tick int) []Upload
}

// StaticScene renders the same passes every tick
type StaticScene struct {
	Passes []framegraph.Pass
	Root   string
}

func (s StaticScene) Frame(tick int) ([]framegraph.Pass, string, bool) {
	return s.Passes, s.Root, tick == 0
}

const frameConstantsSize = 256

// DemoScene is a small deferred frame: frame constants uploaded on the transfer queue, a shadow
// map, an opaque pass and a post pass writing to an external swapchain image. Every ResizeEvery
// ticks the output toggles between its size and double its size, which replaces the size
// dependent targets.
type DemoScene struct {
	Width, Height uint32
	ShadowSize    uint32
	ResizeEvery   int
}

func (s DemoScene) scale(tick int) uint32 {
	if s.ResizeEvery <= 0 || (tick/s.ResizeEvery)%2 == 0 {
		return 1
	}
	return 2
}

func (s DemoScene) Frame(tick int) ([]framegraph.Pass, string, bool) {
	changed := tick == 0 || (s.ResizeEvery > 0 && tick%s.ResizeEvery == 0)
	scale := s.scale(tick)
	return demoFrame(s.Width*scale, s.Height*scale, s.ShadowSize), "Post", changed
}

func (s DemoScene) Uploads(tick int) []Upload {
	data := make([]byte, frameConstantsSize)
	binary.LittleEndian.PutUint32(data, uint32(tick))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(float32(tick)/60))
	return []Upload{{Buffer: "frameConstants", Data: data}}
}

func target(format gputypes.TextureFormat, width, height uint32) resource.TextureDescription {
	return resource.TextureDescription{
		Format:      format,
		Dimension:   gputypes.TextureDimension2D,
		Size:        gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Memory:      memory.UsageGPUOnly,
	}
}

func passName(name string) framegraph.Recorder {
	return func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
		return name, nil
	}
}

func demoFrame(width, height, shadowSize uint32) []framegraph.Pass {
	return []framegraph.Pass{
		framegraph.GraphicPass{
			Name:  "Post",
			Width: width, Height: height,
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Read("color"),
						framegraph.Create("swapchain", framegraph.ExternalTexture(target(gputypes.TextureFormatBGRA8Unorm, width, height))),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "tonemap",
						Uses: []framegraph.Use{
							{Resource: "color", Access: framegraph.AccessSampled, Stage: framegraph.StageFragment},
							{Resource: "swapchain", Access: framegraph.AccessColorAttachment, Stage: framegraph.StageFragment},
						},
					}},
					Pipelines: []string{"tonemap"},
					Record:    passName("Post"),
				}, nil
			},
		},
		framegraph.GraphicPass{
			Name:  "Opaque",
			Width: width, Height: height,
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Read("shadowMap"),
						framegraph.Read("frameConstants"),
						framegraph.Create("color", framegraph.TextureResource(target(gputypes.TextureFormatRGBA8Unorm, width, height))),
						framegraph.Create("depth", framegraph.TextureResource(target(gputypes.TextureFormatDepth24PlusStencil8, width, height))),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "draw",
						Uses: []framegraph.Use{
							{Resource: "frameConstants", Access: framegraph.AccessUniform, Stage: framegraph.StageVertex | framegraph.StageFragment},
							{Resource: "shadowMap", Access: framegraph.AccessSampled, Stage: framegraph.StageFragment},
							{Resource: "color", Access: framegraph.AccessColorAttachment, Stage: framegraph.StageFragment},
							{Resource: "depth", Access: framegraph.AccessDepthStencilAttachment, Stage: framegraph.StageFragment},
						},
					}},
					Pipelines: []string{"opaque"},
					Record:    passName("Opaque"),
				}, nil
			},
		},
		framegraph.GraphicPass{
			Name:  "Shadow",
			Width: shadowSize, Height: shadowSize,
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Read("frameConstants"),
						framegraph.Create("shadowMap", framegraph.TextureResource(target(gputypes.TextureFormatDepth24PlusStencil8, shadowSize, shadowSize))),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "depth",
						Uses: []framegraph.Use{
							{Resource: "frameConstants", Access: framegraph.AccessUniform, Stage: framegraph.StageVertex},
							{Resource: "shadowMap", Access: framegraph.AccessDepthStencilAttachment, Stage: framegraph.StageFragment},
						},
					}},
					Pipelines: []string{"shadow"},
					Record:    passName("Shadow"),
				}, nil
			},
		},
		framegraph.TransferPass{
			Name: "Upload",
			Setup: func() (framegraph.SetupResult, error) {
				return framegraph.SetupResult{
					Resources: []framegraph.Declaration{
						framegraph.Create("frameConstants", framegraph.BufferResource(resource.BufferDescription{
							Size:   frameConstantsSize,
							Memory: memory.UsageCPUToGPU,
						})),
					},
					SubUnits: []framegraph.SubUnit{{
						Name: "copy",
						Uses: []framegraph.Use{
							{Resource: "frameConstants", Access: framegraph.AccessTransferDst, Stage: framegraph.StageTransfer},
						},
					}},
					Record: passName("Upload"),
				}, nil
			},
		},
	}
}
