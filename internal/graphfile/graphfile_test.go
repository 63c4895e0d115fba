package graphfile_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/internal/graphfile"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/resource"
)

const frameYAML = `
root: Post
passes:
  - name: Post
    kind: graphic
    width: 64
    height: 64
    reads: [color]
    creates:
      - name: final
        external: true
        texture: {format: bgra8unorm, width: 64, height: 64}
    pipelines: [tonemap]
    subunits:
      - name: tonemap
        uses:
          - {resource: color, access: [sampled], stage: [fragment]}
          - {resource: final, access: [color-attachment], stage: [fragment]}
  - name: Opaque
    width: 64
    height: 64
    reads: [shadowMap, instances]
    creates:
      - name: color
        texture: {format: RGBA8Unorm, width: 64, height: 64, usage: [copy-src]}
    subunits:
      - name: draw
        uses:
          - {resource: color, access: [ColorAttachment], stage: [fragment]}
          - {resource: shadowMap, access: [sampled], stage: [fragment]}
          - {resource: instances, access: [storage], stage: [vertex]}
  - name: Shadow
    kind: Graphic
    width: 32
    height: 32
    creates:
      - name: shadowMap
        texture: {format: depth24plus-stencil8, width: 32, height: 32}
      - name: instances
        buffer: {size: 4 KiB, usage: [copy_dst], memory: cpu-to-gpu}
    subunits:
      - name: depth
        uses:
          - {resource: shadowMap, access: [depth-stencil-attachment], stage: [fragment]}
`

func TestParseAndCompile(t *testing.T) {
	file, err := graphfile.Parse(strings.NewReader(frameYAML), "yaml")
	require.NoError(t, err)
	require.Equal(t, "Post", file.Root)
	require.Len(t, file.Passes, 3)

	passes, err := file.Build(nil)
	require.NoError(t, err)

	graph, err := framegraph.Compile(passes, file.Root)
	require.NoError(t, err)
	require.Equal(t, []string{"Shadow", "Opaque", "Post"}, graph.Order())

	color, ok := graph.Resource("color")
	require.True(t, ok)
	require.Equal(t, gputypes.TextureUsageCopySrc|gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding, color.TextureUsage)
	require.Equal(t, gputypes.TextureFormatRGBA8Unorm, color.Description.Texture.Format)

	final, ok := graph.Resource("final")
	require.True(t, ok)
	require.True(t, final.Description.External)
	require.False(t, final.IsOwned())

	instances, ok := graph.Resource("instances")
	require.True(t, ok)
	require.Equal(t, resource.BufferDescription{
		Size:   4096,
		Usage:  gputypes.BufferUsageCopyDst,
		Memory: memory.UsageCPUToGPU,
	}, *instances.Description.Buffer)
	require.Equal(t, gputypes.BufferUsageCopyDst|gputypes.BufferUsageStorage, instances.BufferUsage)

	post, ok := graph.Pass("Post")
	require.True(t, ok)
	require.Equal(t, framegraph.KindGraphic, post.Kind())

	setup, ok := graph.Setup("Post")
	require.True(t, ok)
	require.Equal(t, []string{"tonemap"}, setup.Pipelines)
	require.Nil(t, setup.Record)
}

func TestBuildAttachesRecorders(t *testing.T) {
	file, err := graphfile.Parse(strings.NewReader(frameYAML), "yaml")
	require.NoError(t, err)

	var asked []string
	passes, err := file.Build(func(pass string) framegraph.Recorder {
		asked = append(asked, pass)
		return func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
			return pass, nil
		}
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Post", "Opaque", "Shadow"}, asked)

	graph, err := framegraph.Compile(passes, "Post")
	require.NoError(t, err)

	setup, ok := graph.Setup("Shadow")
	require.True(t, ok)
	list, err := setup.Record(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "Shadow", list)
}

func TestPassKinds(t *testing.T) {
	file, err := graphfile.Parse(strings.NewReader(`{
		"root": "Upload",
		"passes": [
			{"name": "Upload", "kind": "transfer", "reads": ["particles"]},
			{"name": "Simulate", "kind": "compute", "creates": [
				{"name": "particles", "buffer": {"size": "1MiB", "usage": ["storage"]}}
			]}
		]
	}`), "json")
	require.NoError(t, err)

	passes, err := file.Build(nil)
	require.NoError(t, err)
	require.IsType(t, framegraph.TransferPass{}, passes[0])
	require.IsType(t, framegraph.ComputePass{}, passes[1])

	graph, err := framegraph.Compile(passes, "Upload")
	require.NoError(t, err)
	require.Equal(t, []string{"Simulate", "Upload"}, graph.Order())

	particles, ok := graph.Resource("particles")
	require.True(t, ok)
	require.Equal(t, 1<<20, particles.Description.Buffer.Size)
	require.Equal(t, memory.UsageGPUOnly, particles.Description.Buffer.Memory)
}

func TestLoadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.yaml")
	require.NoError(t, os.WriteFile(path, []byte(frameYAML), 0o600))

	file, err := graphfile.Load(path)
	require.NoError(t, err)
	require.Len(t, file.Passes, 3)

	_, err = graphfile.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, graphfile.ErrInvalidFile)
}

func TestInvalidFiles(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{
			name:     "no root",
			contents: `passes: [{name: A}]`,
		},
		{
			name:     "unknown kind",
			contents: `{root: A, passes: [{name: A, kind: raytrace}]}`,
		},
		{
			name:     "unknown format",
			contents: `{root: A, passes: [{name: A, creates: [{name: t, texture: {format: rgb565, width: 1, height: 1}}]}]}`,
		},
		{
			name:     "unknown dimension",
			contents: `{root: A, passes: [{name: A, creates: [{name: t, texture: {format: r8unorm, dimension: 4d, width: 1, height: 1}}]}]}`,
		},
		{
			name:     "bad size",
			contents: `{root: A, passes: [{name: A, creates: [{name: b, buffer: {size: lots}}]}]}`,
		},
		{
			name:     "unknown memory",
			contents: `{root: A, passes: [{name: A, creates: [{name: b, buffer: {size: 16, memory: swap}}]}]}`,
		},
		{
			name:     "buffer and texture",
			contents: `{root: A, passes: [{name: A, creates: [{name: b, buffer: {size: 16}, texture: {format: r8unorm, width: 1, height: 1}}]}]}`,
		},
		{
			name:     "no description",
			contents: `{root: A, passes: [{name: A, creates: [{name: b}]}]}`,
		},
		{
			name:     "unknown access",
			contents: `{root: A, passes: [{name: A, subunits: [{name: s, uses: [{resource: b, access: [teleport]}]}]}]}`,
		},
		{
			name:     "unknown stage",
			contents: `{root: A, passes: [{name: A, subunits: [{name: s, uses: [{resource: b, stage: [geometry]}]}]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, err := graphfile.Parse(strings.NewReader(tt.contents), "yaml")
			if err == nil {
				_, err = file.Build(nil)
			}
			require.ErrorIs(t, err, graphfile.ErrInvalidFile)
		})
	}
}
