package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/foundry/asset"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/internal/graphfile"
)

const passFile = `
root: Blit
passes:
  - name: Blit
    kind: transfer
    reads: [source]
    subunits:
      - name: copy
        uses: [{resource: source, access: [transfer-src], stage: [transfer]}]
  - name: Fill
    kind: compute
    creates:
      - name: source
        buffer: {size: 64 KiB}
    subunits:
      - name: fill
        uses: [{resource: source, access: [storage], stage: [compute]}]
`

// execute runs the root command with args. Flags keep their values between runs, so every test
// spells out the ones it depends on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, contents []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	return path
}

func TestGraphCommand(t *testing.T) {
	path := writeFile(t, "frame.yaml", []byte(passFile))

	out, err := execute(t, "graph", path, "--json=false", "--root=")
	require.NoError(t, err)
	require.Contains(t, out, "order: Fill -> Blit\n")
	require.Contains(t, out, "source: CopySrc|Storage (by Fill)")

	out, err = execute(t, "graph", path, "--json=true", "--root=")
	require.NoError(t, err)
	require.Contains(t, out, `"Order":["Fill","Blit"]`)
	require.True(t, json.Valid([]byte(out)), out)

	out, err = execute(t, "graph", path, "--json=false", "--root=Fill")
	require.NoError(t, err)
	require.Contains(t, out, "order: Fill\n")
}

func TestGraphCommandErrors(t *testing.T) {
	_, err := execute(t, "graph", filepath.Join(t.TempDir(), "missing.yaml"), "--root=")
	require.ErrorIs(t, err, graphfile.ErrInvalidFile)

	path := writeFile(t, "frame.yaml", []byte(passFile))
	_, err = execute(t, "graph", path, "--root=Nothing")
	require.ErrorIs(t, err, framegraph.ErrMissingPass)

	_, err = execute(t, "graph")
	require.Error(t, err)
}

func TestMeshCommand(t *testing.T) {
	var blob bytes.Buffer
	require.NoError(t, asset.WriteMeshes(&blob, asset.DefaultMeshDescription, []asset.Mesh{
		{
			Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
			Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
			Topology:  asset.TopologyTriangles,
		},
		{
			Positions: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
			Indices:   []uint32{0, 1, 2, 2, 1, 3},
			Topology:  asset.TopologyTriangles,
		},
	}))
	meshPath := writeFile(t, "scene.msh", blob.Bytes())
	materialPath := writeFile(t, "scene.mat", []byte("material stone albedo stone.png\nmesh 1 stone\n"))

	out, err := execute(t, "mesh", meshPath, "--json=false", "--materials", materialPath)
	require.NoError(t, err)
	require.Contains(t, out, "2 meshes, 144 B of streams")
	require.Regexp(t, `0\s+Triangles\s+3\s+0\s+0\s+normals\s+72 B`, out)
	require.Regexp(t, `1\s+Triangles\s+4\s+6\s+0\s+indices\s+72 B\s+stone`, out)

	out, err = execute(t, "mesh", meshPath, "--json=true", "--materials=")
	require.NoError(t, err)
	require.Contains(t, out, `"TotalSize":144`)
	require.True(t, json.Valid([]byte(out)), out)
	require.Contains(t, out, `"Streams":"normals"`)
	require.NotContains(t, out, "Material")
}

func TestMeshCommandRejectsGarbage(t *testing.T) {
	path := writeFile(t, "garbage.msh", []byte("not a mesh blob at all"))

	_, err := execute(t, "mesh", path, "--materials=")
	require.ErrorIs(t, err, asset.ErrFileFormat)
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "simulate", "--json=false",
		"--ticks=8", "--latency=1", "--resize-every=4",
		"--width=64", "--height=64", "--shadow-size=64",
		"--block-size=4 MiB", "--min-leaf-size=256 B", "--graph=")
	require.NoError(t, err)
	require.Contains(t, out, "ticks:        8 (2 reconfigured)")
	require.Contains(t, out, "32 recorded, 32 submitted")
	require.Contains(t, out, "1 buffers, 3 textures live, 2 reclaimed")

	out, err = execute(t, "simulate", "--json=true", "--detailed=false", "--ticks=2", "--graph=", "--resize-every=0", "--block-size=4 MiB")
	require.NoError(t, err)
	require.Contains(t, out, `"BlockSize":4194304`)
	require.True(t, json.Valid([]byte(out)), out)

	out, err = execute(t, "simulate", "--json=true", "--detailed=true", "--ticks=2", "--graph=", "--resize-every=0", "--block-size=4 MiB")
	require.NoError(t, err)
	require.Contains(t, out, `"Blocks":[`)
	require.True(t, json.Valid([]byte(out)), out)
}

func TestSimulateCommandWithGraph(t *testing.T) {
	path := writeFile(t, "frame.yaml", []byte(passFile))

	out, err := execute(t, "simulate", "--json=false", "--ticks=3", "--block-size=4 MiB", "--graph", path)
	require.NoError(t, err)
	require.Contains(t, out, "6 recorded, 6 submitted")
	require.Contains(t, out, "1 buffers, 0 textures live")
}

func TestSimulateCommandBadSize(t *testing.T) {
	_, err := execute(t, "simulate", "--graph=", "--block-size=huge")
	require.Error(t, err)

	_, err = execute(t, "simulate", "--block-size=4 MiB", "--ticks=0")
	require.Error(t, err)
}
