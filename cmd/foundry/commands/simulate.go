package commands

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/internal/graphfile"
	"github.com/vkngwrapper/foundry/internal/simulate"
	"github.com/vkngwrapper/foundry/memory"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the renderer against an in-memory device",
	Long: `Render a number of ticks against an in-memory device and report what the memory pool
and the resource manager did. Without --graph a built-in frame is rendered that changes
resolution every --resize-every ticks.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	flags := simulateCmd.Flags()
	flags.Int("ticks", 120, "number of ticks to render")
	flags.Int("latency", 2, "ticks a submission stays in flight")
	flags.Int("workers", 0, "passes recorded at once, 0 uses every CPU")
	flags.String("graph", "", "pass file to render instead of the built-in frame")
	flags.Uint32("width", 1280, "built-in frame width")
	flags.Uint32("height", 720, "built-in frame height")
	flags.Uint32("shadow-size", 2048, "built-in frame shadow map size")
	flags.Int("resize-every", 30, "ticks between resolution changes of the built-in frame, 0 never")
	flags.String("block-size", humanize.IBytes(uint64(memory.DefaultBlockSize)), "size of shared memory blocks")
	flags.String("min-leaf-size", humanize.IBytes(uint64(memory.DefaultMinLeafSize)), "smallest suballocation")
	flags.String("device-heap", "1 GiB", "size of the device-local heap")
	flags.Bool("dedicated-textures", false, "give every texture its own allocation")
	flags.Bool("detailed", false, "include every block in json statistics")

	for _, name := range []string{
		"ticks", "latency", "workers", "graph", "width", "height", "shadow-size", "resize-every",
		"block-size", "min-leaf-size", "device-heap", "dedicated-textures", "detailed",
	} {
		viper.BindPFlag("simulate."+name, flags.Lookup(name))
	}

	rootCmd.AddCommand(simulateCmd)
}

func parseSize(key string) (int, error) {
	value := viper.GetString(key)
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "bad size %q for %s", value, key)
	}
	return int(size), nil
}

func simulationScene() (simulate.Scene, error) {
	path := viper.GetString("simulate.graph")
	if path == "" {
		return simulate.DemoScene{
			Width:       viper.GetUint32("simulate.width"),
			Height:      viper.GetUint32("simulate.height"),
			ShadowSize:  viper.GetUint32("simulate.shadow-size"),
			ResizeEvery: viper.GetInt("simulate.resize-every"),
		}, nil
	}

	file, err := graphfile.Load(path)
	if err != nil {
		return nil, err
	}
	passes, err := file.Build(func(pass string) framegraph.Recorder {
		return func(ctx context.Context, resources framegraph.Resources) (framegraph.CommandList, error) {
			return pass, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return simulate.StaticScene{Passes: passes, Root: file.Root}, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	scene, err := simulationScene()
	if err != nil {
		return err
	}

	blockSize, err := parseSize("simulate.block-size")
	if err != nil {
		return err
	}
	minLeafSize, err := parseSize("simulate.min-leaf-size")
	if err != nil {
		return err
	}
	deviceHeap, err := parseSize("simulate.device-heap")
	if err != nil {
		return err
	}

	report, err := simulate.Run(cmd.Context(), newLogger(cmd.ErrOrStderr()), scene, simulate.Options{
		Ticks:          viper.GetInt("simulate.ticks"),
		Latency:        viper.GetInt("simulate.latency"),
		Workers:        viper.GetInt("simulate.workers"),
		DeviceHeapSize: deviceHeap,
		Pool: memory.CreateOptions{
			BlockSize:   blockSize,
			MinLeafSize: minLeafSize,
		},
		DedicatedTextures: viper.GetBool("simulate.dedicated-textures"),
		DetailedStats:     viper.GetBool("simulate.detailed"),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viper.GetBool("json") {
		fmt.Fprintln(out, report.PoolStats)
		return nil
	}

	fmt.Fprintf(out, "ticks:        %d (%d reconfigured)\n", report.Ticks, report.Reconfigured)
	fmt.Fprintf(out, "passes:       %s recorded, %s submitted\n", humanize.Comma(int64(report.Recorded)), humanize.Comma(int64(report.Submitted)))
	fmt.Fprintf(out, "resources:    %d buffers, %d textures live, %d reclaimed\n", report.LiveBuffers, report.LiveTextures, report.Reclaimed)
	fmt.Fprintf(out, "uploaded:     %s\n", humanize.IBytes(uint64(report.Uploaded)))
	fmt.Fprintf(out, "peak memory:  %s in %d blocks\n", humanize.IBytes(uint64(report.Peak.BlockBytes)), report.Peak.BlockCount)
	fmt.Fprintf(out, "final memory: %s in %d blocks, %s allocated in %d allocations\n",
		humanize.IBytes(uint64(report.Final.BlockBytes)), report.Final.BlockCount,
		humanize.IBytes(uint64(report.Final.AllocationBytes)), report.Final.AllocationCount)
	if report.Leaked > 0 {
		return errors.Newf("%d objects were still alive after shutdown", report.Leaked)
	}
	return nil
}
