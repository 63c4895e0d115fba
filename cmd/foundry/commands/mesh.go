package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/foundry/asset"
)

var meshCmd = &cobra.Command{
	Use:   "mesh <file>",
	Short: "Summarize a mesh blob",
	Long: `Read the header of a mesh blob and print one line per mesh with its topology,
counts and stream size. With --materials, the material bound to each mesh is shown too.`,
	Args: cobra.ExactArgs(1),
	RunE: runMesh,
}

func init() {
	meshCmd.Flags().String("materials", "", "material description file to resolve mesh materials from")
	viper.BindPFlag("mesh.materials", meshCmd.Flags().Lookup("materials"))

	rootCmd.AddCommand(meshCmd)
}

func meshFlagNames(flags asset.MeshFlags) string {
	var names []string
	if flags&asset.MeshHasNormals != 0 {
		names = append(names, "normals")
	}
	if flags&asset.MeshHasUVs != 0 {
		names = append(names, "uvs")
	}
	if flags&asset.MeshHasIndices != 0 {
		names = append(names, "indices")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func loadMaterials(path string) (*asset.MaterialLibrary, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return asset.ParseMaterials(file)
}

func runMesh(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	header, err := asset.ReadMeshHeader(bufio.NewReader(file))
	if err != nil {
		return err
	}

	materials, err := loadMaterials(viper.GetString("mesh.materials"))
	if err != nil {
		return err
	}
	materialName := func(index int) string {
		if materials == nil {
			return ""
		}
		return materials.MeshMaterials[uint32(index)]
	}

	var total uint64
	for _, record := range header.Records {
		total += record.Size
	}

	if viper.GetBool("json") {
		writer := jwriter.NewWriter()
		obj := writer.Object()
		obj.Name("Description").String(header.Description)
		obj.Name("TotalSize").Int(int(total))

		meshes := obj.Name("Meshes").Array()
		for index, record := range header.Records {
			meshObj := meshes.Object()
			meshObj.Name("Index").Int(index)
			meshObj.Name("Topology").String(record.Topology.String())
			meshObj.Name("Vertices").Int(int(record.VertexCount))
			meshObj.Name("Indices").Int(int(record.IndexCount))
			meshObj.Name("Bones").Int(int(record.BoneCount))
			meshObj.Name("Streams").String(meshFlagNames(record.Flags))
			meshObj.Name("Offset").Int(int(record.Offset))
			meshObj.Name("Size").Int(int(record.Size))
			if name := materialName(index); name != "" {
				meshObj.Name("Material").String(name)
			}
			meshObj.End()
		}
		meshes.End()
		obj.End()

		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(writer.Bytes()))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n%d meshes, %s of streams\n\n", header.Description, len(header.Records), humanize.IBytes(total))

	table := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "#\tTOPOLOGY\tVERTICES\tINDICES\tBONES\tSTREAMS\tSIZE\tMATERIAL")
	for index, record := range header.Records {
		fmt.Fprintf(table, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			index,
			record.Topology,
			humanize.Comma(int64(record.VertexCount)),
			humanize.Comma(int64(record.IndexCount)),
			record.BoneCount,
			meshFlagNames(record.Flags),
			humanize.IBytes(record.Size),
			materialName(index))
	}
	return table.Flush()
}
