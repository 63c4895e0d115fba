package commands

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/internal/graphfile"
)

var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Compile a pass file",
	Long: `Compile a YAML or JSON pass file and print the pass order together with the usage
inferred for every resource.`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	graphCmd.Flags().String("root", "", "compile towards this pass instead of the file's root")
	viper.BindPFlag("graph.root", graphCmd.Flags().Lookup("root"))

	rootCmd.AddCommand(graphCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	file, err := graphfile.Load(args[0])
	if err != nil {
		return err
	}

	passes, err := file.Build(nil)
	if err != nil {
		return err
	}

	root := file.Root
	if override := viper.GetString("graph.root"); override != "" {
		root = override
	}

	graph, err := framegraph.Compile(passes, root)
	if err != nil {
		return err
	}

	if viper.GetBool("json") {
		writer := jwriter.NewWriter()
		graph.WriteJSON(&writer)
		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(writer.Bytes()))
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), graph.String())
	return nil
}
