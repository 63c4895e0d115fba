package commands

import (
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	configErr error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Inspect frame graphs, mesh blobs and renderer memory behaviour",
	Long: `Foundry compiles declarative frame graphs, summarizes mesh blobs and runs the
renderer's allocator and resource lifecycle against an in-memory device.

Settings can come from flags, a config file or FOUNDRY_ environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return configErr
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./foundry.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().Bool("json", false, "print results as json")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("foundry")
	}

	viper.SetEnvPrefix("FOUNDRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && (cfgFile != "" || !errors.As(err, &notFound)) {
		configErr = errors.Wrap(err, "failed to read config")
	}
}

// newLogger logs warnings to w, or everything when verbose is set
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
