package commands

import (
	"os"
	"path/filepath"

	"catalogscraper/internal/components/telemetry"
	"catalogscraper/internal/config"
	"catalogscraper/pkg/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scraper",
	Short: "scraper syncs a storefront's product catalog into the catalog backend.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "path to a json5 config file for the scraper")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output and dump every http exchange under .dev/resty")
}

func Execute() {
	// `scraper` on its own does a full run
	if len(os.Args) == 1 {
		rootCmd.SetArgs([]string{runCmd.Use})
	}
	if err := rootCmd.ExecuteContext(serviceutil.SignalContext()); err != nil {
		serviceutil.Fatal("scraper failed", err)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

// messageOutput returns where raw http exchanges are dumped, nil unless verbose.
func messageOutput(name string) telemetry.MessageOutput {
	if !verbose {
		return nil
	}
	output, err := telemetry.NewFilesystemOutput(filepath.Join(".dev", "resty", name))
	if err != nil {
		serviceutil.Fatal("failed to create http dump directory", err)
	}
	return output
}
