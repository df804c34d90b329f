package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neozhu/pdfxtract/cmd/pdfxtract/ui"
	"github.com/neozhu/pdfxtract/internal/config"
)

var (
	cfgFile string
	verbose bool
	noColor bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pdfxtract",
	Short: "Extract Markdown from PDFs and images with a vision model",
	Long: `pdfxtract converts a PDF (or a single image) into page images and sends them,
one page at a time, to a vision-language model that transcribes each page to
Markdown. The pages are joined into one document and exported as <name>.md.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
