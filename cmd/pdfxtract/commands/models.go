package commands

import (
	"github.com/spf13/cobra"

	"github.com/neozhu/pdfxtract/cmd/pdfxtract/ui"
	"github.com/neozhu/pdfxtract/internal/llm"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable vision models",
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.Section("Models")

		rows := make([][]string, 0, len(llm.Models))
		for _, m := range llm.Models {
			def := ""
			if m.ID == cfg.LLM.Model {
				def = "*"
			}
			rows = append(rows, []string{m.ID, m.Name, m.Provider, llm.OpenRouterModel(m.ID), def})
		}
		ui.Table([]string{"ID", "Name", "Provider", "OpenRouter slug", "Default"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
