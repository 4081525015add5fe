package cli

import (
	"github.com/spf13/cobra"
)

func newSymbolsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "symbols",
		Short: "List tracked instruments",
		Long:  "Load the instrument registry from the configured source and list every listing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(cmd.Context(), app.Config, app.Logger)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(reg.Instruments())
			}

			table := NewTable(output, "SYMBOL", "EXCHANGE", "COMPANY", "NAME")
			for _, inst := range reg.Instruments() {
				table.AddRow(inst.ProviderSymbol(), string(inst.Exchange), inst.CompanyID, inst.Name)
			}
			table.Render()
			output.Dim("%d listings, %d companies", reg.Len(), len(reg.Companies()))
			return nil
		},
	}
}
