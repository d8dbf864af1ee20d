package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sitesmith/sitesmith/server/internal/billing"
)

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans [config-file]",
		Short: "List the credit plans offered for sale",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			catalog := billing.NewCatalog(cfg.Billing.Plans, cfg.Billing.Currency)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Credit plans ("+cfg.Billing.Provider+")"))
			fmt.Fprintln(out, renderPlans(catalog.List()))
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("A project costs %d credits.", cfg.Billing.ProjectCost)))
			return nil
		},
	}
}

func renderPlans(plans []billing.Plan) string {
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, []string{
			p.ID,
			p.Name,
			p.DisplayPrice(),
			strconv.Itoa(p.Credits),
			strings.Join(p.Features, ", "),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("ID", "NAME", "PRICE", "CREDITS", "FEATURES").
		Rows(rows...)
	return t.Render()
}
