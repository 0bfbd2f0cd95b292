package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"openrange/internal/barstore"
	"openrange/internal/report"
)

type yearInfo struct {
	Year  int    `json:"year"`
	Bars  int    `json:"bars"`
	Days  int    `json:"days"`
	First string `json:"first"`
	Last  string `json:"last"`
}

func newYearsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "years",
		Short: "List the calendar years present in the bar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			bars, err := loadBars(cfg, logger, os.Stderr)
			if err != nil {
				return err
			}

			var years []yearInfo
			for _, y := range bars.Years() {
				yb := bars.Year(y)
				years = append(years, yearInfo{
					Year:  y,
					Bars:  len(yb),
					Days:  len(barstore.GroupDays(yb)),
					First: yb[0].Time.Format("2006-01-02"),
					Last:  yb[len(yb)-1].Time.Format("2006-01-02"),
				})
			}

			if format == "json" {
				return report.JSON(os.Stdout, years)
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Year", "Bars", "Days", "First", "Last"}),
			)
			for _, y := range years {
				table.Append([]string{
					fmt.Sprintf("%d", y.Year),
					fmt.Sprintf("%d", y.Bars),
					fmt.Sprintf("%d", y.Days),
					y.First,
					y.Last,
				})
			}
			return table.Render()
		},
	}
}
