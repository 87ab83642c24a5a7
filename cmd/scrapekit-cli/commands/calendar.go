package commands

import (
	"time"

	"scrapekit/internal/components/chrono"
	"scrapekit/internal/sites/vcsnet"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	calendarMonths  *int
	calendarBaseURL *string
)

func init() {
	calendarMonths = calendarCmd.Flags().Int("months", 10, "The number of months to read.")
	calendarBaseURL = calendarCmd.Flags().String("base-url", "", "Overrides the url of the school site.")
	rootCmd.AddCommand(calendarCmd)
}

var calendarCmd = &cobra.Command{
	Use:   "calendar [--months <n>]",
	Short: "Lists the events of the school calendar for the current school year.",
	Run: func(cmd *cobra.Command, args []string) {
		location, err := time.LoadLocation("America/Los_Angeles")
		if err != nil {
			Fatal("failed to load timezone", err)
		}

		client, err := vcsnet.NewClient(vcsnet.Options{
			BaseURL:   *calendarBaseURL,
			Months:    *calendarMonths,
			Location:  location,
			RateLimit: settings.RateLimit,
			Time:      chrono.NewStandardTime(location),
		})
		if err != nil {
			Fatal("failed to initialize calendar client", err)
		}

		events, err := client.FetchEvents(cmd.Context())
		if err != nil {
			Fatal("failed to fetch events", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"date", "event"})
		for _, e := range events {
			t.AppendRow(table.Row{e.Date.Format("Mon Jan 2 2006"), e.Name})
		}
		t.Render()
	},
}
