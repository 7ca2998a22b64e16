package commands

import (
	"sort"

	"catalogscraper/internal/backend"
	"catalogscraper/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var urlsOnly bool

func init() {
	knownCmd.Flags().BoolVar(&urlsOnly, "urls", false, "only list product urls")
	rootCmd.AddCommand(knownCmd)
}

var knownCmd = &cobra.Command{
	Use:   "known",
	Short: "Prints the products the backend already knows about.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := backend.NewClient(backend.Options{
			BaseUrl:       cfg.Backend.URL,
			AdminToken:    cfg.Backend.AdminToken,
			Timeout:       cfg.Scraper.Timeout,
			MessageOutput: messageOutput("backend"),
		}, telemetry.SlogAPI{})

		t := newTable()

		if urlsOnly {
			urls, err := client.KnownURLs(cmd.Context())
			if err != nil {
				return err
			}
			t.AppendHeader(table.Row{"Product"})
			for _, u := range urls {
				t.AppendRow(table.Row{u})
			}
			t.AppendFooter(table.Row{len(urls)})
			t.Render()
			return nil
		}

		statuses, err := client.ProductStatuses(cmd.Context())
		if err != nil {
			return err
		}
		urls := make([]string, 0, len(statuses))
		for u := range statuses {
			urls = append(urls, u)
		}
		sort.Strings(urls)

		t.AppendHeader(table.Row{"Product", "Active"})
		active := 0
		for _, u := range urls {
			if statuses[u].IsActive {
				active++
			}
			t.AppendRow(table.Row{u, statuses[u].IsActive})
		}
		t.AppendFooter(table.Row{len(urls), active})
		t.Render()
		return nil
	},
}
