package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"catalogscraper/internal/catalog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Baseline is the number of products the backend knew about, it is 0
	// with BaselineErr set when the backend could not be reached.
	Baseline    int
	BaselineErr error

	Pages   int
	Scraped int

	Updates       []catalog.ListingEntry
	UpdateOutcome Outcome

	New      []string
	Products []Outcome
}

// Succeeded returns the products that were scraped, and upserted unless the run was dry.
func (r Report) Succeeded() []catalog.ProductDetail {
	out := []catalog.ProductDetail{}
	for _, o := range r.Products {
		if o.Ok() {
			out = append(out, o.Product)
		}
	}
	return out
}

// Count returns the number of products with the given status.
func (r Report) Count(status Status) int {
	n := 0
	for _, o := range r.Products {
		if o.Status == status {
			n++
		}
	}
	return n
}

func describe(o Outcome) string {
	parts := []string{}
	if o.Reason != "" {
		parts = append(parts, o.Reason)
	}
	if o.Err != nil {
		parts = append(parts, o.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// Render writes a summary of the run followed by one row per scraped product.
func (r Report) Render(w io.Writer) {
	baseline := fmt.Sprint(r.Baseline)
	if r.BaselineErr != nil {
		baseline = fmt.Sprintf("unavailable (%s)", r.BaselineErr)
	}
	updates := fmt.Sprintf("%d (%s)", len(r.Updates), r.UpdateOutcome.Status)
	if detail := describe(r.UpdateOutcome); detail != "" {
		updates = fmt.Sprintf("%s %s", updates, detail)
	}

	summary := newTable(w)
	summary.AppendRows([]table.Row{
		{"Run", r.RunID},
		{"Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)},
		{"Baseline", baseline},
		{"Listing pages", r.Pages},
		{"Products listed", r.Scraped},
		{"Status updates", updates},
		{"New products", len(r.New)},
		{"Done", r.Count(StatusDone) + r.Count(StatusScraped)},
		{"Skipped", r.Count(StatusSkipped)},
		{"Failed", r.Count(StatusFailed)},
	})
	summary.Render()

	if len(r.Products) == 0 {
		return
	}

	products := newTable(w)
	products.AppendHeader(table.Row{"Product", "Name", "Active", "Images", "Status", "Detail"})
	products.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Detail", WidthMax: 60},
		{Name: "Images", Align: text.AlignRight},
	})
	for _, o := range r.Products {
		products.AppendRow(table.Row{
			o.URL,
			o.Product.Name,
			o.Product.IsActive,
			fmt.Sprintf("%d/%d", len(o.Product.Images), len(o.Images)),
			o.Status,
			describe(o),
		})
	}
	products.Render()
}
