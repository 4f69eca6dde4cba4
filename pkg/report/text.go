package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/fieldagg/pkg/aggregate"
)

// maxListedValues caps the sample of distinct values shown per field.
const maxListedValues = 5

const defaultFieldLabel = "(field names)"

func renderText(w io.Writer, rep Report) error {
	title := color.New(color.FgCyan, color.Bold)
	muted := color.New(color.Faint)

	_, err := title.Fprintf(w, "Aggregation of %s\n", datasetLabel(rep.Dataset))
	if err != nil {
		return fmt.Errorf("write text: %w", err)
	}

	if rep.Stats.RunID != "" {
		_, err = muted.Fprintf(w, "%s records (%s this run, from offset %s), %d checkpoints in %s\n",
			humanize.Comma(int64(rep.Stats.Offset)),
			humanize.Comma(int64(rep.Stats.Processed)),
			humanize.Comma(int64(rep.Stats.StartOffset)),
			rep.Stats.Checkpoints,
			rep.Stats.Duration.Round(time.Millisecond))
		if err != nil {
			return fmt.Errorf("write text: %w", err)
		}
	}

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"Field", "Count", "Min", "Max", "Average", "Values"})

	for _, s := range rep.Result.Summaries() {
		field := s.Field
		if field == "" {
			field = defaultFieldLabel
		}

		tbl.AppendRow(table.Row{
			field,
			humanize.Comma(int64(s.Count)),
			s.Min.String(),
			s.Max.String(),
			s.Average,
			sampleValues(s),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d fields", len(rep.Result.Summaries()))})

	_, err = fmt.Fprintln(w, tbl.Render())
	if err != nil {
		return fmt.Errorf("write text: %w", err)
	}

	return nil
}

func sampleValues(s aggregate.Summary) string {
	shown := s.Values
	if len(shown) > maxListedValues {
		shown = shown[:maxListedValues]
	}

	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = v.String()
	}

	out := strings.Join(parts, ", ")
	if rest := len(s.Values) - len(shown); rest > 0 {
		out += fmt.Sprintf(", … (+%s)", humanize.Comma(int64(rest)))
	}

	return out
}

func datasetLabel(id string) string {
	if id == "" {
		return "dataset"
	}

	return id
}
