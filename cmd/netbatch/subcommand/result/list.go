package result

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/serializer"
	"github.com/jackadi-io/netbatch/internal/sink"
	"github.com/spf13/cobra"
)

func formatRunItem(run sink.RunInfo) string {
	var symbol string
	switch {
	case len(run.DevicesFailed) > 0 && len(run.DevicesSucceeded) == 0:
		symbol = style.RenderError("✗")
	case len(run.DevicesFailed) > 0:
		symbol = style.RenderUnknown("~")
	default:
		symbol = style.RenderSuccess("✓")
	}

	date := run.StartedAt.Local().Format(time.DateTime)
	summary := fmt.Sprintf("%d/%d devices succeeded", len(run.DevicesSucceeded), len(run.DevicesRequested))
	out := fmt.Sprintf("[%s] %s %s - %s - %s\n    %s\n",
		symbol,
		style.RenderID(run.RunID),
		style.Emph(run.Category),
		date,
		summary,
		strings.Join(run.DevicesRequested, ", "),
	)
	for _, d := range run.DevicesFailed {
		out += style.SubItem(style.RenderError(d) + " failed")
	}
	return out + "\n"
}

func listCommand() *cobra.Command {
	limit := config.ResultsListLimit
	category := ""

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs, most recent first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if limit > config.MaxResultsListLimit {
				limit = config.MaxResultsListLimit
				fmt.Fprintf(os.Stderr, "Warning: limit exceeded maximum (%d), using maximum value\n", config.MaxResultsListLimit)
			}

			store, err := openStore(cmd)
			if err != nil {
				style.Fatal(err)
			}
			runs, err := store.Runs(limit)
			_ = store.Close()
			if err != nil {
				style.Fatal(err)
			}
			runs = filterCategory(runs, category)

			if option.GetJSONFormat() {
				out, err := serializer.JSON.MarshalIndent(runs, "", "  ")
				if err != nil {
					style.Fatal(err)
				}
				fmt.Println(string(out))
				return
			}
			style.PrettyPrint(renderRuns(runs, limit, category))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", config.ResultsListLimit, fmt.Sprintf("maximum number of runs to return (max: %d)", config.MaxResultsListLimit))
	cmd.Flags().StringVarP(&category, "category", "c", "", "only show runs of this category")

	return cmd
}

func filterCategory(runs []sink.RunInfo, category string) []sink.RunInfo {
	if category == "" {
		return runs
	}
	out := []sink.RunInfo{}
	for _, r := range runs {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func renderRuns(runs []sink.RunInfo, limit int, category string) string {
	out := style.Title("Batch runs")
	if category != "" {
		out += style.Subtitle(fmt.Sprintf("Filters: category: %s", category))
	}

	if len(runs) == 0 {
		out += style.SpacedBlock(style.Item("No results found"))
		return out
	}

	items := ""
	for _, r := range runs {
		items += formatRunItem(r)
	}
	return fmt.Sprintf("%s\n%s%s", out, items, style.Subtitle(fmt.Sprintf("Showing %d runs (limit: %d)", len(runs), limit)))
}
