package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/service"
)

// RenderResults renders the results of every device, in batch order.
func RenderResults(batch executor.BatchResult) string {
	out := ""
	for _, device := range batch.Devices() {
		out += style.Title(device)
		for _, r := range batch.ByDevice(device) {
			out += style.InlineBlockTitle(r.Command)
			out += fmt.Sprintf("%s %s\n", style.StatusSymbol(r.Status), style.SubtitleStyle.Render(r.Duration.Round(time.Millisecond).String()))
			switch {
			case !r.OK():
				out += style.Block(style.RenderError(r.Error))
			case strings.TrimSpace(r.Output) == "":
				out += style.Block(style.Emph("empty"))
			default:
				out += style.Block(r.Output)
			}
			out += "\n"
		}
	}
	return out
}

func renderResponse(resp service.Response) string {
	batch := resp.Batch
	out := RenderResults(batch)

	if len(resp.Unresolved) > 0 {
		out += style.Subtitle(fmt.Sprintf("unknown devices: %s", strings.Join(resp.Unresolved, ", ")))
	}

	counts := batch.Counts()
	summary := fmt.Sprintf("run %s: %d devices, %d succeeded, %d failed (ok: %d, error: %d, timeout: %d) in %s",
		batch.RunID,
		len(batch.DevicesRequested),
		len(batch.DevicesSucceeded),
		len(batch.DevicesFailed),
		counts[executor.StatusOK],
		counts[executor.StatusError],
		counts[executor.StatusTimeout],
		batch.Duration().Round(time.Millisecond),
	)
	out += style.Subtitle(summary)
	if len(batch.DevicesFailed) > 0 {
		out += style.Subtitle(fmt.Sprintf("failed devices: %s", strings.Join(batch.DevicesFailed, ", ")))
	}

	if resp.Queued {
		out += style.Subtitle(fmt.Sprintf("results stored: netbatch results get %s -c %s", batch.RunID, resp.Category))
	}
	return out
}

func renderPlan(p service.Plan) string {
	out := style.Subtitle(fmt.Sprintf("scope %q matched by rule %s", p.Scope, p.Rule))
	for _, d := range p.Devices {
		out += style.Title(d.Device.Name)
		out += style.InlineBlockTitle("platform") + d.Device.Platform + "\n"
		if d.Error != "" {
			out += style.Block(style.RenderError(d.Error)) + "\n"
			continue
		}
		items := ""
		for _, c := range d.Commands {
			items += style.Item(c)
		}
		out += style.SpacedBlock(items)
	}

	if len(p.Devices) == 0 {
		out += style.SpacedBlock(style.Item("No device matched"))
	}
	if len(p.Unresolved) > 0 {
		out += style.Subtitle(fmt.Sprintf("unknown devices: %s", strings.Join(p.Unresolved, ", ")))
	}
	return out
}
