package result

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/cmd/netbatch/subcommand/run"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/serializer"
	"github.com/jackadi-io/netbatch/internal/sink"
	"github.com/spf13/cobra"
)

type storedRun struct {
	Run     sink.RunInfo             `json:"run"`
	Results []executor.CommandResult `json:"results"`
}

func getCommand() *cobra.Command {
	category := config.DefaultCategory
	command := ""

	cmd := &cobra.Command{
		Use:   "get RUN [DEVICE...]",
		Short: "get the stored results of a run",
		Example: `  netbatch results get 1767323045000000000 -c health
  netbatch results get 1767323045000000000 R1 R2 --command "show version"`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store, err := openStore(cmd)
			if err != nil {
				style.Fatal(err)
			}
			res, err := fetch(store, args[0], category, args[1:], command)
			_ = store.Close()
			if err != nil {
				style.Fatal(err)
			}

			if option.GetJSONFormat() {
				out, err := serializer.JSON.MarshalIndent(res, "", "  ")
				if err != nil {
					style.Fatal(err)
				}
				fmt.Println(string(out))
				return
			}
			style.PrettyPrint(renderRun(res))
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", config.DefaultCategory, "category of the run")
	cmd.Flags().StringVar(&command, "command", "", "only show the result of this command")

	return cmd
}

// fetch reads the whole run, or only the given devices. With a command, only the result of
// that command is read, on every device of the run when none is given.
func fetch(store *sink.Store, runID, category string, devices []string, command string) (storedRun, error) {
	info, err := store.Run(runID, category)
	if err != nil {
		return storedRun{}, fmt.Errorf("run %s (category %s): %w", runID, category, err)
	}

	res := storedRun{Run: info}
	if command != "" {
		if len(devices) == 0 {
			devices = info.DevicesRequested
		}
		for _, d := range devices {
			r, err := store.ReadCommand(runID, category, d, command)
			if errors.Is(err, sink.ErrNotFound) && len(devices) > 1 {
				continue
			}
			if err != nil {
				return storedRun{}, fmt.Errorf("device %s, command %q: %w", d, command, err)
			}
			res.Results = append(res.Results, r)
		}
		if len(res.Results) == 0 {
			return storedRun{}, fmt.Errorf("command %q: %w", command, sink.ErrNotFound)
		}
		return res, nil
	}

	if len(devices) == 0 {
		res.Results, err = store.List(runID, category)
		if err != nil {
			return storedRun{}, err
		}
		return res, nil
	}

	for _, d := range devices {
		results, err := store.Read(runID, category, d)
		if err != nil {
			return storedRun{}, fmt.Errorf("device %s: %w", d, err)
		}
		res.Results = append(res.Results, results...)
	}
	return res, nil
}

func renderRun(res storedRun) string {
	header := map[string]any{
		"category": res.Run.Category,
		"started":  res.Run.StartedAt.Local().Format(time.DateTime),
		"duration": res.Run.FinishedAt.Sub(res.Run.StartedAt).Round(time.Millisecond).String(),
		"devices":  fmt.Sprintf("%d requested, %d succeeded, %d failed", len(res.Run.DevicesRequested), len(res.Run.DevicesSucceeded), len(res.Run.DevicesFailed)),
	}
	if len(res.Run.DevicesFailed) > 0 {
		header["failed"] = res.Run.DevicesFailed
	}
	counts, _ := yaml.MarshalWithOptions(header, yaml.UseLiteralStyleIfMultiline(true))

	out := style.Title(fmt.Sprintf("run: %s", res.Run.RunID))
	out += style.SpacedBlock(style.Block(strings.TrimSpace(string(counts))))
	out += run.RenderResults(executor.BatchResult{RunID: res.Run.RunID, Results: res.Results})
	return out
}
