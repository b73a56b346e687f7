package result

import (
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/internal/sink"
	"github.com/spf13/cobra"
)

func ResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "results [OPTION] ...",
		Short:   "browse stored batch results",
		GroupID: "operations",
	}

	cmd.AddCommand(getCommand())
	cmd.AddCommand(listCommand())

	return cmd
}

// openStore opens the result database read-only, it fails while `netbatch serve` holds it.
func openStore(cmd *cobra.Command) (*sink.Store, error) {
	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return sink.Open(cfg.DatabaseDir, sink.Options{ReadOnly: true})
}
