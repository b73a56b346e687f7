package main

import (
	"fmt"
	"os"

	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/subcommand/inventory"
	"github.com/jackadi-io/netbatch/cmd/netbatch/subcommand/result"
	"github.com/jackadi-io/netbatch/cmd/netbatch/subcommand/run"
	"github.com/jackadi-io/netbatch/cmd/netbatch/subcommand/serve"
	"github.com/jackadi-io/netbatch/internal/config"
	_ "github.com/jackadi-io/netbatch/internal/logs"
	"github.com/spf13/cobra"
)

var version = "dev"
var commit = "N/A"
var date = "N/A"

func sprintVersion() string {
	if version != "dev" {
		version = fmt.Sprintf("v%s", version)
	}
	return fmt.Sprintf("%s (commit: %s, build date: %s)\n", version, commit, date)
}

func main() {
	var completionCmd = &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion scripts",
		ValidArgs: []string{"bash", "zsh", "fish"},
		Annotations: map[string]string{
			"commandType": "main",
		},
		Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				_ = cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				_ = cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				_ = cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			}
			return nil
		},
	}

	rootCmd := &cobra.Command{
		Use:     "netbatch",
		Short:   "netbatch runs commands on groups of network devices.",
		Version: version,
	}
	rootCmd.SetVersionTemplate(sprintVersion())
	rootCmd.AddGroup(
		&cobra.Group{
			ID:    "operations",
			Title: "Operations:",
		},
	)

	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(run.Command())
	rootCmd.AddCommand(result.ResultsCmd())
	rootCmd.AddCommand(inventory.Root())
	rootCmd.AddCommand(serve.Command())

	config.SetupFlags(rootCmd.PersistentFlags())
	option.JSONFormat = rootCmd.PersistentFlags().Bool("json", false, "display result in JSON")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
