package inventory

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/jackadi-io/netbatch/cmd/netbatch/app"
	"github.com/jackadi-io/netbatch/cmd/netbatch/autocompletion"
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/cmd/netbatch/style"
	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/jackadi-io/netbatch/internal/scope"
	"github.com/jackadi-io/netbatch/internal/serializer"
	"github.com/spf13/cobra"
)

func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inventory",
		Short:   "inspect devices, scopes and intents",
		GroupID: "operations",
	}

	cmd.AddCommand(listCommand())
	cmd.AddCommand(resolveCommand())
	cmd.AddCommand(intentsCommand())

	return cmd
}

func load(cmd *cobra.Command) *inventory.Inventory {
	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		style.Fatal(err)
	}
	inv, err := inventory.Load(cfg.InventoryFile)
	if err != nil {
		style.Fatal(err)
	}
	return inv
}

func display(v any, render func() string) {
	if option.GetJSONFormat() {
		out, err := serializer.JSON.MarshalIndent(v, "", "  ")
		if err != nil {
			style.Fatal(err)
		}
		fmt.Println(string(out))
		return
	}
	style.PrettyPrint(render())
}

func listCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list every device",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			devices := load(cmd).All()
			display(devices, func() string { return renderDevices(devices, verbose) })
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show every device attribute")
	return cmd
}

func resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "resolve SCOPE",
		Short:             "show the devices targeted by a scope expression",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: autocompletion.Scopes,
		Run: func(cmd *cobra.Command, args []string) {
			res, err := scope.Resolve(args[0], load(cmd))
			if err != nil {
				style.Fatal(err)
			}
			display(res, func() string { return renderResolution(args[0], res) })
		},
	}
}

func intentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "list the intents of the catalog",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := option.LoadConfig(cmd)
			if err != nil {
				style.Fatal(err)
			}
			catalog, err := app.LoadCatalog(cfg.IntentsFile)
			if err != nil {
				style.Fatal(err)
			}
			infos := catalog.Intents()
			display(infos, func() string { return renderIntents(infos) })
		},
	}
}

func renderDevices(devices []inventory.Device, verbose bool) string {
	out := style.Title("Devices")
	if len(devices) == 0 {
		return out + style.SpacedBlock(style.Item("No device in inventory"))
	}

	if verbose {
		for _, d := range devices {
			content, err := yaml.MarshalWithOptions(d, yaml.UseLiteralStyleIfMultiline(true))
			if err != nil {
				content = []byte(err.Error())
			}
			out += style.BlockTitle(d.Name) + style.Block(string(content)) + "\n"
		}
		return out
	}

	items := ""
	for _, d := range devices {
		attrs := []string{}
		for _, kv := range [][2]string{{"platform", d.Platform}, {"role", d.Role}, {"site", d.Site}, {"group", d.Group}} {
			if kv[1] != "" {
				attrs = append(attrs, kv[0]+":"+kv[1])
			}
		}
		items += style.Item(fmt.Sprintf("%s %s", style.RenderID(d.Name), style.SubtitleStyle.Render(strings.Join(attrs, " "))))
	}
	return out + style.SpacedBlock(items) + style.Subtitle(fmt.Sprintf("%d devices", len(devices)))
}

func renderResolution(expr string, res scope.Resolution) string {
	out := style.Title(expr)
	out += style.InlineBlockTitle("rule") + string(res.Rule) + "\n"

	items := ""
	for _, name := range res.Names() {
		items += style.Item(name)
	}
	if items == "" {
		items = style.Item("No device matched")
	}
	out += style.BlockTitle("devices") + style.SpacedBlock(items)

	if len(res.Unresolved) > 0 {
		out += style.BlockTitle("unknown devices") + style.Block(style.RenderError(strings.Join(res.Unresolved, ", "))) + "\n"
	}
	return out
}

func renderIntents(infos []intent.Info) string {
	out := style.Title("Intents")
	for _, info := range infos {
		out += style.InlineBlockTitle(info.Name) + info.Description + "\n"
		out += style.Block(style.SubtitleStyle.Render(strings.Join(info.Platforms, ", "))) + "\n"
	}
	return out
}
