package autocompletion

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackadi-io/netbatch/cmd/netbatch/app"
	"github.com/jackadi-io/netbatch/cmd/netbatch/option"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/inventory"
	"github.com/spf13/cobra"
)

var attributes = []string{inventory.AttrGroup, inventory.AttrRole, inventory.AttrSite, inventory.AttrPlatform}

// Scopes completes the first argument with "all", device names and key:value filters.
func Scopes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	inv, err := inventory.Load(cfg.InventoryFile)
	if err != nil {
		slog.Debug("completion: inventory not loaded", "error", err)
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	return ScopeCandidates(inv, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// ScopeCandidates lists the scope expressions of inv starting with prefix.
func ScopeCandidates(inv *inventory.Inventory, prefix string) []string {
	candidates := []string{"all\tevery device"}
	for _, key := range attributes {
		for _, value := range inv.AttributeValues(key) {
			candidates = append(candidates, fmt.Sprintf("%s%s%s\t%s filter", key, config.KeyValueSep, value, key))
		}
	}
	for _, d := range inv.All() {
		candidates = append(candidates, fmt.Sprintf("%s\t%s %s", d.Name, d.Platform, d.Address))
	}

	out := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Intents completes --intent with the names of the configured catalog.
func Intents(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := option.LoadConfig(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	catalog, err := app.LoadCatalog(cfg.IntentsFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := []string{}
	for _, info := range catalog.Intents() {
		if strings.HasPrefix(info.Name, toComplete) {
			out = append(out, fmt.Sprintf("%s\t%s", info.Name, info.Description))
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
