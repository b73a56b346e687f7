package option

import (
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/spf13/cobra"
)

var JSONFormat *bool

func GetJSONFormat() bool {
	if JSONFormat == nil {
		return false
	}
	return *JSONFormat
}

// LoadConfig builds the configuration from the --config file, the environment and the flags of cmd.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(configFile, cmd.Flags())
}
