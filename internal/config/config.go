package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sagikazarmark/locafero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var errViperConfigNotFound viper.ConfigFileNotFoundError

type Config struct {
	ConfigDir     string          `mapstructure:"config-dir" yaml:"config-dir"`
	InventoryFile string          `mapstructure:"inventory" yaml:"inventory"`
	IntentsFile   string          `mapstructure:"intents" yaml:"intents"`
	DatabaseDir   string          `mapstructure:"database-dir" yaml:"database-dir"`
	Execution     ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Pool          PoolConfig      `mapstructure:"pool" yaml:"pool"`
	Results       ResultsConfig   `mapstructure:"results" yaml:"results"`
	SSH           SSHConfig       `mapstructure:"ssh" yaml:"ssh"`
	API           APIConfig       `mapstructure:"api" yaml:"api"`
}

type ExecutionConfig struct {
	MaxConcurrency     int           `mapstructure:"max-concurrency" yaml:"max-concurrency"`
	CommandTimeout     time.Duration `mapstructure:"command-timeout" yaml:"command-timeout"`
	BatchTimeout       time.Duration `mapstructure:"batch-timeout" yaml:"batch-timeout"`
	AcquireRetries     int           `mapstructure:"acquire-retries" yaml:"acquire-retries"`
	StopOnFirstFailure bool          `mapstructure:"stop-on-failure" yaml:"stop-on-failure"`
}

type PoolConfig struct {
	IdleEviction time.Duration `mapstructure:"idle-eviction" yaml:"idle-eviction"`
	DialTimeout  time.Duration `mapstructure:"dial-timeout" yaml:"dial-timeout"`
}

type ResultsConfig struct {
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
	QueueSize int           `mapstructure:"queue-size" yaml:"queue-size"`
}

type SSHConfig struct {
	User            string `mapstructure:"user" yaml:"user"`
	Password        string `mapstructure:"password" yaml:"password"`
	PrivateKey      string `mapstructure:"private-key" yaml:"private-key"`
	KnownHosts      string `mapstructure:"known-hosts" yaml:"known-hosts"`
	Port            string `mapstructure:"port" yaml:"port"`
	InsecureHostKey bool   `mapstructure:"insecure-host-key" yaml:"insecure-host-key"`
}

type APIConfig struct {
	Address string       `mapstructure:"address" yaml:"address"`
	Port    string       `mapstructure:"port" yaml:"port"`
	TLS     APITLSConfig `mapstructure:"tls" yaml:"tls"`
}

type APITLSConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Cert    string `mapstructure:"cert" yaml:"cert"`
	Key     string `mapstructure:"key" yaml:"key"`
}

// SetupFlags registers every configuration key on fs so it can be overridden from the command line.
func SetupFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file path")
	fs.String("config-dir", DefaultConfigDir, "configuration directory")
	fs.String("inventory", DefaultInventoryFile, "device inventory file")
	fs.String("intents", DefaultIntentsFile, "intent catalog file")
	fs.String("database-dir", DatabaseDir, "result database directory")
	fs.Int("execution.max-concurrency", DefaultMaxConcurrency, "maximum number of devices running at the same time")
	fs.Duration("execution.command-timeout", DefaultCommandTimeout, "timeout of a single command")
	fs.Duration("execution.batch-timeout", DefaultBatchTimeout, "timeout of a whole batch")
	fs.Int("execution.acquire-retries", 0, "connection attempts after a failed one, per device")
	fs.Bool("execution.stop-on-failure", false, "skip the remaining commands of a device after its first failure")
	fs.Duration("pool.idle-eviction", DefaultIdleEviction, "close connections idle for longer than this")
	fs.Duration("pool.dial-timeout", DefaultDialTimeout, "connection setup timeout")
	fs.Duration("results.ttl", DBResultTTL, "retention of stored results")
	fs.Int("results.queue-size", DefaultQueueSize, "maximum number of batches waiting to be persisted")
	fs.String("ssh.user", "", "SSH user")
	fs.String("ssh.password", "", "SSH password")
	fs.String("ssh.private-key", "", "SSH private key filepath")
	fs.String("ssh.known-hosts", "", "known_hosts filepath")
	fs.String("ssh.port", DefaultSSHPort, "default SSH port when the inventory address has none")
	fs.Bool("ssh.insecure-host-key", false, "do not verify device host keys, not recommended")
	fs.String("api.address", DefaultAPIAddress, "HTTP API listen address")
	fs.String("api.port", DefaultAPIPort, "HTTP API listen port")
	fs.Bool("api.tls.enabled", false, "enable TLS for the HTTP API")
	fs.String("api.tls.cert", "", "API TLS certificate filepath")
	fs.String("api.tls.key", "", "API TLS key filepath")
}

func GetConfigFile(v *viper.Viper) string {
	configFile := v.GetString("config")
	if configFile != "" {
		return configFile
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config-dir", DefaultConfigDir)
	v.SetDefault("inventory", DefaultInventoryFile)
	v.SetDefault("intents", DefaultIntentsFile)
	v.SetDefault("database-dir", DatabaseDir)

	v.SetDefault("execution.max-concurrency", DefaultMaxConcurrency)
	v.SetDefault("execution.command-timeout", DefaultCommandTimeout)
	v.SetDefault("execution.batch-timeout", DefaultBatchTimeout)
	v.SetDefault("execution.acquire-retries", 0)
	v.SetDefault("execution.stop-on-failure", false)

	v.SetDefault("pool.idle-eviction", DefaultIdleEviction)
	v.SetDefault("pool.dial-timeout", DefaultDialTimeout)

	v.SetDefault("results.ttl", DBResultTTL)
	v.SetDefault("results.queue-size", DefaultQueueSize)

	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.private-key", "")
	v.SetDefault("ssh.known-hosts", "")
	v.SetDefault("ssh.port", DefaultSSHPort)
	v.SetDefault("ssh.insecure-host-key", false)

	v.SetDefault("api.address", DefaultAPIAddress)
	v.SetDefault("api.port", DefaultAPIPort)
	v.SetDefault("api.tls.enabled", false)
	v.SetDefault("api.tls.cert", "")
	v.SetDefault("api.tls.key", "")
}

// Load builds the configuration from, by increasing priority: defaults, config file, environment, flags.
//
// Without an explicit file, netbatch.{yaml,json,toml,...} is searched in the current directory then /etc/netbatch.
// fs may be nil when no command line flag must be taken into account.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	finder := locafero.Finder{
		Paths: []string{".", DefaultConfigDir},
		Names: locafero.NameWithExtensions("netbatch", viper.SupportedExts...),
		Type:  locafero.FileTypeFile,
	}

	if configFile != "" {
		path, file := filepath.Split(configFile)
		if path == "" {
			path = "."
		}
		finder.Paths = []string{path}
		finder.Names = []string{file}
		if filepath.Ext(file) == "" {
			finder.Names = locafero.NameWithExtensions(file, viper.SupportedExts...)
		}
	}

	v := viper.NewWithOptions(viper.WithFinder(finder))
	setDefaults(v)

	v.SetEnvPrefix("NETBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &errViperConfigNotFound) || configFile != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("error binding flags: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Execution.MaxConcurrency < 0 || c.Execution.MaxConcurrency > MaxConcurrencyLimit {
		errs = append(errs, fmt.Errorf("execution.max-concurrency must be between 0 and %d, got %d", MaxConcurrencyLimit, c.Execution.MaxConcurrency))
	}
	if c.Execution.CommandTimeout < 0 {
		errs = append(errs, errors.New("execution.command-timeout must not be negative"))
	}
	if c.Execution.BatchTimeout < 0 {
		errs = append(errs, errors.New("execution.batch-timeout must not be negative"))
	}
	if c.Execution.AcquireRetries < 0 {
		errs = append(errs, errors.New("execution.acquire-retries must not be negative"))
	}
	if c.Pool.IdleEviction < 0 {
		errs = append(errs, errors.New("pool.idle-eviction must not be negative"))
	}
	if c.Results.QueueSize < 0 {
		errs = append(errs, errors.New("results.queue-size must not be negative"))
	}
	if c.API.TLS.Enabled && (c.API.TLS.Cert == "" || c.API.TLS.Key == "") {
		errs = append(errs, errors.New("api.tls enabled but certificate or key file not specified"))
	}
	return errors.Join(errs...)
}
