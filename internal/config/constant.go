package config

import "time"

const (
	// Grammar.
	ListSeparator  = ","
	RangeSeparator = "-"
	KeyValueSep    = ":"
	VarsPrefix     = "vars."

	// Execution defaults.
	DefaultMaxConcurrency = 10
	MaxConcurrencyLimit   = 256
	DefaultCommandTimeout = 30 * time.Second
	DefaultBatchTimeout   = 10 * time.Minute
	DefaultDialTimeout    = 10 * time.Second
	AcquireRetryDelay     = 500 * time.Millisecond

	// Connection pool.
	DefaultIdleEviction = 5 * time.Minute
	PoolReapInterval    = 30 * time.Second

	// Background pipeline.
	DefaultQueueSize        = 64
	GracefulShutdownTimeout = 30 * time.Second

	// Network.
	DefaultAPIAddress     = "127.0.0.1"
	DefaultAPIPort        = "40090"
	DefaultSSHPort        = "22"
	HTTPReadHeaderTimeout = 10 * time.Second

	// File and directory paths.
	DefaultConfigDir     = "/etc/netbatch"                 // Default configuration directory.
	DefaultInventoryFile = "/etc/netbatch/inventory.yaml"  // Default device inventory.
	DefaultIntentsFile   = "/etc/netbatch/intents.yaml"    // Default intent catalog.
	DatabaseDir          = "/var/lib/netbatch/database"    // Default database directory (stored batch results).
	HTPasswordFile       = "htpasswd"                      // Name of the API credential file in the config dir.
	DefaultCategory      = "adhoc"                         // Category used when the caller does not set one.

	// Database and storage settings.
	DBResultTTL         = 7 * 24 * time.Hour // TTL of stored batch results.
	DatabaseGCInterval  = 5 * time.Minute
	DBGCThreshold       = 0.7 // Threshold for database garbage collection.
	ResultsListLimit    = 100 // Default number of runs returned by `netbatch results list`.
	MaxResultsListLimit = 500
)
