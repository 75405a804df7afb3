// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

// Package config exposes a process-wide configuration singleton, the
// same Get()-accessor shape the mempool already relies on
// (config.Get().Mempool.PoolType and friends).
package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

// MempoolConfig controls the transaction pool hierarchy.
type MempoolConfig struct {
	// PoolType names the Unconfirmed-pool backing store. It is only
	// logged when the mempool is created; "hashmap" is the one
	// implementation and is used whatever the value.
	PoolType string `mapstructure:"pool_type"`

	// PreallocTxs sizes the pool's initial backing map capacity.
	PreallocTxs int `mapstructure:"prealloc_txs"`

	// MaxSizeMB is a soft size threshold. The mempool does not read it;
	// its idle-tick alarm compares against MaxUnconfirmedWeight.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxUnconfirmedWeight is the hard cap on total Unconfirmed pool
	// weight. On overflow, lowest fee-per-gram entries with no
	// Unconfirmed dependents are evicted first.
	MaxUnconfirmedWeight uint64 `mapstructure:"max_unconfirmed_weight"`

	// MaxTxWeight rejects any single transaction above this weight
	// outright (the "large-tx rejection" rule).
	MaxTxWeight uint64 `mapstructure:"max_tx_weight"`

	// MaxBlockWeight is the consensus-level maximum transaction weight
	// that can fit into a single block.
	MaxBlockWeight uint64 `mapstructure:"max_block_weight"`

	// ReorgPoolExpiry is how long (wall-clock) a Reorg-pool entry is kept
	// before it ages out, independent of block-depth ageing.
	ReorgPoolExpiry time.Duration `mapstructure:"reorg_pool_expiry"`

	// ReorgPoolMaxDepth is how many blocks deep a Reorg-pool entry's
	// confirming block can be before it ages out.
	ReorgPoolMaxDepth uint64 `mapstructure:"reorg_pool_max_depth"`
}

// ConnectivityConfig controls the connectivity manager.
type ConnectivityConfig struct {
	MinConnectivity               int           `mapstructure:"min_connectivity"`
	ConnectionPoolRefreshInterval time.Duration `mapstructure:"connection_pool_refresh_interval"`
	ReaperMinInactiveAge          time.Duration `mapstructure:"reaper_min_inactive_age"`
	IsConnectionReapingEnabled    bool          `mapstructure:"is_connection_reaping_enabled"`
	MaxFailuresMarkOffline        int           `mapstructure:"max_failures_mark_offline"`
	ConnectionTieBreakLinger      time.Duration `mapstructure:"connection_tie_break_linger"`
	RPCRequestTimeout             time.Duration `mapstructure:"rpc_request_timeout"`
	MaxRPCSessions                int           `mapstructure:"max_rpc_sessions"`
}

// Config is the top-level configuration tree.
type Config struct {
	Mempool      MempoolConfig       `mapstructure:"mempool"`
	Connectivity ConnectivityConfig  `mapstructure:"connectivity"`
}

func defaults() Config {
	return Config{
		Mempool: MempoolConfig{
			PoolType:             "hashmap",
			PreallocTxs:          1000,
			MaxSizeMB:            100,
			MaxUnconfirmedWeight: 1_000_000,
			MaxTxWeight:          100_000,
			MaxBlockWeight:       200_000,
			ReorgPoolExpiry:      time.Hour,
			ReorgPoolMaxDepth:    50,
		},
		Connectivity: ConnectivityConfig{
			MinConnectivity:               4,
			ConnectionPoolRefreshInterval: 10 * time.Second,
			ReaperMinInactiveAge:          30 * time.Second,
			IsConnectionReapingEnabled:    true,
			MaxFailuresMarkOffline:        5,
			ConnectionTieBreakLinger:      2 * time.Second,
			RPCRequestTimeout:             60 * time.Second,
			MaxRPCSessions:                4,
		},
	}
}

var (
	mu      sync.RWMutex
	current = defaults()
)

// Get returns the current process-wide configuration. Safe for
// concurrent use; callers should treat the returned value as immutable.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set replaces the process-wide configuration, used by tests and by
// Load after a file has been parsed.
func Set(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Load reads configuration from path (TOML, YAML or .properties,
// auto-detected by extension via viper) layered on top of the built-in
// defaults, and installs the result as the process-wide configuration.
func Load(path string) error {
	v := viper.New()
	cfg := defaults()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	Set(cfg)
	return nil
}
