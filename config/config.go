// Package config defines the on-disk/CLI configuration surface for
// cmd/coreld, parsed with github.com/jessevdk/go-flags the way the
// teacher's lnd.go parses its own config struct (spec §12). go.mod
// already requires jessevdk/go-flags directly; lnd.go itself imports an
// older btcsuite/go-flags fork under the same package name, a detail of
// the teacher snapshot this package does not reproduce since only the
// jessevdk module is an available dependency here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/chainmesh/corelayer/chain"
	"github.com/chainmesh/corelayer/statemachine"
)

const (
	defaultDataDirname      = "data"
	defaultDBFilename       = "corelayer.db"
	defaultLedgerRPC        = "http://localhost:8545"
	defaultRevealTimeout    = statemachine.BlockNumber(50)
	defaultSettleTimeout    = statemachine.BlockNumber(500)
	defaultSnapshotInterval = 500
	defaultConfirmations    = chain.DefaultConfirmationBlocks
	defaultControlAddr      = "localhost:5001"
	defaultLogLevel         = "info"
)

// Config mirrors the teacher's top-level config struct: one flat set of
// fields tagged for both CLI flags and an ini-style config file, grouped
// by the concern each one configures (spec §12).
type Config struct {
	DataDir string `long:"datadir" description:"Directory to store the node's state database"`

	LedgerRPC string `long:"ledgerrpc" description:"Endpoint of the ledger node's JSON-RPC interface"`

	DefaultRevealTimeout statemachine.BlockNumber `long:"revealtimeout" description:"Default reveal-timeout (in blocks) offered for a new channel"`
	DefaultSettleTimeout statemachine.BlockNumber `long:"settletimeout" description:"Default settle-timeout (in blocks) offered for a new channel"`

	SnapshotInterval   int                      `long:"snapshotinterval" description:"Number of appended state-changes between automatic snapshots"`
	ConfirmationBlocks statemachine.BlockNumber `long:"confirmationblocks" description:"Number of confirmations a ledger log must reach before it is decoded"`

	ControlAddr string `long:"controladdr" description:"Address control/httpapi listens on"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems, or subsystem=level,subsystem=level,... to set per-subsystem levels"`

	ConfigFile string `long:"configfile" description:"Path to a config file, parsed in addition to the command line"`
}

// DefaultConfig returns a Config populated with every default, the same
// role lnd.go's loadConfig gives its own defaultConfig value before the
// command line and config file are applied on top.
func DefaultConfig() Config {
	dataDir, err := os.UserHomeDir()
	if err != nil {
		dataDir = "."
	}
	return Config{
		DataDir:              filepath.Join(dataDir, ".corelayer", defaultDataDirname),
		LedgerRPC:            defaultLedgerRPC,
		DefaultRevealTimeout: defaultRevealTimeout,
		DefaultSettleTimeout: defaultSettleTimeout,
		SnapshotInterval:     defaultSnapshotInterval,
		ConfirmationBlocks:   defaultConfirmations,
		ControlAddr:          defaultControlAddr,
		DebugLevel:           defaultLogLevel,
	}
}

// DBPath is where storage.Open should point, given DataDir.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, defaultDBFilename)
}

// LoadConfig parses the command line in args (typically os.Args[1:]) over
// DefaultConfig's values, then re-parses a config file if one is named
// either by --configfile or found at the default location within DataDir,
// matching lnd.go's two-pass parse (command line, then ini file, with the
// command line always taking precedence since it is parsed again last).
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	configFile := cfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(cfg.DataDir, "coreld.conf")
	}
	if _, statErr := os.Stat(configFile); statErr == nil {
		if err := flags.NewIniParser(parser).ParseFile(configFile); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
		}
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate applies the bounds spec §4.8 imposes on default channel
// timeouts, so a misconfigured node fails fast at startup rather than
// rejecting every create-channel request at runtime.
func (c Config) validate() error {
	if c.DefaultRevealTimeout < 7 {
		return fmt.Errorf("config: revealtimeout must be at least 7 blocks, got %d", c.DefaultRevealTimeout)
	}
	if c.DefaultSettleTimeout < 2*c.DefaultRevealTimeout {
		return fmt.Errorf("config: settletimeout must be at least twice revealtimeout")
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("config: snapshotinterval must be positive")
	}
	return nil
}
