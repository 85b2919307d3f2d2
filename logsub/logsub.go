// Package logsub aggregates every subsystem's btclog.Logger into one
// backend, the way the teacher's lnd.go wires logging across channeldb,
// htlcswitch, lnwallet and friends (spec §10).
package logsub

import (
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btclog"

	"github.com/chainmesh/corelayer/chain"
	"github.com/chainmesh/corelayer/control"
	"github.com/chainmesh/corelayer/control/httpapi"
	"github.com/chainmesh/corelayer/ledger"
	"github.com/chainmesh/corelayer/storage"
)

// Subsystem tags identify each package's logger, matching its package
// name the way the teacher abbreviates subsystems (CHDB, HSWC, ...).
const (
	SubsystemChain   = "CHAN"
	SubsystemLedger  = "LDGR"
	SubsystemStorage = "STOR"
	SubsystemControl = "CTRL"
	SubsystemHTTPAPI = "HTAP"
)

var subsystems = []string{SubsystemChain, SubsystemLedger, SubsystemStorage, SubsystemControl, SubsystemHTTPAPI}

// loggers holds the live logger for each subsystem, populated by Init and
// consulted by SetLogLevel.
var loggers map[string]btclog.Logger

// Init creates a backend writing to w, builds one logger per subsystem at
// defaultLevel, and wires each package's UseLogger so its package-level
// log variable stops pointing at btclog.Disabled.
func Init(w io.Writer, defaultLevel btclog.Level) {
	backend := btclog.NewBackend(w)
	loggers = make(map[string]btclog.Logger, len(subsystems))
	for _, name := range subsystems {
		logger := backend.Logger(name)
		logger.SetLevel(defaultLevel)
		loggers[name] = logger
	}

	chain.UseLogger(loggers[SubsystemChain])
	ledger.UseLogger(loggers[SubsystemLedger])
	storage.UseLogger(loggers[SubsystemStorage])
	control.UseLogger(loggers[SubsystemControl])
	httpapi.UseLogger(loggers[SubsystemHTTPAPI])
}

// SetLogLevel adjusts a single subsystem's level at runtime, parsing level
// the same way btclog.Level.String values round-trip (e.g. "debug",
// "info", "warn").
func SetLogLevel(subsystem, level string) error {
	logger, ok := loggers[subsystem]
	if !ok {
		return fmt.Errorf("logsub: unknown subsystem %q (known: %s)", subsystem, knownSubsystems())
	}
	parsed, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("logsub: unknown log level %q", level)
	}
	logger.SetLevel(parsed)
	return nil
}

func knownSubsystems() string {
	names := append([]string(nil), subsystems...)
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
