package ledger

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger (spec §10). ledger already has a
// log.go defining the Log type, so the logger plumbing lives in its own
// file to keep that name unambiguous.
var log = btclog.Disabled

// UseLogger sets the package-wide logger for ledger.
func UseLogger(logger btclog.Logger) {
	log = logger
}
