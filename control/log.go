package control

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, unset until logsub.Init wires one
// in (spec §10); until then every call is a no-op.
var log = btclog.Disabled

// UseLogger sets the package-wide logger for control.
func UseLogger(logger btclog.Logger) {
	log = logger
}
