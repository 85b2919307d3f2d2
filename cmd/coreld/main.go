// Command coreld is the node daemon: it parses flags the way lnd.go does,
// recovers chain state from storage, and serves the control surface over
// control/httpapi (spec §12).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/chainmesh/corelayer/chain"
	"github.com/chainmesh/corelayer/config"
	"github.com/chainmesh/corelayer/control"
	"github.com/chainmesh/corelayer/control/httpapi"
	"github.com/chainmesh/corelayer/logsub"
	"github.com/chainmesh/corelayer/statemachine"
	"github.com/chainmesh/corelayer/storage"

	"github.com/btcsuite/btclog"
)

// coreldMain is the true entry point, separated from main so deferred
// cleanups still run when an early return carries an error, the same
// reason lnd.go splits lndMain out of main.
func coreldMain() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("coreld: creating data directory: %w", err)
	}

	applyLogLevels(cfg.DebugLevel)

	store, err := storage.Open(cfg.DBPath(), statemachine.Address{})
	if err != nil {
		return fmt.Errorf("coreld: opening storage: %w", err)
	}
	defer store.Close()

	chainState, err := store.Recover(0, statemachine.Address{}, 0, chain.Transition)
	if err != nil {
		return fmt.Errorf("coreld: recovering chain state: %w", err)
	}

	adapter := control.NewAdapter(chainState, store, chain.Transition, unimplementedLedgerClient())

	server := httpapi.NewServer(adapter, chainState.ChainID)
	httpSrv := &http.Server{Addr: cfg.ControlAddr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("coreld: control/httpapi: %w", err)
		}
	case <-interrupt:
		return httpSrv.Close()
	}
	return nil
}

// applyLogLevels parses cfg.DebugLevel the way lnd.go's setLogLevels does:
// either a single level applied to every subsystem, or a comma-separated
// "subsystem=level,subsystem=level" list.
func applyLogLevels(spec string) {
	logsub.Init(os.Stdout, btclog.LevelInfo)

	if !strings.Contains(spec, "=") {
		for _, subsystem := range []string{logsub.SubsystemChain, logsub.SubsystemLedger, logsub.SubsystemStorage, logsub.SubsystemControl, logsub.SubsystemHTTPAPI} {
			if err := logsub.SetLogLevel(subsystem, spec); err != nil {
				fmt.Fprintf(os.Stderr, "coreld: %v\n", err)
			}
		}
		return
	}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if err := logsub.SetLogLevel(parts[0], parts[1]); err != nil {
			fmt.Fprintf(os.Stderr, "coreld: %v\n", err)
		}
	}
}

// unimplementedLedgerClient returns a LedgerClient every method of which
// reports an error: constructing real ledger transactions is out of scope
// for this core (spec §1 Non-goals, §16). A deployment wires a real
// implementation (ethclient-backed contract calls) in its place; this
// keeps coreld runnable standalone for exercising the control surface and
// persistence/recovery paths against a quiescent chain state.
func unimplementedLedgerClient() control.LedgerClient {
	errUnimplemented := func(op string) error {
		return fmt.Errorf("coreld: %s: no ledger client configured", op)
	}
	return control.LedgerClient{
		Registry: func(statemachine.Address) (statemachine.Registry, error) {
			return statemachine.Registry{}, errUnimplemented("Registry")
		},
		Deprecated: func(statemachine.Address) (bool, error) {
			return false, errUnimplemented("Deprecated")
		},
		OpenChannel: func(statemachine.Address, statemachine.Address, statemachine.BlockNumber) (uint64, error) {
			return 0, errUnimplemented("OpenChannel")
		},
		Deposit: func(statemachine.CanonicalID, statemachine.TokenAmount) error {
			return errUnimplemented("Deposit")
		},
		RegisterTokenNetwork: func(statemachine.Address) (statemachine.Address, error) {
			return statemachine.Address{}, errUnimplemented("RegisterTokenNetwork")
		},
		LeaveTokenNetwork: func(statemachine.Address) error {
			return errUnimplemented("LeaveTokenNetwork")
		},
		DepositToUDC: func(statemachine.TokenAmount) error {
			return errUnimplemented("DepositToUDC")
		},
		PlanWithdrawFromUDC: func(statemachine.TokenAmount) (statemachine.BlockNumber, error) {
			return 0, errUnimplemented("PlanWithdrawFromUDC")
		},
		WithdrawFromUDC: func(statemachine.TokenAmount) error {
			return errUnimplemented("WithdrawFromUDC")
		},
		MintTokenFor: func(statemachine.Address, statemachine.Address, statemachine.TokenAmount) error {
			return errUnimplemented("MintTokenFor")
		},
		Submit: func(kind string, id statemachine.CanonicalID, args map[string]interface{}) error {
			return errUnimplemented("Submit(" + kind + ")")
		},
	}
}

func main() {
	if err := coreldMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
