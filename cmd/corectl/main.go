// Command corectl is the control-surface CLI (spec §6, §16): an
// urfave/cli app that talks to a running coreld's control/httpapi over
// plain HTTP/JSON, the same division of labor as cmd/lncli talking to
// lnd's gRPC surface.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[corectl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "corectl"
	app.Version = "0.1"
	app.Usage = "control plane for coreld"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:5001",
			Usage: "host:port of coreld's control surface",
		},
	}
	app.Commands = []cli.Command{
		createChannelCommand,
		updateChannelCommand,
		batchCloseCommand,
		tokenNetworkRegisterCommand,
		tokenNetworkLeaveCommand,
		initiatePaymentCommand,
		depositToUDCCommand,
		planWithdrawFromUDCCommand,
		withdrawFromUDCCommand,
		mintTokenForCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
