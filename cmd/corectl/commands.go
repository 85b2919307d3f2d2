package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"
)

// printJson mirrors cmd/lncli/commands.go's own helper: marshal, indent,
// write to stdout.
func printJson(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		fatal(err)
	}
	var out bytes.Buffer
	json.Indent(&out, b, "", "\t")
	out.WriteTo(os.Stdout)
	fmt.Println()
}

// doRequest sends method/path with an optional JSON body to the coreld
// instance named by --rpcserver and returns the decoded JSON response (or
// returns the server's error body as a Go error).
func doRequest(ctx *cli.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := "http://" + ctx.GlobalString("rpcserver") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("corectl: decoding response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		if msg, ok := out["error"]; ok {
			return nil, fmt.Errorf("%v", msg)
		}
		return nil, fmt.Errorf("corectl: unexpected status %d", resp.StatusCode)
	}
	return out, nil
}

var createChannelCommand = cli.Command{
	Name:      "create-channel",
	Usage:     "Open a new channel to a partner on a token network.",
	ArgsUsage: "token-network partner settle-timeout reveal-timeout",
	Action:    createChannel,
}

func createChannel(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 4 {
		cli.ShowCommandHelp(ctx, "create-channel")
		return nil
	}
	settle, err := strconv.ParseUint(args.Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("settle-timeout: %w", err)
	}
	reveal, err := strconv.ParseUint(args.Get(3), 10, 64)
	if err != nil {
		return fmt.Errorf("reveal-timeout: %w", err)
	}
	resp, err := doRequest(ctx, http.MethodPost, "/channels", map[string]interface{}{
		"token_network":  common.HexToAddress(args.Get(0)),
		"partner":        common.HexToAddress(args.Get(1)),
		"settle_timeout": settle,
		"reveal_timeout": reveal,
	})
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}

var updateChannelCommand = cli.Command{
	Name:      "update-channel",
	Usage:     "Update a channel: deposit, withdraw, reveal-timeout, close, or coop-settle.",
	ArgsUsage: "chain-id/token-network/channel-id",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "total-deposit", Usage: "new total deposit amount"},
		cli.StringFlag{Name: "total-withdraw", Usage: "new total withdraw amount"},
		cli.Uint64Flag{Name: "reveal-timeout", Usage: "new reveal-timeout in blocks"},
		cli.BoolFlag{Name: "close", Usage: "request a non-cooperative close"},
		cli.BoolFlag{Name: "coop-settle", Usage: "request a cooperative settle"},
	},
	Action: updateChannel,
}

func updateChannel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowCommandHelp(ctx, "update-channel")
		return nil
	}
	body := map[string]interface{}{}
	if ctx.IsSet("total-deposit") {
		body["total_deposit"] = ctx.String("total-deposit")
	}
	if ctx.IsSet("total-withdraw") {
		body["total_withdraw"] = ctx.String("total-withdraw")
	}
	if ctx.IsSet("reveal-timeout") {
		body["reveal_timeout"] = ctx.Uint64("reveal-timeout")
	}
	if ctx.Bool("close") {
		body["close"] = true
	}
	if ctx.Bool("coop-settle") {
		body["coop_settle"] = true
	}
	resp, err := doRequest(ctx, http.MethodPatch, "/channels/"+ctx.Args().First(), body)
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}

var batchCloseCommand = cli.Command{
	Name:      "batch-close",
	Usage:     "Close several channels in one request.",
	ArgsUsage: "chain-id/token-network/channel-id [...]",
	Action:    batchClose,
}

func batchClose(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		cli.ShowCommandHelp(ctx, "batch-close")
		return nil
	}
	resp, err := doRequest(ctx, http.MethodPost, "/channels/batch-close", map[string]interface{}{
		"channels": []string(ctx.Args()),
	})
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}

var tokenNetworkRegisterCommand = cli.Command{
	Name:      "token-network-register",
	Usage:     "Register a new token network for a token address.",
	ArgsUsage: "token-address",
	Action:    tokenNetworkRegister,
}

func tokenNetworkRegister(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowCommandHelp(ctx, "token-network-register")
		return nil
	}
	resp, err := doRequest(ctx, http.MethodPost, "/token-networks", map[string]interface{}{
		"token_address": common.HexToAddress(ctx.Args().First()),
	})
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}

var tokenNetworkLeaveCommand = cli.Command{
	Name:      "token-network-leave",
	Usage:     "Close every channel on a token network and deregister it.",
	ArgsUsage: "token-network",
	Action:    tokenNetworkLeave,
}

func tokenNetworkLeave(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowCommandHelp(ctx, "token-network-leave")
		return nil
	}
	resp, err := doRequest(ctx, http.MethodDelete, "/token-networks/"+ctx.Args().First(), nil)
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}

var initiatePaymentCommand = cli.Command{
	Name:      "initiate-payment",
	Usage:     "Start a payment to a target over a token network.",
	ArgsUsage: "token-network target amount payment-id",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "secret", Usage: "hex-encoded secret (generated if omitted)"},
		cli.StringFlag{Name: "secret-hash", Usage: "hex-encoded secret hash (derived if omitted)"},
		cli.Uint64Flag{Name: "lock-timeout", Usage: "lock timeout in blocks (defaults to 2x the first hop's reveal-timeout)"},
	},
	Action: initiatePayment,
}

func initiatePayment(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 4 {
		cli.ShowCommandHelp(ctx, "initiate-payment")
		return nil
	}
	amount, err := strconv.ParseUint(args.Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	paymentID, err := strconv.ParseUint(args.Get(3), 10, 64)
	if err != nil {
		return fmt.Errorf("payment-id: %w", err)
	}
	body := map[string]interface{}{
		"token_network": common.HexToAddress(args.Get(0)),
		"target":        common.HexToAddress(args.Get(1)),
		"amount":        amount,
		"payment_id":    paymentID,
		"lock_timeout":  ctx.Uint64("lock-timeout"),
	}
	if ctx.IsSet("secret") {
		body["secret"] = common.HexToHash(ctx.String("secret"))
	}
	if ctx.IsSet("secret-hash") {
		body["secret_hash"] = common.HexToHash(ctx.String("secret-hash"))
	}
	resp, err := doRequest(ctx, http.MethodPost, "/payments", body)
	if err != nil {
		return err
	}
	printJson(resp)
	fmt.Printf("wait for completion over the websocket at: ws://%s/payments/wait?id=%d\n", ctx.GlobalString("rpcserver"), paymentID)
	return nil
}

var depositToUDCCommand = cli.Command{
	Name:      "deposit-to-udc",
	Usage:     "Deposit into the user deposit contract.",
	ArgsUsage: "amount",
	Action:    udcAmountCommand("/udc/deposit"),
}

var planWithdrawFromUDCCommand = cli.Command{
	Name:      "plan-withdraw-from-udc",
	Usage:     "Start the user deposit contract's withdraw timelock.",
	ArgsUsage: "amount",
	Action:    udcAmountCommand("/udc/plan-withdraw"),
}

var withdrawFromUDCCommand = cli.Command{
	Name:      "withdraw-from-udc",
	Usage:     "Complete a previously planned user deposit contract withdraw.",
	ArgsUsage: "amount",
	Action:    udcAmountCommand("/udc/withdraw"),
}

// udcAmountCommand builds an Action for the three user-deposit-contract
// operations, which all take a single amount argument and post it to a
// fixed path.
func udcAmountCommand(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("expected a single amount argument")
		}
		amount, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		resp, err := doRequest(ctx, http.MethodPost, path, map[string]interface{}{"amount": amount})
		if err != nil {
			return err
		}
		printJson(resp)
		return nil
	}
}

var mintTokenForCommand = cli.Command{
	Name:      "mint-token-for",
	Usage:     "Mint a test token to a recipient (test networks only).",
	ArgsUsage: "token recipient amount",
	Action:    mintTokenFor,
}

func mintTokenFor(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 3 {
		cli.ShowCommandHelp(ctx, "mint-token-for")
		return nil
	}
	amount, err := strconv.ParseUint(args.Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	resp, err := doRequest(ctx, http.MethodPost, "/testtoken/mint", map[string]interface{}{
		"token":     common.HexToAddress(args.Get(0)),
		"recipient": common.HexToAddress(args.Get(1)),
		"amount":    amount,
	})
	if err != nil {
		return err
	}
	printJson(resp)
	return nil
}
