package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultRPCURL = "http://127.0.0.1:8547/rpc"

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("MARKET_RPC_TOKEN")
	rpcClient    = &http.Client{Timeout: 15 * time.Second}
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func defaultRPCEndpoint() string {
	if env := strings.TrimSpace(os.Getenv("MARKET_RPC_URL")); env != "" {
		return env
	}
	return defaultRPCURL
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	command, rest := args[0], args[1:]
	switch command {
	case "create":
		return runCreate(rest, stdout, stderr)
	case "bet":
		return runBet(rest, stdout, stderr)
	case "resolve":
		return runResolve(rest, stdout, stderr)
	case "claim":
		return runClaim(rest, stdout, stderr)
	case "get":
		return runGet(rest, stdout, stderr)
	case "list":
		return runList(rest, stdout, stderr)
	case "events":
		return runEvents(rest, stdout, stderr)
	case "balance":
		return runBalance(rest, stdout, stderr)
	case "mint":
		return runMint(rest, stdout, stderr)
	case "token":
		return runToken(rest, stdout, stderr)
	case "identity":
		return runIdentity(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n%s\n", command, usage())
		return 1
	}
}

// applyGlobalFlags consumes --rpc and --token ahead of the subcommand.
func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			setGlobal(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			setGlobal("--rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--token="):
			setGlobal("--token", strings.TrimPrefix(arg, "--token="))
		default:
			if len(remaining) == 0 && !strings.HasPrefix(arg, "-") {
				// Everything after the subcommand belongs to it.
				remaining = append(remaining, args[i:]...)
				return remaining, nil
			}
			remaining = append(remaining, arg)
		}
	}
	return remaining, nil
}

func setGlobal(name, value string) {
	value = strings.TrimSpace(value)
	switch name {
	case "--rpc":
		rpcEndpoint = value
	case "--token":
		rpcAuthToken = value
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  market-cli [--rpc URL] [--token JWT] <command> [flags]

Commands:
  create    Open a new market
  bet       Stake on the yes or no side of a market
  resolve   Record the outcome of a market you created
  claim     Claim winnings from a resolved market
  get       Fetch a market and its custody balance
  list      List markets
  events    List journaled events for a market
  balance   Show the balance of an identity
  mint      Credit an identity (admin scope)
  token     Sign a bearer token for an identity
  identity  Generate a random identity

Environment:
  MARKET_RPC_URL    RPC endpoint (default ` + defaultRPCURL + `)
  MARKET_RPC_TOKEN  bearer token for authenticated methods
  MARKET_JWT_SECRET HMAC secret used by the token command
`)
}

func callMarketRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if strings.TrimSpace(rpcAuthToken) == "" {
			return nil, fmt.Errorf("authenticated RPC call requires --token or MARKET_RPC_TOKEN")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	resp, err := rpcClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}
