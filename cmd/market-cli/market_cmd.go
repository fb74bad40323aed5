package main

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viraj-mahida/betting-contract/core/types"
	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/rpc"
)

var (
	marketRPCCall = callMarketRPC
	tokenNow      = time.Now
)

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("create", stderr)
	var (
		question string
		nonce    uint64
	)
	fs.StringVar(&question, "question", "", "market question")
	fs.Uint64Var(&nonce, "nonce", 0, "creator nonce used to derive the market id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	questionSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "question" {
			questionSet = true
		}
	})
	if !questionSet {
		return printMarketError(stderr, "--question is required")
	}
	params := map[string]interface{}{
		"question": question,
		"nonce":    nonce,
	}
	return callAndPrint(stdout, stderr, "market_create", params, true)
}

func runBet(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("bet", stderr)
	var id, choice, amount string
	fs.StringVar(&id, "id", "", "market id")
	fs.StringVar(&choice, "choice", "", "side to back (yes|no)")
	fs.StringVar(&amount, "amount", "", "stake in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateMarketID(id); err != nil {
		return printMarketError(stderr, err.Error())
	}
	side, err := parseSide(choice)
	if err != nil {
		return printMarketError(stderr, fmt.Sprintf("invalid --choice: %v", err))
	}
	normalized, err := normalizeAmount(amount)
	if err != nil {
		return printMarketError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"id":     strings.TrimSpace(id),
		"choice": side.String(),
		"amount": normalized,
	}
	return callAndPrint(stdout, stderr, "market_placeBet", params, true)
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("resolve", stderr)
	var id, outcome string
	fs.StringVar(&id, "id", "", "market id")
	fs.StringVar(&outcome, "outcome", "", "winning side (yes|no)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateMarketID(id); err != nil {
		return printMarketError(stderr, err.Error())
	}
	side, err := parseSide(outcome)
	if err != nil {
		return printMarketError(stderr, fmt.Sprintf("invalid --outcome: %v", err))
	}
	params := map[string]interface{}{
		"id":      strings.TrimSpace(id),
		"outcome": side.String(),
	}
	return callAndPrint(stdout, stderr, "market_resolve", params, true)
}

func runClaim(args []string, stdout, stderr io.Writer) int {
	id, code := parseIDOnly("claim", args, stderr)
	if code != 0 {
		return code
	}
	return callAndPrint(stdout, stderr, "market_claim", map[string]interface{}{"id": id}, true)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	id, code := parseIDOnly("get", args, stderr)
	if code != 0 {
		return code
	}
	return callAndPrint(stdout, stderr, "market_get", map[string]interface{}{"id": id}, false)
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("list", stderr)
	var offset, limit int
	fs.IntVar(&offset, "offset", 0, "number of markets to skip")
	fs.IntVar(&limit, "limit", 50, "maximum markets returned")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if offset < 0 || limit < 0 {
		return printMarketError(stderr, "--offset and --limit must not be negative")
	}
	params := map[string]interface{}{"offset": offset, "limit": limit}
	return callAndPrint(stdout, stderr, "market_list", params, false)
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("events", stderr)
	var id string
	var limit int
	fs.StringVar(&id, "id", "", "market id (empty lists every market)")
	fs.IntVar(&limit, "limit", 100, "maximum events returned")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(id) != "" {
		if err := validateMarketID(id); err != nil {
			return printMarketError(stderr, err.Error())
		}
	}
	params := map[string]interface{}{"id": strings.TrimSpace(id), "limit": limit}
	return callAndPrint(stdout, stderr, "market_listEvents", params, false)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("balance", stderr)
	var identity string
	fs.StringVar(&identity, "identity", "", "base58 identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := types.ParseIdentity(strings.TrimSpace(identity)); err != nil {
		return printMarketError(stderr, fmt.Sprintf("invalid --identity: %v", err))
	}
	params := map[string]interface{}{"identity": strings.TrimSpace(identity)}
	return callAndPrint(stdout, stderr, "account_getBalance", params, false)
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("mint", stderr)
	var identity, amount string
	fs.StringVar(&identity, "identity", "", "base58 identity to credit")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := types.ParseIdentity(strings.TrimSpace(identity)); err != nil {
		return printMarketError(stderr, fmt.Sprintf("invalid --identity: %v", err))
	}
	normalized, err := normalizeAmount(amount)
	if err != nil {
		return printMarketError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"identity": strings.TrimSpace(identity),
		"amount":   normalized,
	}
	return callAndPrint(stdout, stderr, "account_mint", params, true)
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("token", stderr)
	var subject, scopes, issuer, audience, secret string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "", "base58 identity the token authenticates")
	fs.StringVar(&scopes, "scope", "", "comma separated scopes")
	fs.StringVar(&issuer, "issuer", "", "issuer claim")
	fs.StringVar(&audience, "audience", "", "audience claim")
	fs.StringVar(&secret, "secret", os.Getenv("MARKET_JWT_SECRET"), "HMAC secret (default $MARKET_JWT_SECRET)")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := types.ParseIdentity(strings.TrimSpace(subject))
	if err != nil {
		return printMarketError(stderr, fmt.Sprintf("invalid --subject: %v", err))
	}
	if strings.TrimSpace(secret) == "" {
		return printMarketError(stderr, "--secret or MARKET_JWT_SECRET is required")
	}
	token, err := rpc.IssueToken(secret, rpc.TokenRequest{
		Subject:  id,
		Scopes:   splitList(scopes),
		Issuer:   strings.TrimSpace(issuer),
		Audience: strings.TrimSpace(audience),
		TTL:      ttl,
		Now:      tokenNow(),
	})
	if err != nil {
		return printMarketError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runIdentity(args []string, stdout, stderr io.Writer) int {
	fs := newMarketFlagSet("identity", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return printMarketError(stderr, fmt.Sprintf("read entropy: %v", err))
	}
	fmt.Fprintln(stdout, types.Identity(raw).String())
	return 0
}

func parseIDOnly(name string, args []string, stderr io.Writer) (string, int) {
	fs := newMarketFlagSet(name, stderr)
	var id string
	fs.StringVar(&id, "id", "", "market id")
	if err := fs.Parse(args); err != nil {
		return "", 1
	}
	if err := validateMarketID(id); err != nil {
		return "", printMarketError(stderr, err.Error())
	}
	return strings.TrimSpace(id), 0
}

func callAndPrint(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := marketRPCCall(method, params, requireAuth)
	if code := handleRPCCallError(stderr, err); code != 0 {
		return code
	}
	if code := handleRPCError(stderr, rpcErr); code != 0 {
		return code
	}
	writeRPCResult(stdout, result)
	return 0
}

func newMarketFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printMarketError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(w, "  %s\n", err.Data)
	}
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func validateMarketID(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("--id is required")
	}
	if _, err := market.ParseID(trimmed); err != nil {
		return fmt.Errorf("invalid --id: %v", err)
	}
	return nil
}

func parseSide(raw string) (market.Outcome, error) {
	side, err := market.ParseOutcome(raw)
	if err != nil {
		return side, err
	}
	if !side.Decided() {
		return side, errors.New("expected yes or no")
	}
	return side, nil
}

// normalizeAmount accepts digits with optional underscores and returns the
// canonical decimal string sent over the wire.
func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", errors.New("--amount is required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid --amount %q", value)
	}
	if parsed == 0 {
		return "", errors.New("--amount must be positive")
	}
	return strconv.FormatUint(parsed, 10), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
