package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/connection"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// LamportsPerSOL is the number of lamports in one SOL
const LamportsPerSOL = 1_000_000_000

// codeInvalidParams is the JSON-RPC code the node returns for malformed keys
const codeInvalidParams = -32602

// DefaultCommitment is used when no commitment is configured
const DefaultCommitment = "confirmed"

// RPC is the blockchain read surface used by the engine
type RPC interface {
	GetNativeBalance(ctx context.Context, address string) (float64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (float64, error)
	ListSignatures(ctx context.Context, address string, opts SignaturesOpts) ([]SignatureInfo, error)
	GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// Client implements RPC over a JSON-RPC connection. Rate limiting and
// endpoint failover happen inside the connection.
type Client struct {
	caller     connection.Caller
	commitment string
	logger     *logrus.Entry
}

// NewClient creates a Solana RPC adapter
func NewClient(caller connection.Caller, commitment string) *Client {
	if commitment == "" {
		commitment = DefaultCommitment
	}
	return &Client{
		caller:     caller,
		commitment: commitment,
		logger:     utils.ComponentLogger("solana"),
	}
}

// GetNativeBalance returns the SOL balance of address
func (c *Client) GetNativeBalance(ctx context.Context, address string) (float64, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return 0, err
	}

	var result balanceResult
	params := map[string]interface{}{"commitment": c.commitment}
	if err := c.caller.Call(ctx, &result, "getBalance", address, params); err != nil {
		return 0, mapError(err, address)
	}
	return LamportsToSOL(result.Value).InexactFloat64(), nil
}

// GetTokenBalance sums mint balances across every token account owned by owner.
// An owner without token accounts has a zero balance.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (float64, error) {
	if err := utils.ValidateAddress(owner); err != nil {
		return 0, err
	}
	if err := utils.ValidateAddress(mint); err != nil {
		return 0, err
	}

	var result tokenAccountsResult
	filter := map[string]interface{}{"mint": mint}
	params := map[string]interface{}{"encoding": "jsonParsed", "commitment": c.commitment}
	if err := c.caller.Call(ctx, &result, "getTokenAccountsByOwner", owner, filter, params); err != nil {
		return 0, mapError(err, owner)
	}

	total := decimal.Zero
	for _, account := range result.Value {
		amount := account.Account.Data.Parsed.Info.TokenAmount
		value, err := TokenAmount(amount.Amount, amount.Decimals)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"account": account.Pubkey,
				"amount":  amount.Amount,
			}).Warn("Skipping token account with unparseable amount")
			continue
		}
		total = total.Add(value)
	}
	return total.InexactFloat64(), nil
}

// ListSignatures returns signatures for address, most recent first. An empty
// slice marks the end of history.
func (c *Client) ListSignatures(ctx context.Context, address string, opts SignaturesOpts) ([]SignatureInfo, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return nil, err
	}

	params := map[string]interface{}{"commitment": c.commitment}
	if opts.Before != "" {
		params["before"] = opts.Before
	}
	if opts.Until != "" {
		params["until"] = opts.Until
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}

	var result []SignatureInfo
	if err := c.caller.Call(ctx, &result, "getSignaturesForAddress", address, params); err != nil {
		return nil, mapError(err, address)
	}
	if result == nil {
		result = []SignatureInfo{}
	}
	return result, nil
}

// GetParsedTransaction fetches a transaction in jsonParsed encoding.
// A nil transaction with a nil error means it is not yet available.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	if signature == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Signature is required")
	}

	var result *ParsedTransaction
	params := map[string]interface{}{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
		"commitment":                     c.commitment,
	}
	if err := c.caller.Call(ctx, &result, "getTransaction", signature, params); err != nil {
		return nil, mapError(err, signature)
	}
	if result != nil && len(result.Transaction.Signatures) == 0 {
		result.Transaction.Signatures = []string{signature}
	}
	return result, nil
}

// mapError turns node-side parameter rejections into InvalidAddress
func mapError(err error, subject string) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeInvalidParams {
		return utils.WrapError(utils.ErrCodeInvalidAddress, fmt.Sprintf("Node rejected %q", subject), err)
	}
	return err
}

// LamportsToSOL converts lamports to SOL exactly
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.New(int64(lamports), -9)
}

// TokenAmount converts a raw base-unit amount string to token units
func TokenAmount(raw string, decimals uint8) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-int32(decimals)), nil
}
