package classifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/internal/solana"
)

const (
	watched = "So11111111111111111111111111111111111111112"
	usdc    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	sol     = uint64(1_000_000_000)
)

type fixedPrices map[string]float64

func (f fixedPrices) Quote(_ context.Context, symbol string) oracle.Quote {
	price, ok := f[symbol]
	if !ok {
		return oracle.Quote{Symbol: symbol, Source: oracle.SourceNone, Stale: true}
	}
	return oracle.Quote{Symbol: symbol, Price: price, Source: oracle.SourceLive}
}

func newTestClassifier(prices fixedPrices) *Classifier {
	return New("SOL", map[string]string{"USDC": usdc}, prices)
}

func keys(signers int, pubkeys ...string) []solana.AccountKey {
	out := make([]solana.AccountKey, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = solana.AccountKey{Pubkey: k, Signer: i < signers, Writable: true}
	}
	return out
}

func instruction(t *testing.T, program, kind string, info map[string]interface{}) solana.Instruction {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"type": kind, "info": info})
	require.NoError(t, err)
	return solana.Instruction{Program: program, Parsed: raw}
}

func newTx(accountKeys []solana.AccountKey, pre, post []uint64, instructions ...solana.Instruction) *solana.ParsedTransaction {
	blockTime := int64(1700000000)
	return &solana.ParsedTransaction{
		Slot:      100,
		BlockTime: &blockTime,
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  pre,
			PostBalances: post,
		},
		Transaction: solana.TransactionBody{
			Signatures: []string{"sig1"},
			Message: solana.Message{
				AccountKeys:  accountKeys,
				Instructions: instructions,
			},
		},
	}
}

func TestNativeDepositFromBalanceDelta(t *testing.T) {
	tx := newTx(keys(1, "sender", watched), []uint64{500 * sol, 100 * sol}, []uint64{450*sol - 5000, 150 * sol})

	result := newTestClassifier(fixedPrices{"SOL": 20}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)

	r := result.Records[0]
	assert.Equal(t, models.DirectionDeposit, r.Direction)
	assert.Equal(t, models.AssetNative, r.Asset.Kind)
	assert.Equal(t, 50.0, r.Amount)
	assert.Equal(t, 1000.0, r.USDValue)
	assert.Equal(t, "sender", r.Counterparty)
	assert.Equal(t, models.StatusSuccess, r.Status)
	assert.Equal(t, int64(1700000000000), r.TimestampMillis)
	assert.Equal(t, uint64(100), r.Slot)
	assert.False(t, r.Ambiguous)
	assert.False(t, result.PriceStale)
	assert.False(t, result.Unpriced)
	assert.Equal(t, models.RecordID("sig1", r.Asset, r.Direction, "sender"), r.ID)
}

func TestNativeWithdrawalExcludesFee(t *testing.T) {
	tx := newTx(keys(1, watched, "dest"), []uint64{10 * sol, 0}, []uint64{8*sol - 5000, 2 * sol},
		instruction(t, solana.ProgramSystem, "transfer", map[string]interface{}{
			"source": watched, "destination": "dest", "lamports": 2 * sol,
		}),
	)

	result := newTestClassifier(fixedPrices{"SOL": 10}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)

	r := result.Records[0]
	assert.Equal(t, models.DirectionWithdrawal, r.Direction)
	assert.Equal(t, 2.0, r.Amount)
	assert.Equal(t, "dest", r.Counterparty)
	assert.False(t, r.Ambiguous)
}

func TestMultipleSendersAttributedToOwnTransfer(t *testing.T) {
	tx := newTx(keys(2, "alice", "bob", watched), []uint64{5 * sol, 5 * sol, 0}, []uint64{4*sol - 5000, 3 * sol, 3 * sol},
		instruction(t, solana.ProgramSystem, "transfer", map[string]interface{}{
			"source": "alice", "destination": watched, "lamports": sol,
		}),
		instruction(t, solana.ProgramSystem, "transfer", map[string]interface{}{
			"source": "bob", "destination": watched, "lamports": 2 * sol,
		}),
	)

	result := newTestClassifier(fixedPrices{"SOL": 1}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 2)

	byCounterparty := map[string]*models.TransactionRecord{}
	for _, r := range result.Records {
		byCounterparty[r.Counterparty] = r
		assert.False(t, r.Ambiguous)
		assert.Equal(t, models.DirectionDeposit, r.Direction)
	}
	assert.Equal(t, 1.0, byCounterparty["alice"].Amount)
	assert.Equal(t, 2.0, byCounterparty["bob"].Amount)
}

func TestTokenDepositFromInnerInstruction(t *testing.T) {
	tx := newTx(keys(1, "payer", "payerATA", "watchedATA"), []uint64{sol, 0, 0}, []uint64{sol - 5000, 0, 0})
	tx.Meta.PreTokenBalances = []solana.TokenBalance{
		{AccountIndex: 1, Mint: usdc, Owner: "payer", UITokenAmount: solana.UITokenAmount{Amount: "100000000", Decimals: 6}},
		{AccountIndex: 2, Mint: usdc, Owner: watched, UITokenAmount: solana.UITokenAmount{Amount: "0", Decimals: 6}},
	}
	tx.Meta.PostTokenBalances = []solana.TokenBalance{
		{AccountIndex: 1, Mint: usdc, Owner: "payer", UITokenAmount: solana.UITokenAmount{Amount: "75000000", Decimals: 6}},
		{AccountIndex: 2, Mint: usdc, Owner: watched, UITokenAmount: solana.UITokenAmount{Amount: "25000000", Decimals: 6}},
	}
	tx.Meta.InnerInstructions = []solana.InnerInstruction{{
		Index: 0,
		Instructions: []solana.Instruction{
			instruction(t, solana.ProgramSPLToken, "transferChecked", map[string]interface{}{
				"source": "payerATA", "destination": "watchedATA", "authority": "payer", "mint": usdc,
				"tokenAmount": map[string]interface{}{"amount": "25000000", "decimals": 6},
			}),
		},
	}}

	result := newTestClassifier(fixedPrices{"USDC": 1}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)

	r := result.Records[0]
	assert.Equal(t, models.AssetToken, r.Asset.Kind)
	assert.Equal(t, usdc, r.Asset.Mint)
	assert.Equal(t, "USDC", r.Asset.Symbol)
	assert.Equal(t, 25.0, r.Amount)
	assert.Equal(t, 25.0, r.USDValue)
	assert.Equal(t, "payer", r.Counterparty)
	assert.False(t, r.Ambiguous)
}

func TestUnexplainedTokenDeltaIsFlagged(t *testing.T) {
	tx := newTx(keys(1, "minter", "watchedATA"), []uint64{sol, 0}, []uint64{sol - 5000, 0})
	tx.Meta.PostTokenBalances = []solana.TokenBalance{
		{AccountIndex: 1, Mint: usdc, Owner: watched, UITokenAmount: solana.UITokenAmount{Amount: "5000000", Decimals: 6}},
	}

	result := newTestClassifier(fixedPrices{"USDC": 1}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)
	assert.Equal(t, 5.0, result.Records[0].Amount)
	assert.Equal(t, "minter", result.Records[0].Counterparty)
	assert.True(t, result.Records[0].Ambiguous)
}

func TestUntrackedMintIgnored(t *testing.T) {
	tx := newTx(keys(1, "payer", "srcATA", "dstATA"), []uint64{sol, 0, 0}, []uint64{sol - 5000, 0, 0},
		instruction(t, solana.ProgramSPLToken, "transfer", map[string]interface{}{
			"source": "srcATA", "destination": "dstATA", "authority": "payer", "amount": "10",
		}),
	)
	tx.Meta.PostTokenBalances = []solana.TokenBalance{
		{AccountIndex: 2, Mint: "OtherMint", Owner: watched, UITokenAmount: solana.UITokenAmount{Amount: "10"}},
	}

	result := newTestClassifier(fixedPrices{}).Classify(context.Background(), tx, watched)
	assert.Empty(t, result.Records)
}

func TestFailedTransactionKeepsAuditRecord(t *testing.T) {
	tx := newTx(keys(1, "sender", watched), []uint64{5 * sol, 0}, []uint64{5*sol - 5000, 0},
		instruction(t, solana.ProgramSystem, "transfer", map[string]interface{}{
			"source": "sender", "destination": watched, "lamports": sol,
		}),
	)
	tx.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	result := newTestClassifier(fixedPrices{"SOL": 10}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.StatusFailed, result.Records[0].Status)
	assert.Equal(t, 1.0, result.Records[0].Amount)
	assert.False(t, result.Records[0].IsMonetary())
}

func TestAmbiguousSignersBestGuess(t *testing.T) {
	tx := newTx(keys(2, "x", "y", watched), []uint64{sol, sol, 0}, []uint64{sol - 5000, sol, sol})

	result := newTestClassifier(fixedPrices{"SOL": 1}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "x", result.Records[0].Counterparty)
	assert.True(t, result.Records[0].Ambiguous)
}

func TestMissingPriceMarksStale(t *testing.T) {
	tx := newTx(keys(1, "sender", watched), []uint64{2 * sol, 0}, []uint64{sol - 5000, sol})

	result := newTestClassifier(fixedPrices{}).Classify(context.Background(), tx, watched)
	require.Len(t, result.Records, 1)
	assert.True(t, result.PriceStale)
	assert.True(t, result.Unpriced)
	assert.Zero(t, result.Records[0].USDValue)
	assert.Equal(t, 1.0, result.Records[0].Amount)
}

func TestUnrelatedTransactionYieldsNothing(t *testing.T) {
	tx := newTx(keys(1, "a", "b"), []uint64{2 * sol, 0}, []uint64{sol - 5000, sol})

	result := newTestClassifier(fixedPrices{"SOL": 1}).Classify(context.Background(), tx, watched)
	assert.Empty(t, result.Records)
	assert.Empty(t, newTestClassifier(nil).Classify(context.Background(), nil, watched).Records)
}
