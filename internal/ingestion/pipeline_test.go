package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/presale-monitor/internal/cache"
	"github.com/smartdevs17/presale-monitor/internal/classifier"
	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/internal/solana"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const (
	watched = "So11111111111111111111111111111111111111112"
	sol     = uint64(1_000_000_000)
)

type fixedPrices map[string]float64

func (f fixedPrices) Quote(_ context.Context, symbol string) oracle.Quote {
	return oracle.Quote{Symbol: symbol, Price: f[symbol], Source: oracle.SourceLive}
}

// fakeRPC serves a newest-first signature history and canned transactions
type fakeRPC struct {
	mu         sync.Mutex
	signatures []solana.SignatureInfo
	txs        map[string]*solana.ParsedTransaction
	listErr    error
	fetchErr   error
	fetches    map[string]int
	listCalls  int
	fetchDelay time.Duration
	fetchStart chan struct{}
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{txs: map[string]*solana.ParsedTransaction{}, fetches: map[string]int{}}
}

// deposit prepends a native deposit of amount SOL from sender
func (f *fakeRPC) deposit(sender string, amount uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot := uint64(100 + len(f.signatures))
	sig := fmt.Sprintf("sig%d", slot)
	blockTime := int64(1700000000 + slot)
	f.signatures = append([]solana.SignatureInfo{{Signature: sig, Slot: slot, BlockTime: &blockTime}}, f.signatures...)
	f.txs[sig] = &solana.ParsedTransaction{
		Slot:      slot,
		BlockTime: &blockTime,
		Meta: &solana.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{1000 * sol, 10 * sol},
			PostBalances: []uint64{(1000-amount)*sol - 5000, (10 + amount) * sol},
		},
		Transaction: solana.TransactionBody{
			Signatures: []string{sig},
			Message: solana.Message{AccountKeys: []solana.AccountKey{
				{Pubkey: sender, Signer: true, Writable: true},
				{Pubkey: watched, Writable: true},
			}},
		},
	}
	return sig
}

func (f *fakeRPC) GetNativeBalance(context.Context, string) (float64, error) { return 0, nil }

func (f *fakeRPC) GetTokenBalance(context.Context, string, string) (float64, error) { return 0, nil }

func (f *fakeRPC) ListSignatures(_ context.Context, _ string, opts solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	start := 0
	if opts.Before != "" {
		for i, s := range f.signatures {
			if s.Signature == opts.Before {
				start = i + 1
			}
		}
	}
	out := []solana.SignatureInfo{}
	for _, s := range f.signatures[start:] {
		if s.Signature == opts.Until || len(out) == opts.Limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRPC) GetParsedTransaction(ctx context.Context, signature string) (*solana.ParsedTransaction, error) {
	if f.fetchStart != nil {
		f.fetchStart <- struct{}{}
	}
	if f.fetchDelay > 0 {
		select {
		case <-time.After(f.fetchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[signature]++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.txs[signature], nil
}

func (f *fakeRPC) hide(signature string) *solana.ParsedTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := f.txs[signature]
	delete(f.txs, signature)
	return tx
}

func (f *fakeRPC) restore(signature string, tx *solana.ParsedTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[signature] = tx
}

func testConfig() *config.IngestionConfig {
	return &config.IngestionConfig{
		BatchSize:          2,
		PageSize:           2,
		MaxSignatures:      100,
		FetchRetries:       1,
		RetryDelay:         time.Millisecond,
		MaxPendingAttempts: 2,
		RunTimeout:         10 * time.Second,
	}
}

// switchablePrices quotes one SOL price, or no price while it is zero
type switchablePrices struct {
	mu    sync.Mutex
	price float64
}

func (s *switchablePrices) set(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
}

func (s *switchablePrices) Quote(_ context.Context, symbol string) oracle.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.price == 0 {
		return oracle.Quote{Symbol: symbol, Source: oracle.SourceNone, Stale: true}
	}
	return oracle.Quote{Symbol: symbol, Price: s.price, Source: oracle.SourceLive}
}

func newTestPipeline(t *testing.T, rpc *fakeRPC, cfg *config.IngestionConfig) (*Pipeline, *cache.TieredCache) {
	t.Helper()
	return newPricedPipeline(t, rpc, cfg, fixedPrices{"SOL": 10})
}

func newPricedPipeline(t *testing.T, rpc *fakeRPC, cfg *config.IngestionConfig, prices oracle.PriceSource) (*Pipeline, *cache.TieredCache) {
	t.Helper()
	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "ingest.db"),
		MaxConnections:   1,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	hot, err := cache.NewHotTier(64)
	require.NoError(t, err)
	mm := metrics.NewManager()
	tiered := cache.NewTieredCache(hot, store, 24*time.Hour, mm)

	cls := classifier.New("SOL", nil, prices)
	return NewPipeline(rpc, cls, tiered, cfg, mm), tiered
}

func records(t *testing.T, tiered *cache.TieredCache) []*models.TransactionRecord {
	t.Helper()
	out, err := tiered.Records(context.Background(), models.RecordFilter{Address: watched})
	require.NoError(t, err)
	return out
}

func TestRunIngestsFullHistory(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 1)
	rpc.deposit("bob", 2)
	rpc.deposit("alice", 3)
	rpc.deposit("carol", 4)
	rpc.deposit("dave", 5)

	p, tiered := newTestPipeline(t, rpc, testConfig())
	result, err := p.Run(context.Background(), watched)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Listed)
	assert.Equal(t, 5, result.New)
	assert.Equal(t, 5, result.Processed)
	assert.Equal(t, 5, result.Records)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, rpc.listCalls)

	got := records(t, tiered)
	require.Len(t, got, 5)
	assert.Equal(t, "dave", got[0].Counterparty)
	assert.Equal(t, 50.0, got[0].USDValue)
}

func TestRunIsIdempotent(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 1)
	rpc.deposit("bob", 2)

	p, tiered := newTestPipeline(t, rpc, testConfig())
	ctx := context.Background()
	_, err := p.Run(ctx, watched)
	require.NoError(t, err)

	second, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, 0, second.Processed)
	assert.True(t, second.ReachedTip)
	assert.Len(t, records(t, tiered), 2)
	assert.Equal(t, 1, rpc.fetches["sig100"])
}

func TestRunStopsAtCursor(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 1)
	rpc.deposit("bob", 2)

	p, tiered := newTestPipeline(t, rpc, testConfig())
	ctx := context.Background()
	_, err := p.Run(ctx, watched)
	require.NoError(t, err)

	newest := rpc.deposit("carol", 3)
	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Listed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, rpc.fetches[newest])
	assert.Equal(t, 1, rpc.fetches["sig100"])
	assert.Len(t, records(t, tiered), 3)
}

func TestRunRespectsSignatureCap(t *testing.T) {
	rpc := newFakeRPC()
	for i := 0; i < 5; i++ {
		rpc.deposit("alice", 1)
	}
	cfg := testConfig()
	cfg.MaxSignatures = 3

	p, _ := newTestPipeline(t, rpc, cfg)
	result, err := p.Run(context.Background(), watched)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Listed)
	assert.Equal(t, 3, result.Processed)
}

func TestWarmRunListsEverySignatureAboveCursor(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 1)
	cfg := testConfig()
	cfg.MaxSignatures = 3

	p, tiered := newTestPipeline(t, rpc, cfg)
	ctx := context.Background()
	_, err := p.Run(ctx, watched)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rpc.deposit("bob", 1)
	}
	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Listed)
	assert.Equal(t, 5, result.Processed)
	assert.True(t, result.ReachedTip)

	for i := 0; i < 2; i++ {
		_, err = p.Run(ctx, watched)
		require.NoError(t, err)
	}
	assert.Len(t, records(t, tiered), 6)
}

func TestRunQueuesUnavailableTransaction(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 1)
	late := rpc.deposit("bob", 2)
	tx := rpc.hide(late)

	p, tiered := newTestPipeline(t, rpc, testConfig())
	ctx := context.Background()
	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Pending)

	pending, err := tiered.Store().ListPending(ctx, watched)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, late, pending[0].Signature)

	rpc.restore(late, tx)
	result, err = p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Len(t, records(t, tiered), 2)

	pending, err = tiered.Store().ListPending(ctx, watched)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunRevaluesUnpricedTransaction(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 2)
	prices := &switchablePrices{}

	p, tiered := newPricedPipeline(t, rpc, testConfig(), prices)
	ctx := context.Background()
	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unpriced)
	assert.Equal(t, 0, result.Processed)
	assert.True(t, result.PriceStale)
	assert.Empty(t, records(t, tiered))

	pending, err := tiered.Store().ListPending(ctx, watched)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	prices.set(10)
	result, err = p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unpriced)
	assert.Equal(t, 1, result.Processed)

	got := records(t, tiered)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].USDValue)
	assert.Equal(t, 10.0, got[0].PriceUSD)

	pending, err = tiered.Store().ListPending(ctx, watched)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunStoresUnpricedAfterMaxPendingAttempts(t *testing.T) {
	rpc := newFakeRPC()
	rpc.deposit("alice", 2)

	p, tiered := newPricedPipeline(t, rpc, testConfig(), &switchablePrices{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := p.Run(ctx, watched)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Unpriced)
	}

	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Unpriced)
	assert.Equal(t, 1, result.Processed)

	got := records(t, tiered)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].USDValue)
	assert.Equal(t, 2.0, got[0].Amount)
}

func TestRunDropsAfterMaxPendingAttempts(t *testing.T) {
	rpc := newFakeRPC()
	gone := rpc.deposit("alice", 1)
	rpc.hide(gone)

	p, tiered := newTestPipeline(t, rpc, testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := p.Run(ctx, watched)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Pending)
	}

	result, err := p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dropped)

	pending, err := tiered.Store().ListPending(ctx, watched)
	require.NoError(t, err)
	assert.Empty(t, pending)

	result, err = p.Run(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 0, result.New)
}

func TestRunRetriesTransientFetchErrors(t *testing.T) {
	rpc := newFakeRPC()
	sig := rpc.deposit("alice", 1)
	rpc.fetchErr = utils.NewAppError(utils.ErrCodeConnection, "boom")

	p, _ := newTestPipeline(t, rpc, testConfig())
	result, err := p.Run(context.Background(), watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, rpc.fetches[sig])
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	rpc := newFakeRPC()
	sig := rpc.deposit("alice", 1)
	rpc.fetchErr = utils.NewAppError(utils.ErrCodeBlockchain, "bad request")

	p, _ := newTestPipeline(t, rpc, testConfig())
	_, err := p.Run(context.Background(), watched)
	require.NoError(t, err)
	assert.Equal(t, 1, rpc.fetches[sig])
}

func TestRunReportsUnavailableRPC(t *testing.T) {
	rpc := newFakeRPC()
	rpc.listErr = fmt.Errorf("dial tcp: connection refused")

	p, _ := newTestPipeline(t, rpc, testConfig())
	_, err := p.Run(context.Background(), watched)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))

	rpc.listErr = nil
	rpc.deposit("alice", 1)
	rpc.fetchErr = utils.NewAppError(utils.ErrCodeRPCUnavailable, "all endpoints down")
	_, err = p.Run(context.Background(), watched)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
}

func TestRunRejectsInvalidAddress(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRPC(), testConfig())
	_, err := p.Run(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeInvalidAddress))
}

func TestConcurrentRunsShareExecution(t *testing.T) {
	rpc := newFakeRPC()
	sig := rpc.deposit("alice", 1)
	rpc.fetchStart = make(chan struct{}, 8)
	rpc.fetchDelay = 50 * time.Millisecond

	p, _ := newTestPipeline(t, rpc, testConfig())

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		_, err := p.Run(context.Background(), watched)
		assert.NoError(t, err)
	}()
	<-first
	<-rpc.fetchStart

	_, err := p.Run(context.Background(), watched)
	require.NoError(t, err)
	wg.Wait()

	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	assert.Equal(t, 1, rpc.fetches[sig])
}
