package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/presale-monitor/internal/cache"
	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

const (
	watched = "So11111111111111111111111111111111111111112"
	usdc    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixedPrices map[string]float64

func (f fixedPrices) Quote(_ context.Context, symbol string) oracle.Quote {
	return oracle.Quote{Symbol: symbol, Price: f[symbol], Source: oracle.SourceLive}
}

type fakeBalances struct {
	mu     sync.Mutex
	native float64
	tokens map[string]float64
	err    error
	calls  int
}

func (f *fakeBalances) GetNativeBalance(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.native, f.err
}

func (f *fakeBalances) GetTokenBalance(_ context.Context, _, mint string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[mint], f.err
}

// fakeRefresher upserts one queued batch of records per run
type fakeRefresher struct {
	mu      sync.Mutex
	cache   *cache.TieredCache
	batches [][]*models.TransactionRecord
	err     error
	block   chan struct{}
	runs    int
}

func (f *fakeRefresher) queue(records ...*models.TransactionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, records)
}

func (f *fakeRefresher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRefresher) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeRefresher) Run(ctx context.Context, address string) (*ingestion.RunResult, error) {
	f.mu.Lock()
	f.runs++
	err := f.err
	block := f.block
	var batch []*models.TransactionRecord
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	if err := f.cache.UpsertRecords(ctx, address, batch); err != nil {
		return nil, err
	}
	processed := make([]*models.ProcessedSignature, len(batch))
	for i, r := range batch {
		processed[i] = &models.ProcessedSignature{Address: address, Signature: r.Signature, Slot: r.Slot, ProcessedAt: time.Now()}
	}
	if err := f.cache.Store().MarkProcessed(ctx, processed); err != nil {
		return nil, err
	}
	return &ingestion.RunResult{Address: address, Processed: len(batch), Records: len(batch)}, nil
}

type fixture struct {
	registry  *Registry
	refresher *fakeRefresher
	balances  *fakeBalances
	cache     *cache.TieredCache
	clock     *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "query.db"),
		MaxConnections:   1,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	hot, err := cache.NewHotTier(64)
	require.NoError(t, err)
	mm := metrics.NewManager()
	tiered := cache.NewTieredCache(hot, store, 24*time.Hour, mm)

	c := &clock{t: time.Now().Truncate(time.Millisecond)}
	tiered.SetClock(c.now)

	refresher := &fakeRefresher{cache: tiered}
	balances := &fakeBalances{native: 2, tokens: map[string]float64{usdc: 100}}
	registry, err := NewRegistry(Dependencies{
		Balances:  balances,
		Prices:    fixedPrices{"SOL": 20, "USDC": 1},
		Refresher: refresher,
		Cache:     tiered,
		Metrics:   mm,
	}, Options{
		NativeSymbol:        "SOL",
		Tokens:              map[string]string{"USDC": usdc},
		MetricsTTL:          10 * time.Second,
		SnapshotTTL:         15 * time.Second,
		SoftBudget:          time.Second,
		SummaryTransactions: 2,
	}, watched)
	require.NoError(t, err)
	registry.SetClock(c.now)

	return &fixture{registry: registry, refresher: refresher, balances: balances, cache: tiered, clock: c}
}

func (f *fixture) deposit(sender string, usd float64, age time.Duration) *models.TransactionRecord {
	sig := fmt.Sprintf("sig-%s-%d", sender, age)
	asset := models.Asset{Kind: models.AssetNative, Symbol: "SOL"}
	return &models.TransactionRecord{
		ID:              models.RecordID(sig, asset, models.DirectionDeposit, sender),
		Signature:       sig,
		WatchedAddress:  watched,
		Direction:       models.DirectionDeposit,
		Asset:           asset,
		Counterparty:    sender,
		Amount:          usd / 20,
		USDValue:        usd,
		PriceUSD:        20,
		TimestampMillis: f.clock.now().Add(-age).UnixMilli(),
		Slot:            uint64(1000 - age/time.Hour),
		Status:          models.StatusSuccess,
	}
}

func TestMetricsEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.refresher.queue(
		f.deposit("alice", 10, 3*time.Hour),
		f.deposit("bob", 20, 2*time.Hour),
		f.deposit("bob", 20, time.Hour),
	)

	snapshot, err := f.registry.Metrics(context.Background(), watched, false)
	require.NoError(t, err)

	assert.False(t, snapshot.Stale)
	assert.Equal(t, 2, snapshot.UniqueContributorCount)
	assert.Equal(t, 50.0, snapshot.TotalRaisedUSD)
	assert.Equal(t, 16.67, snapshot.AverageContributionUSD)
	assert.Equal(t, 40.0, snapshot.LargestContributionUSD)
	assert.Equal(t, 50.0, snapshot.DailyVolumeUSD)
	assert.Equal(t, 3, snapshot.TransactionCounts.Deposits)
}

func TestMetricsCacheTTL(t *testing.T) {
	f := newFixture(t)
	f.refresher.queue(f.deposit("alice", 10, time.Hour))
	ctx := context.Background()

	first, err := f.registry.Metrics(ctx, watched, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.refresher.runCount())

	f.clock.advance(5 * time.Second)
	cached, err := f.registry.Metrics(ctx, watched, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.refresher.runCount())
	assert.Equal(t, first.TotalRaisedUSD, cached.TotalRaisedUSD)

	f.clock.advance(6 * time.Second)
	_, err = f.registry.Metrics(ctx, watched, false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.refresher.runCount())
}

func TestMetricsForceRefreshBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Metrics(ctx, watched, false)
	require.NoError(t, err)
	f.refresher.queue(f.deposit("carol", 30, time.Hour))

	snapshot, err := f.registry.Metrics(ctx, watched, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.refresher.runCount())
	assert.Equal(t, 30.0, snapshot.TotalRaisedUSD)
}

func TestMetricsServesStaleWhenRPCUnavailable(t *testing.T) {
	f := newFixture(t)
	f.refresher.queue(f.deposit("alice", 10, time.Hour))
	ctx := context.Background()

	_, err := f.registry.Metrics(ctx, watched, false)
	require.NoError(t, err)

	f.refresher.setErr(utils.NewAppError(utils.ErrCodeRPCUnavailable, "down"))
	snapshot, err := f.registry.Metrics(ctx, watched, true)
	require.NoError(t, err)
	assert.True(t, snapshot.Stale)
	assert.NotEmpty(t, snapshot.Reason)
	assert.Equal(t, 10.0, snapshot.TotalRaisedUSD)
}

func TestMetricsTotalMissPropagatesUnavailable(t *testing.T) {
	f := newFixture(t)
	f.refresher.setErr(errors.New("connection refused"))

	_, err := f.registry.Metrics(context.Background(), watched, false)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
}

func TestMetricsReturnsWithinSoftBudget(t *testing.T) {
	f := newFixture(t)
	f.refresher.block = make(chan struct{})
	f.refresher.queue(f.deposit("alice", 10, time.Hour))

	m, err := f.registry.Monitor(watched)
	require.NoError(t, err)
	m.opts.SoftBudget = 20 * time.Millisecond

	snapshot, err := m.Metrics(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, snapshot.Stale)
	assert.Equal(t, 0.0, snapshot.TotalRaisedUSD)

	close(f.refresher.block)
	assert.Eventually(t, func() bool {
		records, err := f.cache.Records(context.Background(), models.RecordFilter{Address: watched})
		return err == nil && len(records) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRejectsInvalidAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Metrics(context.Background(), "0xdeadbeef", false)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeInvalidAddress))

	_, err = f.registry.WalletInfo(context.Background(), "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeInvalidAddress))
}

func TestWalletInfoCachesAndFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.registry.WalletInfo(ctx, watched)
	require.NoError(t, err)
	assert.False(t, info.Stale)
	assert.Equal(t, 2.0, info.NativeBalance)
	assert.Equal(t, 100.0, info.TokenBalances["USDC"])
	assert.Equal(t, 140.0, info.TotalValueUSD)
	assert.Equal(t, 20.0, info.PriceUSD)

	f.clock.advance(5 * time.Second)
	_, err = f.registry.WalletInfo(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 1, f.balances.calls)

	f.clock.advance(20 * time.Second)
	f.balances.err = utils.NewAppError(utils.ErrCodeRPCUnavailable, "down")
	info, err = f.registry.WalletInfo(ctx, watched)
	require.NoError(t, err)
	assert.True(t, info.Stale)
	assert.Equal(t, 140.0, info.TotalValueUSD)
}

func TestWalletInfoWithoutSnapshotFails(t *testing.T) {
	f := newFixture(t)
	f.balances.err = errors.New("timeout")

	_, err := f.registry.WalletInfo(context.Background(), watched)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable))
}

func TestListingOperations(t *testing.T) {
	f := newFixture(t)
	f.refresher.queue(
		f.deposit("alice", 10, 50*time.Hour),
		f.deposit("bob", 20, 2*time.Hour),
		f.deposit("bob", 20, time.Hour),
	)
	ctx := context.Background()

	txs, err := f.registry.RecentTransactions(ctx, watched, 2)
	require.NoError(t, err)
	require.Len(t, txs.Transactions, 2)
	assert.Equal(t, "bob", txs.Transactions[0].Counterparty)

	top, err := f.registry.TopContributors(ctx, watched, 10)
	require.NoError(t, err)
	require.Len(t, top.Contributors, 2)
	assert.Equal(t, "bob", top.Contributors[0].Address)
	assert.Equal(t, 40.0, top.Contributors[0].TotalContributedUSD)
	assert.Equal(t, 1, f.refresher.runCount())

	history, err := f.registry.HistoricalAnalysis(ctx, watched, 7)
	require.NoError(t, err)
	require.Len(t, history.Series, 7)
	var total float64
	for _, day := range history.Series {
		total += day.TotalUSD
	}
	assert.Equal(t, 50.0, total)

	_, err = f.registry.HistoricalAnalysis(ctx, watched, 0)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
	_, err = f.registry.RecentTransactions(ctx, watched, -1)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
}

func TestSummaryDoesNotIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.UpsertRecords(ctx, watched, []*models.TransactionRecord{
		f.deposit("alice", 10, 3*time.Hour),
		f.deposit("bob", 20, 2*time.Hour),
		f.deposit("carol", 30, time.Hour),
	}))

	summary, err := f.registry.Summary(ctx, watched)
	require.NoError(t, err)
	assert.Equal(t, 0, f.refresher.runCount())
	require.NotNil(t, summary.Wallet)
	assert.Len(t, summary.Transactions, 2)
	assert.Equal(t, "carol", summary.Transactions[0].Counterparty)
}

func TestSnapshotHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.WalletInfo(ctx, watched)
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	f.balances.native = 3
	_, err = f.registry.WalletInfo(ctx, watched)
	require.NoError(t, err)

	history, err := f.registry.SnapshotHistory(ctx, watched, 1)
	require.NoError(t, err)
	require.Len(t, history.Snapshots, 2)
	assert.Equal(t, 2.0, history.Snapshots[0].NativeBalance)
	assert.Equal(t, 3.0, history.Snapshots[1].NativeBalance)
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	other := "11111111111111111111111111111111"

	_, err := f.registry.Monitor(other)
	require.NoError(t, err)
	assert.Equal(t, []string{watched}, f.registry.Addresses())
	assert.False(t, f.registry.Watching(other))

	a, err := f.registry.Monitor(watched)
	require.NoError(t, err)
	b, err := f.registry.Monitor(watched)
	require.NoError(t, err)
	assert.Same(t, a, b)

	f.refresher.queue(f.deposit("alice", 10, time.Hour))
	result, snapshot, err := f.registry.Refresh(context.Background(), watched)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)
	assert.Equal(t, 10.0, snapshot.TotalRaisedUSD)

	stats, err := f.registry.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, watched, stats[0].Address)
	assert.Equal(t, int64(1), stats[0].Records)
	assert.Equal(t, 1, stats[0].Contributors)
	assert.NotEmpty(t, stats[0].CursorSignature)
}

func TestRegistryBoundsAdHocMonitors(t *testing.T) {
	f := newFixture(t)
	registry, err := NewRegistry(f.registry.deps, Options{NativeSymbol: "SOL", AdHocMonitors: 1,
		MetricsTTL: time.Second, SnapshotTTL: time.Second}, watched)
	require.NoError(t, err)

	first := "11111111111111111111111111111111"
	second := usdc

	a, err := registry.Monitor(first)
	require.NoError(t, err)
	again, err := registry.Monitor(first)
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = registry.Monitor(second)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.adHoc.Len())
	assert.False(t, registry.adHoc.Contains(first))

	evicted, err := registry.Monitor(first)
	require.NoError(t, err)
	assert.NotSame(t, a, evicted)
	assert.Equal(t, []string{watched}, registry.Addresses())

	require.NoError(t, registry.Watch(first))
	promoted, err := registry.Monitor(first)
	require.NoError(t, err)
	assert.Same(t, evicted, promoted)
	assert.True(t, registry.Watching(first))
	assert.Equal(t, []string{first, watched}, registry.Addresses())
	assert.Equal(t, 0, registry.adHoc.Len())

	_, err = registry.Monitor("not-an-address")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeInvalidAddress))
	assert.Error(t, registry.Watch("not-an-address"))
}
