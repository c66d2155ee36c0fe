package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/smartdevs17/presale-monitor/internal/cache"
	"github.com/smartdevs17/presale-monitor/internal/classifier"
	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/solana"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// RunResult summarizes one ingestion run for an address
type RunResult struct {
	RunID      string        `json:"run_id"`
	Address    string        `json:"address"`
	Listed     int           `json:"listed"`
	New        int           `json:"new"`
	Processed  int           `json:"processed"`
	Records    int           `json:"records"`
	Pending    int           `json:"pending"`
	Skipped    int           `json:"skipped"`
	Dropped    int           `json:"dropped"`
	Unpriced   int           `json:"unpriced"`
	PriceStale bool          `json:"price_stale"`
	ReachedTip bool          `json:"reached_cursor"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Runner brings the record set of an address up to date
type Runner interface {
	Run(ctx context.Context, address string) (*RunResult, error)
}

// Pipeline ingests new signatures of watched addresses into the cache
type Pipeline struct {
	rpc        solana.RPC
	classifier *classifier.Classifier
	cache      *cache.TieredCache
	store      storage.Storage
	config     *config.IngestionConfig

	group          singleflight.Group
	now            func() time.Time
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

type fetchOutcome struct {
	signature solana.SignatureInfo
	tx        *solana.ParsedTransaction
	err       error
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(rpc solana.RPC, cls *classifier.Classifier, tiered *cache.TieredCache, cfg *config.IngestionConfig, metricsManager *metrics.Manager) *Pipeline {
	return &Pipeline{
		rpc:            rpc,
		classifier:     cls,
		cache:          tiered,
		store:          tiered.Store(),
		config:         cfg,
		now:            time.Now,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("ingestion"),
	}
}

// Run ingests new transactions of address. Overlapping runs for the same
// address share one execution.
func (p *Pipeline) Run(ctx context.Context, address string) (*RunResult, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return nil, err
	}

	v, err, shared := p.group.Do(address, func() (interface{}, error) {
		return p.run(ctx, address)
	})
	if shared {
		p.logger.WithField("address", address).Debug("Joined in-flight ingestion run")
	}
	result, _ := v.(*RunResult)
	return result, err
}

func (p *Pipeline) run(ctx context.Context, address string) (*RunResult, error) {
	if p.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RunTimeout)
		defer cancel()
	}

	result := &RunResult{
		RunID:     utils.GenerateID(),
		Address:   address,
		StartedAt: p.now(),
	}
	logger := p.logger.WithFields(logrus.Fields{
		"address": address,
		"run_id":  result.RunID,
	})

	err := p.ingest(ctx, address, result, logger)
	result.Duration = time.Since(result.StartedAt)

	status := "success"
	if err != nil {
		status = "error"
		logger.WithError(err).Error("Ingestion run failed")
	} else {
		logger.WithFields(logrus.Fields{
			"new":       result.New,
			"processed": result.Processed,
			"records":   result.Records,
			"pending":   result.Pending,
			"skipped":   result.Skipped,
			"unpriced":  result.Unpriced,
			"duration":  result.Duration.String(),
		}).Info("Ingestion run completed")
	}
	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().RecordIngestionRun(status, result.Duration)
	}
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, address string, result *RunResult, logger *logrus.Entry) error {
	cursor, err := p.store.NewestProcessed(ctx, address)
	if err != nil {
		return err
	}

	listed, reached, err := p.listNew(ctx, address, cursor)
	if err != nil {
		return err
	}
	result.Listed = len(listed)
	result.ReachedTip = reached
	if cursor == nil && p.config.MaxSignatures > 0 && len(listed) >= p.config.MaxSignatures {
		logger.WithField("max_signatures", p.config.MaxSignatures).Warn("Cold start capped at signature limit")
	}

	pending, err := p.store.ListPending(ctx, address)
	if err != nil {
		return err
	}
	pendingBySig := make(map[string]*models.PendingSignature, len(pending))
	for _, ps := range pending {
		pendingBySig[ps.Signature] = ps
	}

	candidates := oldestFirst(listed, pending)
	sigs := make([]string, len(candidates))
	for i, c := range candidates {
		sigs[i] = c.Signature
	}
	unprocessed, err := p.store.FilterUnprocessed(ctx, address, sigs)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(unprocessed))
	for _, s := range unprocessed {
		keep[s] = true
	}

	var work []solana.SignatureInfo
	var alreadyDone []string
	for _, c := range candidates {
		if keep[c.Signature] {
			work = append(work, c)
		} else if _, ok := pendingBySig[c.Signature]; ok {
			alreadyDone = append(alreadyDone, c.Signature)
		}
	}
	if err := p.store.RemovePending(ctx, address, alreadyDone); err != nil {
		return err
	}
	result.New = len(work)

	batchSize := p.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	unavailable := 0
	for start := 0; start < len(work); start += batchSize {
		end := start + batchSize
		if end > len(work) {
			end = len(work)
		}

		outcomes, err := p.fetchBatch(ctx, work[start:end], logger)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.err != nil && utils.IsErrorCode(o.err, utils.ErrCodeRPCUnavailable) {
				unavailable++
			}
		}
		if err := p.persistBatch(ctx, address, outcomes, pendingBySig, result, logger); err != nil {
			return err
		}
	}

	if unavailable > 0 && result.Processed == 0 && unavailable == len(work) {
		return utils.NewAppError(utils.ErrCodeRPCUnavailable, "RPC unavailable for every transaction fetch",
			fmt.Sprintf("%d signatures queued for retry", unavailable))
	}

	if p.metricsManager != nil {
		remaining, err := p.store.ListPending(ctx, address)
		if err == nil {
			p.metricsManager.GetPrometheusMetrics().UpdatePendingSignatures(address, len(remaining))
		}
	}
	return nil
}

// listNew pages signatures newest first until the cursor or the end of
// history. The signature cap bounds cold starts only: with a cursor every
// signature above it is listed, otherwise the next run would resume from a
// cursor above the unlisted ones and skip them for good.
func (p *Pipeline) listNew(ctx context.Context, address string, cursor *models.ProcessedSignature) ([]solana.SignatureInfo, bool, error) {
	var out []solana.SignatureInfo
	before := ""
	until := ""
	if cursor != nil {
		until = cursor.Signature
	}

	pageSize := p.config.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	maxSignatures := 0
	if cursor == nil {
		maxSignatures = p.config.MaxSignatures
		if maxSignatures <= 0 {
			maxSignatures = pageSize
		}
	}

	for maxSignatures == 0 || len(out) < maxSignatures {
		limit := pageSize
		if remaining := maxSignatures - len(out); maxSignatures > 0 && remaining < limit {
			limit = remaining
		}

		page, err := p.rpc.ListSignatures(ctx, address, solana.SignaturesOpts{Limit: limit, Before: before, Until: until})
		if err != nil {
			if utils.IsErrorCode(err, utils.ErrCodeInvalidAddress) || utils.IsErrorCode(err, utils.ErrCodeRPCUnavailable) || ctx.Err() != nil {
				return nil, false, err
			}
			return nil, false, utils.WrapError(utils.ErrCodeRPCUnavailable, "Failed to list signatures", err)
		}

		for _, sig := range page {
			if cursor != nil && sig.Signature == cursor.Signature {
				return out, true, nil
			}
			out = append(out, sig)
		}
		if len(page) < limit {
			return out, cursor != nil, nil
		}
		before = page[len(page)-1].Signature
	}
	return out, false, nil
}

// oldestFirst merges listed and pending signatures, oldest slot first, so an
// interrupted run never leaves a gap below the cursor.
func oldestFirst(listed []solana.SignatureInfo, pending []*models.PendingSignature) []solana.SignatureInfo {
	seen := make(map[string]bool, len(listed)+len(pending))
	out := make([]solana.SignatureInfo, 0, len(listed)+len(pending))

	for _, ps := range pending {
		if !seen[ps.Signature] {
			seen[ps.Signature] = true
			out = append(out, solana.SignatureInfo{Signature: ps.Signature, Slot: ps.Slot})
		}
	}
	for i := len(listed) - 1; i >= 0; i-- {
		if !seen[listed[i].Signature] {
			seen[listed[i].Signature] = true
			out = append(out, listed[i])
		}
	}
	return out
}

// fetchBatch fetches a batch concurrently. Individual fetch failures are
// reported in the outcomes; only cancellation fails the batch.
func (p *Pipeline) fetchBatch(ctx context.Context, batch []solana.SignatureInfo, logger *logrus.Entry) ([]fetchOutcome, error) {
	outcomes := make([]fetchOutcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batch))
	for i, sig := range batch {
		g.Go(func() error {
			tx, err := p.fetch(gctx, sig.Signature)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			outcomes[i] = fetchOutcome{signature: sig, tx: tx, err: err}
			if err != nil {
				logger.WithFields(logrus.Fields{
					"signature": sig.Signature,
					"error":     err,
				}).Warn("Skipping transaction after retries")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// fetch retries transient failures with exponential backoff
func (p *Pipeline) fetch(ctx context.Context, signature string) (*solana.ParsedTransaction, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.MaxInterval = 10 * b.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2

	tries := p.config.FetchRetries + 1
	if tries < 1 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (*solana.ParsedTransaction, error) {
		tx, err := p.rpc.GetParsedTransaction(ctx, signature)
		if err != nil && !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return tx, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(tries)))
}

func retryable(err error) bool {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeInvalidAddress, utils.ErrCodeValidation, utils.ErrCodeBlockchain:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// persistBatch classifies fetched transactions, upserts their records and
// updates the signature ledger and pending queue.
func (p *Pipeline) persistBatch(ctx context.Context, address string, outcomes []fetchOutcome, pendingBySig map[string]*models.PendingSignature, result *RunResult, logger *logrus.Entry) error {
	var records []*models.TransactionRecord
	var processed, tombstones []*models.ProcessedSignature
	var requeue []*models.PendingSignature
	var resolved, dropped []string
	now := p.now()

	for _, o := range outcomes {
		sig := o.signature.Signature

		if o.err != nil || o.tx == nil {
			if prev, ok := pendingBySig[sig]; ok && p.config.MaxPendingAttempts > 0 && prev.Attempts >= p.config.MaxPendingAttempts {
				dropped = append(dropped, sig)
				tombstones = append(tombstones, &models.ProcessedSignature{
					Address:     address,
					Signature:   sig,
					Slot:        prev.Slot,
					ProcessedAt: now,
				})
				logger.WithFields(logrus.Fields{
					"signature": sig,
					"attempts":  prev.Attempts,
				}).Warn("Dropping signature after max pending attempts")
				continue
			}
			requeue = append(requeue, &models.PendingSignature{
				Address:     address,
				Signature:   sig,
				Slot:        o.signature.Slot,
				FirstSeenAt: now,
			})
			if o.err != nil {
				result.Skipped++
			} else {
				result.Pending++
				logger.WithFields(logrus.Fields{
					"signature": sig,
					"code":      utils.ErrCodeTransactionNotAvailable,
				}).Debug("Transaction not yet available, queued for next run")
			}
			continue
		}

		tx := o.tx
		if tx.BlockTime == nil {
			tx.BlockTime = o.signature.BlockTime
		}
		classification := p.classifier.Classify(ctx, tx, address)
		if classification.PriceStale {
			result.PriceStale = true
		}
		if classification.Unpriced && len(classification.Records) > 0 {
			prev, queued := pendingBySig[sig]
			if !queued || p.config.MaxPendingAttempts <= 0 || prev.Attempts < p.config.MaxPendingAttempts {
				requeue = append(requeue, &models.PendingSignature{
					Address:     address,
					Signature:   sig,
					Slot:        o.signature.Slot,
					FirstSeenAt: now,
				})
				result.Unpriced++
				logger.WithFields(logrus.Fields{
					"signature": sig,
					"code":      utils.ErrCodeOracleUnavailable,
				}).Debug("No price available, queued for revaluation")
				continue
			}
			logger.WithFields(logrus.Fields{
				"signature": sig,
				"attempts":  prev.Attempts,
			}).Warn("Storing records without USD value after max pending attempts")
		}
		for _, r := range classification.Records {
			if r.TimestampMillis == 0 {
				r.TimestampMillis = now.UnixMilli()
			}
			if p.metricsManager != nil {
				p.metricsManager.GetPrometheusMetrics().RecordIngestedRecord(string(r.Direction), r.Asset.Symbol, r.Ambiguous)
			}
		}
		records = append(records, classification.Records...)

		slot := tx.Slot
		if slot == 0 {
			slot = o.signature.Slot
		}
		processed = append(processed, &models.ProcessedSignature{
			Address:     address,
			Signature:   sig,
			Slot:        slot,
			BlockTimeMs: tx.BlockTimeMillis(),
			RecordCount: len(classification.Records),
			ProcessedAt: now,
		})
		if _, ok := pendingBySig[sig]; ok {
			resolved = append(resolved, sig)
		}
	}

	if err := p.cache.UpsertRecords(ctx, address, records); err != nil {
		return err
	}
	if err := p.store.MarkProcessed(ctx, append(processed, tombstones...)); err != nil {
		return err
	}
	if err := p.store.AddPending(ctx, requeue); err != nil {
		return err
	}
	if err := p.store.RemovePending(ctx, address, append(resolved, dropped...)); err != nil {
		return err
	}

	result.Processed += len(processed)
	result.Records += len(records)
	result.Dropped += len(dropped)

	if p.metricsManager != nil {
		pm := p.metricsManager.GetPrometheusMetrics()
		pm.RecordSignatures("processed", len(processed))
		pm.RecordSignatures("requeued", len(requeue))
		pm.RecordSignatures("dropped", len(dropped))
	}
	return nil
}
