package classifier

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/presale-monitor/internal/models"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/internal/solana"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// Classification is the outcome of classifying one transaction
type Classification struct {
	Records []*models.TransactionRecord
	// PriceStale is set when any record was valued with a fallback or missing price
	PriceStale bool
	// Unpriced is set when the oracle had no price at all for some record,
	// whose USD value is then zero
	Unpriced bool
}

// Classifier turns parsed transactions into transaction records for a watched address
type Classifier struct {
	nativeSymbol string
	tokens       map[string]string // mint -> symbol
	prices       oracle.PriceSource
	logger       *logrus.Entry
}

// New creates a classifier tracking the native coin and the given tokens (symbol -> mint)
func New(nativeSymbol string, tokens map[string]string, prices oracle.PriceSource) *Classifier {
	byMint := make(map[string]string, len(tokens))
	for symbol, mint := range tokens {
		byMint[mint] = strings.ToUpper(symbol)
	}
	if nativeSymbol == "" {
		nativeSymbol = "SOL"
	}
	return &Classifier{
		nativeSymbol: strings.ToUpper(nativeSymbol),
		tokens:       byMint,
		prices:       prices,
		logger:       utils.ComponentLogger("classifier"),
	}
}

// movement is an unpriced asset movement relative to the watched address
type movement struct {
	asset        models.Asset
	direction    models.Direction
	counterparty string
	amount       decimal.Decimal
	ambiguous    bool
}

func (m *movement) key() string {
	return m.asset.Key() + "|" + string(m.direction) + "|" + m.counterparty
}

// tokenAccount is what the token balance tables reveal about a token account
type tokenAccount struct {
	owner    string
	mint     string
	decimals uint8
}

// Classify extracts one record per asset movement of the watched address.
// Failed transactions yield records with status failed built from their
// transfer instructions, since their balances did not move.
func (c *Classifier) Classify(ctx context.Context, tx *solana.ParsedTransaction, watched string) *Classification {
	if tx == nil {
		return &Classification{}
	}

	status := models.StatusSuccess
	if tx.Failed() {
		status = models.StatusFailed
	}

	accounts := tokenAccounts(tx)
	var movements []*movement
	movements = append(movements, c.nativeMovements(tx, watched)...)
	movements = append(movements, c.tokenMovements(tx, watched, accounts)...)
	movements = merge(movements)

	result := &Classification{}
	quotes := make(map[string]oracle.Quote)

	for _, m := range movements {
		quote, ok := quotes[m.asset.Symbol]
		if !ok {
			quote = c.prices.Quote(ctx, m.asset.Symbol)
			quotes[m.asset.Symbol] = quote
		}
		if quote.Stale {
			result.PriceStale = true
		}
		if !quote.Available() {
			result.Unpriced = true
		}

		price := decimal.NewFromFloat(quote.Price)
		record := &models.TransactionRecord{
			ID:              models.RecordID(tx.Signature(), m.asset, m.direction, m.counterparty),
			Signature:       tx.Signature(),
			WatchedAddress:  watched,
			Direction:       m.direction,
			Asset:           m.asset,
			Counterparty:    m.counterparty,
			Amount:          m.amount.InexactFloat64(),
			USDValue:        m.amount.Mul(price).InexactFloat64(),
			PriceUSD:        quote.Price,
			TimestampMillis: tx.BlockTimeMillis(),
			Slot:            tx.Slot,
			Status:          status,
			Ambiguous:       m.ambiguous,
		}

		if m.ambiguous {
			c.logger.WithFields(logrus.Fields{
				"code":         utils.ErrCodeClassificationAmbiguous,
				"signature":    record.Signature,
				"asset":        m.asset.Symbol,
				"counterparty": m.counterparty,
			}).Warn("Counterparty attribution is a best guess")
		}
		result.Records = append(result.Records, record)
	}

	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].ID < result.Records[j].ID
	})
	return result
}

// nativeMovements derives native coin movements from the balance delta of the
// watched account. The fee is excluded when the watched address paid it.
func (c *Classifier) nativeMovements(tx *solana.ParsedTransaction, watched string) []*movement {
	asset := models.Asset{Kind: models.AssetNative, Symbol: c.nativeSymbol}

	if tx.Failed() {
		return c.nativeTransfers(tx, watched, asset)
	}

	idx := tx.AccountIndex(watched)
	if idx < 0 || tx.Meta == nil || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return nil
	}

	delta := decimal.NewFromInt(int64(tx.Meta.PostBalances[idx])).Sub(decimal.NewFromInt(int64(tx.Meta.PreBalances[idx])))
	if idx == 0 {
		delta = delta.Add(decimal.NewFromInt(int64(tx.Meta.Fee)))
	}
	if delta.IsZero() {
		return nil
	}

	direction := models.DirectionDeposit
	if delta.IsNegative() {
		direction = models.DirectionWithdrawal
	}
	total := delta.Abs()

	transfers := c.nativeTransfers(tx, watched, asset)
	var matching []*movement
	attributed := decimal.Zero
	for _, t := range merge(transfers) {
		if t.direction == direction {
			matching = append(matching, t)
			attributed = attributed.Add(t.amount)
		}
	}
	// lamports -> SOL
	total = total.Shift(-9)

	switch {
	case len(matching) > 1:
		// Several senders: each keeps its own transfer amount
		if !attributed.Equal(total) {
			for _, m := range matching {
				m.ambiguous = true
			}
		}
		return matching
	case len(matching) == 1:
		m := matching[0]
		m.ambiguous = !m.amount.Equal(total)
		m.amount = total
		return []*movement{m}
	}

	counterparty, ambiguous := signerCounterparty(tx, watched)
	return []*movement{{
		asset:        asset,
		direction:    direction,
		counterparty: counterparty,
		amount:       total,
		ambiguous:    ambiguous,
	}}
}

// nativeTransfers lists system transfers to or from the watched address
func (c *Classifier) nativeTransfers(tx *solana.ParsedTransaction, watched string, asset models.Asset) []*movement {
	var out []*movement
	for _, ins := range tx.AllInstructions() {
		if ins.IsToken() {
			continue
		}
		info, ok := ins.Transfer()
		if !ok || info.Lamports == 0 || info.Source == info.Destination {
			continue
		}

		amount := solana.LamportsToSOL(info.Lamports)
		switch watched {
		case info.Destination:
			out = append(out, &movement{asset: asset, direction: models.DirectionDeposit, counterparty: info.Source, amount: amount})
		case info.Source:
			out = append(out, &movement{asset: asset, direction: models.DirectionWithdrawal, counterparty: info.Destination, amount: amount})
		}
	}
	return out
}

// tokenMovements derives token movements of tracked mints from outer and inner
// transfer instructions touching accounts owned by the watched address.
func (c *Classifier) tokenMovements(tx *solana.ParsedTransaction, watched string, accounts map[string]tokenAccount) []*movement {
	var out []*movement
	seen := make(map[string]bool)

	for _, ins := range tx.AllInstructions() {
		if !ins.IsToken() {
			continue
		}
		info, ok := ins.Transfer()
		if !ok {
			continue
		}

		src, dst := accounts[info.Source], accounts[info.Destination]
		toWatched := info.Destination == watched || dst.owner == watched
		fromWatched := info.Source == watched || src.owner == watched
		if toWatched == fromWatched {
			continue
		}

		mint := info.Mint
		if mint == "" {
			mint = firstNonEmpty(dst.mint, src.mint)
		}
		symbol, tracked := c.tokens[mint]
		if !tracked {
			continue
		}

		raw, err := info.RawAmount()
		if err != nil || raw == 0 {
			continue
		}
		decimals := firstDecimals(info, dst, src)
		amount := decimal.New(int64(raw), -int32(decimals))

		m := &movement{
			asset:  models.Asset{Kind: models.AssetToken, Mint: mint, Symbol: symbol},
			amount: amount,
		}
		if toWatched {
			m.direction = models.DirectionDeposit
			m.counterparty = firstNonEmpty(src.owner, info.Authority)
			if m.counterparty == "" {
				m.counterparty, m.ambiguous = info.Source, true
			}
		} else {
			m.direction = models.DirectionWithdrawal
			m.counterparty = dst.owner
			if m.counterparty == "" {
				m.counterparty, m.ambiguous = info.Destination, true
			}
		}
		seen[mint] = true
		out = append(out, m)
	}

	if !tx.Failed() {
		out = append(out, c.unexplainedTokenDeltas(tx, watched, seen)...)
	}
	return out
}

// unexplainedTokenDeltas records balance changes of tracked mints that no
// transfer instruction accounts for, such as mints or burns.
func (c *Classifier) unexplainedTokenDeltas(tx *solana.ParsedTransaction, watched string, seen map[string]bool) []*movement {
	if tx.Meta == nil {
		return nil
	}

	deltas := make(map[string]decimal.Decimal)
	add := func(balances []solana.TokenBalance, sign int64) {
		for _, b := range balances {
			if b.Owner != watched || seen[b.Mint] {
				continue
			}
			if _, tracked := c.tokens[b.Mint]; !tracked {
				continue
			}
			amount, err := solana.TokenAmount(b.UITokenAmount.Amount, b.UITokenAmount.Decimals)
			if err != nil {
				continue
			}
			deltas[b.Mint] = deltas[b.Mint].Add(amount.Mul(decimal.NewFromInt(sign)))
		}
	}
	add(tx.Meta.PostTokenBalances, 1)
	add(tx.Meta.PreTokenBalances, -1)

	var out []*movement
	counterparty, _ := signerCounterparty(tx, watched)
	for mint, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		direction := models.DirectionDeposit
		if delta.IsNegative() {
			direction = models.DirectionWithdrawal
		}
		out = append(out, &movement{
			asset:        models.Asset{Kind: models.AssetToken, Mint: mint, Symbol: c.tokens[mint]},
			direction:    direction,
			counterparty: counterparty,
			amount:       delta.Abs(),
			ambiguous:    true,
		})
	}
	return out
}

// signerCounterparty picks the fee payer when it is the only signer other
// than the watched address.
func signerCounterparty(tx *solana.ParsedTransaction, watched string) (string, bool) {
	var others []string
	for _, s := range tx.Signers() {
		if s != watched {
			others = append(others, s)
		}
	}

	feePayer := tx.FeePayer()
	switch {
	case len(others) == 1 && others[0] == feePayer:
		return feePayer, false
	case len(others) > 0:
		return others[0], true
	default:
		return feePayer, true
	}
}

// tokenAccounts maps token account addresses to owner and mint
func tokenAccounts(tx *solana.ParsedTransaction) map[string]tokenAccount {
	accounts := make(map[string]tokenAccount)
	if tx.Meta == nil {
		return accounts
	}
	keys := tx.Transaction.Message.AccountKeys
	for _, balances := range [][]solana.TokenBalance{tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances} {
		for _, b := range balances {
			if b.AccountIndex < 0 || b.AccountIndex >= len(keys) {
				continue
			}
			accounts[keys[b.AccountIndex].Pubkey] = tokenAccount{
				owner:    b.Owner,
				mint:     b.Mint,
				decimals: b.UITokenAmount.Decimals,
			}
		}
	}
	return accounts
}

// merge sums movements sharing asset, direction and counterparty
func merge(movements []*movement) []*movement {
	var out []*movement
	index := make(map[string]*movement)
	for _, m := range movements {
		if existing, ok := index[m.key()]; ok {
			existing.amount = existing.amount.Add(m.amount)
			existing.ambiguous = existing.ambiguous || m.ambiguous
			continue
		}
		index[m.key()] = m
		out = append(out, m)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDecimals(info *solana.TransferInfo, accounts ...tokenAccount) uint8 {
	if info.TokenAmount != nil {
		return info.TokenAmount.Decimals
	}
	for _, a := range accounts {
		if a.mint != "" {
			return a.decimals
		}
	}
	return 0
}
