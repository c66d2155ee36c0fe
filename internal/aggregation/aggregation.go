// Package aggregation derives analytics from a transaction record set.
// Every function is pure: the same records and clock yield the same result.
package aggregation

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartdevs17/presale-monitor/internal/models"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day

	dateLayout = "2006-01-02"
)

// bucketEdges are the lower-inclusive USD bands of the distribution
var bucketEdges = []struct {
	label string
	min   float64
	max   float64
}{
	{"<100", 0, 100},
	{"100-500", 100, 500},
	{"500-1000", 500, 1000},
	{"1000-5000", 1000, 5000},
	{"5000-10000", 5000, 10000},
	{">10000", 10000, math.Inf(1)},
}

type contributor struct {
	address string
	total   decimal.Decimal
	count   int
	first   int64
	last    int64
}

// groupContributors sums successful deposits by counterparty
func groupContributors(records []*models.TransactionRecord) []*contributor {
	index := make(map[string]*contributor)
	var out []*contributor

	for _, r := range records {
		if !r.IsDeposit() {
			continue
		}
		c, ok := index[r.Counterparty]
		if !ok {
			c = &contributor{address: r.Counterparty, first: r.TimestampMillis, last: r.TimestampMillis}
			index[r.Counterparty] = c
			out = append(out, c)
		}
		c.total = c.total.Add(decimal.NewFromFloat(r.USDValue))
		c.count++
		if r.TimestampMillis < c.first {
			c.first = r.TimestampMillis
		}
		if r.TimestampMillis > c.last {
			c.last = r.TimestampMillis
		}
	}

	rank(out)
	return out
}

// rank orders contributors by reported total descending, then earliest first
// contribution. Totals are compared at cents, so contributors shown with equal
// totals fall through to the tie break.
func rank(contributors []*contributor) {
	sort.SliceStable(contributors, func(i, j int) bool {
		a, b := contributors[i], contributors[j]
		if cmp := a.total.Round(2).Cmp(b.total.Round(2)); cmp != 0 {
			return cmp > 0
		}
		if a.first != b.first {
			return a.first < b.first
		}
		return a.address < b.address
	})
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// ContributorAggregates groups deposits by counterparty, ranked by total
// descending with ties broken by earliest first contribution.
func ContributorAggregates(records []*models.TransactionRecord) []*models.ContributorAggregate {
	grouped := groupContributors(records)
	out := make([]*models.ContributorAggregate, 0, len(grouped))
	for _, c := range grouped {
		out = append(out, &models.ContributorAggregate{
			Address:                 c.address,
			TotalContributedUSD:     cents(c.total),
			TransactionCount:        c.count,
			AverageAmountUSD:        cents(c.total.Div(decimal.NewFromInt(int64(c.count)))),
			FirstContributionMillis: c.first,
			LastContributionMillis:  c.last,
		})
	}
	return out
}

// TopContributors returns at most limit ranked contributors
func TopContributors(records []*models.TransactionRecord, limit int) []*models.ContributorAggregate {
	all := ContributorAggregates(records)
	if limit > 0 && len(all) > limit {
		return all[:limit]
	}
	return all
}

// DistributionBuckets places each contributor total in exactly one band
func DistributionBuckets(totals []decimal.Decimal) []models.DistributionBucket {
	buckets := make([]models.DistributionBucket, len(bucketEdges))
	for i, edge := range bucketEdges {
		buckets[i] = models.DistributionBucket{Label: edge.label, MinUSD: edge.min}
		if !math.IsInf(edge.max, 1) {
			upper := edge.max
			buckets[i].MaxUSD = &upper
		}
	}

	for _, total := range totals {
		v := total.InexactFloat64()
		for i, edge := range bucketEdges {
			if v >= edge.min && v < edge.max {
				buckets[i].Count++
				break
			}
		}
	}
	return buckets
}

// Median returns the middle value, averaging the two middle values of an
// even-sized set. An empty set has median zero.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// Volume sums successful deposit value within the trailing window ending at now
func Volume(records []*models.TransactionRecord, window time.Duration, now time.Time) decimal.Decimal {
	from := now.Add(-window).UnixMilli()
	to := now.UnixMilli()

	total := decimal.Zero
	for _, r := range records {
		if r.IsDeposit() && r.TimestampMillis >= from && r.TimestampMillis <= to {
			total = total.Add(decimal.NewFromFloat(r.USDValue))
		}
	}
	return total
}

// Historical buckets deposits by UTC calendar day over the days ending today,
// oldest first, with zero-filled days.
func Historical(records []*models.TransactionRecord, days int, now time.Time) []models.DailyVolume {
	if days <= 0 {
		return []models.DailyVolume{}
	}

	today := now.UTC().Truncate(Day)
	start := today.AddDate(0, 0, -(days - 1))

	totals := make([]decimal.Decimal, days)
	counts := make([]int, days)
	for _, r := range records {
		if !r.IsDeposit() {
			continue
		}
		day := r.Time().Truncate(Day)
		if day.Before(start) || day.After(today) {
			continue
		}
		i := int(day.Sub(start) / Day)
		totals[i] = totals[i].Add(decimal.NewFromFloat(r.USDValue))
		counts[i]++
	}

	series := make([]models.DailyVolume, days)
	for i := range series {
		series[i] = models.DailyVolume{
			Date:             start.AddDate(0, 0, i).Format(dateLayout),
			TotalUSD:         cents(totals[i]),
			TransactionCount: counts[i],
		}
	}
	return series
}

// Counts breaks records down by direction and status
func Counts(records []*models.TransactionRecord) models.TransactionCounts {
	var counts models.TransactionCounts
	for _, r := range records {
		counts.Total++
		if !r.IsMonetary() {
			counts.Failed++
			continue
		}
		switch r.Direction {
		case models.DirectionDeposit:
			counts.Deposits++
		case models.DirectionWithdrawal:
			counts.Withdrawals++
		}
	}
	return counts
}

// ComputeMetrics derives the metrics snapshot of an address's record set.
// The average contribution divides total raised by the number of successful
// deposit transactions; the median and largest contribution are taken over
// contributor totals.
func ComputeMetrics(address string, records []*models.TransactionRecord, now time.Time) *models.MetricsSnapshot {
	contributors := groupContributors(records)

	totals := make([]decimal.Decimal, len(contributors))
	raised := decimal.Zero
	largest := decimal.Zero
	deposits := 0
	for i, c := range contributors {
		totals[i] = c.total
		raised = raised.Add(c.total)
		deposits += c.count
		if c.total.GreaterThan(largest) {
			largest = c.total
		}
	}

	average := decimal.Zero
	if deposits > 0 {
		average = raised.Div(decimal.NewFromInt(int64(deposits)))
	}

	return &models.MetricsSnapshot{
		Address:                address,
		TotalRaisedUSD:         cents(raised),
		UniqueContributorCount: len(contributors),
		AverageContributionUSD: cents(average),
		MedianContributionUSD:  cents(Median(totals)),
		LargestContributionUSD: cents(largest),
		DailyVolumeUSD:         cents(Volume(records, Day, now)),
		WeeklyVolumeUSD:        cents(Volume(records, Week, now)),
		TransactionCounts:      Counts(records),
		DistributionBuckets:    DistributionBuckets(totals),
		ComputedAt:             now.UTC(),
	}
}
