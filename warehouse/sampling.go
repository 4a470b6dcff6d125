// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package warehouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/indexit/core"
)

// DefaultSampleTarget is the number of sample rows collected per table.
const DefaultSampleTarget = 100

// Row-count thresholds for the sampling tiers.
const (
	orderedLimitThreshold = 1_000_000
	bernoulliThreshold    = 10_000_000
	systemRowsThreshold   = 50_000_000
)

// SamplingTier names a row-sampling strategy, ordered by cost of the
// machinery it needs from the warehouse. When the warehouse rejects a
// tier's query, sampling degrades to the next-simpler tier.
type SamplingTier int

const (
	TierFullScan SamplingTier = iota
	TierLimit
	TierOrderedLimit
	TierBernoulli
	TierSystemRows
)

func (t SamplingTier) String() string {
	switch t {
	case TierFullScan:
		return "full_scan"
	case TierLimit:
		return "limit"
	case TierOrderedLimit:
		return "ordered_limit"
	case TierBernoulli:
		return "bernoulli"
	case TierSystemRows:
		return "system_rows"
	default:
		return "unknown"
	}
}

// SelectTier picks the sampling strategy for a table's estimated row count.
// Tables at or below the target are scanned in full; beyond 50M rows the
// fixed-row-count clause keeps sampling cost flat regardless of scale.
func SelectTier(rowCount, target int64) SamplingTier {
	switch {
	case rowCount <= target:
		return TierFullScan
	case rowCount > systemRowsThreshold:
		return TierSystemRows
	case rowCount > bernoulliThreshold:
		return TierBernoulli
	case rowCount > orderedLimitThreshold:
		return TierOrderedLimit
	default:
		return TierLimit
	}
}

// simplerTier returns the next fallback strategy.
func simplerTier(t SamplingTier) (SamplingTier, bool) {
	switch t {
	case TierSystemRows:
		return TierBernoulli, true
	case TierBernoulli:
		return TierOrderedLimit, true
	case TierOrderedLimit:
		return TierLimit, true
	case TierLimit:
		return TierFullScan, true
	default:
		return t, false
	}
}

// SampleSQL renders the sampling query for a tier. orderColumn orders the
// ordered-limit tier; when empty the first column is used.
func SampleSQL(tier SamplingTier, schema, table, orderColumn string, rowCount, target int64) string {
	from := QualifiedTable(schema, table)
	switch tier {
	case TierFullScan:
		return fmt.Sprintf(`SELECT * FROM %s`, from)
	case TierOrderedLimit:
		order := "1"
		if orderColumn != "" {
			order = quoteIdent(orderColumn)
		}
		return fmt.Sprintf(`SELECT * FROM %s ORDER BY %s LIMIT %d`, from, order, target)
	case TierBernoulli:
		pct := float64(target) / float64(rowCount) * 100
		if pct < 0.0001 {
			pct = 0.0001
		}
		return fmt.Sprintf(`SELECT * FROM %s TABLESAMPLE BERNOULLI (%.4f) LIMIT %d`, from, pct, target)
	case TierSystemRows:
		return fmt.Sprintf(`SELECT * FROM %s TABLESAMPLE SYSTEM_ROWS (%d)`, from, target)
	default:
		return fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, from, target)
	}
}

// Sampler collects sample rows for tables, degrading through simpler tiers
// when the warehouse rejects a query.
type Sampler struct {
	client QueryClient
	target int64
	logger *slog.Logger
}

// NewSampler creates a sampler with the given per-table row target.
// A non-positive target uses DefaultSampleTarget.
func NewSampler(client QueryClient, target int64) (*Sampler, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if target <= 0 {
		target = DefaultSampleTarget
	}
	return &Sampler{
		client: client,
		target: target,
		logger: slog.Default().With("component", "table-sampler"),
	}, nil
}

// SampleRows fetches sample rows for the table, reporting which tier
// ultimately produced them.
func (s *Sampler) SampleRows(ctx context.Context, meta *core.TableMetadata) ([]map[string]any, SamplingTier, error) {
	tier := SelectTier(meta.RowCount, s.target)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, tier, err
		}

		query := SampleSQL(tier, meta.Schema, meta.Table, meta.PrimaryKeyColumn(), meta.RowCount, s.target)
		result, err := s.client.ExecuteQuery(ctx, meta.SourceID, query)
		if err == nil {
			rows := result.Rows
			if int64(len(rows)) > s.target {
				rows = rows[:s.target]
			}
			return rows, tier, nil
		}
		lastErr = err

		next, ok := simplerTier(tier)
		if !ok {
			return nil, tier, fmt.Errorf("%w (last: %w)", ErrNoSamplingTier, lastErr)
		}
		s.logger.Warn("sampling tier rejected, degrading",
			"table", meta.Table, "tier", tier.String(), "next", next.String(), "err", err)
		tier = next
	}
}
