package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/CaptionStudio/internal/models"
)

type CostRepository struct {
	db *sql.DB
}

func NewCostRepository(db *sql.DB) *CostRepository {
	return &CostRepository{db: db}
}

func (r *CostRepository) RecordCost(ctx context.Context, s models.CostSample) error {
	const query = `
INSERT INTO cost_samples (model, user_email, prompt_tokens, completion_tokens, total_tokens, cost_usd)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, s.Model, s.User, s.PromptTokens, s.CompletionTokens, s.TotalTokens, s.CostUSD); err != nil {
		return fmt.Errorf("insert cost sample: %w", err)
	}
	return nil
}

func (r *CostRepository) CostStats(ctx context.Context) (models.CostAggregate, error) {
	agg := models.CostAggregate{
		ByModel: map[string]models.CostBucket{},
		ByUser:  map[string]models.CostBucket{},
	}

	const totals = `
SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
FROM cost_samples`
	if err := r.db.QueryRowContext(ctx, totals).Scan(&agg.Samples, &agg.SumPromptTokens, &agg.SumCompletionTokens, &agg.SumTotalTokens, &agg.SumCostUSD); err != nil {
		return models.CostAggregate{}, fmt.Errorf("scan cost totals: %w", err)
	}

	if err := r.groupBy(ctx, "model", agg.ByModel); err != nil {
		return models.CostAggregate{}, err
	}
	if err := r.groupBy(ctx, "user_email", agg.ByUser); err != nil {
		return models.CostAggregate{}, err
	}
	if b, ok := agg.ByUser[""]; ok {
		delete(agg.ByUser, "")
		agg.ByUser["anonymous"] = b
	}
	return agg, nil
}

// groupBy fills dst with per-column totals. column is always a literal from
// CostStats.
func (r *CostRepository) groupBy(ctx context.Context, column string, dst map[string]models.CostBucket) error {
	query := fmt.Sprintf(`
SELECT %s, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens), SUM(cost_usd)
FROM cost_samples GROUP BY %s`, column, column)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query cost by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var b models.CostBucket
		if err := rows.Scan(&key, &b.Samples, &b.PromptTokens, &b.CompletionTokens, &b.TotalTokens, &b.CostUSD); err != nil {
			return fmt.Errorf("scan cost by %s: %w", column, err)
		}
		dst[key] = b
	}
	return rows.Err()
}
