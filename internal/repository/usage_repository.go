package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/CaptionStudio/internal/models"
)

// UsageRepository stores per-bucket counters with atomic upserts, so concurrent
// increments from several instances are never lost.
type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) IncrementUsage(ctx context.Context, bucket, email string, kind models.UsageKind) (models.UsageCounts, error) {
	var query string
	switch kind {
	case models.UsageCaption:
		query = `
INSERT INTO usage_counters (bucket, email, captions, images) VALUES (?, ?, 1, 0)
ON DUPLICATE KEY UPDATE captions = captions + 1`
	case models.UsageImage:
		query = `
INSERT INTO usage_counters (bucket, email, captions, images) VALUES (?, ?, 0, 1)
ON DUPLICATE KEY UPDATE images = images + 1`
	default:
		return models.UsageCounts{}, fmt.Errorf("unknown usage kind %q", kind)
	}
	if _, err := r.db.ExecContext(ctx, query, bucket, email); err != nil {
		return models.UsageCounts{}, fmt.Errorf("increment usage: %w", err)
	}
	return r.Usage(ctx, bucket, email)
}

func (r *UsageRepository) Usage(ctx context.Context, bucket, email string) (models.UsageCounts, error) {
	const query = `SELECT captions, images FROM usage_counters WHERE bucket = ? AND email = ?`
	var c models.UsageCounts
	if err := r.db.QueryRowContext(ctx, query, bucket, email).Scan(&c.Captions, &c.Images); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UsageCounts{}, nil
		}
		return models.UsageCounts{}, fmt.Errorf("scan usage: %w", err)
	}
	return c, nil
}

func (r *UsageRepository) UsageStats(ctx context.Context) (map[string]models.UsageCounts, error) {
	const query = `SELECT email, SUM(captions), SUM(images) FROM usage_counters GROUP BY email`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query usage stats: %w", err)
	}
	defer rows.Close()

	out := map[string]models.UsageCounts{}
	for rows.Next() {
		var email string
		var c models.UsageCounts
		if err := rows.Scan(&email, &c.Captions, &c.Images); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		out[email] = c
	}
	return out, rows.Err()
}

func (r *UsageRepository) Monthly(ctx context.Context) (map[string]map[string]models.UsageCounts, error) {
	const query = `SELECT bucket, email, captions, images FROM usage_counters`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query usage buckets: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]models.UsageCounts{}
	for rows.Next() {
		var bucket, email string
		var c models.UsageCounts
		if err := rows.Scan(&bucket, &email, &c.Captions, &c.Images); err != nil {
			return nil, fmt.Errorf("scan usage bucket: %w", err)
		}
		if out[bucket] == nil {
			out[bucket] = map[string]models.UsageCounts{}
		}
		out[bucket][email] = c
	}
	return out, rows.Err()
}
