// Package ledger keeps usage counters and LLM cost totals in flat JSON files.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/digkill/CaptionStudio/internal/models"
)

const (
	monthlyFile = "usage-monthly.json"
	statsFile   = "usage-stats.json"
	costFile    = "cost-stats.json"
)

// File is a read-modify-write ledger over three JSON files. The mutex serializes
// writers inside one process only; several processes sharing dir can still lose
// increments.
type File struct {
	dir string
	mu  sync.Mutex
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &File{dir: dir}, nil
}

type monthly map[string]map[string]models.UsageCounts

// IncrementUsage bumps one counter for email in bucket and in the all-time totals.
// It returns the bucket's counts after the increment.
func (f *File) IncrementUsage(ctx context.Context, bucket, email string, kind models.UsageKind) (models.UsageCounts, error) {
	if err := ctx.Err(); err != nil {
		return models.UsageCounts{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	m := monthly{}
	if err := f.read(monthlyFile, &m); err != nil {
		return models.UsageCounts{}, err
	}
	if m[bucket] == nil {
		m[bucket] = map[string]models.UsageCounts{}
	}
	counts := bump(m[bucket][email], kind)
	m[bucket][email] = counts
	if err := f.write(monthlyFile, m); err != nil {
		return models.UsageCounts{}, err
	}

	totals := map[string]models.UsageCounts{}
	if err := f.read(statsFile, &totals); err != nil {
		return models.UsageCounts{}, err
	}
	totals[email] = bump(totals[email], kind)
	if err := f.write(statsFile, totals); err != nil {
		return models.UsageCounts{}, err
	}
	return counts, nil
}

func (f *File) Usage(ctx context.Context, bucket, email string) (models.UsageCounts, error) {
	if err := ctx.Err(); err != nil {
		return models.UsageCounts{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	m := monthly{}
	if err := f.read(monthlyFile, &m); err != nil {
		return models.UsageCounts{}, err
	}
	return m[bucket][email], nil
}

func (f *File) UsageStats(ctx context.Context) (map[string]models.UsageCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	totals := map[string]models.UsageCounts{}
	if err := f.read(statsFile, &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func (f *File) Monthly(ctx context.Context) (map[string]map[string]models.UsageCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	m := monthly{}
	if err := f.read(monthlyFile, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *File) RecordCost(ctx context.Context, sample models.CostSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var agg models.CostAggregate
	if err := f.read(costFile, &agg); err != nil {
		return err
	}
	agg.Add(sample)
	return f.write(costFile, agg)
}

func (f *File) CostStats(ctx context.Context) (models.CostAggregate, error) {
	if err := ctx.Err(); err != nil {
		return models.CostAggregate{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var agg models.CostAggregate
	if err := f.read(costFile, &agg); err != nil {
		return models.CostAggregate{}, err
	}
	return agg, nil
}

func bump(c models.UsageCounts, kind models.UsageKind) models.UsageCounts {
	switch kind {
	case models.UsageCaption:
		c.Captions++
	case models.UsageImage:
		c.Images++
	}
	return c
}

// read decodes name into v. A missing or empty file leaves v untouched.
func (f *File) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// write replaces name through a temp file so readers never see a torn file.
func (f *File) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
